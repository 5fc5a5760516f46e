package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"librarian/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&UserModel{},
		&BookModel{},
		&LoanModel{},
		&BorrowHistoryModel{},
		&NotificationModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Transact runs fn against a transaction-bound store. Serialization failures
// and deadlocks surface as errors satisfying IsConflict.
func (s *GormStore) Transact(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// IsConflict reports whether err is a transient transaction conflict worth
// retrying (Postgres serialization failure, deadlock, or lock timeout).
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

// SaveUser inserts or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"first_name", "last_name", "email", "password_hash", "role",
			"status", "current_fines", "phone", "address", "updated_at",
		}),
	}).Create(&model).Error
}

func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	return s.getUser(ctx, id, false)
}

func (s *GormStore) GetUserForUpdate(ctx context.Context, id string) (domain.User, bool, error) {
	return s.getUser(ctx, id, true)
}

func (s *GormStore) getUser(ctx context.Context, id string, lock bool) (domain.User, bool, error) {
	var model UserModel
	tx := s.db.WithContext(ctx)
	if lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := tx.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) ListUsers(ctx context.Context, f UserFilter, opts ListOptions) ([]domain.User, error) {
	opts = opts.Normalize()
	var models []UserModel
	tx := s.userQuery(ctx, f).
		Order("created_at DESC").
		Limit(opts.Limit).
		Offset(opts.Offset())
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(models))
	for _, m := range models {
		users = append(users, userFromModel(m))
	}
	return users, nil
}

func (s *GormStore) CountUsers(ctx context.Context, f UserFilter) (int64, error) {
	var count int64
	if err := s.userQuery(ctx, f).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GormStore) userQuery(ctx context.Context, f UserFilter) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&UserModel{})
	if f.Role != "" {
		tx = tx.Where("role = ?", string(f.Role))
	}
	if f.Status != "" {
		tx = tx.Where("status = ?", string(f.Status))
	}
	return tx
}

// SaveBook inserts or updates a book.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"isbn", "title", "subtitle", "authors", "categories",
			"total_copies", "available_copies", "publisher", "publication_date",
			"pages", "language", "summary", "cover_key", "deleted", "updated_at",
		}),
	}).Create(&model).Error
}

func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	return s.getBook(ctx, id, false)
}

func (s *GormStore) GetBookForUpdate(ctx context.Context, id string) (domain.Book, bool, error) {
	return s.getBook(ctx, id, true)
}

func (s *GormStore) getBook(ctx context.Context, id string, lock bool) (domain.Book, bool, error) {
	var model BookModel
	tx := s.db.WithContext(ctx)
	if lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := tx.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

func (s *GormStore) ListBooks(ctx context.Context, f BookFilter, opts ListOptions) ([]domain.Book, error) {
	opts = opts.Normalize()
	var models []BookModel
	tx := s.bookQuery(ctx, f).
		Order("created_at DESC").
		Limit(opts.Limit).
		Offset(opts.Offset())
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(models))
	for _, m := range models {
		books = append(books, bookFromModel(m))
	}
	return books, nil
}

func (s *GormStore) CountBooks(ctx context.Context, f BookFilter) (int64, error) {
	var count int64
	if err := s.bookQuery(ctx, f).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GormStore) bookQuery(ctx context.Context, f BookFilter) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&BookModel{}).Where("deleted = ?", false)
	if f.Category != "" {
		tx = tx.Where("categories @> ?", jsonArray(f.Category))
	}
	if f.Author != "" {
		tx = tx.Where("authors @> ?", jsonArray(f.Author))
	}
	if f.AvailableOnly {
		tx = tx.Where("available_copies > 0")
	}
	return tx
}

func jsonArray(value string) string {
	raw, _ := json.Marshal([]string{value})
	return string(raw)
}

// SaveLoan inserts or updates a loan.
func (s *GormStore) SaveLoan(ctx context.Context, l domain.Loan) error {
	model := loanToModel(l)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"expected_return_date", "actual_return_date", "status",
			"renewal_count", "fine_amount", "fine_charged", "notes", "updated_at",
		}),
	}).Create(&model).Error
}

func (s *GormStore) GetLoan(ctx context.Context, id string) (domain.Loan, bool, error) {
	return s.getLoan(ctx, id, false)
}

func (s *GormStore) GetLoanForUpdate(ctx context.Context, id string) (domain.Loan, bool, error) {
	return s.getLoan(ctx, id, true)
}

func (s *GormStore) getLoan(ctx context.Context, id string, lock bool) (domain.Loan, bool, error) {
	var model LoanModel
	tx := s.db.WithContext(ctx)
	if lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := tx.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Loan{}, false, nil
		}
		return domain.Loan{}, false, err
	}
	return loanFromModel(model), true, nil
}

func (s *GormStore) CountOpenLoans(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&LoanModel{}).
		Where("user_id = ? AND status IN ?", userID, openLoanStatuses()).
		Count(&count).Error
	return count, err
}

func (s *GormStore) ListOpenLoansByUser(ctx context.Context, userID string) ([]domain.Loan, error) {
	var models []LoanModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, openLoanStatuses()).
		Order("borrow_date DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return loansFromModels(models), nil
}

func (s *GormStore) ListDueLoans(ctx context.Context, asOf time.Time) ([]domain.Loan, error) {
	var models []LoanModel
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expected_return_date < ?", openLoanStatuses(), asOf).
		Order("expected_return_date ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return loansFromModels(models), nil
}

func (s *GormStore) ListLoans(ctx context.Context, f LoanFilter, opts ListOptions) ([]domain.Loan, error) {
	opts = opts.Normalize()
	var models []LoanModel
	tx := s.loanQuery(ctx, f).
		Order("borrow_date DESC").
		Limit(opts.Limit).
		Offset(opts.Offset())
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return loansFromModels(models), nil
}

func (s *GormStore) CountLoans(ctx context.Context, f LoanFilter) (int64, error) {
	var count int64
	if err := s.loanQuery(ctx, f).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GormStore) loanQuery(ctx context.Context, f LoanFilter) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&LoanModel{})
	if f.Status != "" {
		tx = tx.Where("status = ?", string(f.Status))
	}
	if f.UserID != "" {
		tx = tx.Where("user_id = ?", f.UserID)
	}
	if f.BookID != "" {
		tx = tx.Where("book_id = ?", f.BookID)
	}
	return tx
}

func openLoanStatuses() []string {
	return []string{string(domain.LoanActive), string(domain.LoanOverdue)}
}

func (s *GormStore) AppendBorrowHistory(ctx context.Context, userID string, e domain.BorrowHistoryEntry) error {
	model := BorrowHistoryModel{
		UserID:     userID,
		LoanID:     e.LoanID,
		BorrowDate: e.BorrowDate,
		ReturnDate: e.ReturnDate,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) CloseBorrowHistory(ctx context.Context, userID, loanID string, returnedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&BorrowHistoryModel{}).
		Where("user_id = ? AND loan_id = ?", userID, loanID).
		Update("return_date", returnedAt).Error
}

func (s *GormStore) ListBorrowHistory(ctx context.Context, userID string) ([]domain.BorrowHistoryEntry, error) {
	var models []BorrowHistoryModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("borrow_date ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	entries := make([]domain.BorrowHistoryEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, domain.BorrowHistoryEntry{
			LoanID:     m.LoanID,
			BorrowDate: m.BorrowDate,
			ReturnDate: m.ReturnDate,
		})
	}
	return entries, nil
}

func (s *GormStore) SaveNotification(ctx context.Context, n domain.Notification) error {
	model := NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Kind:      n.Kind,
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListNotificationsByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []NotificationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Notification{
			ID:        m.ID,
			UserID:    m.UserID,
			Kind:      m.Kind,
			Message:   m.Message,
			Read:      m.Read,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) BookCopyTotals(ctx context.Context) (int64, int64, error) {
	var totals struct {
		Total     int64
		Available int64
	}
	err := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("deleted = ?", false).
		Select("COALESCE(SUM(total_copies), 0) AS total, COALESCE(SUM(available_copies), 0) AS available").
		Scan(&totals).Error
	if err != nil {
		return 0, 0, err
	}
	return totals.Total, totals.Available, nil
}

func (s *GormStore) SumOutstandingFines(ctx context.Context) (float64, error) {
	var sum float64
	err := s.db.WithContext(ctx).Model(&UserModel{}).
		Select("COALESCE(SUM(current_fines), 0)").
		Scan(&sum).Error
	return sum, err
}

func (s *GormStore) CountUsersWithFines(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("current_fines > 0").
		Count(&count).Error
	return count, err
}

func userToModel(u domain.User) UserModel {
	var address []byte
	if u.Address != nil {
		address, _ = json.Marshal(u.Address)
	}
	return UserModel{
		ID:               u.ID,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Email:            u.Email,
		PasswordHash:     u.PasswordHash,
		Role:             string(u.Role),
		Status:           string(u.Status),
		CurrentFines:     u.CurrentFines,
		Phone:            u.Phone,
		Address:          address,
		RegistrationDate: u.RegistrationDate,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	var address *domain.Address
	if len(m.Address) > 0 {
		address = &domain.Address{}
		_ = json.Unmarshal(m.Address, address)
	}
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:               m.ID,
		FirstName:        m.FirstName,
		LastName:         m.LastName,
		Email:            m.Email,
		PasswordHash:     m.PasswordHash,
		Role:             domain.UserRole(m.Role),
		Status:           status,
		CurrentFines:     m.CurrentFines,
		Phone:            m.Phone,
		Address:          address,
		RegistrationDate: m.RegistrationDate,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	authors, _ := json.Marshal(b.Authors)
	categories, _ := json.Marshal(b.Categories)
	return BookModel{
		ID:              b.ID,
		ISBN:            b.ISBN,
		Title:           b.Title,
		Subtitle:        b.Subtitle,
		Authors:         authors,
		Categories:      categories,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		Publisher:       b.Publisher,
		PublicationDate: b.PublicationDate,
		Pages:           b.Pages,
		Language:        b.Language,
		Summary:         b.Summary,
		CoverKey:        b.CoverKey,
		Deleted:         b.Deleted,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	var authors, categories []string
	if len(m.Authors) > 0 {
		_ = json.Unmarshal(m.Authors, &authors)
	}
	if len(m.Categories) > 0 {
		_ = json.Unmarshal(m.Categories, &categories)
	}
	return domain.Book{
		ID:              m.ID,
		ISBN:            m.ISBN,
		Title:           m.Title,
		Subtitle:        m.Subtitle,
		Authors:         authors,
		Categories:      categories,
		TotalCopies:     m.TotalCopies,
		AvailableCopies: m.AvailableCopies,
		Publisher:       m.Publisher,
		PublicationDate: m.PublicationDate,
		Pages:           m.Pages,
		Language:        m.Language,
		Summary:         m.Summary,
		CoverKey:        m.CoverKey,
		Deleted:         m.Deleted,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func loanToModel(l domain.Loan) LoanModel {
	return LoanModel{
		ID:                 l.ID,
		BookID:             l.BookID,
		UserID:             l.UserID,
		BorrowDate:         l.BorrowDate,
		ExpectedReturnDate: l.ExpectedReturnDate,
		ActualReturnDate:   l.ActualReturnDate,
		Status:             string(l.Status),
		RenewalCount:       l.RenewalCount,
		FineAmount:         l.FineAmount,
		FineCharged:        l.FineCharged,
		Notes:              l.Notes,
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

func loanFromModel(m LoanModel) domain.Loan {
	return domain.Loan{
		ID:                 m.ID,
		BookID:             m.BookID,
		UserID:             m.UserID,
		BorrowDate:         m.BorrowDate,
		ExpectedReturnDate: m.ExpectedReturnDate,
		ActualReturnDate:   m.ActualReturnDate,
		Status:             domain.LoanStatus(m.Status),
		RenewalCount:       m.RenewalCount,
		FineAmount:         m.FineAmount,
		FineCharged:        m.FineCharged,
		Notes:              m.Notes,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func loansFromModels(models []LoanModel) []domain.Loan {
	loans := make([]domain.Loan, 0, len(models))
	for _, m := range models {
		loans = append(loans, loanFromModel(m))
	}
	return loans
}
