package store

import (
	"context"
	"time"

	"librarian/pkg/domain"
)

// ListOptions is the shared pagination input. Page is 1-based.
type ListOptions struct {
	Page  int
	Limit int
}

func (o ListOptions) Normalize() ListOptions {
	if o.Page <= 0 {
		o.Page = 1
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	return o
}

func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// LoanFilter narrows loan listings.
type LoanFilter struct {
	Status domain.LoanStatus
	UserID string
	BookID string
}

// BookFilter narrows catalog listings. Deleted books are always excluded.
type BookFilter struct {
	Category      string
	Author        string
	AvailableOnly bool
}

// UserFilter narrows user listings.
type UserFilter struct {
	Role   domain.UserRole
	Status domain.UserStatus
}

// Store is the persistence boundary. Transact runs fn against a store bound to
// a single transaction; every mutation of availableCopies, currentFines and
// loan state goes through it so the three-way updates commit or abort as one.
// The ForUpdate getters take row locks and are only meaningful inside Transact.
type Store interface {
	Transact(ctx context.Context, fn func(tx Store) error) error

	SaveUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	GetUserForUpdate(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	HasUserEmail(ctx context.Context, email string) (bool, error)
	ListUsers(ctx context.Context, f UserFilter, opts ListOptions) ([]domain.User, error)
	CountUsers(ctx context.Context, f UserFilter) (int64, error)

	SaveBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	GetBookForUpdate(ctx context.Context, id string) (domain.Book, bool, error)
	ListBooks(ctx context.Context, f BookFilter, opts ListOptions) ([]domain.Book, error)
	CountBooks(ctx context.Context, f BookFilter) (int64, error)

	SaveLoan(ctx context.Context, l domain.Loan) error
	GetLoan(ctx context.Context, id string) (domain.Loan, bool, error)
	GetLoanForUpdate(ctx context.Context, id string) (domain.Loan, bool, error)
	// CountOpenLoans counts a user's loans in {active, overdue}.
	CountOpenLoans(ctx context.Context, userID string) (int64, error)
	ListOpenLoansByUser(ctx context.Context, userID string) ([]domain.Loan, error)
	// ListDueLoans returns unreturned loans whose due date passed asOf.
	ListDueLoans(ctx context.Context, asOf time.Time) ([]domain.Loan, error)
	ListLoans(ctx context.Context, f LoanFilter, opts ListOptions) ([]domain.Loan, error)
	CountLoans(ctx context.Context, f LoanFilter) (int64, error)

	AppendBorrowHistory(ctx context.Context, userID string, e domain.BorrowHistoryEntry) error
	CloseBorrowHistory(ctx context.Context, userID, loanID string, returnedAt time.Time) error
	ListBorrowHistory(ctx context.Context, userID string) ([]domain.BorrowHistoryEntry, error)

	SaveNotification(ctx context.Context, n domain.Notification) error
	ListNotificationsByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error)

	// Aggregates for the statistics report.
	BookCopyTotals(ctx context.Context) (total int64, available int64, err error)
	SumOutstandingFines(ctx context.Context) (float64, error)
	CountUsersWithFines(ctx context.Context) (int64, error)
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
