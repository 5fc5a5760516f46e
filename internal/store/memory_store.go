package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"librarian/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs the unit tests and mirrors
// the transactional contract: Transact serializes callers and rolls the data
// back on error, so the ledger's all-or-nothing semantics hold here too.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	users         map[string]domain.User
	emails        map[string]string // email -> user ID
	books         map[string]domain.Book
	loans         map[string]domain.Loan
	history       map[string][]domain.BorrowHistoryEntry
	notifications map[string][]domain.Notification
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		emails:        make(map[string]string),
		books:         make(map[string]domain.Book),
		loans:         make(map[string]domain.Loan),
		history:       make(map[string][]domain.BorrowHistoryEntry),
		notifications: make(map[string][]domain.Notification),
	}
}

// Transact serializes transactions and restores the pre-transaction snapshot
// when fn fails.
func (m *MemoryStore) Transact(_ context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snapshot := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users         map[string]domain.User
	emails        map[string]string
	books         map[string]domain.Book
	loans         map[string]domain.Loan
	history       map[string][]domain.BorrowHistoryEntry
	notifications map[string][]domain.Notification
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := memorySnapshot{
		users:         make(map[string]domain.User, len(m.users)),
		emails:        make(map[string]string, len(m.emails)),
		books:         make(map[string]domain.Book, len(m.books)),
		loans:         make(map[string]domain.Loan, len(m.loans)),
		history:       make(map[string][]domain.BorrowHistoryEntry, len(m.history)),
		notifications: make(map[string][]domain.Notification, len(m.notifications)),
	}
	for k, v := range m.users {
		snap.users[k] = v
	}
	for k, v := range m.emails {
		snap.emails[k] = v
	}
	for k, v := range m.books {
		snap.books[k] = v
	}
	for k, v := range m.loans {
		snap.loans[k] = v
	}
	for k, v := range m.history {
		snap.history[k] = append([]domain.BorrowHistoryEntry(nil), v...)
	}
	for k, v := range m.notifications {
		snap.notifications[k] = append([]domain.Notification(nil), v...)
	}
	return snap
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = snap.users
	m.emails = snap.emails
	m.books = snap.books
	m.loans = snap.loans
	m.history = snap.history
	m.notifications = snap.notifications
}

func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.emails[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserForUpdate(ctx context.Context, id string) (domain.User, bool, error) {
	return m.GetUser(ctx, id)
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.emails[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.emails[email]
	return ok, nil
}

func (m *MemoryStore) ListUsers(_ context.Context, f UserFilter, opts ListOptions) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opts = opts.Normalize()
	users := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if matchUser(u, f) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return paginate(users, opts), nil
}

func (m *MemoryStore) CountUsers(_ context.Context, f UserFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, u := range m.users {
		if matchUser(u, f) {
			count++
		}
	}
	return count, nil
}

func matchUser(u domain.User, f UserFilter) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.Status != "" && u.Status != f.Status {
		return false
	}
	return true
}

func (m *MemoryStore) SaveBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) GetBookForUpdate(ctx context.Context, id string) (domain.Book, bool, error) {
	return m.GetBook(ctx, id)
}

func (m *MemoryStore) ListBooks(_ context.Context, f BookFilter, opts ListOptions) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opts = opts.Normalize()
	books := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		if matchBook(b, f) {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool {
		return books[i].CreatedAt.After(books[j].CreatedAt)
	})
	return paginate(books, opts), nil
}

func (m *MemoryStore) CountBooks(_ context.Context, f BookFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, b := range m.books {
		if matchBook(b, f) {
			count++
		}
	}
	return count, nil
}

func matchBook(b domain.Book, f BookFilter) bool {
	if b.Deleted {
		return false
	}
	if f.AvailableOnly && b.AvailableCopies <= 0 {
		return false
	}
	if f.Category != "" && !containsFold(b.Categories, f.Category) {
		return false
	}
	if f.Author != "" && !containsFold(b.Authors, f.Author) {
		return false
	}
	return true
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) SaveLoan(_ context.Context, l domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[l.ID] = l
	return nil
}

func (m *MemoryStore) GetLoan(_ context.Context, id string) (domain.Loan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	return l, ok, nil
}

func (m *MemoryStore) GetLoanForUpdate(ctx context.Context, id string) (domain.Loan, bool, error) {
	return m.GetLoan(ctx, id)
}

func (m *MemoryStore) CountOpenLoans(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, l := range m.loans {
		if l.UserID == userID && loanOpen(l) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListOpenLoansByUser(_ context.Context, userID string) ([]domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loans := make([]domain.Loan, 0)
	for _, l := range m.loans {
		if l.UserID == userID && loanOpen(l) {
			loans = append(loans, l)
		}
	}
	sortLoansByBorrowDateDesc(loans)
	return loans, nil
}

func (m *MemoryStore) ListDueLoans(_ context.Context, asOf time.Time) ([]domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loans := make([]domain.Loan, 0)
	for _, l := range m.loans {
		if loanOpen(l) && l.ExpectedReturnDate.Before(asOf) {
			loans = append(loans, l)
		}
	}
	sort.Slice(loans, func(i, j int) bool {
		return loans[i].ExpectedReturnDate.Before(loans[j].ExpectedReturnDate)
	})
	return loans, nil
}

func (m *MemoryStore) ListLoans(_ context.Context, f LoanFilter, opts ListOptions) ([]domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opts = opts.Normalize()
	loans := make([]domain.Loan, 0)
	for _, l := range m.loans {
		if matchLoan(l, f) {
			loans = append(loans, l)
		}
	}
	sortLoansByBorrowDateDesc(loans)
	return paginate(loans, opts), nil
}

func (m *MemoryStore) CountLoans(_ context.Context, f LoanFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, l := range m.loans {
		if matchLoan(l, f) {
			count++
		}
	}
	return count, nil
}

func matchLoan(l domain.Loan, f LoanFilter) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.UserID != "" && l.UserID != f.UserID {
		return false
	}
	if f.BookID != "" && l.BookID != f.BookID {
		return false
	}
	return true
}

func loanOpen(l domain.Loan) bool {
	return l.Status == domain.LoanActive || l.Status == domain.LoanOverdue
}

func sortLoansByBorrowDateDesc(loans []domain.Loan) {
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].BorrowDate.Equal(loans[j].BorrowDate) {
			return loans[i].ID < loans[j].ID
		}
		return loans[i].BorrowDate.After(loans[j].BorrowDate)
	})
}

func (m *MemoryStore) AppendBorrowHistory(_ context.Context, userID string, e domain.BorrowHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[userID] = append(m.history[userID], e)
	return nil
}

func (m *MemoryStore) CloseBorrowHistory(_ context.Context, userID, loanID string, returnedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[userID]
	for i := range entries {
		if entries[i].LoanID == loanID {
			t := returnedAt
			entries[i].ReturnDate = &t
		}
	}
	return nil
}

func (m *MemoryStore) ListBorrowHistory(_ context.Context, userID string) ([]domain.BorrowHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.BorrowHistoryEntry(nil), m.history[userID]...), nil
}

func (m *MemoryStore) SaveNotification(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.UserID] = append(m.notifications[n.UserID], n)
	return nil
}

func (m *MemoryStore) ListNotificationsByUser(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	out := append([]domain.Notification(nil), m.notifications[userID]...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) BookCopyTotals(_ context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total, available int64
	for _, b := range m.books {
		if b.Deleted {
			continue
		}
		total += int64(b.TotalCopies)
		available += int64(b.AvailableCopies)
	}
	return total, available, nil
}

func (m *MemoryStore) SumOutstandingFines(_ context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	for _, u := range m.users {
		sum += u.CurrentFines
	}
	return sum, nil
}

func (m *MemoryStore) CountUsersWithFines(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, u := range m.users {
		if u.CurrentFines > 0 {
			count++
		}
	}
	return count, nil
}

func paginate[T any](items []T, opts ListOptions) []T {
	start := opts.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + opts.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
