// Package app implements the library's application core: accounts, the book
// catalog, the loan ledger and the statistics report. Handlers stay thin and
// call into this package; all persistence goes through the store boundary.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"librarian/internal/store"
	"librarian/pkg/auth"
	"librarian/pkg/domain"
)

const defaultTxTimeout = 5 * time.Second

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// CoverStore persists book cover images.
type CoverStore interface {
	SaveCover(ctx context.Context, bookID string, r io.Reader, size int64, contentType string) (string, error)
	CoverURL(ctx context.Context, key string) (string, error)
	DeleteCover(ctx context.Context, key string) error
}

// LoanEvent describes a change in the loan ledger, published after commit so
// the notification worker can fan out messages.
type LoanEvent struct {
	Kind      string    `json:"kind"`
	LoanID    string    `json:"loanId"`
	UserID    string    `json:"userId"`
	BookID    string    `json:"bookId"`
	BookTitle string    `json:"bookTitle"`
	DueDate   time.Time `json:"dueDate"`
	Fine      float64   `json:"fine,omitempty"`
}

// Loan event kinds.
const (
	EventLoanCreated  = "loan.created"
	EventLoanReturned = "loan.returned"
	EventLoanRenewed  = "loan.renewed"
	EventLoanOverdue  = "loan.overdue"
)

// EventPublisher delivers loan events to the notification pipeline.
type EventPublisher interface {
	PublishLoanEvent(ctx context.Context, e LoanEvent) error
}

// Options configures an App. Covers and Events are optional; without them
// cover uploads are rejected and events are dropped.
type Options struct {
	Store     store.Store
	Sessions  store.SessionStore
	Covers    CoverStore
	Events    EventPublisher
	Policy    domain.LoanPolicy
	TxTimeout time.Duration
}

// App carries the application state and implements every operation.
type App struct {
	store     store.Store
	sessions  store.SessionStore
	covers    CoverStore
	events    EventPublisher
	policy    domain.LoanPolicy
	txTimeout time.Duration
}

// New builds an App. A zero Policy falls back to the default circulation
// policy.
func New(opts Options) *App {
	policy := opts.Policy
	if policy.LoanDays <= 0 {
		policy = domain.DefaultLoanPolicy()
	}
	txTimeout := opts.TxTimeout
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &App{
		store:     opts.Store,
		sessions:  opts.Sessions,
		covers:    opts.Covers,
		events:    opts.Events,
		policy:    policy,
		txTimeout: txTimeout,
	}
}

// Policy returns the circulation policy in effect.
func (a *App) Policy() domain.LoanPolicy { return a.policy }

// inLedgerTx runs fn in a store transaction with a deadline, mapping
// contention aborts to ErrTxConflict and retrying them a bounded number of
// times. Ledger mutations (copies, fines, loan state) all go through here.
func (a *App) inLedgerTx(ctx context.Context, fn func(tx store.Store) error) error {
	return retryTx(ctx, func(ctx context.Context) error {
		txCtx, cancel := context.WithTimeout(ctx, a.txTimeout)
		defer cancel()
		err := a.store.Transact(txCtx, fn)
		if err == nil {
			return nil
		}
		if store.IsConflict(err) {
			return fmt.Errorf("ledger transaction aborted: %w", ErrTxConflict)
		}
		if txCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("ledger transaction timed out: %w", ErrTxConflict)
		}
		return err
	})
}

// publish sends a loan event best-effort. The ledger change is already
// committed, so a delivery failure is logged and swallowed.
func (a *App) publish(ctx context.Context, e LoanEvent) {
	if a.events == nil {
		return
	}
	if err := a.events.PublishLoanEvent(ctx, e); err != nil {
		slog.Warn("loan event publish failed", "kind", e.Kind, "loan_id", e.LoanID, "error", err)
	}
}

// RegisterInput is the self-service signup payload.
type RegisterInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Phone     string `json:"phone"`
}

// Register creates a student account and opens a session.
func (a *App) Register(ctx context.Context, in RegisterInput) (domain.User, string, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.FirstName == "" || in.LastName == "" {
		return domain.User{}, "", fmt.Errorf("%w: first and last name are required", ErrInvalidArgument)
	}
	if !emailPattern.MatchString(in.Email) {
		return domain.User{}, "", fmt.Errorf("%w: invalid email address", ErrInvalidArgument)
	}
	if len(in.Password) < 6 {
		return domain.User{}, "", fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidArgument)
	}

	taken, err := a.store.HasUserEmail(ctx, in.Email)
	if err != nil {
		return domain.User{}, "", err
	}
	if taken {
		return domain.User{}, "", ErrEmailTaken
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, "", err
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:               store.NewID(),
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Email:            in.Email,
		PasswordHash:     hash,
		Role:             domain.RoleStudent,
		Status:           domain.StatusActive,
		Phone:            strings.TrimSpace(in.Phone),
		RegistrationDate: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		return domain.User{}, "", err
	}

	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	slog.Info("user registered", "user_id", user.ID, "email", user.Email)
	return user, token, nil
}

// Login verifies credentials and opens a session. Deleted accounts behave as
// if they do not exist.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok || user.Status == domain.StatusDeleted {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

// Logout revokes the session token.
func (a *App) Logout(ctx context.Context, token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a session token to its user.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok || user.Status == domain.StatusDeleted {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}
