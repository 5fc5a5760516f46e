package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

// Profile returns a user with fines current and their borrow history.
func (a *App) Profile(ctx context.Context, userID string) (domain.User, []domain.BorrowHistoryEntry, error) {
	a.refreshDueLoans(ctx, userID)
	user, ok, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, nil, err
	}
	if !ok || user.Status == domain.StatusDeleted {
		return domain.User{}, nil, ErrUserNotFound
	}
	history, err := a.store.ListBorrowHistory(ctx, userID)
	if err != nil {
		return domain.User{}, nil, err
	}
	return user, history, nil
}

// UpdateProfileInput carries the self-service editable fields; nil fields are
// untouched. Role, status and fines are never writable here.
type UpdateProfileInput struct {
	FirstName *string         `json:"firstName"`
	LastName  *string         `json:"lastName"`
	Phone     *string         `json:"phone"`
	Address   *domain.Address `json:"address"`
}

// UpdateProfile applies a partial profile edit for the user themselves.
func (a *App) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (domain.User, error) {
	var user domain.User
	err := a.inLedgerTx(ctx, func(tx store.Store) error {
		var ok bool
		var err error
		user, ok, err = tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !ok || user.Status == domain.StatusDeleted {
			return ErrUserNotFound
		}
		if in.FirstName != nil {
			if strings.TrimSpace(*in.FirstName) == "" {
				return fmt.Errorf("%w: firstName cannot be empty", ErrInvalidArgument)
			}
			user.FirstName = strings.TrimSpace(*in.FirstName)
		}
		if in.LastName != nil {
			if strings.TrimSpace(*in.LastName) == "" {
				return fmt.Errorf("%w: lastName cannot be empty", ErrInvalidArgument)
			}
			user.LastName = strings.TrimSpace(*in.LastName)
		}
		if in.Phone != nil {
			user.Phone = strings.TrimSpace(*in.Phone)
		}
		if in.Address != nil {
			user.Address = in.Address
		}
		user.UpdatedAt = time.Now().UTC()
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// ListUsers returns accounts matching the filter, paginated. Admin only; the
// handler enforces that.
func (a *App) ListUsers(ctx context.Context, f store.UserFilter, opts store.ListOptions) ([]domain.User, int64, error) {
	opts = opts.Normalize()
	users, err := a.store.ListUsers(ctx, f, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := a.store.CountUsers(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// GetUserByID returns an account for staff views.
func (a *App) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	user, ok, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// SetUserStatus suspends, reactivates or soft-deletes an account.
func (a *App) SetUserStatus(ctx context.Context, userID string, status domain.UserStatus) (domain.User, error) {
	switch status {
	case domain.StatusActive, domain.StatusSuspended, domain.StatusDeleted:
	default:
		return domain.User{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	var user domain.User
	err := a.inLedgerTx(ctx, func(tx store.Store) error {
		var ok bool
		var err error
		user, ok, err = tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserNotFound
		}
		user.Status = status
		user.UpdatedAt = time.Now().UTC()
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return domain.User{}, err
	}
	slog.Info("user status changed", "user_id", userID, "status", status)
	return user, nil
}

// PayFine subtracts a payment from the user's outstanding balance. The sweep
// runs first so the balance reflects any fines accrued since the last touch.
// Repeated identical calls over-subtract; callers must dedupe their retries.
func (a *App) PayFine(ctx context.Context, userID string, amount float64) (domain.User, error) {
	a.refreshDueLoans(ctx, userID)
	var user domain.User
	err := a.inLedgerTx(ctx, func(tx store.Store) error {
		var ok bool
		var err error
		user, ok, err = tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !ok || user.Status == domain.StatusDeleted {
			return ErrUserNotFound
		}
		if amount <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
		}
		if amount > user.CurrentFines {
			return fmt.Errorf("%w: amount exceeds balance due", ErrInvalidArgument)
		}
		user.CurrentFines -= amount
		user.UpdatedAt = time.Now().UTC()
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return domain.User{}, err
	}
	slog.Info("fine paid", "user_id", userID, "amount", amount, "remaining", user.CurrentFines)
	return user, nil
}

// Notifications returns the user's most recent notifications.
func (a *App) Notifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return a.store.ListNotificationsByUser(ctx, userID, limit)
}
