package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

// daysLate counts whole days between the due date and now, rounding down.
func daysLate(now, due time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / (24 * time.Hour))
}

// refreshOverdue reclassifies an open loan against now: active loans past due
// flip to overdue, and the fine is recomputed from days late. Only the delta
// over what was already charged lands on the borrower's balance, so repeated
// evaluations never double-charge. Must run inside a transaction with the
// loan row locked; persists the loan (and user) when anything changed.
func (a *App) refreshOverdue(ctx context.Context, tx store.Store, loan *domain.Loan, now time.Time) error {
	if loan.Status == domain.LoanReturned {
		return nil
	}
	if !loan.ExpectedReturnDate.Before(now) {
		return nil
	}
	changed := false
	if loan.Status == domain.LoanActive {
		loan.Status = domain.LoanOverdue
		changed = true
	}
	if fine := float64(daysLate(now, loan.ExpectedReturnDate)) * a.policy.FinePerDay; fine > loan.FineAmount {
		loan.FineAmount = fine
		changed = true
	}
	if delta := loan.FineAmount - loan.FineCharged; delta > 0 {
		user, ok, err := tx.GetUserForUpdate(ctx, loan.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: loan %s references missing user %s", ErrIntegrity, loan.ID, loan.UserID)
		}
		user.CurrentFines += delta
		user.UpdatedAt = now
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}
		loan.FineCharged = loan.FineAmount
		changed = true
	}
	if !changed {
		return nil
	}
	loan.UpdatedAt = now
	return tx.SaveLoan(ctx, *loan)
}

// CreateLoan borrows a book for the acting user. Availability check, copy
// decrement, loan creation and history append commit as one transaction;
// under contention on the last copy exactly one borrower wins.
func (a *App) CreateLoan(ctx context.Context, actor domain.User, bookID string) (domain.Loan, error) {
	var loan domain.Loan
	var bookTitle string
	err := a.inLedgerTx(ctx, func(tx store.Store) error {
		now := time.Now().UTC()

		book, ok, err := tx.GetBookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		if !ok || book.Deleted {
			return ErrBookNotFound
		}
		if book.AvailableCopies <= 0 {
			return ErrNoCopies
		}
		if book.AvailableCopies > book.TotalCopies {
			return fmt.Errorf("%w: book %s has %d available of %d total", ErrIntegrity, book.ID, book.AvailableCopies, book.TotalCopies)
		}

		user, ok, err := tx.GetUserForUpdate(ctx, actor.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserNotFound
		}
		if user.Status != domain.StatusActive {
			return fmt.Errorf("%w: account is %s", ErrCannotBorrow, user.Status)
		}
		if user.CurrentFines > 0 {
			return fmt.Errorf("%w: unpaid fines of %.2f", ErrCannotBorrow, user.CurrentFines)
		}

		open, err := tx.CountOpenLoans(ctx, user.ID)
		if err != nil {
			return err
		}
		if open >= int64(a.policy.MaxActiveLoans) {
			return fmt.Errorf("%w: %d loans already open", ErrLoanLimit, open)
		}

		loan = domain.Loan{
			ID:                 store.NewID(),
			BookID:             book.ID,
			UserID:             user.ID,
			BorrowDate:         now,
			ExpectedReturnDate: now.AddDate(0, 0, a.policy.LoanDays),
			Status:             domain.LoanActive,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		book.AvailableCopies--
		book.UpdatedAt = now
		bookTitle = book.Title

		if err := tx.SaveBook(ctx, book); err != nil {
			return err
		}
		if err := tx.SaveLoan(ctx, loan); err != nil {
			return err
		}
		return tx.AppendBorrowHistory(ctx, user.ID, domain.BorrowHistoryEntry{
			LoanID:     loan.ID,
			BorrowDate: now,
		})
	})
	if err != nil {
		return domain.Loan{}, err
	}
	slog.Info("loan created", "loan_id", loan.ID, "user_id", loan.UserID, "book_id", loan.BookID)
	a.publish(ctx, LoanEvent{
		Kind:      EventLoanCreated,
		LoanID:    loan.ID,
		UserID:    loan.UserID,
		BookID:    loan.BookID,
		BookTitle: bookTitle,
		DueDate:   loan.ExpectedReturnDate,
	})
	return loan, nil
}

// ReturnLoan closes a loan: assesses any late fine, restores the copy and
// stamps the borrow history, all in one transaction. The borrower or an
// elevated role may return.
func (a *App) ReturnLoan(ctx context.Context, actor domain.User, loanID string) (domain.Loan, error) {
	var loan domain.Loan
	var bookTitle string
	err := a.inLedgerTx(ctx, func(tx store.Store) error {
		now := time.Now().UTC()

		var ok bool
		var err error
		loan, ok, err = tx.GetLoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLoanNotFound
		}
		if actor.ID != loan.UserID && !actor.Role.Elevated() {
			return ErrForbidden
		}
		if loan.Status == domain.LoanReturned {
			return ErrAlreadyReturned
		}

		loan.ActualReturnDate = &now
		if fine := float64(daysLate(now, loan.ExpectedReturnDate)) * a.policy.FinePerDay; fine > loan.FineAmount {
			loan.FineAmount = fine
		}
		loan.Status = domain.LoanReturned
		loan.UpdatedAt = now

		book, ok, err := tx.GetBookForUpdate(ctx, loan.BookID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: loan %s references missing book %s", ErrIntegrity, loan.ID, loan.BookID)
		}
		if book.AvailableCopies+1 > book.TotalCopies {
			return fmt.Errorf("%w: returning loan %s would exceed %d copies of book %s", ErrIntegrity, loan.ID, book.TotalCopies, book.ID)
		}
		book.AvailableCopies++
		book.UpdatedAt = now
		bookTitle = book.Title

		if delta := loan.FineAmount - loan.FineCharged; delta > 0 {
			user, ok, err := tx.GetUserForUpdate(ctx, loan.UserID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: loan %s references missing user %s", ErrIntegrity, loan.ID, loan.UserID)
			}
			user.CurrentFines += delta
			user.UpdatedAt = now
			if err := tx.SaveUser(ctx, user); err != nil {
				return err
			}
			loan.FineCharged = loan.FineAmount
		}

		if err := tx.SaveLoan(ctx, loan); err != nil {
			return err
		}
		if err := tx.SaveBook(ctx, book); err != nil {
			return err
		}
		return tx.CloseBorrowHistory(ctx, loan.UserID, loan.ID, now)
	})
	if err != nil {
		return domain.Loan{}, err
	}
	slog.Info("loan returned", "loan_id", loan.ID, "user_id", loan.UserID, "fine", loan.FineAmount)
	a.publish(ctx, LoanEvent{
		Kind:      EventLoanReturned,
		LoanID:    loan.ID,
		UserID:    loan.UserID,
		BookID:    loan.BookID,
		BookTitle: bookTitle,
		DueDate:   loan.ExpectedReturnDate,
		Fine:      loan.FineAmount,
	})
	return loan, nil
}

// RenewLoan extends the due date from the current due date, not from now.
// Only the borrower may renew, only while the loan is still active, and only
// up to the renewal cap. The overdue sweep runs in its own transaction first
// so a rejected renew cannot roll back a legitimate fine charge.
func (a *App) RenewLoan(ctx context.Context, actor domain.User, loanID string) (domain.Loan, error) {
	a.refreshDueLoans(ctx, actor.ID)
	var loan domain.Loan
	err := a.inLedgerTx(ctx, func(tx store.Store) error {
		now := time.Now().UTC()

		var ok bool
		var err error
		loan, ok, err = tx.GetLoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLoanNotFound
		}
		if actor.ID != loan.UserID {
			return ErrForbidden
		}
		if loan.Status != domain.LoanActive || loan.ExpectedReturnDate.Before(now) {
			return fmt.Errorf("%w: loan is %s", ErrNotRenewable, loan.Status)
		}
		if loan.RenewalCount >= a.policy.MaxRenewals {
			return fmt.Errorf("%w: %d renewals used", ErrRenewalLimit, loan.RenewalCount)
		}

		loan.RenewalCount++
		loan.ExpectedReturnDate = loan.ExpectedReturnDate.AddDate(0, 0, a.policy.RenewalDays)
		loan.UpdatedAt = now
		return tx.SaveLoan(ctx, loan)
	})
	if err != nil {
		return domain.Loan{}, err
	}
	slog.Info("loan renewed", "loan_id", loan.ID, "renewal_count", loan.RenewalCount, "due", loan.ExpectedReturnDate)
	a.publish(ctx, LoanEvent{
		Kind:    EventLoanRenewed,
		LoanID:  loan.ID,
		UserID:  loan.UserID,
		BookID:  loan.BookID,
		DueDate: loan.ExpectedReturnDate,
	})
	return loan, nil
}

// refreshDueLoans sweeps loans past their due date, applying the overdue
// reclassification in one small transaction per loan. Read projections call
// this first so status and fines are current at read time. Individual
// failures are logged and skipped; a stale row must not fail the whole read.
func (a *App) refreshDueLoans(ctx context.Context, userID string) {
	due, err := a.store.ListDueLoans(ctx, time.Now().UTC())
	if err != nil {
		slog.Warn("due loan sweep failed", "error", err)
		return
	}
	for _, l := range due {
		if userID != "" && l.UserID != userID {
			continue
		}
		if l.Status == domain.LoanOverdue && l.FineCharged >= float64(daysLate(time.Now().UTC(), l.ExpectedReturnDate))*a.policy.FinePerDay {
			continue
		}
		loanID := l.ID
		wasActive := l.Status == domain.LoanActive
		err := a.inLedgerTx(ctx, func(tx store.Store) error {
			loan, ok, err := tx.GetLoanForUpdate(ctx, loanID)
			if err != nil || !ok {
				return err
			}
			return a.refreshOverdue(ctx, tx, &loan, time.Now().UTC())
		})
		if err != nil {
			slog.Warn("overdue refresh failed", "loan_id", loanID, "error", err)
			continue
		}
		if wasActive {
			a.publish(ctx, LoanEvent{
				Kind:    EventLoanOverdue,
				LoanID:  l.ID,
				UserID:  l.UserID,
				BookID:  l.BookID,
				DueDate: l.ExpectedReturnDate,
			})
		}
	}
}

// ActiveLoansByUser returns the user's open loans, overdue state current.
func (a *App) ActiveLoansByUser(ctx context.Context, userID string) ([]domain.Loan, error) {
	a.refreshDueLoans(ctx, userID)
	return a.store.ListOpenLoansByUser(ctx, userID)
}

// OverdueLoans returns every overdue loan system-wide.
func (a *App) OverdueLoans(ctx context.Context) ([]domain.Loan, error) {
	a.refreshDueLoans(ctx, "")
	due, err := a.store.ListDueLoans(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	overdue := make([]domain.Loan, 0, len(due))
	for _, l := range due {
		if l.Status == domain.LoanOverdue {
			overdue = append(overdue, l)
		}
	}
	return overdue, nil
}

// LoanHistory returns a user's loans, newest first, paginated.
func (a *App) LoanHistory(ctx context.Context, userID string, opts store.ListOptions) ([]domain.Loan, int64, error) {
	a.refreshDueLoans(ctx, userID)
	opts = opts.Normalize()
	filter := store.LoanFilter{UserID: userID}
	loans, err := a.store.ListLoans(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := a.store.CountLoans(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

// ListLoans returns loans matching the filter, paginated. Elevated roles only;
// the handler enforces that.
func (a *App) ListLoans(ctx context.Context, f store.LoanFilter, opts store.ListOptions) ([]domain.Loan, int64, error) {
	a.refreshDueLoans(ctx, "")
	opts = opts.Normalize()
	loans, err := a.store.ListLoans(ctx, f, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := a.store.CountLoans(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

// GetLoan returns a loan with its overdue state current. The borrower or an
// elevated role may view it.
func (a *App) GetLoan(ctx context.Context, actor domain.User, loanID string) (domain.Loan, error) {
	var loan domain.Loan
	err := a.inLedgerTx(ctx, func(tx store.Store) error {
		var ok bool
		var err error
		loan, ok, err = tx.GetLoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLoanNotFound
		}
		if actor.ID != loan.UserID && !actor.Role.Elevated() {
			return ErrForbidden
		}
		return a.refreshOverdue(ctx, tx, &loan, time.Now().UTC())
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return loan, nil
}
