package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	a := New(Options{
		Store:    st,
		Sessions: store.NewJWTSessionStore("test-secret-0123456789", time.Hour, nil, store.JWTOptions{}),
	})
	return a, st
}

func seedUser(t *testing.T, st *store.MemoryStore, role domain.UserRole, fines float64) domain.User {
	t.Helper()
	now := time.Now().UTC()
	user := domain.User{
		ID:           store.NewID(),
		FirstName:    "Test",
		LastName:     "Reader",
		Email:        store.NewID() + "@example.com",
		PasswordHash: "x",
		Role:         role,
		Status:       domain.StatusActive,
		CurrentFines: fines,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.SaveUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedBook(t *testing.T, st *store.MemoryStore, copies int) domain.Book {
	t.Helper()
	now := time.Now().UTC()
	book := domain.Book{
		ID:              store.NewID(),
		ISBN:            "978-0-13-468599-1",
		Title:           "The Go Programming Language",
		Authors:         []string{"Alan Donovan", "Brian Kernighan"},
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.SaveBook(context.Background(), book); err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return book
}

// backdate rewrites a loan's due date so overdue paths can be exercised.
func backdate(t *testing.T, st *store.MemoryStore, loanID string, daysPastDue int) domain.Loan {
	t.Helper()
	ctx := context.Background()
	loan, ok, err := st.GetLoan(ctx, loanID)
	if err != nil || !ok {
		t.Fatalf("load loan: ok=%v err=%v", ok, err)
	}
	loan.ExpectedReturnDate = time.Now().UTC().AddDate(0, 0, -daysPastDue).Add(-time.Minute)
	loan.BorrowDate = loan.ExpectedReturnDate.AddDate(0, 0, -14)
	if err := st.SaveLoan(ctx, loan); err != nil {
		t.Fatalf("save loan: %v", err)
	}
	return loan
}

func TestBorrowAndReturnOnTime(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 5)

	loan, err := a.CreateLoan(ctx, user, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if loan.Status != domain.LoanActive {
		t.Fatalf("loan status = %q", loan.Status)
	}
	wantDue := loan.BorrowDate.AddDate(0, 0, 14)
	if !loan.ExpectedReturnDate.Equal(wantDue) {
		t.Fatalf("due = %v, want %v", loan.ExpectedReturnDate, wantDue)
	}
	got, _, _ := st.GetBook(ctx, book.ID)
	if got.AvailableCopies != 4 {
		t.Fatalf("available = %d after borrow, want 4", got.AvailableCopies)
	}
	history, _ := st.ListBorrowHistory(ctx, user.ID)
	if len(history) != 1 || history[0].LoanID != loan.ID || history[0].ReturnDate != nil {
		t.Fatalf("history after borrow = %+v", history)
	}

	returned, err := a.ReturnLoan(ctx, user, loan.ID)
	if err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	if returned.Status != domain.LoanReturned || returned.ActualReturnDate == nil {
		t.Fatalf("returned loan = %+v", returned)
	}
	if returned.FineAmount != 0 {
		t.Fatalf("fine = %v for on-time return", returned.FineAmount)
	}
	got, _, _ = st.GetBook(ctx, book.ID)
	if got.AvailableCopies != 5 {
		t.Fatalf("available = %d after return, want 5", got.AvailableCopies)
	}
	history, _ = st.ListBorrowHistory(ctx, user.ID)
	if len(history) != 1 || history[0].ReturnDate == nil {
		t.Fatalf("history after return = %+v", history)
	}
}

func TestBorrowFailsWhenNoCopies(t *testing.T) {
	a, st := newTestApp(t)
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 0)

	if _, err := a.CreateLoan(context.Background(), user, book.ID); !errors.Is(err, ErrNoCopies) {
		t.Fatalf("err = %v, want ErrNoCopies", err)
	}
}

func TestBorrowFailsWithUnpaidFines(t *testing.T) {
	a, st := newTestApp(t)
	user := seedUser(t, st, domain.RoleStudent, 2.50)
	book := seedBook(t, st, 3)

	if _, err := a.CreateLoan(context.Background(), user, book.ID); !errors.Is(err, ErrCannotBorrow) {
		t.Fatalf("err = %v, want ErrCannotBorrow", err)
	}
	got, _, _ := st.GetBook(context.Background(), book.ID)
	if got.AvailableCopies != 3 {
		t.Fatalf("available changed on failed borrow: %d", got.AvailableCopies)
	}
}

func TestBorrowFailsWhenSuspended(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	user.Status = domain.StatusSuspended
	if err := st.SaveUser(ctx, user); err != nil {
		t.Fatalf("save user: %v", err)
	}
	book := seedBook(t, st, 3)

	if _, err := a.CreateLoan(ctx, user, book.ID); !errors.Is(err, ErrCannotBorrow) {
		t.Fatalf("err = %v, want ErrCannotBorrow", err)
	}
}

func TestBorrowFailsAtLoanLimit(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	for i := 0; i < 5; i++ {
		book := seedBook(t, st, 1)
		if _, err := a.CreateLoan(ctx, user, book.ID); err != nil {
			t.Fatalf("CreateLoan %d: %v", i, err)
		}
	}
	book := seedBook(t, st, 1)
	if _, err := a.CreateLoan(ctx, user, book.ID); !errors.Is(err, ErrLoanLimit) {
		t.Fatalf("err = %v, want ErrLoanLimit", err)
	}
}

func TestBorrowDeletedBook(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 3)
	book.Deleted = true
	if err := st.SaveBook(ctx, book); err != nil {
		t.Fatalf("save book: %v", err)
	}

	if _, err := a.CreateLoan(ctx, user, book.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("err = %v, want ErrBookNotFound", err)
	}
}

func TestConcurrentBorrowLastCopy(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	alice := seedUser(t, st, domain.RoleStudent, 0)
	bob := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 1)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = a.CreateLoan(ctx, alice, book.ID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = a.CreateLoan(ctx, bob, book.ID)
	}()
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNoCopies):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d, want exactly one of each", wins, losses)
	}
	got, _, _ := st.GetBook(ctx, book.ID)
	if got.AvailableCopies != 0 {
		t.Fatalf("available = %d, want 0", got.AvailableCopies)
	}
}

func TestReturnLateChargesFine(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 2)

	loan, err := a.CreateLoan(ctx, user, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	backdate(t, st, loan.ID, 10)

	returned, err := a.ReturnLoan(ctx, user, loan.ID)
	if err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	if returned.FineAmount != 5.00 {
		t.Fatalf("fine = %v, want 5.00", returned.FineAmount)
	}
	gotUser, _, _ := st.GetUser(ctx, user.ID)
	if gotUser.CurrentFines != 5.00 {
		t.Fatalf("currentFines = %v, want 5.00", gotUser.CurrentFines)
	}
}

func TestFineNotDoubleChargedAfterLazyOverdue(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 2)

	loan, err := a.CreateLoan(ctx, user, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	backdate(t, st, loan.ID, 10)

	// Lazy reclassification charges the fine once.
	open, err := a.ActiveLoansByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ActiveLoansByUser: %v", err)
	}
	if len(open) != 1 || open[0].Status != domain.LoanOverdue {
		t.Fatalf("open loans = %+v, want one overdue", open)
	}
	gotUser, _, _ := st.GetUser(ctx, user.ID)
	if gotUser.CurrentFines != 5.00 {
		t.Fatalf("currentFines after lazy pass = %v, want 5.00", gotUser.CurrentFines)
	}

	// A second read does not charge again.
	if _, err := a.ActiveLoansByUser(ctx, user.ID); err != nil {
		t.Fatalf("second read: %v", err)
	}
	gotUser, _, _ = st.GetUser(ctx, user.ID)
	if gotUser.CurrentFines != 5.00 {
		t.Fatalf("currentFines after second pass = %v, want 5.00", gotUser.CurrentFines)
	}

	// Nor does the final return.
	returned, err := a.ReturnLoan(ctx, user, loan.ID)
	if err != nil {
		t.Fatalf("ReturnLoan: %v", err)
	}
	if returned.FineAmount != 5.00 {
		t.Fatalf("final fine = %v, want 5.00", returned.FineAmount)
	}
	gotUser, _, _ = st.GetUser(ctx, user.ID)
	if gotUser.CurrentFines != 5.00 {
		t.Fatalf("currentFines after return = %v, want 5.00", gotUser.CurrentFines)
	}
}

func TestDoubleReturn(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 2)

	loan, err := a.CreateLoan(ctx, user, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if _, err := a.ReturnLoan(ctx, user, loan.ID); err != nil {
		t.Fatalf("first return: %v", err)
	}
	if _, err := a.ReturnLoan(ctx, user, loan.ID); !errors.Is(err, ErrAlreadyReturned) {
		t.Fatalf("second return err = %v, want ErrAlreadyReturned", err)
	}
	got, _, _ := st.GetBook(ctx, book.ID)
	if got.AvailableCopies != 2 {
		t.Fatalf("available = %d after double return, want 2", got.AvailableCopies)
	}
}

func TestReturnAuthorization(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	borrower := seedUser(t, st, domain.RoleStudent, 0)
	stranger := seedUser(t, st, domain.RoleFaculty, 0)
	librarian := seedUser(t, st, domain.RoleLibrarian, 0)
	book := seedBook(t, st, 2)

	loan, err := a.CreateLoan(ctx, borrower, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if _, err := a.ReturnLoan(ctx, stranger, loan.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger return err = %v, want ErrForbidden", err)
	}
	if _, err := a.ReturnLoan(ctx, librarian, loan.ID); err != nil {
		t.Fatalf("librarian return: %v", err)
	}
}

func TestRenewExtendsFromDueDate(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 2)

	loan, err := a.CreateLoan(ctx, user, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	due := loan.ExpectedReturnDate

	renewed, err := a.RenewLoan(ctx, user, loan.ID)
	if err != nil {
		t.Fatalf("RenewLoan: %v", err)
	}
	if renewed.RenewalCount != 1 {
		t.Fatalf("renewalCount = %d, want 1", renewed.RenewalCount)
	}
	if want := due.AddDate(0, 0, 14); !renewed.ExpectedReturnDate.Equal(want) {
		t.Fatalf("due = %v, want %v (extends from previous due, not now)", renewed.ExpectedReturnDate, want)
	}
	got, _, _ := st.GetBook(ctx, book.ID)
	if got.AvailableCopies != 1 {
		t.Fatalf("renew changed copy count: %d", got.AvailableCopies)
	}
}

func TestRenewalLimit(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 2)

	loan, err := a.CreateLoan(ctx, user, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := a.RenewLoan(ctx, user, loan.ID); err != nil {
			t.Fatalf("renew %d: %v", i+1, err)
		}
	}
	if _, err := a.RenewLoan(ctx, user, loan.ID); !errors.Is(err, ErrRenewalLimit) {
		t.Fatalf("third renew err = %v, want ErrRenewalLimit", err)
	}
}

func TestRenewOverdueFails(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 2)

	loan, err := a.CreateLoan(ctx, user, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	backdate(t, st, loan.ID, 3)

	if _, err := a.RenewLoan(ctx, user, loan.ID); !errors.Is(err, ErrNotRenewable) {
		t.Fatalf("err = %v, want ErrNotRenewable", err)
	}
	// The rejected renew still persisted the overdue reclassification.
	got, _, _ := st.GetLoan(ctx, loan.ID)
	if got.Status != domain.LoanOverdue {
		t.Fatalf("status = %q after rejected renew, want overdue", got.Status)
	}
}

func TestRenewByNonBorrowerForbidden(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	borrower := seedUser(t, st, domain.RoleStudent, 0)
	librarian := seedUser(t, st, domain.RoleLibrarian, 0)
	book := seedBook(t, st, 2)

	loan, err := a.CreateLoan(ctx, borrower, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if _, err := a.RenewLoan(ctx, librarian, loan.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden (renewal is borrower-only)", err)
	}
}

func TestPayFine(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 7.50)

	updated, err := a.PayFine(ctx, user.ID, 5.00)
	if err != nil {
		t.Fatalf("PayFine: %v", err)
	}
	if updated.CurrentFines != 2.50 {
		t.Fatalf("currentFines = %v, want 2.50", updated.CurrentFines)
	}

	if _, err := a.PayFine(ctx, user.ID, 10.00); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("overpay err = %v, want ErrInvalidArgument", err)
	}
	if _, err := a.PayFine(ctx, user.ID, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("zero amount err = %v, want ErrInvalidArgument", err)
	}
	if _, err := a.PayFine(ctx, user.ID, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("negative amount err = %v, want ErrInvalidArgument", err)
	}
	gotUser, _, _ := st.GetUser(ctx, user.ID)
	if gotUser.CurrentFines != 2.50 {
		t.Fatalf("failed payments changed balance: %v", gotUser.CurrentFines)
	}
}

func TestOverdueLoansProjection(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	late := seedBook(t, st, 2)
	onTime := seedBook(t, st, 2)

	lateLoan, err := a.CreateLoan(ctx, user, late.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if _, err := a.CreateLoan(ctx, user, onTime.ID); err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	backdate(t, st, lateLoan.ID, 4)

	overdue, err := a.OverdueLoans(ctx)
	if err != nil {
		t.Fatalf("OverdueLoans: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != lateLoan.ID {
		t.Fatalf("overdue = %+v, want just the late loan", overdue)
	}
	if overdue[0].Status != domain.LoanOverdue {
		t.Fatalf("status = %q, want overdue", overdue[0].Status)
	}
	if overdue[0].FineAmount != 4*0.50 {
		t.Fatalf("fine = %v, want 2.00", overdue[0].FineAmount)
	}
}

func TestReturnIntegrityFaultRollsBack(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 1)

	loan, err := a.CreateLoan(ctx, user, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	// Corrupt the count: the copy the loan holds is already "back".
	got, _, _ := st.GetBook(ctx, book.ID)
	got.AvailableCopies = got.TotalCopies
	if err := st.SaveBook(ctx, got); err != nil {
		t.Fatalf("save book: %v", err)
	}

	if _, err := a.ReturnLoan(ctx, user, loan.ID); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}
	after, _, _ := st.GetLoan(ctx, loan.ID)
	if after.Status != domain.LoanActive {
		t.Fatalf("loan status = %q after aborted return, want active", after.Status)
	}
}

func TestLoanHistoryPagination(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	for i := 0; i < 3; i++ {
		book := seedBook(t, st, 1)
		loan, err := a.CreateLoan(ctx, user, book.ID)
		if err != nil {
			t.Fatalf("CreateLoan %d: %v", i, err)
		}
		if _, err := a.ReturnLoan(ctx, user, loan.ID); err != nil {
			t.Fatalf("ReturnLoan %d: %v", i, err)
		}
	}

	loans, total, err := a.LoanHistory(ctx, user.ID, store.ListOptions{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("LoanHistory: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(loans) != 2 {
		t.Fatalf("page 1 len = %d, want 2", len(loans))
	}
	loans, _, err = a.LoanHistory(ctx, user.ID, store.ListOptions{Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("LoanHistory page 2: %v", err)
	}
	if len(loans) != 1 {
		t.Fatalf("page 2 len = %d, want 1", len(loans))
	}
}
