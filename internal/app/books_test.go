package app

import (
	"context"
	"errors"
	"testing"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestCreateBookDefaultsAvailableCopies(t *testing.T) {
	a, _ := newTestApp(t)
	book, err := a.CreateBook(context.Background(), CreateBookInput{
		ISBN:        "978-0-13-235088-4",
		Title:       "Clean Code",
		Authors:     []string{"Robert Martin"},
		TotalCopies: 4,
	})
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if book.AvailableCopies != 4 {
		t.Fatalf("availableCopies = %d, want totalCopies", book.AvailableCopies)
	}
}

func TestCreateBookValidation(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	cases := []CreateBookInput{
		{Title: "T", Authors: []string{"A"}, TotalCopies: 1},                                      // no isbn
		{ISBN: "1", Authors: []string{"A"}, TotalCopies: 1},                                       // no title
		{ISBN: "1", Title: "T", TotalCopies: 1},                                                   // no authors
		{ISBN: "1", Title: "T", Authors: []string{"A"}, TotalCopies: -1},                          // negative copies
		{ISBN: "1", Title: "T", Authors: []string{"A"}, TotalCopies: 2, AvailableCopies: intPtr(3)}, // available > total
	}
	for i, in := range cases {
		if _, err := a.CreateBook(ctx, in); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("case %d: err = %v, want ErrInvalidArgument", i, err)
		}
	}
}

func TestUpdateBookReclampsAvailable(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	book := seedBook(t, st, 5)

	updated, err := a.UpdateBook(ctx, book.ID, UpdateBookInput{TotalCopies: intPtr(3)})
	if err != nil {
		t.Fatalf("UpdateBook: %v", err)
	}
	if updated.TotalCopies != 3 || updated.AvailableCopies != 3 {
		t.Fatalf("copies = %d/%d, want available clamped to new total", updated.AvailableCopies, updated.TotalCopies)
	}
}

func TestUpdateBookRejectsAvailableOverTotal(t *testing.T) {
	a, st := newTestApp(t)
	book := seedBook(t, st, 2)
	_, err := a.UpdateBook(context.Background(), book.ID, UpdateBookInput{AvailableCopies: intPtr(9)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestSoftDeleteHidesBook(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	book := seedBook(t, st, 2)

	if err := a.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	if _, err := a.GetBookByID(ctx, book.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("get deleted err = %v, want ErrBookNotFound", err)
	}
	if err := a.DeleteBook(ctx, book.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("double delete err = %v, want ErrBookNotFound", err)
	}
	books, total, err := a.ListBooks(ctx, store.BookFilter{}, store.ListOptions{})
	if err != nil {
		t.Fatalf("ListBooks: %v", err)
	}
	if len(books) != 0 || total != 0 {
		t.Fatalf("deleted book still listed: %d/%d", len(books), total)
	}
}

func TestDeletedBookLoanStillReturns(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	book := seedBook(t, st, 1)

	loan, err := a.CreateLoan(ctx, user, book.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if err := a.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	if _, err := a.ReturnLoan(ctx, user, loan.ID); err != nil {
		t.Fatalf("return after catalog delete: %v", err)
	}
}

func TestUpdateProfileAllowlist(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)

	updated, err := a.UpdateProfile(ctx, user.ID, UpdateProfileInput{
		FirstName: strPtr("Grace"),
		Phone:     strPtr("555-0100"),
		Address:   &domain.Address{City: "Arlington"},
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.FirstName != "Grace" || updated.Phone != "555-0100" {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.Address == nil || updated.Address.City != "Arlington" {
		t.Fatalf("address = %+v", updated.Address)
	}
	if updated.Role != user.Role || updated.Status != user.Status {
		t.Fatal("profile update touched privileged fields")
	}

	if _, err := a.UpdateProfile(ctx, user.ID, UpdateProfileInput{FirstName: strPtr("  ")}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("blank name err = %v, want ErrInvalidArgument", err)
	}
}

func TestStatsReport(t *testing.T) {
	a, st := newTestApp(t)
	ctx := context.Background()
	user := seedUser(t, st, domain.RoleStudent, 0)
	fined := seedUser(t, st, domain.RoleStudent, 4.50)
	_ = fined
	b1 := seedBook(t, st, 3)
	seedBook(t, st, 2)

	loan, err := a.CreateLoan(ctx, user, b1.ID)
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	_ = loan

	stats, err := a.StatsReport(ctx)
	if err != nil {
		t.Fatalf("StatsReport: %v", err)
	}
	if stats.TotalBooks != 2 {
		t.Fatalf("totalBooks = %d", stats.TotalBooks)
	}
	if stats.TotalCopies != 5 || stats.AvailableCopies != 4 {
		t.Fatalf("copies = %d/%d", stats.AvailableCopies, stats.TotalCopies)
	}
	if stats.TotalUsers != 2 || stats.ActiveUsers != 2 {
		t.Fatalf("users = %d/%d", stats.ActiveUsers, stats.TotalUsers)
	}
	if stats.UsersWithFines != 1 {
		t.Fatalf("usersWithFines = %d", stats.UsersWithFines)
	}
	if stats.ActiveLoans != 1 || stats.OverdueLoans != 0 || stats.ReturnedLoans != 0 {
		t.Fatalf("loans = %d/%d/%d", stats.ActiveLoans, stats.OverdueLoans, stats.ReturnedLoans)
	}
	if stats.OutstandingFines != 4.50 {
		t.Fatalf("outstandingFines = %v", stats.OutstandingFines)
	}
}
