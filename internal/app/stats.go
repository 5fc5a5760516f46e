package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

// StatsReport aggregates the collection, membership and circulation counters
// for the staff dashboard. The sweep runs first so overdue figures are
// current; the aggregates themselves run concurrently.
func (a *App) StatsReport(ctx context.Context) (domain.Stats, error) {
	a.refreshDueLoans(ctx, "")

	var stats domain.Stats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := a.store.CountBooks(gctx, store.BookFilter{})
		stats.TotalBooks = n
		return err
	})
	g.Go(func() error {
		total, available, err := a.store.BookCopyTotals(gctx)
		stats.TotalCopies = total
		stats.AvailableCopies = available
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountUsers(gctx, store.UserFilter{})
		stats.TotalUsers = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountUsers(gctx, store.UserFilter{Status: domain.StatusActive})
		stats.ActiveUsers = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountUsersWithFines(gctx)
		stats.UsersWithFines = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountLoans(gctx, store.LoanFilter{Status: domain.LoanActive})
		stats.ActiveLoans = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountLoans(gctx, store.LoanFilter{Status: domain.LoanOverdue})
		stats.OverdueLoans = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountLoans(gctx, store.LoanFilter{Status: domain.LoanReturned})
		stats.ReturnedLoans = n
		return err
	})
	g.Go(func() error {
		sum, err := a.store.SumOutstandingFines(gctx)
		stats.OutstandingFines = sum
		return err
	})

	if err := g.Wait(); err != nil {
		return domain.Stats{}, err
	}
	return stats, nil
}
