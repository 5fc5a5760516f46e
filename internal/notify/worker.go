package notify

import (
	"context"
	"fmt"
	"time"

	"librarian/internal/app"
	"librarian/internal/store"
	"librarian/pkg/domain"
)

// Worker turns loan events into persisted borrower notifications.
type Worker struct {
	store store.Store
}

// NewWorker builds a Worker over the persistence layer.
func NewWorker(st store.Store) *Worker {
	return &Worker{store: st}
}

// Handle persists a notification for the event. Used as the Queue handler.
func (w *Worker) Handle(ctx context.Context, e app.LoanEvent) error {
	message := renderMessage(e)
	if message == "" || e.UserID == "" {
		return nil
	}
	return w.store.SaveNotification(ctx, domain.Notification{
		ID:        store.NewID(),
		UserID:    e.UserID,
		Kind:      e.Kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
}

func renderMessage(e app.LoanEvent) string {
	title := e.BookTitle
	if title == "" {
		title = "your book"
	}
	due := e.DueDate.Format("Jan 2, 2006")
	switch e.Kind {
	case app.EventLoanCreated:
		return fmt.Sprintf("You borrowed %q. It is due back on %s.", title, due)
	case app.EventLoanRenewed:
		return fmt.Sprintf("Your loan was renewed and is now due on %s.", due)
	case app.EventLoanReturned:
		if e.Fine > 0 {
			return fmt.Sprintf("You returned %q. A late fine of %.2f was added to your account.", title, e.Fine)
		}
		return fmt.Sprintf("You returned %q. Thank you.", title)
	case app.EventLoanOverdue:
		return fmt.Sprintf("Your loan is overdue since %s. Fines accrue daily until it is returned.", due)
	default:
		return ""
	}
}
