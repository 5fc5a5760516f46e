package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

// CreateBookInput is the catalog entry payload.
type CreateBookInput struct {
	ISBN            string     `json:"isbn"`
	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle"`
	Authors         []string   `json:"authors"`
	Categories      []string   `json:"categories"`
	TotalCopies     int        `json:"totalCopies"`
	AvailableCopies *int       `json:"availableCopies"`
	Publisher       string     `json:"publisher"`
	PublicationDate *time.Time `json:"publicationDate"`
	Pages           int        `json:"pages"`
	Language        string     `json:"language"`
	Summary         string     `json:"summary"`
}

// UpdateBookInput carries a partial catalog edit; nil fields are untouched.
type UpdateBookInput struct {
	Title           *string    `json:"title"`
	Subtitle        *string    `json:"subtitle"`
	Authors         []string   `json:"authors"`
	Categories      []string   `json:"categories"`
	TotalCopies     *int       `json:"totalCopies"`
	AvailableCopies *int       `json:"availableCopies"`
	Publisher       *string    `json:"publisher"`
	PublicationDate *time.Time `json:"publicationDate"`
	Pages           *int       `json:"pages"`
	Language        *string    `json:"language"`
	Summary         *string    `json:"summary"`
}

// CreateBook adds a catalog entry. Available copies default to the total.
func (a *App) CreateBook(ctx context.Context, in CreateBookInput) (domain.Book, error) {
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Title = strings.TrimSpace(in.Title)
	if in.ISBN == "" {
		return domain.Book{}, fmt.Errorf("%w: isbn is required", ErrInvalidArgument)
	}
	if in.Title == "" {
		return domain.Book{}, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if len(in.Authors) == 0 {
		return domain.Book{}, fmt.Errorf("%w: at least one author is required", ErrInvalidArgument)
	}
	if in.TotalCopies < 0 {
		return domain.Book{}, fmt.Errorf("%w: totalCopies cannot be negative", ErrInvalidArgument)
	}
	available := in.TotalCopies
	if in.AvailableCopies != nil {
		available = *in.AvailableCopies
		if available < 0 || available > in.TotalCopies {
			return domain.Book{}, fmt.Errorf("%w: availableCopies must be between 0 and totalCopies", ErrInvalidArgument)
		}
	}

	now := time.Now().UTC()
	book := domain.Book{
		ID:              store.NewID(),
		ISBN:            in.ISBN,
		Title:           in.Title,
		Subtitle:        strings.TrimSpace(in.Subtitle),
		Authors:         in.Authors,
		Categories:      in.Categories,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: available,
		Publisher:       strings.TrimSpace(in.Publisher),
		PublicationDate: in.PublicationDate,
		Pages:           in.Pages,
		Language:        strings.TrimSpace(in.Language),
		Summary:         in.Summary,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, err
	}
	slog.Info("book created", "book_id", book.ID, "isbn", book.ISBN)
	return book, nil
}

// UpdateBook applies a partial edit. Shrinking totalCopies re-clamps
// availableCopies; setting availableCopies above totalCopies is rejected.
// Runs in a transaction so the clamp cannot race the ledger's copy counting.
func (a *App) UpdateBook(ctx context.Context, bookID string, in UpdateBookInput) (domain.Book, error) {
	var book domain.Book
	err := a.inLedgerTx(ctx, func(tx store.Store) error {
		var ok bool
		var err error
		book, ok, err = tx.GetBookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		if !ok || book.Deleted {
			return ErrBookNotFound
		}

		if in.Title != nil {
			if strings.TrimSpace(*in.Title) == "" {
				return fmt.Errorf("%w: title cannot be empty", ErrInvalidArgument)
			}
			book.Title = strings.TrimSpace(*in.Title)
		}
		if in.Subtitle != nil {
			book.Subtitle = strings.TrimSpace(*in.Subtitle)
		}
		if in.Authors != nil {
			if len(in.Authors) == 0 {
				return fmt.Errorf("%w: at least one author is required", ErrInvalidArgument)
			}
			book.Authors = in.Authors
		}
		if in.Categories != nil {
			book.Categories = in.Categories
		}
		if in.Publisher != nil {
			book.Publisher = strings.TrimSpace(*in.Publisher)
		}
		if in.PublicationDate != nil {
			book.PublicationDate = in.PublicationDate
		}
		if in.Pages != nil {
			book.Pages = *in.Pages
		}
		if in.Language != nil {
			book.Language = strings.TrimSpace(*in.Language)
		}
		if in.Summary != nil {
			book.Summary = *in.Summary
		}

		totalChanged := false
		if in.TotalCopies != nil {
			if *in.TotalCopies < 0 {
				return fmt.Errorf("%w: totalCopies cannot be negative", ErrInvalidArgument)
			}
			book.TotalCopies = *in.TotalCopies
			totalChanged = true
		}
		if in.AvailableCopies != nil {
			if *in.AvailableCopies < 0 || *in.AvailableCopies > book.TotalCopies {
				return fmt.Errorf("%w: availableCopies must be between 0 and totalCopies", ErrInvalidArgument)
			}
			book.AvailableCopies = *in.AvailableCopies
		} else if totalChanged && book.AvailableCopies > book.TotalCopies {
			book.AvailableCopies = book.TotalCopies
		}

		book.UpdatedAt = time.Now().UTC()
		return tx.SaveBook(ctx, book)
	})
	if err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

// DeleteBook soft-deletes a catalog entry. Open loans against it still close
// normally; the entry just leaves search and borrow.
func (a *App) DeleteBook(ctx context.Context, bookID string) error {
	return a.inLedgerTx(ctx, func(tx store.Store) error {
		book, ok, err := tx.GetBookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		if !ok || book.Deleted {
			return ErrBookNotFound
		}
		book.Deleted = true
		book.UpdatedAt = time.Now().UTC()
		return tx.SaveBook(ctx, book)
	})
}

// GetBookByID returns a catalog entry; soft-deleted entries read as missing.
func (a *App) GetBookByID(ctx context.Context, bookID string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok || book.Deleted {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// ListBooks returns catalog entries matching the filter, paginated.
func (a *App) ListBooks(ctx context.Context, f store.BookFilter, opts store.ListOptions) ([]domain.Book, int64, error) {
	opts = opts.Normalize()
	books, err := a.store.ListBooks(ctx, f, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := a.store.CountBooks(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// UploadCover stores a cover image for the book and records its object key.
func (a *App) UploadCover(ctx context.Context, bookID string, r io.Reader, size int64, contentType string) (domain.Book, error) {
	if a.covers == nil {
		return domain.Book{}, fmt.Errorf("%w: cover storage is not configured", ErrInvalidArgument)
	}
	book, err := a.GetBookByID(ctx, bookID)
	if err != nil {
		return domain.Book{}, err
	}
	key, err := a.covers.SaveCover(ctx, bookID, r, size, contentType)
	if err != nil {
		return domain.Book{}, err
	}
	if old := book.CoverKey; old != "" && old != key {
		if err := a.covers.DeleteCover(ctx, old); err != nil {
			slog.Warn("stale cover delete failed", "book_id", bookID, "key", old, "error", err)
		}
	}
	book.CoverKey = key
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

// CoverURL returns a short-lived download URL for the book's cover.
func (a *App) CoverURL(ctx context.Context, bookID string) (string, error) {
	if a.covers == nil {
		return "", ErrBookNotFound
	}
	book, err := a.GetBookByID(ctx, bookID)
	if err != nil {
		return "", err
	}
	if book.CoverKey == "" {
		return "", ErrBookNotFound
	}
	return a.covers.CoverURL(ctx, book.CoverKey)
}
