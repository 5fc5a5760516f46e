package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"librarian/internal/app"
	"librarian/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application sentinel errors to HTTP status and machine
// code. Unknown errors are logged and hidden behind a generic 500.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "BOOK_NOT_FOUND")
	case errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "USER_NOT_FOUND")
	case errors.Is(err, app.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "LOAN_NOT_FOUND")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error(), "FORBIDDEN")
	case errors.Is(err, app.ErrCannotBorrow):
		writeError(w, http.StatusForbidden, err.Error(), "USER_CANNOT_BORROW")
	case errors.Is(err, app.ErrNoCopies):
		writeError(w, http.StatusConflict, err.Error(), "BOOK_NO_COPIES")
	case errors.Is(err, app.ErrLoanLimit):
		writeError(w, http.StatusConflict, err.Error(), "LOAN_LIMIT_REACHED")
	case errors.Is(err, app.ErrRenewalLimit):
		writeError(w, http.StatusConflict, err.Error(), "LOAN_RENEWAL_LIMIT")
	case errors.Is(err, app.ErrNotRenewable), errors.Is(err, app.ErrAlreadyReturned):
		writeError(w, http.StatusConflict, err.Error(), "LOAN_INVALID_STATE")
	case errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error(), "AUTH_EMAIL_TAKEN")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials", "AUTH_INVALID_CREDENTIALS")
	case errors.Is(err, app.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error(), "REQUEST_INVALID")
	case errors.Is(err, app.ErrTxConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily busy, retry the request", "SYSTEM_BUSY")
	case errors.Is(err, app.ErrIntegrity):
		slog.Error("integrity fault", "error", err)
		writeError(w, http.StatusInternalServerError, "data integrity fault", "SYSTEM_INTEGRITY_FAULT")
	default:
		slog.Error("unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "SYSTEM_INTERNAL_ERROR")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func listOptionsFromQuery(r *http.Request) store.ListOptions {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return store.ListOptions{Page: page, Limit: limit}.Normalize()
}

type pageResponse struct {
	Items any   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}
