package server

import (
	"encoding/json"
	"io"
	"net/http"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

type createLoanRequest struct {
	BookID string `json:"bookId"`
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createLoanRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID")
		return
	}
	if req.BookID == "" {
		writeError(w, http.StatusBadRequest, "bookId is required", "REQUEST_INVALID")
		return
	}
	loan, err := s.app.CreateLoan(r.Context(), user, req.BookID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) handleReturnLoan(w http.ResponseWriter, r *http.Request, user domain.User) {
	loan, err := s.app.ReturnLoan(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleRenewLoan(w http.ResponseWriter, r *http.Request, user domain.User) {
	loan, err := s.app.RenewLoan(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request, user domain.User) {
	loan, err := s.app.GetLoan(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleMyLoans(w http.ResponseWriter, r *http.Request, user domain.User) {
	loans, err := s.app.ActiveLoansByUser(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": loans, "count": len(loans)})
}

func (s *Server) handleMyHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	opts := listOptionsFromQuery(r)
	loans, total, err := s.app.LoanHistory(r.Context(), user.ID, opts)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Items: loans, Total: total, Page: opts.Page, Limit: opts.Limit})
}

func (s *Server) handleOverdueLoans(w http.ResponseWriter, r *http.Request, _ domain.User) {
	loans, err := s.app.OverdueLoans(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": loans, "count": len(loans)})
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request, _ domain.User) {
	q := r.URL.Query()
	filter := store.LoanFilter{
		Status: domain.LoanStatus(q.Get("status")),
		UserID: q.Get("userId"),
		BookID: q.Get("bookId"),
	}
	opts := listOptionsFromQuery(r)
	loans, total, err := s.app.ListLoans(r.Context(), filter, opts)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Items: loans, Total: total, Page: opts.Page, Limit: opts.Limit})
}
