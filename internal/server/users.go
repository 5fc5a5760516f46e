package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"librarian/internal/app"
	"librarian/internal/store"
	"librarian/pkg/domain"
)

type profileResponse struct {
	User          domain.User                 `json:"user"`
	BorrowHistory []domain.BorrowHistoryEntry `json:"borrowHistory"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	profile, history, err := s.app.Profile(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{User: profile, BorrowHistory: history})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.UpdateProfileInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID")
		return
	}
	updated, err := s.app.UpdateProfile(r.Context(), user.ID, req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type payFineRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handlePayFine(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req payFineRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID")
		return
	}
	updated, err := s.app.PayFine(r.Context(), user.ID, req.Amount)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currentFines": updated.CurrentFines})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	q := r.URL.Query()
	filter := store.UserFilter{
		Role:   domain.UserRole(q.Get("role")),
		Status: domain.UserStatus(q.Get("status")),
	}
	opts := listOptionsFromQuery(r)
	users, total, err := s.app.ListUsers(r.Context(), filter, opts)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Items: users, Total: total, Page: opts.Page, Limit: opts.Limit})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, _ domain.User) {
	user, err := s.app.GetUserByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID")
		return
	}
	user, err := s.app.SetUserStatus(r.Context(), r.PathValue("id"), domain.UserStatus(req.Status))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ domain.User) {
	stats, err := s.app.StatsReport(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	notes, err := s.app.Notifications(r.Context(), user.ID, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": notes, "count": len(notes)})
}
