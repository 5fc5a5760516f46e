package server

import (
	"encoding/json"
	"io"
	"net/http"

	"librarian/internal/app"
	"librarian/internal/store"
	"librarian/pkg/domain"
)

const maxCoverBytes = 5 << 20

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	q := r.URL.Query()
	filter := store.BookFilter{
		Category:      q.Get("category"),
		Author:        q.Get("author"),
		AvailableOnly: q.Get("available") == "true",
	}
	opts := listOptionsFromQuery(r)
	books, total, err := s.app.ListBooks(r.Context(), filter, opts)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Items: books, Total: total, Page: opts.Page, Limit: opts.Limit})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	book, err := s.app.GetBookByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.CreateBookInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID")
		return
	}
	book, err := s.app.CreateBook(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.UpdateBookInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID")
		return
	}
	book, err := s.app.UpdateBook(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := s.app.DeleteBook(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUploadCover(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := r.ParseMultipartForm(maxCoverBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data", "REQUEST_INVALID")
		return
	}
	file, header, err := r.FormFile("cover")
	if err != nil {
		writeError(w, http.StatusBadRequest, "cover file is required", "REQUEST_INVALID")
		return
	}
	defer file.Close()

	book, err := s.app.UploadCover(r.Context(), r.PathValue("id"), file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleGetCover(w http.ResponseWriter, r *http.Request, _ domain.User) {
	url, err := s.app.CoverURL(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
