// Package server exposes the library API over HTTP. Handlers stay thin:
// decode, call the application core, encode. Error mapping to status codes
// lives in respond.go.
package server

import (
	"net/http"

	"librarian/internal/app"
	"librarian/internal/ratelimit"
	"librarian/internal/util"
	"librarian/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	LoginLimiter   *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
}

// Server exposes the HTTP endpoints of the library API.
type Server struct {
	app     *app.App
	limiter *ratelimit.FixedWindowLimiter
	trusted *util.TrustedProxies
	origins []string
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		limiter: cfg.LoginLimiter,
		trusted: cfg.TrustedProxies,
		origins: cfg.AllowedOrigins,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithSecurityHeaders(h)
	h = util.WithCORS(s.origins, h)
	h = util.WithRequestLog(s.trusted, h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.mux.Handle("GET /auth/me", s.authenticated(s.handleMe))

	// catalog
	s.mux.Handle("GET /books", s.authenticated(s.handleListBooks))
	s.mux.Handle("POST /books", s.elevatedOnly(s.handleCreateBook))
	s.mux.Handle("GET /books/{id}", s.authenticated(s.handleGetBook))
	s.mux.Handle("PUT /books/{id}", s.elevatedOnly(s.handleUpdateBook))
	s.mux.Handle("PATCH /books/{id}", s.elevatedOnly(s.handleUpdateBook))
	s.mux.Handle("DELETE /books/{id}", s.adminOnly(s.handleDeleteBook))
	s.mux.Handle("POST /books/{id}/cover", s.elevatedOnly(s.handleUploadCover))
	s.mux.Handle("GET /books/{id}/cover", s.authenticated(s.handleGetCover))

	// users
	s.mux.Handle("GET /users", s.adminOnly(s.handleListUsers))
	s.mux.Handle("GET /users/profile", s.authenticated(s.handleProfile))
	s.mux.Handle("PUT /users/profile", s.authenticated(s.handleUpdateProfile))
	s.mux.Handle("POST /users/pay-fine", s.authenticated(s.handlePayFine))
	s.mux.Handle("GET /users/{id}", s.elevatedOnly(s.handleGetUser))
	s.mux.Handle("PATCH /users/{id}/status", s.adminOnly(s.handleUserStatus))

	// loans
	s.mux.Handle("POST /loans", s.authenticated(s.handleCreateLoan))
	s.mux.Handle("GET /loans", s.elevatedOnly(s.handleListLoans))
	s.mux.Handle("GET /loans/my", s.authenticated(s.handleMyLoans))
	s.mux.Handle("GET /loans/my/history", s.authenticated(s.handleMyHistory))
	s.mux.Handle("GET /loans/overdue", s.elevatedOnly(s.handleOverdueLoans))
	s.mux.Handle("GET /loans/{id}", s.authenticated(s.handleGetLoan))
	s.mux.Handle("POST /loans/{id}/return", s.authenticated(s.handleReturnLoan))
	s.mux.Handle("POST /loans/{id}/renew", s.authenticated(s.handleRenewLoan))

	// reporting
	s.mux.Handle("GET /stats", s.elevatedOnly(s.handleStats))
	s.mux.Handle("GET /notifications", s.authenticated(s.handleNotifications))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "AUTH_INVALID_TOKEN")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) elevatedOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.Role.Elevated() {
			writeError(w, http.StatusForbidden, "forbidden", "FORBIDDEN")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "FORBIDDEN")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	user, err := s.app.UserFromToken(r.Context(), token)
	if err != nil {
		return domain.User{}, false
	}
	return user, true
}
