package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"librarian/internal/app"
	"librarian/internal/store"
	"librarian/pkg/domain"
)

type testEnv struct {
	server   *Server
	store    *store.MemoryStore
	sessions store.SessionStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	sessions := store.NewJWTSessionStore("test-secret-0123456789", time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	a := app.New(app.Options{Store: st, Sessions: sessions})
	return &testEnv{
		server:   New(Config{App: a}),
		store:    st,
		sessions: sessions,
	}
}

func (e *testEnv) seedUser(t *testing.T, role domain.UserRole) (domain.User, string) {
	t.Helper()
	now := time.Now().UTC()
	user := domain.User{
		ID:           store.NewID(),
		FirstName:    "Test",
		LastName:     "User",
		Email:        store.NewID() + "@example.com",
		PasswordHash: "x",
		Role:         role,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.SaveUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token, err := e.sessions.NewSession(user.ID)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return user, token
}

func (e *testEnv) seedBook(t *testing.T, copies int) domain.Book {
	t.Helper()
	now := time.Now().UTC()
	book := domain.Book{
		ID:              store.NewID(),
		ISBN:            "978-1-4919-4119-5",
		Title:           "Designing Data-Intensive Applications",
		Authors:         []string{"Martin Kleppmann"},
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.SaveBook(context.Background(), book); err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return book
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error, resp.Code
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "GET", "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "POST", "/auth/register", "", map[string]string{
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"email":     "ada@example.com",
		"password":  "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, "POST", "/auth/login", "", map[string]string{
		"email":    "ada@example.com",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rec.Code, rec.Body.String())
	}
	var auth struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &auth); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if auth.User.Role != domain.RoleStudent {
		t.Fatalf("role = %q, want student", auth.User.Role)
	}

	rec = e.do(t, "GET", "/auth/me", auth.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]string{
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"email":     "ada@example.com",
		"password":  "correct-horse",
	}
	if rec := e.do(t, "POST", "/auth/register", "", body); rec.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", rec.Code)
	}
	rec := e.do(t, "POST", "/auth/register", "", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("dup register status = %d", rec.Code)
	}
	if _, code := decodeError(t, rec); code != "AUTH_EMAIL_TAKEN" {
		t.Fatalf("code = %q", code)
	}
}

func TestWrongPassword(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "POST", "/auth/register", "", map[string]string{
		"firstName": "Ada", "lastName": "L", "email": "ada@example.com", "password": "correct-horse",
	})
	rec := e.do(t, "POST", "/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, code := decodeError(t, rec); code != "AUTH_INVALID_CREDENTIALS" {
		t.Fatalf("code = %q", code)
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/books", "/loans/my", "/users/profile", "/stats"} {
		rec := e.do(t, "GET", path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestRoleGates(t *testing.T) {
	e := newTestEnv(t)
	_, studentToken := e.seedUser(t, domain.RoleStudent)
	_, librarianToken := e.seedUser(t, domain.RoleLibrarian)

	book := map[string]any{"isbn": "1", "title": "T", "authors": []string{"A"}, "totalCopies": 1}
	if rec := e.do(t, "POST", "/books", studentToken, book); rec.Code != http.StatusForbidden {
		t.Fatalf("student create book status = %d, want 403", rec.Code)
	}
	if rec := e.do(t, "POST", "/books", librarianToken, book); rec.Code != http.StatusCreated {
		t.Fatalf("librarian create book status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := e.do(t, "GET", "/stats", studentToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("student stats status = %d, want 403", rec.Code)
	}
	if rec := e.do(t, "GET", "/stats", librarianToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("librarian stats status = %d", rec.Code)
	}
	// user admin endpoints stay closed to librarians
	if rec := e.do(t, "GET", "/users", librarianToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("librarian list users status = %d, want 403", rec.Code)
	}
}

func TestBorrowReturnOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.seedUser(t, domain.RoleStudent)
	book := e.seedBook(t, 1)

	rec := e.do(t, "POST", "/loans", token, map[string]string{"bookId": book.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("borrow status = %d body=%s", rec.Code, rec.Body.String())
	}
	var loan domain.Loan
	if err := json.Unmarshal(rec.Body.Bytes(), &loan); err != nil {
		t.Fatalf("decode loan: %v", err)
	}

	// second borrower hits the empty shelf
	_, otherToken := e.seedUser(t, domain.RoleStudent)
	rec = e.do(t, "POST", "/loans", otherToken, map[string]string{"bookId": book.ID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("no-copies status = %d, want 409", rec.Code)
	}
	if _, code := decodeError(t, rec); code != "BOOK_NO_COPIES" {
		t.Fatalf("code = %q", code)
	}

	rec = e.do(t, "POST", "/loans/"+loan.ID+"/return", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("return status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, "POST", "/loans/"+loan.ID+"/return", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double return status = %d, want 409", rec.Code)
	}
	if _, code := decodeError(t, rec); code != "LOAN_INVALID_STATE" {
		t.Fatalf("code = %q", code)
	}
}

func TestPayFineOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	user, token := e.seedUser(t, domain.RoleStudent)
	user.CurrentFines = 3.00
	if err := e.store.SaveUser(context.Background(), user); err != nil {
		t.Fatalf("save user: %v", err)
	}

	rec := e.do(t, "POST", "/users/pay-fine", token, map[string]float64{"amount": 10})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("overpay status = %d, want 400", rec.Code)
	}

	rec = e.do(t, "POST", "/users/pay-fine", token, map[string]float64{"amount": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("pay status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		CurrentFines float64 `json:"currentFines"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CurrentFines != 0 {
		t.Fatalf("currentFines = %v, want 0", resp.CurrentFines)
	}
}

func TestUserStatusAdminOnly(t *testing.T) {
	e := newTestEnv(t)
	target, _ := e.seedUser(t, domain.RoleStudent)
	_, librarianToken := e.seedUser(t, domain.RoleLibrarian)
	_, adminToken := e.seedUser(t, domain.RoleAdmin)

	rec := e.do(t, "PATCH", "/users/"+target.ID+"/status", librarianToken, map[string]string{"status": "suspended"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("librarian status change = %d, want 403", rec.Code)
	}
	rec = e.do(t, "PATCH", "/users/"+target.ID+"/status", adminToken, map[string]string{"status": "suspended"})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status change = %d body=%s", rec.Code, rec.Body.String())
	}
	var updated domain.User
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Status != domain.StatusSuspended {
		t.Fatalf("status = %q", updated.Status)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.seedUser(t, domain.RoleStudent)

	if rec := e.do(t, "GET", "/auth/me", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("me before logout = %d", rec.Code)
	}
	if rec := e.do(t, "POST", "/auth/logout", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}
	if rec := e.do(t, "GET", "/auth/me", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", rec.Code)
	}
}

func TestGetMissingBook(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.seedUser(t, domain.RoleStudent)
	rec := e.do(t, "GET", "/books/nope", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, code := decodeError(t, rec); code != "BOOK_NOT_FOUND" {
		t.Fatalf("code = %q", code)
	}
}
