// Package platformtest provides an in-process fake of the platform's auth and
// data APIs for tests. It enforces a simple row-level security rule: a signed-in
// user sees the documents of their own company and the sections of those
// documents; anonymous callers see nothing.
package platformtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AnonKey is the key the fake server accepts.
const AnonKey = "test-anon-key"

var signingKey = []byte("platformtest-secret")

// User is an account known to the fake auth API.
type User struct {
	ID        string
	Email     string
	Password  string
	CompanyID int
}

// Document is a row of the fake documents table.
type Document struct {
	ID        int
	Name      string
	CompanyID int
}

// Section is a row of the fake document_sections table.
type Section struct {
	ID         int
	DocumentID int
}

// Request records one call the server received.
type Request struct {
	Method        string
	Path          string
	Authorization string
	APIKey        string
	Profile       string
}

// Server is the fake platform.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]User
	documents []Document
	sections  []Section
	tokens    map[string]User
	issued    map[string]User
	requests  []Request
	signOuts  map[string]int

	// FailTables makes selects on a table answer with the given status.
	FailTables map[string]int
	// NoSession lists emails whose sign-in answers 200 without a session.
	NoSession map[string]bool
	// FailSignOut makes sign-out answer 500.
	FailSignOut bool
}

// DemoUsers are the four seeded demo accounts: alice and bob at company 1,
// charlie and david at company 2.
func DemoUsers() []User {
	return []User{
		{ID: "00000000-0000-4000-8000-00000000000a", Email: "alice@companya.com", Password: "testtest", CompanyID: 1},
		{ID: "00000000-0000-4000-8000-00000000000b", Email: "bob@companya.com", Password: "testtest", CompanyID: 1},
		{ID: "00000000-0000-4000-8000-00000000000c", Email: "charlie@companyb.com", Password: "testtest", CompanyID: 2},
		{ID: "00000000-0000-4000-8000-00000000000d", Email: "david@companyb.com", Password: "testtest", CompanyID: 2},
	}
}

// DemoDocuments are the seeded documents.
func DemoDocuments() []Document {
	return []Document{
		{ID: 1, Name: "Company A Handbook", CompanyID: 1},
		{ID: 2, Name: "Company A Roadmap", CompanyID: 1},
		{ID: 3, Name: "Company B Handbook", CompanyID: 2},
	}
}

// DemoSections are the seeded sections.
func DemoSections() []Section {
	return []Section{
		{ID: 10, DocumentID: 1},
		{ID: 11, DocumentID: 2},
		{ID: 12, DocumentID: 3},
	}
}

// NewServer starts a fake seeded with the demo data. It is closed when the
// test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		users:      make(map[string]User),
		tokens:     make(map[string]User),
		issued:     make(map[string]User),
		signOuts:   make(map[string]int),
		documents:  DemoDocuments(),
		sections:   DemoSections(),
		FailTables: make(map[string]int),
		NoSession:  make(map[string]bool),
	}
	for _, u := range DemoUsers() {
		s.users[u.Email] = u
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", s.handleToken)
	mux.HandleFunc("/auth/v1/logout", s.handleLogout)
	mux.HandleFunc("/auth/v1/health", s.handleHealth)
	mux.HandleFunc("/rest/v1/", s.handleREST)

	s.Server = httptest.NewServer(s.record(mux))
	t.Cleanup(s.Close)
	return s
}

// Requests returns a copy of the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// SignOuts returns how many times email signed out.
func (s *Server) SignOuts(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signOuts[email]
}

// ActiveSessions returns the number of tokens not yet signed out.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// TokenOwner returns the email a bearer token was issued to, whether or not
// it has since been signed out.
func (s *Server) TokenOwner(authorization string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.issued[strings.TrimPrefix(authorization, "Bearer ")]
	if !ok {
		return ""
	}
	return u.Email
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			APIKey:        r.Header.Get("apikey"),
			Profile:       r.Header.Get("Accept-Profile"),
		})
		s.mu.Unlock()

		if r.Header.Get("apikey") != AnonKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Query().Get("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "validation_failed", "msg": "unsupported grant type"})
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "msg": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[body.Email]
	if !ok || u.Password != body.Password {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":       400,
			"error_code": "invalid_credentials",
			"msg":        "Invalid login credentials",
		})
		return
	}
	if s.NoSession[body.Email] {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil, "session": nil})
		return
	}

	exp := time.Now().Add(time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        u.ID,
		"email":      u.Email,
		"role":       "authenticated",
		"exp":        exp.Unix(),
		"session_id": fmt.Sprintf("session-%d", len(s.requests)),
	}).SignedString(signingKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"msg": err.Error()})
		return
	}
	s.tokens[token] = u
	s.issued[token] = u

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  token,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    exp.Unix(),
		"refresh_token": "refresh-" + u.ID,
		"user": map[string]any{
			"id":    u.ID,
			"email": u.Email,
			"role":  "authenticated",
		},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailSignOut {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": 500, "msg": "logout unavailable"})
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	u, ok := s.tokens[token]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid JWT"})
		return
	}
	delete(s.tokens, token)
	s.signOuts[u.Email]++
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "GoTrue",
		"version":     "v2.170.0",
		"description": "GoTrue is a user registration and authentication API",
	})
}

func (s *Server) handleREST(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	if table == "" {
		writeJSON(w, http.StatusOK, map[string]any{"swagger": "2.0"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.FailTables[table]; ok {
		writeJSON(w, status, map[string]any{
			"code":    "42501",
			"details": nil,
			"hint":    nil,
			"message": fmt.Sprintf("permission denied for table %s", table),
		})
		return
	}

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	user, signedIn := s.tokens[bearer]
	if !signedIn && bearer != AnonKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": "PGRST301", "message": "JWT expired"})
		return
	}

	rows := []map[string]any{}
	switch table {
	case "documents":
		for _, d := range s.documents {
			if signedIn && d.CompanyID == user.CompanyID {
				rows = append(rows, map[string]any{"id": d.ID, "name": d.Name, "company_id": d.CompanyID})
			}
		}
	case "document_sections":
		visible := make(map[int]bool)
		for _, d := range s.documents {
			if signedIn && d.CompanyID == user.CompanyID {
				visible[d.ID] = true
			}
		}
		for _, sec := range s.sections {
			if visible[sec.DocumentID] {
				rows = append(rows, map[string]any{"id": sec.ID, "document_id": sec.DocumentID})
			}
		}
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{
			"code":    "42P01",
			"message": fmt.Sprintf("relation \"public.%s\" does not exist", table),
		})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
