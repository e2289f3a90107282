// Package auth models the session the platform's auth service hands out after
// a password sign-in, and decodes the claims carried by its access token.
//
// Sessions are plain values owned by the caller for one user's turn. Nothing in
// this package keeps a "current" session.
package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/canonica-labs/rlsdemo/pkg/models"
)

// Session is the proof of a successful sign-in.
type Session struct {
	// UserID is the auth service's identifier for the user.
	UserID string `json:"user_id"`

	// Email is the address the user signed in with.
	Email string `json:"email"`

	// Role is the database role the data API assumes for this token
	// (usually "authenticated").
	Role string `json:"role,omitempty"`

	// AccessToken is the bearer token presented with every request of the turn.
	AccessToken string `json:"-"`

	// RefreshToken is kept for completeness; the demo never refreshes.
	RefreshToken string `json:"-"`

	TokenType string `json:"token_type,omitempty"`

	// ExpiresAt is when the access token stops being accepted. Zero if unknown.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// SessionID is the auth service's session identifier, when the token carries one.
	SessionID string `json:"session_id,omitempty"`
}

// Valid reports whether the session can be used for authenticated requests.
func (s *Session) Valid() error {
	if s == nil {
		return fmt.Errorf("auth: session is nil")
	}
	if s.UserID == "" {
		return fmt.Errorf("auth: session has no user id")
	}
	if s.AccessToken == "" {
		return fmt.Errorf("auth: session has no access token")
	}
	return nil
}

// IsExpired checks if the access token has expired at now.
func (s *Session) IsExpired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return now.After(s.ExpiresAt)
}

// Redacted returns a short preview of the access token safe to print.
func (s *Session) Redacted() string {
	return RedactToken(s.AccessToken)
}

// Info returns the printable view of the session.
func (s *Session) Info() models.SessionInfo {
	return models.SessionInfo{
		UserID:       s.UserID,
		Email:        s.Email,
		Role:         s.Role,
		TokenType:    s.TokenType,
		TokenPreview: s.Redacted(),
		ExpiresAt:    s.ExpiresAt,
	}
}

// ApplyClaims fills fields the sign-in response left empty from decoded
// token claims. Fields already set win.
func (s *Session) ApplyClaims(c *Claims) {
	if c == nil {
		return
	}
	if s.UserID == "" {
		s.UserID = c.Subject
	}
	if s.Email == "" {
		s.Email = c.Email
	}
	if s.Role == "" {
		s.Role = c.Role
	}
	if s.SessionID == "" {
		s.SessionID = c.SessionID
	}
	if s.ExpiresAt.IsZero() && c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
}

// ValidUserID reports whether id has the UUID shape the auth service uses.
func ValidUserID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// RedactToken keeps the first and last four characters of token.
func RedactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "****"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
