package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields of an access token the demo cares about.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	AAL       string `json:"aal,omitempty"`
}

// ParseClaims decodes token without verifying its signature. The client never
// holds the project's signing secret; the service verifies every request.
func ParseClaims(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("auth: empty token")
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("auth: decode access token: %w", err)
	}
	return claims, nil
}
