package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSession_Valid(t *testing.T) {
	s := &Session{UserID: "8b1d3c2e-1111-4a4a-9b9b-000000000001", AccessToken: "tok"}
	assert.NoError(t, s.Valid())

	assert.Error(t, (*Session)(nil).Valid())
	assert.Error(t, (&Session{AccessToken: "tok"}).Valid(), "missing user id")
	assert.Error(t, (&Session{UserID: "u"}).Valid(), "missing token")
}

func TestSession_IsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, (&Session{}).IsExpired(now), "unknown expiry never expires")
	assert.True(t, (&Session{ExpiresAt: now.Add(-time.Minute)}).IsExpired(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Minute)}).IsExpired(now))
}

func TestParseClaims_DecodesWithoutSecret(t *testing.T) {
	exp := time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC)
	token := signedToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "8b1d3c2e-1111-4a4a-9b9b-000000000001",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:     "alice@companya.com",
		Role:      "authenticated",
		SessionID: "sess-1",
	})

	claims, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "8b1d3c2e-1111-4a4a-9b9b-000000000001", claims.Subject)
	assert.Equal(t, "alice@companya.com", claims.Email)
	assert.Equal(t, "authenticated", claims.Role)
	assert.True(t, claims.ExpiresAt.Time.Equal(exp))
}

func TestParseClaims_RejectsOpaqueTokens(t *testing.T) {
	_, err := ParseClaims("")
	assert.Error(t, err)

	_, err = ParseClaims("not-a-jwt")
	assert.Error(t, err)
}

func TestSession_ApplyClaimsKeepsExplicitFields(t *testing.T) {
	s := &Session{UserID: "from-response", AccessToken: "tok"}
	s.ApplyClaims(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "from-token"},
		Role:             "authenticated",
		Email:            "bob@companya.com",
	})

	assert.Equal(t, "from-response", s.UserID)
	assert.Equal(t, "authenticated", s.Role)
	assert.Equal(t, "bob@companya.com", s.Email)

	s.ApplyClaims(nil)
	assert.Equal(t, "from-response", s.UserID)
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "", RedactToken(""))
	assert.Equal(t, "****", RedactToken("short"))
	assert.Equal(t, "eyJh…wxyz", RedactToken("eyJhbGciOiJIUzI1NiJ9.payload.sig-wxyz"))
}

func TestValidUserID(t *testing.T) {
	assert.True(t, ValidUserID("8b1d3c2e-1111-4a4a-9b9b-000000000001"))
	assert.False(t, ValidUserID("user-1"))
}
