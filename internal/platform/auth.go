package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/canonica-labs/rlsdemo/internal/auth"
	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/pkg/api"
)

// tokenResponse is the auth API's answer to a password grant.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

// SignInWithPassword exchanges an email and password for a session.
//
// Errors are *errors.ErrAuthFailed when the service rejects the credentials,
// *errors.ErrNoSession when it accepts them but returns no session, and
// *errors.ErrServiceUnavailable when it cannot be reached.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	if c.endpoint == "" {
		return nil, errors.NewServiceUnavailable("", "no service URL configured")
	}

	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	query := url.Values{"grant_type": {api.GrantTypePassword}}

	resp, err := c.doRequest(ctx, http.MethodPost, api.PathAuthToken, query, c.anonKey, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		se := parseServiceError(resp)
		if resp.StatusCode >= 500 {
			return nil, errors.NewServiceUnavailable(c.endpoint, fmt.Sprintf("auth service returned %d: %s", resp.StatusCode, se.message()))
		}
		return nil, errors.NewAuthFailed(email, resp.StatusCode, se.message())
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.NewNoSession(email)
	}

	session := &auth.Session{
		Email:        email,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	if tr.User != nil {
		session.UserID = tr.User.ID
		if tr.User.Email != "" {
			session.Email = tr.User.Email
		}
		session.Role = tr.User.Role
	}
	switch {
	case tr.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		session.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	claims, err := auth.ParseClaims(tr.AccessToken)
	if err != nil {
		c.logger.Debug("access token is not a decodable JWT", zap.String("email", email), zap.Error(err))
	} else {
		if session.UserID != "" && claims.Subject != "" && claims.Subject != session.UserID {
			c.logger.Warn("token subject does not match user id",
				zap.String("email", email),
				zap.String("user_id", session.UserID),
				zap.String("subject", claims.Subject))
		}
		session.ApplyClaims(claims)
	}

	if err := session.Valid(); err != nil {
		return nil, errors.NewNoSession(email)
	}
	if !auth.ValidUserID(session.UserID) {
		c.logger.Debug("user id is not a UUID", zap.String("email", email), zap.String("user_id", session.UserID))
	}

	return session, nil
}

// SignOut invalidates session on the server. A session the server no longer
// knows (401, 403, 404) counts as signed out.
func (c *Client) SignOut(ctx context.Context, session *auth.Session) error {
	if session == nil || session.AccessToken == "" {
		return nil
	}
	if c.endpoint == "" {
		return errors.NewServiceUnavailable("", "no service URL configured")
	}

	resp, err := c.doRequest(ctx, http.MethodPost, api.PathAuthLogout, nil, session.AccessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		c.logger.Debug("session already gone on sign-out",
			zap.String("email", session.Email),
			zap.Int("status", resp.StatusCode))
		return nil
	default:
		se := parseServiceError(resp)
		return errors.NewAuthFailed(session.Email, resp.StatusCode, se.message())
	}
}
