package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/canonica-labs/rlsdemo/internal/auth"
	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/pkg/api"
)

// Row is one row returned by the data API. Numbers decode as json.Number.
type Row map[string]any

// Scope is the authentication context presented with data API requests.
// The zero value is anonymous: requests carry only the project's anon key.
type Scope struct {
	accessToken string
	userID      string
}

// AnonymousScope returns a scope that sees only what anonymous access permits.
func AnonymousScope() Scope {
	return Scope{}
}

// BindSession returns a scope presenting session's access token.
func BindSession(session *auth.Session) Scope {
	if session == nil {
		return Scope{}
	}
	return Scope{accessToken: session.AccessToken, userID: session.UserID}
}

// Anonymous reports whether the scope carries no user token.
func (s Scope) Anonymous() bool {
	return s.accessToken == ""
}

// UserID returns the user the scope was bound to, if any.
func (s Scope) UserID() string {
	return s.userID
}

// bearer returns the token to put in the Authorization header.
func (s Scope) bearer(anonKey string) string {
	if s.accessToken != "" {
		return s.accessToken
	}
	return anonKey
}

// Select returns every row of table visible to scope, in the order the
// service returns them. Row visibility is decided by the service's row-level
// security policies.
func (c *Client) Select(ctx context.Context, scope Scope, table string) ([]Row, error) {
	if table == "" {
		return nil, errors.NewQueryFailed(table, 0, "table name is required", nil)
	}
	if c.endpoint == "" {
		return nil, errors.NewQueryFailed(table, 0, "no service URL configured",
			errors.NewServiceUnavailable("", "no service URL configured"))
	}

	query := url.Values{"select": {"*"}}
	resp, err := c.doRequest(ctx, http.MethodGet, api.PathREST+url.PathEscape(table), query, scope.bearer(c.anonKey), nil)
	if err != nil {
		return nil, errors.NewQueryFailed(table, 0, errors.Brief(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		se := parseServiceError(resp)
		qe := errors.NewQueryFailed(table, resp.StatusCode, se.message(), nil)
		qe.PGCode = se.code()
		qe.Hint = se.Hint
		return nil, qe
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rows []Row
	if err := dec.Decode(&rows); err != nil {
		return nil, errors.NewQueryFailed(table, resp.StatusCode, fmt.Sprintf("failed to decode rows: %v", err), err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// Ping checks that the data API answers for scope.
func (c *Client) Ping(ctx context.Context, scope Scope) error {
	if c.endpoint == "" {
		return errors.NewServiceUnavailable("", "no service URL configured")
	}

	resp, err := c.doRequest(ctx, http.MethodGet, api.PathREST, nil, scope.bearer(c.anonKey), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		se := parseServiceError(resp)
		return errors.NewServiceUnavailable(c.endpoint, fmt.Sprintf("data API returned %d: %s", resp.StatusCode, se.message()))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		se := parseServiceError(resp)
		return errors.NewAuthFailed("anonymous", resp.StatusCode, se.message())
	}
	return nil
}
