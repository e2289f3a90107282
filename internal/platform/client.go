// Package platform is the HTTP client for the hosted backend-as-a-service
// project the demo talks to: its auth API (password sign-in, sign-out, health)
// and its data API (table selects).
//
// The client holds no per-user state. Every data API call takes an explicit
// Scope carrying the access token to present, so one user's token can never
// ride along on another user's request.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/pkg/api"
)

// DefaultTimeout bounds every request when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	// URL is the project URL, e.g. https://xyzcompany.supabase.co.
	URL string

	// AnonKey is the project's anonymous API key.
	AnonKey string

	// Schema is the data API schema. Empty or "public" sends no profile header.
	Schema string

	Timeout time.Duration

	// ClientInfo is sent as X-Client-Info.
	ClientInfo string

	// Transport overrides the base round tripper (tests). It is wrapped by otelhttp.
	Transport http.RoundTripper

	Logger *zap.Logger
}

// Client talks to one platform project.
type Client struct {
	endpoint   string
	anonKey    string
	schema     string
	clientInfo string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new platform client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	schema := opts.Schema
	if schema == api.DefaultSchema {
		schema = ""
	}
	return &Client{
		endpoint:   strings.TrimRight(opts.URL, "/"),
		anonKey:    opts.AnonKey,
		schema:     schema,
		clientInfo: opts.ClientInfo,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
		logger: logger,
	}
}

// Endpoint returns the configured project URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// HealthInfo is the auth API's health response.
type HealthInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Health checks the auth API.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	if c.endpoint == "" {
		return nil, errors.NewServiceUnavailable("", "no service URL configured")
	}

	resp, err := c.doRequest(ctx, http.MethodGet, api.PathAuthHealth, nil, c.anonKey, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		se := parseServiceError(resp)
		return nil, errors.NewServiceUnavailable(c.endpoint, fmt.Sprintf("auth health returned %d: %s", resp.StatusCode, se.message()))
	}

	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &info, nil
}

// doRequest performs an HTTP request against the project. bearer is sent as
// the Authorization token; the anon key always goes in the apikey header.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, bearer string, body io.Reader) (*http.Response, error) {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(api.HeaderAccept, api.ContentTypeJSON)
	if body != nil {
		req.Header.Set(api.HeaderContentType, api.ContentTypeJSON)
	}
	req.Header.Set(api.HeaderAPIKey, c.anonKey)
	if bearer != "" {
		req.Header.Set(api.HeaderAuthorization, "Bearer "+bearer)
	}
	if c.schema != "" && strings.HasPrefix(path, api.PathREST) {
		req.Header.Set(api.HeaderAcceptProfile, c.schema)
	}
	if c.clientInfo != "" {
		req.Header.Set(api.HeaderClientInfo, c.clientInfo)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, errors.NewServiceUnavailable(c.endpoint, err.Error())
	}
	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	return resp, nil
}

// serviceError is the union of the error bodies the auth and data APIs send.
type serviceError struct {
	// data API
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Details string          `json:"details"`
	Hint    string          `json:"hint"`

	// auth API, current and legacy shapes
	Msg              string `json:"msg"`
	ErrorCode        string `json:"error_code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`

	raw    string
	status int
}

func (e *serviceError) message() string {
	for _, m := range []string{e.Msg, e.ErrorDescription, e.Message, e.Error} {
		if m != "" {
			return m
		}
	}
	if e.raw != "" {
		return e.raw
	}
	return http.StatusText(e.status)
}

// code returns the machine-readable code as text. The data API sends a string
// (a SQLSTATE such as "42501"), the auth API a number or an error_code string.
func (e *serviceError) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	if len(e.Code) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Code, &s); err == nil {
		return s
	}
	return string(e.Code)
}

// parseServiceError reads an error response body.
func parseServiceError(resp *http.Response) *serviceError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	se := &serviceError{status: resp.StatusCode}
	if err := json.Unmarshal(body, se); err != nil {
		se.raw = strings.TrimSpace(string(body))
	}
	return se
}
