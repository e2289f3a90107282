// Package api defines the endpoint paths and header names of the hosted
// platform's auth and data APIs as used by rlsdemo.
package api

// API paths, relative to the service URL.
const (
	PathAuthToken  = "/auth/v1/token"
	PathAuthLogout = "/auth/v1/logout"
	PathAuthHealth = "/auth/v1/health"
	PathREST       = "/rest/v1/"
)

// GrantTypePassword is the grant_type query value for email/password sign-in.
const GrantTypePassword = "password"

// HTTP headers
const (
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "apikey"
	HeaderClientInfo    = "X-Client-Info"
	HeaderAcceptProfile = "Accept-Profile"
	HeaderRequestID     = "X-Request-ID"
)

// Content types
const (
	ContentTypeJSON = "application/json"
)

// DefaultSchema is the database schema the data API serves when no profile
// header is sent.
const DefaultSchema = "public"
