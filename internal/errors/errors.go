// Package errors provides explicit, human-readable error types for rlsdemo.
// Every error carries a Reason and, where the operator can act on it, a Suggestion.
//
// The demo distinguishes a small set of failure kinds (authentication, missing
// session, query, service availability, configuration). Callers dispatch on them
// with errors.As instead of inspecting message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// DemoError is the base error type for all rlsdemo errors.
type DemoError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of error for exit code mapping.
type ErrorCode int

const (
	CodeValidation ErrorCode = 1
	CodeAuth       ErrorCode = 2
	CodeService    ErrorCode = 3
	CodeInternal   ErrorCode = 4
	CodeIsolation  ErrorCode = 5
)

func (e *DemoError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *DemoError) Unwrap() error {
	return e.Cause
}

// demoError lets Brief, CodeOf and KindOf reach the embedded DemoError of any
// concrete error type.
func (e *DemoError) demoError() *DemoError {
	return e
}

type tagged interface {
	error
	demoError() *DemoError
}

// ErrAuthFailed is returned when the auth service rejects a sign-in or sign-out.
type ErrAuthFailed struct {
	DemoError
	Email  string
	Status int
}

// NewAuthFailed creates a new ErrAuthFailed.
func NewAuthFailed(email string, status int, reason string) *ErrAuthFailed {
	return &ErrAuthFailed{
		DemoError: DemoError{
			Code:       CodeAuth,
			Message:    fmt.Sprintf("authentication failed for %s", email),
			Reason:     reason,
			Suggestion: "check the user's email and password, and that the account is confirmed",
		},
		Email:  email,
		Status: status,
	}
}

// ErrNoSession is returned when sign-in succeeds at the HTTP level but the
// service hands back no session.
type ErrNoSession struct {
	DemoError
	Email string
}

// NewNoSession creates a new ErrNoSession.
func NewNoSession(email string) *ErrNoSession {
	return &ErrNoSession{
		DemoError: DemoError{
			Code:       CodeAuth,
			Message:    fmt.Sprintf("no session returned for %s", email),
			Reason:     "No session returned.",
			Suggestion: "the account may require email confirmation or a second factor",
		},
		Email: email,
	}
}

// ErrQueryFailed is returned when the data API rejects or cannot serve a select.
type ErrQueryFailed struct {
	DemoError
	Table  string
	Status int
	PGCode string
	Hint   string
}

// NewQueryFailed creates a new ErrQueryFailed.
func NewQueryFailed(table string, status int, reason string, cause error) *ErrQueryFailed {
	return &ErrQueryFailed{
		DemoError: DemoError{
			Code:       CodeService,
			Message:    fmt.Sprintf("query on %s failed", table),
			Reason:     reason,
			Suggestion: fmt.Sprintf("check that table %s exists and is exposed by the data API", table),
			Cause:      cause,
		},
		Table:  table,
		Status: status,
	}
}

// ErrServiceUnavailable is returned when the service cannot be reached at all.
type ErrServiceUnavailable struct {
	DemoError
	Endpoint string
}

// NewServiceUnavailable creates a new ErrServiceUnavailable.
func NewServiceUnavailable(endpoint, reason string) *ErrServiceUnavailable {
	return &ErrServiceUnavailable{
		DemoError: DemoError{
			Code:       CodeService,
			Message:    "service unavailable",
			Reason:     reason,
			Suggestion: "check SERVICE_URL and network connectivity with 'rlsdemo doctor'",
		},
		Endpoint: endpoint,
	}
}

// ErrInvalidConfig is returned when configuration is missing or malformed.
type ErrInvalidConfig struct {
	DemoError
	Field string
}

// NewInvalidConfig creates a new ErrInvalidConfig.
func NewInvalidConfig(field, reason string) *ErrInvalidConfig {
	return &ErrInvalidConfig{
		DemoError: DemoError{
			Code:       CodeValidation,
			Message:    "invalid configuration",
			Reason:     fmt.Sprintf("field '%s': %s", field, reason),
			Suggestion: "set it in the config file, the environment, or via flags",
		},
		Field: field,
	}
}

// ErrMigrationFailed is returned when an audit schema migration cannot be applied.
type ErrMigrationFailed struct {
	DemoError
	Migration string
}

// NewMigrationFailed creates a new ErrMigrationFailed.
func NewMigrationFailed(migration string, cause error) *ErrMigrationFailed {
	return &ErrMigrationFailed{
		DemoError: DemoError{
			Code:       CodeInternal,
			Message:    "migration failed",
			Reason:     fmt.Sprintf("migration '%s' could not be applied", migration),
			Suggestion: "check the audit database permissions and the schema_migrations table",
			Cause:      cause,
		},
		Migration: migration,
	}
}

// ErrIsolationViolated is returned when users of different groups saw the
// same company's documents.
type ErrIsolationViolated struct {
	DemoError
	CompanyIDs []string
}

// NewIsolationViolated creates a new ErrIsolationViolated.
func NewIsolationViolated(companyIDs []string) *ErrIsolationViolated {
	return &ErrIsolationViolated{
		DemoError: DemoError{
			Code:       CodeIsolation,
			Message:    "tenant isolation violated",
			Reason:     fmt.Sprintf("company ids visible across groups: %v", companyIDs),
			Suggestion: "review the row-level security policies on the documents table",
		},
		CompanyIDs: companyIDs,
	}
}

// Kind names used in reports and audit entries.
const (
	KindAuth        = "auth"
	KindNoSession   = "no_session"
	KindQuery       = "query"
	KindUnavailable = "unavailable"
	KindConfig      = "config"
	KindInternal    = "internal"
)

// KindOf classifies err into one of the Kind constants.
func KindOf(err error) string {
	var (
		noSession   *ErrNoSession
		authFailed  *ErrAuthFailed
		queryFailed *ErrQueryFailed
		unavailable *ErrServiceUnavailable
		invalid     *ErrInvalidConfig
	)
	switch {
	case err == nil:
		return ""
	case stderrors.As(err, &noSession):
		return KindNoSession
	case stderrors.As(err, &authFailed):
		return KindAuth
	case stderrors.As(err, &queryFailed):
		return KindQuery
	case stderrors.As(err, &unavailable):
		return KindUnavailable
	case stderrors.As(err, &invalid):
		return KindConfig
	default:
		return KindInternal
	}
}

// Brief returns a single-line description of err suitable for the demo's
// line-oriented output. For rlsdemo errors this is the Reason.
func Brief(err error) string {
	if err == nil {
		return ""
	}
	var t tagged
	if stderrors.As(err, &t) {
		de := t.demoError()
		if de.Reason != "" {
			return de.Reason
		}
		return de.Message
	}
	return err.Error()
}

// CodeOf maps err to an ErrorCode. Unknown errors are internal.
func CodeOf(err error) ErrorCode {
	var t tagged
	if stderrors.As(err, &t) {
		return t.demoError().Code
	}
	return CodeInternal
}

// Is and As re-export the standard library helpers so callers importing this
// package under the name "errors" keep access to them.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
