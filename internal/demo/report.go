package demo

import (
	"time"

	"github.com/canonica-labs/rlsdemo/internal/platform"
	"github.com/canonica-labs/rlsdemo/pkg/models"
)

// Report is the outcome of one run over the credential list.
type Report struct {
	RunID      string       `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time    `json:"finished_at" yaml:"finished_at"`
	Users      []UserResult `json:"users" yaml:"users"`

	// Interrupted is set when the context was cancelled before every user had
	// a turn. The remaining users are absent from Users.
	Interrupted bool `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`

	// Isolation is set only when the isolation check was requested.
	Isolation *IsolationResult `json:"isolation,omitempty" yaml:"isolation,omitempty"`
}

// UserResult is what happened during one user's turn.
type UserResult struct {
	Email         string `json:"email" yaml:"email"`
	Group         string `json:"group,omitempty" yaml:"group,omitempty"`
	Authenticated bool   `json:"authenticated" yaml:"authenticated"`
	UserID        string `json:"user_id,omitempty" yaml:"user_id,omitempty"`

	// ErrorKind and Error describe a failed sign-in.
	ErrorKind string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`

	Documents QueryOutcome[models.Document]        `json:"documents" yaml:"documents"`
	Sections  QueryOutcome[models.DocumentSection] `json:"sections" yaml:"sections"`

	SignedOut    bool   `json:"signed_out" yaml:"signed_out"`
	SignOutError string `json:"sign_out_error,omitempty" yaml:"sign_out_error,omitempty"`
}

// QueryOutcome is the result of one select: either rows or an error, never
// both. A query that was never attempted has neither.
type QueryOutcome[T any] struct {
	Attempted bool   `json:"attempted" yaml:"attempted"`
	Rows      []T    `json:"rows,omitempty" yaml:"rows,omitempty"`
	ErrorKind string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Succeeded reports whether the query ran and returned rows (possibly none).
func (q QueryOutcome[T]) Succeeded() bool {
	return q.Attempted && q.Error == ""
}

// Authenticated returns the results of users who obtained a session.
func (r *Report) Authenticated() []UserResult {
	var out []UserResult
	for _, u := range r.Users {
		if u.Authenticated {
			out = append(out, u)
		}
	}
	return out
}

// CompanyIDs returns the distinct company ids u saw, in first-seen order.
// Documents without a company are skipped.
func (u UserResult) CompanyIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, d := range u.Documents.Rows {
		if d.CompanyID == platform.NullText {
			continue
		}
		if !seen[d.CompanyID] {
			seen[d.CompanyID] = true
			ids = append(ids, d.CompanyID)
		}
	}
	return ids
}
