package demo

import (
	"fmt"
	"io"

	"github.com/canonica-labs/rlsdemo/pkg/models"
)

// printer writes the demo's line-oriented transcript.
type printer struct {
	w io.Writer
}

func (p printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p printer) loggingIn(email string) {
	p.line("\nLogging in as %s...", email)
}

func (p printer) authFailed(email, reason string) {
	p.line("Authentication failed for %s: %s", email, reason)
}

func (p printer) noSession(email string) {
	p.line("Authentication failed for %s: No session returned.", email)
}

func (p printer) authenticated(userID string) {
	p.line("Authenticated user ID: %s", userID)
}

func (p printer) attemptingDocuments(email string) {
	p.line("Attempting to retrieve documents for %s...", email)
}

func (p printer) documentsFailed(email, reason string) {
	p.line("Error retrieving documents for %s: %s", email, reason)
}

func (p printer) attemptingSections(email string) {
	p.line("\nAttempting to retrieve document sections for %s...", email)
}

func (p printer) sectionsFailed(email, reason string) {
	p.line("Error retrieving document sections for %s: %s", email, reason)
}

func (p printer) documents(email string, docs []models.Document) {
	p.line("Documents accessible by %s:", email)
	for _, d := range docs {
		p.line("- %s (Company ID: %s)", d.Name, d.CompanyID)
	}
}

func (p printer) sections(email string, sections []models.DocumentSection) {
	p.line("Document sections accessible by %s:", email)
	for _, s := range sections {
		p.line("- Section ID: %s, Document ID: %s", s.ID, s.DocumentID)
	}
}

func (p printer) signedOut(email string) {
	p.line("Signed out %s.", email)
}

func (p printer) signOutFailed(email, reason string) {
	p.line("Sign-out failed for %s: %s", email, reason)
}

func (p printer) isolation(res *IsolationResult) {
	p.line("\nIsolation check:")
	if res.Passed {
		p.line("PASS: no company visible across groups (%d users evaluated)", res.Evaluated)
	} else {
		for _, v := range res.Violations {
			p.line("FAIL: company %s visible to groups %v (users %v)", v.CompanyID, v.Groups, v.Users)
		}
	}
	if len(res.NotEvaluated) > 0 {
		p.line("Not evaluated: %v", res.NotEvaluated)
	}
}
