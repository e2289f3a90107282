package demo

import (
	"sort"

	"github.com/canonica-labs/rlsdemo/internal/errors"
)

// IsolationResult is the verdict of CheckIsolation.
type IsolationResult struct {
	Passed     bool        `json:"passed" yaml:"passed"`
	Evaluated  int         `json:"evaluated" yaml:"evaluated"`
	Violations []Violation `json:"violations,omitempty" yaml:"violations,omitempty"`

	// NotEvaluated lists users without a successful documents query.
	NotEvaluated []string `json:"not_evaluated,omitempty" yaml:"not_evaluated,omitempty"`
}

// Violation is one company whose documents were visible to more than one group.
type Violation struct {
	CompanyID string   `json:"company_id" yaml:"company_id"`
	Groups    []string `json:"groups" yaml:"groups"`
	Users     []string `json:"users" yaml:"users"`
}

// Err returns an ErrIsolationViolated when the check failed.
func (r *IsolationResult) Err() error {
	if r == nil || r.Passed {
		return nil
	}
	ids := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		ids = append(ids, v.CompanyID)
	}
	return errors.NewIsolationViolated(ids)
}

// CheckIsolation verifies that no company id appears in the documents seen by
// users of two different groups.
func CheckIsolation(report *Report) *IsolationResult {
	res := &IsolationResult{}

	groups := make(map[string]map[string]bool)
	users := make(map[string]map[string]bool)

	for _, u := range report.Users {
		if !u.Documents.Succeeded() {
			res.NotEvaluated = append(res.NotEvaluated, u.Email)
			continue
		}
		res.Evaluated++
		for _, id := range u.CompanyIDs() {
			if groups[id] == nil {
				groups[id] = make(map[string]bool)
				users[id] = make(map[string]bool)
			}
			groups[id][u.Group] = true
			users[id][u.Email] = true
		}
	}

	for id, g := range groups {
		if len(g) < 2 {
			continue
		}
		res.Violations = append(res.Violations, Violation{
			CompanyID: id,
			Groups:    sortedKeys(g),
			Users:     sortedKeys(users[id]),
		})
	}
	sort.Slice(res.Violations, func(i, j int) bool {
		return res.Violations[i].CompanyID < res.Violations[j].CompanyID
	})
	res.Passed = len(res.Violations) == 0
	return res
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
