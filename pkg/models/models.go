// Package models provides the data shapes rlsdemo reads from the platform and
// reports back to the operator.
package models

import "time"

// Credential is one demo user's sign-in material.
type Credential struct {
	Email    string `json:"email" yaml:"email" mapstructure:"email"`
	Password string `json:"-" yaml:"-" mapstructure:"password"`
	// Group names the tenant the user belongs to. Users in different groups
	// must never see each other's companies.
	Group string `json:"group,omitempty" yaml:"group,omitempty" mapstructure:"group"`
}

// Document is a row of the documents table.
type Document struct {
	Name      string `json:"name" yaml:"name"`
	CompanyID string `json:"company_id" yaml:"company_id"`
}

// DocumentSection is a row of the document_sections table.
type DocumentSection struct {
	ID         string `json:"id" yaml:"id"`
	DocumentID string `json:"document_id" yaml:"document_id"`
}

// SessionInfo is the printable view of a session. The access token is never
// included in full.
type SessionInfo struct {
	UserID       string    `json:"user_id" yaml:"user_id"`
	Email        string    `json:"email,omitempty" yaml:"email,omitempty"`
	Role         string    `json:"role,omitempty" yaml:"role,omitempty"`
	TokenType    string    `json:"token_type,omitempty" yaml:"token_type,omitempty"`
	TokenPreview string    `json:"token_preview" yaml:"token_preview"`
	ExpiresAt    time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}
