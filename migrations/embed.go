// Package migrations provides the embedded audit schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
