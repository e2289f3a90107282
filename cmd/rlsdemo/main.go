// Package main is the entrypoint for the rlsdemo CLI.
// Without a subcommand it runs the row-level security demo over the
// configured users.
package main

import (
	"os"

	"github.com/canonica-labs/rlsdemo/internal/cli"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=..."
var (
	version string
	commit  string
	date    string
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	os.Exit(cli.New().Execute())
}
