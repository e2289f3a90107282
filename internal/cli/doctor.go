package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/internal/platform"
	"github.com/canonica-labs/rlsdemo/internal/storage"
	"github.com/canonica-labs/rlsdemo/pkg/api"
)

const doctorTimeout = 10 * time.Second

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		Long: `Run diagnostics before a demo run.

Checks:
  - configuration (service URL, anon key, users)
  - auth API health
  - data API reachability with the anon key
  - audit database, when one is configured`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor(cmd.Context())
		},
	}
}

// DiagnosticCheck represents a single diagnostic check result.
type DiagnosticCheck struct {
	Name    string `json:"name" yaml:"name"`
	Passed  bool   `json:"passed" yaml:"passed"`
	Message string `json:"message" yaml:"message"`
	Details string `json:"details,omitempty" yaml:"details,omitempty"`

	err error
}

func (c *CLI) runDoctor(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	checks := []DiagnosticCheck{c.checkConfig()}
	if checks[0].Passed {
		client := c.newPlatformClient()
		checks = append(checks, c.checkAuthAPI(ctx, client), c.checkDataAPI(ctx, client))
	}
	if c.cfg.Audit.Driver != "" {
		checks = append(checks, c.checkAuditDB(ctx))
	}

	var firstErr error
	for _, check := range checks {
		if !check.Passed && firstErr == nil {
			firstErr = check.err
		}
	}

	if c.structured() {
		if err := c.encode(map[string]interface{}{
			"checks":     checks,
			"all_passed": firstErr == nil,
		}); err != nil {
			return err
		}
		return firstErr
	}

	c.println("rlsdemo Diagnostics")
	c.println("===================")
	c.println("")
	for _, check := range checks {
		c.printCheck(check)
	}
	c.println("")
	if firstErr == nil {
		c.println("✓ All checks passed")
	} else {
		c.println("✗ Some checks failed - see above for details")
	}
	return firstErr
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	status := "✗"
	if check.Passed {
		status = "✓"
	}
	c.printf("%s %s: %s\n", status, check.Name, check.Message)
	if check.Details != "" && !check.Passed {
		c.printf("  → %s\n", check.Details)
	}
}

func failed(check DiagnosticCheck, message string, err error) DiagnosticCheck {
	check.Passed = false
	check.Message = message
	check.err = err
	check.Details = errors.Brief(err)
	return check
}

func (c *CLI) checkConfig() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Configuration"}
	if err := c.cfg.Validate(); err != nil {
		return failed(check, "Configuration is incomplete", err)
	}
	check.Passed = true
	check.Message = fmt.Sprintf("Project: %s, %d user(s)", c.cfg.Service.URL, len(c.cfg.Users))
	return check
}

func (c *CLI) checkAuthAPI(ctx context.Context, client *platform.Client) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Auth API"}
	info, err := client.Health(ctx)
	if err != nil {
		return failed(check, "Auth API is not healthy", err)
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%s %s", info.Name, info.Version)
	return check
}

func (c *CLI) checkDataAPI(ctx context.Context, client *platform.Client) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Data API"}
	if err := client.Ping(ctx, platform.AnonymousScope()); err != nil {
		return failed(check, "Data API rejected the anon key or is unreachable", err)
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%s%s reachable with the anon key", client.Endpoint(), api.PathREST)
	return check
}

func (c *CLI) checkAuditDB(ctx context.Context) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Audit Database"}
	db, err := storage.OpenAndMigrate(ctx, c.cfg.Audit.Driver, c.cfg.Audit.DSN)
	if err != nil {
		return failed(check, "Cannot open the audit database", err)
	}
	defer db.Close()

	applied, err := storage.NewMigrationRunner(db).Applied(ctx)
	if err != nil {
		return failed(check, "Cannot read schema_migrations", err)
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%s, %d migration(s) applied", c.cfg.Audit.Driver, len(applied))
	return check
}
