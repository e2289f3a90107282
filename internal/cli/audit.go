package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/internal/observability"
	"github.com/canonica-labs/rlsdemo/internal/storage"
)

// newAuditCmd creates the audit command.
func (c *CLI) newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit and reporting commands",
		Long:  `Commands for the visibility audit log written by demo runs.`,
	}

	cmd.AddCommand(c.newAuditSummaryCmd())

	return cmd
}

func (c *CLI) newAuditSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show audit summary",
		Long: `Display aggregated statistics from the audit database (audit.driver and
audit.dsn):
  - succeeded vs failed steps
  - top failure reasons
  - top queried tables
  - the most rows each user saw per table

No row contents are stored or shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAuditSummary(cmd.Context())
		},
	}
}

func (c *CLI) runAuditSummary(ctx context.Context) error {
	if c.cfg.Audit.Driver == "" {
		return errors.NewInvalidConfig("audit.driver", "no audit database configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := storage.OpenAndMigrate(ctx, c.cfg.Audit.Driver, c.cfg.Audit.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	logger, err := observability.NewPersistentLogger(db)
	if err != nil {
		return err
	}
	summary, err := logger.Summary(ctx)
	if err != nil {
		return err
	}

	if c.structured() {
		return c.encode(summary)
	}

	c.println("Step Summary:")
	c.printf("  Succeeded: %d\n", summary.SucceededCount)
	c.printf("  Failed:    %d\n", summary.FailedCount)

	if len(summary.TopFailureReasons) > 0 {
		c.println("\nTop Failure Reasons:")
		for _, r := range summary.TopFailureReasons {
			c.printf("  - %s: %d\n", r.Reason, r.Count)
		}
	}

	if len(summary.TopQueriedTables) > 0 {
		c.println("\nTop Queried Tables:")
		for _, t := range summary.TopQueriedTables {
			c.printf("  - %s: %d\n", t.Table, t.Count)
		}
	}

	if len(summary.Visibility) > 0 {
		c.println("\nVisible Rows:")
		for _, v := range summary.Visibility {
			c.printf("  - %s on %s: %d\n", v.User, v.Table, v.MaxRows)
		}
	}

	return nil
}
