package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canonica-labs/rlsdemo/internal/demo"
	"github.com/canonica-labs/rlsdemo/internal/observability"
	"github.com/canonica-labs/rlsdemo/internal/storage"
)

func (c *CLI) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the row-level security demo",
		Long: `Sign in each configured user in turn, read the documents and
document_sections tables with that user's token, print what was visible, and
sign out.

A failure only affects the user or query it happened to; the run always goes
through the whole list.

With --isolation the visible company ids are compared across user groups
(the email domain unless configured) and the command exits with code 5 if any
company is visible to more than one group.

Example:
  rlsdemo run --user alice@companya.com --user charlie@companyb.com --isolation`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDemo(cmd.Context())
		},
	}
	c.addRunFlags(cmd)
	return cmd
}

func (c *CLI) addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&c.users, "user", nil, "only run this configured user (repeatable)")
	cmd.Flags().BoolVar(&c.isolation, "isolation", false, "check that no company is visible across user groups")
}

func (c *CLI) runDemo(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	users, err := c.cfg.FilterUsers(c.users)
	if err != nil {
		return err
	}

	audit, closeAudit := c.openAudit(ctx)
	defer closeAudit()

	var out io.Writer = c.stdout
	if c.structured() || c.quiet {
		out = io.Discard
	}

	client := c.newPlatformClient()
	runner := demo.NewRunner(demo.Options{
		Auth:      client,
		Data:      client,
		Out:       out,
		Audit:     audit,
		Logger:    c.logger,
		Tables:    c.cfg.Tables,
		Isolation: c.isolation,
	})
	c.logger.Debug("starting run", zap.String("run_id", runner.RunID()), zap.Int("users", len(users)))

	report := runner.Run(ctx, users)
	c.logger.Debug("run finished",
		zap.String("run_id", report.RunID),
		zap.Int("authenticated", len(report.Authenticated())),
		zap.Int("users", len(report.Users)))

	if c.structured() {
		if err := c.encode(report); err != nil {
			return err
		}
	}
	if report.Interrupted {
		return context.Cause(ctx)
	}
	return report.Isolation.Err()
}

// openAudit builds the audit sink from configuration. A sink that cannot be
// opened is skipped with a warning; auditing never stops the demo.
func (c *CLI) openAudit(ctx context.Context) (observability.AuditLogger, func()) {
	var sinks observability.Tee
	var closers []func()

	if path := c.cfg.Audit.JSONPath; path == "-" {
		sinks = append(sinks, observability.NewJSONLogger(c.stderr))
	} else if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			c.logger.Warn("audit json sink disabled", zap.String("path", path), zap.Error(err))
		} else {
			sinks = append(sinks, observability.NewJSONLogger(f))
			closers = append(closers, func() { f.Close() })
		}
	}

	if c.cfg.Audit.Driver != "" {
		logger, closeDB, err := c.openAuditDB(ctx)
		if err != nil {
			c.logger.Warn("audit database sink disabled", zap.String("driver", c.cfg.Audit.Driver), zap.Error(err))
		} else {
			sinks = append(sinks, logger)
			closers = append(closers, closeDB)
		}
	}

	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}
	if len(sinks) == 0 {
		return observability.NewNoopLogger(), closeAll
	}
	return sinks, closeAll
}

func (c *CLI) openAuditDB(ctx context.Context) (*observability.PersistentLogger, func(), error) {
	db, err := storage.OpenAndMigrate(ctx, c.cfg.Audit.Driver, c.cfg.Audit.DSN)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewPersistentLogger(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return logger, func() { db.Close() }, nil
}
