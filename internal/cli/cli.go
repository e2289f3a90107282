// Package cli provides the command-line interface for rlsdemo.
// The default command runs the row-level security demo; the others help set
// it up and look into the results.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/canonica-labs/rlsdemo/internal/config"
	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/internal/observability"
	"github.com/canonica-labs/rlsdemo/internal/platform"
)

// Exit codes.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitAuth       = 2
	ExitService    = 3
	ExitInternal   = 4
	ExitIsolation  = 5
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const serviceName = "rlsdemo"

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config
	logger  *zap.Logger

	stdout io.Writer
	stderr io.Writer

	shutdownTracing func(context.Context) error

	// Global flags
	configPath string
	serviceURL string
	anonKey    string
	jsonOutput bool
	yamlOutput bool
	quiet      bool
	debug      bool

	// run flags, shared by the root command
	users     []string
	isolation bool
}

// New creates a new CLI instance.
func New() *CLI {
	cli := &CLI{
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: zap.NewNop(),
	}
	cli.rootCmd = cli.newRootCmd()
	return cli
}

// SetOutput redirects standard output and standard error.
func (c *CLI) SetOutput(stdout, stderr io.Writer) {
	c.stdout = stdout
	c.stderr = stderr
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)
}

// SetArgs sets the arguments used by Execute instead of os.Args.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// Execute runs the CLI and returns the process exit code.
func (c *CLI) Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := c.rootCmd.ExecuteContext(ctx)
	c.shutdown()
	if err != nil {
		c.errorf("Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch errors.CodeOf(err) {
	case errors.CodeValidation:
		return ExitValidation
	case errors.CodeAuth:
		return ExitAuth
	case errors.CodeService:
		return ExitService
	case errors.CodeIsolation:
		return ExitIsolation
	default:
		return ExitInternal
	}
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rlsdemo",
		Short: "rlsdemo - row-level security demonstration",
		Long: `rlsdemo signs in a list of demo users against a hosted backend project and
shows which rows of the documents and document_sections tables each of them
can read.

Run without a subcommand to run the demo.

The project is configured with SERVICE_URL and SERVICE_ANON_KEY, a config file
(~/.rlsdemo/rlsdemo.yaml or ./rlsdemo.yaml), or the --url and --anon-key flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDemo(cmd.Context())
		},
	}
	cmd.Version = Version
	cmd.SetVersionTemplate(GetVersionString() + "\n")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.NewInvalidConfig("flags", err.Error())
	})

	// Global flags
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ~/.rlsdemo/rlsdemo.yaml)")
	cmd.PersistentFlags().StringVar(&c.serviceURL, "url", "", "project URL (overrides "+config.EnvServiceURL+")")
	cmd.PersistentFlags().StringVar(&c.anonKey, "anon-key", "", "project anon key (overrides "+config.EnvAnonKey+")")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&c.yamlOutput, "yaml", false, "machine-readable YAML output")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs on stderr")
	c.addRunFlags(cmd)

	cmd.AddCommand(c.newRunCmd())
	cmd.AddCommand(c.newLoginCmd())
	cmd.AddCommand(c.newQueryCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newAuditCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig(ctx context.Context) error {
	if c.jsonOutput && c.yamlOutput {
		return errors.NewInvalidConfig("flags", "--json and --yaml are mutually exclusive")
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return errors.NewInvalidConfig("config", err.Error())
	}
	cfg.Override(c.serviceURL, c.anonKey)
	c.cfg = cfg

	logger, err := observability.NewLogger(cfg.Logging, c.debug)
	if err != nil {
		return errors.NewInvalidConfig("logging", err.Error())
	}
	c.logger = logger

	if ctx == nil {
		ctx = context.Background()
	}
	c.shutdownTracing = observability.SetupTracing(ctx, serviceName, logger)

	c.logger.Debug("configuration loaded",
		zap.String("service_url", cfg.Service.URL),
		zap.Int("users", len(cfg.Users)),
		zap.String("audit_driver", cfg.Audit.Driver))
	return nil
}

// shutdown flushes tracing and logs.
func (c *CLI) shutdown() {
	if c.shutdownTracing != nil {
		if err := c.shutdownTracing(context.Background()); err != nil {
			c.logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}
	_ = c.logger.Sync()
}

// newPlatformClient creates a platform client with the current config.
func (c *CLI) newPlatformClient() *platform.Client {
	return platform.NewClient(platform.Options{
		URL:        c.cfg.Service.URL,
		AnonKey:    c.cfg.Service.AnonKey,
		Schema:     c.cfg.Service.Schema,
		Timeout:    c.cfg.Service.Timeout,
		ClientInfo: serviceName + "/" + Version,
		Logger:     c.logger,
	})
}

// Helper functions for output

// structured reports whether output goes through encode instead of text.
func (c *CLI) structured() bool {
	return c.jsonOutput || c.yamlOutput
}

// encode writes v as JSON or YAML, whichever was requested.
func (c *CLI) encode(v interface{}) error {
	if c.yamlOutput {
		enc := yaml.NewEncoder(c.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Fprintf(c.stdout, format, args...)
	}
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet {
		fmt.Fprintln(c.stdout, args...)
	}
}

func (c *CLI) errorf(format string, args ...interface{}) {
	fmt.Fprintf(c.stderr, format, args...)
}
