package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canonica-labs/rlsdemo/internal/auth"
	"github.com/canonica-labs/rlsdemo/internal/errors"
	"github.com/canonica-labs/rlsdemo/internal/platform"
	"github.com/canonica-labs/rlsdemo/pkg/models"
)

func (c *CLI) newLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check one user's credentials",
		Long: `Sign in as one user, show the session the auth service issued, and sign
out again. The access token is only ever shown as a short preview.

The password defaults to the demo password (DEMO_PASSWORD).

Example:
  rlsdemo login --email alice@companya.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLogin(cmd.Context(), email, password)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email (required)")
	cmd.Flags().StringVar(&password, "password", "", "user password (default: the demo password)")
	return cmd
}

// loginResult is the structured output of login.
type loginResult struct {
	Session   models.SessionInfo `json:"session" yaml:"session"`
	SignedOut bool               `json:"signed_out" yaml:"signed_out"`
}

func (c *CLI) runLogin(ctx context.Context, email, password string) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if email == "" {
		return errors.NewInvalidConfig("email", "required (use --email)")
	}
	if password == "" {
		password = c.cfg.Demo.Password
	}

	client := c.newPlatformClient()
	session, err := client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}

	res := loginResult{Session: session.Info()}
	signOutErr := client.SignOut(context.WithoutCancel(ctx), session)
	res.SignedOut = signOutErr == nil
	if signOutErr != nil {
		c.logger.Warn("sign-out failed", zap.String("email", email), zap.Error(signOutErr))
	}

	if c.structured() {
		if err := c.encode(res); err != nil {
			return err
		}
		return signOutErr
	}

	c.printf("✓ Signed in as %s\n", email)
	c.printSession(res.Session)
	if signOutErr != nil {
		return signOutErr
	}
	c.println("✓ Signed out")
	return nil
}

func (c *CLI) printSession(info models.SessionInfo) {
	c.printf("  User ID:    %s\n", info.UserID)
	if info.Role != "" {
		c.printf("  Role:       %s\n", info.Role)
	}
	if !info.ExpiresAt.IsZero() {
		c.printf("  Expires:    %s\n", info.ExpiresAt.UTC().Format(time.RFC3339))
	}
	c.printf("  Token:      %s\n", info.TokenPreview)
}

// signInScope signs in email, or returns the anonymous scope when anon is set.
// The returned func signs the session out again and must always be called.
func (c *CLI) signInScope(ctx context.Context, client *platform.Client, email, password string, anon bool) (platform.Scope, func(), error) {
	if anon {
		return platform.AnonymousScope(), func() {}, nil
	}
	if email == "" {
		return platform.Scope{}, nil, errors.NewInvalidConfig("email", "required unless --anon is set")
	}
	if password == "" {
		password = c.cfg.Demo.Password
	}

	session, err := client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return platform.Scope{}, nil, err
	}
	c.logger.Debug("signed in", zap.String("email", email), zap.String("token", session.Redacted()))

	return platform.BindSession(session), func() { c.signOutQuietly(ctx, client, session) }, nil
}

func (c *CLI) signOutQuietly(ctx context.Context, client *platform.Client, session *auth.Session) {
	if err := client.SignOut(context.WithoutCancel(ctx), session); err != nil {
		c.logger.Warn("sign-out failed", zap.String("email", session.Email), zap.Error(err))
	}
}
