package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/rlsdemo/internal/platform"
)

func (c *CLI) newQueryCmd() *cobra.Command {
	var email, password string
	var anon bool

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Read a table as one user",
		Long: `Sign in as one user (or stay anonymous with --anon), select every row of
the table that user is allowed to see, and print them.

Example:
  rlsdemo query documents --email charlie@companyb.com
  rlsdemo query document_sections --anon --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQuery(cmd.Context(), args[0], email, password, anon)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&password, "password", "", "user password (default: the demo password)")
	cmd.Flags().BoolVar(&anon, "anon", false, "query with the anon key only")
	return cmd
}

func (c *CLI) runQuery(ctx context.Context, table, email, password string, anon bool) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	client := c.newPlatformClient()
	scope, signOut, err := c.signInScope(ctx, client, email, password, anon)
	if err != nil {
		return err
	}
	defer signOut()

	rows, err := client.Select(ctx, scope, table)
	if err != nil {
		return err
	}

	if c.structured() {
		return c.encode(rows)
	}

	columns := columnsOf(rows)
	if len(columns) > 0 {
		w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, strings.ToUpper(strings.Join(columns, "\t")))
		for _, row := range rows {
			values := make([]string, len(columns))
			for i, col := range columns {
				if v, ok := row.Text(col); ok {
					values[i] = v
				} else {
					values[i] = "-"
				}
			}
			fmt.Fprintln(w, strings.Join(values, "\t"))
		}
		w.Flush()
	}
	c.printf("(%d rows)\n", len(rows))
	return nil
}

// columnsOf returns the union of the rows' columns, id first and the rest
// sorted.
func columnsOf(rows []platform.Row) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			seen[col] = true
		}
	}
	columns := make([]string, 0, len(seen))
	for col := range seen {
		if col != "id" {
			columns = append(columns, col)
		}
	}
	sort.Strings(columns)
	if seen["id"] {
		columns = append([]string{"id"}, columns...)
	}
	return columns
}
