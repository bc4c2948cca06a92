package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/wardsql/pkg/guard"
)

// NewCheckCommand creates the check command: run the static guard over a
// candidate query without touching any database.
func NewCheckCommand() *cobra.Command {
	var (
		fromFile string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "check [sql]",
		Short: "Statically validate a candidate query against the catalog",
		Long: `Check runs the static guard only: keyword screen, parse, wildcard,
identifier grounding, protected-column projection, result shape and
resource-function audits. No database connection is made.

The query is taken from the argument, from --file, or from stdin when
the argument is "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(cmd.Context())
			if err != nil {
				return err
			}

			sql, err := readQuery(cmd.InOrStdin(), args, fromFile)
			if err != nil {
				return err
			}

			h, err := openCatalog(cmd.Context(), cfg, GetLogger(cmd.Context()))
			if err != nil {
				return err
			}
			g, err := newGuard(cfg)
			if err != nil {
				return err
			}

			verdict := g.Check(h.Current(), guard.CandidateQuery{SQL: sql})
			if err := renderVerdict(cmd.OutOrStdout(), verdict, format); err != nil {
				return err
			}
			if !verdict.Approved() {
				return fmt.Errorf("query rejected: %s", verdict.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read the query from a file")
	cmd.Flags().StringVarP(&format, "format", "F", "table", "Output format (table|json)")
	return cmd
}

// readQuery resolves the candidate SQL from argument, file, or stdin.
func readQuery(stdin io.Reader, args []string, fromFile string) (string, error) {
	if fromFile != "" {
		data, err := os.ReadFile(fromFile)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", fmt.Errorf("no query given (argument, --file, or stdin)")
	}
	return sql, nil
}
