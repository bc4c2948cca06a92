package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/wardsql/internal/audit"
)

// NewAuditCommand creates the audit command group.
func NewAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(newAuditListCommand())
	cmd.AddCommand(newAuditShowCommand())
	return cmd
}

// openAudit opens the configured audit store for one command invocation.
func openAudit(cmd *cobra.Command) (*audit.Store, error) {
	cfg, err := requireConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	return audit.Open(cfg.Audit.Path, GetLogger(cmd.Context()))
}

func newAuditListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openAudit(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printAuditList(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to show")
	return cmd
}

func newAuditShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one audit record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAudit(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

// printAuditList renders records as a compact table.
func printAuditList(w io.Writer, records []*audit.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "(no records)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "When", "Status", "Reason", "Rows", "Grade"})
	for _, r := range records {
		t.AppendRow(table.Row{
			shortID(r.ID),
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Status,
			r.GuardReason,
			r.RowCount,
			r.Grade,
		})
	}
	t.Render()
	fmt.Fprintf(w, "(%d records)\n", len(records))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
