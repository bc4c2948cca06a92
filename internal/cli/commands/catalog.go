package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/wardsql/pkg/catalog"
	"github.com/leapstack-labs/wardsql/pkg/concepts"
)

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the schema catalog and concept dictionary",
	}
	cmd.AddCommand(newCatalogTablesCommand())
	cmd.AddCommand(newCatalogShowCommand())
	cmd.AddCommand(newCatalogFamiliesCommand())
	cmd.AddCommand(newCatalogConceptsCommand())
	cmd.AddCommand(newCatalogValidateCommand())
	return cmd
}

// loadCatalogOnly loads the catalog without the watcher; catalog commands
// are one-shot.
func loadCatalogOnly(cmd *cobra.Command) (*catalog.Catalog, error) {
	cfg, err := requireConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

func newCatalogTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List catalog tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalogOnly(cmd)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Table", "Family", "Columns", "Joins"})
			for _, name := range cat.Tables() {
				entry, _ := cat.Resolve(name)
				t.AppendRow(table.Row{entry.Name, entry.Family, len(entry.Columns), len(entry.Edges)})
			}
			t.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "(%d tables)\n", cat.Len())
			return nil
		},
	}
}

func newCatalogShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <table>",
		Short: "Show columns, tags and join edges for one table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalogOnly(cmd)
			if err != nil {
				return err
			}
			return printTableSchema(cmd, cat, args[0])
		},
	}
}

func newCatalogFamiliesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "List tables grouped by family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalogOnly(cmd)
			if err != nil {
				return err
			}

			fams := cat.Families()
			names := make([]string, 0, len(fams))
			for name := range fams {
				names = append(names, name)
			}
			sort.Strings(names)

			w := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintf(w, "%s:\n", name)
				for _, tbl := range fams[name] {
					fmt.Fprintf(w, "  %s\n", tbl)
				}
			}
			return nil
		},
	}
}

func newCatalogConceptsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "concepts [query]",
		Short: "List or search the concept dictionary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(cmd.Context())
			if err != nil {
				return err
			}
			lib, err := openConcepts(cfg)
			if err != nil {
				return err
			}
			if lib == nil {
				return fmt.Errorf("no concept dictionary configured (catalog.concepts)")
			}

			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			printConcepts(cmd.OutOrStdout(), lib, query)
			return nil
		},
	}
}

func newCatalogValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the catalog and concept dictionary, reporting errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig(cmd.Context())
			if err != nil {
				return err
			}

			cat, err := catalog.LoadFile(cfg.Catalog.Path)
			if err != nil {
				return fmt.Errorf("catalog: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d tables (%s)\n", cat.Len(), cfg.Catalog.Path)

			if cfg.Catalog.Concepts != "" {
				lib, err := concepts.LoadFile(cfg.Catalog.Concepts)
				if err != nil {
					return fmt.Errorf("concepts: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "concepts ok: %d definitions (%s)\n", lib.Len(), cfg.Catalog.Concepts)
			}
			return nil
		},
	}
}

// printTableSchema renders one catalog entry.
func printTableSchema(cmd *cobra.Command, cat *catalog.Catalog, name string) error {
	entry, ok := cat.Resolve(name)
	if !ok {
		return fmt.Errorf("table %q not in catalog", name)
	}

	w := cmd.OutOrStdout()
	if entry.Family != "" {
		fmt.Fprintf(w, "Table: %s (family: %s)\n", entry.Name, entry.Family)
	} else {
		fmt.Fprintf(w, "Table: %s\n", entry.Name)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Column", "Tag", "Type", "Comment"})
	for _, col := range entry.Columns {
		tag := string(col.Tag)
		if col.Tag.Sensitive() {
			tag = colored(w, tag, "1")
		}
		t.AppendRow(table.Row{col.Name, tag, col.Type, col.Comment})
	}
	t.Render()

	if len(entry.Edges) > 0 {
		fmt.Fprintln(w, "Joins:")
		for _, e := range entry.Edges {
			fmt.Fprintf(w, "  %s -> %s.%s (%s)\n", e.Column, e.Table, e.TargetColumn, e.Confidence)
		}
	}
	return nil
}

// printConcepts renders the concept dictionary, optionally filtered.
func printConcepts(w io.Writer, lib *concepts.Library, query string) {
	var list []*concepts.Concept
	if query == "" {
		for _, name := range lib.Names() {
			if c, ok := lib.Get(name); ok {
				list = append(list, c)
			}
		}
	} else {
		list = lib.Search(query)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "(no concepts)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Concept", "Description", "Tables"})
	for _, c := range list {
		t.AppendRow(table.Row{c.Name, c.Description, strings.Join(c.Tables, ", ")})
	}
	t.Render()
}
