package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/wardsql/pkg/catalog"
	"github.com/leapstack-labs/wardsql/pkg/concepts"
)

func runAskREPL(cmd *cobra.Command, st *stack, opts *askOptions) error {
	cfg, err := requireConfig(cmd.Context())
	if err != nil {
		return err
	}

	lib, err := openConcepts(cfg)
	if err != nil {
		return err
	}

	// History lives next to the audit database.
	historyFile := filepath.Join(filepath.Dir(cfg.Audit.Path), "ask_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "wardsql> ",
		HistoryFile:     historyFile,
		AutoComplete:    newAskCompleter(st.catalog.Current(), lib),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Fprintf(cmd.OutOrStdout(), "wardsql session (target: %s, catalog: %d tables)\n",
		st.adapter.Name(), st.catalog.Current().Len())
	fmt.Fprintln(cmd.OutOrStdout(), "Type .help for commands, .quit to exit")
	fmt.Fprintln(cmd.OutOrStdout())

	var buffer strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buffer.Reset()
			rl.SetPrompt("wardsql> ")
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") && buffer.Len() == 0 {
			if line == ".quit" || line == ".exit" {
				break
			}
			handleAskDotCommand(cmd, st, lib, opts, line)
			continue
		}

		// Accumulate multi-line SQL until semicolon.
		buffer.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buffer.WriteString(" ")
			rl.SetPrompt("    ...> ")
			continue
		}
		rl.SetPrompt("wardsql> ")

		sql := strings.TrimSuffix(strings.TrimSpace(buffer.String()), ";")
		buffer.Reset()

		out, err := process(cmd, st, opts, sql)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			continue
		}
		if err := renderOutcome(cmd.OutOrStdout(), out, opts.format); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}

	return nil
}

func handleAskDotCommand(cmd *cobra.Command, st *stack, lib *concepts.Library, opts *askOptions, line string) {
	parts := strings.Fields(line)
	w := cmd.OutOrStdout()

	switch strings.ToLower(parts[0]) {
	case ".help":
		printAskHelp(w)

	case ".tables":
		for _, name := range st.catalog.Current().Tables() {
			fmt.Fprintf(w, "  %s\n", name)
		}

	case ".schema":
		if len(parts) < 2 {
			fmt.Fprintln(cmd.ErrOrStderr(), "Usage: .schema <table>")
			return
		}
		printTableSchema(cmd, st.catalog.Current(), parts[1])

	case ".concepts":
		if lib == nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "No concept dictionary configured")
			return
		}
		query := ""
		if len(parts) > 1 {
			query = strings.Join(parts[1:], " ")
		}
		printConcepts(w, lib, query)

	case ".question":
		if len(parts) < 2 {
			fmt.Fprintf(w, "question: %q\n", opts.question)
			return
		}
		opts.question = strings.Join(parts[1:], " ")
		fmt.Fprintf(w, "question set: %q\n", opts.question)

	case ".audit":
		limit := 10
		records, err := st.audit.List(cmd.Context(), limit)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			return
		}
		printAuditList(w, records)

	default:
		fmt.Fprintf(cmd.ErrOrStderr(), "Unknown command: %s (type .help for commands)\n", parts[0])
	}
}

func printAskHelp(w io.Writer) {
	help := `
Commands:
  .help              Show this help message
  .tables            List catalog tables
  .schema <table>    Show catalog columns and tags for a table
  .concepts [query]  List or search the concept dictionary
  .question <text>   Set the question recorded with following queries
  .audit             Show the last audit records
  .quit / .exit      Exit the session

Tips:
  - SQL statements must end with a semicolon (;)
  - Every statement goes through the guard before it runs
  - Use arrow keys to navigate history
`
	fmt.Fprintln(w, help)
}

// newAskCompleter completes table names, concept names and dot-commands.
func newAskCompleter(cat *catalog.Catalog, lib *concepts.Library) *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, name := range cat.Tables() {
		items = append(items, readline.PcItem(name))
	}
	if lib != nil {
		for _, name := range lib.Names() {
			items = append(items, readline.PcItem(name))
		}
	}
	items = append(items,
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".schema"),
		readline.PcItem(".concepts"),
		readline.PcItem(".question"),
		readline.PcItem(".audit"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
	return readline.NewPrefixCompleter(items...)
}
