package commands

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/wardsql/internal/pipeline"
	"github.com/leapstack-labs/wardsql/pkg/guard"
)

// askOptions collects the ask command flags.
type askOptions struct {
	batchFile     string
	concurrency   int
	question      string
	actor         string
	format        string
	aggregateOnly bool
	rowClass      string
	metric        string
	metricColumn  string
	denominator   string
}

// intent builds the declared intent from flags.
func (o *askOptions) intent() guard.Intent {
	return guard.Intent{
		AggregateOnly:  o.aggregateOnly,
		RowClass:       guard.RowClass(o.rowClass),
		MetricKind:     guard.MetricKind(o.metric),
		MetricColumn:   o.metricColumn,
		DenominatorSQL: o.denominator,
	}
}

// NewAskCommand creates the ask command: run candidate queries through the
// full guard/execute/validate pipeline against the configured database.
func NewAskCommand() *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [sql]",
		Short: "Run a candidate query through the full safety pipeline",
		Long: `Ask guards the candidate query, executes it read-only under the
configured budget, validates the result, and records the outcome in the
audit trail.

With an argument the single query is processed and the command exits.
With --batch the file is split on semicolons and every statement is
processed concurrently. With neither, an interactive session starts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(cmd.Context())
			if err != nil {
				return err
			}

			st, err := buildStack(cmd.Context(), cfg, nil, GetLogger(cmd.Context()))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			switch {
			case opts.batchFile != "":
				return runAskBatch(cmd, st, opts)
			case len(args) == 1:
				return runAskOnce(cmd, st, opts, args[0])
			default:
				return runAskREPL(cmd, st, opts)
			}
		},
	}

	cmd.Flags().StringVar(&opts.batchFile, "batch", "", "Process a file of semicolon-separated statements")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 4, "Concurrent statements in batch mode")
	cmd.Flags().StringVarP(&opts.question, "question", "q", "", "The natural-language question being answered")
	cmd.Flags().StringVar(&opts.actor, "actor", "", "Actor recorded in the audit trail")
	cmd.Flags().StringVarP(&opts.format, "format", "F", "table", "Output format (table|json|csv|markdown)")
	cmd.Flags().BoolVar(&opts.aggregateOnly, "aggregate-only", false, "Declare the query aggregate-only")
	cmd.Flags().StringVar(&opts.rowClass, "row-class", "", "Declared row class (single|grouped|listing)")
	cmd.Flags().StringVar(&opts.metric, "metric", "", "Declared metric kind (count|percentage|ratio|average)")
	cmd.Flags().StringVar(&opts.metricColumn, "metric-column", "", "Result column holding the metric")
	cmd.Flags().StringVar(&opts.denominator, "denominator", "", "Denominator query for ratio metrics")
	return cmd
}

func runAskOnce(cmd *cobra.Command, st *stack, opts *askOptions, sql string) error {
	out, err := process(cmd, st, opts, sql)
	if err != nil {
		return err
	}
	if err := renderOutcome(cmd.OutOrStdout(), out, opts.format); err != nil {
		return err
	}
	if out.Status == pipeline.StatusRefused || out.Status == pipeline.StatusErrored {
		return fmt.Errorf("query %s: %s", out.Status, out.Reason)
	}
	return nil
}

func process(cmd *cobra.Command, st *stack, opts *askOptions, sql string) (*pipeline.Outcome, error) {
	turn := pipeline.Turn{
		Question: opts.question,
		Actor:    opts.actor,
		Candidate: guard.CandidateQuery{
			SQL:    sql,
			Intent: opts.intent(),
		},
	}
	return st.pipeline.Process(cmd.Context(), turn)
}

// runAskBatch fans the statements of a file out over the pipeline. Output
// order follows completion, each block prefixed with its statement index.
func runAskBatch(cmd *cobra.Command, st *stack, opts *askOptions) error {
	data, err := os.ReadFile(opts.batchFile)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	stmts := splitStatements(string(data))
	if len(stmts) == 0 {
		return fmt.Errorf("no statements in %s", opts.batchFile)
	}

	var (
		mu       sync.Mutex
		refused  int
		failures int
	)

	eg, ctx := errgroup.WithContext(cmd.Context())
	eg.SetLimit(opts.concurrency)
	for i, sql := range stmts {
		eg.Go(func() error {
			turn := pipeline.Turn{
				Question: opts.question,
				Actor:    opts.actor,
				Candidate: guard.CandidateQuery{
					SQL:    sql,
					Intent: opts.intent(),
				},
			}
			out, err := st.pipeline.Process(ctx, turn)
			if err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}

			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(cmd.OutOrStdout(), "--- statement %d ---\n", i+1)
			if err := renderOutcome(cmd.OutOrStdout(), out, opts.format); err != nil {
				return err
			}
			switch out.Status {
			case pipeline.StatusRefused:
				refused++
			case pipeline.StatusErrored:
				failures++
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d statements, %d refused, %d errored\n", len(stmts), refused, failures)
	if failures > 0 {
		return fmt.Errorf("%d statements errored", failures)
	}
	return nil
}

// splitStatements splits a batch file on semicolons, dropping blank
// entries and whole-line comments.
func splitStatements(text string) []string {
	var stmts []string
	for _, raw := range strings.Split(text, ";") {
		var lines []string
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if s := strings.TrimSpace(strings.Join(lines, "\n")); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
