package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"

	"github.com/leapstack-labs/wardsql/internal/executor"
	"github.com/leapstack-labs/wardsql/internal/pipeline"
	"github.com/leapstack-labs/wardsql/internal/validator"
	"github.com/leapstack-labs/wardsql/pkg/guard"
)

// statusColor maps a terminal outcome to an ANSI palette index.
func statusColor(s pipeline.Status) string {
	switch s {
	case pipeline.StatusAnswered:
		return "2" // green
	case pipeline.StatusAnsweredWithCaveat:
		return "3" // yellow
	case pipeline.StatusNeedsClarification:
		return "6" // cyan
	default:
		return "1" // red
	}
}

func colored(w io.Writer, text, color string) string {
	out := termenv.NewOutput(w)
	return out.String(text).Foreground(out.Color(color)).Bold().String()
}

// renderOutcome prints one pipeline outcome in the requested format.
func renderOutcome(w io.Writer, out *pipeline.Outcome, format string) error {
	if format == "json" {
		return renderOutcomeJSON(w, out)
	}

	fmt.Fprintf(w, "%s %s\n", colored(w, strings.ToUpper(string(out.Status)), statusColor(out.Status)), out.Explanation)
	if out.Reason != "" {
		fmt.Fprintf(w, "reason: %s\n", out.Reason)
	}
	if out.Revised {
		fmt.Fprintln(w, "note: the candidate was revised once before this outcome")
	}
	if out.Clarification != nil && out.Clarification.Needed {
		fmt.Fprintf(w, "question: %s\n", out.Clarification.Question)
		for _, opt := range out.Clarification.Options {
			fmt.Fprintf(w, "  - %s\n", opt)
		}
	}

	if out.Result != nil {
		fmt.Fprintln(w)
		if err := renderResult(w, out.Result, format); err != nil {
			return err
		}
	}
	renderFindings(w, out.Report)
	return nil
}

func renderOutcomeJSON(w io.Writer, out *pipeline.Outcome) error {
	doc := map[string]any{
		"status":   out.Status,
		"audit_id": out.AuditID,
		"revised":  out.Revised,
	}
	if out.Reason != "" {
		doc["reason"] = out.Reason
	}
	if out.Explanation != "" {
		doc["explanation"] = out.Explanation
	}
	if out.Result != nil {
		doc["columns"] = out.Result.Columns
		doc["rows"] = out.Result.Rows
		doc["row_count"] = out.Result.RowCount
		doc["truncated"] = out.Result.Truncated
	}
	if len(out.Report.Findings) > 0 {
		doc["findings"] = out.Report.Findings
		doc["grade"] = out.Report.Grade
	}
	if out.Clarification != nil && out.Clarification.Needed {
		doc["clarification"] = out.Clarification
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// renderResult prints a bounded result set.
func renderResult(w io.Writer, res *executor.Result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Rows)
	case "csv":
		return renderCSV(w, res)
	case "md", "markdown":
		return renderMarkdown(w, res)
	default:
		return renderTable(w, res)
	}
}

func renderTable(w io.Writer, res *executor.Result) error {
	if res.RowCount == 0 {
		fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, r := range res.Rows {
		row := make(table.Row, len(res.Columns))
		for i, col := range res.Columns {
			row[i] = formatValue(r[col])
		}
		t.AppendRow(row)
	}

	t.Render()
	suffix := ""
	if res.Truncated {
		suffix = ", truncated"
	}
	fmt.Fprintf(w, "(%d rows in %s%s)\n", res.RowCount, res.Duration.Round(time.Millisecond), suffix)
	return nil
}

func renderCSV(w io.Writer, res *executor.Result) error {
	fmt.Fprintln(w, strings.Join(res.Columns, ","))
	for _, r := range res.Rows {
		values := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			values[i] = escapeCSV(formatValue(r[col]))
		}
		fmt.Fprintln(w, strings.Join(values, ","))
	}
	return nil
}

func renderMarkdown(w io.Writer, res *executor.Result) error {
	if res.RowCount == 0 {
		fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	fmt.Fprintf(w, "| %s |\n", strings.Join(res.Columns, " | "))
	seps := make([]string, len(res.Columns))
	for i := range seps {
		seps[i] = "---"
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))

	for _, r := range res.Rows {
		values := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			values[i] = formatValue(r[col])
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(values, " | "))
	}
	return nil
}

// renderFindings prints the validation report, if any checks ran.
func renderFindings(w io.Writer, rep validator.Report) {
	if len(rep.Findings) == 0 {
		return
	}

	fmt.Fprintln(w)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Check", "Status", "Detail"})
	for _, f := range rep.Findings {
		t.AppendRow(table.Row{f.Check, f.Status, f.Detail})
	}
	t.Render()
	fmt.Fprintf(w, "confidence: %s\n", rep.Grade)
	for _, c := range rep.Caveats {
		fmt.Fprintf(w, "caveat: %s\n", c)
	}
}

// renderVerdict prints a guard verdict for the check command.
func renderVerdict(w io.Writer, v guard.Verdict, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	if v.Approved() {
		shape := "row-level"
		if v.Aggregate {
			shape = "aggregate"
		}
		fmt.Fprintf(w, "%s (%s)\n", colored(w, "APPROVED", "2"), shape)
	} else {
		fmt.Fprintf(w, "%s %s\n", colored(w, "REJECTED", "1"), v.Detail)
		fmt.Fprintf(w, "reason: %s\n", v.Reason)
	}

	if len(v.Columns) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Table", "Column", "Tag"})
		for _, c := range v.Columns {
			t.AppendRow(table.Row{c.Table, c.Column, c.Tag})
		}
		t.Render()
	} else if len(v.Tables) > 0 {
		fmt.Fprintf(w, "tables: %s\n", strings.Join(v.Tables, ", "))
	}
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
