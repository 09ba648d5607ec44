package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/therapyops/chartrecon/pkg/ledger"
)

// FormatTable writes the run's report rows as a console table, followed by a
// coverage section when anything was left unreached. Returns the number of
// rows written.
func FormatTable(w io.Writer, rows []*ledger.ReportRow, entries []*ledger.CoverageEntry) int {
	if len(rows) == 0 && len(entries) == 0 {
		fmt.Fprintln(w, "No report rows found")
		return 0
	}

	if len(rows) > 0 {
		table := tablewriter.NewTable(w)
		table.Header("CLIENT", "STAFF", "CADENCE", "EXP", "ACT", "MISS", "PREDICTED", "FLAGS")
		for _, r := range rows {
			table.Append([]string{
				r.ClientName,
				r.StaffName,
				formatCadence(r),
				strconv.Itoa(r.ExpectedCount),
				strconv.Itoa(r.ActualCount),
				strconv.Itoa(r.MissedCount),
				formatPredictions(r),
				formatFlags(r),
			})
		}
		table.Render()
	}

	if len(entries) > 0 {
		fmt.Fprintf(w, "\nNot covered (%d):\n", len(entries))
		table := tablewriter.NewTable(w)
		table.Header("KIND", "STAFF", "CLIENT", "REASON", "WORKER")
		for _, e := range entries {
			table.Append([]string{
				string(e.Kind),
				e.StaffName,
				dash(e.ClientName),
				e.Reason,
				dash(e.WorkerID),
			})
		}
		table.Render()
	}

	fmt.Fprintf(w, "\n%d report rows, %d coverage entries\n", len(rows), len(entries))
	return len(rows)
}

// FormatCSV writes the report as CSV: one row per client, then a blank
// record and a coverage section. The layout is spreadsheet-first; every list
// column is semicolon-joined inside a single cell.
func FormatCSV(w io.Writer, rows []*ledger.ReportRow, entries []*ledger.CoverageEntry) error {
	cw := csv.NewWriter(w)

	header := []string{
		"client", "staff", "cadence_days", "cadence_source",
		"expected", "actual", "missed",
		"predicted_dates", "origins", "flags", "skip_reason", "notes",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.ClientName,
			r.StaffName,
			strconv.Itoa(r.CadenceDays),
			r.CadenceSource,
			strconv.Itoa(r.ExpectedCount),
			strconv.Itoa(r.ActualCount),
			strconv.Itoa(r.MissedCount),
			strings.Join(r.PredictedDates, ";"),
			strings.Join(r.Origins, ";"),
			strings.Join(r.Flags, ";"),
			r.SkipReason,
			strings.Join(r.Notes, ";"),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	if len(entries) > 0 {
		if err := cw.Write([]string{}); err != nil {
			return fmt.Errorf("failed to write CSV separator: %w", err)
		}
		if err := cw.Write([]string{"kind", "staff", "client", "reason", "worker"}); err != nil {
			return fmt.Errorf("failed to write coverage header: %w", err)
		}
		for _, e := range entries {
			record := []string{string(e.Kind), e.StaffName, e.ClientName, e.Reason, e.WorkerID}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("failed to write coverage row: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// FormatJSONL writes report rows as line-delimited JSON, one row per line.
// Ideal for piping into jq.
func FormatJSONL(w io.Writer, rows []*ledger.ReportRow) error {
	for _, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal report row to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

func formatCadence(r *ledger.ReportRow) string {
	if r.CadenceDays == 0 {
		return "-"
	}
	return fmt.Sprintf("%dd (%s)", r.CadenceDays, r.CadenceSource)
}

func formatPredictions(r *ledger.ReportRow) string {
	if len(r.PredictedDates) == 0 {
		return "-"
	}
	return strings.Join(r.PredictedDates, ", ")
}

func formatFlags(r *ledger.ReportRow) string {
	parts := append([]string(nil), r.Flags...)
	if r.SkipReason != "" {
		parts = append(parts, "("+r.SkipReason+")")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
