// Package report assembles per-client ledger rows from analysis results and
// renders a finished run as a console table, CSV, or JSONL. It also checks
// the run's coverage invariant: every roster client must end up as exactly
// one report row or one coverage entry.
package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/therapyops/chartrecon/internal/extract"
	"github.com/therapyops/chartrecon/internal/predict"
	"github.com/therapyops/chartrecon/internal/roster"
	"github.com/therapyops/chartrecon/pkg/ledger"
)

// Flags attached to report rows.
const (
	FlagManualReview        = "manual-review"
	FlagPartialData         = "partial-data"
	FlagSkipped             = "skipped"
	FlagInsufficientHistory = "insufficient-history"
)

const dateFormat = "2006-01-02"

// RowBuilder turns analysis results into ledger rows for one run.
type RowBuilder struct {
	runName string
}

// NewRowBuilder creates a builder scoped to the given run.
func NewRowBuilder(runName string) *RowBuilder {
	return &RowBuilder{runName: runName}
}

// AnalysisRow builds the row for a fully processed client.
func (b *RowBuilder) AnalysisRow(c roster.Client, workerID string, timeline *extract.Timeline, result predict.Result) *ledger.ReportRow {
	row := &ledger.ReportRow{
		ID:            uuid.New().String(),
		RunName:       b.runName,
		ClientName:    c.Name,
		StaffName:     c.Staff,
		CadenceDays:   result.CadenceDays,
		CadenceSource: string(result.CadenceSource),
		ExpectedCount: result.ExpectedCount,
		ActualCount:   result.ActualCount,
		MissedCount:   result.MissedCount,
		WorkerID:      workerID,
		CreatedAtMs:   time.Now().UnixMilli(),
	}

	for _, p := range result.Predictions {
		row.PredictedDates = append(row.PredictedDates, p.Date.Format(dateFormat))
		row.Origins = append(row.Origins, string(p.Origin))
	}

	if c.ManualReview || c.Reassigned {
		row.Flags = append(row.Flags, FlagManualReview)
	}
	if timeline.Partial {
		row.Flags = append(row.Flags, FlagPartialData)
	}
	if result.InsufficientHistory {
		row.Flags = append(row.Flags, FlagInsufficientHistory)
	}

	row.Notes = append(row.Notes, c.Notes...)
	if c.Reassigned && !c.ReassignedAt.IsZero() {
		row.Notes = append(row.Notes, fmt.Sprintf("reassigned %s, analysis window shifted by grace period", c.ReassignedAt.Format(dateFormat)))
	}
	for _, label := range timeline.UnknownLabels {
		row.Notes = append(row.Notes, fmt.Sprintf("unrecognized document label %q treated as informational", label))
	}
	if !c.ServiceStart.IsZero() {
		for _, doc := range timeline.Documents {
			if doc.Date.Before(c.ServiceStart) {
				row.Notes = append(row.Notes, fmt.Sprintf("document %q dated %s precedes service start %s",
					doc.Label, doc.Date.Format(dateFormat), c.ServiceStart.Format(dateFormat)))
			}
		}
	}

	return row
}

// SkippedRow builds the row for a client excluded from analysis, e.g. a
// closed service file. Skipped clients still appear in the report - the
// coverage invariant counts them.
func (b *RowBuilder) SkippedRow(c roster.Client, workerID, reason string) *ledger.ReportRow {
	row := &ledger.ReportRow{
		ID:          uuid.New().String(),
		RunName:     b.runName,
		ClientName:  c.Name,
		StaffName:   c.Staff,
		Flags:       []string{FlagSkipped},
		SkipReason:  reason,
		WorkerID:    workerID,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if c.ManualReview {
		row.Flags = append(row.Flags, FlagManualReview)
	}
	row.Notes = append(row.Notes, c.Notes...)
	return row
}

// VerifyCoverage checks the roster-completeness invariant and returns the
// names of clients present on the roster but absent from both the report rows
// and the coverage entries. An empty result means the run accounted for
// everyone.
func VerifyCoverage(clients []roster.Client, rows []*ledger.ReportRow, entries []*ledger.CoverageEntry) []string {
	covered := make(map[string]bool)
	for _, r := range rows {
		covered[r.StaffName+"/"+r.ClientName] = true
	}
	for _, e := range entries {
		if e.Kind == ledger.CoverageClient {
			covered[e.StaffName+"/"+e.ClientName] = true
		}
	}

	var missing []string
	for _, c := range clients {
		if !covered[c.Staff+"/"+c.Name] {
			missing = append(missing, fmt.Sprintf("%s (staff %s)", c.Name, c.Staff))
		}
	}
	return missing
}
