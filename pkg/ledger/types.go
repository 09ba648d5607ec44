package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// ReportRow is the per-client output of a reconciliation run. Rows are
// append-only: once written to the ledger they are never mutated. Every client
// on the roster ends the run as exactly one ReportRow or one CoverageEntry.
type ReportRow struct {
	ID             string   `json:"id"`              // UUID - unique identifier for this row
	RunName        string   `json:"run_name"`        // Run this row belongs to
	ClientName     string   `json:"client_name"`     // Normalized client name
	StaffName      string   `json:"staff_name"`      // Normalized assigned staff name
	CadenceDays    int      `json:"cadence_days"`    // Session cadence used for prediction (0 = none)
	CadenceSource  string   `json:"cadence_source"`  // "explicit", "inferred" or "none"
	ExpectedCount  int      `json:"expected_count"`  // Sessions expected inside the analysis window
	ActualCount    int      `json:"actual_count"`    // Billable sessions documented inside the window
	MissedCount    int      `json:"missed_count"`    // max(0, expected - actual)
	PredictedDates []string `json:"predicted_dates"` // ISO dates (2006-01-02) of predicted missed sessions
	Origins        []string `json:"origins"`         // Origin per predicted date (explicit-note, gap-detected, forward-projected)
	Flags          []string `json:"flags"`           // e.g. manual-review, partial-data, skipped, insufficient-history
	SkipReason     string   `json:"skip_reason"`     // Populated when the client was skipped entirely
	Notes          []string `json:"notes"`           // Data-quality notes attached to this row
	WorkerID       string   `json:"worker_id"`       // Worker that produced the row
	CreatedAtMs    int64    `json:"created_at_ms"`   // Unix timestamp in milliseconds
}

// Validate checks that a report row is well-formed before it is written.
func (r *ReportRow) Validate() error {
	if err := validateUUID(r.ID, "id"); err != nil {
		return err
	}
	if r.RunName == "" {
		return fmt.Errorf("run_name cannot be empty")
	}
	if r.ClientName == "" {
		return fmt.Errorf("client_name cannot be empty")
	}
	if r.StaffName == "" {
		return fmt.Errorf("staff_name cannot be empty")
	}
	if r.ExpectedCount < 0 || r.ActualCount < 0 || r.MissedCount < 0 {
		return fmt.Errorf("counts cannot be negative")
	}
	if len(r.Origins) != 0 && len(r.Origins) != len(r.PredictedDates) {
		return fmt.Errorf("origins length (%d) does not match predicted_dates length (%d)",
			len(r.Origins), len(r.PredictedDates))
	}
	return nil
}

// CoverageKind distinguishes whether a coverage entry names a whole staff
// member or a single client that was never reached.
type CoverageKind string

const (
	// CoverageStaff records a staff member whose client list was never traversed.
	CoverageStaff CoverageKind = "staff"

	// CoverageClient records a single client that was never processed.
	CoverageClient CoverageKind = "client"
)

// Validate checks the coverage kind is one of the known values.
func (k CoverageKind) Validate() error {
	switch k {
	case CoverageStaff, CoverageClient:
		return nil
	default:
		return fmt.Errorf("invalid coverage kind: %s", k)
	}
}

// CoverageEntry records a staff member or client the run failed to reach.
// The run always terminates with report rows plus coverage entries covering
// the entire input roster - nothing is silently dropped.
type CoverageEntry struct {
	ID          string       `json:"id"`            // UUID - unique identifier for this entry
	RunName     string       `json:"run_name"`      // Run this entry belongs to
	Kind        CoverageKind `json:"kind"`          // staff or client
	StaffName   string       `json:"staff_name"`    // Always set
	ClientName  string       `json:"client_name"`   // Set when Kind == client
	Reason      string       `json:"reason"`        // e.g. name-match-failure, worker-broken, stop-requested
	WorkerID    string       `json:"worker_id"`     // Worker that owned this staff member, if any
	CreatedAtMs int64        `json:"created_at_ms"` // Unix timestamp in milliseconds
}

// Validate checks that a coverage entry is well-formed before it is written.
func (c *CoverageEntry) Validate() error {
	if err := validateUUID(c.ID, "id"); err != nil {
		return err
	}
	if c.RunName == "" {
		return fmt.Errorf("run_name cannot be empty")
	}
	if err := c.Kind.Validate(); err != nil {
		return err
	}
	if c.StaffName == "" {
		return fmt.Errorf("staff_name cannot be empty")
	}
	if c.Kind == CoverageClient && c.ClientName == "" {
		return fmt.Errorf("client_name cannot be empty for client coverage entries")
	}
	if c.Reason == "" {
		return fmt.Errorf("reason cannot be empty")
	}
	return nil
}

// ProgressEvent is published on the run's progress channel whenever a worker
// completes a client, trips its health monitor, or finishes a staff member.
// Delivery is Redis Pub/Sub, i.e. at-most-once: events drive operator display
// only and are never used for correctness.
type ProgressEvent struct {
	RunName    string `json:"run_name"`
	WorkerID   string `json:"worker_id"`
	Event      string `json:"event"` // client_completed, staff_completed, worker_broken, ...
	StaffName  string `json:"staff_name,omitempty"`
	ClientName string `json:"client_name,omitempty"`
	Detail     string `json:"detail,omitempty"`
	AtMs       int64  `json:"at_ms"`
}

// Counter names tracked per run. Counters are global atomic increments used
// only for operator-facing progress reporting.
const (
	CounterClientsProcessed   = "clients_processed"
	CounterTransientFailures  = "transient_failures"
	CounterRecoveries         = "recoveries"
	CounterNameMatchFailures  = "name_match_failures"
	CounterExtractionTimeouts = "extraction_timeouts"
	CounterWorkersBroken      = "workers_broken"
)

// CounterNames lists every counter a run maintains, in display order.
var CounterNames = []string{
	CounterClientsProcessed,
	CounterTransientFailures,
	CounterRecoveries,
	CounterNameMatchFailures,
	CounterExtractionTimeouts,
	CounterWorkersBroken,
}

func validateUUID(value, field string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%s must be a valid UUID: %w", field, err)
	}
	return nil
}
