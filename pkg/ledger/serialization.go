package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Slice fields are
// JSON-encoded into single hash fields. This keeps individual fields
// queryable while still supporting structured values.

// RowToHash converts a ReportRow to Redis hash format.
// Slice fields (predicted_dates, origins, flags, notes) are JSON-encoded.
func RowToHash(r *ReportRow) (map[string]interface{}, error) {
	predictedJSON, err := json.Marshal(r.PredictedDates)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predicted dates: %w", err)
	}
	originsJSON, err := json.Marshal(r.Origins)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal origins: %w", err)
	}
	flagsJSON, err := json.Marshal(r.Flags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flags: %w", err)
	}
	notesJSON, err := json.Marshal(r.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notes: %w", err)
	}

	return map[string]interface{}{
		"id":              r.ID,
		"run_name":        r.RunName,
		"client_name":     r.ClientName,
		"staff_name":      r.StaffName,
		"cadence_days":    r.CadenceDays,
		"cadence_source":  r.CadenceSource,
		"expected_count":  r.ExpectedCount,
		"actual_count":    r.ActualCount,
		"missed_count":    r.MissedCount,
		"predicted_dates": string(predictedJSON),
		"origins":         string(originsJSON),
		"flags":           string(flagsJSON),
		"skip_reason":     r.SkipReason,
		"notes":           string(notesJSON),
		"worker_id":       r.WorkerID,
		"created_at_ms":   r.CreatedAtMs,
	}, nil
}

// HashToRow converts a Redis hash back to a ReportRow.
func HashToRow(hash map[string]string) (*ReportRow, error) {
	cadenceDays, err := atoiField(hash, "cadence_days")
	if err != nil {
		return nil, err
	}
	expected, err := atoiField(hash, "expected_count")
	if err != nil {
		return nil, err
	}
	actual, err := atoiField(hash, "actual_count")
	if err != nil {
		return nil, err
	}
	missed, err := atoiField(hash, "missed_count")
	if err != nil {
		return nil, err
	}

	predicted, err := stringSliceField(hash, "predicted_dates")
	if err != nil {
		return nil, err
	}
	origins, err := stringSliceField(hash, "origins")
	if err != nil {
		return nil, err
	}
	flags, err := stringSliceField(hash, "flags")
	if err != nil {
		return nil, err
	}
	notes, err := stringSliceField(hash, "notes")
	if err != nil {
		return nil, err
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &ReportRow{
		ID:             hash["id"],
		RunName:        hash["run_name"],
		ClientName:     hash["client_name"],
		StaffName:      hash["staff_name"],
		CadenceDays:    cadenceDays,
		CadenceSource:  hash["cadence_source"],
		ExpectedCount:  expected,
		ActualCount:    actual,
		MissedCount:    missed,
		PredictedDates: predicted,
		Origins:        origins,
		Flags:          flags,
		SkipReason:     hash["skip_reason"],
		Notes:          notes,
		WorkerID:       hash["worker_id"],
		CreatedAtMs:    createdAtMs,
	}, nil
}

// CoverageToHash converts a CoverageEntry to Redis hash format.
func CoverageToHash(c *CoverageEntry) map[string]interface{} {
	return map[string]interface{}{
		"id":            c.ID,
		"run_name":      c.RunName,
		"kind":          string(c.Kind),
		"staff_name":    c.StaffName,
		"client_name":   c.ClientName,
		"reason":        c.Reason,
		"worker_id":     c.WorkerID,
		"created_at_ms": c.CreatedAtMs,
	}
}

// HashToCoverage converts a Redis hash back to a CoverageEntry.
func HashToCoverage(hash map[string]string) (*CoverageEntry, error) {
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	entry := &CoverageEntry{
		ID:          hash["id"],
		RunName:     hash["run_name"],
		Kind:        CoverageKind(hash["kind"]),
		StaffName:   hash["staff_name"],
		ClientName:  hash["client_name"],
		Reason:      hash["reason"],
		WorkerID:    hash["worker_id"],
		CreatedAtMs: createdAtMs,
	}

	if err := entry.Kind.Validate(); err != nil {
		return nil, fmt.Errorf("failed to deserialize coverage entry: %w", err)
	}

	return entry, nil
}

func atoiField(hash map[string]string, field string) (int, error) {
	raw := hash[field]
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s field: %w", field, err)
	}
	return n, nil
}

func stringSliceField(hash map[string]string, field string) ([]string, error) {
	raw := hash[field]
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", field, err)
	}
	// Keep an empty slice instead of nil for consistency
	if out == nil {
		out = []string{}
	}
	return out, nil
}
