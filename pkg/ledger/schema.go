package ledger

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by run name so that
// multiple reconciliation runs can coexist on one Redis server.
//
// Key pattern: chartrecon:{run_name}:{entity}:{id}
// Channel pattern: chartrecon:{run_name}:{event_type}_events

// ReportRowKey returns the Redis key for a report row hash.
// Pattern: chartrecon:{run_name}:row:{row_id}
func ReportRowKey(runName, rowID string) string {
	return fmt.Sprintf("chartrecon:%s:row:%s", runName, rowID)
}

// RowIndexKey returns the Redis key for the append-only list of row IDs.
// Pattern: chartrecon:{run_name}:rows
func RowIndexKey(runName string) string {
	return fmt.Sprintf("chartrecon:%s:rows", runName)
}

// CoverageEntryKey returns the Redis key for a coverage entry hash.
// Pattern: chartrecon:{run_name}:coverage:{entry_id}
func CoverageEntryKey(runName, entryID string) string {
	return fmt.Sprintf("chartrecon:%s:coverage:%s", runName, entryID)
}

// CoverageIndexKey returns the Redis key for the append-only list of coverage
// entry IDs.
// Pattern: chartrecon:{run_name}:coverage_index
func CoverageIndexKey(runName string) string {
	return fmt.Sprintf("chartrecon:%s:coverage_index", runName)
}

// ProcessedSetKey returns the Redis key for a staff member's processed-client
// set. Membership is monotonic within a run: clients are added, never removed.
// Pattern: chartrecon:{run_name}:processed:{staff_name}
func ProcessedSetKey(runName, staffName string) string {
	return fmt.Sprintf("chartrecon:%s:processed:%s", runName, staffName)
}

// CounterKey returns the Redis key for a named run counter.
// Pattern: chartrecon:{run_name}:counter:{name}
func CounterKey(runName, counter string) string {
	return fmt.Sprintf("chartrecon:%s:counter:%s", runName, counter)
}

// ProgressEventsChannel returns the Pub/Sub channel for worker progress events.
// Pattern: chartrecon:{run_name}:progress_events
func ProgressEventsChannel(runName string) string {
	return fmt.Sprintf("chartrecon:%s:progress_events", runName)
}
