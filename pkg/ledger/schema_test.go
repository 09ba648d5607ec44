package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPatterns(t *testing.T) {
	assert.Equal(t, "chartrecon:nov:row:abc", ReportRowKey("nov", "abc"))
	assert.Equal(t, "chartrecon:nov:rows", RowIndexKey("nov"))
	assert.Equal(t, "chartrecon:nov:coverage:abc", CoverageEntryKey("nov", "abc"))
	assert.Equal(t, "chartrecon:nov:coverage_index", CoverageIndexKey("nov"))
	assert.Equal(t, "chartrecon:nov:processed:perez, ethel", ProcessedSetKey("nov", "perez, ethel"))
	assert.Equal(t, "chartrecon:nov:counter:recoveries", CounterKey("nov", "recoveries"))
	assert.Equal(t, "chartrecon:nov:progress_events", ProgressEventsChannel("nov"))
}

func TestKeysAreRunScoped(t *testing.T) {
	// Two runs must never collide on any key
	assert.NotEqual(t, RowIndexKey("run-a"), RowIndexKey("run-b"))
	assert.NotEqual(t, ProcessedSetKey("run-a", "s"), ProcessedSetKey("run-b", "s"))
}
