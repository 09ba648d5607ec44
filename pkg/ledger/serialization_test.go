package ledger

import (
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowHashRoundTrip(t *testing.T) {
	row := &ReportRow{
		ID:             uuid.New().String(),
		RunName:        "run",
		ClientName:     "doe, jane",
		StaffName:      "perez, ethel",
		CadenceDays:    14,
		CadenceSource:  "inferred",
		ExpectedCount:  2,
		ActualCount:    1,
		MissedCount:    1,
		PredictedDates: []string{"2025-11-15"},
		Origins:        []string{"forward-projected"},
		Flags:          []string{"manual-review"},
		SkipReason:     "",
		Notes:          []string{"reassigned 2025-10-20"},
		WorkerID:       "worker-3",
		CreatedAtMs:    1735689600000,
	}

	hash, err := RowToHash(row)
	require.NoError(t, err)

	// Redis returns string values; simulate that
	stringHash := make(map[string]string, len(hash))
	for k, v := range hash {
		switch val := v.(type) {
		case string:
			stringHash[k] = val
		case int:
			stringHash[k] = itoa(val)
		case int64:
			stringHash[k] = itoa64(val)
		}
	}

	back, err := HashToRow(stringHash)
	require.NoError(t, err)
	assert.Equal(t, row, back)
}

func TestHashToRowEmptySlices(t *testing.T) {
	back, err := HashToRow(map[string]string{
		"id":          uuid.New().String(),
		"run_name":    "run",
		"client_name": "doe, jane",
		"staff_name":  "perez, ethel",
	})
	require.NoError(t, err)
	// Empty slices, not nil, for consistency
	assert.NotNil(t, back.PredictedDates)
	assert.NotNil(t, back.Flags)
	assert.Empty(t, back.PredictedDates)
}

func TestCoverageHashRoundTrip(t *testing.T) {
	entry := &CoverageEntry{
		ID:          uuid.New().String(),
		RunName:     "run",
		Kind:        CoverageClient,
		StaffName:   "smith, john",
		ClientName:  "doe, jane",
		Reason:      "stop-requested",
		WorkerID:    "worker-1",
		CreatedAtMs: 1735689600000,
	}

	hash := CoverageToHash(entry)
	stringHash := make(map[string]string, len(hash))
	for k, v := range hash {
		switch val := v.(type) {
		case string:
			stringHash[k] = val
		case int64:
			stringHash[k] = itoa64(val)
		}
	}

	back, err := HashToCoverage(stringHash)
	require.NoError(t, err)
	assert.Equal(t, entry, back)
}

func TestHashToCoverageRejectsBadKind(t *testing.T) {
	_, err := HashToCoverage(map[string]string{
		"id":         uuid.New().String(),
		"run_name":   "run",
		"kind":       "team",
		"staff_name": "smith, john",
		"reason":     "whatever",
	})
	assert.Error(t, err)
}

func itoa(n int) string     { return strconv.Itoa(n) }
func itoa64(n int64) string { return strconv.FormatInt(n, 10) }
