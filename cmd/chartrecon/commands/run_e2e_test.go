package commands

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRunCommand_EndToEnd drives a full reconciliation through the run
// command: config, rosters and a fixture record system on disk, ledger on an
// in-process Redis, CSV report written to a file.
func TestRunCommand_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)

	dir := t.TempDir()

	configPath := filepath.Join(dir, "chartrecon.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`version: "1.0"
redis:
  addr: %s
record_system:
  base_url: https://records.example.invalid
  username_env: CHARTRECON_USERNAME
  password_env: CHARTRECON_PASSWORD
workers:
  count: 2
  stall_timeout: 30s
  extraction_timeout: 5s
`, mr.Addr())), 0o644))

	staffPath := filepath.Join(dir, "staff.csv")
	require.NoError(t, os.WriteFile(staffPath, []byte(
		"Last Name,First Name,Termination/Leave Date\n"+
			"Smith,Sam,\n"), 0o644))

	clientsPath := filepath.Join(dir, "clients.csv")
	require.NoError(t, os.WriteFile(clientsPath, []byte(
		"Last Name,First Name,Assigned Staff,Cadence,Reassigned,Reassignment/Service File Start Date,Service File Status,Date of Birth\n"+
			"Doe,Jane,\"Smith, Sam\",weekly,,2025-01-06,open,\n"+
			"Roe,Richard,\"Smith, Sam\",weekly,,2025-02-03,closed,\n"), 0o644))

	fixturePath := filepath.Join(dir, "records.yml")
	require.NoError(t, os.WriteFile(fixturePath, []byte(`staff:
  - id: staff-1
    name: Smith, Sam
clients:
  staff-1:
    - id: client-1
      name: Doe, Jane
documents:
  client-1:
    - label: Therapy Note
      date: 2025-11-03
    - label: Therapy Note
      date: 2025-11-10
    - label: Therapy Note
      date: 2025-11-17
`), 0o644))

	outPath := filepath.Join(dir, "report.csv")

	runConfigPath = configPath
	runStaffPath = staffPath
	runClientsPath = clientsPath
	runFixturePath = fixturePath
	runWindowStart = "2025-11-01"
	runWindowEnd = "2025-11-30"
	runFormat = "csv"
	runOutPath = outPath
	runRunName = "e2e-run"
	runResume = false
	defer func() {
		runConfigPath = "chartrecon.yml"
		runStaffPath = ""
		runClientsPath = ""
		runFixturePath = ""
		runWindowStart = ""
		runWindowEnd = ""
		runFormat = "table"
		runOutPath = ""
		runRunName = ""
	}()

	require.NoError(t, runRun(runCmd, nil))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)

	// Header, two client rows, blank-then-coverage section absent (full
	// coverage by rows alone).
	require.GreaterOrEqual(t, len(records), 3)
	assert.Equal(t, "client", records[0][0])

	byClient := make(map[string][]string)
	for _, rec := range records[1:3] {
		byClient[rec[0]] = rec
	}

	analyzed, ok := byClient["Doe, Jane"]
	require.True(t, ok)
	assert.Equal(t, "7", analyzed[2], "cadence_days")
	assert.Equal(t, "4", analyzed[4], "expected")
	assert.Equal(t, "3", analyzed[5], "actual")
	assert.Equal(t, "1", analyzed[6], "missed")
	assert.Contains(t, analyzed[7], "2025-11-24", "predicted date")

	skipped, ok := byClient["Roe, Richard"]
	require.True(t, ok)
	assert.Equal(t, "service-file-closed", skipped[10], "skip_reason")
}

// TestRunCommand_RefusesAccidentalRunNameReuse verifies the guard against
// silently continuing an existing run without --resume.
func TestRunCommand_RefusesAccidentalRunNameReuse(t *testing.T) {
	mr := miniredis.RunT(t)

	dir := t.TempDir()

	configPath := filepath.Join(dir, "chartrecon.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`version: "1.0"
redis:
  addr: %s
record_system:
  base_url: https://records.example.invalid
  username_env: CHARTRECON_USERNAME
  password_env: CHARTRECON_PASSWORD
`, mr.Addr())), 0o644))

	staffPath := filepath.Join(dir, "staff.csv")
	require.NoError(t, os.WriteFile(staffPath, []byte(
		"Last Name,First Name\nSmith,Sam\n"), 0o644))
	clientsPath := filepath.Join(dir, "clients.csv")
	require.NoError(t, os.WriteFile(clientsPath, []byte(
		"Last Name,First Name,Assigned Staff,Cadence,Service File Status\n"+
			"Doe,Jane,\"Smith, Sam\",weekly,open\n"), 0o644))
	fixturePath := filepath.Join(dir, "records.yml")
	require.NoError(t, os.WriteFile(fixturePath, []byte(`staff:
  - id: staff-1
    name: Smith, Sam
clients:
  staff-1:
    - id: client-1
      name: Doe, Jane
`), 0o644))

	runConfigPath = configPath
	runStaffPath = staffPath
	runClientsPath = clientsPath
	runFixturePath = fixturePath
	runWindowStart = "2025-11-01"
	runWindowEnd = "2025-11-30"
	runFormat = "jsonl"
	runOutPath = filepath.Join(dir, "report.jsonl")
	runRunName = "reused-run"
	runResume = false
	defer func() {
		runConfigPath = "chartrecon.yml"
		runStaffPath = ""
		runClientsPath = ""
		runFixturePath = ""
		runWindowStart = ""
		runWindowEnd = ""
		runFormat = "table"
		runOutPath = ""
		runRunName = ""
	}()

	require.NoError(t, runRun(runCmd, nil))

	// Same name again without --resume is refused.
	err := runRun(runCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has")

	// With --resume the run continues (and finds everything processed).
	runResume = true
	defer func() { runResume = false }()
	assert.NoError(t, runRun(runCmd, nil))
}
