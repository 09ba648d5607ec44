package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapyops/chartrecon/internal/config"
	"github.com/therapyops/chartrecon/internal/recordsys"
	"github.com/therapyops/chartrecon/internal/report"
	"github.com/therapyops/chartrecon/internal/roster"
	"github.com/therapyops/chartrecon/pkg/ledger"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func setupLedger(t *testing.T) *ledger.Client {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, "test-run")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	return cfg
}

func testOptions() Options {
	return Options{
		Workers: config.WorkersConfig{
			Count:                2,
			StallTimeout:         config.Duration(30 * time.Second),
			ExtractionTimeout:    config.Duration(5 * time.Second),
			MaxNameMatchFailures: 3,
			MaxRecoveryFailures:  2,
		},
		Retry: config.RetryConfig{
			InitialInterval: config.Duration(time.Millisecond),
			MaxInterval:     config.Duration(5 * time.Millisecond),
			MaxElapsedTime:  config.Duration(100 * time.Millisecond),
		},
		Analysis:    config.DefaultConfig().Analysis,
		Credentials: recordsys.Credentials{Username: "svc", Password: "secret"},
		WindowStart: day(2025, 11, 1),
		WindowEnd:   day(2025, 11, 30),
	}
}

// fixture builds a scripted record system with one active staff member
// ("Smith, Sam", ID staff-1) and the given clients filed under them.
func fixture(clients ...recordsys.ClientRef) *recordsys.ScriptedClient {
	rs := recordsys.NewScriptedClient()
	rs.Staff = []recordsys.StaffRef{{ID: "staff-1", Name: "Smith, Sam"}}
	rs.ClientsByStaff["staff-1"] = clients
	return rs
}

func weeklyNotes(rs *recordsys.ScriptedClient, clientID string, dates ...time.Time) {
	for _, d := range dates {
		rs.DocumentsByClient[clientID] = append(rs.DocumentsByClient[clientID],
			recordsys.RawDocument{Label: "Therapy Note", Date: d})
	}
}

func runSupervisor(t *testing.T, led *ledger.Client, rs *recordsys.ScriptedClient, staff []roster.StaffMember, clients []roster.Client, opts Options) {
	t.Helper()
	sup := New(led, func() recordsys.Client { return rs }, testConfig(), opts)
	require.NoError(t, sup.Run(context.Background(), staff, clients))
}

func TestRun_FullTraversal(t *testing.T) {
	led := setupLedger(t)
	rs := fixture(
		recordsys.ClientRef{ID: "client-1", Name: "Doe, Jane"},
		recordsys.ClientRef{ID: "client-2", Name: "Roe, Rita"},
	)
	weeklyNotes(rs, "client-1", day(2025, 9, 20), day(2025, 9, 27), day(2025, 10, 4))

	staff := []roster.StaffMember{
		{Name: "smith, sam", Status: roster.StatusActive},
		{Name: "jones, jo", Status: roster.StatusTerminated, SeparationDate: day(2025, 6, 1)},
	}
	clients := []roster.Client{
		{Name: "doe, jane", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "roe, rita", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "closed, carl", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileClosed},
		{Name: "poe, pat", Staff: "jones, jo", CadenceDays: 14, FileStatus: roster.FileOpen},
	}

	runSupervisor(t, led, rs, staff, clients, testOptions())

	ctx := context.Background()
	rows, err := led.ReportRows(ctx)
	require.NoError(t, err)
	entries, err := led.CoverageEntries(ctx)
	require.NoError(t, err)

	// Every roster client is accounted for exactly once.
	assert.Empty(t, report.VerifyCoverage(clients, rows, entries))

	byClient := make(map[string]*ledger.ReportRow)
	for _, r := range rows {
		byClient[r.ClientName] = r
	}
	require.Len(t, rows, 3)

	jane := byClient["doe, jane"]
	require.NotNil(t, jane)
	assert.Equal(t, 0, jane.ActualCount)
	assert.Len(t, jane.PredictedDates, 5, "weekly client unseen all November")
	assert.Equal(t, "2025-11-01", jane.PredictedDates[0])

	rita := byClient["roe, rita"]
	require.NotNil(t, rita)
	assert.Contains(t, rita.Flags, report.FlagInsufficientHistory)
	assert.Empty(t, rita.PredictedDates)

	carl := byClient["closed, carl"]
	require.NotNil(t, carl)
	assert.Contains(t, carl.Flags, report.FlagSkipped)
	assert.Equal(t, "service-file-closed", carl.SkipReason)

	// Terminated staff member plus their client show up as coverage.
	require.Len(t, entries, 2)
	reasons := map[string]string{}
	for _, e := range entries {
		reasons[string(e.Kind)] = e.Reason
	}
	assert.Equal(t, "staff-terminated", reasons["staff"])
	assert.Equal(t, "staff-terminated", reasons["client"])

	counters, err := led.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counters[ledger.CounterClientsProcessed])
	assert.Equal(t, int64(0), counters[ledger.CounterWorkersBroken])
}

func TestRun_SessionExpiryPoisonGuard(t *testing.T) {
	led := setupLedger(t)
	rs := fixture(
		recordsys.ClientRef{ID: "client-1", Name: "Doe, Jane"},
		recordsys.ClientRef{ID: "client-2", Name: "Roe, Rita"},
	)
	weeklyNotes(rs, "client-2", day(2025, 11, 7), day(2025, 11, 14))
	rs.FailNext(recordsys.OpOpenDocuments, &recordsys.SessionExpiredError{Op: recordsys.OpOpenDocuments})

	staff := []roster.StaffMember{{Name: "smith, sam", Status: roster.StatusActive}}
	clients := []roster.Client{
		{Name: "doe, jane", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "roe, rita", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
	}

	runSupervisor(t, led, rs, staff, clients, testOptions())

	ctx := context.Background()
	rows, err := led.ReportRows(ctx)
	require.NoError(t, err)
	entries, err := led.CoverageEntries(ctx)
	require.NoError(t, err)

	// The client whose chart killed the session is abandoned, not retried:
	// it becomes a coverage entry and the traversal continues.
	require.Len(t, rows, 1)
	assert.Equal(t, "roe, rita", rows[0].ClientName)
	require.Len(t, entries, 1)
	assert.Equal(t, "doe, jane", entries[0].ClientName)
	assert.Equal(t, "abandoned-after-failure", entries[0].Reason)

	assert.Empty(t, report.VerifyCoverage(clients, rows, entries))

	// Recovery re-authenticated and re-located the staff member.
	assert.Equal(t, 2, rs.CallCount(recordsys.OpAuthenticate))
	counters, err := led.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters[ledger.CounterRecoveries])
}

func TestRun_TransientFailuresAreRetried(t *testing.T) {
	led := setupLedger(t)
	rs := fixture(recordsys.ClientRef{ID: "client-1", Name: "Doe, Jane"})
	weeklyNotes(rs, "client-1", day(2025, 11, 7))
	rs.FailNext(recordsys.OpListClients, &recordsys.TransientError{Op: recordsys.OpListClients})
	rs.FailNext(recordsys.OpListClients, &recordsys.TransientError{Op: recordsys.OpListClients})

	staff := []roster.StaffMember{{Name: "smith, sam", Status: roster.StatusActive}}
	clients := []roster.Client{
		{Name: "doe, jane", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
	}

	runSupervisor(t, led, rs, staff, clients, testOptions())

	rows, err := led.ReportRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1, "transient list failures must not lose the client")

	counters, err := led.Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counters[ledger.CounterTransientFailures])
	assert.Equal(t, int64(0), counters[ledger.CounterRecoveries])
}

func TestRun_ConsecutiveNameMatchFailuresBreakWorker(t *testing.T) {
	led := setupLedger(t)
	// Record system lists nobody under the staff member, so every roster
	// client fails to match.
	rs := fixture()
	rs.ClientsByStaff["staff-1"] = []recordsys.ClientRef{}

	staff := []roster.StaffMember{{Name: "smith, sam", Status: roster.StatusActive}}
	clients := []roster.Client{
		{Name: "a, ann", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "b, ben", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "c, cam", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "d, dee", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
	}

	runSupervisor(t, led, rs, staff, clients, testOptions())

	ctx := context.Background()
	rows, err := led.ReportRows(ctx)
	require.NoError(t, err)
	entries, err := led.CoverageEntries(ctx)
	require.NoError(t, err)

	assert.Empty(t, rows)
	assert.Empty(t, report.VerifyCoverage(clients, rows, entries))

	reasons := make(map[string]int)
	for _, e := range entries {
		reasons[e.Reason]++
	}
	assert.Equal(t, 3, reasons["name-match-failure"])
	assert.Equal(t, 1, reasons["worker-broken"], "the fourth client is never attempted")

	counters, err := led.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counters[ledger.CounterNameMatchFailures])
	assert.Equal(t, int64(1), counters[ledger.CounterWorkersBroken])
}

func TestRun_ExtractionTimeoutProducesPartialRow(t *testing.T) {
	led := setupLedger(t)
	rs := fixture(recordsys.ClientRef{ID: "client-1", Name: "Doe, Jane"})
	rs.HangOn(recordsys.OpOpenDocuments, 10*time.Second)

	opts := testOptions()
	opts.Workers.ExtractionTimeout = config.Duration(50 * time.Millisecond)

	staff := []roster.StaffMember{{Name: "smith, sam", Status: roster.StatusActive}}
	clients := []roster.Client{
		{Name: "doe, jane", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
	}

	runSupervisor(t, led, rs, staff, clients, opts)

	rows, err := led.ReportRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Flags, report.FlagPartialData)

	counters, err := led.Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters[ledger.CounterExtractionTimeouts])
}

func TestRun_ResumeSkipsProcessedClients(t *testing.T) {
	led := setupLedger(t)
	rs := fixture(
		recordsys.ClientRef{ID: "client-1", Name: "Doe, Jane"},
		recordsys.ClientRef{ID: "client-2", Name: "Roe, Rita"},
	)
	weeklyNotes(rs, "client-1", day(2025, 11, 7))
	weeklyNotes(rs, "client-2", day(2025, 11, 7))

	// A previous run already accounted for Rita.
	require.NoError(t, led.MarkProcessed(context.Background(), "smith, sam", "roe, rita"))

	staff := []roster.StaffMember{{Name: "smith, sam", Status: roster.StatusActive}}
	clients := []roster.Client{
		{Name: "doe, jane", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "roe, rita", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
	}

	runSupervisor(t, led, rs, staff, clients, testOptions())

	rows, err := led.ReportRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "doe, jane", rows[0].ClientName)
	assert.Equal(t, 1, rs.CallCount(recordsys.OpOpenDocuments), "processed clients are never re-extracted")
}

func TestRun_StopSignalCoversRemainingRoster(t *testing.T) {
	led := setupLedger(t)
	rs := fixture(recordsys.ClientRef{ID: "client-1", Name: "Doe, Jane"})

	staff := []roster.StaffMember{{Name: "smith, sam", Status: roster.StatusActive}}
	clients := []roster.Client{
		{Name: "doe, jane", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sup := New(led, func() recordsys.Client { return rs }, testConfig(), testOptions())
	err := sup.Run(ctx, staff, clients)
	assert.ErrorIs(t, err, context.Canceled)

	rows, rerr := led.ReportRows(context.Background())
	require.NoError(t, rerr)
	entries, cerr := led.CoverageEntries(context.Background())
	require.NoError(t, cerr)

	// Even an immediate stop leaves the roster fully accounted for.
	assert.Empty(t, report.VerifyCoverage(clients, rows, entries))
	found := false
	for _, e := range entries {
		if e.Reason == "stop-requested" {
			found = true
		}
	}
	assert.True(t, found, "remaining roster should be covered as stop-requested")
}

func TestRun_StopMidStaffCoversRemainingStaff(t *testing.T) {
	led := setupLedger(t)
	rs := fixture(recordsys.ClientRef{ID: "client-1", Name: "Doe, Jane"})
	rs.Staff = append(rs.Staff, recordsys.StaffRef{ID: "staff-2", Name: "Jones, Jo"})
	rs.ClientsByStaff["staff-2"] = []recordsys.ClientRef{{ID: "client-3", Name: "Poe, Pat"}}
	weeklyNotes(rs, "client-1", day(2025, 11, 7))
	rs.HangOn(recordsys.OpOpenDocuments, 250*time.Millisecond)

	opts := testOptions()
	opts.Workers.Count = 1

	staff := []roster.StaffMember{
		{Name: "smith, sam", Status: roster.StatusActive},
		{Name: "jones, jo", Status: roster.StatusActive},
	}
	clients := []roster.Client{
		{Name: "doe, jane", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "roe, rita", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "poe, pat", Staff: "jones, jo", CadenceDays: 7, FileStatus: roster.FileOpen},
	}

	// The stop lands while the first client's chart is still open, so the
	// worker is deep inside the first staff member's list.
	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	sup := New(led, func() recordsys.Client { return rs }, testConfig(), opts)
	err := sup.Run(ctx, staff, clients)
	assert.ErrorIs(t, err, context.Canceled)

	rows, rerr := led.ReportRows(context.Background())
	require.NoError(t, rerr)
	entries, cerr := led.CoverageEntries(context.Background())
	require.NoError(t, cerr)

	// Staff members the worker never reached are covered too.
	assert.Empty(t, report.VerifyCoverage(clients, rows, entries))

	staffCovered := map[string]string{}
	for _, e := range entries {
		if e.Kind == ledger.CoverageStaff {
			staffCovered[e.StaffName] = e.Reason
		}
	}
	assert.Equal(t, "stop-requested", staffCovered["jones, jo"])
}

func TestRun_StopDoesNotInterruptInFlightClient(t *testing.T) {
	led := setupLedger(t)
	rs := fixture(
		recordsys.ClientRef{ID: "client-1", Name: "Doe, Jane"},
		recordsys.ClientRef{ID: "client-2", Name: "Roe, Rita"},
	)
	weeklyNotes(rs, "client-1", day(2025, 11, 7))
	rs.HangOn(recordsys.OpOpenDocuments, 250*time.Millisecond)

	opts := testOptions()
	opts.Workers.Count = 1

	staff := []roster.StaffMember{{Name: "smith, sam", Status: roster.StatusActive}}
	clients := []roster.Client{
		{Name: "doe, jane", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
		{Name: "roe, rita", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
	}

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	sup := New(led, func() recordsys.Client { return rs }, testConfig(), opts)
	err := sup.Run(ctx, staff, clients)
	assert.ErrorIs(t, err, context.Canceled)

	rows, rerr := led.ReportRows(context.Background())
	require.NoError(t, rerr)
	entries, cerr := led.CoverageEntries(context.Background())
	require.NoError(t, cerr)

	// The client whose chart was open when the stop landed finishes
	// normally; only the untouched remainder becomes coverage.
	require.Len(t, rows, 1)
	assert.Equal(t, "doe, jane", rows[0].ClientName)
	assert.NotContains(t, rows[0].Flags, report.FlagPartialData)
	for _, e := range entries {
		assert.Equal(t, "stop-requested", e.Reason)
	}
	assert.Empty(t, report.VerifyCoverage(clients, rows, entries))
}

func TestRun_StalledWorkerGetsLastChanceThenBreaks(t *testing.T) {
	led := setupLedger(t)
	rs := fixture(recordsys.ClientRef{ID: "client-1", Name: "Doe, Jane"})
	// The chart open hangs far beyond the stall timeout; the monitor's
	// last-chance interrupt abandons the client and recovers the session.
	rs.HangOn(recordsys.OpOpenDocuments, time.Minute)

	opts := testOptions()
	opts.Workers.StallTimeout = config.Duration(100 * time.Millisecond)
	opts.Workers.ExtractionTimeout = config.Duration(30 * time.Second)

	staff := []roster.StaffMember{{Name: "smith, sam", Status: roster.StatusActive}}
	clients := []roster.Client{
		{Name: "doe, jane", Staff: "smith, sam", CadenceDays: 7, FileStatus: roster.FileOpen},
	}

	runSupervisor(t, led, rs, staff, clients, opts)

	rows, err := led.ReportRows(context.Background())
	require.NoError(t, err)
	entries, err := led.CoverageEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.VerifyCoverage(clients, rows, entries))
}
