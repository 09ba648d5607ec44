package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/therapyops/chartrecon/internal/config"
	"github.com/therapyops/chartrecon/internal/printer"
	"github.com/therapyops/chartrecon/internal/recordsys"
	"github.com/therapyops/chartrecon/internal/report"
	"github.com/therapyops/chartrecon/internal/roster"
	"github.com/therapyops/chartrecon/internal/supervisor"
	"github.com/therapyops/chartrecon/internal/timespec"
	"github.com/therapyops/chartrecon/pkg/ledger"
)

var (
	runConfigPath  string
	runRunName     string
	runStaffPath   string
	runClientsPath string
	runFixturePath string
	runWindowStart string
	runWindowEnd   string
	runFormat      string
	runOutPath     string
	runResume      bool
	runWorkers     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a reconciliation run",
	Long: `Execute a reconciliation run over the given staff and client rosters.

Workers traverse the record system staff by staff, extract each client's
document timeline, infer the session cadence and predict missed-appointment
dates inside the analysis window. Results are written to the Redis ledger
as they are produced and printed when the run completes.

A run is resumable: re-running with the same --run-name skips every client
already in the run's processed set.

Examples:
  # Run against a fixture record system over the last 30 days
  chartrecon run --staff staff.csv --clients clients.csv --fixture records.yml

  # Explicit window and CSV output
  chartrecon run --staff staff.csv --clients clients.csv --fixture records.yml \
    --window-start 2025-11-01 --window-end 2025-11-30 --format csv --out report.csv

  # Resume an interrupted run
  chartrecon run --staff staff.csv --clients clients.csv --fixture records.yml \
    --run-name november-audit --resume`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "chartrecon.yml", "Configuration file path")
	runCmd.Flags().StringVar(&runRunName, "run-name", "", "Run identifier (auto-generated if omitted)")
	runCmd.Flags().StringVar(&runStaffPath, "staff", "", "Staff roster CSV (required)")
	runCmd.Flags().StringVar(&runClientsPath, "clients", "", "Client roster CSV (required)")
	runCmd.Flags().StringVar(&runFixturePath, "fixture", "", "Record system fixture YAML (required)")
	runCmd.Flags().StringVar(&runWindowStart, "window-start", "", "Analysis window start: 2006-01-02 or a duration like 720h (default: end minus 30 days)")
	runCmd.Flags().StringVar(&runWindowEnd, "window-end", "", "Analysis window end: 2006-01-02 (default: today)")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "table", "Output format: table, csv or jsonl")
	runCmd.Flags().StringVarP(&runOutPath, "out", "o", "", "Write the report to a file instead of stdout")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Allow re-using an existing run name")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Override the configured worker count")
	runCmd.MarkFlagRequired("staff")
	runCmd.MarkFlagRequired("clients")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	switch runFormat {
	case "table", "csv", "jsonl":
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", runFormat),
			[]string{"Valid formats: table, csv, jsonl"},
		)
	}

	// Phase 1: configuration and window
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return printer.Error(
			"configuration not found or invalid",
			fmt.Sprintf("Could not load %s: %v", runConfigPath, err),
			[]string{"Check the configuration:\n  chartrecon validate --config " + runConfigPath},
		)
	}

	if runWorkers < 0 {
		return printer.Error("invalid worker count", fmt.Sprintf("--workers must be >= 1, got %d", runWorkers), nil)
	}
	if runWorkers > 0 {
		cfg.Workers.Count = runWorkers
	}

	windowStart, windowEnd, err := timespec.ParseWindow(runWindowStart, runWindowEnd)
	if err != nil {
		return printer.Error(
			"invalid analysis window",
			err.Error(),
			[]string{"Dates are 2006-01-02; --window-start also accepts a duration like 720h"},
		)
	}

	// Phase 2: rosters
	staff, clients, err := loadRosters(cfg)
	if err != nil {
		return err
	}

	// Phase 3: record system surface
	if runFixturePath == "" {
		return printer.Error(
			"no record system configured",
			"This build ships without a live record system connector; runs are driven by a fixture file.",
			[]string{"Provide one:\n  chartrecon run --fixture records.yml ..."},
		)
	}
	rs, err := recordsys.LoadFixture(runFixturePath)
	if err != nil {
		return printer.Error(
			"fixture not found or invalid",
			fmt.Sprintf("Could not load %s: %v", runFixturePath, err),
			nil,
		)
	}
	creds := rs.ValidCredentials()
	if creds.Username == "" {
		// Fixture does not pin credentials; fall back to the configured
		// environment variables when they are set.
		if username, password, err := cfg.Credentials(); err == nil {
			creds = recordsys.Credentials{Username: username, Password: password}
		}
	}

	// Phase 4: ledger
	runName := runRunName
	if runName == "" {
		runName = fmt.Sprintf("run-%s", time.Now().UTC().Format("20060102-150405"))
	}

	led, err := ledger.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, runName)
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}
	defer led.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = led.Ping(pingCtx)
	cancelPing()
	if err != nil {
		return printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not reach Redis at %s: %v", cfg.Redis.Addr, err),
			[]string{"Check redis.addr in " + runConfigPath},
		)
	}

	if !runResume && runRunName != "" {
		checkCtx, cancelCheck := context.WithTimeout(context.Background(), 5*time.Second)
		rows, err := led.ReportRows(checkCtx)
		cancelCheck()
		if err == nil && len(rows) > 0 {
			return printer.Error(
				fmt.Sprintf("run '%s' already has %d report rows", runName, len(rows)),
				"Re-using a run name continues the existing run and skips its processed clients.",
				[]string{
					"Resume it explicitly:\n  chartrecon run --run-name " + runName + " --resume ...",
					"Or pick a fresh name with --run-name",
				},
			)
		}
	}

	// Phase 5: execute
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer.Info("Run %s: %d staff, %d clients, window %s to %s\n",
		runName, len(staff), len(clients),
		windowStart.Format("2006-01-02"), windowEnd.Format("2006-01-02"))

	progressDone := watchProgress(ctx, led)

	sup := supervisor.New(led, func() recordsys.Client { return rs }, cfg, supervisor.Options{
		Workers:     cfg.Workers,
		Retry:       cfg.Retry,
		Analysis:    cfg.Analysis,
		Credentials: creds,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	})

	runErr := sup.Run(ctx, staff, clients)
	stop()
	<-progressDone

	if runErr != nil {
		printer.Warning("Run interrupted; unfinished roster entries were recorded as coverage\n")
	}

	// Phase 6: report
	return emitReport(led, clients)
}

func loadRosters(cfg *config.Config) ([]roster.StaffMember, []roster.Client, error) {
	staff, staffWarnings, err := roster.LoadStaff(runStaffPath)
	if err != nil {
		return nil, nil, printer.Error(
			"staff roster not found or unreadable",
			fmt.Sprintf("Could not load %s: %v", runStaffPath, err),
			nil,
		)
	}
	clients, clientWarnings, err := roster.LoadClients(runClientsPath, cfg.Analysis.CadenceAliases)
	if err != nil {
		return nil, nil, printer.Error(
			"client roster not found or unreadable",
			fmt.Sprintf("Could not load %s: %v", runClientsPath, err),
			nil,
		)
	}

	for _, w := range staffWarnings {
		printer.Warning("%s line %d (%s): %s\n", runStaffPath, w.Line, w.Name, w.Reason)
	}
	for _, w := range clientWarnings {
		printer.Warning("%s line %d (%s): %s\n", runClientsPath, w.Line, w.Name, w.Reason)
	}

	if len(staff) == 0 {
		return nil, nil, printer.Error("staff roster is empty", "No usable rows were loaded.", nil)
	}
	if len(clients) == 0 {
		return nil, nil, printer.Error("client roster is empty", "No usable rows were loaded.", nil)
	}

	return staff, clients, nil
}

// watchProgress streams progress events to the console until ctx is
// cancelled. The returned channel closes once the subscription has drained.
func watchProgress(ctx context.Context, led *ledger.Client) <-chan struct{} {
	done := make(chan struct{})

	sub, err := led.SubscribeProgress(ctx)
	if err != nil {
		printer.Warning("Progress events unavailable: %v\n", err)
		close(done)
		return done
	}

	go func() {
		defer close(done)
		defer sub.Close()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				printProgress(ev)
			case _, ok := <-sub.Errors():
				if !ok {
					return
				}
				// Malformed event payloads are skipped silently; they
				// affect display only.
			}
		}
	}()

	return done
}

func printProgress(ev *ledger.ProgressEvent) {
	switch ev.Event {
	case "client_completed":
		printer.Step("[%s] %s / %s\n", ev.WorkerID, ev.StaffName, ev.ClientName)
	case "staff_completed":
		printer.Success("[%s] finished %s\n", ev.WorkerID, ev.StaffName)
	case "worker_broken":
		printer.Warning("[%s] worker broken: %s\n", ev.WorkerID, ev.Detail)
	default:
		if ev.Detail != "" {
			printer.Step("[%s] %s: %s\n", ev.WorkerID, ev.Event, ev.Detail)
		} else {
			printer.Step("[%s] %s\n", ev.WorkerID, ev.Event)
		}
	}
}

func emitReport(led *ledger.Client, clients []roster.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := led.ReportRows(ctx)
	if err != nil {
		return fmt.Errorf("failed to read report rows: %w", err)
	}
	entries, err := led.CoverageEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read coverage entries: %w", err)
	}

	for _, missing := range report.VerifyCoverage(clients, rows, entries) {
		printer.Warning("Roster entry unaccounted for: %s\n", missing)
	}

	out := os.Stdout
	if runOutPath != "" {
		f, err := os.Create(runOutPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch runFormat {
	case "table":
		report.FormatTable(out, rows, entries)
	case "csv":
		if err := report.FormatCSV(out, rows, entries); err != nil {
			return fmt.Errorf("failed to write CSV: %w", err)
		}
	case "jsonl":
		if err := report.FormatJSONL(out, rows); err != nil {
			return fmt.Errorf("failed to write JSONL: %w", err)
		}
	}

	if runOutPath != "" {
		printer.Success("Report written to %s (%d rows, %d coverage entries)\n",
			runOutPath, len(rows), len(entries))
	}

	if counters, err := led.Counters(ctx); err == nil {
		printer.Info("Counters: processed=%d transient_failures=%d recoveries=%d name_match_failures=%d extraction_timeouts=%d workers_broken=%d\n",
			counters[ledger.CounterClientsProcessed],
			counters[ledger.CounterTransientFailures],
			counters[ledger.CounterRecoveries],
			counters[ledger.CounterNameMatchFailures],
			counters[ledger.CounterExtractionTimeouts],
			counters[ledger.CounterWorkersBroken])
	}

	return nil
}
