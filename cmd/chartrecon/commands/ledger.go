package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/therapyops/chartrecon/internal/config"
	"github.com/therapyops/chartrecon/internal/printer"
	"github.com/therapyops/chartrecon/internal/report"
	"github.com/therapyops/chartrecon/pkg/ledger"
)

var (
	ledgerConfigPath string
	ledgerRunName    string
	ledgerFormat     string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect a run's ledger",
	Long: `Inspect the report rows, coverage entries and counters of a past or
in-flight run. The ledger is append-only, so inspecting a run never
changes it; an in-flight run shows whatever has been written so far.

Output Formats:
  table - Report rows and coverage as console tables, plus counters
  csv   - Spreadsheet layout, identical to 'run --format csv'
  jsonl - One JSON object per report row

Examples:
  # Show a run's report so far
  chartrecon ledger --run-name november-audit

  # Extract rows for scripting
  chartrecon ledger --run-name november-audit --format jsonl | jq .client_name`,
	RunE: runLedger,
}

func init() {
	ledgerCmd.Flags().StringVarP(&ledgerConfigPath, "config", "c", "chartrecon.yml", "Configuration file path")
	ledgerCmd.Flags().StringVar(&ledgerRunName, "run-name", "", "Run identifier (required)")
	ledgerCmd.Flags().StringVarP(&ledgerFormat, "format", "f", "table", "Output format: table, csv or jsonl")
	ledgerCmd.MarkFlagRequired("run-name")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	switch ledgerFormat {
	case "table", "csv", "jsonl":
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", ledgerFormat),
			[]string{"Valid formats: table, csv, jsonl"},
		)
	}

	cfg, err := config.Load(ledgerConfigPath)
	if err != nil {
		return printer.Error(
			"configuration not found or invalid",
			fmt.Sprintf("Could not load %s: %v", ledgerConfigPath, err),
			nil,
		)
	}

	led, err := ledger.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, ledgerRunName)
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}
	defer led.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := led.Ping(ctx); err != nil {
		return printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not reach Redis at %s: %v", cfg.Redis.Addr, err),
			[]string{"Check redis.addr in " + ledgerConfigPath},
		)
	}

	rows, err := led.ReportRows(ctx)
	if err != nil {
		return fmt.Errorf("failed to read report rows: %w", err)
	}
	entries, err := led.CoverageEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read coverage entries: %w", err)
	}

	switch ledgerFormat {
	case "table":
		report.FormatTable(os.Stdout, rows, entries)
		counters, err := led.Counters(ctx)
		if err != nil {
			return fmt.Errorf("failed to read counters: %w", err)
		}
		fmt.Println("\nCounters:")
		for _, name := range ledger.CounterNames {
			fmt.Printf("  %-20s %d\n", name, counters[name])
		}
	case "csv":
		if err := report.FormatCSV(os.Stdout, rows, entries); err != nil {
			return fmt.Errorf("failed to write CSV: %w", err)
		}
	case "jsonl":
		if err := report.FormatJSONL(os.Stdout, rows); err != nil {
			return fmt.Errorf("failed to write JSONL: %w", err)
		}
	}

	return nil
}
