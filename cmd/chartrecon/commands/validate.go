package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/therapyops/chartrecon/internal/config"
	"github.com/therapyops/chartrecon/internal/printer"
	"github.com/therapyops/chartrecon/internal/roster"
)

var (
	validateConfigPath  string
	validateStaffPath   string
	validateClientsPath string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and rosters without running",
	Long: `Validate the configuration file and, optionally, the staff and client
rosters. Prints the effective settings after defaults are applied, the
document classification table, and every roster row that would be excluded
or flagged.

Nothing is written to Redis and the record system is never contacted.

Examples:
  # Check the configuration alone
  chartrecon validate

  # Dry-run the rosters as well
  chartrecon validate --staff staff.csv --clients clients.csv`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigPath, "config", "c", "chartrecon.yml", "Configuration file path")
	validateCmd.Flags().StringVar(&validateStaffPath, "staff", "", "Staff roster CSV to check")
	validateCmd.Flags().StringVar(&validateClientsPath, "clients", "", "Client roster CSV to check")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(validateConfigPath)
	if err != nil {
		return printer.Error(
			"configuration not found or invalid",
			fmt.Sprintf("Could not load %s: %v", validateConfigPath, err),
			nil,
		)
	}
	printer.Success("Configuration %s is valid\n", validateConfigPath)

	printEffectiveSettings(cfg)
	printCategoryTable(cfg)

	if validateStaffPath != "" {
		staff, warnings, err := roster.LoadStaff(validateStaffPath)
		if err != nil {
			return printer.Error(
				"staff roster not found or unreadable",
				fmt.Sprintf("Could not load %s: %v", validateStaffPath, err),
				nil,
			)
		}
		reportRosterWarnings(validateStaffPath, warnings)
		active := 0
		for _, s := range staff {
			if s.Traversable() {
				active++
			}
		}
		printer.Success("Staff roster: %d rows loaded, %d active\n", len(staff), active)
	}

	if validateClientsPath != "" {
		clients, warnings, err := roster.LoadClients(validateClientsPath, cfg.Analysis.CadenceAliases)
		if err != nil {
			return printer.Error(
				"client roster not found or unreadable",
				fmt.Sprintf("Could not load %s: %v", validateClientsPath, err),
				nil,
			)
		}
		reportRosterWarnings(validateClientsPath, warnings)
		flagged := 0
		for _, c := range clients {
			if c.ManualReview || len(c.Notes) > 0 {
				flagged++
			}
		}
		printer.Success("Client roster: %d rows loaded, %d flagged for review\n", len(clients), flagged)
	}

	return nil
}

func printEffectiveSettings(cfg *config.Config) {
	printer.Info("Redis: %s (db %d)\n", cfg.Redis.Addr, cfg.Redis.DB)
	printer.Info("Record system: %s, page size %d, credentials from $%s/$%s\n",
		cfg.RecordSystem.BaseURL, cfg.RecordSystem.PageSize,
		cfg.RecordSystem.UsernameEnv, cfg.RecordSystem.PasswordEnv)
	printer.Info("Workers: %d, stall timeout %s, extraction timeout %s\n",
		cfg.Workers.Count, cfg.Workers.StallTimeout.Std(), cfg.Workers.ExtractionTimeout.Std())
	printer.Info("Retry: initial %s, max %s, elapsed cap %s\n",
		cfg.Retry.InitialInterval.Std(), cfg.Retry.MaxInterval.Std(), cfg.Retry.MaxElapsedTime.Std())
	printer.Info("Analysis: tolerance %dd, reassignment grace %dd, cadences %v (snap within %dd), %d cadence aliases\n",
		cfg.Analysis.ToleranceDays, cfg.Analysis.ReassignmentGraceDays,
		cfg.Analysis.ConventionalCadences, cfg.Analysis.CadenceRoundingDays,
		len(cfg.Analysis.CadenceAliases))
}

func printCategoryTable(cfg *config.Config) {
	fmt.Println("\nDocument classification:")
	table := tablewriter.NewTable(os.Stdout)
	table.Header("CATEGORY", "LABELS")

	rules := make([]config.CategoryRule, len(cfg.Documents.Categories))
	copy(rules, cfg.Documents.Categories)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Category < rules[j].Category })

	for _, rule := range rules {
		table.Append([]string{rule.Category, strings.Join(rule.Labels, ", ")})
	}
	table.Render()
}

func reportRosterWarnings(path string, warnings []roster.Warning) {
	for _, w := range warnings {
		printer.Warning("%s line %d (%s): %s\n", path, w.Line, w.Name, w.Reason)
	}
}
