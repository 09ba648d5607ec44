package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level chartrecon.yml configuration.
type Config struct {
	Version      string             `yaml:"version"`
	Redis        RedisConfig        `yaml:"redis"`
	RecordSystem RecordSystemConfig `yaml:"record_system"`
	Workers      WorkersConfig      `yaml:"workers"`
	Retry        RetryConfig        `yaml:"retry"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Documents    DocumentsConfig    `yaml:"documents"`
}

// RedisConfig specifies the connection to the Redis server backing the run
// ledger.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// RecordSystemConfig specifies how to reach the external record system.
// Credentials are never stored in the file; only the names of the environment
// variables holding them are.
type RecordSystemConfig struct {
	BaseURL     string `yaml:"base_url"`
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
	PageSize    int    `yaml:"page_size,omitempty"` // Client list page size hint, default 25
}

// WorkersConfig specifies the traversal pool and its health thresholds.
type WorkersConfig struct {
	Count                int      `yaml:"count,omitempty"`                   // Default: 4
	StallTimeout         Duration `yaml:"stall_timeout,omitempty"`           // No client completion within this trips the worker, default 5m
	ExtractionTimeout    Duration `yaml:"extraction_timeout,omitempty"`      // Per-client document extraction deadline, default 90s
	MaxNameMatchFailures int      `yaml:"max_name_match_failures,omitempty"` // Consecutive, default 3
	MaxRecoveryFailures  int      `yaml:"max_recovery_failures,omitempty"`   // Consecutive, default 2
}

// RetryConfig specifies the exponential backoff applied to individual record
// system calls before the supervisor escalates to session recovery.
type RetryConfig struct {
	InitialInterval Duration `yaml:"initial_interval,omitempty"` // Default 500ms
	MaxInterval     Duration `yaml:"max_interval,omitempty"`     // Default 10s
	MaxElapsedTime  Duration `yaml:"max_elapsed_time,omitempty"` // Default 45s
}

// AnalysisConfig specifies the prediction engine's tunables.
type AnalysisConfig struct {
	ToleranceDays         int            `yaml:"tolerance_days,omitempty"`          // Reschedule tolerance, default 3
	ReassignmentGraceDays int            `yaml:"reassignment_grace_days,omitempty"` // Default 14
	CadenceAliases        map[string]int `yaml:"cadence_aliases,omitempty"`         // Roster descriptor -> day interval
	ConventionalCadences  []int          `yaml:"conventional_cadences,omitempty"`   // Rounding targets, default [7, 14, 28]
	CadenceRoundingDays   int            `yaml:"cadence_rounding_days,omitempty"`   // Snap inferred gaps within this, default 2
}

// DocumentsConfig holds the document classification table. The table is
// configuration, not a constant: sites add their own note types without a
// rebuild.
type DocumentsConfig struct {
	Categories []CategoryRule `yaml:"categories"`
}

// CategoryRule maps document labels to a classification category. Labels
// match case-insensitively and singular/plural phrasings of a label are
// treated identically.
type CategoryRule struct {
	Category string   `yaml:"category"` // "billable", "missed" or "informational"
	Labels   []string `yaml:"labels"`
}

// Valid category values for CategoryRule.
const (
	CategoryBillable      = "billable"
	CategoryMissed        = "missed"
	CategoryInformational = "informational"
)

// Duration wraps time.Duration so it can be written as "90s" or "5m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Validate performs strict validation on the configuration and applies
// defaults for optional fields.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.RecordSystem.BaseURL == "" {
		return fmt.Errorf("record_system.base_url is required")
	}
	if c.RecordSystem.UsernameEnv == "" || c.RecordSystem.PasswordEnv == "" {
		return fmt.Errorf("record_system.username_env and record_system.password_env are required")
	}
	if c.RecordSystem.PageSize == 0 {
		c.RecordSystem.PageSize = 25
	}
	if c.RecordSystem.PageSize < 1 {
		return fmt.Errorf("record_system.page_size must be >= 1, got %d", c.RecordSystem.PageSize)
	}

	if c.Workers.Count == 0 {
		c.Workers.Count = 4
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be >= 1, got %d", c.Workers.Count)
	}
	if c.Workers.StallTimeout == 0 {
		c.Workers.StallTimeout = Duration(5 * time.Minute)
	}
	if c.Workers.ExtractionTimeout == 0 {
		c.Workers.ExtractionTimeout = Duration(90 * time.Second)
	}
	if c.Workers.MaxNameMatchFailures == 0 {
		c.Workers.MaxNameMatchFailures = 3
	}
	if c.Workers.MaxRecoveryFailures == 0 {
		c.Workers.MaxRecoveryFailures = 2
	}

	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = Duration(500 * time.Millisecond)
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = Duration(10 * time.Second)
	}
	if c.Retry.MaxElapsedTime == 0 {
		c.Retry.MaxElapsedTime = Duration(45 * time.Second)
	}

	if c.Analysis.ToleranceDays == 0 {
		c.Analysis.ToleranceDays = 3
	}
	if c.Analysis.ToleranceDays < 0 {
		return fmt.Errorf("analysis.tolerance_days must be >= 0, got %d", c.Analysis.ToleranceDays)
	}
	if c.Analysis.ReassignmentGraceDays == 0 {
		c.Analysis.ReassignmentGraceDays = 14
	}
	if len(c.Analysis.CadenceAliases) == 0 {
		c.Analysis.CadenceAliases = DefaultCadenceAliases()
	}
	for alias, days := range c.Analysis.CadenceAliases {
		if days < 1 {
			return fmt.Errorf("analysis.cadence_aliases[%q] must be >= 1 day, got %d", alias, days)
		}
	}
	if len(c.Analysis.ConventionalCadences) == 0 {
		c.Analysis.ConventionalCadences = []int{7, 14, 28}
	}
	if c.Analysis.CadenceRoundingDays == 0 {
		c.Analysis.CadenceRoundingDays = 2
	}

	if len(c.Documents.Categories) == 0 {
		c.Documents.Categories = DefaultCategories()
	}
	seen := make(map[string]string) // normalized label -> category
	for i, rule := range c.Documents.Categories {
		switch rule.Category {
		case CategoryBillable, CategoryMissed, CategoryInformational:
		default:
			return fmt.Errorf("documents.categories[%d]: invalid category: %s (must be '%s', '%s' or '%s')",
				i, rule.Category, CategoryBillable, CategoryMissed, CategoryInformational)
		}
		if len(rule.Labels) == 0 {
			return fmt.Errorf("documents.categories[%d] (%s): at least one label is required", i, rule.Category)
		}
		for _, label := range rule.Labels {
			if label == "" {
				return fmt.Errorf("documents.categories[%d] (%s): empty label", i, rule.Category)
			}
			if existing, dup := seen[label]; dup && existing != rule.Category {
				return fmt.Errorf("document label %q mapped to both '%s' and '%s'", label, existing, rule.Category)
			}
			seen[label] = rule.Category
		}
	}

	return nil
}

// Credentials resolves the record system credentials from the environment.
// Returns an error naming the missing variable rather than passing empty
// strings to the record system.
func (c *Config) Credentials() (username, password string, err error) {
	username = os.Getenv(c.RecordSystem.UsernameEnv)
	if username == "" {
		return "", "", fmt.Errorf("credential environment variable %s is not set", c.RecordSystem.UsernameEnv)
	}
	password = os.Getenv(c.RecordSystem.PasswordEnv)
	if password == "" {
		return "", "", fmt.Errorf("credential environment variable %s is not set", c.RecordSystem.PasswordEnv)
	}
	return username, password, nil
}

// DefaultConfig returns a validated configuration with every default
// applied. Used by tests and by `validate` to print the effective defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		Version: "1.0",
		RecordSystem: RecordSystemConfig{
			BaseURL:     "https://records.example.invalid",
			UsernameEnv: "CHARTRECON_USERNAME",
			PasswordEnv: "CHARTRECON_PASSWORD",
		},
	}
	if err := cfg.Validate(); err != nil {
		// The defaults are valid by construction.
		panic(fmt.Sprintf("default config failed validation: %v", err))
	}
	return cfg
}

// DefaultCadenceAliases returns the built-in roster cadence descriptors.
func DefaultCadenceAliases() map[string]int {
	return map[string]int{
		"weekly":      7,
		"1x week":     7,
		"biweekly":    14,
		"bi-weekly":   14,
		"every other": 14,
		"2x month":    14,
		"monthly":     28,
		"1x month":    28,
	}
}

// DefaultCategories returns the built-in document classification table.
// Labels are singular; the classifier treats plural phrasings identically.
func DefaultCategories() []CategoryRule {
	return []CategoryRule{
		{
			Category: CategoryBillable,
			Labels: []string{
				"Therapy Note",
				"Individual Session Note",
				"Telehealth Session Note",
				"Family Session Note",
			},
		},
		{
			Category: CategoryMissed,
			Labels: []string{
				"Missed Appointment Note",
				"No Show Note",
				"Late Cancellation Note",
			},
		},
		{
			Category: CategoryInformational,
			Labels: []string{
				"Consultation Note",
				"Treatment Plan",
				"Contact Note",
				"Intake Assessment",
				"Discharge Summary",
			},
		},
	}
}

// Load reads and validates chartrecon.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
