// Package config loads navrecon configuration from YAML with environment
// overrides. Missing config files fall back to defaults so the CLI works out
// of the box.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all navrecon configuration.
type Config struct {
	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Reasoner (LLM) configuration
	Reasoner ReasonerConfig `yaml:"reasoner"`

	// Drill-down thresholds
	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the SQLite data store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ReasonerConfig configures the LLM reasoner.
type ReasonerConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// TimeoutSeconds bounds each reasoner call. A timed-out call errors
	// and the caller's deterministic fallback takes over. Zero is replaced
	// with the default on load.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the per-call reasoner deadline as a duration.
func (r ReasonerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// ThresholdsConfig holds the materiality and escalation thresholds.
// Zero values are replaced with defaults on load; a legitimate zero
// threshold is not supported.
type ThresholdsConfig struct {
	// NAVPerShareMateriality is the per-share variance above which a NAV
	// break is material, in base currency per share.
	NAVPerShareMateriality float64 `yaml:"nav_per_share_materiality"`
	// NAVRelativeMateriality is the relative NAV variance above which a
	// break is material regardless of per-share impact.
	NAVRelativeMateriality float64 `yaml:"nav_relative_materiality"`
	// GLMateriality is the flat per-category GL variance threshold.
	GLMateriality float64 `yaml:"gl_materiality"`
	// PositionMateriality is the flat per-position variance threshold.
	PositionMateriality float64 `yaml:"position_materiality"`
	// ConfidenceEscalation is the overall confidence floor under which a
	// run escalates.
	ConfidenceEscalation float64 `yaml:"confidence_escalation"`
	// CriticalMagnitude is the relative variance above which a break
	// escalates on size alone.
	CriticalMagnitude float64 `yaml:"critical_magnitude"`
	// ConflictGap is the root-cause confidence gap under which the top two
	// causes count as conflicting.
	ConflictGap float64 `yaml:"conflict_gap"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "data/navrecon.db",
		},
		Reasoner: ReasonerConfig{
			Model:          "gemini-2.0-flash",
			TimeoutSeconds: 30,
		},
		Thresholds: ThresholdsConfig{
			NAVPerShareMateriality: 0.005,
			NAVRelativeMateriality: 0.0001,
			GLMateriality:          1000,
			PositionMateriality:    1000,
			ConfidenceEscalation:   0.70,
			CriticalMagnitude:      0.0005,
			ConflictGap:            0.15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fillZeroThresholds()
	if cfg.Reasoner.TimeoutSeconds == 0 {
		cfg.Reasoner.TimeoutSeconds = DefaultConfig().Reasoner.TimeoutSeconds
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("NAVRECON_DB"); path != "" {
		c.Database.Path = path
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Reasoner.APIKey = key
	}
	if model := os.Getenv("NAVRECON_REASONER_MODEL"); model != "" {
		c.Reasoner.Model = model
	}
	if level := os.Getenv("NAVRECON_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (c *Config) fillZeroThresholds() {
	def := DefaultConfig().Thresholds
	t := &c.Thresholds
	if t.NAVPerShareMateriality == 0 {
		t.NAVPerShareMateriality = def.NAVPerShareMateriality
	}
	if t.NAVRelativeMateriality == 0 {
		t.NAVRelativeMateriality = def.NAVRelativeMateriality
	}
	if t.GLMateriality == 0 {
		t.GLMateriality = def.GLMateriality
	}
	if t.PositionMateriality == 0 {
		t.PositionMateriality = def.PositionMateriality
	}
	if t.ConfidenceEscalation == 0 {
		t.ConfidenceEscalation = def.ConfidenceEscalation
	}
	if t.CriticalMagnitude == 0 {
		t.CriticalMagnitude = def.CriticalMagnitude
	}
	if t.ConflictGap == 0 {
		t.ConflictGap = def.ConflictGap
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	t := c.Thresholds
	for name, v := range map[string]float64{
		"nav_per_share_materiality": t.NAVPerShareMateriality,
		"nav_relative_materiality":  t.NAVRelativeMateriality,
		"gl_materiality":            t.GLMateriality,
		"position_materiality":      t.PositionMateriality,
		"critical_magnitude":        t.CriticalMagnitude,
		"conflict_gap":              t.ConflictGap,
	} {
		if v < 0 {
			return fmt.Errorf("threshold %s must not be negative", name)
		}
	}
	if t.ConfidenceEscalation < 0 || t.ConfidenceEscalation > 1 {
		return fmt.Errorf("confidence_escalation must be within [0, 1]")
	}
	if c.Reasoner.TimeoutSeconds < 0 {
		return fmt.Errorf("reasoner timeout_seconds must not be negative")
	}
	return nil
}
