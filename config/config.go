// Package config provides configuration for kvbench runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weiihann/kvbench/backend"
)

// Environment variables read by LoadFromEnv.
const (
	EnvBackend   = "KVBENCH_BACKEND"
	EnvTempDir   = "KVBENCH_TMPDIR"
	EnvDiskUsage = "KVBENCH_DU"
	EnvOutput    = "KVBENCH_OUTPUT"
)

// Output formats.
const (
	OutputJSON     = "json"
	OutputMarkdown = "markdown"
)

// Config holds settings shared by every kvbench command.
type Config struct {
	// Backend is the engine selector. Empty selects the default engine.
	Backend string `json:"backend" yaml:"backend"`

	// TempDir is where run directories are created (default: os.TempDir())
	TempDir string `json:"temp_dir" yaml:"temp_dir"`

	// DiskUsageCommand is the du-compatible tool used for disk samples
	DiskUsageCommand string `json:"du_command" yaml:"du_command"`

	// Output is the report format: json or markdown
	Output string `json:"output" yaml:"output"`

	// Workload holds default workload parameters
	Workload WorkloadConfig `json:"workload" yaml:"workload"`
}

// WorkloadConfig holds default workload parameters.
type WorkloadConfig struct {
	// Records is the number of records written by each workload
	Records int `json:"records" yaml:"records"`

	// ValueSize is the size of each generated value in bytes
	ValueSize int `json:"value_size" yaml:"value_size"`

	// Seed seeds generated data (0 = use current time)
	Seed int64 `json:"seed" yaml:"seed"`

	// BatchSize is the number of records per batch in bulk loads
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Dataset is an optional JSONL dataset for the load workload
	Dataset string `json:"dataset" yaml:"dataset"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DiskUsageCommand: "du",
		Output:           OutputJSON,
		Workload: WorkloadConfig{
			Records:   100_000,
			ValueSize: 64,
			Seed:      1,
			BatchSize: 1000,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// Load returns the defaults, overlaid with path (if not empty) and then
// with the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		var err error

		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)

	return cfg, nil
}

// LoadFromEnv overrides cfg with KVBENCH_* environment variables. Unset and
// empty variables leave the current value alone.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv(EnvBackend); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv(EnvTempDir); v != "" {
		cfg.TempDir = v
	}
	if v := os.Getenv(EnvDiskUsage); v != "" {
		cfg.DiskUsageCommand = v
	}
	if v := os.Getenv(EnvOutput); v != "" {
		cfg.Output = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, ok := backend.ParseKind(c.Backend); !ok {
		return fmt.Errorf("invalid backend: %s (must be one of %s)",
			c.Backend, kindList())
	}

	switch c.Output {
	case OutputJSON, OutputMarkdown:
	default:
		return fmt.Errorf("invalid output: %s (must be json or markdown)", c.Output)
	}

	if c.Workload.Records <= 0 {
		return fmt.Errorf("workload.records must be positive, got %d", c.Workload.Records)
	}

	if c.Workload.ValueSize < 0 {
		return fmt.Errorf("workload.value_size must not be negative, got %d", c.Workload.ValueSize)
	}

	if c.Workload.BatchSize <= 0 {
		return fmt.Errorf("workload.batch_size must be positive, got %d", c.Workload.BatchSize)
	}

	return nil
}

func kindList() string {
	kinds := backend.Kinds()
	names := make([]string, len(kinds))

	for i, k := range kinds {
		names[i] = string(k)
	}

	return strings.Join(names, ", ")
}
