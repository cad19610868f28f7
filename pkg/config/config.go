// Package config handles Muninn configuration via environment variables and
// an optional YAML file.
//
// Configuration is loaded from the environment with LoadFromEnv(); a YAML
// file ("muninn.yaml" by default) can be applied first with LoadFile(), with
// environment variables taking precedence. All variables use the MUNINN_
// prefix.
//
// Environment Variables:
//   - MUNINN_DATA_DIR=./data
//   - MUNINN_STORAGE_BACKEND=badger|fs|memory
//   - MUNINN_DECAY_RATE=0.999
//   - MUNINN_DECAY_REMOVE_THRESHOLD=0.3
//   - MUNINN_INFER_MAX_ITERATIONS=10
//   - MUNINN_LOG_LEVEL=DEBUG|INFO|WARN|ERROR
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted by StorageBackend.
const (
	BackendBadger = "badger"
	BackendFS     = "fs"
	BackendMemory = "memory"
)

// Config holds all Muninn configuration.
type Config struct {
	// DataDir is the directory used by persistent blob backends.
	DataDir string `yaml:"data_dir"`

	// StorageBackend selects the blob store: badger, fs, or memory.
	StorageBackend string `yaml:"storage_backend"`

	// DecayRate is the per-hour confidence decay base for llm-sourced
	// triples: confidence × DecayRate^hours.
	DecayRate float64 `yaml:"decay_rate"`

	// DecayRemoveThreshold removes a triple when its decayed confidence
	// falls below this value.
	DecayRemoveThreshold float64 `yaml:"decay_remove_threshold"`

	// InferMaxIterations bounds the forward-chaining fixpoint loop.
	InferMaxIterations int `yaml:"infer_max_iterations"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the defaults used when nothing is configured.
//
// Defaults:
//   - DataDir: ./data
//   - StorageBackend: badger
//   - DecayRate: 0.999 (per hour)
//   - DecayRemoveThreshold: 0.3
//   - InferMaxIterations: 10
//   - LogLevel: INFO
func DefaultConfig() *Config {
	return &Config{
		DataDir:              "./data",
		StorageBackend:       BackendBadger,
		DecayRate:            0.999,
		DecayRemoveThreshold: 0.3,
		InferMaxIterations:   10,
		LogLevel:             "INFO",
	}
}

// LoadFromEnv builds a Config from defaults overlaid with MUNINN_* variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadFile builds a Config from defaults, the YAML file at path, and finally
// the environment (highest precedence). A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendBadger, BackendFS, BackendMemory:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}
	if c.StorageBackend != BackendMemory && c.DataDir == "" {
		return fmt.Errorf("config: data dir required for %s backend", c.StorageBackend)
	}
	if c.DecayRate <= 0 || c.DecayRate >= 1 {
		return fmt.Errorf("config: decay rate must be in (0, 1), got %v", c.DecayRate)
	}
	if c.DecayRemoveThreshold < 0 || c.DecayRemoveThreshold > 1 {
		return fmt.Errorf("config: decay remove threshold must be in [0, 1], got %v", c.DecayRemoveThreshold)
	}
	if c.InferMaxIterations <= 0 {
		return fmt.Errorf("config: infer max iterations must be positive, got %d", c.InferMaxIterations)
	}
	return nil
}

// String returns a printable summary.
func (c *Config) String() string {
	return fmt.Sprintf("backend=%s dataDir=%s decayRate=%g threshold=%g maxIter=%d logLevel=%s",
		c.StorageBackend, c.DataDir, c.DecayRate, c.DecayRemoveThreshold, c.InferMaxIterations, c.LogLevel)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MUNINN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MUNINN_STORAGE_BACKEND"); v != "" {
		c.StorageBackend = v
	}
	if v := os.Getenv("MUNINN_DECAY_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DecayRate = f
		}
	}
	if v := os.Getenv("MUNINN_DECAY_REMOVE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DecayRemoveThreshold = f
		}
	}
	if v := os.Getenv("MUNINN_INFER_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.InferMaxIterations = n
		}
	}
	if v := os.Getenv("MUNINN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
