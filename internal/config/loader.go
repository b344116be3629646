package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.cosched/config.json
// Project: .cosched/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".cosched", "config.json")
	projectPath := filepath.Join(".cosched", "config.json")

	return Load(globalPath, projectPath)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Scheduler.PoolSize < 0:
		return fmt.Errorf("%w: scheduler.pool_size must be non-negative, got %d", ErrInvalidConfig, c.Scheduler.PoolSize)
	case c.Shards.Count < 1:
		return fmt.Errorf("%w: shards.count must be at least 1, got %d", ErrInvalidConfig, c.Shards.Count)
	case c.Shards.Concurrency < 0:
		return fmt.Errorf("%w: shards.concurrency must be non-negative, got %d", ErrInvalidConfig, c.Shards.Concurrency)
	case c.Retry.InitialIntervalMs < 0 || c.Retry.MaxIntervalMs < 0 || c.Retry.MaxElapsedMs < 0:
		return fmt.Errorf("%w: retry intervals must be non-negative", ErrInvalidConfig)
	case c.Breaker.OpenTimeoutMs < 0:
		return fmt.Errorf("%w: breaker.open_timeout_ms must be non-negative", ErrInvalidConfig)
	case c.Command.LaunchesPerSecond < 0 || c.Command.Burst < 0:
		return fmt.Errorf("%w: command launch rate must be non-negative", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// mergeConfigFile reads a JSON config file over the base config. Only keys
// present in the file change. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
