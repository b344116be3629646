package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Scheduler.PoolSize = 7

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if loaded.Scheduler.PoolSize != 7 {
		t.Errorf("Expected pool size 7, got %d", loaded.Scheduler.PoolSize)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	original := DefaultConfig()
	original.Shards.Count = 5
	original.Retry.MaxElapsedMs = 0
	original.History.Path = "/var/lib/cosched/history.db"
	original.Log.Console = false

	if err := Save(original, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *loaded != *original {
		t.Errorf("Round trip mismatch:\n got  %+v\n want %+v", loaded, original)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Shards.Count = 0

	if err := Save(cfg, path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Invalid config should not be written")
	}
}

func TestSaveOverwritesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Scheduler.PoolSize = 9
	if err := Save(cfg, path); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only config.json in %s, found %d entries", dir, len(entries))
	}
	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Scheduler.PoolSize != 9 {
		t.Errorf("Expected pool size 9, got %d", loaded.Scheduler.PoolSize)
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Retry.InitialInterval() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %s", cfg.Retry.InitialInterval())
	}
	if cfg.Retry.MaxInterval() != 10*time.Second {
		t.Errorf("Expected 10s, got %s", cfg.Retry.MaxInterval())
	}
	if cfg.Retry.MaxElapsed() != 2*time.Minute {
		t.Errorf("Expected 2m, got %s", cfg.Retry.MaxElapsed())
	}
	if cfg.Breaker.OpenTimeout() != 30*time.Second {
		t.Errorf("Expected 30s, got %s", cfg.Breaker.OpenTimeout())
	}
}
