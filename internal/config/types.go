package config

import "time"

// SchedulerConfig sizes each scheduler shard.
type SchedulerConfig struct {
	PoolSize int `json:"pool_size"` // Max admitted jobs per shard; 0 admits nothing
}

// ShardConfig controls how many independent schedulers run side by side.
type ShardConfig struct {
	Count       int `json:"count"`       // Number of scheduler shards
	Concurrency int `json:"concurrency"` // Shards driven at once (0 = all)
}

// RetryConfig defines the pause between failed attempts of a job.
type RetryConfig struct {
	InitialIntervalMs int     `json:"initial_interval_ms"` // 0 = yield only
	MaxIntervalMs     int     `json:"max_interval_ms"`
	MaxElapsedMs      int     `json:"max_elapsed_ms"` // 0 = pause keeps growing to max_interval
	Multiplier        float64 `json:"multiplier"`
	Jitter            float64 `json:"jitter"`
}

// BreakerConfig defines per-job-name circuit breakers.
type BreakerConfig struct {
	Enabled       bool   `json:"enabled"`
	TripAfter     uint32 `json:"trip_after"`
	OpenTimeoutMs int    `json:"open_timeout_ms"`
	MaxRequests   uint32 `json:"max_requests"`
}

// HistoryConfig locates the run-history journal.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"` // SQLite file; empty keeps history in memory
}

// LogConfig configures the logger.
type LogConfig struct {
	Level   string `json:"level"`   // zerolog level name
	Console bool   `json:"console"` // Human-readable output instead of JSON
	File    string `json:"file"`    // Append JSON logs here instead of stderr
}

// CommandConfig throttles external command launches.
type CommandConfig struct {
	LaunchesPerSecond float64 `json:"launches_per_second"` // 0 = unlimited
	Burst             int     `json:"burst"`
}

// Config is the top-level configuration.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Shards    ShardConfig     `json:"shards"`
	Retry     RetryConfig     `json:"retry"`
	Breaker   BreakerConfig   `json:"breaker"`
	History   HistoryConfig   `json:"history"`
	Command   CommandConfig   `json:"command"`
	Log       LogConfig       `json:"log"`
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// InitialInterval returns the first retry pause.
func (r RetryConfig) InitialInterval() time.Duration { return ms(r.InitialIntervalMs) }

// MaxInterval returns the upper bound of one retry pause.
func (r RetryConfig) MaxInterval() time.Duration { return ms(r.MaxIntervalMs) }

// MaxElapsed returns how long retry pauses may keep growing.
func (r RetryConfig) MaxElapsed() time.Duration { return ms(r.MaxElapsedMs) }

// OpenTimeout returns how long an open breaker rejects attempts.
func (b BreakerConfig) OpenTimeout() time.Duration { return ms(b.OpenTimeoutMs) }
