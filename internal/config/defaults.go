package config

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			PoolSize: 4,
		},
		Shards: ShardConfig{
			Count:       2,
			Concurrency: 0,
		},
		Retry: RetryConfig{
			InitialIntervalMs: 100,
			MaxIntervalMs:     10_000,
			MaxElapsedMs:      120_000,
			Multiplier:        2.0,
			Jitter:            0.5,
		},
		Breaker: BreakerConfig{
			Enabled:       true,
			TripAfter:     5,
			OpenTimeoutMs: 30_000,
			MaxRequests:   3,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Command: CommandConfig{
			Burst: 1,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}
