package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shard TEXT NOT NULL DEFAULT '',
		job_id TEXT NOT NULL,
		name TEXT NOT NULL,
		ok INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		result TEXT,
		error TEXT,
		admitted_at INTEGER NOT NULL,
		settled_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_job_id ON job_runs(job_id);
	CREATE INDEX IF NOT EXISTS idx_job_runs_settled_at ON job_runs(settled_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
