package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/cosched/internal/scheduler"
)

// RecordResult appends one settled job to the journal.
func (s *SQLiteStore) RecordResult(ctx context.Context, res scheduler.JobResult) error {
	return s.insert(ctx, "", res)
}

// Recorder returns a scheduler.Recorder that tags every row with shard.
func (s *SQLiteStore) Recorder(shard string) scheduler.Recorder {
	return shardRecorder{store: s, shard: shard}
}

type shardRecorder struct {
	store *SQLiteStore
	shard string
}

func (r shardRecorder) RecordResult(ctx context.Context, res scheduler.JobResult) error {
	return r.store.insert(ctx, r.shard, res)
}

func (s *SQLiteStore) insert(ctx context.Context, shard string, res scheduler.JobResult) error {
	var result, errStr sql.NullString
	if res.Err != nil {
		errStr = sql.NullString{String: res.Err.Error(), Valid: true}
	} else if res.Value != nil {
		result = sql.NullString{String: fmt.Sprintf("%v", res.Value), Valid: true}
	}

	// Results are journaled after a cancelled run too.
	ctx = context.WithoutCancel(ctx)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (shard, job_id, name, ok, attempts, result, error, admitted_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, shard, res.JobID, res.Name, res.OK(), res.Attempts, result, errStr,
		res.Admitted.UnixMilli(), res.Settled.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record run of %s: %w", res.Name, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shard, job_id, name, ok, attempts, result, error, admitted_at, settled_at
		FROM job_runs
		ORDER BY settled_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	return scanRuns(rows)
}

// RunsForJob returns every run of one job, oldest first.
func (s *SQLiteStore) RunsForJob(ctx context.Context, jobID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shard, job_id, name, ok, attempts, result, error, admitted_at, settled_at
		FROM job_runs
		WHERE job_id = ?
		ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for job %s: %w", jobID, err)
	}
	return scanRuns(rows)
}

// Stats counts journaled runs by outcome.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var succeeded sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(ok) FROM job_runs`).Scan(&st.Runs, &succeeded)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	st.Succeeded = int(succeeded.Int64)
	st.Failed = st.Runs - st.Succeeded
	return st, nil
}

// Prune deletes runs settled before the cutoff and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE settled_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var result, errStr sql.NullString
		var admitted, settled int64
		if err := rows.Scan(&r.ID, &r.Shard, &r.JobID, &r.Name, &r.OK, &r.Attempts,
			&result, &errStr, &admitted, &settled); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Result = result.String
		r.Error = errStr.String
		r.Admitted = time.UnixMilli(admitted)
		r.Settled = time.UnixMilli(settled)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
