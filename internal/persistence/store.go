package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/cosched/internal/scheduler"
)

// Run is one journaled job outcome.
type Run struct {
	ID       int64
	Shard    string
	JobID    string
	Name     string
	OK       bool
	Attempts int
	Result   string // fmt %v of the value
	Error    string
	Admitted time.Time
	Settled  time.Time
}

// Stats summarizes the journal.
type Stats struct {
	Runs      int
	Succeeded int
	Failed    int
}

// Store defines the run-history journal. It records what happened; it is
// never read back to rebuild scheduler state.
type Store interface {
	RecordResult(ctx context.Context, res scheduler.JobResult) error
	Recorder(shard string) scheduler.Recorder
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RunsForJob(ctx context.Context, jobID string) ([]Run, error)
	Stats(ctx context.Context) (Stats, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named database so stores never share rows.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:runs-%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Shards record concurrently; a single writer connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
