package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cosched/internal/job"
	"github.com/aristath/cosched/internal/persistence"
	"github.com/aristath/cosched/internal/scheduler"
)

func value(v any) job.Func {
	return func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return v, nil
	}
}

func newRunner(t *testing.T, cfg ParallelRunnerConfig) *ParallelRunner {
	t.Helper()
	cfg.Scheduler.Logger = zerolog.Nop()
	r, err := NewParallelRunner(cfg)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestParallelRunner_Defaults(t *testing.T) {
	r := newRunner(t, ParallelRunnerConfig{Scheduler: scheduler.Config{PoolSize: 1}})
	if r.Shards() != 1 {
		t.Errorf("expected 1 shard by default, got %d", r.Shards())
	}
}

func TestParallelRunner_InvalidPoolSize(t *testing.T) {
	_, err := NewParallelRunner(ParallelRunnerConfig{Shards: 2, Scheduler: scheduler.Config{PoolSize: -1}})
	if !errors.Is(err, scheduler.ErrInvalidPoolSize) {
		t.Fatalf("expected ErrInvalidPoolSize, got %v", err)
	}
}

func TestParallelRunner_SubmitBalances(t *testing.T) {
	r := newRunner(t, ParallelRunnerConfig{Shards: 3, Scheduler: scheduler.Config{PoolSize: 2}})

	for i := 0; i < 7; i++ {
		if _, err := r.Submit(job.Must(value(i))); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	want := []int{3, 2, 2}
	for i, n := range want {
		if got := r.Shard(i).Len(); got != n {
			t.Errorf("shard %d: expected %d pending, got %d", i, n, got)
		}
	}
	if r.Len() != 7 {
		t.Errorf("expected 7 pending, got %d", r.Len())
	}

	if err := r.SubmitTo(5, job.Must(value(0))); err == nil {
		t.Error("expected out of range error")
	}
	if _, err := r.Submit(nil); !errors.Is(err, job.ErrInvalidJob) {
		t.Errorf("expected ErrInvalidJob, got %v", err)
	}
}

func TestParallelRunner_RunAllShards(t *testing.T) {
	r := newRunner(t, ParallelRunnerConfig{Shards: 4, ConcurrencyLimit: 2, Scheduler: scheduler.Config{PoolSize: 2}})

	var calls atomic.Int32
	for i := 0; i < 12; i++ {
		_, err := r.Submit(job.Must(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			calls.Add(1)
			return args[0], nil
		}, job.WithArgs(i)))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	results, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 shard results, got %d", len(results))
	}
	for i, sr := range results {
		if sr.Shard != i || len(sr.Results) != 3 || sr.Err != nil {
			t.Errorf("unexpected shard result %d: %+v", i, sr)
		}
	}
	if calls.Load() != 12 {
		t.Errorf("expected 12 calls, got %d", calls.Load())
	}
	if len(Flatten(results)) != 12 {
		t.Errorf("expected 12 flattened results")
	}
	if r.Len() != 0 {
		t.Errorf("expected every shard drained, got %d pending", r.Len())
	}
}

func TestParallelRunner_ShardsRunConcurrently(t *testing.T) {
	r := newRunner(t, ParallelRunnerConfig{Shards: 3, Scheduler: scheduler.Config{PoolSize: 1}})

	// Each job blocks its shard's goroutine, so serial shards would take 3x.
	delay := 60 * time.Millisecond
	for i := 0; i < 3; i++ {
		r.SubmitTo(i, job.Must(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			time.Sleep(delay)
			return nil, nil
		}))
	}

	start := time.Now()
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*delay+delay/2 {
		t.Errorf("expected shards to overlap, took %s", elapsed)
	}
}

func TestParallelRunner_ContextCancel(t *testing.T) {
	r := newRunner(t, ParallelRunnerConfig{Shards: 2, Scheduler: scheduler.Config{PoolSize: 1}})
	r.SubmitTo(0, job.Must(value(1), job.WithStart(time.Now().Add(time.Hour))))
	r.SubmitTo(1, job.Must(value(2)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	results, err := r.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if results[1].Err != nil || len(results[1].Results) != 1 {
		t.Errorf("expected quick shard to finish, got %+v", results[1])
	}
	if !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Errorf("expected delayed shard to be cut off, got %v", results[0].Err)
	}
}

func TestParallelRunner_JournalsPerShard(t *testing.T) {
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	r := newRunner(t, ParallelRunnerConfig{Shards: 2, Store: store, Scheduler: scheduler.Config{PoolSize: 1}})
	r.SubmitTo(0, job.Must(value("a"), job.WithName("a")))
	r.SubmitTo(1, job.Must(value("b"), job.WithName("b")))

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	runs, err := store.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 journaled runs, got %d", len(runs))
	}
	shards := map[string]string{}
	for _, run := range runs {
		shards[run.Name] = run.Shard
	}
	if shards["a"] != "shard-0" || shards["b"] != "shard-1" {
		t.Errorf("unexpected shard tags %v", shards)
	}
}
