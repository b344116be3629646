package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cosched/internal/events"
	"github.com/aristath/cosched/internal/job"
)

func newTestScheduler(t *testing.T, poolSize int) *Scheduler {
	t.Helper()
	s, err := New(Config{PoolSize: poolSize, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func constant(v any) job.Func {
	return func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return v, nil
	}
}

type memRecorder struct {
	mu      sync.Mutex
	results []JobResult
}

func (r *memRecorder) RecordResult(ctx context.Context, res JobResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func TestNew_InvalidPoolSize(t *testing.T) {
	if _, err := New(Config{PoolSize: -1}); !errors.Is(err, ErrInvalidPoolSize) {
		t.Fatalf("expected ErrInvalidPoolSize, got %v", err)
	}
}

func TestScheduler_PushNil(t *testing.T) {
	s := newTestScheduler(t, 1)
	if err := s.Push(nil); !errors.Is(err, job.ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}
	if !s.Empty() {
		t.Error("expected scheduler to stay empty")
	}
}

func TestScheduler_PushAdmitsUpToPoolSize(t *testing.T) {
	s := newTestScheduler(t, 2)
	for i := 0; i < 3; i++ {
		if err := s.Push(job.Must(constant(i))); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 pending, got %d", s.Len())
	}
	if s.Active() != 2 {
		t.Errorf("expected 2 active, got %d", s.Active())
	}
}

func TestScheduler_RunDrainsInWaves(t *testing.T) {
	s := newTestScheduler(t, 1)
	a := job.Must(constant("a"), job.WithName("a"))
	b := job.Must(constant("b"), job.WithName("b"))
	for _, j := range []*job.Job{a, b} {
		if err := s.Push(j); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	results, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].JobID != a.ID() || results[0].Value != "a" {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].JobID != b.ID() || results[1].Value != "b" {
		t.Errorf("unexpected second result %+v", results[1])
	}
	if s.Len() != 0 || s.Active() != 0 {
		t.Errorf("expected empty scheduler, got %d pending, %d active", s.Len(), s.Active())
	}
}

func TestScheduler_RunBatchDoesNotBackfill(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Push(job.Must(constant(1)))
	s.Push(job.Must(constant(2)))

	results, err := s.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if len(results) != 1 || results[0].Value != 1 {
		t.Fatalf("expected only the admitted job, got %+v", results)
	}
	if s.Len() != 1 || s.Active() != 0 {
		t.Fatalf("expected 1 pending and 0 active, got %d and %d", s.Len(), s.Active())
	}

	n, err := s.Backfill()
	if err != nil || n != 1 {
		t.Fatalf("backfill: admitted %d, err %v", n, err)
	}
	results, err = s.RunBatch(context.Background())
	if err != nil || len(results) != 1 || results[0].Value != 2 {
		t.Fatalf("second batch: %+v, %v", results, err)
	}
}

func TestScheduler_ZeroPoolSize(t *testing.T) {
	s := newTestScheduler(t, 0)
	s.Push(job.Must(constant(1)))

	results, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
	if s.Len() != 1 || s.Active() != 0 {
		t.Errorf("expected job to stay pending, got %d pending, %d active", s.Len(), s.Active())
	}
}

func TestScheduler_FailuresAreReportedPerJob(t *testing.T) {
	s := newTestScheduler(t, 2)
	dep := job.Must(constant(nil), job.WithStart(time.Now().Add(-time.Second)), job.WithDuration(0))
	parent := job.Must(constant("parent"), job.WithDependencies(dep))
	healthy := job.Must(constant("healthy"))
	s.Push(parent)
	s.Push(healthy)

	results, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !errors.Is(results[0].Err, ErrExpired) {
		t.Errorf("expected ErrExpired for parent, got %v", results[0].Err)
	}
	if !results[1].OK() || results[1].Value != "healthy" {
		t.Errorf("expected healthy result, got %+v", results[1])
	}
}

func TestScheduler_PopUnschedulesAdmittedHead(t *testing.T) {
	s := newTestScheduler(t, 1)
	if _, err := s.Pop(); !errors.Is(err, ErrSchedulerEmpty) {
		t.Fatalf("expected ErrSchedulerEmpty, got %v", err)
	}

	first := job.Must(constant(1))
	s.Push(first)
	s.Push(job.Must(constant(2)))

	popped, err := s.Pop()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if popped != first {
		t.Error("expected head of queue to be popped")
	}
	if s.Len() != 1 || s.Active() != 0 {
		t.Errorf("expected 1 pending and 0 active, got %d and %d", s.Len(), s.Active())
	}

	results, err := s.Run(context.Background())
	if err != nil || len(results) != 1 || results[0].Value != 2 {
		t.Fatalf("expected only the remaining job to run, got %+v, %v", results, err)
	}
}

func TestScheduler_PopEarliestStartFirst(t *testing.T) {
	s := newTestScheduler(t, 2)

	late := job.Must(constant("late"), job.WithName("late"), job.WithStart(time.Now().Add(time.Hour)))
	anytime := job.Must(constant("anytime"), job.WithName("anytime"))
	s.Push(late)
	s.Push(anytime)
	if s.Active() != 2 {
		t.Fatalf("expected both jobs admitted, got %d", s.Active())
	}

	if q := s.Queue(); q[0] != anytime {
		t.Fatalf("expected anytime at the head of Queue, got %s", q[0])
	}
	popped, err := s.Pop()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if popped != anytime {
		t.Errorf("expected Pop to agree with Queue, got %s", popped)
	}
	if s.Len() != 1 || s.Active() != 1 {
		t.Errorf("expected 1 pending and 1 active, got %d and %d", s.Len(), s.Active())
	}

	popped, err = s.Pop()
	if err != nil || popped != late {
		t.Errorf("expected late next, got %v, %v", popped, err)
	}
}

func TestScheduler_PopRunningHead(t *testing.T) {
	s := newTestScheduler(t, 1)
	var popErr error
	s.Push(job.Must(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		_, popErr = s.Pop()
		return nil, nil
	}))

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !errors.Is(popErr, ErrUnschedulable) {
		t.Errorf("expected ErrUnschedulable, got %v", popErr)
	}
}

func TestScheduler_Queue(t *testing.T) {
	s := newTestScheduler(t, 0)
	now := time.Now()
	late := job.Must(constant(nil), job.WithName("late"), job.WithStart(now.Add(time.Hour)))
	early := job.Must(constant(nil), job.WithName("early"), job.WithStart(now.Add(time.Minute)))
	anytime := job.Must(constant(nil), job.WithName("anytime"))
	for _, j := range []*job.Job{late, early, anytime} {
		s.Push(j)
	}

	q := s.Queue()
	want := []string{"anytime", "early", "late"}
	for i, name := range want {
		if q[i].Name() != name {
			t.Errorf("queue[%d] = %s, want %s", i, q[i].Name(), name)
		}
	}
}

func TestScheduler_ContextCancel(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Push(job.Must(constant(nil), job.WithStart(time.Now().Add(time.Hour))))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	results, err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if len(results) != 1 || !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Fatalf("expected cancelled result, got %+v", results)
	}
	if s.Len() != 0 || s.Active() != 0 {
		t.Errorf("expected job to be evicted, got %d pending, %d active", s.Len(), s.Active())
	}
}

func TestScheduler_RecorderAndEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicJob, 32)
	rec := &memRecorder{}

	s, err := New(Config{PoolSize: 2, Logger: zerolog.Nop(), Bus: bus, Recorder: rec})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	j := job.Must(constant("done"), job.WithName("recorded"))
	s.Push(j)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(rec.results) != 1 || rec.results[0].Name != "recorded" || rec.results[0].Attempts != 1 {
		t.Fatalf("unexpected recorded results %+v", rec.results)
	}

	seen := make(map[string]bool)
	timeout := time.After(100 * time.Millisecond)
	for !seen[events.EventTypeJobEvicted] {
		select {
		case e := <-ch:
			seen[e.EventType()] = true
		case <-timeout:
			t.Fatalf("timeout, saw %v", seen)
		}
	}
	for _, typ := range []string{events.EventTypeJobAdmitted, events.EventTypeJobStarted, events.EventTypeJobCompleted} {
		if !seen[typ] {
			t.Errorf("expected %s event", typ)
		}
	}
}

func TestScheduler_Close(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Push(job.Must(constant(1)))
	s.Close()
	if s.Active() != 0 {
		t.Errorf("expected admitted job to be unscheduled, got %d active", s.Active())
	}
	if s.Len() != 1 {
		t.Errorf("expected job to stay pending, got %d", s.Len())
	}
}
