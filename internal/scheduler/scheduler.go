package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cosched/internal/coro"
	"github.com/aristath/cosched/internal/events"
	"github.com/aristath/cosched/internal/job"
)

// Recorder journals settled job results.
type Recorder interface {
	RecordResult(ctx context.Context, res JobResult) error
}

// Config configures a Scheduler.
type Config struct {
	Name     string                  // Labels logs and progress events
	PoolSize int                     // Max JobTasks in the active set
	Logger   zerolog.Logger          // Zero value logs nothing
	Retry    RetryConfig             // Pause between failed attempts
	Breakers *CircuitBreakerRegistry // Optional per-job circuit breakers
	Bus      *events.EventBus        // Optional lifecycle events
	Recorder Recorder                // Optional result journal
}

// JobResult is the outcome of one admitted job.
type JobResult struct {
	JobID    string
	Name     string
	Value    any
	Err      error
	Attempts int
	Admitted time.Time
	Settled  time.Time

	seq uint64
}

// OK reports whether the job produced a value.
func (r JobResult) OK() bool { return r.Err == nil }

type pendingJob struct {
	job *job.Job
	seq uint64
}

// Scheduler admits jobs into a bounded active set and drives the active
// Tasks cooperatively on the caller's goroutine.
//
// Push, Pop and the admission/eviction phases of Run share one mutex, which
// is never held while Tasks are being resumed.
type Scheduler struct {
	mu        sync.Mutex
	name      string
	poolSize  int
	pending   []pendingJob
	active    []*JobTask
	nextSeq   uint64
	completed int
	failed    int

	runner   *Runner
	log      zerolog.Logger
	bus      *events.EventBus
	recorder Recorder

	// ctx is handed to job functions; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.PoolSize < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPoolSize, cfg.PoolSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	log := cfg.Logger.With().Str("component", "scheduler").Logger()
	if cfg.Name != "" {
		log = log.With().Str("scheduler", cfg.Name).Logger()
	}
	return &Scheduler{
		name:     cfg.Name,
		poolSize: cfg.PoolSize,
		runner: NewRunner(RunnerConfig{
			Logger:   log,
			Retry:    cfg.Retry,
			Breakers: cfg.Breakers,
			Bus:      cfg.Bus,
		}),
		log:      log,
		bus:      cfg.Bus,
		recorder: cfg.Recorder,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Name returns the configured name.
func (s *Scheduler) Name() string { return s.name }

// PoolSize returns the active-set capacity.
func (s *Scheduler) PoolSize() int { return s.poolSize }

// Len returns the number of pending jobs, admitted or not.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Empty reports whether no jobs are pending.
func (s *Scheduler) Empty() bool { return s.Len() == 0 }

// Active returns the number of JobTasks in the active set.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Queue returns the pending jobs ordered earliest start first. Jobs with
// equal starts keep submission order.
func (s *Scheduler) Queue() []*job.Job {
	s.mu.Lock()
	q := make([]*job.Job, len(s.pending))
	for i, p := range s.pending {
		q[i] = p.job
	}
	s.mu.Unlock()

	sort.SliceStable(q, func(i, k int) bool { return q[i].Less(q[k]) })
	return q
}

// Push appends j to the pending queue and admits it immediately when the
// active set has room.
func (s *Scheduler) Push(j *job.Job) error {
	if j == nil {
		return fmt.Errorf("push: %w: nil job", job.ErrInvalidJob)
	}

	s.mu.Lock()
	p := pendingJob{job: j, seq: s.nextSeq}
	s.nextSeq++
	s.pending = append(s.pending, p)

	var admitted *JobTask
	if len(s.active) < min(len(s.pending), s.poolSize) {
		jt, err := s.admitLocked(p)
		if err != nil {
			s.pending = s.pending[:len(s.pending)-1]
			s.mu.Unlock()
			return fmt.Errorf("push %s: %w", j, err)
		}
		admitted = jt
	}
	s.mu.Unlock()

	if admitted != nil {
		s.publishAdmitted(admitted)
	}
	return nil
}

// Pop removes and returns the head of the pending queue, the same job that
// Queue reports first: earliest start, then push order. If the head has a
// JobTask that was admitted but not yet driven, it is unscheduled first; a
// JobTask that is already running cannot be popped.
func (s *Scheduler) Pop() (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil, ErrSchedulerEmpty
	}
	// pending is in push order, so a strict comparison keeps FIFO among equals.
	idx := 0
	for i := 1; i < len(s.pending); i++ {
		if s.pending[i].job.Less(s.pending[idx].job) {
			idx = i
		}
	}
	head := s.pending[idx]
	if jt := s.activeForLocked(head.seq); jt != nil {
		if err := jt.unschedule(); err != nil {
			return nil, err
		}
		s.removeActiveLocked(jt)
	}
	s.pending = slices.Delete(s.pending, idx, idx+1)
	return head.job, nil
}

// Backfill admits pending jobs in FIFO order until the active set is full.
// It returns the number of newly admitted jobs.
func (s *Scheduler) Backfill() (int, error) {
	s.mu.Lock()
	var admitted []*JobTask
	var err error
	for _, p := range s.pending {
		if len(s.active) >= s.poolSize {
			break
		}
		if s.activeForLocked(p.seq) != nil {
			continue
		}
		jt, aerr := s.admitLocked(p)
		if aerr != nil {
			err = fmt.Errorf("backfill %s: %w", p.job, aerr)
			break
		}
		admitted = append(admitted, jt)
	}
	s.mu.Unlock()

	for _, jt := range admitted {
		s.publishAdmitted(jt)
	}
	return len(admitted), err
}

// RunBatch drives every not-yet-driven JobTask in the active set until all
// of them settle, then evicts them from the active set and the pending
// queue. Results are in submission order; failures are reported per job in
// JobResult.Err. It does not admit more work.
//
// The returned error is non-nil only if ctx ends the drive early; the
// unsettled jobs are then cancelled, evicted and reported with ctx's error.
func (s *Scheduler) RunBatch(ctx context.Context) ([]JobResult, error) {
	s.mu.Lock()
	if s.poolSize == 0 {
		s.mu.Unlock()
		s.log.Info().Msg("the pool size is 0: no room for jobs")
		return nil, nil
	}
	var batch []*JobTask
	for _, jt := range s.active {
		if jt.claim() == nil {
			batch = append(batch, jt)
		}
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil, nil
	}
	slices.SortFunc(batch, func(a, b *JobTask) int { return compareSeq(a.seq, b.seq) })

	tasks := make([]*coro.Task, len(batch))
	for i, jt := range batch {
		tasks[i] = jt.Plan.Task
	}
	s.publishProgress(len(batch))
	s.log.Debug().Int("jobs", len(batch)).Msg("driving batch")

	_, runErr := coro.Gather(ctx, tasks, coro.ReturnErrors())

	results := make([]JobResult, len(batch))
	for i, jt := range batch {
		res := JobResult{
			JobID:    jt.Job.ID(),
			Name:     jt.Job.Name(),
			Attempts: jt.Plan.Attempts(jt.Job.ID()),
			Admitted: jt.Plan.Compiled,
			Settled:  time.Now(),
			seq:      jt.seq,
		}
		if jt.Plan.Task.Done() {
			res.Value, res.Err = jt.Plan.Task.Result()
		} else {
			_ = jt.Plan.Cancel()
			res.Err = runErr
		}
		results[i] = res
	}

	s.evict(batch, results)
	s.record(results)

	if runErr != nil {
		return results, runErr
	}
	return results, nil
}

// Run admits and drives pending jobs in waves of at most PoolSize until the
// pending queue is drained or nothing more can be admitted. Results of all
// waves are returned in submission order.
func (s *Scheduler) Run(ctx context.Context) ([]JobResult, error) {
	var all []JobResult
	for {
		if _, err := s.Backfill(); err != nil {
			return sortBySeq(all), err
		}
		res, err := s.RunBatch(ctx)
		all = append(all, res...)
		if err != nil {
			return sortBySeq(all), err
		}
		if len(res) == 0 {
			break
		}
	}
	return sortBySeq(all), nil
}

// Close unschedules admitted jobs that were never driven and cancels the
// context handed to job functions. Pending jobs stay queued.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.active[:0]
	for _, jt := range s.active {
		if jt.unschedule() != nil {
			kept = append(kept, jt)
		}
	}
	s.active = kept
	s.cancel()
}

func (s *Scheduler) admitLocked(p pendingJob) (*JobTask, error) {
	plan, err := s.runner.Compile(s.ctx, p.job)
	if err != nil {
		return nil, err
	}
	jt := newJobTask(p.seq, plan)
	s.active = append(s.active, jt)
	return jt, nil
}

func (s *Scheduler) activeForLocked(seq uint64) *JobTask {
	for _, jt := range s.active {
		if jt.seq == seq {
			return jt
		}
	}
	return nil
}

func (s *Scheduler) removeActiveLocked(target *JobTask) {
	s.active = slices.DeleteFunc(s.active, func(jt *JobTask) bool { return jt == target })
}

func (s *Scheduler) evict(batch []*JobTask, results []JobResult) {
	s.mu.Lock()
	for i, jt := range batch {
		jt.finish()
		s.removeActiveLocked(jt)
		s.pending = slices.DeleteFunc(s.pending, func(p pendingJob) bool { return p.seq == jt.seq })
		if results[i].OK() {
			s.completed++
		} else {
			s.failed++
		}
	}
	s.mu.Unlock()

	now := time.Now()
	for _, jt := range batch {
		s.publish(events.JobEvictedEvent{ID: jt.Job.ID(), Name: jt.Job.Name(), Timestamp: now})
	}
	s.publishProgress(0)
}

func (s *Scheduler) record(results []JobResult) {
	if s.recorder == nil {
		return
	}
	for _, res := range results {
		if err := s.recorder.RecordResult(s.ctx, res); err != nil {
			s.log.Warn().Err(err).Str("job", res.Name).Msg("failed to record job result")
		}
	}
}

func (s *Scheduler) publishAdmitted(jt *JobTask) {
	s.publish(events.JobAdmittedEvent{ID: jt.Job.ID(), Name: jt.Job.Name(), Timestamp: time.Now()})
}

func (s *Scheduler) publishProgress(running int) {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	e := events.BatchProgressEvent{
		Source:    s.name,
		Total:     len(s.pending) + s.completed + s.failed,
		Completed: s.completed,
		Running:   running,
		Failed:    s.failed,
		Pending:   len(s.pending) - running,
		Timestamp: time.Now(),
	}
	s.mu.Unlock()
	s.bus.Publish(events.TopicScheduler, e)
}

func (s *Scheduler) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(events.TopicJob, e)
	}
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortBySeq(results []JobResult) []JobResult {
	slices.SortStableFunc(results, func(a, b JobResult) int { return compareSeq(a.seq, b.seq) })
	return results
}
