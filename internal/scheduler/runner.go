package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aristath/cosched/internal/coro"
	"github.com/aristath/cosched/internal/events"
	"github.com/aristath/cosched/internal/job"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Logger   zerolog.Logger
	Retry    RetryConfig             // Pause between failed attempts
	Breakers *CircuitBreakerRegistry // Optional; nil disables circuit breaking
	Bus      *events.EventBus        // Optional lifecycle events
}

// Runner compiles jobs into cooperative Tasks.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner creates a new Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{cfg: cfg}
}

// Plan is a compiled job: the root Task plus the flattened dependency graph
// it drives.
type Plan struct {
	Job      *job.Job
	Task     *coro.Task
	DAG      *DAG
	Compiled time.Time

	tasks    []*coro.Task
	attempts map[string]int
}

// Cancel cancels the root Task and every unsettled Task of the plan.
// The error is the root's; the rest are cancelled regardless.
func (p *Plan) Cancel() error {
	err := p.Task.Cancel()
	for _, t := range p.tasks {
		if !t.Status().Terminal() {
			_ = t.Cancel()
		}
	}
	return err
}

// Attempts returns how many times the job with the given ID was invoked.
// Only meaningful once Task has settled.
func (p *Plan) Attempts(jobID string) int {
	return p.attempts[jobID]
}

// Compile builds the Task for root.
//
// Every job in root's dependency graph gets its own Task whose body first
// waits at a join barrier for its direct dependencies. The returned root Task
// drives all of them round-robin, dependencies first. If any job fails, the
// remaining Tasks of the plan are cancelled and the failure becomes the
// root's failure.
func (r *Runner) Compile(ctx context.Context, root *job.Job) (*Plan, error) {
	dag, err := PlanFor(root)
	if err != nil {
		return nil, err
	}
	order, err := dag.Validate()
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", root, err)
	}

	plan := &Plan{
		Job:      root,
		DAG:      dag,
		Compiled: time.Now(),
		attempts: make(map[string]int, len(order)),
	}

	byID := make(map[string]*coro.Task, len(order))
	tasks := make([]*coro.Task, 0, len(order))
	for _, id := range order {
		j, _ := dag.Get(id)
		deps := j.Dependencies()
		depTasks := make([]*coro.Task, len(deps))
		for i, dep := range deps {
			depTasks[i] = byID[dep.ID()]
		}
		t := coro.Spawn(j.Name(), r.body(ctx, plan, j, depTasks))
		byID[id] = t
		tasks = append(tasks, t)
	}

	plan.tasks = tasks
	rootTask := byID[root.ID()]
	if len(tasks) == 1 {
		plan.Task = rootTask
		return plan, nil
	}

	plan.Task = coro.Spawn(root.Name(), func(yield coro.Yield) (any, error) {
		waiter, err := coro.AsyncWait(tasks, coro.WithSiblingPolicy(coro.CancelSiblings))
		if err != nil {
			return nil, err
		}
		if _, err := coro.Await(yield, waiter); err != nil {
			return nil, err
		}
		return rootTask.Result()
	})
	return plan, nil
}

// body is the coroutine for one job of a plan.
func (r *Runner) body(ctx context.Context, plan *Plan, j *job.Job, deps []*coro.Task) func(coro.Yield) (any, error) {
	log := r.cfg.Logger.With().Str("job", j.Name()).Str("job_id", j.ID()).Logger()

	return func(yield coro.Yield) (any, error) {
		if err := barrier(yield, deps); err != nil {
			return nil, fmt.Errorf("%s: %w", j, err)
		}

		if err := r.checkExpired(j, plan.Compiled); err != nil {
			return nil, err
		}

		if !j.IsStartable(time.Now()) {
			delay := time.Until(j.Start())
			log.Info().Dur("delay", delay).Msg("waiting for scheduled start")
			if err := r.pause(yield, j, plan.Compiled, delay); err != nil {
				return nil, err
			}
		}

		if err := yield(); err != nil {
			return nil, err
		}
		return r.attempts(ctx, yield, plan, j, log)
	}
}

// barrier suspends until every dependency Task has settled. Failures are
// surfaced by the plan driver, so only cancellation is reported here.
func barrier(yield coro.Yield, deps []*coro.Task) error {
	for {
		pending := false
		for _, d := range deps {
			switch d.Status() {
			case coro.StatusCancelled:
				return fmt.Errorf("%w: %s", ErrDependencyCancelled, d.Name())
			case coro.StatusFinished:
				if err := d.Failure(); err != nil {
					return err
				}
			default:
				pending = true
			}
		}
		if !pending {
			return nil
		}
		if err := yield(); err != nil {
			return err
		}
	}
}

// attempts invokes the job up to MaxRetries times in total. Failed attempts
// before the last one are logged and followed by a backoff pause; the last
// attempt's failure is returned as a *JobError.
func (r *Runner) attempts(ctx context.Context, yield coro.Yield, plan *Plan, j *job.Job, log zerolog.Logger) (any, error) {
	started := time.Now()
	r.publish(events.JobStartedEvent{ID: j.ID(), Name: j.Name(), Timestamp: started})

	maxAttempts := j.MaxRetries()
	if maxAttempts > 1 {
		log.Info().Int("max_retries", maxAttempts).Msg("running with retries")
	}

	policy := r.cfg.Retry.policy()
	var last time.Duration
	attempt := 1
	for ; attempt < maxAttempts; attempt++ {
		if err := r.checkExpired(j, plan.Compiled); err != nil {
			return nil, err
		}

		plan.attempts[j.ID()] = attempt
		v, err := invoke(ctx, j, r.cfg.Breakers)
		if err == nil {
			return r.succeed(j, v, attempt, started, log), nil
		}
		if !retryable(ctx, err) {
			return nil, r.fail(j, err, attempt, started, log)
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("attempt failed")
		r.publish(events.JobAttemptFailedEvent{ID: j.ID(), Name: j.Name(), Attempt: attempt, Err: err, Timestamp: time.Now()})

		// Stop only ends the growth of the pause; the attempt budget is
		// MaxRetries and the time budget is the job's duration.
		next := policy.NextBackOff()
		if next == backoff.Stop {
			next = last
		}
		last = next
		if err := r.pause(yield, j, plan.Compiled, next); err != nil {
			return nil, err
		}
	}

	if err := r.checkExpired(j, plan.Compiled); err != nil {
		return nil, err
	}
	plan.attempts[j.ID()] = attempt
	v, err := invoke(ctx, j, r.cfg.Breakers)
	if err != nil {
		return nil, r.fail(j, err, attempt, started, log)
	}
	return r.succeed(j, v, attempt, started, log), nil
}

// pause suspends for d, re-checking expiration at every suspension point.
// A non-positive d is a single yield.
func (r *Runner) pause(yield coro.Yield, j *job.Job, anchor time.Time, d time.Duration) error {
	if d <= 0 {
		return yield()
	}
	s, err := coro.Sleep(d)
	if err != nil {
		return err
	}
	for {
		done, err := s.Resume()
		if done || err != nil {
			return err
		}
		if err := yield(); err != nil {
			_ = s.Cancel()
			return err
		}
		if err := r.checkExpired(j, anchor); err != nil {
			_ = s.Cancel()
			return err
		}
	}
}

func (r *Runner) checkExpired(j *job.Job, anchor time.Time) error {
	now := time.Now()
	if !j.IsExpired(now, anchor) {
		return nil
	}
	deadline, _ := j.Deadline(anchor)
	err := fmt.Errorf("%s: %w at %s (deadline %s)", j, ErrExpired, now.Format(time.RFC3339Nano), deadline.Format(time.RFC3339Nano))
	r.publish(events.JobFailedEvent{ID: j.ID(), Name: j.Name(), Err: err, Timestamp: now})
	return err
}

func (r *Runner) succeed(j *job.Job, v any, attempts int, started time.Time, log zerolog.Logger) any {
	elapsed := time.Since(started)
	log.Info().Interface("result", v).Int("attempts", attempts).Dur("elapsed", elapsed).Msg("job finished")
	r.publish(events.JobCompletedEvent{ID: j.ID(), Name: j.Name(), Result: v, Attempts: attempts, Duration: elapsed, Timestamp: time.Now()})
	return v
}

func (r *Runner) fail(j *job.Job, cause error, attempts int, started time.Time, log zerolog.Logger) error {
	elapsed := time.Since(started)
	err := &JobError{Job: j.Name(), Attempts: attempts, Err: cause}
	log.Error().Err(cause).Int("attempts", attempts).Dur("elapsed", elapsed).Msg("job failed")
	r.publish(events.JobFailedEvent{ID: j.ID(), Name: j.Name(), Err: err, Attempts: attempts, Duration: elapsed, Timestamp: time.Now()})
	return err
}

func (r *Runner) publish(e events.Event) {
	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(events.TopicJob, e)
	}
}
