// Package job defines the immutable job descriptor consumed by the scheduler.
package job

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidJob is returned when a job descriptor fails validation.
var ErrInvalidJob = errors.New("invalid job")

// Func is the unit of work a Job runs. It receives copies of the job's
// positional and keyword arguments.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Job is an immutable description of deferred work. Construct it with New;
// nothing in this module mutates a Job afterwards.
type Job struct {
	id           string
	name         string
	fn           Func
	args         []any
	kwargs       map[string]any
	maxRetries   int
	start        time.Time
	duration     time.Duration
	hasDuration  bool
	dependencies []*Job
}

// Option configures a Job at construction time.
type Option func(*Job) error

// WithName sets a human-readable label used in logs and events.
func WithName(name string) Option {
	return func(j *Job) error {
		j.name = name
		return nil
	}
}

// WithArgs sets the positional arguments.
func WithArgs(args ...any) Option {
	return func(j *Job) error {
		j.args = slices.Clone(args)
		return nil
	}
}

// WithKwargs sets the keyword arguments.
func WithKwargs(kwargs map[string]any) Option {
	return func(j *Job) error {
		j.kwargs = maps.Clone(kwargs)
		return nil
	}
}

// WithMaxRetries bounds the number of attempts. 0 means a single attempt.
func WithMaxRetries(n int) Option {
	return func(j *Job) error {
		if n < 0 {
			return fmt.Errorf("%w: max retries must be non-negative, got %d", ErrInvalidJob, n)
		}
		j.maxRetries = n
		return nil
	}
}

// WithStart schedules the job to begin no earlier than t.
func WithStart(t time.Time) Option {
	return func(j *Job) error {
		j.start = t
		return nil
	}
}

// WithDuration sets the expiration window measured from the start.
func WithDuration(d time.Duration) Option {
	return func(j *Job) error {
		if d < 0 {
			return fmt.Errorf("%w: duration must be non-negative, got %s", ErrInvalidJob, d)
		}
		j.duration = d
		j.hasDuration = true
		return nil
	}
}

// WithDependencies sets the jobs that must finish before this one runs.
func WithDependencies(deps ...*Job) Option {
	return func(j *Job) error {
		for i, d := range deps {
			if d == nil {
				return fmt.Errorf("%w: dependency %d is nil", ErrInvalidJob, i)
			}
		}
		j.dependencies = slices.Clone(deps)
		return nil
	}
}

// New validates and builds a Job.
func New(fn Func, opts ...Option) (*Job, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: function is nil", ErrInvalidJob)
	}
	j := &Job{
		id: uuid.NewString(),
		fn: fn,
	}
	for _, opt := range opts {
		if err := opt(j); err != nil {
			return nil, err
		}
	}
	if j.name == "" {
		j.name = "job-" + j.id[:8]
	}
	return j, nil
}

// Must is like New but panics on error. Intended for fixed job graphs.
func Must(fn Func, opts ...Option) *Job {
	j, err := New(fn, opts...)
	if err != nil {
		panic(err)
	}
	return j
}

func (j *Job) String() string {
	return fmt.Sprintf("job %q", j.name)
}

func (j *Job) ID() string       { return j.id }
func (j *Job) Name() string     { return j.name }
func (j *Job) MaxRetries() int  { return j.maxRetries }
func (j *Job) Start() time.Time { return j.start }
func (j *Job) HasStart() bool   { return !j.start.IsZero() }
func (j *Job) Args() []any      { return slices.Clone(j.args) }
func (j *Job) Kwargs() map[string]any {
	return maps.Clone(j.kwargs)
}

// Duration returns the expiration window and whether one is set.
func (j *Job) Duration() (time.Duration, bool) { return j.duration, j.hasDuration }

// Dependencies returns a copy of the direct dependency list.
func (j *Job) Dependencies() []*Job { return slices.Clone(j.dependencies) }

// Call invokes the job's function with fresh copies of its arguments.
func (j *Job) Call(ctx context.Context) (any, error) {
	return j.fn(ctx, j.Args(), j.Kwargs())
}

// Deadline returns the end of the expiration window. The window starts at the
// job's start time, or at anchor when no start is set.
func (j *Job) Deadline(anchor time.Time) (time.Time, bool) {
	if !j.hasDuration {
		return time.Time{}, false
	}
	from := anchor
	if j.HasStart() {
		from = j.start
	}
	return from.Add(j.duration), true
}

// IsExpired reports whether now is strictly past the deadline.
func (j *Job) IsExpired(now, anchor time.Time) bool {
	deadline, ok := j.Deadline(anchor)
	if !ok {
		return false
	}
	return now.After(deadline)
}

// IsStartable reports whether the scheduled start has arrived.
func (j *Job) IsStartable(now time.Time) bool {
	return !j.HasStart() || !now.Before(j.start)
}

// Less orders jobs earliest start first; jobs without a start come first.
func (j *Job) Less(other *Job) bool {
	if !j.HasStart() {
		return other.HasStart()
	}
	if !other.HasStart() {
		return false
	}
	return j.start.Before(other.start)
}

// Walk visits j and every transitive dependency depth-first, parents before
// children. A job reachable along several paths is visited once. Returning
// false from fn stops the walk.
func (j *Job) Walk(fn func(*Job) bool) {
	seen := make(map[*Job]bool)
	stack := []*Job{j}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if !fn(cur) {
			return
		}
		for i := len(cur.dependencies) - 1; i >= 0; i-- {
			stack = append(stack, cur.dependencies[i])
		}
	}
}
