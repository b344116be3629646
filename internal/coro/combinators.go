package coro

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"
)

// SiblingPolicy decides what happens to unfinished tasks when Wait or Gather
// aborts on a failure or a missed deadline.
type SiblingPolicy int

const (
	LeaveSiblings  SiblingPolicy = iota // Abandon them as they are; the caller owns cleanup
	CancelSiblings                      // Cancel every task still in the working set
)

// Option configures Wait and Gather.
type Option func(*options)

type options struct {
	timeout      time.Duration
	hasTimeout   bool
	returnErrors bool
	siblings     SiblingPolicy
	err          error
}

// WithTimeout bounds the whole drive. The deadline is computed on the first
// resume and checked before every resume of the working set. Zero means no
// deadline, the same as omitting the option.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		switch {
		case d < 0:
			o.err = fmt.Errorf("timeout %s: %w: negative duration", d, ErrInvalidArgument)
		case d == 0:
			o.timeout, o.hasTimeout = 0, false
		default:
			o.timeout = d
			o.hasTimeout = true
		}
	}
}

// ReturnErrors stores a failed task's error in its result slot instead of
// aborting the drive.
func ReturnErrors() Option {
	return func(o *options) { o.returnErrors = true }
}

// WithSiblingPolicy sets how unfinished tasks are treated on abort.
func WithSiblingPolicy(p SiblingPolicy) Option {
	return func(o *options) { o.siblings = p }
}

func buildOptions(opts []Option) (options, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o, o.err
}

type slot struct {
	idx   int
	task  *Task
	value any
}

// roundRobin drives tasks in FIFO order, one resume each, until all are done.
// Results come back in completion order.
func roundRobin(yield Yield, tasks []*Task, o options) ([]slot, error) {
	var deadline time.Time
	if o.hasTimeout {
		deadline = time.Now().Add(o.timeout)
	}

	queue := make([]slot, 0, len(tasks))
	for i, t := range tasks {
		queue = append(queue, slot{idx: i, task: t})
	}
	results := make([]slot, 0, len(tasks))

	abort := func(cancel bool) {
		if !cancel {
			return
		}
		for _, s := range queue {
			if !s.task.Status().Terminal() {
				_ = s.task.Cancel()
			}
		}
	}

	for len(queue) > 0 {
		if o.hasTimeout && time.Now().After(deadline) {
			abort(o.siblings == CancelSiblings)
			return nil, fmt.Errorf("%w: %d of %d tasks unfinished after %s",
				ErrDeadlineExceeded, len(queue), len(tasks), o.timeout)
		}

		s := queue[0]
		queue = queue[1:]

		done, err := s.task.Resume()
		if !done {
			if err != nil {
				abort(o.siblings == CancelSiblings)
				return nil, err
			}
			queue = append(queue, s)
			if err := yield(); err != nil {
				abort(true)
				return nil, err
			}
			continue
		}

		if err != nil {
			if !o.returnErrors {
				abort(o.siblings == CancelSiblings)
				return nil, err
			}
			s.value = err
		} else {
			s.value, _ = s.task.Result()
		}
		results = append(results, s)
	}
	return results, nil
}

func values(slots []slot) []any {
	out := make([]any, len(slots))
	for i, s := range slots {
		out[i] = s.value
	}
	return out
}

// AsyncWait returns a Task that drives tasks round-robin and completes with
// their values in completion order ([]any).
func AsyncWait(tasks []*Task, opts ...Option) (*Task, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return Spawn(fmt.Sprintf("wait(%d)", len(tasks)), func(yield Yield) (any, error) {
		slots, err := roundRobin(yield, tasks, o)
		if err != nil {
			return nil, err
		}
		return values(slots), nil
	}), nil
}

// AsyncGather is AsyncWait with results re-ordered by submission index.
func AsyncGather(tasks []*Task, opts ...Option) (*Task, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return Spawn(fmt.Sprintf("gather(%d)", len(tasks)), func(yield Yield) (any, error) {
		slots, err := roundRobin(yield, tasks, o)
		if err != nil {
			return nil, err
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i].idx < slots[j].idx })
		return values(slots), nil
	}), nil
}

// Wait blocks until every task completes and returns values in completion order.
func Wait(ctx context.Context, tasks []*Task, opts ...Option) ([]any, error) {
	w, err := AsyncWait(tasks, opts...)
	if err != nil {
		return nil, err
	}
	return runSlice(ctx, w)
}

// Gather blocks until every task completes and returns values in submission order.
func Gather(ctx context.Context, tasks []*Task, opts ...Option) ([]any, error) {
	g, err := AsyncGather(tasks, opts...)
	if err != nil {
		return nil, err
	}
	return runSlice(ctx, g)
}

func runSlice(ctx context.Context, t *Task) ([]any, error) {
	v, err := Run(ctx, t)
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

// Run drives t on the calling goroutine until it completes. The context is
// checked between resumes; on cancellation t is cancelled and ctx.Err() returned.
func Run(ctx context.Context, t *Task) (any, error) {
	for {
		if err := ctx.Err(); err != nil {
			if !t.Status().Terminal() {
				_ = t.Cancel()
			}
			return nil, err
		}

		done, err := t.Resume()
		if done {
			if err != nil {
				return nil, err
			}
			return t.Result()
		}
		if err != nil {
			return nil, err
		}
		runtime.Gosched()
	}
}
