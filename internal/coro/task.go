package coro

import (
	"fmt"
	"runtime/debug"
)

// Task wraps one Unit in an explicit lifecycle.
//
// The result and the failure are captured once, on completion, and are only
// observable after the Task reaches StatusFinished. A Task is not safe for
// concurrent use; it belongs to whichever driver resumes it.
type Task struct {
	name     string
	unit     Unit
	status   Status
	result   any
	failure  error
	released bool
}

// NewTask creates a Task in StatusCreated that owns unit.
func NewTask(name string, unit Unit) *Task {
	return &Task{name: name, unit: unit}
}

// Spawn is shorthand for NewTask(name, Go(body)).
func Spawn(name string, body func(yield Yield) (any, error)) *Task {
	return NewTask(name, Go(body))
}

func (t *Task) String() string {
	return fmt.Sprintf("task %q (%s)", t.name, t.status)
}

// Name returns the label the Task was created with.
func (t *Task) Name() string { return t.name }

// Status returns the current lifecycle state.
func (t *Task) Status() Status { return t.status }

// Done reports whether the Task finished, successfully or not.
func (t *Task) Done() bool { return t.status == StatusFinished }

func (t *Task) apply(ev event) error {
	next, err := transition(t.status, ev)
	if err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	t.status = next
	return nil
}

// Start moves a created Task to StatusRunning.
func (t *Task) Start() error {
	return t.apply(evRun)
}

// Step resumes the unit once.
//
// done == false with a nil error is a suspension: call Step again later.
// done == true is completion and err is the captured failure, if any.
// done == false with a non-nil error is a lifecycle violation.
func (t *Task) Step() (done bool, err error) {
	switch t.status {
	case StatusCreated:
		return false, fmt.Errorf("step %s: %w", t, ErrNotRunning)
	case StatusFinished, StatusCancelled:
		return false, fmt.Errorf("step %s: %w", t, ErrUnrunnable)
	}

	value, done, err := t.resumeUnit()
	if !done {
		return false, nil
	}

	if err != nil {
		t.failure = err
	} else {
		t.result = value
	}
	if ferr := t.apply(evFinish); ferr != nil {
		return false, ferr
	}
	t.release()
	return true, err
}

// Resume starts a created Task and then steps it once.
func (t *Task) Resume() (done bool, err error) {
	if t.status == StatusCreated {
		if err := t.Start(); err != nil {
			return false, err
		}
	}
	return t.Step()
}

func (t *Task) resumeUnit() (value any, done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, done = nil, true
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return t.unit.Resume()
}

// Cancel stops the Task without running any more of its unit.
func (t *Task) Cancel() error {
	if err := t.apply(evCancel); err != nil {
		return err
	}
	t.release()
	return nil
}

// Result returns the completion value. It fails with ErrNotDone until the
// Task finishes, and with the captured failure if the unit failed.
func (t *Task) Result() (any, error) {
	if t.status != StatusFinished {
		return nil, fmt.Errorf("result of %s: %w", t, ErrNotDone)
	}
	if t.failure != nil {
		return nil, t.failure
	}
	return t.result, nil
}

// Failure returns the captured failure, nil for a successful Task, or an
// error wrapping ErrNotDone when the Task has not finished.
func (t *Task) Failure() error {
	if t.status != StatusFinished {
		return fmt.Errorf("failure of %s: %w", t, ErrNotDone)
	}
	return t.failure
}

func (t *Task) release() {
	if t.released {
		return
	}
	t.released = true
	if r, ok := t.unit.(releaser); ok {
		r.Close()
	}
}
