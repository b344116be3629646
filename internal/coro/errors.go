package coro

import "errors"

// State-machine violations. These are programmer errors and are never retried.
var (
	ErrAlreadyRunning   = errors.New("task is already running")
	ErrUnrunnable       = errors.New("task is unrunnable")
	ErrNotRunning       = errors.New("task is not running")
	ErrAlreadyCancelled = errors.New("task is already cancelled")
	ErrAlreadyFinished  = errors.New("task is already finished")
	ErrNotDone          = errors.New("task is not done")
)

var (
	// ErrDeadlineExceeded is returned by Wait when its timeout passes before
	// the working set drains.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrInvalidArgument reports a bad combinator argument, e.g. a negative sleep.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned from Yield once the owning unit has been released.
	ErrClosed = errors.New("unit closed")

	// ErrPanic wraps a panic recovered from inside a unit.
	ErrPanic = errors.New("unit panicked")
)
