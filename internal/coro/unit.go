package coro

import (
	"fmt"
	"iter"
	"runtime/debug"
)

// Unit is a resumable computation owned by exactly one Task.
//
// Resume advances the unit to its next suspension point (done == false) or
// to completion (done == true), in which case value or err carries the outcome.
type Unit interface {
	Resume() (value any, done bool, err error)
}

// releaser is implemented by units that hold resources between resumes.
type releaser interface {
	Close()
}

// UnitFunc adapts a plain step function to Unit.
type UnitFunc func() (value any, done bool, err error)

// Resume calls f.
func (f UnitFunc) Resume() (any, bool, error) { return f() }

// Yield suspends the calling body until its Task is resumed again.
// It returns ErrClosed once the unit has been released; the body must then
// return promptly.
type Yield func() error

// pullUnit runs a straight-line body as a coroutine via iter.Pull.
type pullUnit struct {
	next   func() (struct{}, bool)
	stop   func()
	value  any
	err    error
	closed bool
}

// Go turns body into a Unit. Every call to yield inside body is a suspension
// point; the body's return values become the unit's outcome.
func Go(body func(yield Yield) (any, error)) Unit {
	u := &pullUnit{}
	seq := func(yield func(struct{}) bool) {
		defer func() {
			if r := recover(); r != nil {
				u.value = nil
				u.err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
			}
		}()
		u.value, u.err = body(func() error {
			if !yield(struct{}{}) {
				return ErrClosed
			}
			return nil
		})
	}
	u.next, u.stop = iter.Pull(seq)
	return u
}

func (u *pullUnit) Resume() (any, bool, error) {
	if u.closed {
		return nil, true, ErrClosed
	}
	if _, ok := u.next(); ok {
		return nil, false, nil
	}
	return u.value, true, u.err
}

// Close releases the coroutine. Safe to call more than once.
func (u *pullUnit) Close() {
	if u.closed {
		return
	}
	u.closed = true
	u.stop()
}
