package coro

import (
	"fmt"
	"time"
)

// Sleep returns a leaf Task that suspends until d has elapsed since its first
// resume and then completes with d as its value.
func Sleep(d time.Duration) (*Task, error) {
	if d < 0 {
		return nil, fmt.Errorf("sleep %s: %w: negative duration", d, ErrInvalidArgument)
	}

	var deadline time.Time
	started := false
	return NewTask("sleep "+d.String(), UnitFunc(func() (any, bool, error) {
		if !started {
			started = true
			deadline = time.Now().Add(d)
		}
		if !time.Now().After(deadline) {
			return nil, false, nil
		}
		return d, true, nil
	})), nil
}

// Await drives child to completion from inside a coroutine body, suspending
// the body after every resume that did not complete the child.
// If the body is released while waiting, child is cancelled.
func Await(yield Yield, child *Task) (any, error) {
	for {
		done, err := child.Resume()
		if done {
			if err != nil {
				return nil, err
			}
			return child.Result()
		}
		if err != nil {
			return nil, err
		}
		if err := yield(); err != nil {
			_ = child.Cancel()
			return nil, err
		}
	}
}
