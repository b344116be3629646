package coro

import "fmt"

// Status is the lifecycle state of a Task.
type Status int

const (
	StatusCreated   Status = iota // Constructed, never resumed
	StatusRunning                 // Started, may be stepped
	StatusFinished                // Completed with a result or a failure
	StatusCancelled               // Stopped before completion
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusRunning:
		return "RUNNING"
	case StatusFinished:
		return "FINISHED"
	case StatusCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether no further transitions are legal.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

type event int

const (
	evRun event = iota
	evFinish
	evCancel
)

func (e event) String() string {
	switch e {
	case evRun:
		return "run"
	case evFinish:
		return "finish"
	case evCancel:
		return "cancel"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// transition is the whole state machine. Every (state, event) pair is
// listed so an illegal move always maps to a specific error.
func transition(s Status, ev event) (Status, error) {
	switch ev {
	case evRun:
		switch s {
		case StatusCreated:
			return StatusRunning, nil
		case StatusRunning:
			return s, ErrAlreadyRunning
		case StatusFinished, StatusCancelled:
			return s, ErrUnrunnable
		}
	case evFinish:
		switch s {
		case StatusRunning:
			return StatusFinished, nil
		case StatusCreated:
			return s, ErrNotRunning
		case StatusFinished:
			return s, ErrAlreadyFinished
		case StatusCancelled:
			return s, ErrUnrunnable
		}
	case evCancel:
		switch s {
		case StatusCreated, StatusRunning:
			return StatusCancelled, nil
		case StatusFinished:
			return s, ErrAlreadyFinished
		case StatusCancelled:
			return s, ErrAlreadyCancelled
		}
	}
	return s, fmt.Errorf("unknown transition %s on %s", ev, s)
}
