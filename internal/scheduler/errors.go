package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrExpired             = errors.New("job expired")
	ErrJobFailed           = errors.New("job failed")
	ErrDependencyCancelled = errors.New("dependency cancelled")
	ErrSchedulerEmpty      = errors.New("scheduler is empty")
	ErrUnschedulable       = errors.New("job task is unschedulable")
	ErrInvalidPoolSize     = errors.New("pool size must be non-negative")
)

// JobError wraps the failure raised by a job's function on its final attempt.
// It matches both ErrJobFailed and the original cause with errors.Is.
type JobError struct {
	Job      string
	Attempts int
	Err      error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %q failed after %d attempt(s): %v", e.Job, e.Attempts, e.Err)
}

func (e *JobError) Unwrap() []error {
	return []error{ErrJobFailed, e.Err}
}
