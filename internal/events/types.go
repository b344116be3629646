package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	JobID() string
}

// Topic constants
const (
	TopicJob       = "job"
	TopicScheduler = "scheduler"
)

// Event type constants
const (
	EventTypeJobAdmitted      = "job.admitted"
	EventTypeJobStarted       = "job.started"
	EventTypeJobAttemptFailed = "job.attempt_failed"
	EventTypeJobCompleted     = "job.completed"
	EventTypeJobFailed        = "job.failed"
	EventTypeJobEvicted       = "job.evicted"
	EventTypeBatchProgress    = "scheduler.progress"
)

// JobAdmittedEvent is published when a pending job gets an active slot.
type JobAdmittedEvent struct {
	ID        string
	Name      string
	Timestamp time.Time
}

func (e JobAdmittedEvent) EventType() string { return EventTypeJobAdmitted }
func (e JobAdmittedEvent) JobID() string     { return e.ID }

// JobStartedEvent is published right before a job's first attempt.
type JobStartedEvent struct {
	ID        string
	Name      string
	Timestamp time.Time
}

func (e JobStartedEvent) EventType() string { return EventTypeJobStarted }
func (e JobStartedEvent) JobID() string     { return e.ID }

// JobAttemptFailedEvent is published for every swallowed, retried failure.
type JobAttemptFailedEvent struct {
	ID        string
	Name      string
	Attempt   int
	Err       error
	Timestamp time.Time
}

func (e JobAttemptFailedEvent) EventType() string { return EventTypeJobAttemptFailed }
func (e JobAttemptFailedEvent) JobID() string     { return e.ID }

// JobCompletedEvent is published when a job's function returns successfully.
type JobCompletedEvent struct {
	ID        string
	Name      string
	Result    any
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e JobCompletedEvent) EventType() string { return EventTypeJobCompleted }
func (e JobCompletedEvent) JobID() string     { return e.ID }

// JobFailedEvent is published when a job expires or its last attempt fails.
type JobFailedEvent struct {
	ID        string
	Name      string
	Err       error
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e JobFailedEvent) EventType() string { return EventTypeJobFailed }
func (e JobFailedEvent) JobID() string     { return e.ID }

// JobEvictedEvent is published when a settled job leaves the scheduler.
type JobEvictedEvent struct {
	ID        string
	Name      string
	Timestamp time.Time
}

func (e JobEvictedEvent) EventType() string { return EventTypeJobEvicted }
func (e JobEvictedEvent) JobID() string     { return e.ID }

// BatchProgressEvent is published when a scheduler's counts change.
type BatchProgressEvent struct {
	Source    string // Scheduler name
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Timestamp time.Time
}

func (e BatchProgressEvent) EventType() string { return EventTypeBatchProgress }
func (e BatchProgressEvent) JobID() string     { return "" }
