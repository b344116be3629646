package scheduler

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/aristath/cosched/internal/job"
)

// AdmissionStatus tracks a JobTask through the scheduler. It is separate
// from the Task lifecycle and only decides whether an entry may still be
// unscheduled.
type AdmissionStatus int

const (
	AdmissionCreated  AdmissionStatus = iota // Admitted, not yet driven
	AdmissionRunning                         // Claimed by a Run batch
	AdmissionFinished                        // Settled and evicted
)

func (s AdmissionStatus) String() string {
	switch s {
	case AdmissionCreated:
		return "CREATED"
	case AdmissionRunning:
		return "RUNNING"
	case AdmissionFinished:
		return "FINISHED"
	}
	return fmt.Sprintf("AdmissionStatus(%d)", int(s))
}

// JobTask pairs an admitted Job with its compiled plan.
type JobTask struct {
	ID     string
	Job    *job.Job
	Plan   *Plan
	seq    uint64
	status AdmissionStatus
}

func newJobTask(seq uint64, plan *Plan) *JobTask {
	return &JobTask{
		ID:   uuid.NewString(),
		Job:  plan.Job,
		Plan: plan,
		seq:  seq,
	}
}

// Status returns the admission status.
func (jt *JobTask) Status() AdmissionStatus { return jt.status }

func (jt *JobTask) claim() error {
	if jt.status != AdmissionCreated {
		return fmt.Errorf("claim %s in state %s: %w", jt.Job, jt.status, ErrUnschedulable)
	}
	jt.status = AdmissionRunning
	return nil
}

func (jt *JobTask) finish() {
	jt.status = AdmissionFinished
}

// unschedule cancels a JobTask that has not been driven yet.
func (jt *JobTask) unschedule() error {
	if jt.status != AdmissionCreated {
		return fmt.Errorf("unschedule %s in state %s: %w", jt.Job, jt.status, ErrUnschedulable)
	}
	if err := jt.Plan.Cancel(); err != nil {
		return fmt.Errorf("unschedule %s: %w", jt.Job, err)
	}
	jt.status = AdmissionFinished
	return nil
}
