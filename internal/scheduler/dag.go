package scheduler

import (
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/aristath/cosched/internal/job"
)

// DAG is the flattened dependency graph of one root job.
type DAG struct {
	jobs       map[string]*job.Job // All jobs indexed by ID
	ids        []string            // Insertion order
	dependents map[string][]string // Maps jobID -> jobs that depend on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		jobs:       make(map[string]*job.Job),
		dependents: make(map[string][]string),
	}
}

// PlanFor walks root and every transitive dependency into a DAG.
// A job reachable along several paths appears once.
func PlanFor(root *job.Job) (*DAG, error) {
	d := NewDAG()
	var addErr error
	root.Walk(func(j *job.Job) bool {
		addErr = d.AddJob(j)
		return addErr == nil
	})
	if addErr != nil {
		return nil, addErr
	}
	return d, nil
}

// AddJob adds a job to the DAG. Returns error if the job ID already exists.
func (d *DAG) AddJob(j *job.Job) error {
	if _, exists := d.jobs[j.ID()]; exists {
		return fmt.Errorf("job with ID %q already exists", j.ID())
	}

	d.jobs[j.ID()] = j
	d.ids = append(d.ids, j.ID())
	for _, dep := range j.Dependencies() {
		d.dependents[dep.ID()] = append(d.dependents[dep.ID()], j.ID())
	}
	return nil
}

// Validate runs a topological sort and returns job IDs with every
// dependency ahead of its dependents. It also verifies that all
// dependencies are part of the DAG.
//
// The order is deterministic: jobs are visited in insertion order and each
// job's dependencies in declaration order, so independent dependencies keep
// the order they were declared in.
func (d *DAG) Validate() ([]string, error) {
	for _, id := range d.ids {
		for _, dep := range d.jobs[id].Dependencies() {
			if _, exists := d.jobs[dep.ID()]; !exists {
				return nil, fmt.Errorf("job %q depends on unknown job %q", id, dep.ID())
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range d.ids {
		deps := d.jobs[id].Dependencies()
		if len(deps) == 0 {
			// nil source keeps independent jobs in the result
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range deps {
			edges = append(edges, toposort.Edge{dep.ID(), id})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return nil, fmt.Errorf("job graph contains cycle: %w", err)
	}

	// Acyclic from here on: a post-order walk yields dependencies first.
	order := make([]string, 0, len(d.ids))
	placed := make(map[string]bool, len(d.ids))
	var place func(id string)
	place = func(id string) {
		if placed[id] {
			return
		}
		placed[id] = true
		for _, dep := range d.jobs[id].Dependencies() {
			place(dep.ID())
		}
		order = append(order, id)
	}
	for _, id := range d.ids {
		place(id)
	}
	return order, nil
}

// Get returns a job by ID.
func (d *DAG) Get(id string) (*job.Job, bool) {
	j, ok := d.jobs[id]
	return j, ok
}

// Dependents returns the IDs of jobs that directly depend on id.
func (d *DAG) Dependents(id string) []string {
	return append([]string(nil), d.dependents[id]...)
}

// Len returns the number of distinct jobs.
func (d *DAG) Len() int { return len(d.jobs) }
