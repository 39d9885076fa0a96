// Package graph resolves job dependency ordering for a single run.
package graph

import (
	"fmt"
	"sort"

	"github.com/conveyorci/conveyor/pkg/models"
)

// Resolver answers readiness questions about one run's needs graph. It holds
// only the static shape of the graph; the mutable completion sets are passed
// in per scheduling round, so a single goroutine can own them.
type Resolver struct {
	order []string
	needs map[string][]string
}

// New builds a resolver from the run's job rows. Needs are expected to be
// cell-level ids (matrix expansion happens at run creation).
func New(jobs []*models.Job) *Resolver {
	r := &Resolver{
		order: make([]string, 0, len(jobs)),
		needs: make(map[string][]string, len(jobs)),
	}

	for _, job := range jobs {
		r.order = append(r.order, job.JobID)
		r.needs[job.JobID] = job.Needs
	}

	return r
}

// State carries the scheduler's view of terminal and in-flight jobs.
type State struct {
	Completed map[string]bool // concluded success
	Failed    map[string]bool // concluded failure, timed_out or cancelled
	Skipped   map[string]bool // never ran because a dependency failed
	Active    map[string]bool // currently dispatched
}

func (s State) terminal(id string) bool {
	return s.Completed[id] || s.Failed[id] || s.Skipped[id]
}

// Ready returns the jobs whose needs are a subset of the completed set and
// which are neither terminal nor in flight, in definition order.
func (r *Resolver) Ready(s State) []string {
	var ready []string

	for _, id := range r.order {
		if s.terminal(id) || s.Active[id] {
			continue
		}

		if r.satisfied(id, s) {
			ready = append(ready, id)
		}
	}

	return ready
}

func (r *Resolver) satisfied(id string, s State) bool {
	for _, need := range r.needs[id] {
		if !s.Completed[need] {
			return false
		}
	}

	return true
}

// Blocked returns the jobs that can never run because at least one of their
// needs failed or was itself blocked. The closure is computed iteratively so
// failures propagate down chains in a single call.
func (r *Resolver) Blocked(s State) []string {
	unrunnable := make(map[string]bool, len(s.Failed)+len(s.Skipped))
	for id := range s.Failed {
		unrunnable[id] = true
	}

	for id := range s.Skipped {
		unrunnable[id] = true
	}

	var blocked []string

	for changed := true; changed; {
		changed = false

		for _, id := range r.order {
			if s.terminal(id) || s.Active[id] || unrunnable[id] {
				continue
			}

			for _, need := range r.needs[id] {
				if unrunnable[need] {
					unrunnable[id] = true
					blocked = append(blocked, id)
					changed = true

					break
				}
			}
		}
	}

	sort.Strings(blocked)

	return blocked
}

// Unresolved returns the jobs that have not reached a terminal state, in
// sorted order. A non-empty unresolved set with zero ready and zero active
// jobs is a deadlock; the result is the diagnostic payload.
func (r *Resolver) Unresolved(s State) []string {
	var unresolved []string

	for _, id := range r.order {
		if !s.terminal(id) {
			unresolved = append(unresolved, id)
		}
	}

	sort.Strings(unresolved)

	return unresolved
}

// ValidateSpec checks the static job graph of a definition: every needs
// reference must name another job of the same workflow, and a job may not
// need itself. Violations are configuration errors surfaced before any run
// is created.
func ValidateSpec(spec models.WorkflowSpec) []error {
	ids := make(map[string]bool, len(spec.Jobs))
	for _, job := range spec.Jobs {
		ids[job.ID] = true
	}

	var errs []error

	for _, job := range spec.Jobs {
		for _, need := range job.Needs {
			if need == job.ID {
				errs = append(errs, fmt.Errorf("job %q cannot need itself", job.ID))
				continue
			}

			if !ids[need] {
				errs = append(errs, fmt.Errorf("job %q needs unknown job %q", job.ID, need))
			}
		}
	}

	return errs
}
