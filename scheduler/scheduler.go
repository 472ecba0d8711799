// Package scheduler turns a workflow's task graph into an ordered
// sequence of batches of mutually independent tasks.
package scheduler

import (
	"fmt"
	"strings"

	"github.com/orderout/nightglow/workflow"
)

// Batch is a maximal set of tasks whose dependencies are satisfied by
// earlier batches. Tasks within a batch may execute in parallel.
type Batch []*workflow.Task

// Names returns the task names of the batch in order.
func (b Batch) Names() []string {
	names := make([]string, len(b))
	for i, t := range b {
		names[i] = t.Name
	}

	return names
}

// CycleError is returned when the dependency relation contains a cycle.
// Tasks lists every task participating in (or unreachable because of)
// the cycle, in definition order.
type CycleError struct {
	Tasks []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving tasks: %s", strings.Join(e.Tasks, ", "))
}

// Plan computes the batch sequence for a workflow.
//
// Guarantees:
//   - every task in batch i has all its dependencies in batches < i
//   - the concatenation of batches contains every task exactly once
//   - batch-internal order follows task definition order
func Plan(wf *workflow.Workflow) ([]Batch, error) {
	done := make(map[string]bool, len(wf.Tasks))
	undone := make([]*workflow.Task, len(wf.Tasks))
	copy(undone, wf.Tasks)

	var batches []Batch

	for len(undone) > 0 {
		var batch Batch
		var rest []*workflow.Task

		for _, t := range undone {
			if ready(t, done) {
				batch = append(batch, t)
			} else {
				rest = append(rest, t)
			}
		}

		if len(batch) == 0 {
			names := make([]string, len(rest))
			for i, t := range rest {
				names[i] = t.Name
			}

			return nil, &CycleError{Tasks: names}
		}

		// Mark after the scan so tasks can't join a batch together with
		// one of their own dependencies.
		for _, t := range batch {
			done[t.Name] = true
		}

		batches = append(batches, batch)
		undone = rest
	}

	return batches, nil
}

func ready(t *workflow.Task, done map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !done[dep] {
			return false
		}
	}

	return true
}
