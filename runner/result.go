package runner

import (
	"time"

	"github.com/orderout/nightglow/reconciler"
)

// Status summarizes a whole workflow run.
type Status string

const (
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusFailedFast Status = "failed-fast"
	StatusTimeout    Status = "timeout"
)

// TaskResult is the final per-task record of a run.
type TaskResult struct {
	Name string `json:"name"`

	State      reconciler.State `json:"state"`
	RetryCount int              `json:"retryCount"`
	LastError  string           `json:"lastError,omitempty"`

	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	DurationMs  int64     `json:"durationMs"`

	// StepCount counts executed steps across all attempts.
	StepCount int `json:"stepCount"`

	// Output holds extracted data of the final successful attempt,
	// stored under the task's output spec.
	StoreAs string            `json:"storeAs,omitempty"`
	Format  string            `json:"format,omitempty"`
	Output  map[string]string `json:"output,omitempty"`
}

// WorkflowResult enumerates the outcome of a run: per-task final states
// plus the workflow-level status and aggregate errors.
type WorkflowResult struct {
	Workflow   string        `json:"workflow"`
	Status     Status        `json:"status"`
	Tasks      []*TaskResult `json:"tasks"`
	DurationMs int64         `json:"durationMs"`

	Errors []error `json:"-"`
}

// Succeeded reports whether every task reached Succeeded.
func (r *WorkflowResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Task returns the result of the named task, or nil.
func (r *WorkflowResult) Task(name string) *TaskResult {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t
		}
	}

	return nil
}
