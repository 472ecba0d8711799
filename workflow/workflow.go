package workflow

import "time"

// Workflow is a named, acyclic graph of tasks sharing one execution policy.
type Workflow struct {
	Name string `json:"name" validate:"required"`

	Tasks []*Task `json:"tasks" validate:"required,min=1,dive,required"`

	Policy Policy `json:"policy"`
}

// Policy controls execution of a whole workflow run.
type Policy struct {
	// MaxConcurrentTasks bounds how many tasks of a batch run in parallel.
	// Zero means unlimited.
	MaxConcurrentTasks int `json:"maxConcurrentTasks" validate:"min=0"`

	// TimeoutMs is the wall-clock deadline for the entire run. Zero means
	// no deadline.
	TimeoutMs int64 `json:"timeoutMs" validate:"min=0"`

	// FailFast cancels all in-flight tasks as soon as one task escalates.
	FailFast bool `json:"failFast"`
}

func (p Policy) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// Task is one node of the workflow: an ordered step sequence with retry
// behavior. Task definitions are immutable once parsed.
type Task struct {
	Name string `json:"name" validate:"required"`

	// DependsOn names sibling tasks that must succeed before this task
	// is scheduled.
	DependsOn []string `json:"dependsOn,omitempty"`

	Steps []*Step `json:"steps" validate:"required,min=1,dive,required"`

	Retry RetryPolicy `json:"retry"`

	Output *OutputSpec `json:"output,omitempty"`
}

// RetryPolicy controls per-task retries. A failed attempt i sleeps
// BackoffMs × 2^i before the next one.
type RetryPolicy struct {
	MaxRetries int   `json:"maxRetries" validate:"min=0"`
	BackoffMs  int64 `json:"backoffMs" validate:"min=0"`
}

func (rp RetryPolicy) Backoff() time.Duration {
	return time.Duration(rp.BackoffMs) * time.Millisecond
}

// OutputSpec describes where a task's extracted data lands in the
// workflow result.
type OutputSpec struct {
	StoreAs string `json:"storeAs"`
	Format  string `json:"format"`
}

// Task returns the task with the given name, or nil.
func (w *Workflow) Task(name string) *Task {
	for _, t := range w.Tasks {
		if t.Name == name {
			return t
		}
	}

	return nil
}
