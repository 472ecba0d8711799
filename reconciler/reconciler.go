// Package reconciler is the state-machine authority for task lifecycle
// transitions within a workflow run.
package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/orderout/nightglow/workflow"
)

// State of a task within a run.
type State string

const (
	StatePending   State = "Pending"
	StateScheduled State = "Scheduled"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateRetrying  State = "Retrying"
	StateEscalated State = "Escalated"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateEscalated
}

// TaskStatus is the mutable per-task record. It is created on Register
// in Pending and mutated only by the owning Reconciler.
type TaskStatus struct {
	State      State
	RetryCount int
	LastError  string
	UpdatedAt  time.Time
}

// UnknownTaskError is returned when a task was never registered.
type UnknownTaskError struct {
	Task string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q", e.Task)
}

// InvalidTransitionError is returned for a transition the state machine
// does not allow. Reaching one from the runner is a programming error.
type InvalidTransitionError struct {
	Task  string
	From  State
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %q: invalid transition %q from state %s", e.Task, e.Event, e.From)
}

// Reconciler tracks one TaskStatus per registered task. All methods are
// safe for concurrent use; statuses are written only through transition
// methods and read through Status/Snapshot copies.
type Reconciler struct {
	mu sync.Mutex

	clock clock.Clock

	statuses   map[string]*TaskStatus
	maxRetries map[string]int
}

func New(clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}

	return &Reconciler{
		clock:      clk,
		statuses:   map[string]*TaskStatus{},
		maxRetries: map[string]int{},
	}
}

// Register creates the task's status record in Pending. Registering the
// same name twice resets its status.
func (r *Reconciler) Register(task *workflow.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses[task.Name] = &TaskStatus{
		State:     StatePending,
		UpdatedAt: r.clock.Now(),
	}
	r.maxRetries[task.Name] = task.Retry.MaxRetries
}

// Schedule transitions Pending → Scheduled.
func (r *Reconciler) Schedule(name string) error {
	return r.transition(name, "schedule", StatePending, StateScheduled)
}

// Start transitions Scheduled → Running.
func (r *Reconciler) Start(name string) error {
	return r.transition(name, "start", StateScheduled, StateRunning)
}

// Succeed transitions Running → Succeeded.
func (r *Reconciler) Succeed(name string) error {
	return r.transition(name, "succeed", StateRunning, StateSucceeded)
}

// Retry transitions Retrying → Running.
func (r *Reconciler) Retry(name string) error {
	return r.transition(name, "retry", StateRetrying, StateRunning)
}

// Fail records a failed attempt of a Running task. If retries remain it
// transitions to Retrying and increments the retry count, otherwise to
// Escalated. The resulting state is returned.
func (r *Reconciler) Fail(name string, cause error) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[name]
	if !ok {
		return "", &UnknownTaskError{Task: name}
	}

	if st.State != StateRunning {
		return "", &InvalidTransitionError{Task: name, From: st.State, Event: "fail"}
	}

	st.LastError = cause.Error()
	if st.RetryCount < r.maxRetries[name] {
		st.RetryCount++
		st.State = StateRetrying
	} else {
		st.State = StateEscalated
	}
	st.UpdatedAt = r.clock.Now()

	return st.State, nil
}

// Escalate forces a non-terminal task to Escalated with the given
// cause. The runner uses it for cancellation and deadline expiry; the
// per-attempt path goes through Fail.
func (r *Reconciler) Escalate(name string, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[name]
	if !ok {
		return &UnknownTaskError{Task: name}
	}

	if st.State.Terminal() {
		return &InvalidTransitionError{Task: name, From: st.State, Event: "escalate"}
	}

	st.State = StateEscalated
	st.LastError = cause
	st.UpdatedAt = r.clock.Now()

	return nil
}

// Status returns a copy of the task's status.
func (r *Reconciler) Status(name string) (TaskStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[name]
	if !ok {
		return TaskStatus{}, &UnknownTaskError{Task: name}
	}

	return *st, nil
}

// Snapshot returns a copy of every task's status.
func (r *Reconciler) Snapshot() map[string]TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]TaskStatus, len(r.statuses))
	for name, st := range r.statuses {
		snapshot[name] = *st
	}

	return snapshot
}

func (r *Reconciler) transition(name, event string, from, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[name]
	if !ok {
		return &UnknownTaskError{Task: name}
	}

	if st.State != from {
		return &InvalidTransitionError{Task: name, From: st.State, Event: event}
	}

	st.State = to
	st.UpdatedAt = r.clock.Now()

	return nil
}
