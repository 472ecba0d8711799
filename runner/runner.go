// Package runner coordinates a workflow run: it consumes scheduler
// batches, drives tasks concurrently under the policy's concurrency
// cap, applies retry backoff, enforces deadlines and fail-fast
// cancellation, and emits lifecycle events.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	goerrors "github.com/go-errors/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderout/nightglow/events"
	"github.com/orderout/nightglow/executor"
	"github.com/orderout/nightglow/instrument"
	"github.com/orderout/nightglow/internal/metrickeys"
	"github.com/orderout/nightglow/internal/tracing"
	"github.com/orderout/nightglow/metrics"
	"github.com/orderout/nightglow/reconciler"
	"github.com/orderout/nightglow/scheduler"
	"github.com/orderout/nightglow/workflow"
)

const eventSource = "nightglow-runner"

// Canonical error strings for tasks terminated by the run itself.
const (
	ErrMsgCancelled       = "Cancelled"
	ErrMsgTimeoutExceeded = "TimeoutExceeded"
)

// StepExecutor executes one step. Failures are in-band on the result.
type StepExecutor interface {
	Execute(ctx context.Context, step *workflow.Step, ec executor.Context) executor.StepResult
}

// Session is the browser session a run executes against. Its id keys
// every emitted event.
type Session struct {
	ID   string
	Page executor.Page
}

// Runner runs workflows. It is safe to reuse for sequential runs; each
// Run owns its reconciler and per-run state.
type Runner struct {
	executor StepExecutor
	emitter  events.Emitter

	// embedder fires lifecycle probes around steps; optional.
	embedder *instrument.Embedder

	options Options
	tracer  trace.Tracer
}

func New(stepExecutor StepExecutor, emitter events.Emitter, embedder *instrument.Embedder, opts ...Option) *Runner {
	options := applyOptions(opts...)

	return &Runner{
		executor: stepExecutor,
		emitter:  emitter,
		embedder: embedder,
		options:  options,
		tracer:   options.TracerProvider.Tracer(tracing.TracerName),
	}
}

// run tracks the mutable state of one Run invocation.
type run struct {
	wf   *workflow.Workflow
	sess *Session

	rec *reconciler.Reconciler

	cancel context.CancelFunc

	mu         sync.Mutex
	reason     string // canonical error for cancelled tasks
	failedFast bool

	results map[string]*TaskResult
}

// abort cancels the run, recording the canonical error string that
// cancelled tasks carry. The first cause wins.
func (r *run) abort(reason string, failFast bool) {
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
		r.failedFast = r.failedFast || failFast
	}
	r.mu.Unlock()

	r.cancel()
}

func (r *run) cancelReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reason == "" {
		return ErrMsgCancelled
	}

	return r.reason
}

func (r *run) wasFailFast() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.failedFast
}

// Run executes the workflow against the session and returns the
// per-task outcome summary. Scheduler failures (dependency cycles) are
// fatal and returned as the error.
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow, sess *Session) (*WorkflowResult, error) {
	started := r.options.Clock.Now()

	ctx, span := r.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.name", wf.Name),
		attribute.Int("workflow.tasks", len(wf.Tasks)),
	))
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &run{
		wf:      wf,
		sess:    sess,
		rec:     reconciler.New(r.options.Clock),
		cancel:  cancel,
		results: make(map[string]*TaskResult, len(wf.Tasks)),
	}

	for _, task := range wf.Tasks {
		state.rec.Register(task)
		state.results[task.Name] = &TaskResult{Name: task.Name}
		if task.Output != nil {
			state.results[task.Name].StoreAs = task.Output.StoreAs
			state.results[task.Name].Format = task.Output.Format
		}
	}

	r.emit(runCtx, state, "", events.TypeWorkflowStarted, map[string]any{
		"workflow": wf.Name,
		"tasks":    len(wf.Tasks),
	})

	batches, err := scheduler.Plan(wf)
	if err != nil {
		r.options.Logger.ErrorContext(ctx, "planning workflow failed",
			"workflow", wf.Name, "error", err)

		r.emit(runCtx, state, "", events.TypeWorkflowFinished, map[string]any{
			"workflow": wf.Name,
			"success":  false,
			"error":    err.Error(),
		})

		return nil, fmt.Errorf("planning workflow %q: %w", wf.Name, err)
	}

	// Workflow deadline. The timer aborts the shared run context; tasks
	// then terminate as Escalated with TimeoutExceeded.
	if timeout := wf.Policy.Timeout(); timeout > 0 {
		timer := r.options.Clock.AfterFunc(timeout, func() {
			state.abort(ErrMsgTimeoutExceeded, false)
		})
		defer timer.Stop()
	}

	for _, batch := range batches {
		if runCtx.Err() != nil {
			break
		}

		r.runBatch(runCtx, state, batch)
	}

	// Every task must reach a terminal state, including tasks in
	// abandoned batches.
	reason := state.cancelReason()
	for _, task := range wf.Tasks {
		st := r.status(state, task.Name)
		if st.State.Terminal() {
			continue
		}

		if err := state.rec.Escalate(task.Name, reason); err != nil {
			panic(goerrors.Wrap(err, 0))
		}
		r.emitTransition(runCtx, state, task.Name)
	}

	result := r.collect(state, started)

	r.emit(runCtx, state, "", events.TypeWorkflowFinished, map[string]any{
		"workflow":   wf.Name,
		"success":    result.Succeeded(),
		"status":     string(result.Status),
		"durationMs": result.DurationMs,
	})

	r.options.Metrics.Counter(metrickeys.WorkflowFinished,
		metrics.Tags{metrickeys.Workflow: wf.Name, metrickeys.Status: string(result.Status)}, 1)
	r.options.Metrics.Timing(metrickeys.WorkflowDuration,
		metrics.Tags{metrickeys.Workflow: wf.Name}, time.Duration(result.DurationMs)*time.Millisecond)

	return result, nil
}

// runBatch drives one batch to completion. Admission follows batch
// order; at most policy.MaxConcurrentTasks tasks run at once.
func (r *Runner) runBatch(ctx context.Context, state *run, batch scheduler.Batch) {
	var sem chan struct{}
	if max := state.wf.Policy.MaxConcurrentTasks; max > 0 {
		sem = make(chan struct{}, max)
	}

	var wg sync.WaitGroup

	for _, task := range batch {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Remaining tasks of the batch are escalated in the
				// final sweep.
			}

			if ctx.Err() != nil {
				break
			}
		}

		wg.Add(1)

		task := task
		go func() {
			defer wg.Done()

			r.runTask(ctx, state, task)

			if sem != nil {
				<-sem
			}
		}()
	}

	// Batch barrier: no task of a later batch is scheduled before every
	// task of this batch is terminal.
	wg.Wait()
}

func (r *Runner) runTask(ctx context.Context, state *run, task *workflow.Task) {
	result := state.results[task.Name]
	result.StartedAt = r.options.Clock.Now()
	defer func() {
		result.CompletedAt = r.options.Clock.Now()
		result.DurationMs = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
	}()

	ctx, span := r.tracer.Start(ctx, "task.run", trace.WithAttributes(
		attribute.String("workflow.name", state.wf.Name),
		attribute.String("task.name", task.Name),
	))
	defer span.End()

	if ctx.Err() != nil {
		r.escalate(ctx, state, task.Name, state.cancelReason())
		return
	}

	r.transition(ctx, state, task.Name, state.rec.Schedule(task.Name))
	r.transition(ctx, state, task.Name, state.rec.Start(task.Name))

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     task.Retry.Backoff(),
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Clock:               r.options.Clock,
		Stop:                backoff.Stop,
	}
	bo.Reset()

	for {
		stepErr, output, executed := r.runSteps(ctx, state, task)
		result.StepCount += executed

		if stepErr == "" {
			result.Output = output

			if err := state.rec.Succeed(task.Name); err != nil {
				panic(goerrors.Wrap(err, 0))
			}
			r.emitTransition(ctx, state, task.Name)

			r.options.Metrics.Counter(metrickeys.TaskSucceeded,
				metrics.Tags{metrickeys.Workflow: state.wf.Name, metrickeys.Task: task.Name}, 1)

			return
		}

		// A cancelled step escalates without consuming retries.
		if ctx.Err() != nil {
			r.escalate(ctx, state, task.Name, state.cancelReason())
			return
		}

		next, err := state.rec.Fail(task.Name, errors.New(stepErr))
		if err != nil {
			panic(goerrors.Wrap(err, 0))
		}
		r.emitTransition(ctx, state, task.Name)

		if next == reconciler.StateEscalated {
			r.options.Metrics.Counter(metrickeys.TaskEscalated,
				metrics.Tags{metrickeys.Workflow: state.wf.Name, metrickeys.Task: task.Name}, 1)

			if state.wf.Policy.FailFast {
				state.abort(ErrMsgCancelled, true)
			}

			return
		}

		// Retrying: sleep backoffMs × 2^attempt, then restart the step
		// sequence from the beginning.
		if err := r.sleep(ctx, bo.NextBackOff()); err != nil {
			r.escalate(ctx, state, task.Name, state.cancelReason())
			return
		}

		r.transition(ctx, state, task.Name, state.rec.Retry(task.Name))
		r.options.Metrics.Counter(metrickeys.TaskRetries,
			metrics.Tags{metrickeys.Workflow: state.wf.Name, metrickeys.Task: task.Name}, 1)
	}
}

// runSteps executes the task's steps sequentially. It returns the error
// of the first failing step ("" when all succeeded), the extracted
// output, and how many steps were executed.
func (r *Runner) runSteps(ctx context.Context, state *run, task *workflow.Task) (string, map[string]string, int) {
	ec := executor.Context{
		Page:      state.sess.Page,
		SessionID: state.sess.ID,
		TaskID:    task.Name,
	}

	var output map[string]string

	for i, step := range task.Steps {
		if err := ctx.Err(); err != nil {
			return ErrMsgCancelled, nil, i
		}

		r.firePhase(ctx, state, task, instrument.PhaseBeforeAction, step, nil)

		stepResult := r.executor.Execute(ctx, step, ec)

		r.emit(ctx, state, task.Name, events.TypeStepCompleted, map[string]any{
			"task":       task.Name,
			"step":       i,
			"type":       string(step.Type),
			"success":    stepResult.Success,
			"durationMs": stepResult.DurationMs,
			"error":      stepResult.Err,
		})

		r.options.Metrics.Counter(metrickeys.StepExecuted,
			metrics.Tags{metrickeys.Workflow: state.wf.Name, metrickeys.StepType: string(step.Type)}, 1)
		r.options.Metrics.Timing(metrickeys.StepDuration,
			metrics.Tags{metrickeys.Workflow: state.wf.Name, metrickeys.StepType: string(step.Type)},
			time.Duration(stepResult.DurationMs)*time.Millisecond)

		if !stepResult.Success {
			r.firePhase(ctx, state, task, instrument.PhaseOnError, step, errors.New(stepResult.Err))
			return stepResult.Err, nil, i + 1
		}

		if step.Type == workflow.StepNavigate {
			r.firePhase(ctx, state, task, instrument.PhaseOnNavigation, step, nil)
		}
		r.firePhase(ctx, state, task, instrument.PhaseAfterAction, step, nil)

		if step.Type == workflow.StepExtract {
			if output == nil {
				output = make(map[string]string, len(stepResult.Data))
			}
			for k, v := range stepResult.Data {
				output[k] = v
			}
		}
	}

	return "", output, len(task.Steps)
}

func (r *Runner) firePhase(ctx context.Context, state *run, task *workflow.Task, phase instrument.Phase, step *workflow.Step, stepErr error) {
	if r.embedder == nil {
		return
	}

	r.embedder.FirePhase(ctx, phase, &instrument.Context{
		ActionType: string(step.Type),
		SessionID:  state.sess.ID,
		TaskID:     task.Name,
		Page:       state.sess.Page,
		Err:        stepErr,
	})
}

// sleep blocks for d or until the run is cancelled.
func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	timer := r.options.Clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transition applies a reconciler transition that must succeed; a
// failure is a programming error and aborts with a stack.
func (r *Runner) transition(ctx context.Context, state *run, name string, err error) {
	if err != nil {
		panic(goerrors.Wrap(err, 0))
	}

	r.emitTransition(ctx, state, name)
}

func (r *Runner) escalate(ctx context.Context, state *run, name string, reason string) {
	st := r.status(state, name)
	if st.State.Terminal() {
		return
	}

	if err := state.rec.Escalate(name, reason); err != nil {
		panic(goerrors.Wrap(err, 0))
	}

	r.emitTransition(ctx, state, name)
}

func (r *Runner) status(state *run, name string) reconciler.TaskStatus {
	st, err := state.rec.Status(name)
	if err != nil {
		panic(goerrors.Wrap(err, 0))
	}

	return st
}

func (r *Runner) emitTransition(ctx context.Context, state *run, name string) {
	st := r.status(state, name)

	payload := map[string]any{
		"task":       name,
		"state":      string(st.State),
		"retryCount": st.RetryCount,
	}
	if st.LastError != "" {
		payload["error"] = st.LastError
	}

	r.emit(ctx, state, name, events.TypeTaskTransition, payload)
}

func (r *Runner) emit(ctx context.Context, state *run, taskID, eventType string, payload map[string]any) {
	if r.emitter == nil {
		return
	}

	event := events.New(eventType, eventSource, state.sess.ID, r.options.Clock.Now(), payload)
	event.TaskID = taskID
	event.TraceContext = tracing.FromContext(ctx)

	r.emitter.Emit(event)
}

// collect assembles the final result from the reconciler snapshot.
func (r *Runner) collect(state *run, started time.Time) *WorkflowResult {
	snapshot := state.rec.Snapshot()

	result := &WorkflowResult{
		Workflow:   state.wf.Name,
		DurationMs: r.options.Clock.Since(started).Milliseconds(),
	}

	escalated := false
	for _, task := range state.wf.Tasks {
		st := snapshot[task.Name]

		tr := state.results[task.Name]
		tr.State = st.State
		tr.RetryCount = st.RetryCount
		tr.LastError = st.LastError

		if st.State == reconciler.StateEscalated {
			escalated = true
			result.Errors = append(result.Errors, fmt.Errorf("task %q: %s", task.Name, st.LastError))
		}

		result.Tasks = append(result.Tasks, tr)
	}

	switch {
	case !escalated:
		result.Status = StatusSucceeded
	case state.cancelReasonIs(ErrMsgTimeoutExceeded):
		result.Status = StatusTimeout
	case state.wasFailFast():
		result.Status = StatusFailedFast
	default:
		result.Status = StatusFailed
	}

	return result
}

func (r *run) cancelReasonIs(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.reason == reason
}
