// Package executor executes single declarative steps against a browser
// page handle.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/orderout/nightglow/workflow"
)

// Canonical error strings reported in StepResult.Err.
const (
	ErrMsgTimeout   = "Timeout"
	ErrMsgCancelled = "Cancelled"
)

// ErrWaitTimeout is returned by Page.WaitFor implementations when the
// selector did not appear in time.
var ErrWaitTimeout = errors.New(ErrMsgTimeout)

// Context carries the per-task execution environment for a step.
type Context struct {
	Page      Page
	SessionID string
	TaskID    string
}

// StepResult reports one step outcome. Failures are in-band: Execute
// never returns an error, it sets Success=false and Err.
type StepResult struct {
	Step       *workflow.Step
	Success    bool
	DurationMs int64

	// Data holds extracted field values for extract steps.
	Data map[string]string

	Err string
}

type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock
}

// Executor dispatches steps to the page by step type. It is stateless
// and safe for concurrent use.
type Executor struct {
	logger *slog.Logger
	clock  clock.Clock
}

func New(opts *Options) *Executor {
	if opts == nil {
		opts = &Options{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Executor{logger: logger, clock: clk}
}

// Execute runs one step. Durations are wall-clock from entry to exit.
func (e *Executor) Execute(ctx context.Context, step *workflow.Step, ec Context) StepResult {
	started := e.clock.Now()

	data, err := e.dispatch(ctx, step, ec)

	result := StepResult{
		Step:       step,
		Success:    err == nil,
		DurationMs: e.clock.Since(started).Milliseconds(),
		Data:       data,
	}

	if err != nil {
		result.Err = errorMessage(err)

		e.logger.DebugContext(ctx, "step failed",
			"step", step.String(),
			"session", ec.SessionID,
			"task", ec.TaskID,
			"error", result.Err)
	}

	return result
}

func (e *Executor) dispatch(ctx context.Context, step *workflow.Step, ec Context) (map[string]string, error) {
	switch step.Type {
	case workflow.StepNavigate:
		return nil, ec.Page.Navigate(ctx, step.URL)
	case workflow.StepWaitFor:
		return nil, ec.Page.WaitFor(ctx, step.Selector, step.WaitTimeout())
	case workflow.StepClick:
		return nil, ec.Page.Click(ctx, step.Selector)
	case workflow.StepExtract:
		return e.extract(ctx, step, ec)
	default:
		// Parse rejects unknown discriminators, reaching this is a bug.
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

func (e *Executor) extract(ctx context.Context, step *workflow.Step, ec Context) (map[string]string, error) {
	el, err := ec.Page.Query(ctx, step.Selector)
	if err != nil {
		return nil, fmt.Errorf("locating %q: %w", step.Selector, err)
	}

	data := make(map[string]string, len(step.Schema.Fields))

	for _, field := range step.Schema.Fields {
		value, ok, err := el.Attribute(ctx, field.Name)
		if err != nil {
			return nil, fmt.Errorf("reading attribute %q: %w", field.Name, err)
		}

		if !ok {
			value, err = el.Text(ctx)
			if err != nil {
				return nil, fmt.Errorf("reading text for field %q: %w", field.Name, err)
			}
		}

		data[field.Name] = value
	}

	return data, nil
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrWaitTimeout):
		return ErrMsgTimeout
	case errors.Is(err, context.Canceled):
		return ErrMsgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrMsgTimeout
	default:
		return err.Error()
	}
}
