// Package instrument embeds observability probes into workflow
// execution. Probes are classified by lifecycle phase, fired in
// priority order, and their results are published onto the event bus.
package instrument

import (
	"context"
	"time"
)

// Phase is the lifecycle moment a probe is attached to. Continuous
// probes fire on every phase.
type Phase string

const (
	PhaseBeforeAction Phase = "beforeAction"
	PhaseAfterAction  Phase = "afterAction"
	PhaseDuringIdle   Phase = "duringIdle"
	PhaseOnNavigation Phase = "onNavigation"
	PhaseOnError      Phase = "onError"
	PhaseContinuous   Phase = "continuous"
)

// Severity classifies a probe result. warn and critical results become
// alert events.
type Severity string

const (
	SeverityTrace    Severity = "trace"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityTrace:    0,
	SeverityInfo:     1,
	SeverityWarn:     2,
	SeverityCritical: 3,
}

func maxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}

	return a
}

// ProbeResult is the immutable record of one probe invocation.
type ProbeResult struct {
	InstrumentID string            `json:"instrumentId"`
	Timestamp    time.Time         `json:"timestamp"`
	Values       map[string]any    `json:"values"`
	Severity     Severity          `json:"severity"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Context is handed to probe measurements. Page and Protocol are opaque
// handles into the runtime environment; the engine does not interpret
// them.
type Context struct {
	Phase      Phase
	ActionType string
	SessionID  string
	TaskID     string

	Page     any
	Protocol any

	// IdleDuration is set for duringIdle invocations.
	IdleDuration time.Duration

	// Err is set for onError invocations.
	Err error

	// PreviousResult is the probe's last successful result, for delta
	// computation. Nil on the first invocation.
	PreviousResult *ProbeResult
}

// MeasureFunc produces a probe result for the given context.
type MeasureFunc func(ctx context.Context, pc *Context) (*ProbeResult, error)

// TeardownFunc releases probe-held resources on embedder shutdown.
type TeardownFunc func(ctx context.Context) error

// Probe is a registered measurement instrument.
type Probe struct {
	ID   string
	Name string
	Kind string

	Phase Phase

	// ActionFilter restricts which action types the probe fires for.
	// Empty means all.
	ActionFilter []string

	Enabled bool

	// Priority orders probes within a phase; lower fires first.
	Priority int

	Measure  MeasureFunc
	Teardown TeardownFunc

	// AlertConditions escalate result severity declaratively.
	AlertConditions []AlertCondition
}

func (p *Probe) matchesAction(actionType string) bool {
	if len(p.ActionFilter) == 0 {
		return true
	}

	for _, a := range p.ActionFilter {
		if a == actionType {
			return true
		}
	}

	return false
}
