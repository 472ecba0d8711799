// Package events defines the observability event record and its routing
// onto bus topics.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the engine. Instrument results use
// TypeMeasurement or TypeAlert depending on severity.
const (
	TypeWorkflowStarted  = "workflow.started"
	TypeWorkflowFinished = "workflow.finished"
	TypeTaskTransition   = "task.transition"
	TypeStepCompleted    = "step.completed"

	TypeMeasurement         = "instrument.measurement"
	TypeAlert               = "instrument.alert"
	TypeInstrumentLifecycle = "instrument.lifecycle"
)

// TraceContext carries the OpenTelemetry span context of the operation
// that produced the event.
type TraceContext struct {
	TraceID string `json:"traceId"`
	SpanID  string `json:"spanId"`
}

// Event is an immutable, typed, correlated record. It is routed to a
// topic by its type prefix and keyed on the transport by SessionID, so
// per-session ordering holds within a topic.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	SessionID string         `json:"sessionId"`
	TaskID    string         `json:"taskId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`

	TraceContext *TraceContext `json:"traceContext,omitempty"`
}

// New creates an event with a fresh id and the given timestamp.
func New(eventType, source, sessionID string, ts time.Time, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		SessionID: sessionID,
		Timestamp: ts,
		Payload:   payload,
	}
}

// Emitter accepts events for publication. The producer implements it;
// tests substitute recorders.
type Emitter interface {
	Emit(event *Event)
}
