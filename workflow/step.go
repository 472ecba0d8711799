package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepType discriminates the step variants. The executor dispatches on
// it exhaustively; the analyzer module checks switches over it.
type StepType string

const (
	StepNavigate StepType = "navigate"
	StepWaitFor  StepType = "waitFor"
	StepClick    StepType = "click"
	StepExtract  StepType = "extract"
)

// Step is an atomic browser operation described declaratively. It is a
// tagged variant: Type selects which of the remaining fields apply.
// A Step carries no runtime state.
type Step struct {
	Type StepType `json:"type"`

	// Navigate
	URL string `json:"url,omitempty"`

	// WaitFor, Click, Extract
	Selector string `json:"selector,omitempty"`

	// WaitFor
	TimeoutMs int64 `json:"timeoutMs,omitempty"`

	// Extract
	Schema *Schema `json:"schema,omitempty"`
}

func (s *Step) WaitTimeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Schema is an ordered list of fields to extract from an element.
type Schema struct {
	Fields []Field `json:"fields" validate:"required,min=1"`
}

// Field maps an extracted value to a name. Type is informational
// ("string", "number", ...); extraction always yields the raw string.
type Field struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type,omitempty"`
}

type stepAlias Step

// UnmarshalJSON rejects unknown step types at parse time so the
// executor's dispatch stays exhaustive.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw stepAlias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Type {
	case StepNavigate, StepWaitFor, StepClick, StepExtract:
	default:
		return &ParseError{Msg: fmt.Sprintf("unknown step type %q", raw.Type)}
	}

	*s = Step(raw)

	return nil
}

func (s *Step) String() string {
	switch s.Type {
	case StepNavigate:
		return fmt.Sprintf("navigate(%s)", s.URL)
	case StepWaitFor:
		return fmt.Sprintf("waitFor(%s, %dms)", s.Selector, s.TimeoutMs)
	case StepClick:
		return fmt.Sprintf("click(%s)", s.Selector)
	case StepExtract:
		return fmt.Sprintf("extract(%s)", s.Selector)
	default:
		return string(s.Type)
	}
}
