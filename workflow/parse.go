package workflow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ParseError indicates a malformed workflow definition.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing workflow: %s: %v", e.Msg, e.Err)
	}

	return fmt.Sprintf("parsing workflow: %s", e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a workflow definition from JSON.
//
// Structural validation covers required fields and step shapes; semantic
// validation covers task-name uniqueness and dependency references.
// Dependency cycles are left to the scheduler, which reports all
// participants.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			return nil, perr
		}

		return nil, &ParseError{Msg: "invalid JSON", Err: err}
	}

	if err := Validate(&wf); err != nil {
		return nil, err
	}

	return &wf, nil
}

// Validate checks a decoded workflow definition.
func Validate(wf *Workflow) error {
	if err := validate.Struct(wf); err != nil {
		return &ParseError{Msg: "invalid workflow definition", Err: err}
	}

	seen := make(map[string]bool, len(wf.Tasks))
	for _, t := range wf.Tasks {
		if seen[t.Name] {
			return &ParseError{Msg: fmt.Sprintf("duplicate task name %q", t.Name)}
		}
		seen[t.Name] = true

		if err := validateSteps(t); err != nil {
			return err
		}
	}

	for _, t := range wf.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return &ParseError{Msg: fmt.Sprintf("task %q depends on undefined task %q", t.Name, dep)}
			}

			if dep == t.Name {
				return &ParseError{Msg: fmt.Sprintf("task %q depends on itself", t.Name)}
			}
		}
	}

	return nil
}

func validateSteps(t *Task) error {
	for i, s := range t.Steps {
		switch s.Type {
		case StepNavigate:
			if s.URL == "" {
				return &ParseError{Msg: fmt.Sprintf("task %q step %d: navigate requires url", t.Name, i)}
			}
		case StepWaitFor:
			if s.Selector == "" {
				return &ParseError{Msg: fmt.Sprintf("task %q step %d: waitFor requires selector", t.Name, i)}
			}
		case StepClick:
			if s.Selector == "" {
				return &ParseError{Msg: fmt.Sprintf("task %q step %d: click requires selector", t.Name, i)}
			}
		case StepExtract:
			if s.Selector == "" {
				return &ParseError{Msg: fmt.Sprintf("task %q step %d: extract requires selector", t.Name, i)}
			}
			if s.Schema == nil || len(s.Schema.Fields) == 0 {
				return &ParseError{Msg: fmt.Sprintf("task %q step %d: extract requires a schema with fields", t.Name, i)}
			}
		default:
			return &ParseError{Msg: fmt.Sprintf("task %q step %d: unknown step type %q", t.Name, i, s.Type)}
		}
	}

	return nil
}
