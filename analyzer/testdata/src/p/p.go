package p

import "workflow"

func exhaustive(t workflow.StepType) string {
	switch t {
	case workflow.StepNavigate:
		return "navigate"
	case workflow.StepWaitFor:
		return "waitFor"
	case workflow.StepClick:
		return "click"
	case workflow.StepExtract:
		return "extract"
	}

	return ""
}

func withDefault(t workflow.StepType) string {
	switch t {
	case workflow.StepNavigate:
		return "navigate"
	default:
		return "other"
	}
}

func missingCases(t workflow.StepType) string {
	switch t { // want `switch over step type is missing cases: waitFor, extract`
	case workflow.StepNavigate:
		return "navigate"
	case workflow.StepClick:
		return "click"
	}

	return ""
}

func otherSwitch(s string) string {
	switch s {
	case "navigate":
		return "n"
	}

	return ""
}
