package workflow

type StepType string

const (
	StepNavigate StepType = "navigate"
	StepWaitFor  StepType = "waitFor"
	StepClick    StepType = "click"
	StepExtract  StepType = "extract"
)
