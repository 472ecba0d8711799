package metrickeys

const (
	Prefix = "nightglow."

	// Workflow runs
	WorkflowStarted  = Prefix + "workflow.started"
	WorkflowFinished = Prefix + "workflow.finished"
	WorkflowDuration = Prefix + "workflow.duration"

	// Tasks
	TaskSucceeded = Prefix + "task.succeeded"
	TaskEscalated = Prefix + "task.escalated"
	TaskRetries   = Prefix + "task.retries"

	// Steps
	StepExecuted = Prefix + "step.executed"
	StepDuration = Prefix + "step.duration"

	// Event bus producer
	EventsEmitted = Prefix + "producer.emitted"
	EventsFlushed = Prefix + "producer.flushed"
	FlushFailures = Prefix + "producer.flush_failures"
	FlushDuration = Prefix + "producer.flush_duration"

	// Instruments
	ProbeFired  = Prefix + "instrument.fired"
	ProbeFailed = Prefix + "instrument.failed"
)

// Tag names
const (
	// Workflow the measurement belongs to
	Workflow = "workflow"

	// Task within the workflow
	Task = "task"

	// Step type executed
	StepType = "step_type"

	// Topic a producer measurement applies to
	Topic = "topic"

	// Transport backing the producer
	Transport = "transport"

	// Final workflow status
	Status = "status"
)
