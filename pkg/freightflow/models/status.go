package models

// Scheduling status of an execution record, independent of its phase.
const (
	StatusNew        = "NEW"
	StatusScheduled  = "SCHEDULED"
	StatusExecuting  = "EXECUTING"
	StatusInProgress = "IN_PROGRESS"
	StatusFinished   = "FINISHED"
	StatusFailed     = "FAILED"
)

// Action log types.
const (
	ActionExecuting      = "EXECUTING"
	ActionStarting       = "STARTING"
	ActionTransition     = "TRANSITION"
	ActionRetry          = "RETRY"
	ActionError          = "ERROR"
	ActionFailed         = "FAILED"
	ActionCancelled      = "CANCELLED"
	ActionCheckpoint     = "CHECKPOINT"
	ActionEnd            = "END"
	ActionScheduled      = "SCHEDULED"
	ActionLockFailed     = "LOCK_FAILED"
	ActionRepaired       = "REPAIRED"
	ActionFinished       = "FINISHED"
)

// RequestStateVar is the state variable holding the JSON encoded WorkflowRequest of an execution.
const RequestStateVar = "request"
