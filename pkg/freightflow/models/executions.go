package models

import (
	"time"
)

// StartExecutionRequest is the payload for starting an execution. ExecutionID is optional; supplying a
// stable one makes the call idempotent.
type StartExecutionRequest struct {
	ExecutionID   string          `json:"executionId,omitempty"`
	ExecutorGroup string          `json:"executorGroup,omitempty"`
	BusinessKey   string          `json:"businessKey,omitempty"`
	Request       WorkflowRequest `json:"request"`
}

// StartExecutionResponse is returned on creation, including requests rejected by validation.
type StartExecutionResponse struct {
	ID          int64  `json:"id"`
	ExecutionID string `json:"executionId"`
	Phase       string `json:"phase"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

type CancelExecutionRequest struct {
	Reason string `json:"reason"`
}

type CancelExecutionResponse struct {
	OK bool `json:"ok"`
}

// ExecutionApiResponse represents the API response for an execution.
type ExecutionApiResponse struct {
	ID              int64             `json:"id"`
	ExecutionID     string            `json:"executionId"`
	WorkflowType    string            `json:"workflowType"`
	Status          string            `json:"status"`
	Phase           string            `json:"phase"`
	Reason          string            `json:"reason,omitempty"`
	CancelRequested bool              `json:"cancelRequested"`
	RetryCount      int               `json:"retryCount"`
	StepAttempts    map[string]int    `json:"stepAttempts,omitempty"`
	Created         time.Time         `json:"created"`
	Modified        time.Time         `json:"modified"`
	Started         time.Time         `json:"started,omitempty"`
	NextActivation  time.Time         `json:"nextActivation,omitempty"`
	ExecutorID      int64             `json:"executorId,omitempty"`
	ExecutorGroup   string            `json:"executorGroup"`
	BusinessKey     string            `json:"businessKey"`
	DelayMinutes    *float64          `json:"delayMinutes,omitempty"`
	Delay           string            `json:"delay,omitempty"`
	Subject         string            `json:"subject,omitempty"`
	Message         string            `json:"message,omitempty"`
	StateVars       map[string]string `json:"stateVars,omitempty"`
}
