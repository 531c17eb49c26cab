package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Workflow is the durable record of one execution. ExternalID carries the caller-facing execution id
// and State the current phase.
type Workflow struct {
	ID              int64
	Status          string
	ExecutionCount  int
	RetryCount      int
	Version         int64
	Created         time.Time
	Modified        time.Time
	NextActivation  sql.NullTime
	Started         sql.NullTime
	ExecutorID      sql.NullInt64
	ExecutorGroup   string
	WorkflowType    string
	ExternalID      string
	BusinessKey     string
	State           string
	StateVars       sql.NullString
	StepAttempts    sql.NullString
	Reason          sql.NullString
	CancelRequested bool
}

// Attempts decodes the per-phase attempt counters. A missing or broken column yields an empty map.
func (w *Workflow) Attempts() map[string]int {
	out := map[string]int{}
	if w.StepAttempts.Valid && w.StepAttempts.String != "" {
		_ = json.Unmarshal([]byte(w.StepAttempts.String), &out)
	}
	return out
}

// Vars decodes the persisted state variables.
func (w *Workflow) Vars() map[string]string {
	out := map[string]string{}
	if w.StateVars.Valid && w.StateVars.String != "" && w.StateVars.String != "null" {
		_ = json.Unmarshal([]byte(w.StateVars.String), &out)
	}
	return out
}
