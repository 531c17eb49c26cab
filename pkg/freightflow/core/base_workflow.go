package core

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
)

// BaseWorkflow holds common workflow state and provides shared setup logic.
type BaseWorkflow struct {
	StateVariables map[string]string
	WorkflowState  *domain.Workflow
	checkpoint     Checkpointer
}

// Setup initializes the base workflow with the given workflow instance and parses state variables from JSON, if present.
func (b *BaseWorkflow) Setup(wf *domain.Workflow) {
	b.WorkflowState = wf
	b.StateVariables = make(map[string]string)
	if wf.StateVars.Valid && wf.StateVars.String != "" && wf.StateVars.String != "null" {
		if err := json.Unmarshal([]byte(wf.StateVars.String), &b.StateVariables); err != nil {
			slog.Error("Error parsing state vars", "error", err, "execution_id", wf.ExternalID)
		}
	}
}

func (b *BaseWorkflow) GetWorkflowData() *domain.Workflow {
	return b.WorkflowState
}

func (b *BaseWorkflow) GetStateVariables() map[string]string {
	return b.StateVariables
}

func (b *BaseWorkflow) SetCheckpointer(cp Checkpointer) {
	b.checkpoint = cp
}

// Checkpoint durably stores the current state variables. Without an engine attached it is a no-op.
func (b *BaseWorkflow) Checkpoint(ctx context.Context, note string) error {
	if b.checkpoint == nil {
		return nil
	}
	return b.checkpoint(ctx, note)
}
