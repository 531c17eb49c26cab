package core

import (
	"context"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
)

// StateFunc runs the step that leaves a state and reports the state to move to.
type StateFunc func(ctx context.Context) (*models.NextState, error)

// Checkpointer persists the workflow's state variables without a transition. The note is written to
// the action log.
type Checkpointer func(ctx context.Context, note string) error

// Workflow is the interface that all workflows must implement.
type Workflow interface {
	StateTransitions() map[string][]string // map of state name -> list of next state names
	InitialState() string
	Description() string
	Setup(wf *domain.Workflow)
	GetWorkflowData() *domain.Workflow
	GetStateVariables() map[string]string
	GetAllStates() []models.WorkflowState
	GetRetryConfig() models.RetryConfig
	StateHandlers() map[string]StateFunc
	SetCheckpointer(cp Checkpointer)
}
