package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
)

// WorkflowRepo defines the interface for workflow persistence, matching repository.WorkflowRepository.
// Every update taking a version only applies when the stored version still matches.
type WorkflowRepo interface {
	Save(ctx context.Context, wf *domain.Workflow) (int64, error)
	FindByID(ctx context.Context, id int64) (*domain.Workflow, error)
	FindByExternalId(ctx context.Context, externalID string) (*domain.Workflow, error)
	FindPendingWorkflows(ctx context.Context, size int, executorGroup string) ([]domain.Workflow, error)
	FindRecent(ctx context.Context, limit int) ([]domain.Workflow, error)
	MarkWorkflowAsScheduledForExecution(ctx context.Context, id int64, executorID int64, version int64) (bool, error)
	MarkExecuting(ctx context.Context, id int64, version int64) (bool, error)
	SaveProgress(ctx context.Context, id int64, version int64, stateVars string, stepAttempts string) (bool, error)
	TransitionState(ctx context.Context, id int64, version int64, state string, stateVars string, reason sql.NullString) (bool, error)
	MarkTerminal(ctx context.Context, id int64, version int64, state string, status string, reason string) (bool, error)
	ScheduleRetry(ctx context.Context, id int64, version int64, next time.Time) (bool, error)
	Release(ctx context.Context, id int64, version int64, next time.Time) (bool, error)
	RequestCancel(ctx context.Context, externalID string, reason string) (bool, error)
	IsCancelRequested(ctx context.Context, id int64) (bool, string, error)
	FindStuckWorkflows(ctx context.Context, cutoff time.Time, executorGroup string, limit int) ([]domain.Workflow, error)
}

// WorkflowActionRepo defines the interface for workflow action persistence.
type WorkflowActionRepo interface {
	Save(ctx context.Context, a *domain.WorkflowAction) (int64, error)
	FindAllByWorkflowID(ctx context.Context, workflowID int64) ([]domain.WorkflowAction, error)
}

// ExecutorRepo defines the interface for executor persistence.
type ExecutorRepo interface {
	Save(ctx context.Context, e *domain.Executor) (int64, error)
	UpdateLastActive(ctx context.Context, id int64, ts time.Time) error
	GetExecutorsByLastActive(ctx context.Context, limit int) ([]*domain.Executor, error)
}

// DefinitionRepo defines the interface for workflow definition persistence.
type DefinitionRepo interface {
	FindAll(ctx context.Context) ([]domain.WorkflowDefinition, error)
	FindByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error)
	Save(ctx context.Context, def *domain.WorkflowDefinition) error
}
