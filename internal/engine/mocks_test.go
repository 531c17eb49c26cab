package engine

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
)

// MockWorkflowRepo implements WorkflowRepo for testing. Version guarded updates succeed unless a func
// is supplied.
type MockWorkflowRepo struct {
	SaveFunc                                func(wf *domain.Workflow) (int64, error)
	FindByIDFunc                            func(id int64) (*domain.Workflow, error)
	FindByExternalIdFunc                    func(externalID string) (*domain.Workflow, error)
	FindRecentFunc                          func(limit int) ([]domain.Workflow, error)
	FindPendingWorkflowsFunc                func(size int, executorGroup string) ([]domain.Workflow, error)
	MarkWorkflowAsScheduledForExecutionFunc func(id int64, executorID int64, version int64) (bool, error)
	MarkExecutingFunc                       func(id int64, version int64) (bool, error)
	SaveProgressFunc                        func(id int64, version int64, stateVars string, stepAttempts string) (bool, error)
	TransitionStateFunc                     func(id int64, version int64, state string, stateVars string, reason sql.NullString) (bool, error)
	MarkTerminalFunc                        func(id int64, version int64, state string, status string, reason string) (bool, error)
	ScheduleRetryFunc                       func(id int64, version int64, next time.Time) (bool, error)
	ReleaseFunc                             func(id int64, version int64, next time.Time) (bool, error)
	RequestCancelFunc                       func(externalID string, reason string) (bool, error)
	IsCancelRequestedFunc                   func(id int64) (bool, string, error)
	FindStuckWorkflowsFunc                  func(cutoff time.Time, executorGroup string, limit int) ([]domain.Workflow, error)
}

func (m *MockWorkflowRepo) Save(_ context.Context, wf *domain.Workflow) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(wf)
	}
	wf.ID = 1
	return 1, nil
}
func (m *MockWorkflowRepo) FindByID(_ context.Context, id int64) (*domain.Workflow, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, sql.ErrNoRows
}
func (m *MockWorkflowRepo) FindByExternalId(_ context.Context, externalID string) (*domain.Workflow, error) {
	if m.FindByExternalIdFunc != nil {
		return m.FindByExternalIdFunc(externalID)
	}
	return nil, sql.ErrNoRows
}
func (m *MockWorkflowRepo) FindPendingWorkflows(_ context.Context, size int, executorGroup string) ([]domain.Workflow, error) {
	if m.FindPendingWorkflowsFunc != nil {
		return m.FindPendingWorkflowsFunc(size, executorGroup)
	}
	return nil, nil
}
func (m *MockWorkflowRepo) FindRecent(_ context.Context, limit int) ([]domain.Workflow, error) {
	if m.FindRecentFunc != nil {
		return m.FindRecentFunc(limit)
	}
	return nil, nil
}
func (m *MockWorkflowRepo) MarkWorkflowAsScheduledForExecution(_ context.Context, id int64, executorID int64, version int64) (bool, error) {
	if m.MarkWorkflowAsScheduledForExecutionFunc != nil {
		return m.MarkWorkflowAsScheduledForExecutionFunc(id, executorID, version)
	}
	return true, nil
}
func (m *MockWorkflowRepo) MarkExecuting(_ context.Context, id int64, version int64) (bool, error) {
	if m.MarkExecutingFunc != nil {
		return m.MarkExecutingFunc(id, version)
	}
	return true, nil
}
func (m *MockWorkflowRepo) SaveProgress(_ context.Context, id int64, version int64, stateVars string, stepAttempts string) (bool, error) {
	if m.SaveProgressFunc != nil {
		return m.SaveProgressFunc(id, version, stateVars, stepAttempts)
	}
	return true, nil
}
func (m *MockWorkflowRepo) TransitionState(_ context.Context, id int64, version int64, state string, stateVars string, reason sql.NullString) (bool, error) {
	if m.TransitionStateFunc != nil {
		return m.TransitionStateFunc(id, version, state, stateVars, reason)
	}
	return true, nil
}
func (m *MockWorkflowRepo) MarkTerminal(_ context.Context, id int64, version int64, state string, status string, reason string) (bool, error) {
	if m.MarkTerminalFunc != nil {
		return m.MarkTerminalFunc(id, version, state, status, reason)
	}
	return true, nil
}
func (m *MockWorkflowRepo) ScheduleRetry(_ context.Context, id int64, version int64, next time.Time) (bool, error) {
	if m.ScheduleRetryFunc != nil {
		return m.ScheduleRetryFunc(id, version, next)
	}
	return true, nil
}
func (m *MockWorkflowRepo) Release(_ context.Context, id int64, version int64, next time.Time) (bool, error) {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(id, version, next)
	}
	return true, nil
}
func (m *MockWorkflowRepo) RequestCancel(_ context.Context, externalID string, reason string) (bool, error) {
	if m.RequestCancelFunc != nil {
		return m.RequestCancelFunc(externalID, reason)
	}
	return true, nil
}
func (m *MockWorkflowRepo) IsCancelRequested(_ context.Context, id int64) (bool, string, error) {
	if m.IsCancelRequestedFunc != nil {
		return m.IsCancelRequestedFunc(id)
	}
	return false, "", nil
}
func (m *MockWorkflowRepo) FindStuckWorkflows(_ context.Context, cutoff time.Time, executorGroup string, limit int) ([]domain.Workflow, error) {
	if m.FindStuckWorkflowsFunc != nil {
		return m.FindStuckWorkflowsFunc(cutoff, executorGroup, limit)
	}
	return nil, nil
}

// MockWorkflowActionRepo records every saved action.
type MockWorkflowActionRepo struct {
	mu      sync.Mutex
	Actions []domain.WorkflowAction
}

func (m *MockWorkflowActionRepo) Save(_ context.Context, a *domain.WorkflowAction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Actions = append(m.Actions, *a)
	return int64(len(m.Actions)), nil
}

func (m *MockWorkflowActionRepo) FindAllByWorkflowID(_ context.Context, workflowID int64) ([]domain.WorkflowAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WorkflowAction
	for _, a := range m.Actions {
		if a.WorkflowID == workflowID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockWorkflowActionRepo) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Actions))
	for _, a := range m.Actions {
		out = append(out, a.Type)
	}
	return out
}

type MockExecutorRepo struct {
	SaveFunc                     func(e *domain.Executor) (int64, error)
	UpdateLastActiveFunc         func(id int64, ts time.Time) error
	GetExecutorsByLastActiveFunc func(limit int) ([]*domain.Executor, error)
}

func (m *MockExecutorRepo) Save(_ context.Context, e *domain.Executor) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(e)
	}
	return 1, nil
}
func (m *MockExecutorRepo) UpdateLastActive(_ context.Context, id int64, ts time.Time) error {
	if m.UpdateLastActiveFunc != nil {
		return m.UpdateLastActiveFunc(id, ts)
	}
	return nil
}
func (m *MockExecutorRepo) GetExecutorsByLastActive(_ context.Context, limit int) ([]*domain.Executor, error) {
	if m.GetExecutorsByLastActiveFunc != nil {
		return m.GetExecutorsByLastActiveFunc(limit)
	}
	return nil, nil
}

type MockDefinitionRepo struct {
	FindAllFunc    func() ([]domain.WorkflowDefinition, error)
	FindByNameFunc func(name string) (*domain.WorkflowDefinition, error)
	SaveFunc       func(def *domain.WorkflowDefinition) error
}

func (m *MockDefinitionRepo) FindAll(_ context.Context) ([]domain.WorkflowDefinition, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return nil, nil
}
func (m *MockDefinitionRepo) FindByName(_ context.Context, name string) (*domain.WorkflowDefinition, error) {
	if m.FindByNameFunc != nil {
		return m.FindByNameFunc(name)
	}
	return nil, sql.ErrNoRows
}
func (m *MockDefinitionRepo) Save(_ context.Context, def *domain.WorkflowDefinition) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(def)
	}
	return nil
}

// MockWorkflow is a three phase workflow: A -> B -> DONE, with ERR as its error phase.
type MockWorkflow struct {
	core.BaseWorkflow
	Handlers map[string]core.StateFunc
	Retry    models.RetryConfig
}

func (m *MockWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		"A": {"B", "ERR"},
		"B": {"DONE", "ERR"},
	}
}
func (m *MockWorkflow) InitialState() string { return "A" }
func (m *MockWorkflow) Description() string  { return "mock workflow" }
func (m *MockWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: "A", StateType: models.StateStart},
		{Name: "B", StateType: models.StateNormal},
		{Name: "DONE", StateType: models.StateEnd},
		{Name: "ERR", StateType: models.StateError},
	}
}
func (m *MockWorkflow) GetRetryConfig() models.RetryConfig { return m.Retry }
func (m *MockWorkflow) StateHandlers() map[string]core.StateFunc {
	if m.Handlers != nil {
		return m.Handlers
	}
	return map[string]core.StateFunc{
		"A": func(ctx context.Context) (*models.NextState, error) { return &models.NextState{Name: "B"}, nil },
		"B": func(ctx context.Context) (*models.NextState, error) { return &models.NextState{Name: "DONE"}, nil },
	}
}

func newMockWorkflow(handlers map[string]core.StateFunc) *MockWorkflow {
	w := &MockWorkflow{
		Handlers: handlers,
		Retry: models.RetryConfig{
			MaxRetryCount:    3,
			RetryIntervalMin: time.Second,
			RetryIntervalMax: 10 * time.Second,
			StepTimeout:      time.Second,
		},
	}
	w.Setup(&domain.Workflow{ID: 7, ExternalID: "exec-7", State: "A", Version: 1})
	return w
}
