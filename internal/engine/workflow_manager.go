package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/RealZimboGuy/freightflow/internal/lease"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
	"github.com/google/uuid"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionTerminal = errors.New("execution already finished")
	ErrUnknownWorkflow   = errors.New("workflow type not registered")
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// ExecutionIDPrefix prefixes generated execution ids.
const ExecutionIDPrefix = "freight-notification-"

const heartbeatInterval = 30 * time.Second

type WorkflowManager struct {
	WorkflowRegistry   map[string]func() core.Workflow
	WorkflowRepo       WorkflowRepo
	WorkflowActionRepo WorkflowActionRepo
	executorRepo       ExecutorRepo
	DefinitionRepo     DefinitionRepo
	locker             lease.Locker
	executorID         int64
	wakeup             chan struct{}
	clock              core.Clock
}

func NewWorkflowManager(workflowRepo WorkflowRepo, workflowActionRepo WorkflowActionRepo, executorRepo ExecutorRepo,
	definitionRepo DefinitionRepo, workflowRegistry map[string]func() core.Workflow, clock core.Clock, locker lease.Locker) *WorkflowManager {
	if locker == nil {
		locker = lease.NewLocalLocker()
	}
	return &WorkflowManager{
		WorkflowRegistry:   workflowRegistry,
		WorkflowRepo:       workflowRepo,
		WorkflowActionRepo: workflowActionRepo,
		executorRepo:       executorRepo,
		DefinitionRepo:     definitionRepo,
		locker:             locker,
		wakeup:             make(chan struct{}, 1),
		clock:              clock,
	}
}

// ListWorkflowDefinitions exposes repository list for API layers.
func (wm *WorkflowManager) ListWorkflowDefinitions(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	return wm.DefinitionRepo.FindAll(ctx)
}

// ListExecutions returns the most recently created executions, newest first. limit is clamped to
// [1, MaxListLimit].
func (wm *WorkflowManager) ListExecutions(ctx context.Context, limit int) ([]domain.Workflow, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	return wm.WorkflowRepo.FindRecent(ctx, limit)
}

// ListExecutors returns recent executors ordered by last_active desc.
func (wm *WorkflowManager) ListExecutors(ctx context.Context, limit int) ([]*domain.Executor, error) {
	return wm.executorRepo.GetExecutorsByLastActive(ctx, limit)
}

// StartEngine registers this executor and processes executions until ctx is cancelled. Executions
// queued but not yet started are handed back on the way out.
func (wm *WorkflowManager) StartEngine(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if err := wm.registerExecutorInstance(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to register executor, engine not started", "error", err)
		return
	}
	wm.registerWorkflowDefinitions(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); wm.heartbeat(ctx) }()
	go func() { defer wg.Done(); wm.startWorkflowRepairService(ctx) }()

	batchSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if batchSize <= 0 {
		batchSize = 10
	}
	workers := config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE)
	if workers <= 0 {
		workers = 1
	}
	queue := make(chan core.Workflow, batchSize)
	executor := NewWorkflowExecutor(wm.WorkflowRepo, wm.WorkflowActionRepo, wm.locker, wm.clock, wm.executorID)

	slog.InfoContext(ctx, "Starting workflow engine", "workers", workers, "queue_size", batchSize, "executor_id", wm.executorID)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			Worker(ctx, id, executor, queue)
		}(i)
	}
	slog.InfoContext(ctx, "Workflow engine started", "poll_interval", pollInterval.String())

	group := config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Workflow engine stopping due to context cancel")
			wg.Wait()
			wm.drainQueue(context.WithoutCancel(ctx), queue)
			return
		case <-ticker.C:
			wm.pollAndRunWorkflows(ctx, queue, group, batchSize)
		case <-wm.wakeup:
			wm.pollAndRunWorkflows(ctx, queue, group, batchSize)
		}
	}
}

func (wm *WorkflowManager) drainQueue(ctx context.Context, queue chan core.Workflow) {
	for {
		select {
		case w := <-queue:
			wf := w.GetWorkflowData()
			if _, err := wm.WorkflowRepo.Release(ctx, wf.ID, wf.Version, wm.clock.Now()); err != nil {
				slog.ErrorContext(ctx, "Failed to release queued execution", "execution_id", wf.ExternalID, "error", err)
			}
		default:
			return
		}
	}
}

// pollAndRunWorkflows claims due executions and queues them for the workers.
func (wm *WorkflowManager) pollAndRunWorkflows(ctx context.Context, queue chan core.Workflow, group string, batchSize int) {
	free := cap(queue) - len(queue)
	if free <= 0 {
		slog.WarnContext(ctx, "workflow queue full, skipping poll, possibly long running workflows")
		return
	}
	if free > batchSize {
		free = batchSize
	}

	workflows, err := wm.WorkflowRepo.FindPendingWorkflows(ctx, free, group)
	if err != nil {
		slog.ErrorContext(ctx, "Error fetching workflows", "error", err)
		return
	}

	for i := range workflows {
		wf := workflows[i]
		claimed, err := wm.WorkflowRepo.MarkWorkflowAsScheduledForExecution(ctx, wf.ID, wm.executorID, wf.Version)
		if err != nil || !claimed {
			slog.InfoContext(ctx, "Unable to claim execution, possibly picked up by another executor", "execution_id", wf.ExternalID, "error", err)
			wm.saveAction(ctx, &wf, models.ActionLockFailed, wf.State, "Failed to acquire a lock on the workflow")
			continue
		}
		wf.Version++
		wf.Status = models.StatusScheduled
		wf.ExecutorID = sql.NullInt64{Int64: wm.executorID, Valid: true}
		wm.saveAction(ctx, &wf, models.ActionScheduled, wf.State, "Scheduled for Execution")

		instance, err := wm.createWorkflow(wf.WorkflowType)
		if err != nil {
			slog.ErrorContext(ctx, "Cannot run execution of unknown type", "execution_id", wf.ExternalID, "type", wf.WorkflowType)
			_, _ = wm.WorkflowRepo.MarkTerminal(ctx, wf.ID, wf.Version, wf.State, models.StatusFailed, err.Error())
			continue
		}
		instance.Setup(&wf)
		queue <- instance
	}
}

// startWorkflowRepairService finds executions claimed by an executor that stopped sending heartbeats and
// hands them back to the pool.
func (wm *WorkflowManager) startWorkflowRepairService(ctx context.Context) {
	interval := config.GetSystemSettingDuration(config.ENGINE_STUCK_WORKFLOWS_INTERVAL)
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Workflow repair service stopping due to context cancel")
			return
		case <-ticker.C:
			wm.RepairStuckWorkflows(ctx)
		}
	}
}

// RepairStuckWorkflows releases stuck executions of this executor group and reports how many were released.
func (wm *WorkflowManager) RepairStuckWorkflows(ctx context.Context) int {
	minutes := config.GetSystemSettingInteger(config.ENGINE_STUCK_WORKFLOWS_REPAIR_AFTER_MINUTES)
	cutoff := wm.clock.Now().Add(-time.Duration(minutes) * time.Minute)
	stuck, err := wm.WorkflowRepo.FindStuckWorkflows(ctx, cutoff, config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP), 100)
	if err != nil {
		slog.ErrorContext(ctx, "Error finding stuck workflows", "error", err)
		return 0
	}
	repaired := 0
	for i := range stuck {
		wf := stuck[i]
		slog.WarnContext(ctx, "Repairing stuck workflow", "execution_id", wf.ExternalID, "state", wf.State, "status", wf.Status)
		released, err := wm.WorkflowRepo.Release(ctx, wf.ID, wf.Version, wm.clock.Now())
		if err != nil || !released {
			continue
		}
		repaired++
		wm.saveAction(ctx, &wf, models.ActionRepaired, wf.State,
			fmt.Sprintf("Repaired and scheduled, previous executor was: %d", wf.ExecutorID.Int64))
	}
	if repaired > 0 {
		wm.Wakeup()
	}
	return repaired
}

func (wm *WorkflowManager) registerExecutorInstance(ctx context.Context) error {
	name := config.GetSystemSettingString(config.ENGINE_EXECUTOR_NAME)
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "freightflow"
		} else {
			name = hostname
		}
	}
	now := wm.clock.Now()
	exec := &domain.Executor{Name: name, Started: now, LastActive: now}
	id, err := wm.executorRepo.Save(ctx, exec)
	if err != nil {
		return err
	}
	wm.executorID = id
	slog.InfoContext(ctx, "Registered executor", "executor_id", id, "name", name)
	return nil
}

// heartbeat updates last_active so the repair service of other executors leaves our executions alone.
func (wm *WorkflowManager) heartbeat(ctx context.Context) {
	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.C:
			if err := wm.executorRepo.UpdateLastActive(ctx, wm.executorID, wm.clock.Now()); err != nil {
				slog.ErrorContext(ctx, "Failed to update executor last_active", "executor_id", wm.executorID, "error", err)
			} else {
				slog.DebugContext(ctx, "Updated executor last_active", "executor_id", wm.executorID)
			}
		}
	}
}

func (wm *WorkflowManager) registerWorkflowDefinitions(ctx context.Context) {
	for name := range wm.WorkflowRegistry {
		instance, err := wm.createWorkflow(name)
		if err != nil {
			continue
		}
		handlers := instance.StateHandlers()
		for _, state := range instance.GetAllStates() {
			if state.IsTerminal() {
				continue
			}
			if _, ok := handlers[state.Name]; !ok {
				panic(fmt.Sprintf("workflow %s has no handler for state %s", name, state.Name))
			}
		}

		now := wm.clock.Now()
		def := &domain.WorkflowDefinition{
			Name:        name,
			Description: instance.Description(),
			Created:     now,
			Updated:     now,
			FlowChart:   BuildFlowChart(instance),
		}
		slog.InfoContext(ctx, "Saving workflow definition", "name", name)
		if err := wm.DefinitionRepo.Save(ctx, def); err != nil {
			slog.ErrorContext(ctx, "Failed to save workflow definition", "name", name, "error", err)
		}
	}
}

// BuildFlowChart renders the workflow's states and transitions as a Mermaid flowchart.
func BuildFlowChart(wf core.Workflow) string {
	var sb strings.Builder

	errorClass := "fill:#FF6B6B,stroke:#C53030,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	doneClass := "fill:#4ECDC4,stroke:#1F9C8C,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	startClass := "fill:#5568FE,stroke:#3346FF,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	normalClass := "fill:#F0F4F8,stroke:#B0C4DE,stroke-width:1px,color:#333,rx:10,ry:10;"

	sb.WriteString("flowchart TD\n")

	// map iteration order is random, sort for a stable chart
	transitions := wf.StateTransitions()
	froms := make([]string, 0, len(transitions))
	for from := range transitions {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		for _, to := range transitions[from] {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
		}
	}

	sb.WriteString(fmt.Sprintf("    classDef errorClass %s\n", errorClass))
	sb.WriteString(fmt.Sprintf("    classDef doneClass %s\n", doneClass))
	sb.WriteString(fmt.Sprintf("    classDef startClass %s\n", startClass))
	sb.WriteString(fmt.Sprintf("    classDef normalClass %s\n", normalClass))

	for _, st := range wf.GetAllStates() {
		switch st.StateType {
		case models.StateStart:
			sb.WriteString(fmt.Sprintf("    class %s startClass;\n", st.Name))
		case models.StateEnd:
			sb.WriteString(fmt.Sprintf("    class %s doneClass;\n", st.Name))
		case models.StateError:
			sb.WriteString(fmt.Sprintf("    class %s errorClass;\n", st.Name))
		default:
			sb.WriteString(fmt.Sprintf("    class %s normalClass;\n", st.Name))
		}
	}
	return sb.String()
}

func (wm *WorkflowManager) createWorkflow(name string) (core.Workflow, error) {
	factory, ok := wm.WorkflowRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	return factory(), nil
}

func (wm *WorkflowManager) saveAction(ctx context.Context, wf *domain.Workflow, actionType, name, text string) {
	_, _ = wm.WorkflowActionRepo.Save(ctx, &domain.WorkflowAction{
		WorkflowID:     wf.ID,
		ExecutorID:     wm.executorID,
		ExecutionCount: wf.ExecutionCount,
		RetryCount:     wf.RetryCount,
		Type:           actionType,
		Name:           name,
		Text:           text,
		DateTime:       wm.clock.Now(),
	})
}

// StartExecution creates an execution of workflowType. A known ExecutionID returns the existing
// execution unchanged. An invalid request is stored directly in the error phase with its reason and
// returned together with an error wrapping models.ErrValidation.
func (wm *WorkflowManager) StartExecution(ctx context.Context, workflowType string, req models.StartExecutionRequest) (*domain.Workflow, error) {
	if req.ExecutionID != "" {
		existing, err := wm.WorkflowRepo.FindByExternalId(ctx, req.ExecutionID)
		if err == nil {
			slog.InfoContext(ctx, "Execution already exists", "execution_id", req.ExecutionID, "state", existing.State)
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	instance, err := wm.createWorkflow(workflowType)
	if err != nil {
		return nil, err
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = ExecutionIDPrefix + uuid.NewString()
	}
	group := req.ExecutorGroup
	if group == "" {
		group = config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP)
	}
	requestJSON, err := json.Marshal(req.Request)
	if err != nil {
		return nil, err
	}
	varsJSON, err := json.Marshal(map[string]string{models.RequestStateVar: string(requestJSON)})
	if err != nil {
		return nil, err
	}

	now := wm.clock.Now()
	wf := &domain.Workflow{
		Status:         models.StatusNew,
		Created:        now,
		Modified:       now,
		NextActivation: sql.NullTime{Time: now, Valid: true},
		ExecutorGroup:  group,
		WorkflowType:   workflowType,
		ExternalID:     executionID,
		BusinessKey:    req.BusinessKey,
		State:          instance.InitialState(),
		StateVars:      sql.NullString{String: string(varsJSON), Valid: true},
	}

	validationErr := req.Request.Validate()
	if validationErr != nil {
		wf.State = errorStateOf(instance)
		wf.Status = models.StatusFailed
		wf.NextActivation = sql.NullTime{}
		wf.Reason = sql.NullString{String: validationErr.Error(), Valid: true}
	}

	if _, err := wm.WorkflowRepo.Save(ctx, wf); err != nil {
		// a concurrent start with the same id may have won the insert
		if req.ExecutionID != "" {
			if existing, findErr := wm.WorkflowRepo.FindByExternalId(ctx, req.ExecutionID); findErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("saving execution %s: %w", executionID, err)
	}

	if validationErr != nil {
		slog.WarnContext(ctx, "Rejected invalid execution request", "execution_id", executionID, "reason", validationErr)
		wm.saveAction(ctx, wf, models.ActionFailed, wf.State, validationErr.Error())
		return wf, validationErr
	}

	slog.InfoContext(ctx, "Execution created", "execution_id", executionID, "type", workflowType)
	wm.Wakeup()
	return wf, nil
}

// GetExecution loads an execution by its execution id.
func (wm *WorkflowManager) GetExecution(ctx context.Context, executionID string) (*domain.Workflow, error) {
	wf, err := wm.WorkflowRepo.FindByExternalId(ctx, executionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return wf, err
}

// ListActions returns the action log of an execution, oldest first.
func (wm *WorkflowManager) ListActions(ctx context.Context, executionID string) ([]domain.WorkflowAction, error) {
	wf, err := wm.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return wm.WorkflowActionRepo.FindAllByWorkflowID(ctx, wf.ID)
}

// CancelExecution asks a running execution to stop. The request takes effect at the next phase boundary
// and ends the execution in the error phase with reason "cancelled: <reason>".
func (wm *WorkflowManager) CancelExecution(ctx context.Context, executionID string, reason string) error {
	wf, err := wm.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if wf.Status == models.StatusFinished || wf.Status == models.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrExecutionTerminal, executionID, wf.State)
	}
	if reason == "" {
		reason = "requested"
	}
	ok, err := wm.WorkflowRepo.RequestCancel(ctx, executionID, "cancelled: "+reason)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionTerminal, executionID)
	}
	slog.InfoContext(ctx, "Cancellation requested", "execution_id", executionID, "reason", reason)
	wm.Wakeup()
	return nil
}

func (wm *WorkflowManager) Wakeup() {
	select {
	case wm.wakeup <- struct{}{}:
	default:
	}
}
