package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/lease"
	"github.com/RealZimboGuy/freightflow/internal/repository"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
)

var errRunAbandoned = errors.New("run abandoned after step timeout")

// leaseMargin is added to the step timeout when taking or renewing the lease of an execution.
const leaseMargin = 30 * time.Second

// WorkflowExecutor drives claimed executions through their phases.
type WorkflowExecutor struct {
	repo       WorkflowRepo
	actions    WorkflowActionRepo
	locker     lease.Locker
	clock      core.Clock
	executorID int64
}

func NewWorkflowExecutor(repo WorkflowRepo, actions WorkflowActionRepo, locker lease.Locker, clock core.Clock, executorID int64) *WorkflowExecutor {
	if locker == nil {
		locker = lease.NewLocalLocker()
	}
	return &WorkflowExecutor{repo: repo, actions: actions, locker: locker, clock: clock, executorID: executorID}
}

// run is the state of one RunWorkflow call. A handler that outlives its step timeout keeps running in
// the background; once abandoned its checkpoints are refused.
type run struct {
	e         *WorkflowExecutor
	w         core.Workflow
	wf        *domain.Workflow
	workerID  string
	mu        sync.Mutex
	abandoned bool
}

// cas performs a version guarded update and advances the local version when it applied.
func (r *run) cas(op func(version int64) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := op(r.wf.Version)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrVersionConflict
	}
	r.wf.Version++
	return nil
}

func (r *run) abandon() {
	r.mu.Lock()
	r.abandoned = true
	r.mu.Unlock()
}

func (r *run) logAction(ctx context.Context, actionType, name, text string) {
	_, _ = r.e.actions.Save(ctx, &domain.WorkflowAction{
		WorkflowID:     r.wf.ID,
		ExecutorID:     r.e.executorID,
		ExecutionCount: r.wf.ExecutionCount,
		RetryCount:     r.wf.RetryCount,
		Type:           actionType,
		Name:           name,
		Text:           text,
		DateTime:       r.e.clock.Now(),
	})
}

func (r *run) stateVarsJSON() string {
	b, _ := json.Marshal(r.w.GetStateVariables())
	return string(b)
}

// checkpoint is handed to the workflow so it can persist state variables mid-step.
func (r *run) checkpoint(ctx context.Context, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return errRunAbandoned
	}
	vars := r.stateVarsJSON()
	ok, err := r.e.repo.SaveProgress(ctx, r.wf.ID, r.wf.Version, vars, r.wf.StepAttempts.String)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrVersionConflict
	}
	r.wf.Version++
	r.wf.StateVars = sql.NullString{String: vars, Valid: true}
	r.logAction(ctx, models.ActionCheckpoint, r.wf.State, note)
	return nil
}

func findState(w core.Workflow, name string) (models.WorkflowState, bool) {
	for _, s := range w.GetAllStates() {
		if s.Name == name {
			return s, true
		}
	}
	return models.WorkflowState{}, false
}

func errorStateOf(w core.Workflow) string {
	for _, s := range w.GetAllStates() {
		if s.StateType == models.StateError {
			return s.Name
		}
	}
	return ""
}

// RunWorkflow executes a claimed workflow phase by phase until it ends, needs a retry, or the worker
// is shutting down. Cancellation and shutdown are only observed between phases.
func (e *WorkflowExecutor) RunWorkflow(ctx context.Context, w core.Workflow, workerID string) {
	wf := w.GetWorkflowData()
	ctx = context.WithValue(ctx, core.CtxKeyExecutionId, wf.ExternalID)
	r := &run{e: e, w: w, wf: wf, workerID: workerID}
	retry := w.GetRetryConfig()
	owner := fmt.Sprintf("%d/%s", e.executorID, workerID)

	slog.InfoContext(ctx, "Running workflow", "execution_id", wf.ExternalID, "state", wf.State, "worker_id", workerID)

	if err := e.locker.Acquire(ctx, wf.ExternalID, owner, retry.Timeout()+leaseMargin); err != nil {
		slog.WarnContext(ctx, "Execution lease held elsewhere, releasing", "execution_id", wf.ExternalID, "error", err)
		r.logAction(ctx, models.ActionLockFailed, wf.State, "execution lease held by another worker")
		r.release(ctx, e.clock.Now().Add(retry.Backoff(0)))
		return
	}
	defer func() {
		if err := e.locker.Release(context.WithoutCancel(ctx), wf.ExternalID, owner); err != nil && !errors.Is(err, lease.ErrNotHeld) {
			slog.WarnContext(ctx, "Failed to release execution lease", "execution_id", wf.ExternalID, "error", err)
		}
	}()

	if err := r.cas(func(v int64) (bool, error) { return e.repo.MarkExecuting(ctx, wf.ID, v) }); err != nil {
		slog.ErrorContext(ctx, "Error marking workflow as executing", "execution_id", wf.ExternalID, "error", err)
		return
	}
	wf.Status = models.StatusExecuting
	wf.ExecutionCount++
	r.logAction(ctx, models.ActionExecuting, wf.State, "EXECUTING")
	if wf.State == w.InitialState() && len(wf.Attempts()) == 0 {
		r.logAction(ctx, models.ActionStarting, wf.State, "Starting Workflow")
	}

	w.SetCheckpointer(r.checkpoint)
	handlers := w.StateHandlers()
	transitions := w.StateTransitions()
	errorState := errorStateOf(w)

	for {
		current, ok := findState(w, wf.State)
		if !ok {
			r.fail(ctx, errorState, fmt.Sprintf("unknown phase %s", wf.State))
			return
		}
		if current.IsTerminal() {
			r.finish(ctx, current)
			return
		}

		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Worker stopping, releasing execution", "execution_id", wf.ExternalID, "state", wf.State)
			r.release(context.WithoutCancel(ctx), e.clock.Now())
			return
		}

		requested, cancelReason, err := e.repo.IsCancelRequested(ctx, wf.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Error reading cancellation flag", "execution_id", wf.ExternalID, "error", err)
			r.release(ctx, e.clock.Now().Add(retry.Backoff(0)))
			return
		}
		if requested {
			if cancelReason == "" {
				cancelReason = "cancelled"
			}
			slog.InfoContext(ctx, "Execution cancelled", "execution_id", wf.ExternalID, "state", wf.State, "cancelReason", cancelReason)
			r.logAction(ctx, models.ActionCancelled, wf.State, cancelReason)
			r.fail(ctx, errorState, cancelReason)
			return
		}

		handler, ok := handlers[wf.State]
		if !ok {
			r.fail(ctx, errorState, fmt.Sprintf("no handler for phase %s", wf.State))
			return
		}

		if err := e.locker.Acquire(ctx, wf.ExternalID, owner, retry.Timeout()+leaseMargin); err != nil {
			slog.WarnContext(ctx, "Lost execution lease", "execution_id", wf.ExternalID, "error", err)
			r.release(ctx, e.clock.Now().Add(retry.Backoff(0)))
			return
		}

		attempts := wf.Attempts()
		attempts[wf.State]++
		attemptsJSON, _ := json.Marshal(attempts)
		vars := r.stateVarsJSON()
		if err := r.cas(func(v int64) (bool, error) {
			return e.repo.SaveProgress(ctx, wf.ID, v, vars, string(attemptsJSON))
		}); err != nil {
			slog.ErrorContext(ctx, "Error recording step attempt", "execution_id", wf.ExternalID, "error", err)
			return
		}
		wf.StepAttempts = sql.NullString{String: string(attemptsJSON), Valid: true}
		wf.StateVars = sql.NullString{String: vars, Valid: true}

		ns, err := r.invoke(ctx, handler, retry.Timeout())
		if err != nil {
			r.handleError(ctx, err, attempts[wf.State], retry, errorState)
			return
		}

		if ns.Name != errorState && !slices.Contains(transitions[wf.State], ns.Name) {
			r.logAction(ctx, models.ActionError, wf.State, "transition is not allowed: "+ns.Name)
			r.fail(ctx, errorState, fmt.Sprintf("invalid transition from %s to %s", wf.State, ns.Name))
			return
		}

		from := wf.State
		var reason sql.NullString
		if ns.Reason != "" {
			reason = sql.NullString{String: ns.Reason, Valid: true}
		}
		vars = r.stateVarsJSON()
		if err := r.cas(func(v int64) (bool, error) {
			return e.repo.TransitionState(ctx, wf.ID, v, ns.Name, vars, reason)
		}); err != nil {
			slog.ErrorContext(ctx, "Error transitioning state", "execution_id", wf.ExternalID, "from", from, "to", ns.Name, "error", err)
			return
		}
		wf.State = ns.Name
		wf.StateVars = sql.NullString{String: vars, Valid: true}
		wf.RetryCount = 0
		if reason.Valid {
			wf.Reason = reason
		}
		slog.InfoContext(ctx, "Transitioning state", "execution_id", wf.ExternalID, "from", from, "to", ns.Name, "worker_id", workerID)
		text := "From " + from + " to " + ns.Name
		if ns.ActionLog != "" {
			text += ": " + ns.ActionLog
		}
		r.logAction(ctx, models.ActionTransition, from, text)
	}
}

type stepResult struct {
	next *models.NextState
	err  error
}

// invoke runs one handler on a context detached from worker shutdown and bounded by the step timeout.
func (r *run) invoke(ctx context.Context, fn core.StateFunc, timeout time.Duration) (*models.NextState, error) {
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan stepResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- stepResult{err: fmt.Errorf("panic in phase handler: %v", p)}
			}
		}()
		ns, err := fn(stepCtx)
		done <- stepResult{next: ns, err: err}
	}()

	var res stepResult
	select {
	case res = <-done:
	case <-stepCtx.Done():
		select {
		case res = <-done:
		default:
			r.abandon()
			return nil, fmt.Errorf("phase %s exceeded step timeout %s: %w", r.wf.State, timeout, context.DeadlineExceeded)
		}
	}
	if res.err == nil && res.next == nil {
		return nil, errors.New("phase handler returned no next state")
	}
	return res.next, res.err
}

func (r *run) handleError(ctx context.Context, callErr error, attempts int, retry models.RetryConfig, errorState string) {
	wf := r.wf
	slog.ErrorContext(ctx, "Error executing phase", "execution_id", wf.ExternalID, "state", wf.State, "attempt", attempts, "error", callErr)
	r.logAction(ctx, models.ActionError, wf.State, callErr.Error())

	if retry.Exhausted(attempts) {
		reason := fmt.Sprintf("phase %s failed after %d attempts: %v", wf.State, attempts, callErr)
		r.logAction(ctx, models.ActionFailed, wf.State, "Max retry count reached")
		r.fail(ctx, errorState, reason)
		return
	}

	next := r.e.clock.Now().Add(retry.Backoff(attempts - 1))
	if err := r.cas(func(v int64) (bool, error) { return r.e.repo.ScheduleRetry(ctx, wf.ID, v, next) }); err != nil {
		slog.ErrorContext(ctx, "Error scheduling retry", "execution_id", wf.ExternalID, "error", err)
		return
	}
	wf.RetryCount++
	r.logAction(ctx, models.ActionRetry, wf.State, fmt.Sprintf("Retry at %s", next.UTC().Format(time.RFC3339)))
}

// fail ends the execution in the error phase with reason.
func (r *run) fail(ctx context.Context, errorState string, reason string) {
	wf := r.wf
	if err := r.cas(func(v int64) (bool, error) {
		return r.e.repo.MarkTerminal(ctx, wf.ID, v, errorState, models.StatusFailed, reason)
	}); err != nil {
		slog.ErrorContext(ctx, "Error marking execution failed", "execution_id", wf.ExternalID, "error", err)
		return
	}
	from := wf.State
	wf.State = errorState
	wf.Status = models.StatusFailed
	wf.Reason = sql.NullString{String: reason, Valid: true}
	slog.WarnContext(ctx, "Execution failed", "execution_id", wf.ExternalID, "from", from, "reason", reason)
	r.logAction(ctx, models.ActionFailed, from, reason)
}

// finish records the terminal status of an execution that reached an end phase.
func (r *run) finish(ctx context.Context, state models.WorkflowState) {
	wf := r.wf
	status := models.StatusFinished
	if state.StateType == models.StateError {
		status = models.StatusFailed
	}
	reason := wf.Reason.String
	if err := r.cas(func(v int64) (bool, error) {
		return r.e.repo.MarkTerminal(ctx, wf.ID, v, state.Name, status, reason)
	}); err != nil {
		slog.ErrorContext(ctx, "Error updating workflow status", "execution_id", wf.ExternalID, "error", err)
		return
	}
	wf.Status = status
	slog.InfoContext(ctx, "Workflow completed", "execution_id", wf.ExternalID, "state", state.Name, "reason", reason, "worker_id", r.workerID)
	r.logAction(ctx, models.ActionEnd, state.Name, "workflow complete")
}

// release hands the execution back for another run at next.
func (r *run) release(ctx context.Context, next time.Time) {
	wf := r.wf
	if err := r.cas(func(v int64) (bool, error) { return r.e.repo.Release(ctx, wf.ID, v, next) }); err != nil {
		slog.ErrorContext(ctx, "Error releasing execution", "execution_id", wf.ExternalID, "error", err)
		return
	}
	wf.Status = models.StatusInProgress
}
