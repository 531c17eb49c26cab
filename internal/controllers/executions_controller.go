package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/RealZimboGuy/freightflow/internal/engine"
	"github.com/RealZimboGuy/freightflow/internal/freight/traffic"
	"github.com/RealZimboGuy/freightflow/internal/workflows"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
)

// ExecutionManager is the part of engine.WorkflowManager the HTTP API uses.
type ExecutionManager interface {
	StartExecution(ctx context.Context, workflowType string, req models.StartExecutionRequest) (*domain.Workflow, error)
	GetExecution(ctx context.Context, executionID string) (*domain.Workflow, error)
	CancelExecution(ctx context.Context, executionID string, reason string) error
	ListActions(ctx context.Context, executionID string) ([]domain.WorkflowAction, error)
	ListExecutions(ctx context.Context, limit int) ([]domain.Workflow, error)
	ListWorkflowDefinitions(ctx context.Context) ([]domain.WorkflowDefinition, error)
}

// ExecutionsController holds dependencies for execution HTTP endpoints.
type ExecutionsController struct {
	*AuthController
	Manager ExecutionManager
}

func NewExecutionsController(manager ExecutionManager, auth *AuthController) *ExecutionsController {
	return &ExecutionsController{Manager: manager, AuthController: auth}
}

func (c *ExecutionsController) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req models.StartExecutionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	wf, err := c.Manager.StartExecution(r.Context(), workflows.WorkflowType, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, startResponse(wf))
	case errors.Is(err, models.ErrValidation) && wf != nil:
		writeJSON(w, http.StatusUnprocessableEntity, startResponse(wf))
	default:
		slog.ErrorContext(r.Context(), "Failed to start execution", "execution_id", req.ExecutionID, "error", err)
		http.Error(w, "failed to start execution", http.StatusInternalServerError)
	}
}

func startResponse(wf *domain.Workflow) models.StartExecutionResponse {
	return models.StartExecutionResponse{
		ID:          wf.ID,
		ExecutionID: wf.ExternalID,
		Phase:       wf.State,
		Status:      wf.Status,
		Reason:      wf.Reason.String,
	}
}

func (c *ExecutionsController) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	wf, ok := c.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mapExecutionToApi(wf))
}

// handleListExecutions returns the newest executions; ?limit= caps the count.
func (c *ExecutionsController) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	results, err := c.Manager.ListExecutions(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list executions", "error", err)
		http.Error(w, "failed to list executions", http.StatusInternalServerError)
		return
	}
	res := make([]models.ExecutionApiResponse, 0, len(results))
	for i := range results {
		res = append(res, mapExecutionToApi(&results[i]))
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *ExecutionsController) handleGetDefinitions(w http.ResponseWriter, r *http.Request) {
	results, err := c.Manager.ListWorkflowDefinitions(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list workflow definitions", "error", err)
		http.Error(w, "failed to list workflow definitions", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []domain.WorkflowDefinition{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (c *ExecutionsController) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("executionId")
	var req models.CancelExecutionRequest
	// the body is optional
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	err := c.Manager.CancelExecution(r.Context(), executionID, req.Reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, models.CancelExecutionResponse{OK: true})
	case errors.Is(err, engine.ErrExecutionNotFound):
		http.Error(w, "execution not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrExecutionTerminal):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		slog.ErrorContext(r.Context(), "Failed to cancel execution", "execution_id", executionID, "error", err)
		http.Error(w, "failed to cancel execution", http.StatusInternalServerError)
	}
}

func (c *ExecutionsController) handleGetActions(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("executionId")
	results, err := c.Manager.ListActions(r.Context(), executionID)
	if errors.Is(err, engine.ErrExecutionNotFound) {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list actions", "execution_id", executionID, "error", err)
		http.Error(w, "failed to list actions", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []domain.WorkflowAction{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (c *ExecutionsController) lookup(w http.ResponseWriter, r *http.Request) (*domain.Workflow, bool) {
	executionID := r.PathValue("executionId")
	wf, err := c.Manager.GetExecution(r.Context(), executionID)
	if errors.Is(err, engine.ErrExecutionNotFound) {
		http.Error(w, "execution not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load execution", "execution_id", executionID, "error", err)
		http.Error(w, "failed to load execution", http.StatusInternalServerError)
		return nil, false
	}
	return wf, true
}

func mapExecutionToApi(wf *domain.Workflow) models.ExecutionApiResponse {
	vars := wf.Vars()
	res := models.ExecutionApiResponse{
		ID:              wf.ID,
		ExecutionID:     wf.ExternalID,
		WorkflowType:    wf.WorkflowType,
		Status:          wf.Status,
		Phase:           wf.State,
		Reason:          wf.Reason.String,
		CancelRequested: wf.CancelRequested,
		RetryCount:      wf.RetryCount,
		StepAttempts:    wf.Attempts(),
		Created:         wf.Created,
		Modified:        wf.Modified,
		ExecutorGroup:   wf.ExecutorGroup,
		BusinessKey:     wf.BusinessKey,
		StateVars:       vars,
	}
	if wf.Started.Valid {
		res.Started = wf.Started.Time
	}
	if wf.NextActivation.Valid {
		res.NextActivation = wf.NextActivation.Time
	}
	if wf.ExecutorID.Valid {
		res.ExecutorID = wf.ExecutorID.Int64
	}
	delay, msg := workflows.ReadOutcome(vars)
	if delay != nil {
		minutes := delay.Minutes
		res.DelayMinutes = &minutes
		res.Delay = traffic.FormatMinutes(minutes)
	}
	if msg != nil {
		res.Subject = msg.Subject
		res.Message = msg.Text
	}
	return res
}
