package controllers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
)

type ExecutorLister interface {
	ListExecutors(ctx context.Context, limit int) ([]*domain.Executor, error)
}

type ExecutorsController struct {
	*AuthController
	Executors ExecutorLister
}

func NewExecutorsController(executors ExecutorLister, auth *AuthController) *ExecutorsController {
	return &ExecutorsController{Executors: executors, AuthController: auth}
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	slog.DebugContext(r.Context(), "GetExecutors called")

	results, err := c.Executors.ListExecutors(r.Context(), 20)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list executors", "error", err)
		http.Error(w, "failed to list executors", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []*domain.Executor{}
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
