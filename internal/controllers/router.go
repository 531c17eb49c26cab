package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *ExecutionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/executions", c.RequireAuth(c.handleStartExecution))
	mux.HandleFunc("GET /api/executions", c.RequireAuth(c.handleListExecutions))
	mux.HandleFunc("GET /api/definitions", c.RequireAuth(c.handleGetDefinitions))
	mux.HandleFunc("GET /api/executions/{executionId}", c.RequireAuth(c.handleGetExecution))
	mux.HandleFunc("POST /api/executions/{executionId}/cancel", c.RequireAuth(c.handleCancelExecution))
	mux.HandleFunc("GET /api/executions/{executionId}/actions", c.RequireAuth(c.handleGetActions))
}

func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/executors", c.RequireAuth(c.handleGetExecutors))
}

// RegisterHealth adds the unauthenticated liveness check.
func RegisterHealth(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
