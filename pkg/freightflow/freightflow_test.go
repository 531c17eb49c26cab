package freightflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/RealZimboGuy/freightflow/internal/workflows"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryConfigFromSettings(t *testing.T) {
	t.Setenv(config.MAX_RETRY_COUNT, "7")
	t.Setenv(config.STEP_TIMEOUT, "3s")

	rc := RetryConfigFromSettings()

	assert.Equal(t, 7, rc.MaxRetryCount)
	assert.Equal(t, 3*time.Second, rc.StepTimeout)
	assert.Equal(t, 2*time.Second, rc.RetryIntervalMin)
	assert.Equal(t, 5*time.Minute, rc.RetryIntervalMax)
}

func TestCollaboratorTimeoutEndsBeforeStep(t *testing.T) {
	assert.Equal(t, 9*time.Second, (&models.RetryConfig{}).CollaboratorTimeout())
	assert.Equal(t, 40*time.Millisecond, (&models.RetryConfig{StepTimeout: 50 * time.Millisecond}).CollaboratorTimeout())
}

func TestNewWorkflowRegistry(t *testing.T) {
	registry := NewWorkflowRegistry(core.NewRealClock(), NewCollaborators(config.Collaborators{}), RetryConfigFromSettings())

	factory, ok := registry[workflows.WorkflowType]
	require.True(t, ok)
	assert.Equal(t, workflows.PhaseStarted, factory().InitialState())
}

func TestClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/executions":
			var req models.StartExecutionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			status := http.StatusOK
			res := models.StartExecutionResponse{ID: 1, ExecutionID: req.ExecutionID, Phase: "STARTED", Status: "NEW"}
			if req.Request.Origin == "" {
				status = http.StatusUnprocessableEntity
				res = models.StartExecutionResponse{ID: 2, ExecutionID: req.ExecutionID, Phase: "FAILED", Status: "FAILED", Reason: "origin missing"}
			}
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(res)
		case r.URL.Path == "/api/executions/route-1":
			_ = json.NewEncoder(w).Encode(models.ExecutionApiResponse{ExecutionID: "route-1", Phase: "NOTIFIED"})
		case r.URL.Path == "/api/executions/route-1/cancel":
			http.Error(w, "execution already finished", http.StatusConflict)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	c := NewClient(server.URL+"/", "k")
	ctx := context.Background()

	res, err := c.StartExecution(ctx, models.StartExecutionRequest{ExecutionID: "route-1", Request: models.WorkflowRequest{Origin: "Dublin"}})
	require.NoError(t, err)
	assert.Equal(t, "STARTED", res.Phase)

	res, err = c.StartExecution(ctx, models.StartExecutionRequest{ExecutionID: "bad"})
	assert.ErrorIs(t, err, models.ErrValidation)
	require.NotNil(t, res)
	assert.Equal(t, "FAILED", res.Phase)

	got, err := c.GetExecution(ctx, "route-1")
	require.NoError(t, err)
	assert.Equal(t, "NOTIFIED", got.Phase)

	_, err = c.GetExecution(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, c.CancelExecution(ctx, "route-1", "x"), ErrConflict)
}
