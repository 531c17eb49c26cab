package engine

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
)

// Worker function that processes workflows from the queue until ctx is cancelled
func Worker(ctx context.Context, id int, executor *WorkflowExecutor, workflowQueue <-chan core.Workflow) {
	workerID := strconv.Itoa(id)
	ctx = context.WithValue(ctx, core.CtxKeyWorkerId, workerID)
	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "Worker stopping", "worker_id", id)
			return
		case wf := <-workflowQueue:
			slog.DebugContext(ctx, "Worker starting workflow", "worker_id", id, "execution_id", wf.GetWorkflowData().ExternalID)
			executor.RunWorkflow(ctx, wf, workerID)
			slog.DebugContext(ctx, "Worker finished workflow", "worker_id", id)
		}
	}
}
