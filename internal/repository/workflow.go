package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/core"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
)

// ErrVersionConflict is returned when a guarded update lost the race for an execution.
var ErrVersionConflict = errors.New("execution record was modified concurrently")

type WorkflowRepository struct {
	db    *sql.DB
	clock core.Clock
}

const ALL_COLUMNS = ` id, status, execution_count, retry_count, version, created, modified,
		       next_activation, started, executor_id, executor_group,
		       workflow_type, external_id, business_key, state, state_vars,
		       step_attempts, reason, cancel_requested `

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(s rowScanner) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := s.Scan(
		&wf.ID,
		&wf.Status,
		&wf.ExecutionCount,
		&wf.RetryCount,
		&wf.Version,
		&wf.Created,
		&wf.Modified,
		&wf.NextActivation,
		&wf.Started,
		&wf.ExecutorID,
		&wf.ExecutorGroup,
		&wf.WorkflowType,
		&wf.ExternalID,
		&wf.BusinessKey,
		&wf.State,
		&wf.StateVars,
		&wf.StepAttempts,
		&wf.Reason,
		&wf.CancelRequested,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func NewWorkflowRepository(db *sql.DB, clock core.Clock) *WorkflowRepository {
	return &WorkflowRepository{db: db, clock: clock}
}

func (r *WorkflowRepository) now() string {
	return formatDateInDatabase(r.clock.Now())
}

func (r *WorkflowRepository) Save(ctx context.Context, wf *domain.Workflow) (int64, error) {
	vals := []interface{}{wf.Status, wf.ExecutionCount, wf.RetryCount, wf.Version,
		formatDateInDatabase(wf.Created), formatDateInDatabase(wf.Modified),
		formatDateInDatabaseNull(wf.NextActivation), formatDateInDatabaseNull(wf.Started),
		wf.ExecutorID, wf.ExecutorGroup, wf.WorkflowType, wf.ExternalID, wf.BusinessKey, wf.State,
		wf.StateVars, wf.StepAttempts, wf.Reason, wf.CancelRequested}
	base := `INSERT INTO workflow (
		status, execution_count, retry_count, version, created, modified,
		next_activation, started, executor_id, executor_group,
		workflow_type, external_id, business_key, state, state_vars,
		step_attempts, reason, cancel_requested
	) VALUES (` + placeholders(1, len(vals)) + `)`
	id, err := insertReturningID(ctx, r.db, base, vals...)
	if err != nil {
		return 0, err
	}
	wf.ID = id
	return id, nil
}

func (r *WorkflowRepository) FindByID(ctx context.Context, id int64) (*domain.Workflow, error) {
	query := `SELECT ` + ALL_COLUMNS + ` FROM workflow WHERE id = ` + placeholder(1)
	return scanWorkflow(r.db.QueryRowContext(ctx, query, id))
}

// FindByExternalId looks an execution up by its caller-facing execution id. Unknown ids return sql.ErrNoRows.
func (r *WorkflowRepository) FindByExternalId(ctx context.Context, externalID string) (*domain.Workflow, error) {
	query := `SELECT ` + ALL_COLUMNS + ` FROM workflow WHERE external_id = ` + placeholder(1)
	return scanWorkflow(r.db.QueryRowContext(ctx, query, externalID))
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...interface{}) ([]domain.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// FindPendingWorkflows returns unclaimed executions of the group whose activation time has passed.
func (r *WorkflowRepository) FindPendingWorkflows(ctx context.Context, size int, executorGroup string) ([]domain.Workflow, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM workflow
		WHERE ` + dateBeforeOrAt("next_activation", 1) + `
		  AND status IN ('` + models.StatusNew + `', '` + models.StatusInProgress + `')
		  AND executor_id IS NULL
		  AND executor_group = ` + placeholder(2) + `
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(3)
	return r.queryWorkflows(ctx, query, r.now(), executorGroup, size)
}

// FindRecent lists the most recently created executions, newest first.
func (r *WorkflowRepository) FindRecent(ctx context.Context, limit int) ([]domain.Workflow, error) {
	query := `SELECT ` + ALL_COLUMNS + ` FROM workflow ORDER BY id DESC LIMIT ` + placeholder(1)
	return r.queryWorkflows(ctx, query, limit)
}

// MarkWorkflowAsScheduledForExecution claims an execution for the executor. Only one claimant can win
// because the update is guarded by the version read during polling.
func (r *WorkflowRepository) MarkWorkflowAsScheduledForExecution(ctx context.Context, id int64, executorID int64, version int64) (bool, error) {
	query := `
		UPDATE workflow
		SET status = '` + models.StatusScheduled + `', executor_id = ` + placeholder(1) + `,
		    version = version + 1, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND version = ` + placeholder(4) + `
		  AND status IN ('` + models.StatusNew + `', '` + models.StatusInProgress + `') AND executor_id IS NULL
	`
	return execCAS(ctx, r.db, query, executorID, r.now(), id, version)
}

// MarkExecuting moves a claimed execution to EXECUTING and counts the run.
func (r *WorkflowRepository) MarkExecuting(ctx context.Context, id int64, version int64) (bool, error) {
	now := r.now()
	query := `
		UPDATE workflow
		SET status = '` + models.StatusExecuting + `', execution_count = execution_count + 1,
		    started = COALESCE(started, ` + placeholder(1) + `),
		    version = version + 1, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND version = ` + placeholder(4) + `
	`
	return execCAS(ctx, r.db, query, now, now, id, version)
}

// SaveProgress persists state variables and attempt counters without changing the phase.
func (r *WorkflowRepository) SaveProgress(ctx context.Context, id int64, version int64, stateVars string, stepAttempts string) (bool, error) {
	query := `
		UPDATE workflow
		SET state_vars = ` + placeholder(1) + `, step_attempts = ` + placeholder(2) + `,
		    version = version + 1, modified = ` + placeholder(3) + `
		WHERE id = ` + placeholder(4) + ` AND version = ` + placeholder(5) + `
	`
	return execCAS(ctx, r.db, query, stateVars, stepAttempts, r.now(), id, version)
}

// TransitionState advances the phase of a running execution and resets the phase retry counter.
func (r *WorkflowRepository) TransitionState(ctx context.Context, id int64, version int64, state string, stateVars string, reason sql.NullString) (bool, error) {
	query := `
		UPDATE workflow
		SET state = ` + placeholder(1) + `, state_vars = ` + placeholder(2) + `,
		    reason = COALESCE(` + placeholder(3) + `, reason), retry_count = 0,
		    version = version + 1, modified = ` + placeholder(4) + `
		WHERE id = ` + placeholder(5) + ` AND version = ` + placeholder(6) + `
	`
	return execCAS(ctx, r.db, query, state, stateVars, reason, r.now(), id, version)
}

// MarkTerminal writes the final phase, status and reason and releases the executor.
func (r *WorkflowRepository) MarkTerminal(ctx context.Context, id int64, version int64, state string, status string, reason string) (bool, error) {
	query := `
		UPDATE workflow
		SET state = ` + placeholder(1) + `, status = ` + placeholder(2) + `, reason = ` + placeholder(3) + `,
		    executor_id = NULL, next_activation = NULL,
		    version = version + 1, modified = ` + placeholder(4) + `
		WHERE id = ` + placeholder(5) + ` AND version = ` + placeholder(6) + `
	`
	return execCAS(ctx, r.db, query, state, status, reason, r.now(), id, version)
}

// ScheduleRetry releases the execution and activates it again after the backoff.
func (r *WorkflowRepository) ScheduleRetry(ctx context.Context, id int64, version int64, next time.Time) (bool, error) {
	query := `
		UPDATE workflow
		SET status = '` + models.StatusInProgress + `', executor_id = NULL, retry_count = retry_count + 1,
		    next_activation = ` + placeholder(1) + `,
		    version = version + 1, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND version = ` + placeholder(4) + `
	`
	return execCAS(ctx, r.db, query, formatDateInDatabase(next), r.now(), id, version)
}

// Release hands an execution back to the pool without counting a retry, used on shutdown and repair.
func (r *WorkflowRepository) Release(ctx context.Context, id int64, version int64, next time.Time) (bool, error) {
	query := `
		UPDATE workflow
		SET status = '` + models.StatusInProgress + `', executor_id = NULL,
		    next_activation = ` + placeholder(1) + `,
		    version = version + 1, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND version = ` + placeholder(4) + `
	`
	return execCAS(ctx, r.db, query, formatDateInDatabase(next), r.now(), id, version)
}

// RequestCancel flags a non-terminal execution for cancellation at its next phase boundary. An idle
// execution is made due immediately so the flag is observed without waiting for its backoff.
func (r *WorkflowRepository) RequestCancel(ctx context.Context, externalID string, reason string) (bool, error) {
	now := r.now()
	query := `
		UPDATE workflow
		SET cancel_requested = ` + placeholder(1) + `, reason = ` + placeholder(2) + `,
		    next_activation = CASE WHEN executor_id IS NULL THEN ` + placeholder(3) + ` ELSE next_activation END,
		    modified = ` + placeholder(4) + `
		WHERE external_id = ` + placeholder(5) + `
		  AND status NOT IN ('` + models.StatusFinished + `', '` + models.StatusFailed + `')
	`
	return execCAS(ctx, r.db, query, true, reason, now, now, externalID)
}

// IsCancelRequested reads the cancellation flag and reason of an execution.
func (r *WorkflowRepository) IsCancelRequested(ctx context.Context, id int64) (bool, string, error) {
	query := `SELECT cancel_requested, reason FROM workflow WHERE id = ` + placeholder(1)
	var requested bool
	var reason sql.NullString
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&requested, &reason); err != nil {
		return false, "", err
	}
	return requested, reason.String, nil
}

// FindStuckWorkflows returns claimed executions untouched since cutoff whose executor stopped
// sending heartbeats.
func (r *WorkflowRepository) FindStuckWorkflows(ctx context.Context, cutoff time.Time, executorGroup string, limit int) ([]domain.Workflow, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM workflow
		WHERE ` + dateBefore("modified", 1) + `
		  AND status IN ('` + models.StatusScheduled + `', '` + models.StatusExecuting + `')
		  AND executor_group = ` + placeholder(2) + `
		  AND (executor_id IS NULL OR executor_id NOT IN (
		      SELECT id
		      FROM executors
		      WHERE ` + dateAfter("last_active", 3) + `
		  ))
		ORDER BY modified ASC
		LIMIT ` + placeholder(4)
	c := formatDateInDatabase(cutoff)
	return r.queryWorkflows(ctx, query, c, executorGroup, c, limit)
}
