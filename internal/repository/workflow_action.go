package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
)

// WorkflowActionRepository provides methods to persist and query workflow action records.
type WorkflowActionRepository struct {
	db *sql.DB
}

func NewWorkflowActionRepository(db *sql.DB) *WorkflowActionRepository {
	return &WorkflowActionRepository{db: db}
}

// Save appends an action to the log and returns its ID.
func (r *WorkflowActionRepository) Save(ctx context.Context, a *domain.WorkflowAction) (int64, error) {
	base := `
		INSERT INTO workflow_actions (
			workflow_id, executor_id, execution_count, retry_count, type, name, text, date_time
		) VALUES (` + placeholders(1, 8) + `)`
	id, err := insertReturningID(ctx, r.db, base,
		a.WorkflowID,
		a.ExecutorID,
		a.ExecutionCount,
		a.RetryCount,
		a.Type,
		a.Name,
		a.Text,
		formatDateInDatabase(a.DateTime),
	)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to save workflow action", "error", err, "workflow_id", a.WorkflowID, "type", a.Type)
		return 0, err
	}
	a.ID = id
	return id, nil
}

// FindAllByWorkflowID returns the action log of an execution in insertion order.
func (r *WorkflowActionRepository) FindAllByWorkflowID(ctx context.Context, workflowID int64) ([]domain.WorkflowAction, error) {
	query := `
		SELECT id, workflow_id, executor_id, execution_count, retry_count, type, name, text, date_time
		FROM workflow_actions
		WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.WorkflowAction
	for rows.Next() {
		var a domain.WorkflowAction
		if err := rows.Scan(
			&a.ID,
			&a.WorkflowID,
			&a.ExecutorID,
			&a.ExecutionCount,
			&a.RetryCount,
			&a.Type,
			&a.Name,
			&a.Text,
			&a.DateTime,
		); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// CountByType counts actions of one type for an execution.
func (r *WorkflowActionRepository) CountByType(ctx context.Context, workflowID int64, actionType string) (int, error) {
	query := `SELECT COUNT(*) FROM workflow_actions WHERE workflow_id = ` + placeholder(1) + ` AND type = ` + placeholder(2)
	var n int
	err := r.db.QueryRowContext(ctx, query, workflowID, actionType).Scan(&n)
	return n, err
}
