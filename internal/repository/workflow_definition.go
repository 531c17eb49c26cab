package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/domain"
)

type WorkflowDefinitionRepository struct {
	db *sql.DB
}

func NewWorkflowDefinitionRepository(db *sql.DB) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{db: db}
}

// Save inserts a new workflow definition or updates an existing one by name.
func (r *WorkflowDefinitionRepository) Save(ctx context.Context, def *domain.WorkflowDefinition) error {
	var query string
	switch db := config.GetSystemSettingString(config.DATABASE_TYPE); db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_SQLLITE:
		query = `
		INSERT INTO workflow_definitions (name, description, created, updated, flow_chart)
		VALUES (` + placeholders(1, 5) + `)
		ON CONFLICT (name)
		DO UPDATE SET description = EXCLUDED.description,
			updated = EXCLUDED.updated,
			flow_chart = EXCLUDED.flow_chart
	`
	case config.DATABASE_TYPE_MYSQL:
		query = `
		INSERT INTO workflow_definitions (name, description, created, updated, flow_chart)
		VALUES (` + placeholders(1, 5) + `)
		ON DUPLICATE KEY UPDATE description = VALUES(description),
			updated = VALUES(updated),
			flow_chart = VALUES(flow_chart)
	`
	default:
		return fmt.Errorf("unknown database type %q saving workflow definition", db)
	}

	_, err := r.db.ExecContext(ctx, query, def.Name, def.Description,
		formatDateInDatabase(def.Created), formatDateInDatabase(def.Updated), def.FlowChart)
	return err
}

// FindByName fetches a workflow definition by its unique name.
func (r *WorkflowDefinitionRepository) FindByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT name, description, created, updated, flow_chart
		FROM workflow_definitions WHERE name = ` + placeholder(1)
	var def domain.WorkflowDefinition
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&def.Name,
		&def.Description,
		&def.Created,
		&def.Updated,
		&def.FlowChart,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// FindAll returns all workflow definitions.
func (r *WorkflowDefinitionRepository) FindAll(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	query := `
		SELECT name, description, created, updated, flow_chart
		FROM workflow_definitions
		ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]domain.WorkflowDefinition, 0)
	for rows.Next() {
		var d domain.WorkflowDefinition
		if err := rows.Scan(&d.Name, &d.Description, &d.Created, &d.Updated, &d.FlowChart); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}
