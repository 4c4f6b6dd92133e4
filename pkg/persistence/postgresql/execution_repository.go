package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger.With("component", "execution_repository")}
}

const executionColumns = `id, automation_id, version_id, owner_id, recipient_id, current_node_id,
	status, context, error, triggered_at, created_at, updated_at, finished_at`

// CreateExecution inserts the execution and its first job in one transaction.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution, first *models.Job) error {
	return inTransaction(ctx, r.db, func(tx *sql.Tx) error {
		err := saveExecution(ctx, tx, execution)
		if err != nil {
			return err
		}

		if first == nil {
			return nil
		}

		return insertJob(ctx, tx, first)
	})
}

// ExecutionByID returns an execution by its ID.
func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ExecutionByID", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// Executions returns the latest executions of an automation, newest first.
func (r *ExecutionRepository) Executions(ctx context.Context, automationID string, limit int) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE automation_id = $1
		ORDER BY created_at DESC LIMIT $2`, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := []*models.Execution{}

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

// LatestExecution returns the newest execution of an automation for a recipient.
func (r *ExecutionRepository) LatestExecution(ctx context.Context, automationID, recipientID string) (*models.Execution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		WHERE automation_id = $1 AND recipient_id = $2
		ORDER BY triggered_at DESC LIMIT 1`, automationID, recipientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("LatestExecution", "execution", "", persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// UpdateExecution saves the mutable state of an existing execution.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE executions
		SET current_node_id = $2, status = $3, error = $4, updated_at = $5, finished_at = $6
		WHERE id = $1`,
		execution.ID,
		execution.CurrentNodeID,
		execution.Status,
		execution.Error,
		execution.UpdatedAt,
		execution.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("UpdateExecution", "execution", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

func saveExecution(ctx context.Context, q execer, execution *models.Execution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	if execution.Context == nil {
		contextJSON = []byte("{}")
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			current_node_id = EXCLUDED.current_node_id,
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = q.ExecContext(ctx, query,
		execution.ID,
		execution.AutomationID,
		execution.VersionID,
		execution.OwnerID,
		execution.RecipientID,
		execution.CurrentNodeID,
		execution.Status,
		contextJSON,
		execution.Error,
		execution.TriggeredAt,
		execution.CreatedAt,
		execution.UpdatedAt,
		execution.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		contextJSON []byte
		finishedAt  sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.AutomationID,
		&execution.VersionID,
		&execution.OwnerID,
		&execution.RecipientID,
		&execution.CurrentNodeID,
		&execution.Status,
		&contextJSON,
		&execution.Error,
		&execution.TriggeredAt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context of execution %s: %w", execution.ID, err)
	}

	execution.FinishedAt = timePtr(finishedAt)

	return &execution, nil
}
