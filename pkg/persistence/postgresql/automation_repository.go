package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// AutomationRepository handles automation-related database operations.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger.With("component", "automation_repository")}
}

const automationColumns = `id, owner_id, name, status, is_active, triggers, channels, nodes, edges,
	published_version_id, created_at, updated_at, deleted_at`

// SaveAutomation inserts or updates an automation with its draft graph.
func (r *AutomationRepository) SaveAutomation(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	if automation.UpdatedAt.IsZero() {
		automation.UpdatedAt = now
	}

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	}

	triggersJSON, err := json.Marshal(nonNil(automation.Triggers))
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}

	channelsJSON, err := json.Marshal(nonNil(automation.Channels))
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	nodesJSON, err := json.Marshal(nonNil(automation.Nodes))
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(nonNil(automation.Edges))
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	query := `
		INSERT INTO automations (` + automationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			is_active = EXCLUDED.is_active,
			triggers = EXCLUDED.triggers,
			channels = EXCLUDED.channels,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			published_version_id = EXCLUDED.published_version_id,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		automation.ID,
		automation.OwnerID,
		automation.Name,
		automation.Status,
		automation.IsActive,
		triggersJSON,
		channelsJSON,
		nodesJSON,
		edgesJSON,
		nullString(automation.PublishedVersionID),
		automation.CreatedAt,
		automation.UpdatedAt,
		automation.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save automation: %w", err)
	}

	return nil
}

// AutomationByID returns a live automation by its ID.
func (r *AutomationRepository) AutomationByID(ctx context.Context, id string) (*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = $1 AND deleted_at IS NULL`

	automation, err := scanAutomation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("AutomationByID", "automation", id, persistence.ErrAutomationNotFound)
		}

		return nil, fmt.Errorf("failed to scan automation: %w", err)
	}

	return automation, nil
}

// AutomationsByOwner returns the owner's live automations, oldest first.
func (r *AutomationRepository) AutomationsByOwner(ctx context.Context, ownerID string) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	automations := []*models.Automation{}

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate automations: %w", err)
	}

	return automations, nil
}

// DeleteAutomation soft deletes an automation and deactivates it.
func (r *AutomationRepository) DeleteAutomation(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE automations SET deleted_at = $2, updated_at = $2, is_active = false
		WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete automation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("DeleteAutomation", "automation", id, persistence.ErrAutomationNotFound)
	}

	return nil
}

func scanAutomation(row scanner) (*models.Automation, error) {
	var (
		automation                               models.Automation
		triggersJSON, channelsJSON, nodes, edges []byte
		publishedVersionID                       sql.NullString
		deletedAt                                sql.NullTime
	)

	err := row.Scan(
		&automation.ID,
		&automation.OwnerID,
		&automation.Name,
		&automation.Status,
		&automation.IsActive,
		&triggersJSON,
		&channelsJSON,
		&nodes,
		&edges,
		&publishedVersionID,
		&automation.CreatedAt,
		&automation.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	for target, raw := range map[any][]byte{
		&automation.Triggers: triggersJSON,
		&automation.Channels: channelsJSON,
		&automation.Nodes:    nodes,
		&automation.Edges:    edges,
	} {
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal automation %s: %w", automation.ID, err)
		}
	}

	automation.PublishedVersionID = publishedVersionID.String
	automation.DeletedAt = timePtr(deletedAt)

	return &automation, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
