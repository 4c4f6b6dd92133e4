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

// VersionRepository handles published version snapshots.
type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(db *sql.DB, logger *slog.Logger) *VersionRepository {
	return &VersionRepository{db: db, logger: logger.With("component", "version_repository")}
}

const versionColumns = `id, automation_id, version, nodes, edges, is_published, created_at`

// PublishVersion appends the version and moves the automation's published pointer to it.
// The automation row is locked so concurrent publishes get consecutive numbers.
func (r *VersionRepository) PublishVersion(ctx context.Context, version *models.Version) error {
	nodesJSON, err := json.Marshal(nonNil(version.Nodes))
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(nonNil(version.Edges))
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	return inTransaction(ctx, r.db, func(tx *sql.Tx) error {
		var id string

		err := tx.QueryRowContext(ctx,
			`SELECT id FROM automations WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
			version.AutomationID).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return persistence.NewEntityError("PublishVersion", "automation", version.AutomationID, persistence.ErrAutomationNotFound)
			}

			return fmt.Errorf("failed to lock automation: %w", err)
		}

		var latest int

		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM automation_versions WHERE automation_id = $1`,
			version.AutomationID).Scan(&latest)
		if err != nil {
			return fmt.Errorf("failed to query latest version: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE automation_versions SET is_published = false WHERE automation_id = $1 AND is_published`,
			version.AutomationID)
		if err != nil {
			return fmt.Errorf("failed to unpublish previous version: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO automation_versions (`+versionColumns+`) VALUES ($1, $2, $3, $4, $5, true, $6)`,
			version.ID, version.AutomationID, latest+1, nodesJSON, edgesJSON, version.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert version: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE automations SET published_version_id = $2, status = $3, updated_at = $4 WHERE id = $1`,
			version.AutomationID, version.ID, models.AutomationStatusPublished, version.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to update published pointer: %w", err)
		}

		version.Version = latest + 1
		version.IsPublished = true

		return nil
	})
}

// VersionByID returns a version by its ID.
func (r *VersionRepository) VersionByID(ctx context.Context, id string) (*models.Version, error) {
	version, err := scanVersion(r.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM automation_versions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("VersionByID", "version", id, persistence.ErrVersionNotFound)
		}

		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	return version, nil
}

// Versions returns every version of an automation, newest first.
func (r *VersionRepository) Versions(ctx context.Context, automationID string) ([]*models.Version, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM automation_versions WHERE automation_id = $1 ORDER BY version DESC`,
		automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	versions := []*models.Version{}

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}

	return versions, nil
}

func scanVersion(row scanner) (*models.Version, error) {
	var (
		version      models.Version
		nodes, edges []byte
	)

	err := row.Scan(
		&version.ID,
		&version.AutomationID,
		&version.Version,
		&nodes,
		&edges,
		&version.IsPublished,
		&version.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodes, &version.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes of version %s: %w", version.ID, err)
	}

	if err := json.Unmarshal(edges, &version.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges of version %s: %w", version.ID, err)
	}

	return &version, nil
}
