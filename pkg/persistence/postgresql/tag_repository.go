package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// TagRepository stores tag membership of recipients per owner.
type TagRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTagRepository creates a new tag repository.
func NewTagRepository(db *sql.DB, logger *slog.Logger) *TagRepository {
	return &TagRepository{db: db, logger: logger.With("component", "tag_repository")}
}

func (r *TagRepository) AddTag(ctx context.Context, ownerID, recipientID, tag string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recipient_tags (owner_id, recipient_id, tag) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, ownerID, recipientID, tag)
	if err != nil {
		return fmt.Errorf("failed to add tag: %w", err)
	}

	return nil
}

func (r *TagRepository) RemoveTag(ctx context.Context, ownerID, recipientID, tag string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM recipient_tags WHERE owner_id = $1 AND recipient_id = $2 AND tag = $3`,
		ownerID, recipientID, tag)
	if err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}

	return nil
}

func (r *TagRepository) HasTag(ctx context.Context, ownerID, recipientID, tag string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM recipient_tags WHERE owner_id = $1 AND recipient_id = $2 AND tag = $3)`,
		ownerID, recipientID, tag).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tag: %w", err)
	}

	return exists, nil
}

func (r *TagRepository) Tags(ctx context.Context, ownerID, recipientID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tag FROM recipient_tags WHERE owner_id = $1 AND recipient_id = $2 ORDER BY tag`,
		ownerID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	tags := []string{}

	for rows.Next() {
		var tag string

		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}

		tags = append(tags, tag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}

	return tags, nil
}
