package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// InboundEventRepository is the durable queue of raw webhook deliveries.
type InboundEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInboundEventRepository creates a new inbound event repository.
func NewInboundEventRepository(db *sql.DB, logger *slog.Logger) *InboundEventRepository {
	return &InboundEventRepository{db: db, logger: logger.With("component", "inbound_event_repository")}
}

// AppendInboundEvent stores the payload verbatim. A single insert, safe for concurrent callers.
func (r *InboundEventRepository) AppendInboundEvent(ctx context.Context, payload []byte, receivedAt time.Time) (int64, error) {
	var id int64

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO inbound_events (payload, received_at) VALUES ($1, $2) RETURNING id`,
		payload, receivedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append inbound event: %w", err)
	}

	return id, nil
}

// UnprocessedInboundEvents returns the oldest pending entries.
func (r *InboundEventRepository) UnprocessedInboundEvents(ctx context.Context, limit int) ([]*models.InboundEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, payload, received_at FROM inbound_events
		WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbound events: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	events := []*models.InboundEvent{}

	for rows.Next() {
		var event models.InboundEvent

		err := rows.Scan(&event.ID, &event.Payload, &event.ReceivedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inbound event: %w", err)
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inbound events: %w", err)
	}

	return events, nil
}

// MarkInboundEventProcessed records the processing outcome of an entry.
func (r *InboundEventRepository) MarkInboundEventProcessed(ctx context.Context, id int64, at time.Time, processingErr string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE inbound_events SET processed_at = $2, error = $3 WHERE id = $1`, id, at, processingErr)
	if err != nil {
		return fmt.Errorf("failed to mark inbound event processed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("MarkInboundEventProcessed", "inbound event", fmt.Sprint(id), persistence.ErrInboundEventNotFound)
	}

	return nil
}
