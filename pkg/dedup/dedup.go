// Package dedup suppresses duplicate execution creation for replayed or repeated inbound events.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// DefaultWindow is the cooldown during which a second event from the same sender
// does not start the same automation again.
const DefaultWindow = 60 * time.Second

// Guard decides whether a new execution may be created for an (automation, sender) pair.
// Times are when the triggering message was received, so a backlog drained late is judged
// by the spacing of its messages.
type Guard interface {
	Allow(ctx context.Context, automationID, senderID string, receivedAt time.Time) (bool, error)
	// Release forgets a claim made by Allow when no execution was created for it.
	Release(ctx context.Context, automationID, senderID string, receivedAt time.Time) error
}

// HistoryGuard derives dedup records from the execution history.
type HistoryGuard struct {
	executions persistence.ExecutionRepository
	window     time.Duration
	logger     *slog.Logger
}

func NewHistoryGuard(executions persistence.ExecutionRepository, window time.Duration, logger *slog.Logger) *HistoryGuard {
	return &HistoryGuard{
		executions: executions,
		window:     window,
		logger:     logger.With("module", "dedup", "guard", "history"),
	}
}

// Allow reports false when the latest execution for the pair was triggered less than a
// window before or after receivedAt.
func (g *HistoryGuard) Allow(ctx context.Context, automationID, senderID string, receivedAt time.Time) (bool, error) {
	latest, err := g.executions.LatestExecution(ctx, automationID, senderID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return true, nil
		}

		return false, fmt.Errorf("failed to load latest execution: %w", err)
	}

	if within(receivedAt, latest.TriggeredAt, g.window) {
		g.logger.DebugContext(ctx, "suppressing duplicate execution",
			"automation_id", automationID,
			"sender_id", senderID,
			"last_execution_id", latest.ID)

		return false, nil
	}

	return true, nil
}

// Release is a no-op: the history only holds executions that were created.
func (g *HistoryGuard) Release(context.Context, string, string, time.Time) error {
	return nil
}

func within(a, b time.Time, window time.Duration) bool {
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}

	return gap < window
}
