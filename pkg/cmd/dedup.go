package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogabrielsv/creatye/pkg/dedup"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// NewDedupGuard returns a Redis backed guard when redisURL is set and the
// execution-history guard otherwise. The returned func releases the guard's resources.
func NewDedupGuard(
	ctx context.Context,
	logger *slog.Logger,
	redisURL string,
	window time.Duration,
	executions persistence.ExecutionRepository,
) (dedup.Guard, func() error) {
	if redisURL == "" {
		return dedup.NewHistoryGuard(executions, window, logger), func() error { return nil }
	}

	guard, err := dedup.NewRedisGuard(ctx, redisURL, window, logger)
	if err != nil {
		panic(fmt.Errorf("failed to create Redis dedup guard: %w", err))
	}

	return guard, guard.Close
}
