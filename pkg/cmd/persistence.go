package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ogabrielsv/creatye/pkg/persistence"
	"github.com/ogabrielsv/creatye/pkg/persistence/memory"
	"github.com/ogabrielsv/creatye/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"memory", "postgres", "postgresql"}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return p
	case "memory":
		logger.WarnContext(ctx, "Using in-memory persistence, state is lost on exit")

		return memory.NewPersistence()
	default:
		panic("Unsupported persistence provider: " + provider)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return provider
}
