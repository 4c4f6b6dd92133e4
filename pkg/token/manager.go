// Package token keeps delivery credentials fresh and flags them when the provider revokes them.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// RefreshThreshold is how close to expiry a token must be before it is exchanged.
const RefreshThreshold = 48 * time.Hour

var ErrReconnectRequired = errors.New("credential requires reconnection")

// Refreshed is a new long-lived token returned by the provider.
type Refreshed struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Refresher exchanges a still-valid token for a new one.
type Refresher interface {
	Refresh(ctx context.Context, accessToken string) (*Refreshed, error)
}

type Manager struct {
	credentials persistence.CredentialRepository
	refresher   Refresher
	threshold   time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Manager)

// WithClock overrides the time source used to evaluate expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithThreshold(threshold time.Duration) Option {
	return func(m *Manager) {
		m.threshold = threshold
	}
}

func NewManager(credentials persistence.CredentialRepository, refresher Refresher, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		credentials: credentials,
		refresher:   refresher,
		threshold:   RefreshThreshold,
		now:         time.Now,
		logger:      logger.With("module", "token_manager"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Ensure returns a credential usable for delivery on behalf of the owner, refreshing
// the token first when it is about to expire. A failed refresh falls back to the
// current token; a lost compare-and-swap returns the winner's row.
func (m *Manager) Ensure(ctx context.Context, ownerID string) (*models.Credential, error) {
	credential, err := m.credentials.CredentialByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	if credential.NeedsReconnect {
		return nil, fmt.Errorf("owner %s: %w", ownerID, ErrReconnectRequired)
	}

	now := m.now()
	if !credential.ExpiresWithin(now, m.threshold) {
		return credential, nil
	}

	logger := m.logger.With("credential_id", credential.ID, "owner_id", ownerID)

	refreshed, err := m.refresher.Refresh(ctx, credential.AccessToken)
	if err != nil {
		logger.WarnContext(ctx, "token refresh failed, using current token",
			"error", err,
			"expires_at", credential.ExpiresAt)

		return credential, nil
	}

	expiresAt := now.Add(refreshed.ExpiresIn)

	swapped, err := m.credentials.SwapCredentialToken(ctx, credential.ID, credential.AccessToken, refreshed.AccessToken, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	if !swapped {
		logger.InfoContext(ctx, "token refreshed concurrently, reloading credential")

		winner, err := m.credentials.CredentialByOwner(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload credential: %w", err)
		}

		return winner, nil
	}

	logger.InfoContext(ctx, "token refreshed", "expires_at", expiresAt)

	credential.AccessToken = refreshed.AccessToken
	credential.ExpiresAt = expiresAt

	return credential, nil
}

// Invalidate marks the credential as requiring a new authorization by a human.
func (m *Manager) Invalidate(ctx context.Context, credential *models.Credential, reason string) error {
	err := m.credentials.MarkCredentialReconnect(ctx, credential.ID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark credential for reconnect: %w", err)
	}

	m.logger.WarnContext(ctx, "credential requires reconnection",
		"credential_id", credential.ID,
		"owner_id", credential.OwnerID,
		"reason", reason)

	credential.NeedsReconnect = true
	credential.ReconnectReason = reason

	return nil
}
