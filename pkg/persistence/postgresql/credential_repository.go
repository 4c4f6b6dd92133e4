package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// CredentialRepository stores delivery credentials.
type CredentialRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *sql.DB, logger *slog.Logger) *CredentialRepository {
	return &CredentialRepository{db: db, logger: logger.With("component", "credential_repository")}
}

const credentialColumns = `id, owner_id, channel_account_id, access_token, expires_at,
	needs_reconnect, reconnect_reason, updated_at`

// SaveCredential inserts or replaces the credential of a channel account.
func (r *CredentialRepository) SaveCredential(ctx context.Context, credential *models.Credential) error {
	if credential.UpdatedAt.IsZero() {
		credential.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			channel_account_id = EXCLUDED.channel_account_id,
			access_token = EXCLUDED.access_token,
			expires_at = EXCLUDED.expires_at,
			needs_reconnect = EXCLUDED.needs_reconnect,
			reconnect_reason = EXCLUDED.reconnect_reason,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		credential.ID,
		credential.OwnerID,
		credential.ChannelAccountID,
		credential.AccessToken,
		credential.ExpiresAt,
		credential.NeedsReconnect,
		credential.ReconnectReason,
		credential.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

// CredentialByOwner returns the owner's most recently updated credential.
func (r *CredentialRepository) CredentialByOwner(ctx context.Context, ownerID string) (*models.Credential, error) {
	credential, err := scanCredential(r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE owner_id = $1 ORDER BY updated_at DESC LIMIT 1`,
		ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("CredentialByOwner", "credential", ownerID, persistence.ErrCredentialNotFound)
		}

		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	return credential, nil
}

// CredentialByChannelAccount resolves the credential of the account an event was sent to.
func (r *CredentialRepository) CredentialByChannelAccount(ctx context.Context, channelAccountID string) (*models.Credential, error) {
	credential, err := scanCredential(r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE channel_account_id = $1`, channelAccountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("CredentialByChannelAccount", "credential", channelAccountID, persistence.ErrCredentialNotFound)
		}

		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	return credential, nil
}

// SwapCredentialToken is a compare-and-swap on the access token column.
func (r *CredentialRepository) SwapCredentialToken(ctx context.Context, id, oldToken, newToken string, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET access_token = $3, expires_at = $4, updated_at = NOW()
		WHERE id = $1 AND access_token = $2`,
		id, oldToken, newToken, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to swap credential token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected == 1, nil
}

// MarkCredentialReconnect flags the credential as requiring a new authorization.
func (r *CredentialRepository) MarkCredentialReconnect(ctx context.Context, id, reason string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET needs_reconnect = true, reconnect_reason = $2, updated_at = NOW() WHERE id = $1`,
		id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark credential for reconnect: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("MarkCredentialReconnect", "credential", id, persistence.ErrCredentialNotFound)
	}

	return nil
}

func scanCredential(row scanner) (*models.Credential, error) {
	var credential models.Credential

	err := row.Scan(
		&credential.ID,
		&credential.OwnerID,
		&credential.ChannelAccountID,
		&credential.AccessToken,
		&credential.ExpiresAt,
		&credential.NeedsReconnect,
		&credential.ReconnectReason,
		&credential.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &credential, nil
}
