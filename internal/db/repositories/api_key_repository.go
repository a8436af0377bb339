package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `access_key_id, account_id, name, secret_access_key, disabled, expires, last_used_at, expiry_notification_sent_at, created_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*models.APIKey, error) {
	key := &models.APIKey{}
	err := row.Scan(
		&key.AccessKeyID,
		&key.AccountID,
		&key.Name,
		&key.SecretAccessKey,
		&key.Disabled,
		&key.Expires,
		&key.LastUsedAt,
		&key.ExpiryNotificationSentAt,
		&key.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// CreateAPIKey stores a newly generated key pair. The secret is stored as
// generated; redaction happens structurally at the model layer, never here.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	key.CreatedAt = time.Now()

	query := `
		INSERT INTO api_keys (access_key_id, account_id, name, secret_access_key, disabled, expires, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		key.AccessKeyID,
		key.AccountID,
		key.Name,
		key.SecretAccessKey,
		key.Disabled,
		key.Expires,
		key.CreatedAt,
	)

	return err
}

// GetAPIKeyByAccessKeyID retrieves a key by its public handle
func (r *APIKeyRepository) GetAPIKeyByAccessKeyID(ctx context.Context, accessKeyID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE access_key_id = $1`
	return scanAPIKey(r.db.QueryRowContext(ctx, query, accessKeyID))
}

// ListAPIKeysByAccount retrieves every key issued under an account
func (r *APIKeyRepository) ListAPIKeysByAccount(ctx context.Context, accountID string) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE account_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// CountActiveKeysByAccount counts enabled, unexpired keys for the per-account cap
func (r *APIKeyRepository) CountActiveKeysByAccount(ctx context.Context, accountID string) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM api_keys WHERE account_id = $1 AND disabled = false AND expires > $2`
	err := r.db.QueryRowContext(ctx, query, accountID, time.Now()).Scan(&total)
	return total, err
}

// RevokeAPIKey disables a key permanently. Disabled keys stay in the table so
// the key listing shows their history.
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, accessKeyID string) error {
	query := `UPDATE api_keys SET disabled = true WHERE access_key_id = $1`
	_, err := r.db.ExecContext(ctx, query, accessKeyID)
	return err
}

// TouchAPIKeyLastUsed stamps the key's last-used timestamp
func (r *APIKeyRepository) TouchAPIKeyLastUsed(ctx context.Context, accessKeyID string) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE access_key_id = $1`
	_, err := r.db.ExecContext(ctx, query, accessKeyID, time.Now())
	return err
}

// GetExpiringKeys retrieves enabled keys that expire before the cutoff and
// have not yet had an expiry notification sent. Used by the expiry notifier job.
func (r *APIKeyRepository) GetExpiringKeys(ctx context.Context, cutoff time.Time) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE disabled = false
		  AND expires > $1
		  AND expires <= $2
		  AND expiry_notification_sent_at IS NULL
		ORDER BY expires
	`

	rows, err := r.db.QueryContext(ctx, query, time.Now(), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// MarkExpiryNotificationSent records that a warning email went out for a key
func (r *APIKeyRepository) MarkExpiryNotificationSent(ctx context.Context, accessKeyID string) error {
	query := `UPDATE api_keys SET expiry_notification_sent_at = $2 WHERE access_key_id = $1`
	_, err := r.db.ExecContext(ctx, query, accessKeyID, time.Now())
	return err
}
