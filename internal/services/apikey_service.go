package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/auth"
	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/validation"
)

var (
	// ErrKeyQuotaExceeded is returned when an account already holds the
	// configured maximum of enabled, unexpired keys.
	ErrKeyQuotaExceeded = errors.New("services: API key quota exceeded")
	// ErrKeysDisabled is returned when API key issuance is switched off.
	ErrKeysDisabled = errors.New("services: API key issuance is disabled")
	// ErrExpiryTooFar is returned when the requested expiry exceeds the
	// configured maximum lifetime.
	ErrExpiryTooFar = errors.New("services: expiration exceeds the maximum key lifetime")
)

// APIKeyService issues and revokes API keys. The generated secret is returned
// exactly once, on the CreateKey call; afterwards it is only ever compared,
// never displayed.
type APIKeyService struct {
	keys *repositories.APIKeyRepository
	cfg  config.APIKeyConfig
}

// NewAPIKeyService creates a new APIKeyService
func NewAPIKeyService(keys *repositories.APIKeyRepository, cfg config.APIKeyConfig) *APIKeyService {
	return &APIKeyService{keys: keys, cfg: cfg}
}

// CreateKey generates a fresh key pair for an account. The returned APIKey
// carries the plaintext secret; the caller must surface it in this response
// and never again.
func (s *APIKeyService) CreateKey(ctx context.Context, accountID, name string, expires time.Time) (*models.APIKey, error) {
	if !s.cfg.Enabled {
		return nil, ErrKeysDisabled
	}

	now := time.Now()
	if err := validation.ValidateExpiry(expires, now); err != nil {
		return nil, err
	}
	if s.cfg.MaxExpiryDays > 0 {
		latest := now.AddDate(0, 0, s.cfg.MaxExpiryDays)
		if expires.After(latest) {
			return nil, fmt.Errorf("%w: %d days", ErrExpiryTooFar, s.cfg.MaxExpiryDays)
		}
	}

	if s.cfg.MaxPerAccount > 0 {
		active, err := s.keys.CountActiveKeysByAccount(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("count active keys: %w", err)
		}
		if active >= s.cfg.MaxPerAccount {
			return nil, fmt.Errorf("%w: limit is %d", ErrKeyQuotaExceeded, s.cfg.MaxPerAccount)
		}
	}

	accessKeyID, err := auth.GenerateAccessKeyID()
	if err != nil {
		return nil, fmt.Errorf("generate access key ID: %w", err)
	}
	secret, err := auth.GenerateSecretAccessKey()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	key := &models.APIKey{
		AccessKeyID:     accessKeyID,
		AccountID:       accountID,
		Name:            name,
		SecretAccessKey: secret,
		Expires:         expires,
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}

	return key, nil
}

// RevokeKey disables a key. The row is kept so the access key ID stays
// reserved and the revocation is auditable.
func (s *APIKeyService) RevokeKey(ctx context.Context, accessKeyID string) error {
	return s.keys.RevokeAPIKey(ctx, accessKeyID)
}
