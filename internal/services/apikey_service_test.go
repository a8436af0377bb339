package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/datahub-registry/datahub-registry/internal/auth"
	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/validation"
)

func newAPIKeyService(t *testing.T, cfg config.APIKeyConfig) (*APIKeyService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAPIKeyService(repositories.NewAPIKeyRepository(db), cfg), mock
}

func TestCreateKey_Success(t *testing.T) {
	svc, mock := newAPIKeyService(t, config.APIKeyConfig{Enabled: true, MaxPerAccount: 5})
	mock.ExpectQuery("SELECT COUNT.*FROM api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(1, 1))

	key, err := svc.CreateKey(context.Background(), "alice", "ci", time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(key.AccessKeyID, auth.AccessKeyIDPrefix) {
		t.Errorf("AccessKeyID = %q, want %q prefix", key.AccessKeyID, auth.AccessKeyIDPrefix)
	}
	if len(key.SecretAccessKey) != auth.SecretAccessKeyLength {
		t.Errorf("secret length = %d, want %d", len(key.SecretAccessKey), auth.SecretAccessKeyLength)
	}
}

func TestCreateKey_IssuanceDisabled(t *testing.T) {
	svc, _ := newAPIKeyService(t, config.APIKeyConfig{Enabled: false})

	_, err := svc.CreateKey(context.Background(), "alice", "ci", time.Now().Add(time.Hour))
	if !errors.Is(err, ErrKeysDisabled) {
		t.Errorf("err = %v, want ErrKeysDisabled", err)
	}
}

func TestCreateKey_ExpiryInPast(t *testing.T) {
	svc, _ := newAPIKeyService(t, config.APIKeyConfig{Enabled: true})

	_, err := svc.CreateKey(context.Background(), "alice", "ci", time.Now().Add(-time.Hour))
	if !errors.Is(err, validation.ErrExpiryNotFuture) {
		t.Errorf("err = %v, want ErrExpiryNotFuture", err)
	}
}

func TestCreateKey_ExpiryBeyondCap(t *testing.T) {
	svc, _ := newAPIKeyService(t, config.APIKeyConfig{Enabled: true, MaxExpiryDays: 30})

	_, err := svc.CreateKey(context.Background(), "alice", "ci", time.Now().AddDate(0, 0, 60))
	if !errors.Is(err, ErrExpiryTooFar) {
		t.Errorf("err = %v, want ErrExpiryTooFar", err)
	}
}

func TestCreateKey_QuotaExceeded(t *testing.T) {
	svc, mock := newAPIKeyService(t, config.APIKeyConfig{Enabled: true, MaxPerAccount: 3})
	mock.ExpectQuery("SELECT COUNT.*FROM api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	_, err := svc.CreateKey(context.Background(), "alice", "ci", time.Now().Add(time.Hour))
	if !errors.Is(err, ErrKeyQuotaExceeded) {
		t.Errorf("err = %v, want ErrKeyQuotaExceeded", err)
	}
}

func TestCreateKey_NoQuotaSkipsCount(t *testing.T) {
	// MaxPerAccount == 0 disables the quota entirely; no COUNT query issued.
	svc, mock := newAPIKeyService(t, config.APIKeyConfig{Enabled: true})
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if _, err := svc.CreateKey(context.Background(), "alice", "ci", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRevokeKey(t *testing.T) {
	svc, mock := newAPIKeyService(t, config.APIKeyConfig{Enabled: true})
	mock.ExpectExec("UPDATE api_keys.*SET disabled").
		WithArgs("DHABCDEFGHIJKLMNOPQRSTUV").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.RevokeKey(context.Background(), "DHABCDEFGHIJKLMNOPQRSTUV"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
