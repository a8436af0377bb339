package storage_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/storage"
)

// ---------------------------------------------------------------------------
// Minimal mock Backend implementation for Register tests
// ---------------------------------------------------------------------------

type mockBackend struct{}

func (m *mockBackend) Upload(_ context.Context, _ string, _ io.Reader, _ int64) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *mockBackend) Download(_ context.Context, _ string) (io.ReadCloser, error) { return nil, nil }
func (m *mockBackend) Delete(_ context.Context, _ string) error                    { return nil }
func (m *mockBackend) GetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", nil
}
func (m *mockBackend) Exists(_ context.Context, _ string) (bool, error) { return false, nil }
func (m *mockBackend) GetMetadata(_ context.Context, _ string) (*storage.FileMetadata, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// Register / NewBackend
// ---------------------------------------------------------------------------

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("TEST", func(_ *models.DataConnection, _ *models.ConnectionCredentials, _ config.LocalStorageConfig) (storage.Backend, error) {
		return &mockBackend{}, nil
	})

	conn := &models.DataConnection{ID: "conn-1", Type: "TEST"}
	b, err := storage.NewBackend(conn, nil, config.LocalStorageConfig{})
	if err != nil {
		t.Fatalf("NewBackend() error: %v", err)
	}
	if b == nil {
		t.Fatal("NewBackend() returned nil")
	}
}

func TestNewBackend_UnknownType(t *testing.T) {
	conn := &models.DataConnection{ID: "conn-1", Type: "TAPE_DRIVE"}

	_, err := storage.NewBackend(conn, nil, config.LocalStorageConfig{})
	if err == nil {
		t.Error("NewBackend() = nil error, want error for unregistered connection type")
	}
}

func TestNewBackend_EmptyType(t *testing.T) {
	conn := &models.DataConnection{ID: "conn-1"}

	_, err := storage.NewBackend(conn, nil, config.LocalStorageConfig{})
	if err == nil {
		t.Error("NewBackend() = nil error, want error for empty connection type")
	}
}

// ---------------------------------------------------------------------------
// ObjectKey
// ---------------------------------------------------------------------------

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "org1/data1/file.csv", "org1/data1/file.csv"},
		{"datahub", "org1/data1/file.csv", "datahub/org1/data1/file.csv"},
		{"/datahub/", "org1/data1/file.csv", "datahub/org1/data1/file.csv"},
		{"datahub", "/org1/data1/file.csv", "datahub/org1/data1/file.csv"},
		{"", "", ""},
	}

	for _, tt := range tests {
		if got := storage.ObjectKey(tt.prefix, tt.path); got != tt.want {
			t.Errorf("ObjectKey(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}
