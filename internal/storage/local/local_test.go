package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
)

// newTestBackend creates a LocalBackend backed by a temporary directory.
func newTestBackend(t *testing.T, bucket string) *LocalBackend {
	t.Helper()

	conn := &models.DataConnection{
		Name:   "dev-local",
		Type:   models.ConnectionLocal,
		Bucket: bucket,
	}
	s, err := New(conn, config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")

	conn := &models.DataConnection{Name: "dev-local", Type: models.ConnectionLocal}
	_, err := New(conn, config.LocalStorageConfig{BasePath: subDir})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

func TestNew_MissingBasePath(t *testing.T) {
	conn := &models.DataConnection{Name: "dev-local", Type: models.ConnectionLocal}
	_, err := New(conn, config.LocalStorageConfig{})
	if err == nil {
		t.Error("New() = nil error, want error for missing base path")
	}
}

func TestNew_BucketSubdirectory(t *testing.T) {
	dir := t.TempDir()

	conn := &models.DataConnection{
		Name:   "dev-local",
		Type:   models.ConnectionLocal,
		Bucket: "team-data",
	}
	s, err := New(conn, config.LocalStorageConfig{BasePath: dir})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Uploads land under the bucket subdirectory, isolating connections
	// that share a base path
	if _, err := s.Upload(context.Background(), "f.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "team-data", "f.txt")); err != nil {
		t.Errorf("file not under bucket subdirectory: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Upload
// ---------------------------------------------------------------------------

func TestUpload(t *testing.T) {
	s := newTestBackend(t, "")

	data := []byte("hello local storage")
	result, err := s.Upload(context.Background(), "sub/dir/file.txt", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Path != "sub/dir/file.txt" {
		t.Errorf("Path = %q, want sub/dir/file.txt", result.Path)
	}
	if result.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", result.Size, len(data))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum length = %d, want 64 (SHA256 hex)", len(result.Checksum))
	}
}

func TestUpload_ChecksumConsistency(t *testing.T) {
	s := newTestBackend(t, "")

	content := "same content"
	r1, _ := s.Upload(context.Background(), "a.txt", strings.NewReader(content), int64(len(content)))
	r2, _ := s.Upload(context.Background(), "b.txt", strings.NewReader(content), int64(len(content)))
	if r1.Checksum != r2.Checksum {
		t.Errorf("same content produced different checksums: %q vs %q", r1.Checksum, r2.Checksum)
	}
}

func TestUpload_Overwrite(t *testing.T) {
	s := newTestBackend(t, "")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "f.txt", strings.NewReader("first"), 5); err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	if _, err := s.Upload(ctx, "f.txt", strings.NewReader("second"), 6); err != nil {
		t.Fatalf("second Upload: %v", err)
	}

	rc, err := s.Download(ctx, "f.txt")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "second" {
		t.Errorf("content after overwrite = %q, want second", got)
	}
}

// ---------------------------------------------------------------------------
// Download
// ---------------------------------------------------------------------------

func TestDownload(t *testing.T) {
	s := newTestBackend(t, "")
	ctx := context.Background()

	want := []byte("download me")
	if _, err := s.Upload(ctx, "dl.txt", bytes.NewReader(want), int64(len(want))); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	rc, err := s.Download(ctx, "dl.txt")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()

	if !bytes.Equal(got, want) {
		t.Errorf("Download content = %q, want %q", got, want)
	}
}

func TestDownload_NotFound(t *testing.T) {
	s := newTestBackend(t, "")

	_, err := s.Download(context.Background(), "missing.txt")
	if err == nil {
		t.Fatal("Download() expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want not-found error", err)
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDelete(t *testing.T) {
	s := newTestBackend(t, "")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "todel.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := s.Delete(ctx, "todel.txt"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	ok, _ := s.Exists(ctx, "todel.txt")
	if ok {
		t.Error("Exists = true after delete, want false")
	}
}

func TestDelete_Missing_IsNoop(t *testing.T) {
	s := newTestBackend(t, "")

	if err := s.Delete(context.Background(), "never-existed.txt"); err != nil {
		t.Errorf("Delete() of missing file error: %v, want nil", err)
	}
}

func TestDelete_RemovesEmptyParentDirs(t *testing.T) {
	s := newTestBackend(t, "")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "deep/nested/dir/file.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := s.Delete(ctx, "deep/nested/dir/file.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(filepath.Join(s.basePath, "deep")); !os.IsNotExist(err) {
		t.Error("empty parent directories were not cleaned up")
	}
	// base path itself must survive
	if _, err := os.Stat(s.basePath); err != nil {
		t.Errorf("base path removed: %v", err)
	}
}

func TestDelete_KeepsNonEmptyParentDirs(t *testing.T) {
	s := newTestBackend(t, "")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "shared/a.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := s.Upload(ctx, "shared/b.txt", strings.NewReader("y"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := s.Delete(ctx, "shared/a.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ok, _ := s.Exists(ctx, "shared/b.txt")
	if !ok {
		t.Error("sibling file removed along with deleted file")
	}
}

// ---------------------------------------------------------------------------
// Exists
// ---------------------------------------------------------------------------

func TestExists(t *testing.T) {
	s := newTestBackend(t, "")
	ctx := context.Background()

	ok, err := s.Exists(ctx, "ghost.txt")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Error("Exists = true for missing file, want false")
	}

	if _, err := s.Upload(ctx, "here.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	ok, err = s.Exists(ctx, "here.txt")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if !ok {
		t.Error("Exists = false for existing file, want true")
	}
}

// ---------------------------------------------------------------------------
// GetMetadata
// ---------------------------------------------------------------------------

func TestGetMetadata(t *testing.T) {
	s := newTestBackend(t, "")
	ctx := context.Background()

	data := []byte("metadata target")
	uploadResult, err := s.Upload(ctx, "meta.txt", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	meta, err := s.GetMetadata(ctx, "meta.txt")
	if err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if meta.Path != "meta.txt" {
		t.Errorf("Path = %q, want meta.txt", meta.Path)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(data))
	}
	if meta.Checksum != uploadResult.Checksum {
		t.Errorf("Checksum = %q, want %q (from upload)", meta.Checksum, uploadResult.Checksum)
	}
	if meta.LastModified.IsZero() {
		t.Error("LastModified is zero")
	}
}

func TestGetMetadata_NotFound(t *testing.T) {
	s := newTestBackend(t, "")

	_, err := s.GetMetadata(context.Background(), "missing.txt")
	if err == nil {
		t.Error("GetMetadata() expected error for missing file, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetURL
// ---------------------------------------------------------------------------

func TestGetURL_FileScheme(t *testing.T) {
	s := newTestBackend(t, "")
	ctx := context.Background()

	if _, err := s.Upload(ctx, "forurl.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	url, err := s.GetURL(ctx, "forurl.txt", time.Hour)
	if err != nil {
		t.Fatalf("GetURL() error: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("GetURL() = %q, want file:// URL", url)
	}
}

func TestGetURL_NotFound(t *testing.T) {
	s := newTestBackend(t, "")

	_, err := s.GetURL(context.Background(), "missing.txt", time.Hour)
	if err == nil {
		t.Error("GetURL() expected error for missing file, got nil")
	}
}
