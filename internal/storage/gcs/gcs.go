// Package gcs implements the Google Cloud Storage backend for data
// connections. Downloads use time-limited signed URLs generated via the GCS
// signing API; the registry never proxies bulk data. Authentication follows
// the connection credentials: a service account JSON payload when present,
// otherwise Application Default Credentials (GKE Workload Identity, metadata
// service, GOOGLE_APPLICATION_CREDENTIALS).
package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	appstorage "github.com/datahub-registry/datahub-registry/internal/storage"
)

func init() {
	// Register GCS storage backend
	appstorage.Register(models.ConnectionGCS, func(conn *models.DataConnection, creds *models.ConnectionCredentials, _ config.LocalStorageConfig) (appstorage.Backend, error) {
		return New(conn, creds)
	})
}

// GCSBackend implements the Backend interface for Google Cloud Storage
type GCSBackend struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a Google Cloud Storage backend for one data connection.
func New(conn *models.DataConnection, creds *models.ConnectionCredentials) (*GCSBackend, error) {
	if conn.Bucket == "" {
		return nil, fmt.Errorf("gcs connection %q has no bucket", conn.Name)
	}

	ctx := context.Background()
	var opts []option.ClientOption

	// Custom endpoint for GCS emulators or compatible services
	if conn.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(conn.Endpoint))
	}

	// Service account JSON from the credential payload; empty payload falls
	// back to Application Default Credentials.
	if creds != nil && creds.GCSServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds.GCSServiceAccountJSON)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSBackend{
		client: client,
		bucket: conn.Bucket,
		prefix: conn.Prefix,
	}, nil
}

// Close closes the GCS client
func (s *GCSBackend) Close() error {
	return s.client.Close()
}

func (s *GCSBackend) objectName(path string) string {
	return appstorage.ObjectKey(s.prefix, path)
}

// Upload stores an object in GCS
func (s *GCSBackend) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*appstorage.UploadResult, error) {
	// Read all content to calculate checksum
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	hasher := sha256.New()
	hasher.Write(data)
	checksum := hex.EncodeToString(hasher.Sum(nil))

	obj := s.client.Bucket(s.bucket).Object(s.objectName(path))

	writer := obj.NewWriter(ctx)
	writer.Metadata = map[string]string{
		"sha256": checksum,
	}

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.UploadResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: checksum,
	}, nil
}

// Download retrieves an object from GCS
func (s *GCSBackend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(path))

	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}

	return reader, nil
}

// Delete removes an object from GCS
func (s *GCSBackend) Delete(ctx context.Context, path string) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(path))

	if err := obj.Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}

	return nil
}

// GetURL returns a signed URL for downloading the object
func (s *GCSBackend) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("object not found: %s", path)
	}

	// Requires the service account to have the iam.serviceAccountTokenCreator
	// role, or ADC with signBlob permissions
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}

	url, err := s.client.Bucket(s.bucket).SignedURL(s.objectName(path), opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return url, nil
}

// Exists checks if an object exists at the specified path
func (s *GCSBackend) Exists(ctx context.Context, path string) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(path))

	_, err := obj.Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// GetMetadata retrieves object metadata without downloading the entire object
func (s *GCSBackend) GetMetadata(ctx context.Context, path string) (*appstorage.FileMetadata, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(path))

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, fmt.Errorf("object not found: %s", path)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	var checksum string
	if attrs.Metadata != nil {
		if sha256Val, ok := attrs.Metadata["sha256"]; ok {
			checksum = sha256Val
		}
	}

	// If no stored checksum, download and compute (expensive for large objects)
	if checksum == "" {
		reader, err := s.Download(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to download for checksum: %w", err)
		}
		defer reader.Close()

		hasher := sha256.New()
		if _, err := io.Copy(hasher, reader); err != nil {
			return nil, fmt.Errorf("failed to compute checksum: %w", err)
		}
		checksum = hex.EncodeToString(hasher.Sum(nil))
	}

	return &appstorage.FileMetadata{
		Path:         path,
		Size:         attrs.Size,
		Checksum:     checksum,
		LastModified: attrs.Updated,
	}, nil
}

// ListObjects lists objects under a repository-relative prefix
func (s *GCSBackend) ListObjects(ctx context.Context, prefix string, maxResults int) ([]string, error) {
	query := &storage.Query{
		Prefix: s.objectName(prefix),
	}

	var objects []string
	it := s.client.Bucket(s.bucket).Objects(ctx, query)

	for i := 0; maxResults <= 0 || i < maxResults; i++ {
		attrs, err := it.Next()
		if err != nil {
			break // End of iteration
		}
		objects = append(objects, attrs.Name)
	}

	return objects, nil
}

// DeletePrefix deletes all objects under a repository-relative prefix. Used
// when a repository's data is purged.
func (s *GCSBackend) DeletePrefix(ctx context.Context, prefix string) error {
	objects, err := s.ListObjects(ctx, prefix, 0)
	if err != nil {
		return err
	}

	for _, name := range objects {
		obj := s.client.Bucket(s.bucket).Object(name)
		if err := obj.Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
	}

	return nil
}
