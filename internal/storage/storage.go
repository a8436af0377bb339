// Package storage defines the Backend interface and common types for the data
// plane behind repositories. A backend is constructed per data connection from
// the connection record and its decrypted credentials, never from global
// configuration: two repositories on different connections get independent
// clients with independent credentials.
//
// New backend types are added by implementing the Backend interface and
// registering with the factory via an init() function in the backend's own
// package:
//
//	func init() {
//	    factory.Register(models.ConnectionGCS, func(conn, creds, local) (Backend, error) {
//	        return New(conn, creds)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"io"
	"strings"
	"time"
)

// Backend is the data-plane interface all connection types implement.
type Backend interface {
	// Upload stores an object and returns the storage result with path and checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves an object and returns a reader
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object
	Delete(ctx context.Context, path string) error

	// GetURL returns a direct download URL
	// For cloud storage, this generates a signed URL valid for the specified TTL
	// For local storage, this returns a path for serving
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata retrieves object metadata without downloading the entire object
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	// Path is the storage path where the object was stored
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}

// FileMetadata contains metadata about a stored object
type FileMetadata struct {
	// Path is the storage path of the object
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string

	// LastModified is the timestamp when the object was last modified
	LastModified time.Time
}

// ObjectKey prepends a connection's key prefix to a repository-relative path.
func ObjectKey(prefix, path string) string {
	prefix = strings.Trim(prefix, "/")
	path = strings.TrimPrefix(path, "/")
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}
