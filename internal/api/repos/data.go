// data.go implements the repository data plane: object upload, download,
// deletion, and signed download URLs, all streamed through the storage
// backend of the repository's data connection.
package repos

import (
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/api/guard"
	"github.com/datahub-registry/datahub-registry/internal/authz"
	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/crypto"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/storage"
	"github.com/datahub-registry/datahub-registry/internal/telemetry"
)

// signedURLTTL bounds how long a handed-out download URL stays valid.
const signedURLTTL = 15 * time.Minute

// dataPlane bundles what the data handlers need to reach a repository's
// storage backend.
type dataPlane struct {
	repoRepo *repositories.RepositoryRepository
	connRepo *repositories.DataConnectionRepository
	cipher   *crypto.CredentialCipher
	local    config.LocalStorageConfig
}

func newDataPlane(db *sql.DB, cfg *config.Config, cipher *crypto.CredentialCipher) *dataPlane {
	return &dataPlane{
		repoRepo: repositories.NewRepositoryRepository(db),
		connRepo: repositories.NewDataConnectionRepository(db),
		cipher:   cipher,
		local:    cfg.Storage.Local,
	}
}

// backendFor resolves the repository's data connection into a live backend.
// Writes the response on failure. A repository without a connection, or with
// a disabled one, has no data plane right now: that is a 503, not a 404,
// because the object may well exist behind the downed connection.
func (d *dataPlane) backendFor(c *gin.Context, repo *models.Repository) (storage.Backend, *models.DataConnection, bool) {
	if repo.ConnectionID == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Repository has no data connection"})
		return nil, nil, false
	}

	conn, err := d.connRepo.GetConnectionByID(c.Request.Context(), *repo.ConnectionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load connection"})
		return nil, nil, false
	}
	if conn == nil || conn.Disabled {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Data connection unavailable"})
		return nil, nil, false
	}

	creds, err := d.cipher.OpenCredentials(conn.CredentialsCiphertext)
	if err != nil {
		slog.Error("failed to open connection credentials", "connection_id", conn.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Data connection misconfigured"})
		return nil, nil, false
	}

	backend, err := storage.NewBackend(conn, creds, d.local)
	if err != nil {
		slog.Error("failed to construct storage backend", "connection_id", conn.ID, "connection_type", conn.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Data connection misconfigured"})
		return nil, nil, false
	}
	return backend, conn, true
}

// objectPath normalizes the wildcard route parameter and scopes it under the
// repository so objects of different repositories on a shared connection
// cannot collide.
func objectPath(conn *models.DataConnection, repo *models.Repository, wildcard string) (string, bool) {
	path := strings.TrimPrefix(wildcard, "/")
	if path == "" || strings.Contains(path, "..") {
		return "", false
	}
	return storage.ObjectKey(conn.Prefix, repo.Path()+"/"+path), true
}

// DownloadHandler streams an object to the caller, or redirects to a signed
// URL when the caller asks for one with ?redirect=true.
// Implements: GET /api/v1/accounts/:account/repositories/:repository/data/*path
func DownloadHandler(db *sql.DB, cfg *config.Config, cipher *crypto.CredentialCipher) gin.HandlerFunc {
	plane := newDataPlane(db, cfg, cipher)

	return func(c *gin.Context) {
		repo, ok := lookupRepository(c, plane.repoRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, repo, authz.ActionReadRepositoryData) {
			return
		}

		backend, conn, ok := plane.backendFor(c, repo)
		if !ok {
			return
		}
		key, ok := objectPath(conn, repo, c.Param("path"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid object path"})
			return
		}

		ctx := c.Request.Context()
		exists, err := backend.Exists(ctx, key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check object"})
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Object not found"})
			return
		}

		if c.Query("redirect") == "true" {
			url, err := backend.GetURL(ctx, key, signedURLTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue download URL"})
				return
			}
			telemetry.DownloadURLsIssuedTotal.WithLabelValues(string(conn.Type)).Inc()
			c.Redirect(http.StatusFound, url)
			return
		}

		meta, err := backend.GetMetadata(ctx, key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read object metadata"})
			return
		}
		reader, err := backend.Download(ctx, key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to download object"})
			return
		}
		defer reader.Close()

		c.DataFromReader(http.StatusOK, meta.Size, "application/octet-stream", reader, map[string]string{
			"X-Checksum-SHA256": meta.Checksum,
		})
	}
}

// UploadHandler streams the request body into the repository's backend.
// Implements: PUT /api/v1/accounts/:account/repositories/:repository/data/*path
func UploadHandler(db *sql.DB, cfg *config.Config, cipher *crypto.CredentialCipher) gin.HandlerFunc {
	plane := newDataPlane(db, cfg, cipher)

	return func(c *gin.Context) {
		repo, ok := lookupRepository(c, plane.repoRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, repo, authz.ActionWriteRepositoryData) {
			return
		}

		backend, conn, ok := plane.backendFor(c, repo)
		if !ok {
			return
		}
		key, ok := objectPath(conn, repo, c.Param("path"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid object path"})
			return
		}

		var body io.Reader = c.Request.Body
		result, err := backend.Upload(c.Request.Context(), key, body, c.Request.ContentLength)
		if err != nil {
			slog.Error("object upload failed", "repository", repo.Path(), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload object"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"path":     c.Param("path"),
			"size":     result.Size,
			"checksum": result.Checksum,
		})
	}
}

// DeleteDataHandler removes an object. Deletion is a write-plane operation
// and is gated like uploads.
// Implements: DELETE /api/v1/accounts/:account/repositories/:repository/data/*path
func DeleteDataHandler(db *sql.DB, cfg *config.Config, cipher *crypto.CredentialCipher) gin.HandlerFunc {
	plane := newDataPlane(db, cfg, cipher)

	return func(c *gin.Context) {
		repo, ok := lookupRepository(c, plane.repoRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, repo, authz.ActionWriteRepositoryData) {
			return
		}

		backend, conn, ok := plane.backendFor(c, repo)
		if !ok {
			return
		}
		key, ok := objectPath(conn, repo, c.Param("path"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid object path"})
			return
		}

		ctx := c.Request.Context()
		exists, err := backend.Exists(ctx, key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check object"})
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Object not found"})
			return
		}

		if err := backend.Delete(ctx, key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete object"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": c.Param("path")})
	}
}
