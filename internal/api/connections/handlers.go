// handlers.go implements the data connection endpoints. Connections are
// platform-level resources: mutation and credential viewing are admin
// operations, while any authenticated account may inspect enabled connections
// with the credentials structurally redacted.
package connections

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/api/guard"
	"github.com/datahub-registry/datahub-registry/internal/authz"
	"github.com/datahub-registry/datahub-registry/internal/crypto"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
	"github.com/datahub-registry/datahub-registry/internal/services"
)

func newService(db *sql.DB, cipher *crypto.CredentialCipher) *services.ConnectionService {
	return services.NewConnectionService(
		repositories.NewDataConnectionRepository(db),
		repositories.NewRepositoryRepository(db),
		cipher,
	)
}

type connectionRequest struct {
	Name             string                       `json:"name" binding:"required"`
	Type             models.ConnectionType        `json:"connection_type" binding:"required"`
	RequiredFlag     *models.AccountFlag          `json:"required_flag"`
	AllowedDataModes []models.DataMode            `json:"allowed_data_modes"`
	Bucket           string                       `json:"bucket"`
	Prefix           string                       `json:"prefix"`
	Region           string                       `json:"region"`
	Endpoint         string                       `json:"endpoint"`
	Credentials      *models.ConnectionCredentials `json:"credentials"`
}

func validConnectionType(t models.ConnectionType) bool {
	switch t {
	case models.ConnectionS3, models.ConnectionAzure, models.ConnectionGCS, models.ConnectionLocal:
		return true
	}
	return false
}

// CreateConnectionHandler registers a new data connection, sealing the
// supplied credentials before they touch the database.
// Implements: POST /api/v1/connections
func CreateConnectionHandler(db *sql.DB, cipher *crypto.CredentialCipher) gin.HandlerFunc {
	svc := newService(db, cipher)

	return func(c *gin.Context) {
		var req connectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if !validConnectionType(req.Type) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown connection type"})
			return
		}

		conn := &models.DataConnection{
			Name:             req.Name,
			Type:             req.Type,
			RequiredFlag:     req.RequiredFlag,
			AllowedDataModes: req.AllowedDataModes,
			Bucket:           req.Bucket,
			Prefix:           req.Prefix,
			Region:           req.Region,
			Endpoint:         req.Endpoint,
		}
		if !guard.Authorize(c, conn, authz.ActionCreateDataConnection) {
			return
		}

		creds := req.Credentials
		if creds == nil {
			creds = &models.ConnectionCredentials{}
		}
		if err := svc.CreateConnection(c.Request.Context(), conn, creds); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create connection"})
			return
		}
		c.JSON(http.StatusCreated, conn)
	}
}

// ListConnectionsHandler lists connections visible to the caller. Non-admins
// see enabled connections only.
// Implements: GET /api/v1/connections
func ListConnectionsHandler(db *sql.DB) gin.HandlerFunc {
	connRepo := repositories.NewDataConnectionRepository(db)

	return func(c *gin.Context) {
		conns, err := connRepo.ListConnections(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list connections"})
			return
		}

		principal := middleware.PrincipalFrom(c)
		visible := make([]*models.DataConnection, 0, len(conns))
		for _, conn := range conns {
			if guard.Check(principal, conn, authz.ActionGetDataConnection) {
				visible = append(visible, conn)
			}
		}
		c.JSON(http.StatusOK, gin.H{"connections": visible})
	}
}

// GetConnectionHandler returns one connection, credentials redacted.
// Implements: GET /api/v1/connections/:id
func GetConnectionHandler(db *sql.DB) gin.HandlerFunc {
	connRepo := repositories.NewDataConnectionRepository(db)

	return func(c *gin.Context) {
		conn, ok := lookupConnection(c, connRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, conn, authz.ActionGetDataConnection) {
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

// UpdateConnectionHandler replaces a connection's settings. Credentials are
// rotated only when the request carries a new set.
// Implements: PUT /api/v1/connections/:id
func UpdateConnectionHandler(db *sql.DB, cipher *crypto.CredentialCipher) gin.HandlerFunc {
	connRepo := repositories.NewDataConnectionRepository(db)
	svc := newService(db, cipher)

	return func(c *gin.Context) {
		var req connectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if !validConnectionType(req.Type) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown connection type"})
			return
		}

		conn, ok := lookupConnection(c, connRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, conn, authz.ActionPutDataConnection) {
			return
		}

		conn.Name = req.Name
		conn.Type = req.Type
		conn.RequiredFlag = req.RequiredFlag
		conn.AllowedDataModes = req.AllowedDataModes
		conn.Bucket = req.Bucket
		conn.Prefix = req.Prefix
		conn.Region = req.Region
		conn.Endpoint = req.Endpoint

		if err := svc.UpdateConnection(c.Request.Context(), conn, req.Credentials); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update connection"})
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

type setDisabledRequest struct {
	Disabled *bool `json:"disabled" binding:"required"`
}

// SetConnectionDisabledHandler toggles the disabled bit. Disabling a
// connection takes the data plane of every bound repository offline without
// touching the stored objects.
// Implements: PUT /api/v1/connections/:id/disabled
func SetConnectionDisabledHandler(db *sql.DB) gin.HandlerFunc {
	connRepo := repositories.NewDataConnectionRepository(db)

	return func(c *gin.Context) {
		var req setDisabledRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		conn, ok := lookupConnection(c, connRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, conn, authz.ActionDisableDataConnection) {
			return
		}

		if err := connRepo.SetConnectionDisabled(c.Request.Context(), conn.ID, *req.Disabled); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update connection"})
			return
		}
		conn.Disabled = *req.Disabled
		c.JSON(http.StatusOK, conn)
	}
}

// DeleteConnectionHandler removes a connection that no repository is bound to.
// Implements: DELETE /api/v1/connections/:id
func DeleteConnectionHandler(db *sql.DB, cipher *crypto.CredentialCipher) gin.HandlerFunc {
	connRepo := repositories.NewDataConnectionRepository(db)
	svc := newService(db, cipher)

	return func(c *gin.Context) {
		conn, ok := lookupConnection(c, connRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, conn, authz.ActionDeleteDataConnection) {
			return
		}

		err := svc.DeleteConnection(c.Request.Context(), conn.ID)
		switch {
		case errors.Is(err, services.ErrConnectionInUse):
			c.JSON(http.StatusConflict, gin.H{"error": "Connection is still in use by repositories"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete connection"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": conn.ID})
	}
}

// GetCredentialsHandler opens and returns the sealed credentials. This is the
// only read path for them and it is admin gated.
// Implements: GET /api/v1/connections/:id/credentials
func GetCredentialsHandler(db *sql.DB, cipher *crypto.CredentialCipher) gin.HandlerFunc {
	connRepo := repositories.NewDataConnectionRepository(db)
	svc := newService(db, cipher)

	return func(c *gin.Context) {
		conn, ok := lookupConnection(c, connRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, conn, authz.ActionViewDataConnectionCredentials) {
			return
		}

		creds, err := svc.Credentials(c.Request.Context(), conn.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connection_id": conn.ID, "credentials": creds})
	}
}

func lookupConnection(c *gin.Context, connRepo *repositories.DataConnectionRepository) (*models.DataConnection, bool) {
	conn, err := connRepo.GetConnectionByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load connection"})
		return nil, false
	}
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
		return nil, false
	}
	return conn, true
}
