// Package repos implements the repository endpoints: the catalog CRUD surface
// plus the data plane, which streams objects through the storage backend of
// the repository's data connection.
package repos

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/api/guard"
	"github.com/datahub-registry/datahub-registry/internal/authz"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
	"github.com/datahub-registry/datahub-registry/internal/validation"
)

func validState(s models.RepositoryState) bool {
	return s == models.RepositoryListed || s == models.RepositoryUnlisted
}

func validDataMode(m models.DataMode) bool {
	switch m {
	case models.DataModeOpen, models.DataModeSubscription, models.DataModePrivate:
		return true
	}
	return false
}

type createRepositoryRequest struct {
	RepositoryID string                 `json:"repository_id" binding:"required"`
	Title        string                 `json:"title" binding:"required"`
	Description  *string                `json:"description"`
	State        models.RepositoryState `json:"state" binding:"required"`
	DataMode     models.DataMode        `json:"data_mode" binding:"required"`
	ConnectionID *string                `json:"connection_id"`
}

// CreateRepositoryHandler creates a repository under an account. Binding to a
// data connection additionally requires the connection's use predicate and
// that the connection permits the repository's data mode.
// Implements: POST /api/v1/accounts/:account/repositories
func CreateRepositoryHandler(db *sql.DB) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)
	repoRepo := repositories.NewRepositoryRepository(db)
	connRepo := repositories.NewDataConnectionRepository(db)

	return func(c *gin.Context) {
		var req createRepositoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := validation.ValidateSlug(req.RepositoryID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Repository ID must be a lowercase slug of 3-40 characters"})
			return
		}
		if !validState(req.State) || !validDataMode(req.DataMode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown state or data mode"})
			return
		}

		ctx := c.Request.Context()

		account, err := accountRepo.GetAccountByID(ctx, c.Param("account"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if account == nil || account.Disabled {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}

		proposed := &models.Repository{
			AccountID:    account.ID,
			RepositoryID: req.RepositoryID,
			Title:        req.Title,
			Description:  req.Description,
			State:        req.State,
			DataMode:     req.DataMode,
			ConnectionID: req.ConnectionID,
		}
		if !guard.Authorize(c, proposed, authz.ActionCreateRepository) {
			return
		}

		if req.ConnectionID != nil {
			if !checkConnectionBinding(c, connRepo, *req.ConnectionID, req.DataMode) {
				return
			}
		}

		existing, err := repoRepo.GetRepository(ctx, account.ID, req.RepositoryID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check repository"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Repository already exists"})
			return
		}

		if err := repoRepo.CreateRepository(ctx, proposed); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create repository"})
			return
		}
		c.JSON(http.StatusCreated, proposed)
	}
}

// checkConnectionBinding verifies the caller may bind a repository with the
// given data mode to the connection. Writes the response on failure.
func checkConnectionBinding(c *gin.Context, connRepo *repositories.DataConnectionRepository, connectionID string, mode models.DataMode) bool {
	conn, err := connRepo.GetConnectionByID(c.Request.Context(), connectionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load connection"})
		return false
	}
	if conn == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown data connection"})
		return false
	}
	if !guard.Authorize(c, conn, authz.ActionUseDataConnection) {
		return false
	}
	if !conn.AllowsDataMode(mode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Connection does not allow this data mode"})
		return false
	}
	return true
}

// GetRepositoryHandler returns one repository.
// Implements: GET /api/v1/accounts/:account/repositories/:repository
func GetRepositoryHandler(db *sql.DB) gin.HandlerFunc {
	repoRepo := repositories.NewRepositoryRepository(db)

	return func(c *gin.Context) {
		repo, ok := lookupRepository(c, repoRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, repo, authz.ActionGetRepository) {
			return
		}
		c.JSON(http.StatusOK, repo)
	}
}

type updateRepositoryRequest struct {
	Title        string                 `json:"title" binding:"required"`
	Description  *string                `json:"description"`
	State        models.RepositoryState `json:"state" binding:"required"`
	DataMode     models.DataMode        `json:"data_mode" binding:"required"`
	ConnectionID *string                `json:"connection_id"`
	Featured     *bool                  `json:"featured"`
}

// UpdateRepositoryHandler updates the mutable fields of a repository. The
// featured bit is an admin-only field: non-admin callers may not change it
// even when they can edit everything else.
// Implements: PUT /api/v1/accounts/:account/repositories/:repository
func UpdateRepositoryHandler(db *sql.DB) gin.HandlerFunc {
	repoRepo := repositories.NewRepositoryRepository(db)
	connRepo := repositories.NewDataConnectionRepository(db)

	return func(c *gin.Context) {
		var req updateRepositoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if !validState(req.State) || !validDataMode(req.DataMode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown state or data mode"})
			return
		}

		repo, ok := lookupRepository(c, repoRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, repo, authz.ActionPutRepository) {
			return
		}

		if req.Featured != nil && *req.Featured != repo.Featured {
			if !guard.Authorize(c, repo, authz.ActionFeatureRepository) {
				return
			}
		}

		// A changed binding or data mode is re-validated against the target
		// connection, same as at creation.
		rebinding := req.ConnectionID != nil &&
			(repo.ConnectionID == nil || *repo.ConnectionID != *req.ConnectionID || repo.DataMode != req.DataMode)
		if rebinding {
			if !checkConnectionBinding(c, connRepo, *req.ConnectionID, req.DataMode) {
				return
			}
		}

		repo.Title = req.Title
		repo.Description = req.Description
		repo.State = req.State
		repo.DataMode = req.DataMode
		repo.ConnectionID = req.ConnectionID
		if req.Featured != nil {
			repo.Featured = *req.Featured
		}

		if err := repoRepo.UpdateRepository(c.Request.Context(), repo); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update repository"})
			return
		}
		c.JSON(http.StatusOK, repo)
	}
}

// DisableRepositoryHandler disables a repository (soft delete).
// Implements: DELETE /api/v1/accounts/:account/repositories/:repository
func DisableRepositoryHandler(db *sql.DB) gin.HandlerFunc {
	return setDisabledHandler(db, func(*gin.Context) (bool, bool) { return true, true })
}

type setDisabledRequest struct {
	Disabled *bool `json:"disabled" binding:"required"`
}

// SetRepositoryDisabledHandler sets the disabled bit in either direction;
// re-enabling passes the predicate for admins only.
// Implements: PUT /api/v1/accounts/:account/repositories/:repository/disabled
func SetRepositoryDisabledHandler(db *sql.DB) gin.HandlerFunc {
	return setDisabledHandler(db, func(c *gin.Context) (bool, bool) {
		var req setDisabledRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return false, false
		}
		return *req.Disabled, true
	})
}

func setDisabledHandler(db *sql.DB, target func(*gin.Context) (disabled, ok bool)) gin.HandlerFunc {
	repoRepo := repositories.NewRepositoryRepository(db)

	return func(c *gin.Context) {
		disabled, ok := target(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		repo, ok := lookupRepository(c, repoRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, repo, authz.ActionDisableRepository) {
			return
		}

		if err := repoRepo.SetRepositoryDisabled(c.Request.Context(), repo.AccountID, repo.RepositoryID, disabled); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update repository"})
			return
		}
		repo.Disabled = disabled
		c.JSON(http.StatusOK, repo)
	}
}

// ListAccountRepositoriesHandler lists an account's repositories, filtered
// per repository through the visibility predicate so UNLISTED entries appear
// only for owners, members, and admins.
// Implements: GET /api/v1/accounts/:account/repositories
func ListAccountRepositoriesHandler(db *sql.DB) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)
	repoRepo := repositories.NewRepositoryRepository(db)

	return func(c *gin.Context) {
		account, err := accountRepo.GetAccountByID(c.Request.Context(), c.Param("account"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}

		repos, err := repoRepo.ListRepositoriesByAccount(c.Request.Context(), account.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list repositories"})
			return
		}

		principal := middleware.PrincipalFrom(c)
		visible := make([]*models.Repository, 0, len(repos))
		for _, repo := range repos {
			if guard.Check(principal, repo, authz.ActionListRepository) {
				visible = append(visible, repo)
			}
		}
		c.JSON(http.StatusOK, gin.H{"repositories": visible})
	}
}

// ListRepositoriesHandler is the public catalog: LISTED, enabled repositories,
// paginated, with optional search. Results still pass through the engine so a
// future predicate change cannot widen this surface by accident.
// Implements: GET /api/v1/repositories?q=<query>&limit=<limit>&offset=<offset>
func ListRepositoriesHandler(db *sql.DB) gin.HandlerFunc {
	repoRepo := repositories.NewRepositoryRepository(db)

	return func(c *gin.Context) {
		limit, offset := guard.Pagination(c)
		principal := middleware.PrincipalFrom(c)

		var repos []*models.Repository
		var total int
		var err error
		if query := strings.TrimSpace(c.Query("q")); query != "" {
			repos, err = repoRepo.SearchRepositories(c.Request.Context(), query, limit, offset)
			total = len(repos)
		} else {
			repos, total, err = repoRepo.ListListedRepositories(c.Request.Context(), limit, offset)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list repositories"})
			return
		}

		visible := make([]*models.Repository, 0, len(repos))
		for _, repo := range repos {
			if guard.Check(principal, repo, authz.ActionListRepository) {
				visible = append(visible, repo)
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"repositories": visible,
			"meta":         gin.H{"limit": limit, "offset": offset, "total": total},
		})
	}
}

func lookupRepository(c *gin.Context, repoRepo *repositories.RepositoryRepository) (*models.Repository, bool) {
	repo, err := repoRepo.GetRepository(c.Request.Context(), c.Param("account"), c.Param("repository"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load repository"})
		return nil, false
	}
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Repository not found"})
		return nil, false
	}
	return repo, true
}
