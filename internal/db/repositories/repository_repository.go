package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
)

// RepositoryRepository handles data repository database operations
type RepositoryRepository struct {
	db *sql.DB
}

// NewRepositoryRepository creates a new RepositoryRepository
func NewRepositoryRepository(db *sql.DB) *RepositoryRepository {
	return &RepositoryRepository{db: db}
}

const repositoryColumns = `account_id, repository_id, title, description, state, data_mode, disabled, featured, connection_id, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*models.Repository, error) {
	repo := &models.Repository{}
	err := row.Scan(
		&repo.AccountID,
		&repo.RepositoryID,
		&repo.Title,
		&repo.Description,
		&repo.State,
		&repo.DataMode,
		&repo.Disabled,
		&repo.Featured,
		&repo.ConnectionID,
		&repo.CreatedAt,
		&repo.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// CreateRepository creates a new data repository under an account
func (r *RepositoryRepository) CreateRepository(ctx context.Context, repo *models.Repository) error {
	repo.CreatedAt = time.Now()
	repo.UpdatedAt = time.Now()

	query := `
		INSERT INTO repositories (account_id, repository_id, title, description, state, data_mode, disabled, featured, connection_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		repo.AccountID,
		repo.RepositoryID,
		repo.Title,
		repo.Description,
		repo.State,
		repo.DataMode,
		repo.Disabled,
		repo.Featured,
		repo.ConnectionID,
		repo.CreatedAt,
		repo.UpdatedAt,
	)

	return err
}

// GetRepository retrieves a repository by its (account, repository) pair
func (r *RepositoryRepository) GetRepository(ctx context.Context, accountID, repositoryID string) (*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE account_id = $1 AND repository_id = $2`
	return scanRepository(r.db.QueryRowContext(ctx, query, accountID, repositoryID))
}

// UpdateRepository updates the mutable fields of a repository
func (r *RepositoryRepository) UpdateRepository(ctx context.Context, repo *models.Repository) error {
	repo.UpdatedAt = time.Now()

	query := `
		UPDATE repositories
		SET title = $3, description = $4, state = $5, data_mode = $6, featured = $7, connection_id = $8, updated_at = $9
		WHERE account_id = $1 AND repository_id = $2
	`

	_, err := r.db.ExecContext(ctx, query,
		repo.AccountID,
		repo.RepositoryID,
		repo.Title,
		repo.Description,
		repo.State,
		repo.DataMode,
		repo.Featured,
		repo.ConnectionID,
		repo.UpdatedAt,
	)

	return err
}

// SetRepositoryDisabled toggles the disabled bit
func (r *RepositoryRepository) SetRepositoryDisabled(ctx context.Context, accountID, repositoryID string, disabled bool) error {
	query := `UPDATE repositories SET disabled = $3, updated_at = $4 WHERE account_id = $1 AND repository_id = $2`
	_, err := r.db.ExecContext(ctx, query, accountID, repositoryID, disabled, time.Now())
	return err
}

// ListRepositoriesByAccount retrieves every repository under an account.
// Visibility filtering happens in the handler, per repository, through the
// authorization engine — the query deliberately returns all states.
func (r *RepositoryRepository) ListRepositoriesByAccount(ctx context.Context, accountID string) ([]*models.Repository, error) {
	query := `
		SELECT ` + repositoryColumns + `
		FROM repositories
		WHERE account_id = $1
		ORDER BY repository_id
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	repos := make([]*models.Repository, 0)
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}

	return repos, rows.Err()
}

// ListListedRepositories retrieves a paginated list of enabled, LISTED
// repositories for the public catalog.
func (r *RepositoryRepository) ListListedRepositories(ctx context.Context, limit, offset int) ([]*models.Repository, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM repositories WHERE state = $1 AND disabled = false`
	if err := r.db.QueryRowContext(ctx, countQuery, models.RepositoryListed).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + repositoryColumns + `
		FROM repositories
		WHERE state = $1 AND disabled = false
		ORDER BY featured DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.RepositoryListed, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	repos := make([]*models.Repository, 0)
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, 0, err
		}
		repos = append(repos, repo)
	}

	return repos, total, rows.Err()
}

// SearchRepositories searches listed repositories by title or description
func (r *RepositoryRepository) SearchRepositories(ctx context.Context, query string, limit, offset int) ([]*models.Repository, error) {
	searchQuery := `
		SELECT ` + repositoryColumns + `
		FROM repositories
		WHERE state = $1 AND disabled = false
		  AND (title ILIKE $2 OR description ILIKE $2 OR repository_id ILIKE $2)
		ORDER BY featured DESC, created_at DESC
		LIMIT $3 OFFSET $4
	`

	searchPattern := "%" + query + "%"
	rows, err := r.db.QueryContext(ctx, searchQuery, models.RepositoryListed, searchPattern, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	repos := make([]*models.Repository, 0)
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}

	return repos, rows.Err()
}

// CountRepositoriesUsingConnection reports how many repositories are bound to
// a data connection. Connections with bound repositories cannot be deleted.
func (r *RepositoryRepository) CountRepositoriesUsingConnection(ctx context.Context, connectionID string) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM repositories WHERE connection_id = $1`
	err := r.db.QueryRowContext(ctx, query, connectionID).Scan(&total)
	return total, err
}
