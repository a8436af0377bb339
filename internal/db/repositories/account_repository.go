// Package repositories implements the data access layer (repository pattern) for the registry.
// Each repository type encapsulates all database queries for a domain entity.
// Handlers never issue SQL directly — all database access goes through this layer, which makes query logic testable in isolation and prevents accidental cross-domain data access.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
)

// AccountRepository handles account database operations
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, account_type, display_name, description, email, disabled, flags, identity_id, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	account := &models.Account{}
	var flagsJSON []byte
	err := row.Scan(
		&account.ID,
		&account.Type,
		&account.DisplayName,
		&account.Description,
		&account.Email,
		&account.Disabled,
		&flagsJSON,
		&account.IdentityID,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &account.Flags); err != nil {
			return nil, err
		}
	}
	return account, nil
}

// CreateAccount creates a new account. The caller supplies the ID (the
// account slug); timestamps are stamped here.
func (r *AccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()

	flagsJSON, err := json.Marshal(account.Flags)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO accounts (id, account_type, display_name, description, email, disabled, flags, identity_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		account.ID,
		account.Type,
		account.DisplayName,
		account.Description,
		account.Email,
		account.Disabled,
		flagsJSON,
		account.IdentityID,
		account.CreatedAt,
		account.UpdatedAt,
	)

	return err
}

// GetAccountByID retrieves an account by its slug
func (r *AccountRepository) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// GetAccountByIdentityID retrieves the account linked to an identity provider subject
func (r *AccountRepository) GetAccountByIdentityID(ctx context.Context, identityID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE identity_id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, identityID))
}

// UpdateAccountProfile updates the mutable profile fields
func (r *AccountRepository) UpdateAccountProfile(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now()

	query := `
		UPDATE accounts
		SET display_name = $2, description = $3, email = $4, updated_at = $5
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.DisplayName,
		account.Description,
		account.Email,
		account.UpdatedAt,
	)

	return err
}

// SetAccountDisabled toggles the disabled bit
func (r *AccountRepository) SetAccountDisabled(ctx context.Context, id string, disabled bool) error {
	query := `UPDATE accounts SET disabled = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, disabled, time.Now())
	return err
}

// SetAccountFlags replaces the account's capability flags
func (r *AccountRepository) SetAccountFlags(ctx context.Context, id string, flags []models.AccountFlag) error {
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	query := `UPDATE accounts SET flags = $2, updated_at = $3 WHERE id = $1`
	_, err = r.db.ExecContext(ctx, query, id, flagsJSON, time.Now())
	return err
}

// ListAccounts retrieves a paginated list of accounts
func (r *AccountRepository) ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM accounts`
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, account)
	}

	return accounts, total, rows.Err()
}

// CountAccounts returns the total number of accounts. Used by the bootstrap
// path to detect a fresh installation.
func (r *AccountRepository) CountAccounts(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total)
	return total, err
}
