package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
)

// MembershipRepository handles membership database operations
type MembershipRepository struct {
	db *sql.DB
}

// NewMembershipRepository creates a new MembershipRepository
func NewMembershipRepository(db *sql.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

const membershipColumns = `id, account_id, membership_account_id, repository_id, role, state, state_changed, created_at`

func scanMembership(row interface{ Scan(...any) error }) (*models.Membership, error) {
	m := &models.Membership{}
	err := row.Scan(
		&m.ID,
		&m.AccountID,
		&m.MembershipAccountID,
		&m.RepositoryID,
		&m.Role,
		&m.State,
		&m.StateChanged,
		&m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateMembershipIfAbsent inserts a membership only when no non-revoked
// membership already exists for the same (grantee, granting account,
// repository scope) tuple. Reports whether a row was inserted.
//
// The conditional INSERT and the partial unique index on non-revoked tuples
// together make concurrent duplicate invitations safe: one writer inserts,
// the others observe inserted=false and re-read. Two writers can both pass
// the NOT EXISTS snapshot check; the loser then trips the unique index, and
// that violation is reported as inserted=false so it joins the re-read path
// instead of surfacing as a write failure.
func (r *MembershipRepository) CreateMembershipIfAbsent(ctx context.Context, m *models.Membership) (bool, error) {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now()
	m.StateChanged = m.CreatedAt

	query := `
		INSERT INTO memberships (id, account_id, membership_account_id, repository_id, role, state, state_changed, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM memberships
			WHERE account_id = $2
			  AND membership_account_id = $3
			  AND repository_id IS NOT DISTINCT FROM $4
			  AND state <> 'REVOKED'
		)
	`

	result, err := r.db.ExecContext(ctx, query,
		m.ID,
		m.AccountID,
		m.MembershipAccountID,
		m.RepositoryID,
		m.Role,
		m.State,
		m.StateChanged,
		m.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// GetMembershipByID retrieves a membership by its ID
func (r *MembershipRepository) GetMembershipByID(ctx context.Context, id string) (*models.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = $1`
	return scanMembership(r.db.QueryRowContext(ctx, query, id))
}

// GetActiveMembership retrieves the single non-revoked membership for a
// (grantee, granting account, repository scope) tuple, if one exists.
func (r *MembershipRepository) GetActiveMembership(ctx context.Context, accountID, membershipAccountID string, repositoryID *string) (*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE account_id = $1
		  AND membership_account_id = $2
		  AND repository_id IS NOT DISTINCT FROM $3
		  AND state <> 'REVOKED'
	`
	return scanMembership(r.db.QueryRowContext(ctx, query, accountID, membershipAccountID, repositoryID))
}

// UpdateMembershipState transitions a membership to a new state, stamping
// state_changed. The service layer validates the transition first.
func (r *MembershipRepository) UpdateMembershipState(ctx context.Context, id string, state models.MembershipState) error {
	query := `UPDATE memberships SET state = $2, state_changed = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, state, time.Now())
	return err
}

// UpdateMembershipRole changes the role of a membership in place
func (r *MembershipRepository) UpdateMembershipRole(ctx context.Context, id string, role models.MembershipRole) error {
	query := `UPDATE memberships SET role = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, role)
	return err
}

// ListMembershipsForAccount retrieves every non-revoked membership held by an
// account. Revoked rows stay in the table for audit but never feed a
// principal.
func (r *MembershipRepository) ListMembershipsForAccount(ctx context.Context, accountID string) ([]models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE account_id = $1 AND state <> 'REVOKED'
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memberships := make([]models.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, *m)
	}

	return memberships, rows.Err()
}

// ListMembershipsForGrantingAccount retrieves every non-revoked membership
// granted by an account, across all repository scopes.
func (r *MembershipRepository) ListMembershipsForGrantingAccount(ctx context.Context, membershipAccountID string) ([]models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE membership_account_id = $1 AND state <> 'REVOKED'
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, membershipAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memberships := make([]models.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, *m)
	}

	return memberships, rows.Err()
}
