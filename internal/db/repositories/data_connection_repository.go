package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
)

// DataConnectionRepository handles data connection database operations
type DataConnectionRepository struct {
	db *sql.DB
}

// NewDataConnectionRepository creates a new DataConnectionRepository
func NewDataConnectionRepository(db *sql.DB) *DataConnectionRepository {
	return &DataConnectionRepository{db: db}
}

const connectionColumns = `id, name, connection_type, disabled, required_flag, allowed_data_modes, bucket, prefix, region, endpoint, credentials_ciphertext, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*models.DataConnection, error) {
	conn := &models.DataConnection{}
	var modesJSON []byte
	err := row.Scan(
		&conn.ID,
		&conn.Name,
		&conn.Type,
		&conn.Disabled,
		&conn.RequiredFlag,
		&modesJSON,
		&conn.Bucket,
		&conn.Prefix,
		&conn.Region,
		&conn.Endpoint,
		&conn.CredentialsCiphertext,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(modesJSON) > 0 {
		if err := json.Unmarshal(modesJSON, &conn.AllowedDataModes); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// CreateConnection creates a new data connection
func (r *DataConnectionRepository) CreateConnection(ctx context.Context, conn *models.DataConnection) error {
	conn.ID = uuid.New().String()
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = time.Now()

	modesJSON, err := json.Marshal(conn.AllowedDataModes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO data_connections (id, name, connection_type, disabled, required_flag, allowed_data_modes, bucket, prefix, region, endpoint, credentials_ciphertext, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		conn.ID,
		conn.Name,
		conn.Type,
		conn.Disabled,
		conn.RequiredFlag,
		modesJSON,
		conn.Bucket,
		conn.Prefix,
		conn.Region,
		conn.Endpoint,
		conn.CredentialsCiphertext,
		conn.CreatedAt,
		conn.UpdatedAt,
	)

	return err
}

// GetConnectionByID retrieves a data connection by ID
func (r *DataConnectionRepository) GetConnectionByID(ctx context.Context, id string) (*models.DataConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM data_connections WHERE id = $1`
	return scanConnection(r.db.QueryRowContext(ctx, query, id))
}

// UpdateConnection updates a data connection's settings. Credentials are
// replaced only when the caller supplies a new ciphertext.
func (r *DataConnectionRepository) UpdateConnection(ctx context.Context, conn *models.DataConnection) error {
	conn.UpdatedAt = time.Now()

	modesJSON, err := json.Marshal(conn.AllowedDataModes)
	if err != nil {
		return err
	}

	query := `
		UPDATE data_connections
		SET name = $2, connection_type = $3, required_flag = $4, allowed_data_modes = $5,
		    bucket = $6, prefix = $7, region = $8, endpoint = $9,
		    credentials_ciphertext = CASE WHEN $10 <> '' THEN $10 ELSE credentials_ciphertext END,
		    updated_at = $11
		WHERE id = $1
	`

	_, err = r.db.ExecContext(ctx, query,
		conn.ID,
		conn.Name,
		conn.Type,
		conn.RequiredFlag,
		modesJSON,
		conn.Bucket,
		conn.Prefix,
		conn.Region,
		conn.Endpoint,
		conn.CredentialsCiphertext,
		conn.UpdatedAt,
	)

	return err
}

// SetConnectionDisabled toggles the disabled bit
func (r *DataConnectionRepository) SetConnectionDisabled(ctx context.Context, id string, disabled bool) error {
	query := `UPDATE data_connections SET disabled = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, disabled, time.Now())
	return err
}

// DeleteConnection removes a data connection. The service layer refuses the
// delete while repositories are still bound to it.
func (r *DataConnectionRepository) DeleteConnection(ctx context.Context, id string) error {
	query := `DELETE FROM data_connections WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ListConnections retrieves all data connections
func (r *DataConnectionRepository) ListConnections(ctx context.Context) ([]*models.DataConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM data_connections ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := make([]*models.DataConnection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	return conns, rows.Err()
}
