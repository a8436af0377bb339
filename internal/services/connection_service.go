package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/datahub-registry/datahub-registry/internal/crypto"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
)

var (
	// ErrConnectionNotFound is returned when the referenced connection does not exist.
	ErrConnectionNotFound = errors.New("services: data connection not found")
	// ErrConnectionInUse is returned when deleting a connection that
	// repositories are still bound to.
	ErrConnectionInUse = errors.New("services: data connection is still in use")
)

// ConnectionService manages data connection records. Credentials are sealed
// with the credential cipher before they reach the database and opened only
// for backend construction and the admin-gated credentials view.
type ConnectionService struct {
	connections  *repositories.DataConnectionRepository
	repositories *repositories.RepositoryRepository
	cipher       *crypto.CredentialCipher
}

// NewConnectionService creates a new ConnectionService
func NewConnectionService(connections *repositories.DataConnectionRepository, repos *repositories.RepositoryRepository, cipher *crypto.CredentialCipher) *ConnectionService {
	return &ConnectionService{
		connections:  connections,
		repositories: repos,
		cipher:       cipher,
	}
}

// CreateConnection seals the supplied credentials and stores the connection.
func (s *ConnectionService) CreateConnection(ctx context.Context, conn *models.DataConnection, creds *models.ConnectionCredentials) error {
	ciphertext, err := s.cipher.SealCredentials(creds)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	conn.CredentialsCiphertext = ciphertext

	return s.connections.CreateConnection(ctx, conn)
}

// UpdateConnection updates a connection record. When creds is nil the stored
// ciphertext is left untouched; the update statement only replaces it when a
// new one is supplied.
func (s *ConnectionService) UpdateConnection(ctx context.Context, conn *models.DataConnection, creds *models.ConnectionCredentials) error {
	if creds != nil {
		ciphertext, err := s.cipher.SealCredentials(creds)
		if err != nil {
			return fmt.Errorf("seal credentials: %w", err)
		}
		conn.CredentialsCiphertext = ciphertext
	} else {
		conn.CredentialsCiphertext = ""
	}

	return s.connections.UpdateConnection(ctx, conn)
}

// DeleteConnection removes a connection after verifying no repository is
// still bound to it.
func (s *ConnectionService) DeleteConnection(ctx context.Context, connectionID string) error {
	conn, err := s.connections.GetConnectionByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return ErrConnectionNotFound
	}

	inUse, err := s.repositories.CountRepositoriesUsingConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("count bound repositories: %w", err)
	}
	if inUse > 0 {
		return fmt.Errorf("%w: %d repositories bound", ErrConnectionInUse, inUse)
	}

	return s.connections.DeleteConnection(ctx, connectionID)
}

// Credentials opens the stored ciphertext for a connection.
func (s *ConnectionService) Credentials(ctx context.Context, connectionID string) (*models.ConnectionCredentials, error) {
	conn, err := s.connections.GetConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrConnectionNotFound
	}

	return s.cipher.OpenCredentials(conn.CredentialsCiphertext)
}
