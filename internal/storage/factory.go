// factory.go implements the storage backend registry and factory, mapping
// connection types (S3, AZURE, GCS, LOCAL) to constructor functions and
// dispatching NewBackend calls with the connection's decrypted credentials.
package storage

import (
	"fmt"

	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
)

// FactoryFunc constructs a backend for one data connection.
type FactoryFunc func(conn *models.DataConnection, creds *models.ConnectionCredentials, local config.LocalStorageConfig) (Backend, error)

var factories = make(map[models.ConnectionType]FactoryFunc)

// Register registers a storage backend factory
func Register(connType models.ConnectionType, factory FactoryFunc) {
	factories[connType] = factory
}

// NewBackend creates a backend for a data connection. Credentials must already
// be decrypted; the factory never touches ciphertext.
func NewBackend(conn *models.DataConnection, creds *models.ConnectionCredentials, local config.LocalStorageConfig) (Backend, error) {
	factory, ok := factories[conn.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported connection type: %s (must be 'S3', 'AZURE', 'GCS', or 'LOCAL')", conn.Type)
	}

	return factory(conn, creds, local)
}
