// data_connection.go defines the DataConnection model: a storage backend
// descriptor (S3, Azure Blob, GCS, or local filesystem) that repositories bind
// to for their data plane.
package models

import "time"

// ConnectionType selects the storage backend implementation.
type ConnectionType string

const (
	ConnectionS3    ConnectionType = "S3"
	ConnectionAzure ConnectionType = "AZURE"
	ConnectionGCS   ConnectionType = "GCS"
	ConnectionLocal ConnectionType = "LOCAL"
)

// DataConnection describes one storage backend. Connections are platform-level
// resources: only admins create or mutate them. An account must hold
// RequiredFlag (when set) to bind a new repository to the connection, and the
// repository's data mode must appear in AllowedDataModes.
type DataConnection struct {
	ID          string         `json:"connection_id"`
	Name        string         `json:"name"`
	Type        ConnectionType `json:"connection_type"`
	Disabled    bool           `json:"disabled"`
	RequiredFlag *AccountFlag  `json:"required_flag,omitempty"`
	AllowedDataModes []DataMode `json:"allowed_data_modes"`

	// Backend location settings. Bucket doubles as the Azure container name
	// and the local base path depending on Type.
	Bucket   string `json:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	// CredentialsCiphertext holds the AES-GCM sealed ConnectionCredentials.
	// Never serialized; decrypted only for backend construction and for the
	// admin-gated view-credentials operation.
	CredentialsCiphertext string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllowsDataMode reports whether the connection permits repositories with the
// given data mode. An empty whitelist permits every mode.
func (c *DataConnection) AllowsDataMode(mode DataMode) bool {
	if len(c.AllowedDataModes) == 0 {
		return true
	}
	for _, m := range c.AllowedDataModes {
		if m == mode {
			return true
		}
	}
	return false
}

// ConnectionCredentials is the decrypted credential payload for a data
// connection. Which fields are set depends on the connection type.
type ConnectionCredentials struct {
	// S3
	AWSAccessKeyID     string `json:"aws_access_key_id,omitempty"`
	AWSSecretAccessKey string `json:"aws_secret_access_key,omitempty"`
	AWSRoleARN         string `json:"aws_role_arn,omitempty"`
	AWSExternalID      string `json:"aws_external_id,omitempty"`
	// Azure
	AzureAccountName string `json:"azure_account_name,omitempty"`
	AzureAccountKey  string `json:"azure_account_key,omitempty"`
	// GCS
	GCSServiceAccountJSON string `json:"gcs_service_account_json,omitempty"`
}
