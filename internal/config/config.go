// Package config loads and validates the registry configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the DHR_ prefix (e.g., DHR_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The ENCRYPTION_KEY variable has no DHR_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Identity      IdentityConfig      `mapstructure:"identity"`
	APIKeys       APIKeyConfig        `mapstructure:"api_keys"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Security      SecurityConfig      `mapstructure:"security"`
	Bootstrap     BootstrapConfig     `mapstructure:"bootstrap"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used for OAuth callbacks and external redirects.
// When server.public_url is set it is returned as-is; otherwise it falls back to server.base_url.
// This distinction matters in reverse-proxied deployments where the internal listen address
// (base_url) differs from the URL registered with the identity provider (public_url).
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// IdentityConfig selects and configures the session identity provider.
// Exactly one mode is active:
//
//   - "ory":  sessions are resolved by forwarding the session cookie to an
//     Ory Kratos-compatible whoami endpoint. The registry holds no signing
//     keys; the identity service is the source of truth.
//   - "oidc": the registry runs its own OIDC login flow against a generic
//     provider and issues a local JWT session cookie on callback.
//
// API key authentication is independent of this choice and always available.
type IdentityConfig struct {
	Mode string     `mapstructure:"mode"`
	Ory  OryConfig  `mapstructure:"ory"`
	OIDC OIDCConfig `mapstructure:"oidc"`
}

// OryConfig holds the Ory-compatible session oracle configuration
type OryConfig struct {
	// WhoamiURL is the full URL of the sessions/whoami endpoint
	WhoamiURL string `mapstructure:"whoami_url"`
	// CookieName is the session cookie forwarded to the oracle
	CookieName string `mapstructure:"cookie_name"`
	// Timeout bounds each whoami round-trip
	Timeout time.Duration `mapstructure:"timeout"`
}

// OIDCConfig holds generic OIDC provider configuration for the built-in login flow
type OIDCConfig struct {
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`

	// Session settings for the locally issued JWT cookie
	Session SessionConfig `mapstructure:"session"`
}

// SessionConfig holds local session cookie settings (OIDC mode only)
type SessionConfig struct {
	// Secret signs the session JWT. Required in OIDC mode.
	Secret string `mapstructure:"secret"`
	// CookieName is the cookie the session JWT is stored in
	CookieName string `mapstructure:"cookie_name"`
	// Duration is the session lifetime
	Duration time.Duration `mapstructure:"duration"`
	// Secure marks the cookie Secure; disable only for local development
	Secure bool `mapstructure:"secure"`
}

// APIKeyConfig holds API key issuance configuration
type APIKeyConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxPerAccount caps the number of enabled, unexpired keys per account
	MaxPerAccount int `mapstructure:"max_per_account"`
	// MaxExpiryDays caps how far in the future a key expiry may be set; 0 = no cap
	MaxExpiryDays int `mapstructure:"max_expiry_days"`
}

// StorageConfig holds storage settings that are not part of a data connection
// record. Connection records carry their own bucket, region, endpoint, and
// encrypted credentials; this section covers the local backend and the
// encryption key used to open connection credentials at rest.
type StorageConfig struct {
	// EncryptionKey decrypts data connection credentials. Falls back to the
	// ENCRYPTION_KEY environment variable when unset.
	EncryptionKey string             `mapstructure:"encryption_key"`
	Local         LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath      string `mapstructure:"base_path"`
	ServeDirectly bool   `mapstructure:"serve_directly"`
}

// BootstrapConfig holds first-run provisioning settings
type BootstrapConfig struct {
	// Enabled creates the admin account and its API key on startup when the
	// accounts table is empty
	Enabled bool `mapstructure:"enabled"`
	// AdminAccountID is the slug of the bootstrap admin account
	AdminAccountID string `mapstructure:"admin_account_id"`
	// AdminEmail is the contact address stored on the bootstrap account
	AdminEmail string `mapstructure:"admin_email"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration.
// With a redis_url set, limits are enforced across all replicas via Redis;
// otherwise each replica keeps its own in-memory counters.
type RateLimitingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	RedisURL          string `mapstructure:"redis_url"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// Enabled determines if audit logging is active
	Enabled bool `mapstructure:"enabled"`
	// LogReadOperations determines if GET requests should be logged
	LogReadOperations bool `mapstructure:"log_read_operations"`
	// LogFailedRequests determines if failed requests (4xx/5xx) should be logged
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// RetentionDays is how long audit records are kept in the database.
	// Zero disables the retention sweep and records are kept forever.
	RetentionDays int `mapstructure:"retention_days"`
	// Shippers configures external log shipping
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	// Enabled determines if this shipper is active
	Enabled bool `mapstructure:"enabled"`
	// Type is the shipper type (syslog, webhook, file)
	Type string `mapstructure:"type"`
	// Syslog configuration
	Syslog *AuditSyslogConfig `mapstructure:"syslog"`
	// Webhook configuration
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	// File configuration
	File *AuditFileConfig `mapstructure:"file"`
}

// AuditSyslogConfig holds syslog shipper configuration
type AuditSyslogConfig struct {
	Network  string `mapstructure:"network"`  // udp, tcp, unix
	Address  string `mapstructure:"address"`  // server address
	Tag      string `mapstructure:"tag"`      // syslog tag
	Facility string `mapstructure:"facility"` // syslog facility
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// NotificationsConfig holds settings for outbound notification emails
type NotificationsConfig struct {
	// Enabled globally toggles all outbound notification emails. Requires SMTP to be configured.
	Enabled bool `mapstructure:"enabled"`
	// SMTP holds the outbound mail server settings
	SMTP SMTPConfig `mapstructure:"smtp"`
	// APIKeyExpiryWarningDays is how many days before expiry to send the first warning email (default 7)
	APIKeyExpiryWarningDays int `mapstructure:"api_key_expiry_warning_days"`
	// APIKeyExpiryCheckIntervalHours determines how often the expiry check job runs (default 24)
	APIKeyExpiryCheckIntervalHours int `mapstructure:"api_key_expiry_check_interval_hours"`
}

// SMTPConfig holds outbound mail server configuration for notification emails
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g. smtp.sendgrid.net)
	Host string `mapstructure:"host"`
	// Port is the SMTP server port (587 for STARTTLS, 465 for SMTPS, 25 for plain)
	Port int `mapstructure:"port"`
	// Username for SMTP authentication
	Username string `mapstructure:"username"`
	// Password for SMTP authentication
	Password string `mapstructure:"password"`
	// From is the sender address shown in notification emails
	From string `mapstructure:"from"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.read_timeout",
		"server.write_timeout",

		// Identity
		"identity.mode",
		"identity.ory.whoami_url",
		"identity.ory.cookie_name",
		"identity.ory.timeout",
		"identity.oidc.issuer_url",
		"identity.oidc.client_id",
		"identity.oidc.client_secret",
		"identity.oidc.redirect_url",
		"identity.oidc.scopes",
		"identity.oidc.session.secret",
		"identity.oidc.session.cookie_name",
		"identity.oidc.session.duration",
		"identity.oidc.session.secure",

		// API keys
		"api_keys.enabled",
		"api_keys.max_per_account",
		"api_keys.max_expiry_days",

		// Storage
		"storage.encryption_key",
		"storage.local.base_path",
		"storage.local.serve_directly",

		// Bootstrap
		"bootstrap.enabled",
		"bootstrap.admin_account_id",
		"bootstrap.admin_email",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.redis_url",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.enabled",
		"audit.log_read_operations",
		"audit.log_failed_requests",
		"audit.retention_days",

		// Notifications / SMTP
		"notifications.enabled",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.use_tls",
		"notifications.api_key_expiry_warning_days",
		"notifications.api_key_expiry_check_interval_hours",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/datahub-registry")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("DHR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Identity.OIDC.ClientSecret = expandEnv(cfg.Identity.OIDC.ClientSecret)
	cfg.Identity.OIDC.Session.Secret = expandEnv(cfg.Identity.OIDC.Session.Secret)
	cfg.Notifications.SMTP.Password = expandEnv(cfg.Notifications.SMTP.Password)

	// Unprefixed fallback for the credentials encryption key
	if cfg.Storage.EncryptionKey == "" {
		cfg.Storage.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	} else {
		cfg.Storage.EncryptionKey = expandEnv(cfg.Storage.EncryptionKey)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "datahub_registry")
	v.SetDefault("database.user", "registry")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Identity defaults
	v.SetDefault("identity.mode", "ory")
	v.SetDefault("identity.ory.whoami_url", "http://localhost:4433/sessions/whoami")
	v.SetDefault("identity.ory.cookie_name", "ory_kratos_session")
	v.SetDefault("identity.ory.timeout", "5s")
	v.SetDefault("identity.oidc.scopes", []string{"openid", "email", "profile"})
	v.SetDefault("identity.oidc.session.cookie_name", "dhr_session")
	v.SetDefault("identity.oidc.session.duration", "12h")
	v.SetDefault("identity.oidc.session.secure", true)

	// API key defaults
	v.SetDefault("api_keys.enabled", true)
	v.SetDefault("api_keys.max_per_account", 20)
	v.SetDefault("api_keys.max_expiry_days", 0)

	// Storage defaults
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.local.serve_directly", true)

	// Bootstrap defaults
	v.SetDefault("bootstrap.enabled", false)
	v.SetDefault("bootstrap.admin_account_id", "admin")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.rate_limiting.redis_url", "")
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "datahub-registry")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_read_operations", false)
	v.SetDefault("audit.log_failed_requests", true)
	v.SetDefault("audit.retention_days", 0)

	// Notifications defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", true)
	v.SetDefault("notifications.api_key_expiry_warning_days", 7)
	v.SetDefault("notifications.api_key_expiry_check_interval_hours", 24)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate identity mode
	switch c.Identity.Mode {
	case "ory":
		if c.Identity.Ory.WhoamiURL == "" {
			return fmt.Errorf("identity.ory.whoami_url is required in ory mode")
		}
	case "oidc":
		if c.Identity.OIDC.IssuerURL == "" {
			return fmt.Errorf("identity.oidc.issuer_url is required in oidc mode")
		}
		if c.Identity.OIDC.ClientID == "" {
			return fmt.Errorf("identity.oidc.client_id is required in oidc mode")
		}
		if c.Identity.OIDC.ClientSecret == "" {
			return fmt.Errorf("identity.oidc.client_secret is required in oidc mode")
		}
		if c.Identity.OIDC.Session.Secret == "" {
			return fmt.Errorf("identity.oidc.session.secret is required in oidc mode")
		}
		if len(c.Identity.OIDC.Session.Secret) < 32 {
			return fmt.Errorf("identity.oidc.session.secret must be at least 32 characters")
		}
	default:
		return fmt.Errorf("invalid identity mode: %s (must be ory or oidc)", c.Identity.Mode)
	}

	// Validate API key limits
	if c.APIKeys.MaxPerAccount < 0 {
		return fmt.Errorf("api_keys.max_per_account must not be negative")
	}
	if c.APIKeys.MaxExpiryDays < 0 {
		return fmt.Errorf("api_keys.max_expiry_days must not be negative")
	}

	// Validate local storage
	if c.Storage.Local.BasePath == "" {
		return fmt.Errorf("storage.local.base_path is required")
	}

	// Validate bootstrap
	if c.Bootstrap.Enabled && c.Bootstrap.AdminAccountID == "" {
		return fmt.Errorf("bootstrap.admin_account_id is required when bootstrap is enabled")
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
