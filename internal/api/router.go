// Package api wires together all HTTP routes for the registry.
//
// Route grouping philosophy:
//   - Principal resolution runs once per request and never denies by itself.
//     Anonymous callers reach every handler; the authorization engine decides
//     per operation, so public repository discovery and OPEN data reads work
//     without credentials while everything else comes back 401 or 404.
//   - Admin routes (/api/v1/admin/) sit behind RequireAdmin in addition to
//     the per-handler checks, so a non-admin never reaches those handlers.
//   - Liveness, readiness, and version endpoints live outside the /api/v1
//     group and skip rate limiting and principal resolution entirely.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/datahub-registry/datahub-registry/internal/api/accounts"
	"github.com/datahub-registry/datahub-registry/internal/api/admin"
	"github.com/datahub-registry/datahub-registry/internal/api/apikeys"
	"github.com/datahub-registry/datahub-registry/internal/api/connections"
	"github.com/datahub-registry/datahub-registry/internal/api/memberships"
	"github.com/datahub-registry/datahub-registry/internal/api/repos"
	"github.com/datahub-registry/datahub-registry/internal/api/session"
	"github.com/datahub-registry/datahub-registry/internal/audit"
	"github.com/datahub-registry/datahub-registry/internal/auth"
	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/crypto"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/identity"
	"github.com/datahub-registry/datahub-registry/internal/identity/oidc"
	"github.com/datahub-registry/datahub-registry/internal/identity/ory"
	"github.com/datahub-registry/datahub-registry/internal/jobs"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
	"github.com/datahub-registry/datahub-registry/internal/storage"

	// Import storage backends to register them
	_ "github.com/datahub-registry/datahub-registry/internal/storage/azure"
	_ "github.com/datahub-registry/datahub-registry/internal/storage/gcs"
	_ "github.com/datahub-registry/datahub-registry/internal/storage/local"
	_ "github.com/datahub-registry/datahub-registry/internal/storage/s3"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	expiryNotifier   *jobs.APIKeyExpiryNotifier
	retentionSweeper *jobs.AuditRetentionSweeper
	rateLimiters     []*middleware.RateLimiter
	redisLimiter     *middleware.RedisRateLimiter
	auditShipper     *audit.MultiShipper
}

// Shutdown stops all background goroutines and closes pooled resources. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.expiryNotifier != nil {
		bg.expiryNotifier.Stop()
	}
	if bg.retentionSweeper != nil {
		bg.retentionSweeper.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redisLimiter != nil {
		if err := bg.redisLimiter.Close(); err != nil {
			slog.Error("failed to close redis rate limiter", "error", err)
		}
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Error("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	// Credential cipher for data connection secrets.
	encryptionKey := cfg.Storage.EncryptionKey
	if encryptionKey == "" {
		encryptionKey = os.Getenv("ENCRYPTION_KEY")
	}
	cipher, err := crypto.NewCredentialCipher([]byte(encryptionKey))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}

	// Repositories shared across handlers and background jobs.
	accountRepo := repositories.NewAccountRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	sqlxDB := sqlx.NewDb(db, "postgres")

	// Identity verifier per configured mode. In ory mode the whoami client is
	// the verifier and the registry hosts no login endpoints; in oidc mode the
	// registry runs the login flow itself and verifies its own session JWTs.
	var (
		verifier     identity.Verifier
		oidcProvider *oidc.Provider
		sessions     *auth.SessionManager
	)
	switch cfg.Identity.Mode {
	case "oidc":
		oidcProvider, err = oidc.NewProvider(&cfg.Identity.OIDC)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		sessions, err = auth.NewSessionManager(&cfg.Identity.OIDC.Session)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize session manager: %w", err)
		}
		verifier = sessions
	default:
		verifier = ory.NewClient(&cfg.Identity.Ory)
	}

	resolver := auth.NewResolver(accountRepo, membershipRepo, apiKeyRepo, verifier, slog.Default())

	// Background expiry notifier. Start is a no-op when notifications are
	// disabled in config.
	expiryNotifier := jobs.NewAPIKeyExpiryNotifier(apiKeyRepo, accountRepo, &cfg.Notifications)
	go expiryNotifier.Start(context.Background())

	// Audit retention sweep. Start is a no-op when retention_days is zero.
	retentionSweeper := jobs.NewAuditRetentionSweeper(auditRepo, cfg.Audit.RetentionDays)
	go retentionSweeper.Start(context.Background())

	// Audit shipping to external destinations is optional; a broken shipper
	// config degrades to database-only audit records.
	var shipper *audit.MultiShipper
	if cfg.Audit.Enabled && len(cfg.Audit.Shippers) > 0 {
		shipper, err = audit.NewMultiShipper(shipperConfigs(&cfg.Audit))
		if err != nil {
			slog.Error("failed to initialize audit shippers, continuing with database audit only", "error", err)
			shipper = nil
		}
	}

	bg := &BackgroundServices{
		expiryNotifier:   expiryNotifier,
		retentionSweeper: retentionSweeper,
		auditShipper:     shipper,
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, cfg))
	router.GET("/version", versionHandler())

	// Rate limiters. The general limiter fronts the whole API group; the auth
	// limiter throttles login attempts and the upload limiter data writes.
	var generalRate gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		limit := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			limit.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			limit.BurstSize = cfg.Security.RateLimiting.Burst
		}

		if redisURL := cfg.Security.RateLimiting.RedisURL; redisURL != "" {
			redisLimiter, redisErr := middleware.NewRedisRateLimiter(redisURL, limit)
			if redisErr != nil {
				return nil, nil, fmt.Errorf("failed to initialize redis rate limiter: %w", redisErr)
			}
			bg.redisLimiter = redisLimiter
			generalRate = middleware.RedisRateLimitMiddleware(redisLimiter)
		} else {
			limiter := middleware.NewRateLimiter(limit)
			bg.rateLimiters = append(bg.rateLimiters, limiter)
			generalRate = middleware.RateLimitMiddleware(limiter)
		}
	}
	authRateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	uploadRateLimiter := middleware.NewRateLimiter(middleware.UploadRateLimitConfig())
	bg.rateLimiters = append(bg.rateLimiters, authRateLimiter, uploadRateLimiter)

	api := router.Group("/api/v1")
	if generalRate != nil {
		api.Use(generalRate)
	}
	api.Use(middleware.PrincipalMiddleware(resolver))
	if cfg.Audit.Enabled {
		api.Use(middleware.AuditMiddlewareWithShipper(auditRepo, shipperOrNil(shipper), &cfg.Audit))
	}

	// Session endpoints. The whoami view is available in both identity modes;
	// login, callback, and logout exist only when the registry runs the OIDC
	// flow itself.
	api.GET("/session", session.SessionHandler())
	if oidcProvider != nil {
		login := api.Group("/session")
		login.Use(middleware.RateLimitMiddleware(authRateLimiter))
		{
			login.GET("/login", session.LoginHandler(oidcProvider, sessions))
			login.GET("/callback", session.CallbackHandler(oidcProvider, sessions))
			login.POST("/logout", session.LogoutHandler(oidcProvider, sessions))
		}
	}

	// Accounts
	api.POST("/accounts", accounts.CreateAccountHandler(db))
	api.GET("/accounts/:account", accounts.GetAccountHandler(db))
	api.PUT("/accounts/:account", accounts.UpdateAccountHandler(db))
	api.DELETE("/accounts/:account", accounts.DisableAccountHandler(db))
	api.PUT("/accounts/:account/disabled", accounts.SetAccountDisabledHandler(db))
	api.GET("/accounts/:account/flags", accounts.GetAccountFlagsHandler(db))
	api.PUT("/accounts/:account/flags", accounts.UpdateAccountFlagsHandler(db))

	// API keys
	api.POST("/accounts/:account/apikeys", apikeys.CreateKeyHandler(db, cfg))
	api.GET("/accounts/:account/apikeys", apikeys.ListKeysHandler(db))
	api.GET("/accounts/:account/apikeys/:key", apikeys.GetKeyHandler(db))
	api.DELETE("/accounts/:account/apikeys/:key", apikeys.RevokeKeyHandler(db, cfg))

	// Repositories
	api.GET("/repositories", repos.ListRepositoriesHandler(db))
	api.POST("/accounts/:account/repositories", repos.CreateRepositoryHandler(db))
	api.GET("/accounts/:account/repositories", repos.ListAccountRepositoriesHandler(db))
	api.GET("/accounts/:account/repositories/:repository", repos.GetRepositoryHandler(db))
	api.PUT("/accounts/:account/repositories/:repository", repos.UpdateRepositoryHandler(db))
	api.DELETE("/accounts/:account/repositories/:repository", repos.DisableRepositoryHandler(db))
	api.PUT("/accounts/:account/repositories/:repository/disabled", repos.SetRepositoryDisabledHandler(db))

	// Repository data plane
	api.GET("/accounts/:account/repositories/:repository/data/*path", repos.DownloadHandler(db, cfg, cipher))
	api.PUT("/accounts/:account/repositories/:repository/data/*path",
		middleware.RateLimitMiddleware(uploadRateLimiter),
		repos.UploadHandler(db, cfg, cipher))
	api.DELETE("/accounts/:account/repositories/:repository/data/*path", repos.DeleteDataHandler(db, cfg, cipher))

	// Memberships
	api.POST("/memberships", memberships.InviteHandler(db))
	api.GET("/memberships", memberships.ListMembershipsHandler(db))
	api.GET("/memberships/:id", memberships.GetMembershipHandler(db))
	api.DELETE("/memberships/:id", memberships.RevokeHandler(db))
	api.POST("/memberships/:id/accept", memberships.AcceptHandler(db))
	api.POST("/memberships/:id/reject", memberships.RejectHandler(db))
	api.PUT("/memberships/:id/role", memberships.UpdateRoleHandler(db))
	api.GET("/accounts/:account/memberships", memberships.ListGrantedMembershipsHandler(db))

	// Data connections. The handlers enforce admin-only writes themselves;
	// reads are open to any enabled account.
	api.POST("/connections", connections.CreateConnectionHandler(db, cipher))
	api.GET("/connections", connections.ListConnectionsHandler(db))
	api.GET("/connections/:id", connections.GetConnectionHandler(db))
	api.PUT("/connections/:id", connections.UpdateConnectionHandler(db, cipher))
	api.PUT("/connections/:id/disabled", connections.SetConnectionDisabledHandler(db))
	api.DELETE("/connections/:id", connections.DeleteConnectionHandler(db, cipher))
	api.GET("/connections/:id/credentials", connections.GetCredentialsHandler(db, cipher))

	// Admin
	adminGroup := api.Group("/admin")
	adminGroup.Use(middleware.RequireAdmin())
	{
		adminGroup.GET("/stats", admin.StatsHandler(sqlxDB))
		adminGroup.GET("/accounts", admin.ListAccountsHandler(db))
		adminGroup.GET("/audit-logs", admin.ListAuditLogsHandler(db))
		adminGroup.GET("/audit-logs/:id", admin.GetAuditLogHandler(db))
	}

	return router, bg, nil
}

// shipperOrNil avoids handing a typed nil to the audit middleware's interface
// parameter.
func shipperOrNil(shipper *audit.MultiShipper) audit.Shipper {
	if shipper == nil {
		return nil
	}
	return shipper
}

// shipperConfigs converts the viper-loaded audit shipper settings into the
// audit package's own config types.
func shipperConfigs(cfg *config.AuditConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(cfg.Shippers))
	for _, sc := range cfg.Shippers {
		converted := audit.ShipperConfig{
			Enabled: sc.Enabled,
			Type:    sc.Type,
		}
		if sc.Syslog != nil {
			converted.Syslog = &audit.SyslogConfig{
				Network:  sc.Syslog.Network,
				Address:  sc.Syslog.Address,
				Tag:      sc.Syslog.Tag,
				Facility: sc.Syslog.Facility,
			}
		}
		if sc.Webhook != nil {
			converted.Webhook = &audit.WebhookConfig{
				URL:           sc.Webhook.URL,
				Headers:       sc.Webhook.Headers,
				Timeout:       time.Duration(sc.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     sc.Webhook.BatchSize,
				FlushInterval: time.Duration(sc.Webhook.FlushInterval) * time.Second,
			}
		}
		if sc.File != nil {
			converted.File = &audit.FileConfig{
				Path:       sc.File.Path,
				MaxSizeMB:  sc.File.MaxSizeMB,
				MaxBackups: sc.File.MaxBackups,
			}
		}
		out = append(out, converted)
	}
	return out
}

// healthCheckHandler returns the liveness status of the service.
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns whether the service is ready to accept traffic.
// Unlike the liveness probe (/health) it also probes the local storage
// backend when one is configured, so a readiness gate fails when data-plane
// requests would error. Remote connections are probed per request, not here:
// one downed S3 bucket must not take the whole API out of rotation.
func readinessHandler(db *sql.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if cfg.Storage.Local.BasePath != "" {
			// Exists() on a known-absent sentinel path exercises the backend
			// without creating any state.
			probe := &models.DataConnection{Type: models.ConnectionLocal}
			backend, err := storage.NewBackend(probe, &models.ConnectionCredentials{}, cfg.Storage.Local)
			if err == nil {
				_, err = backend.Exists(c.Request.Context(), ".readiness-probe")
			}
			if err != nil {
				checks["storage"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "local storage not ready",
				})
				return
			}
			checks["storage"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "1.0.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware emits one structured log record per request.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS for the configured origins.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
