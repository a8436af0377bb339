// Package main is the entry point for the registry server binary. It
// dispatches three subcommands, serve, migrate, and version, via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place
// without requiring a cobra dependency. The serve command runs auto-migration
// on startup so freshly deployed containers never need a separate migration
// step.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datahub-registry/datahub-registry/internal/api"
	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/services"
	"github.com/datahub-registry/datahub-registry/internal/telemetry"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("DataHub Registry v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Structured logging first so everything after uses the configured
	// format and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"name", cfg.Database.Name,
		"user", cfg.Database.User,
		"ssl_mode", cfg.Database.SSLMode)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Export DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database)

	slog.Info("running database migrations")
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if schemaVersion, dirty, verErr := db.GetMigrationVersion(database); verErr != nil {
		slog.Warn("failed to read migration version", "error", verErr)
	} else {
		slog.Info("database schema ready", "version", schemaVersion, "dirty", dirty)
	}

	// First-run provisioning: an empty accounts table gets the bootstrap
	// admin and its initial API key.
	if cfg.Bootstrap.Enabled {
		if err := bootstrapAdmin(cfg, database); err != nil {
			slog.Warn("bootstrap provisioning failed", "error", err)
		}
	}

	// Prometheus scrape endpoint on a dedicated port so it is not reachable
	// through the public API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices, err := api.NewRouter(cfg, database)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"identity_mode", cfg.Identity.Mode)

		var err error
		if cfg.Security.TLS.Enabled {
			slog.Info("TLS enabled", "cert", cfg.Security.TLS.CertFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs and rate limiter goroutines after in-flight
	// requests have drained.
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// bootstrapAdmin provisions the first admin account when the accounts table
// is empty. The generated API key's secret is printed to the log exactly once
// and never stored in recoverable form elsewhere; the key is short-lived and
// meant to be replaced through the API right after first login.
func bootstrapAdmin(cfg *config.Config, database *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accountRepo := repositories.NewAccountRepository(database)
	total, err := accountRepo.CountAccounts(ctx)
	if err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if total > 0 {
		return nil
	}

	accountID := cfg.Bootstrap.AdminAccountID
	if accountID == "" {
		accountID = "admin"
	}

	account := &models.Account{
		ID:          accountID,
		Type:        models.AccountTypeUser,
		DisplayName: "Administrator",
		Flags:       []models.AccountFlag{models.FlagAdmin},
	}
	if cfg.Bootstrap.AdminEmail != "" {
		email := cfg.Bootstrap.AdminEmail
		account.Email = &email
	}
	if err := accountRepo.CreateAccount(ctx, account); err != nil {
		return fmt.Errorf("create admin account: %w", err)
	}

	keys := services.NewAPIKeyService(repositories.NewAPIKeyRepository(database), cfg.APIKeys)
	key, err := keys.CreateKey(ctx, accountID, "bootstrap", time.Now().Add(72*time.Hour))
	if err != nil {
		return fmt.Errorf("issue bootstrap key: %w", err)
	}

	separator := strings.Repeat("=", 66)
	log.Println("")
	log.Println(separator)
	log.Println("  FIRST-RUN PROVISIONING COMPLETE")
	log.Println("")
	log.Printf("  Admin account:     %s", accountID)
	log.Printf("  Access key ID:     %s", key.AccessKeyID)
	log.Printf("  Secret access key: %s", key.SecretAccessKey)
	log.Printf("  Key expires:       %s", key.Expires.Format(time.RFC3339))
	log.Println("")
	log.Println("  Authenticate with the header: Authorization: <access-key-id> <secret>")
	log.Println("  This secret is shown once. Issue a long-lived key and revoke")
	log.Println("  this one after first login.")
	log.Println(separator)
	log.Println("")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration %s failed: %w", direction, err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("migrations complete", "direction", direction, "version", schemaVersion, "dirty", dirty)
	return nil
}
