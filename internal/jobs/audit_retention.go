// audit_retention.go implements the AuditRetentionSweeper background job, which
// periodically deletes audit records older than the configured retention window.
// The sweep runs once a day; a retention of zero days disables it entirely so
// records are kept forever. External shippers are unaffected: anything already
// forwarded to syslog, webhook, or file destinations stays wherever it landed.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
)

// sweepInterval is how often the retention check runs. The cutoff is computed
// fresh each pass, so a missed tick only delays deletion, never skips records.
const sweepInterval = 24 * time.Hour

// AuditRetentionSweeper deletes audit log rows older than the retention window.
type AuditRetentionSweeper struct {
	auditRepo     *repositories.AuditRepository
	retentionDays int
	interval      time.Duration
	stopChan      chan struct{}
}

// NewAuditRetentionSweeper creates a sweeper for the given retention window in
// days. A non-positive retentionDays produces a sweeper whose Start is a no-op.
func NewAuditRetentionSweeper(auditRepo *repositories.AuditRepository, retentionDays int) *AuditRetentionSweeper {
	return &AuditRetentionSweeper{
		auditRepo:     auditRepo,
		retentionDays: retentionDays,
		interval:      sweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the background retention loop. It runs an initial sweep
// immediately, then repeats on the sweep interval. The loop exits when ctx is
// cancelled or Stop() is called.
func (s *AuditRetentionSweeper) Start(ctx context.Context) {
	if s.retentionDays <= 0 {
		slog.Info("audit retention sweeper disabled", "reason", "audit.retention_days not set")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("audit retention sweeper started",
		"retention_days", s.retentionDays, "sweep_interval", s.interval)

	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopChan:
			slog.Info("audit retention sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("audit retention sweeper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *AuditRetentionSweeper) Stop() {
	close(s.stopChan)
}

// runSweep deletes rows older than the cutoff and logs how many went away.
func (s *AuditRetentionSweeper) runSweep(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)

	purged, err := s.auditRepo.DeleteAuditLogsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("audit retention sweep failed", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("audit retention sweep complete", "purged", purged, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
}
