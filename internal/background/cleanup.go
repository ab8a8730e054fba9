package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/carelock/carelock/internal/ingest"
	"github.com/carelock/carelock/internal/session"
)

// CleanupManager periodically purges expired sessions and retries deletion
// of orphaned blobs left behind by fail-closed uploads.
type CleanupManager struct {
	sessions *session.Store
	pipeline *ingest.Pipeline
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sessions *session.Store,
	pipeline *ingest.Pipeline,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessions: sessions,
		pipeline: pipeline,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	purged, err := cm.sessions.PurgeExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to purge expired sessions", slog.Any("error", err))
	} else if purged > 0 {
		cm.logger.Info("expired session cleanup completed", slog.Int64("sessions_purged", purged))
	}

	if err := cm.pipeline.RetryOrphanCleanup(cleanupCtx, 100); err != nil {
		cm.logger.Error("failed to retry orphan blob cleanup", slog.Any("error", err))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
