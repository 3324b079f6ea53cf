package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/osscout/scout/internal/shared"
)

const maintenanceInterval = 5 * time.Minute

// StartMaintenanceWorker runs a background goroutine that periodically
// deletes stale issue-cache rows and expired login sessions. Chat sessions
// are never swept; they live until the user clears them.
func StartMaintenanceWorker(ctx context.Context, repo Repository, cacheTTL time.Duration) {
	ticker := time.NewTicker(maintenanceInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Maintenance worker started", "interval", maintenanceInterval, "cache_ttl", cacheTTL)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, cacheTTL)
			case <-ctx.Done():
				slog.Info("Maintenance worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo Repository, cacheTTL time.Duration) {
	now := time.Now()

	var staleIssues int64
	err := shared.RetryOnBusy(ctx, 3, 100*time.Millisecond, func() error {
		n, sweepErr := repo.DeleteStaleIssues(ctx, now.Add(-cacheTTL))
		staleIssues = n
		return sweepErr
	})
	if err != nil {
		slog.Error("Maintenance worker failed to sweep issue cache", "error", err)
	} else if staleIssues > 0 {
		slog.Info("Maintenance worker removed stale cached issues", "count", staleIssues)
	}

	var expiredSessions int64
	err = shared.RetryOnBusy(ctx, 3, 100*time.Millisecond, func() error {
		n, sweepErr := repo.DeleteExpiredAuthSessions(ctx, now)
		expiredSessions = n
		return sweepErr
	})
	if err != nil {
		slog.Error("Maintenance worker failed to sweep login sessions", "error", err)
	} else if expiredSessions > 0 {
		slog.Info("Maintenance worker removed expired login sessions", "count", expiredSessions)
	}
}
