package core

// scheduler.go runs periodic background maintenance.
//
// The resync job reloads every loaded organization snapshot from the store.
// Notifications keep snapshots current between runs; the resync repairs any
// drift from a dropped notification or a write made by another process
// without a change feed (SQLite). Failures are logged and retried on the next
// tick.

import (
	"context"
	"log/slog"
	"time"
)

// StartResyncScheduler reloads all loaded snapshots every interval until ctx
// is cancelled. A non-positive interval disables it.
func (s *Service) StartResyncScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		slog.Info("resync scheduler disabled")
		return
	}
	slog.Info("resync scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("resync scheduler stopped")
			return
		case <-ticker.C:
			s.runResyncJob(ctx)
		}
	}
}

// runResyncJob performs one reload cycle.
func (s *Service) runResyncJob(ctx context.Context) {
	start := time.Now()

	reloaded, err := s.ReloadAll(ctx)
	if err != nil {
		slog.Error("resync failed", "reloaded", reloaded, "error", err)
		return
	}
	slog.Debug("resync completed",
		"reloaded", reloaded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
