package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/warmtransfer/internal/shared"
)

const reaperInterval = time.Minute

// RecordCleaner deletes call records older than a retention window.
type RecordCleaner interface {
	CleanupExpiredCalls(ctx context.Context, retention time.Duration) (int64, error)
}

// StartReaper runs a background goroutine that closes idle tabs and sweeps old call records.
// cleaner may be nil.
func StartReaper(ctx context.Context, reg *Registry, cleaner RecordCleaner, idleTTL, retention time.Duration) {
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", reaperInterval, "idle_ttl", idleTTL, "retention", retention)

		for {
			select {
			case <-ticker.C:
				reap(ctx, reg, cleaner, idleTTL, retention)
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reap(ctx context.Context, reg *Registry, cleaner RecordCleaner, idleTTL, retention time.Duration) {
	if n := reg.ReapIdle(idleTTL); n > 0 {
		slog.Info("Session reaper closed idle tabs", "count", n, "open_tabs", reg.Len())
	}

	if cleaner == nil || retention <= 0 {
		return
	}
	deleted, err := cleanupWithRetry(ctx, cleaner, retention)
	if err != nil {
		slog.Error("Session reaper failed to clean up call records", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session reaper cleaned up call records", "count", deleted)
	}
}

// cleanupWithRetry retries sqlite lock conflicts with exponential backoff: 50ms, 100ms.
func cleanupWithRetry(ctx context.Context, cleaner RecordCleaner, retention time.Duration) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func() error {
		var err error
		deleted, err = cleaner.CleanupExpiredCalls(ctx, retention)
		if shared.IsSQLiteConflictError(err) {
			slog.Debug("Call record cleanup hit a locked database", "error", err)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
