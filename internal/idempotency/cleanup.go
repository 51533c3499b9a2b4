package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiry is how long idempotency keys are retained. Keys older than
// this no longer guard against meaningful retries; clients retrying a day
// later are treated as new requests.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys removes keys older than the expiry and logs the result.
func CleanupOldKeys(ctx context.Context, repo Repository, expiry time.Duration, logger *slog.Logger) {
	cutoff := time.Now().UTC().Add(-expiry)
	removed, err := repo.DeleteOlderThan(cutoff)
	if err != nil {
		logger.ErrorContext(ctx, "idempotency cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		logger.InfoContext(ctx, "expired idempotency keys removed", "count", removed)
	}
}

// RunPeriodicCleanup runs CleanupOldKeys on the given interval until the
// context is cancelled. Intended to run in its own goroutine.
func RunPeriodicCleanup(ctx context.Context, repo Repository, interval, expiry time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			CleanupOldKeys(ctx, repo, expiry, logger)
		}
	}
}
