package api

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredSessionDeleter removes sign-ins that are past their expiry.
type ExpiredSessionDeleter interface {
	DeleteExpiredAuthSessions(ctx context.Context, now time.Time) (int64, error)
}

// ExpiredEntryDeleter drops cached results past their expiry.
type ExpiredEntryDeleter interface {
	DeleteExpired(now time.Time) int
}

// EvictCallback is called for every device whose controller was evicted.
type EvictCallback func(deviceID string)

// StartSweeper runs a background goroutine that periodically deletes
// expired sign-ins and cached results, and closes controllers idle for
// longer than idle.
// Devices with an open state stream are never evicted.
func StartSweeper(ctx context.Context, sessions ExpiredSessionDeleter, results ExpiredEntryDeleter, controllers *Controllers, streams *StreamManager, interval, idle time.Duration, onEvict EvictCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sweeper started", "interval", interval, "idle_ttl", idle)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, sessions, results, controllers, streams, idle, onEvict)
			case <-ctx.Done():
				slog.Info("Sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, sessions ExpiredSessionDeleter, results ExpiredEntryDeleter, controllers *Controllers, streams *StreamManager, idle time.Duration, onEvict EvictCallback) {
	now := time.Now()
	if deleted, err := sessions.DeleteExpiredAuthSessions(ctx, now); err != nil {
		slog.Error("Sweeper failed to delete expired sessions", "error", err)
	} else if deleted > 0 {
		slog.Info("Sweeper deleted expired sessions", "count", deleted)
	}
	if results != nil {
		if n := results.DeleteExpired(now); n > 0 {
			slog.Debug("Sweeper dropped expired results", "count", n)
		}
	}

	busy := func(deviceID string) bool { return streams.Count(deviceID) > 0 }
	evicted := controllers.EvictIdle(idle, busy)
	for _, deviceID := range evicted {
		if onEvict != nil {
			onEvict(deviceID)
		}
	}
	if len(evicted) > 0 {
		slog.Info("Sweeper evicted idle controllers", "count", len(evicted), "remaining", controllers.Len())
	}
}
