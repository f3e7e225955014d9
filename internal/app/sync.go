package app

import (
	"context"
	"time"

	"github.com/ashureev/growthdesk/internal/domain"
)

// sync mirrors in-memory state to the store in the background. Failures are
// logged here and never reach the caller; the next write of the same
// aggregate carries the latest state again.
func (c *Controller) sync(op string, fn func(ctx context.Context) error) {
	c.syncs.Add(1)
	go func() {
		defer c.syncs.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.SyncTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			c.logger.Warn("Background sync failed", "op", op, "error", err)
			return
		}
		c.logger.Debug("Background sync complete", "op", op, "duration", time.Since(start))
	}()
}

func (c *Controller) saveSnapshot(businessID string, profile *domain.BusinessProfile, strategy *domain.ComprehensiveStrategy) {
	if businessID == "" || profile == nil || !strategy.IsPresent() {
		return
	}
	snapshot := &domain.StrategySnapshot{Profile: *profile, Strategy: *strategy}
	c.sync("strategy_snapshot", func(ctx context.Context) error {
		return c.store.UpsertStrategySnapshot(ctx, businessID, snapshot)
	})
}

// saveProfileState persists a profile change: through the strategy
// snapshot when a strategy exists, otherwise on its own.
func (c *Controller) saveProfileState(s State) {
	if !s.canTrack() || s.Profile == nil {
		return
	}
	if s.Strategy.IsPresent() {
		c.saveSnapshot(s.BusinessID, s.Profile, s.Strategy)
		return
	}
	userID, profile := s.UserID(), s.Profile
	c.sync("business_profile", func(ctx context.Context) error {
		_, err := c.store.UpsertBusinessProfile(ctx, userID, profile)
		return err
	})
}
