package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// StartPriority opens the single most important action.
func (c *Controller) StartPriority() error {
	return c.moveTo(ViewWow, ViewDashboard, ViewRoadmap)
}

// AcknowledgeWow returns to the dashboard after the priority is shown.
func (c *Controller) AcknowledgeWow() error {
	return c.moveTo(ViewDashboard, ViewWow)
}

// CompletePriority marks the current priority done.
func (c *Controller) CompletePriority() error {
	return c.moveTo(ViewCompletion, ViewDashboard, ViewRoadmap, ViewWow)
}

// moveTo switches to view when the strategy is present and the current
// view is one of from.
func (c *Controller) moveTo(view View, from ...View) error {
	_, err := c.commit(nil, func(s State) (Action, error) {
		if !s.Strategy.IsPresent() {
			return nil, fmt.Errorf("%w: no strategy yet", errdefs.ErrFailedPrecondition)
		}
		for _, v := range from {
			if s.View == v {
				return Navigated{View: view}, nil
			}
		}
		return nil, fmt.Errorf("%w: cannot go to %s from %s", errdefs.ErrFailedPrecondition, view, s.View)
	})
	return err
}

// Navigate is sidebar navigation: it sets the view directly.
func (c *Controller) Navigate(view View) error {
	_, err := c.commit(nil, func(s State) (Action, error) {
		switch view {
		case ViewRoadmap, ViewDashboard:
			if !s.Strategy.IsPresent() {
				return nil, fmt.Errorf("%w: no strategy yet", errdefs.ErrFailedPrecondition)
			}
		case ViewReport:
			if s.Audit == nil {
				return nil, fmt.Errorf("%w: no audit yet", errdefs.ErrFailedPrecondition)
			}
		case ViewWeeklyAgency:
			if s.WeeklyPlan == nil {
				return nil, fmt.Errorf("%w: no weekly plan yet", errdefs.ErrFailedPrecondition)
			}
		case ViewPricing:
			if s.Session == nil {
				return nil, fmt.Errorf("%w: sign in first", errdefs.ErrUnauthenticated)
			}
		default:
			return nil, fmt.Errorf("%w: cannot navigate to %q", errdefs.ErrInvalidArgument, view)
		}
		return Navigated{View: view}, nil
	})
	return err
}

// RequestSubAction publishes a one-shot dashboard action such as opening
// the chat panel. It is withdrawn shortly after so the same action can be
// requested again.
func (c *Controller) RequestSubAction(action string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return fmt.Errorf("%w: action is required", errdefs.ErrInvalidArgument)
	}

	var seq uint64
	_, err := c.commit(nil, func(s State) (Action, error) {
		if s.Session == nil {
			return nil, fmt.Errorf("%w: sign in first", errdefs.ErrUnauthenticated)
		}
		c.subActionSeq++
		seq = c.subActionSeq
		return SubActionRequested{Action: action}, nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return nil
	}
	epoch := c.epoch
	c.afterLocked(c.opts.SubActionClear, func() {
		_, _ = c.commit(&epoch, func(State) (Action, error) {
			if c.subActionSeq != seq {
				return nil, nil
			}
			return SubActionCleared{}, nil
		})
	})
	return nil
}

// Logout clears all user state before signing out remotely, then shows the
// sign-in view whatever the remote outcome.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	if _, err := c.commit(nil, func(State) (Action, error) { return LogoutStarted{}, nil }); err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.Clear()
	}

	if err := c.auth.SignOut(ctx, c.deviceID); err != nil {
		c.logger.Warn("Remote sign-out failed", "error", err)
	}

	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()
	_, err := c.commit(nil, func(State) (Action, error) { return SessionCleared{}, nil })
	return err
}
