package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/ashureev/growthdesk/internal/domain"
)

// SaveStep replaces the answers for one module step and mirrors the whole
// execution state to the store. Without a saved business it does nothing.
func (c *Controller) SaveStep(index int, fields map[string]string) error {
	if index < 0 {
		return fmt.Errorf("%w: step index %d", errdefs.ErrInvalidArgument, index)
	}

	tracked := false
	next, err := c.commit(nil, func(s State) (Action, error) {
		if !s.canTrack() {
			return nil, nil
		}
		tracked = true
		return StepSaved{Index: index, Fields: fields}, nil
	})
	if err != nil || !tracked {
		return err
	}

	userID, businessID, execution := next.UserID(), next.BusinessID, next.Execution
	c.sync("execution_progress", func(ctx context.Context) error {
		return c.store.UpsertProgress(ctx, userID, businessID, domain.ProgressExecution, execution)
	})
	return nil
}

// ToggleWeeklyTask flips one day's completion and mirrors the whole weekly
// plan to the store. Without a saved business it does nothing.
func (c *Controller) ToggleWeeklyTask(index int) error {
	tracked := false
	next, err := c.commit(nil, func(s State) (Action, error) {
		if !s.canTrack() {
			return nil, nil
		}
		plan, err := s.WeeklyPlan.WithToggledDay(index)
		if err != nil {
			return nil, err
		}
		tracked = true
		return WeeklyPlanUpdated{Plan: plan}, nil
	})
	if err != nil || !tracked {
		return err
	}

	userID, businessID, plan := next.UserID(), next.BusinessID, next.WeeklyPlan
	c.sync("weekly_progress", func(ctx context.Context) error {
		return c.store.UpsertProgress(ctx, userID, businessID, domain.ProgressWeekly, plan)
	})
	return nil
}

// GenerateDeliverable synthesizes a document from the guided action's
// answers once every step has one. The result is kept in memory only.
func (c *Controller) GenerateDeliverable(ctx context.Context, moduleID, title string) (string, error) {
	if err := c.requireLive(); err != nil {
		return "", err
	}
	s := c.Snapshot()
	if !s.Strategy.IsPresent() {
		return "", fmt.Errorf("%w: no strategy yet", errdefs.ErrFailedPrecondition)
	}

	module := s.Strategy.GuidedAction
	if moduleID == "" {
		moduleID = module.ID
	}
	if moduleID != module.ID {
		return "", fmt.Errorf("%w: unknown module %q", errdefs.ErrNotFound, moduleID)
	}
	if !s.Execution.AllStepsComplete(len(module.Steps)) {
		return "", fmt.Errorf("%w: every step needs an answer first", errdefs.ErrFailedPrecondition)
	}
	if strings.TrimSpace(title) == "" {
		title = module.Title
	}

	text, err := c.gen.GenerateModuleDeliverable(ctx, title, s.Execution.Answers(module.Steps), s.Language(c.opts.DefaultLanguage))
	if err != nil {
		c.logger.Error("Deliverable generation failed", "module_id", moduleID, "error", err)
		return "", err
	}

	userID := s.UserID()
	_, err = c.commit(nil, func(cur State) (Action, error) {
		if cur.UserID() != userID {
			return nil, errStale
		}
		return DeliverableReady{ModuleID: moduleID, Text: text}, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: session changed", errdefs.ErrAborted)
	}
	return text, nil
}
