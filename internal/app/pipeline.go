package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/ashureev/growthdesk/internal/domain"
)

// CompleteOnboarding saves profile and, once saved, generates the strategy.
// It returns as soon as the work has started; progress is published as state.
func (c *Controller) CompleteOnboarding(profile *domain.BusinessProfile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile is required", errdefs.ErrInvalidArgument)
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	if profile.Language != "" && !domain.IsSupportedLanguage(profile.Language) {
		return fmt.Errorf("%w: unsupported language %q", errdefs.ErrInvalidArgument, profile.Language)
	}

	submitted := profile.Clone()
	_, err := c.commit(nil, func(s State) (Action, error) {
		switch {
		case s.Session == nil:
			return nil, fmt.Errorf("%w: sign in first", errdefs.ErrUnauthenticated)
		case s.SavingProfile || s.Generating:
			return nil, fmt.Errorf("%w: generation already in progress", errdefs.ErrConflict)
		}
		return ProfileSubmitted{Profile: submitted}, nil
	})
	return err
}

// ContinueFromReport moves to the roadmap, or waits for the strategy and
// starts generating it if nothing is in flight.
func (c *Controller) ContinueFromReport() error {
	_, err := c.commit(nil, func(s State) (Action, error) {
		if s.Profile == nil {
			return nil, fmt.Errorf("%w: no business profile", errdefs.ErrFailedPrecondition)
		}
		return ContinueRequested{}, nil
	})
	return err
}

// RetryGeneration restarts the strategy pipeline after a failure.
func (c *Controller) RetryGeneration() error {
	_, err := c.commit(nil, func(s State) (Action, error) {
		switch {
		case s.Generating || s.SavingProfile:
			return nil, fmt.Errorf("%w: generation already in progress", errdefs.ErrConflict)
		case s.Profile == nil || s.BusinessID == "":
			return nil, fmt.Errorf("%w: complete onboarding first", errdefs.ErrFailedPrecondition)
		}
		return GenerationRequested{}, nil
	})
	return err
}

// AcknowledgeCompletion leaves the completion screen and generates the
// weekly plan.
func (c *Controller) AcknowledgeCompletion() error {
	_, err := c.commit(nil, func(s State) (Action, error) {
		switch {
		case s.View != ViewCompletion:
			return nil, fmt.Errorf("%w: not on the completion screen", errdefs.ErrFailedPrecondition)
		case s.GeneratingWeekly:
			return nil, fmt.Errorf("%w: weekly plan already generating", errdefs.ErrConflict)
		case !s.canTrack() || s.Profile == nil:
			return nil, fmt.Errorf("%w: no saved business", errdefs.ErrFailedPrecondition)
		}
		return WeeklyRequested{}, nil
	})
	return err
}

func (c *Controller) onboardingEffect(epoch uint64, s State, submitted *domain.BusinessProfile) func() {
	userID := s.UserID()
	lang := submitted.LanguageOr(c.opts.DefaultLanguage)
	return func() {
		c.goTask(func() { c.saveProfile(epoch, userID, submitted.WithLanguage(lang), lang) })
	}
}

func (c *Controller) saveProfile(epoch uint64, userID string, profile *domain.BusinessProfile, lang string) {
	insights, err := c.gen.GenerateProfileInsights(c.ctx, profile, lang)
	if err != nil {
		c.logger.Warn("Profile insights unavailable", "user_id", userID, "error", err)
	} else {
		profile = profile.WithInsights(insights)
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.SyncTimeout)
	defer cancel()
	record, err := c.store.UpsertBusinessProfile(ctx, userID, profile)
	if err != nil {
		c.logger.Error("Failed to save business profile", "user_id", userID, "error", err)
		_, _ = c.commit(&epoch, func(State) (Action, error) { return ProfileSaveFailed{Err: err}, nil })
		return
	}

	c.logger.Info("Business profile saved", "user_id", userID, "business_id", record.BusinessID)
	saved := record.Profile
	if _, err := c.commit(&epoch, func(State) (Action, error) {
		return ProfileSaved{BusinessID: record.BusinessID, Profile: &saved}, nil
	}); err != nil {
		return
	}
	_, _ = c.commit(&epoch, func(s State) (Action, error) {
		if s.Generating {
			return nil, nil
		}
		return GenerationRequested{}, nil
	})
}

func (c *Controller) pipelineEffect(epoch uint64, s State) func() {
	profile := s.Profile
	businessID := s.BusinessID
	lang := s.Language(c.opts.DefaultLanguage)
	return func() {
		c.goTask(func() { c.runPipeline(epoch, profile, businessID, lang) })
	}
}

// runPipeline generates the audit, then the action plan from that audit,
// and saves the combined strategy. A closed controller still gets its
// strategy saved; a session that ended does not.
func (c *Controller) runPipeline(epoch uint64, profile *domain.BusinessProfile, businessID, lang string) {
	log := c.logger.With("business_id", businessID)
	log.Info("Strategy generation started")

	audit, err := c.gen.GenerateAudit(c.ctx, profile, lang, func(text string) {
		_, _ = c.commit(&epoch, func(State) (Action, error) { return AuditProgress{Text: text}, nil })
	})
	if err == nil && audit == nil {
		err = fmt.Errorf("%w: empty audit", errdefs.ErrDataLoss)
	}
	if err != nil {
		c.failGeneration(epoch, "audit", err)
		return
	}
	if _, err := c.commit(&epoch, func(State) (Action, error) {
		return AuditCompleted{Audit: audit}, nil
	}); errors.Is(err, errStale) {
		return
	}

	plan, err := c.gen.GenerateActionPlan(c.ctx, profile, audit, lang)
	if err != nil {
		c.failGeneration(epoch, "action_plan", err)
		return
	}

	strategy := domain.CombineStrategy(plan, audit)
	if strategy == nil {
		c.failGeneration(epoch, "action_plan", fmt.Errorf("%w: empty action plan", errdefs.ErrDataLoss))
		return
	}
	if _, err := c.commit(&epoch, func(State) (Action, error) {
		return StrategyReady{Strategy: strategy}, nil
	}); errors.Is(err, errStale) {
		return
	}

	log.Info("Strategy generation complete", "phases", len(strategy.Roadmap))
	c.saveSnapshot(businessID, profile, strategy)
}

func (c *Controller) failGeneration(epoch uint64, stage string, err error) {
	c.logger.Error("Strategy generation failed", "stage", stage, "error", err)
	_, _ = c.commit(&epoch, func(State) (Action, error) { return GenerationFailed{Err: err}, nil })
}

func (c *Controller) weeklyEffect(epoch uint64, s State) func() {
	profile := s.Profile
	userID := s.UserID()
	businessID := s.BusinessID
	lang := s.Language(c.opts.DefaultLanguage)
	return func() {
		c.goTask(func() { c.runWeekly(epoch, profile, userID, businessID, lang) })
	}
}

// runWeekly generates the weekly plan and persists it before entering
// weekly mode. Any failure falls back to the dashboard without saving.
func (c *Controller) runWeekly(epoch uint64, profile *domain.BusinessProfile, userID, businessID, lang string) {
	fail := func(err error) {
		_, _ = c.commit(&epoch, func(State) (Action, error) { return WeeklyFailed{Err: err}, nil })
	}

	plan, err := c.gen.GenerateWeeklyPlan(c.ctx, profile, lang)
	if err != nil {
		c.logger.Error("Weekly plan generation failed", "business_id", businessID, "error", err)
		fail(err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.SyncTimeout)
	defer cancel()
	if err := c.store.UpsertProgress(ctx, userID, businessID, domain.ProgressWeekly, plan); err != nil {
		c.logger.Error("Failed to save weekly plan", "business_id", businessID, "error", err)
		fail(err)
		return
	}

	_, _ = c.commit(&epoch, func(State) (Action, error) { return WeeklyReady{Plan: plan}, nil })
}
