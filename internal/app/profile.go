package app

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/ashureev/growthdesk/internal/domain"
)

// ChangeLanguage switches the content language and saves the profile.
func (c *Controller) ChangeLanguage(lang string) error {
	if !domain.IsSupportedLanguage(lang) {
		return fmt.Errorf("%w: unsupported language %q", errdefs.ErrInvalidArgument, lang)
	}
	next, err := c.commit(nil, func(s State) (Action, error) {
		if s.Profile == nil {
			return nil, fmt.Errorf("%w: no business profile", errdefs.ErrFailedPrecondition)
		}
		return ProfileUpdated{Profile: s.Profile.WithLanguage(lang)}, nil
	})
	if err != nil {
		return err
	}
	c.saveProfileState(next)
	return nil
}

// RegenerateInsights derives the profile's core message, key strength and
// solved problem again and saves them.
func (c *Controller) RegenerateInsights(ctx context.Context) (domain.ProfileInsights, error) {
	if err := c.requireLive(); err != nil {
		return domain.ProfileInsights{}, err
	}
	s := c.Snapshot()
	if s.Profile == nil {
		return domain.ProfileInsights{}, fmt.Errorf("%w: no business profile", errdefs.ErrFailedPrecondition)
	}

	insights, err := c.gen.GenerateProfileInsights(ctx, s.Profile, s.Language(c.opts.DefaultLanguage))
	if err != nil {
		return domain.ProfileInsights{}, err
	}

	userID := s.UserID()
	next, err := c.commit(nil, func(cur State) (Action, error) {
		if cur.UserID() != userID || cur.Profile == nil {
			return nil, fmt.Errorf("%w: session changed", errdefs.ErrAborted)
		}
		return ProfileUpdated{Profile: cur.Profile.WithInsights(insights)}, nil
	})
	if err != nil {
		return domain.ProfileInsights{}, err
	}
	c.saveProfileState(next)
	return insights, nil
}
