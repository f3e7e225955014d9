// Package domain contains core domain types for the growthdesk application.
package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/containerd/errdefs"
)

// Supported content languages.
const (
	LanguageSpanish = "es"
	LanguageEnglish = "en"
)

// BusinessProfile holds the facts a business owner enters during onboarding
// plus the fields derived from them by the generator.
type BusinessProfile struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Industry       string   `json:"industry,omitempty"`
	Audience       string   `json:"audience"`
	PainPoints     string   `json:"pain_points"`
	Goals          string   `json:"goals"`
	Tone           string   `json:"tone,omitempty"`
	WeeklyCapacity string   `json:"weekly_capacity,omitempty"`
	Channels       []string `json:"channels,omitempty"`
	Budget         string   `json:"budget,omitempty"`
	Website        string   `json:"website,omitempty"`
	Language       string   `json:"language,omitempty"`

	CoreMessage   string `json:"core_message,omitempty"`
	KeyStrength   string `json:"key_strength,omitempty"`
	SolvedProblem string `json:"solved_problem,omitempty"`
}

// ProfileInsights are the derived profile fields produced once at onboarding.
type ProfileInsights struct {
	CoreMessage   string `json:"core_message"`
	KeyStrength   string `json:"key_strength"`
	SolvedProblem string `json:"solved_problem"`
}

// Validate checks the fields the generator cannot work without.
func (p *BusinessProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: business name is required", errdefs.ErrInvalidArgument)
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: business description is required", errdefs.ErrInvalidArgument)
	}
	return nil
}

// Clone returns a deep copy of the profile.
func (p *BusinessProfile) Clone() *BusinessProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Channels = slices.Clone(p.Channels)
	return &c
}

// WithInsights returns a copy of the profile carrying the derived fields.
func (p *BusinessProfile) WithInsights(in ProfileInsights) *BusinessProfile {
	c := p.Clone()
	c.CoreMessage = in.CoreMessage
	c.KeyStrength = in.KeyStrength
	c.SolvedProblem = in.SolvedProblem
	return c
}

// WithLanguage returns a copy of the profile using lang.
func (p *BusinessProfile) WithLanguage(lang string) *BusinessProfile {
	c := p.Clone()
	c.Language = lang
	return c
}

// LanguageOr returns the profile language or fallback when unset.
func (p *BusinessProfile) LanguageOr(fallback string) string {
	if p == nil || p.Language == "" {
		return fallback
	}
	return p.Language
}

// IsSupportedLanguage reports whether lang has a prompt catalog.
func IsSupportedLanguage(lang string) bool {
	return lang == LanguageSpanish || lang == LanguageEnglish
}
