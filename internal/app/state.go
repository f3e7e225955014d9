// Package app holds the application core: the session state machine, the
// strategy pipeline and the execution trackers for one device.
package app

import (
	"github.com/ashureev/growthdesk/internal/domain"
)

// View is the screen the client should render.
type View string

// Views.
const (
	ViewLoading      View = "loading"
	ViewAuth         View = "auth"
	ViewTransition   View = "transition"
	ViewOnboarding   View = "onboarding"
	ViewReport       View = "report"
	ViewRoadmap      View = "roadmap"
	ViewWow          View = "wow"
	ViewDashboard    View = "dashboard"
	ViewCompletion   View = "completion"
	ViewPricing      View = "pricing"
	ViewWeeklyAgency View = "weekly_agency"
	ViewError        View = "error"
)

// Loading messages shown while work is in flight.
const (
	msgRestoring      = "Restoring your workspace"
	msgSavingProfile  = "Saving your business profile"
	msgAuditing       = "Auditing your business"
	msgPlanning       = "Building your action plan"
	msgWeeklyPlanning = "Planning your week"
	msgSigningOut     = "Signing out"
)

// State is the complete application state for one device. Values are never
// mutated in place once published; every transition produces a new State.
type State struct {
	View    View            `json:"view"`
	Session *domain.Session `json:"session,omitempty"`

	BusinessID string                        `json:"business_id,omitempty"`
	Profile    *domain.BusinessProfile       `json:"profile,omitempty"`
	Audit      *domain.BusinessAudit         `json:"audit,omitempty"`
	Strategy   *domain.ComprehensiveStrategy `json:"strategy,omitempty"`
	Execution  domain.ExecutionState         `json:"execution,omitempty"`
	WeeklyPlan *domain.WeeklyAgencyPlan      `json:"weekly_plan,omitempty"`

	RecoveryNeeded     bool `json:"recovery_needed"`
	WaitingForStrategy bool `json:"waiting_for_strategy"`
	Generating         bool `json:"generating"`
	GeneratingWeekly   bool `json:"generating_weekly"`
	SavingProfile      bool `json:"saving_profile"`

	LoadingMessage  string `json:"loading_message,omitempty"`
	StreamText      string `json:"stream_text,omitempty"`
	GenerationError string `json:"generation_error,omitempty"`
	FatalError      string `json:"fatal_error,omitempty"`
	RequestedAction string `json:"requested_action,omitempty"`

	Deliverables map[string]string `json:"deliverables,omitempty"`

	// DataLoadedFor is the user id whose persisted data has been reconciled.
	DataLoadedFor string `json:"-"`
}

// UserID returns the signed-in user's id, or "".
func (s State) UserID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.UserID
}

// ActivePhaseIndex derives the current roadmap phase from the strategy.
func (s State) ActivePhaseIndex() int {
	if !s.Strategy.IsPresent() {
		return 0
	}
	return domain.ActivePhaseIndex(s.Strategy.Roadmap)
}

// Language returns the content language for the current profile.
func (s State) Language(fallback string) string {
	return s.Profile.LanguageOr(fallback)
}

// canTrack reports whether progress may be recorded and persisted.
func (s State) canTrack() bool {
	return s.BusinessID != "" && s.UserID() != ""
}
