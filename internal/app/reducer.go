package app

import (
	"maps"

	"github.com/ashureev/growthdesk/internal/domain"
)

// Action is a named state transition.
type Action interface {
	action()
}

type (
	// SessionEstablished records a known session. Data for a different user
	// is dropped and the view shows loading until it is reconciled.
	SessionEstablished struct{ Session *domain.Session }

	// SessionCleared drops all user state and shows the sign-in view.
	SessionCleared struct{}

	// LogoutStarted drops all user state while sign-out is in flight.
	LogoutStarted struct{}

	// DataLoaded reconciles the persisted data for UserID.
	DataLoaded struct {
		UserID string
		Data   *domain.UserData
		Err    error
	}

	// OnboardingShown ends the new-user transition.
	OnboardingShown struct{}

	// ProfileSubmitted starts saving an onboarding profile.
	ProfileSubmitted struct{ Profile *domain.BusinessProfile }

	// ProfileSaved records the saved profile and its business id.
	ProfileSaved struct {
		BusinessID string
		Profile    *domain.BusinessProfile
	}

	// ProfileSaveFailed returns to onboarding.
	ProfileSaveFailed struct{ Err error }

	// GenerationRequested starts the audit and action plan pipeline.
	GenerationRequested struct{}

	// AuditProgress replaces the streamed audit text.
	AuditProgress struct{ Text string }

	// AuditCompleted records the parsed audit and shows the report.
	AuditCompleted struct{ Audit *domain.BusinessAudit }

	// StrategyReady records the combined strategy.
	StrategyReady struct{ Strategy *domain.ComprehensiveStrategy }

	// GenerationFailed ends the pipeline with an error.
	GenerationFailed struct{ Err error }

	// ContinueRequested is the report screen's continue.
	ContinueRequested struct{}

	// StrategyAwaited moves a waiting client to the roadmap.
	StrategyAwaited struct{}

	// Navigated sets the view directly.
	Navigated struct{ View View }

	// SubActionRequested publishes a one-shot dashboard action.
	SubActionRequested struct{ Action string }

	// SubActionCleared withdraws the dashboard action.
	SubActionCleared struct{}

	// StepSaved replaces one module step's answers.
	StepSaved struct {
		Index  int
		Fields map[string]string
	}

	// WeeklyPlanUpdated replaces the weekly plan after a task toggle.
	WeeklyPlanUpdated struct{ Plan *domain.WeeklyAgencyPlan }

	// WeeklyRequested starts weekly plan generation.
	WeeklyRequested struct{}

	// WeeklyReady enters weekly mode with a persisted plan.
	WeeklyReady struct{ Plan *domain.WeeklyAgencyPlan }

	// WeeklyFailed falls back to the dashboard.
	WeeklyFailed struct{ Err error }

	// DeliverableReady stores a synthesized module document.
	DeliverableReady struct {
		ModuleID string
		Text     string
	}

	// ProfileUpdated replaces the profile and keeps the strategy snapshot in step.
	ProfileUpdated struct{ Profile *domain.BusinessProfile }
)

func (SessionEstablished) action()  {}
func (SessionCleared) action()      {}
func (LogoutStarted) action()       {}
func (DataLoaded) action()          {}
func (OnboardingShown) action()     {}
func (ProfileSubmitted) action()    {}
func (ProfileSaved) action()        {}
func (ProfileSaveFailed) action()   {}
func (GenerationRequested) action() {}
func (AuditProgress) action()       {}
func (AuditCompleted) action()      {}
func (StrategyReady) action()       {}
func (GenerationFailed) action()    {}
func (ContinueRequested) action()   {}
func (StrategyAwaited) action()     {}
func (Navigated) action()           {}
func (SubActionRequested) action()  {}
func (SubActionCleared) action()    {}
func (StepSaved) action()           {}
func (WeeklyPlanUpdated) action()   {}
func (WeeklyRequested) action()     {}
func (WeeklyReady) action()         {}
func (WeeklyFailed) action()        {}
func (DeliverableReady) action()    {}
func (ProfileUpdated) action()      {}

// Reduce applies a to s and returns the new state. It has no side effects.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SessionEstablished:
		if a.Session == nil {
			return s
		}
		if s.UserID() != a.Session.UserID {
			s = State{View: ViewLoading, LoadingMessage: msgRestoring}
		} else if s.View == ViewError && s.DataLoadedFor != a.Session.UserID {
			// A failed load is retried by the next session event.
			s.View = ViewLoading
			s.LoadingMessage = msgRestoring
			s.FatalError = ""
		}
		s.Session = a.Session

	case SessionCleared:
		s = State{View: ViewAuth}

	case LogoutStarted:
		s = State{View: ViewLoading, LoadingMessage: msgSigningOut}

	case DataLoaded:
		if a.UserID != s.UserID() || s.DataLoadedFor == a.UserID {
			return s
		}
		d := Reconcile(a.Data, a.Err)
		s.LoadingMessage = ""
		if a.Err != nil {
			s.View = d.View
			s.FatalError = a.Err.Error()
			return s
		}
		s.DataLoadedFor = a.UserID
		s.FatalError = ""
		if a.Data != nil {
			s.BusinessID = a.Data.BusinessID
			s.Profile = a.Data.Profile
			s.Strategy = a.Data.Strategy
			s.Execution = a.Data.ExecutionState
			s.WeeklyPlan = a.Data.WeeklyPlan
			if s.Strategy.IsPresent() {
				s.Audit = s.Strategy.Audit
			}
		}
		if d.View != "" {
			s.View = d.View
		} else if s.View == ViewError {
			s.View = ViewLoading
		}
		s.RecoveryNeeded = d.Recovery
		if d.Recovery {
			s.LoadingMessage = msgRestoring
		}

	case OnboardingShown:
		if s.View == ViewTransition {
			s.View = ViewOnboarding
		}

	case ProfileSubmitted:
		s.SavingProfile = true
		s.GenerationError = ""
		s.LoadingMessage = msgSavingProfile

	case ProfileSaved:
		s.SavingProfile = false
		s.BusinessID = a.BusinessID
		s.Profile = a.Profile
		s.Strategy = nil
		s.Audit = nil
		s.LoadingMessage = ""

	case ProfileSaveFailed:
		s.SavingProfile = false
		s.View = ViewOnboarding
		s.LoadingMessage = ""
		s.GenerationError = errorText(a.Err)

	case GenerationRequested:
		s.Generating = true
		s.RecoveryNeeded = false
		s.GenerationError = ""
		s.StreamText = ""
		s.LoadingMessage = msgAuditing

	case AuditProgress:
		if s.Generating {
			s.StreamText = a.Text
		}

	case AuditCompleted:
		s.Audit = a.Audit
		s.StreamText = ""
		s.LoadingMessage = msgPlanning
		s.View = ViewReport

	case StrategyReady:
		if !a.Strategy.IsPresent() {
			return s
		}
		s.Strategy = a.Strategy
		s.Audit = a.Strategy.Audit
		s.Generating = false
		s.StreamText = ""
		s.LoadingMessage = ""

	case GenerationFailed:
		s.Generating = false
		s.WaitingForStrategy = false
		s.StreamText = ""
		s.LoadingMessage = ""
		s.GenerationError = errorText(a.Err)
		switch {
		case s.BusinessID == "":
			s.View = ViewOnboarding
		case s.View == ViewLoading:
			// Recovery failed before anything was shown.
			s.View = ViewError
		}

	case ContinueRequested:
		if s.Strategy.IsPresent() {
			s.View = ViewRoadmap
		} else {
			s.WaitingForStrategy = true
		}

	case StrategyAwaited:
		s.WaitingForStrategy = false
		s.View = ViewRoadmap

	case Navigated:
		s.View = a.View

	case SubActionRequested:
		s.RequestedAction = a.Action
		if s.Strategy.IsPresent() {
			s.View = ViewDashboard
		}

	case SubActionCleared:
		s.RequestedAction = ""

	case StepSaved:
		s.Execution = s.Execution.WithStep(a.Index, a.Fields)

	case WeeklyPlanUpdated:
		s.WeeklyPlan = a.Plan

	case WeeklyRequested:
		s.GeneratingWeekly = true
		s.LoadingMessage = msgWeeklyPlanning

	case WeeklyReady:
		s.GeneratingWeekly = false
		s.LoadingMessage = ""
		s.WeeklyPlan = a.Plan
		s.View = ViewWeeklyAgency

	case WeeklyFailed:
		s.GeneratingWeekly = false
		s.LoadingMessage = ""
		s.View = ViewDashboard

	case DeliverableReady:
		d := maps.Clone(s.Deliverables)
		if d == nil {
			d = make(map[string]string)
		}
		d[a.ModuleID] = a.Text
		s.Deliverables = d

	case ProfileUpdated:
		s.Profile = a.Profile
	}
	return s
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
