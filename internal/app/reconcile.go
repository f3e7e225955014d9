package app

import (
	"github.com/ashureev/growthdesk/internal/domain"
)

// Decision is the outcome of reconciling persisted data with the view.
type Decision struct {
	// View is the view to show. Empty means keep the current view.
	View View
	// Recovery marks a saved profile whose strategy must be regenerated.
	Recovery bool
}

// Reconcile picks the view for a freshly loaded user. The rules are checked
// in order and the first match wins.
func Reconcile(data *domain.UserData, err error) Decision {
	switch {
	case err != nil:
		return Decision{View: ViewError}
	case data == nil || data.Profile == nil:
		return Decision{View: ViewTransition}
	case !data.Strategy.IsPresent():
		return Decision{Recovery: true}
	case data.WeeklyPlan != nil:
		return Decision{View: ViewWeeklyAgency}
	default:
		return Decision{View: ViewDashboard}
	}
}
