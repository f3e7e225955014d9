package domain

import (
	"time"
)

// Account is a registered user.
type Account struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is an authentication handle bound to a device.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// TTL returns the time until the session expires, or 0 if it already has.
func (s *Session) TTL(now time.Time) time.Duration {
	if s.Expired(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// BusinessRecord is a saved profile and its assigned business id.
type BusinessRecord struct {
	BusinessID string          `json:"business_id"`
	UserID     string          `json:"user_id"`
	Profile    BusinessProfile `json:"profile"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// StrategySnapshot is the profile and strategy persisted as one consistent pair.
type StrategySnapshot struct {
	Profile  BusinessProfile       `json:"profile"`
	Strategy ComprehensiveStrategy `json:"strategy"`
}

// UserData is everything persisted for a user, loaded in one call.
type UserData struct {
	BusinessID     string                 `json:"business_id"`
	Profile        *BusinessProfile       `json:"profile"`
	Strategy       *ComprehensiveStrategy `json:"strategy,omitempty"`
	ExecutionState ExecutionState         `json:"execution_state,omitempty"`
	WeeklyPlan     *WeeklyAgencyPlan      `json:"weekly_plan,omitempty"`
}
