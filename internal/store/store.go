// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/growthdesk/internal/domain"
)

// Gateway persists a user's business profile, strategy snapshot and progress.
type Gateway interface {
	// UpsertBusinessProfile saves the profile keyed by user id and returns the
	// record with its business id. The id is assigned on first save and kept.
	UpsertBusinessProfile(ctx context.Context, userID string, profile *domain.BusinessProfile) (*domain.BusinessRecord, error)

	// UpsertStrategySnapshot saves the profile and strategy as one pair keyed by business id.
	UpsertStrategySnapshot(ctx context.Context, businessID string, snapshot *domain.StrategySnapshot) error

	// LoadUserData returns everything saved for the user, or nil if no profile exists.
	LoadUserData(ctx context.Context, userID string) (*domain.UserData, error)

	// UpsertProgress saves one progress aggregate. Writing one kind leaves the
	// other kind's last saved value untouched.
	UpsertProgress(ctx context.Context, userID, businessID string, kind domain.ProgressKind, payload any) error
}

// SessionStore persists accounts and device-bound authentication sessions.
type SessionStore interface {
	// UpsertAccount returns the account for email, creating it if needed.
	UpsertAccount(ctx context.Context, email string) (*domain.Account, error)

	// GetAuthSession returns the session bound to a device, or nil.
	GetAuthSession(ctx context.Context, deviceID string) (*domain.Session, error)

	// UpsertAuthSession binds a session to a device.
	UpsertAuthSession(ctx context.Context, deviceID string, session *domain.Session) error

	// DeleteAuthSession removes a device's session.
	DeleteAuthSession(ctx context.Context, deviceID string) error

	// DeleteExpiredAuthSessions removes sessions that expired before now.
	DeleteExpiredAuthSessions(ctx context.Context, now time.Time) (int64, error)
}

// Repository is the full persistence surface of the service.
type Repository interface {
	Gateway
	SessionStore

	// PurgeUser deletes a user's business, strategy and progress records.
	PurgeUser(ctx context.Context, userID string) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
