// Package auth provides a passwordless, device-bound session provider that
// notifies subscribers of session changes.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/ashureev/growthdesk/internal/domain"
	"github.com/ashureev/growthdesk/internal/store"
)

// EventKind is the kind of a session change.
type EventKind string

// Session change kinds.
const (
	EventInitialSession EventKind = "initial_session"
	EventSignedIn       EventKind = "signed_in"
	EventTokenRefreshed EventKind = "token_refreshed"
	EventSignedOut      EventKind = "signed_out"
)

// Event is a session change delivered to subscribers. Session is nil for
// signed_out and for an initial_session with no session.
type Event struct {
	Kind    EventKind
	Session *domain.Session
}

// Listener receives session changes for one device.
type Listener func(Event)

// Local issues opaque tokens bound to a device id and persists them in a
// SessionStore.
type Local struct {
	store  store.SessionStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	listeners map[string]map[uint64]Listener
	nextID    uint64
	closed    bool
	wg        sync.WaitGroup
}

// NewLocal creates a provider whose sessions live for ttl.
func NewLocal(sessions store.SessionStore, ttl time.Duration, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		store:     sessions,
		ttl:       ttl,
		logger:    logger.With("component", "auth"),
		now:       time.Now,
		listeners: make(map[string]map[uint64]Listener),
	}
}

// Subscribe registers fn for the device's session changes and delivers an
// initial_session event asynchronously. The returned func unsubscribes.
func (a *Local) Subscribe(deviceID string, fn Listener) func() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return func() {}
	}
	a.nextID++
	id := a.nextID
	if a.listeners[deviceID] == nil {
		a.listeners[deviceID] = make(map[uint64]Listener)
	}
	a.listeners[deviceID][id] = fn
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		session, err := a.CurrentSession(context.Background(), deviceID)
		if err != nil {
			a.logger.Warn("Initial session lookup failed", "device_id", deviceID, "error", err)
			session = nil
		}
		if a.subscribed(deviceID, id) {
			fn(Event{Kind: EventInitialSession, Session: session})
		}
	}()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if subs, ok := a.listeners[deviceID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(a.listeners, deviceID)
			}
		}
	}
}

func (a *Local) subscribed(deviceID string, id uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.listeners[deviceID][id]
	return ok
}

func (a *Local) emit(deviceID string, ev Event) {
	a.mu.Lock()
	subs := make([]Listener, 0, len(a.listeners[deviceID]))
	for _, fn := range a.listeners[deviceID] {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// CurrentSession returns the device's unexpired session, or nil.
func (a *Local) CurrentSession(ctx context.Context, deviceID string) (*domain.Session, error) {
	session, err := a.store.GetAuthSession(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil || session.Expired(a.now()) {
		return nil, nil
	}
	return session, nil
}

// SignIn binds a new session for email to the device.
func (a *Local) SignIn(ctx context.Context, deviceID, email string) (*domain.Session, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device id is required", errdefs.ErrInvalidArgument)
	}
	account, err := a.store.UpsertAccount(ctx, email)
	if err != nil {
		return nil, err
	}

	session, err := a.issue(ctx, deviceID, account.UserID, account.Email)
	if err != nil {
		return nil, err
	}

	a.logger.Info("User signed in", "device_id", deviceID, "user_id", session.UserID)
	a.emit(deviceID, Event{Kind: EventSignedIn, Session: session})
	return session, nil
}

// Refresh re-issues the device's session token and extends its lifetime.
func (a *Local) Refresh(ctx context.Context, deviceID string) (*domain.Session, error) {
	current, err := a.CurrentSession(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: no active session", errdefs.ErrUnauthenticated)
	}

	session, err := a.issue(ctx, deviceID, current.UserID, current.Email)
	if err != nil {
		return nil, err
	}

	a.emit(deviceID, Event{Kind: EventTokenRefreshed, Session: session})
	return session, nil
}

func (a *Local) issue(ctx context.Context, deviceID, userID, email string) (*domain.Session, error) {
	session := &domain.Session{
		UserID:      userID,
		Email:       email,
		AccessToken: uuid.NewString(),
		ExpiresAt:   a.now().Add(a.ttl),
	}
	if err := a.store.UpsertAuthSession(ctx, deviceID, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SignOut removes the device's session. Subscribers are told the device
// signed out even when removal fails.
func (a *Local) SignOut(ctx context.Context, deviceID string) error {
	err := a.store.DeleteAuthSession(ctx, deviceID)
	if err != nil {
		a.logger.Error("Failed to delete session", "device_id", deviceID, "error", err)
	} else {
		a.logger.Info("User signed out", "device_id", deviceID)
	}
	a.emit(deviceID, Event{Kind: EventSignedOut})
	return err
}

// Close stops accepting subscribers and waits for pending initial deliveries.
func (a *Local) Close() {
	a.mu.Lock()
	a.closed = true
	a.listeners = make(map[string]map[uint64]Listener)
	a.mu.Unlock()
	a.wg.Wait()
}
