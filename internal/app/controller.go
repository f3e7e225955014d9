package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"golang.org/x/sync/singleflight"

	"github.com/ashureev/growthdesk/internal/auth"
	"github.com/ashureev/growthdesk/internal/domain"
	"github.com/ashureev/growthdesk/internal/store"
)

// ErrClosed is returned by a controller after Close.
var ErrClosed = fmt.Errorf("%w: controller closed", errdefs.ErrUnavailable)

// errStale marks a continuation whose session ended before it finished.
var errStale = errors.New("stale continuation")

// Generator is the content generation the core depends on.
type Generator interface {
	GenerateProfileInsights(ctx context.Context, profile *domain.BusinessProfile, lang string) (domain.ProfileInsights, error)
	GenerateAudit(ctx context.Context, profile *domain.BusinessProfile, lang string, onProgress func(string)) (*domain.BusinessAudit, error)
	GenerateActionPlan(ctx context.Context, profile *domain.BusinessProfile, audit *domain.BusinessAudit, lang string) (*domain.PartialStrategy, error)
	GenerateWeeklyPlan(ctx context.Context, profile *domain.BusinessProfile, lang string) (*domain.WeeklyAgencyPlan, error)
	GenerateModuleDeliverable(ctx context.Context, title string, answers []domain.StepAnswer, lang string) (string, error)
}

// AuthProvider is the session source for a device.
type AuthProvider interface {
	Subscribe(deviceID string, fn auth.Listener) func()
	CurrentSession(ctx context.Context, deviceID string) (*domain.Session, error)
	SignOut(ctx context.Context, deviceID string) error
}

// Cache is the process-wide local cache, cleared on logout.
type Cache interface {
	Clear()
}

// Options tune a Controller.
type Options struct {
	DefaultLanguage string
	// TransitionDelay is how long the new-user transition is shown.
	TransitionDelay time.Duration
	// SubActionClear is how long a requested dashboard action stays published.
	SubActionClear time.Duration
	// SyncTimeout bounds each background persistence call.
	SyncTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultLanguage == "" {
		o.DefaultLanguage = domain.LanguageSpanish
	}
	if o.TransitionDelay <= 0 {
		o.TransitionDelay = 1500 * time.Millisecond
	}
	if o.SubActionClear <= 0 {
		o.SubActionClear = 100 * time.Millisecond
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = 30 * time.Second
	}
	return o
}

// Controller owns the application state for one device and runs every
// transition through Reduce. Slow work runs in the background; its results
// are applied only if the session that started it is still current.
type Controller struct {
	deviceID string
	auth     AuthProvider
	store    store.Gateway
	gen      Generator
	cache    Cache
	opts     Options
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	epoch     uint64
	live      bool
	started   bool
	listeners map[uint64]func(State)
	nextSub   uint64
	timers    []*time.Timer
	unsubAuth func()
	ctx       context.Context

	// subActionSeq identifies the latest requested dashboard action.
	subActionSeq uint64

	// notifyMu keeps listener delivery in commit order.
	notifyMu sync.Mutex

	loads singleflight.Group
	tasks sync.WaitGroup
	syncs sync.WaitGroup
}

// NewController creates a controller for deviceID. Call Start to begin.
func NewController(
	deviceID string,
	authProvider AuthProvider,
	gateway store.Gateway,
	gen Generator,
	cache Cache,
	opts Options,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		deviceID:  deviceID,
		auth:      authProvider,
		store:     gateway,
		gen:       gen,
		cache:     cache,
		opts:      opts.withDefaults(),
		logger:    logger.With("device_id", deviceID),
		state:     State{View: ViewLoading, LoadingMessage: msgRestoring},
		listeners: make(map[uint64]func(State)),
		ctx:       context.Background(),
	}
}

// Start subscribes to session changes and concurrently queries the current
// session. Both paths reconcile the same way. ctx bounds background work.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.live = true
	c.ctx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	unsub := c.auth.Subscribe(c.deviceID, c.handleAuthEvent)
	c.mu.Lock()
	c.unsubAuth = unsub
	c.mu.Unlock()

	c.goTask(func() {
		qctx, cancel := context.WithTimeout(ctx, c.opts.SyncTimeout)
		defer cancel()
		session, err := c.auth.CurrentSession(qctx, c.deviceID)
		if err != nil {
			c.logger.Warn("Current session query failed", "error", err)
		}
		c.sessionKnown(session)
	})
}

// Close marks the controller as gone. In-flight work keeps running but its
// results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.live = false
	unsub := c.unsubAuth
	c.unsubAuth = nil
	timers := c.timers
	c.timers = nil
	c.listeners = make(map[uint64]func(State))
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, t := range timers {
		if t.Stop() {
			c.tasks.Done()
		}
	}
}

// Flush waits for in-flight work and background syncs to finish.
func (c *Controller) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		c.syncs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to receive every new state in commit order. fn
// must not call back into the controller. The returned func unsubscribes.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// DeviceID returns the device the controller serves.
func (c *Controller) DeviceID() string {
	return c.deviceID
}

func (c *Controller) handleAuthEvent(ev auth.Event) {
	switch ev.Kind {
	case auth.EventSignedOut:
		c.signedOut()
	case auth.EventInitialSession:
		c.sessionKnown(ev.Session)
	case auth.EventSignedIn, auth.EventTokenRefreshed:
		if ev.Session != nil {
			c.establish(ev.Session)
		}
	}
}

// sessionKnown handles the initial answer of either session path.
func (c *Controller) sessionKnown(session *domain.Session) {
	if session != nil {
		c.establish(session)
		return
	}
	_, _ = c.commit(nil, func(s State) (Action, error) {
		if s.Session != nil || s.View == ViewAuth {
			return nil, nil
		}
		return SessionCleared{}, nil
	})
}

func (c *Controller) signedOut() {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()
	_, _ = c.commit(nil, func(State) (Action, error) { return SessionCleared{}, nil })
}

// establish records session and loads the user's data unless it is already
// loaded or loading. Repeated calls for the same user are no-ops.
func (c *Controller) establish(session *domain.Session) {
	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return
	}
	if c.state.UserID() != session.UserID {
		c.epoch++
	}
	epoch := c.epoch
	c.mu.Unlock()

	next, err := c.commit(&epoch, func(State) (Action, error) {
		return SessionEstablished{Session: session}, nil
	})
	if err != nil || next.DataLoadedFor == session.UserID {
		return
	}
	c.goTask(func() { c.load(epoch, session.UserID) })
}

// Reload is the error screen's way out. A failed data load is run again;
// a failed generation is retried. Outside the error view it does nothing.
func (c *Controller) Reload() error {
	s := c.Snapshot()
	switch {
	case s.Session == nil:
		return fmt.Errorf("%w: sign in first", errdefs.ErrUnauthenticated)
	case s.View != ViewError:
		return nil
	case s.DataLoadedFor != s.UserID():
		c.establish(s.Session)
		return nil
	default:
		return c.RetryGeneration()
	}
}

func (c *Controller) load(epoch uint64, userID string) {
	v, err, shared := c.loads.Do(userID, func() (any, error) {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.SyncTimeout)
		defer cancel()
		return c.store.LoadUserData(ctx, userID)
	})
	data, _ := v.(*domain.UserData)
	if err != nil {
		c.logger.Error("Failed to load user data", "user_id", userID, "error", err)
	} else {
		c.logger.Debug("User data loaded", "user_id", userID, "found", data != nil, "shared", shared)
	}
	_, _ = c.commit(&epoch, func(State) (Action, error) {
		return DataLoaded{UserID: userID, Data: data, Err: err}, nil
	})
}

// commit applies the action built from the current state. A nil epoch
// means the caller acts for whatever session is current; otherwise the
// action is dropped unless the epoch still matches. A nil action commits
// nothing.
func (c *Controller) commit(epoch *uint64, build func(State) (Action, error)) (State, error) {
	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return State{}, ErrClosed
	}
	if epoch != nil && *epoch != c.epoch {
		c.mu.Unlock()
		return State{}, errStale
	}

	prev := c.state
	a, err := build(prev)
	if err != nil || a == nil {
		c.mu.Unlock()
		return prev, err
	}

	next := Reduce(prev, a)
	next, effects := c.react(prev, next, a)
	c.state = next

	listeners := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.notifyMu.Lock()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	c.notifyMu.Unlock()

	for _, run := range effects {
		run()
	}
	return next, nil
}

// react runs the watchers that follow state changes. It is called with
// c.mu held and returns the work to start once the state is published.
func (c *Controller) react(prev, next State, a Action) (State, []func()) {
	var effects []func()
	epoch := c.epoch

	if next.WaitingForStrategy && next.Strategy.IsPresent() {
		next = Reduce(next, StrategyAwaited{})
	}

	if next.RecoveryNeeded && next.Profile != nil && next.Session != nil &&
		next.BusinessID != "" && !next.Generating {
		c.logger.Info("Recovering missing strategy", "business_id", next.BusinessID)
		next = Reduce(next, GenerationRequested{})
	}

	if next.WaitingForStrategy && !next.Generating && next.Profile != nil && next.BusinessID != "" {
		next = Reduce(next, GenerationRequested{})
	}

	if next.Generating && !prev.Generating {
		effects = append(effects, c.pipelineEffect(epoch, next))
	}

	if next.GeneratingWeekly && !prev.GeneratingWeekly {
		effects = append(effects, c.weeklyEffect(epoch, next))
	}

	if p, ok := a.(ProfileSubmitted); ok && next.SavingProfile && !prev.SavingProfile {
		effects = append(effects, c.onboardingEffect(epoch, next, p.Profile))
	}

	if next.View == ViewTransition && prev.View != ViewTransition {
		c.afterLocked(c.opts.TransitionDelay, func() {
			_, _ = c.commit(&epoch, func(State) (Action, error) { return OnboardingShown{}, nil })
		})
	}

	return next, effects
}

// goTask runs fn in a tracked goroutine.
func (c *Controller) goTask(fn func()) {
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		fn()
	}()
}

// afterLocked schedules fn after d. Called with c.mu held.
func (c *Controller) afterLocked(d time.Duration, fn func()) {
	c.tasks.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer c.tasks.Done()
		c.mu.Lock()
		for i, other := range c.timers {
			if other == t {
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		fn()
	})
	c.timers = append(c.timers, t)
}

// requireLive returns ErrClosed after Close.
func (c *Controller) requireLive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return ErrClosed
	}
	return nil
}
