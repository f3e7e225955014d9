package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/growthdesk/internal/app"
)

// ControllerFactory builds an unstarted controller for a device.
type ControllerFactory func(deviceID string) *app.Controller

type trackedController struct {
	c        *app.Controller
	lastSeen time.Time
}

// Controllers keeps one started controller per device.
type Controllers struct {
	mu      sync.Mutex
	items   map[string]*trackedController
	factory ControllerFactory
	ctx     context.Context
	now     func() time.Time
	logger  *slog.Logger
}

// NewControllers creates a registry. ctx bounds every controller's
// background work.
func NewControllers(ctx context.Context, factory ControllerFactory, logger *slog.Logger) *Controllers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controllers{
		items:   make(map[string]*trackedController),
		factory: factory,
		ctx:     ctx,
		now:     time.Now,
		logger:  logger.With("component", "controllers"),
	}
}

// Get returns the device's controller, creating and starting it on first use.
func (r *Controllers) Get(deviceID string) *app.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.items[deviceID]; ok {
		t.lastSeen = r.now()
		return t.c
	}

	c := r.factory(deviceID)
	c.Start(r.ctx)
	r.items[deviceID] = &trackedController{c: c, lastSeen: r.now()}
	r.logger.Debug("Controller started", "device_id", deviceID)
	return c
}

// Touch marks the device as active without creating a controller.
func (r *Controllers) Touch(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.items[deviceID]; ok {
		t.lastSeen = r.now()
	}
}

// Len returns the number of live controllers.
func (r *Controllers) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// EvictIdle closes controllers unused for longer than idle. Devices for
// which busy reports true are kept. It returns the evicted device IDs.
func (r *Controllers) EvictIdle(idle time.Duration, busy func(deviceID string) bool) []string {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var evicted []*trackedController
	var ids []string
	for id, t := range r.items {
		if !t.lastSeen.Before(cutoff) {
			continue
		}
		if busy != nil && busy(id) {
			continue
		}
		evicted = append(evicted, t)
		ids = append(ids, id)
		delete(r.items, id)
	}
	r.mu.Unlock()

	for _, t := range evicted {
		t.c.Close()
	}
	return ids
}

// CloseAll closes every controller and waits for their pending writes.
func (r *Controllers) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*trackedController)
	r.mu.Unlock()

	for _, t := range items {
		t.c.Close()
	}
	var errs []error
	for id, t := range items {
		if err := t.c.Flush(ctx); err != nil {
			r.logger.Warn("Controller flush incomplete", "device_id", id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
