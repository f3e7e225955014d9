// Package cache provides the process-wide local cache for ephemeral
// generator output. Each device owns a scope that is cleared on logout.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Local is a concurrency-safe in-memory cache with per-entry expiry.
type Local struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache whose entries live for ttl. A zero ttl never expires.
func New(ttl time.Duration) *Local {
	return &Local{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key.
func (c *Local) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := c.now()
	if e.expired(now) {
		c.mu.Lock()
		// A Set may have replaced the entry since the read lock was released.
		if cur, ok := c.entries[key]; ok && cur.expired(now) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// DeleteExpired drops every entry expired at now and returns how many.
func (c *Local) DeleteExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Set stores value under key.
func (c *Local) Set(key string, value any) {
	e := entry{value: value}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Local) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Local) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// DeletePrefix drops every entry whose key starts with prefix.
func (c *Local) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Scope is the slice of a Local cache owned by one device.
type Scope struct {
	local  *Local
	prefix string
}

// Scoped returns the part of c whose keys start with prefix.
func (c *Local) Scoped(prefix string) *Scope {
	return &Scope{local: c, prefix: prefix}
}

// Get returns the cached value for key within the scope.
func (s *Scope) Get(key string) (any, bool) {
	return s.local.Get(s.prefix + key)
}

// Set stores value under key within the scope.
func (s *Scope) Set(key string, value any) {
	s.local.Set(s.prefix+key, value)
}

// Clear drops every entry in the scope.
func (s *Scope) Clear() {
	s.local.DeletePrefix(s.prefix)
}
