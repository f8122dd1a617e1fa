package entitlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"snaptosize/metrics"
)

// ErrProviderUnavailable means the oracle could not answer. Callers treat it
// as not entitled but log it apart from a negative answer.
var ErrProviderUnavailable = errors.New("entitlement provider unavailable")

// Oracle answers whether a handle holds an active subscription.
type Oracle interface {
	IsEntitled(ctx context.Context, handle string) (bool, error)
	// UnlockFromSession verifies a paid checkout and returns the handle it is bound to.
	UnlockFromSession(ctx context.Context, sessionID string) (bool, string, error)
}

// StaticOracle entitles a fixed set of handles. Sessions unlock when their id is
// itself an entitled handle, which is enough for local runs and tests.
type StaticOracle struct {
	handles map[string]bool
}

func NewStaticOracle(handles []string) *StaticOracle {
	m := make(map[string]bool, len(handles))
	for _, h := range handles {
		if h = strings.TrimSpace(strings.ToLower(h)); h != "" {
			m[h] = true
		}
	}
	return &StaticOracle{handles: m}
}

func (o *StaticOracle) IsEntitled(ctx context.Context, handle string) (bool, error) {
	return o.handles[strings.ToLower(strings.TrimSpace(handle))], nil
}

func (o *StaticOracle) UnlockFromSession(ctx context.Context, sessionID string) (bool, string, error) {
	ok, _ := o.IsEntitled(ctx, sessionID)
	if !ok {
		return false, "", nil
	}
	return true, strings.ToLower(strings.TrimSpace(sessionID)), nil
}

// DefaultCacheTTL bounds how stale a cached answer can be.
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	entitled   bool
	handle     string
	expiration time.Time
}

// CachedOracle memoizes answers for ttl. Errors are never cached, so an
// outage cannot pin a false negative.
type CachedOracle struct {
	inner    Oracle
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
	handles  map[string]cacheEntry
	sessions map[string]cacheEntry
}

func NewCachedOracle(inner Oracle, ttl time.Duration) *CachedOracle {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedOracle{
		inner:    inner,
		ttl:      ttl,
		now:      time.Now,
		handles:  make(map[string]cacheEntry),
		sessions: make(map[string]cacheEntry),
	}
}

func (c *CachedOracle) lookup(m map[string]cacheEntry, key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := m[key]
	if !ok {
		return cacheEntry{}, false
	}
	if c.now().After(e.expiration) {
		delete(m, key)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *CachedOracle) store(m map[string]cacheEntry, key string, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.expiration = c.now().Add(c.ttl)
	m[key] = e
}

func (c *CachedOracle) IsEntitled(ctx context.Context, handle string) (bool, error) {
	if e, ok := c.lookup(c.handles, handle); ok {
		metrics.OracleCalls.WithLabelValues("cached").Inc()
		return e.entitled, nil
	}
	ok, err := c.inner.IsEntitled(ctx, handle)
	if err != nil {
		return false, err
	}
	c.store(c.handles, handle, cacheEntry{entitled: ok})
	return ok, nil
}

func (c *CachedOracle) UnlockFromSession(ctx context.Context, sessionID string) (bool, string, error) {
	if e, ok := c.lookup(c.sessions, sessionID); ok {
		metrics.OracleCalls.WithLabelValues("cached").Inc()
		return e.entitled, e.handle, nil
	}
	ok, handle, err := c.inner.UnlockFromSession(ctx, sessionID)
	if err != nil {
		return false, "", err
	}
	c.store(c.sessions, sessionID, cacheEntry{entitled: ok, handle: handle})
	if ok && handle != "" {
		c.store(c.handles, handle, cacheEntry{entitled: true})
	}
	return ok, handle, nil
}
