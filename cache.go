package ges

import (
	"sync"
	"time"
)

// cacheEntry holds a (token, state) pair under a mutex; update_if_newer
// replaces its contents only when the candidate token supersedes the
// incumbent one. State is stored as `any` because a single Cache instance
// may be shared by categories folding different state types (see
// SlidingWindowPrefixed).
type cacheEntry struct {
	mu      sync.Mutex
	token   StreamToken
	state   any
	expires time.Time // zero means "no expiration tracked here"
}

func (e *cacheEntry) get(now time.Time) (StreamToken, any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.expires.IsZero() && now.After(e.expires) {
		return StreamToken{}, nil, false
	}
	return e.token, e.state, true
}

// updateIfNewer replaces the entry's contents iff candidate supersedes the
// incumbent token, then rearms expiresAt. Returns whether the replacement
// happened.
func (e *cacheEntry) updateIfNewer(candidate StreamToken, state any, expiresAt time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil && !candidate.Supersedes(e.token) {
		return false
	}
	e.token = candidate
	e.state = state
	e.expires = expiresAt
	return true
}

// touch extends a sliding-expiration entry's TTL without altering its
// contents; it is called on every read under SlidingWindow policies.
func (e *cacheEntry) touch(ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expires = now.Add(ttl)
}

// Cache is a keyed store of (token, state) pairs with supersede-guarded
// updates and expiration. It is the only globally mutable structure the
// core introduces; all mutation goes through per-entry locks, never a
// single global lock, so readers never block writers beyond one field
// read (spec §5, §9).
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// NewCache creates an empty Cache. A Cache has no size bound of its own;
// wrap it in an eviction-aware store if one is needed — entries are
// treated as optional and reconstructible, so evicting one never loses
// correctness, only a round-trip to the backend.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

func (c *Cache) entry(key string) *cacheEntry {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e
	}
	e = &cacheEntry{}
	c.entries[key] = e
	return e
}

// TryGet returns the cached (token, state) for key, or ok=false if absent
// or expired.
func (c *Cache) TryGet(key string) (StreamToken, any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return StreamToken{}, nil, false
	}
	return e.get(nowFunc())
}

// UpdateIfNewer inserts (token, state) under key if absent, or replaces the
// incumbent iff token supersedes it; expiresAt (zero for "no expiration")
// is applied only when the candidate is stored, so a discarded candidate
// leaves the incumbent's expiration unchanged. It never overwrites a newer
// incumbent with an older candidate, regardless of call ordering — this is
// the cache's supersede-safety guarantee (spec §8, property 4).
func (c *Cache) UpdateIfNewer(key string, token StreamToken, state any, expiresAt time.Time) {
	c.entry(key).updateIfNewer(token, state, expiresAt)
}

// Touch refreshes a sliding-window entry's TTL without changing its value.
func (c *Cache) Touch(key string, ttl time.Duration) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		e.touch(ttl, nowFunc())
	}
}

// CachingStrategy is wired into a Category to govern how loads and syncs
// interact with a Cache: which key an entry lives under, and how its
// expiration is computed on each write.
type CachingStrategy interface {
	Cache() *Cache
	Key(stream string) string
	// ExpiresAt returns the absolute expiration to apply on a cache write
	// that happens at `now`.
	ExpiresAt(now time.Time) time.Time
	// OnRead is called whenever a cache hit is served, so sliding
	// strategies can extend the TTL.
	OnRead(key string)
}

// SlidingWindow refreshes the TTL on every access; the entry expires
// `window` after its most recent read or write, whichever is later.
type SlidingWindow struct {
	cache  *Cache
	window time.Duration
}

func NewSlidingWindow(cache *Cache, window time.Duration) SlidingWindow {
	return SlidingWindow{cache: cache, window: window}
}

func (s SlidingWindow) Cache() *Cache                { return s.cache }
func (s SlidingWindow) Key(stream string) string      { return stream }
func (s SlidingWindow) ExpiresAt(now time.Time) time.Time {
	return now.Add(s.window)
}
func (s SlidingWindow) OnRead(key string) { s.cache.Touch(key, s.window) }

// FixedTimeSpan expires an entry a fixed `period` after it was written,
// regardless of how often it is read.
type FixedTimeSpan struct {
	cache  *Cache
	period time.Duration
}

func NewFixedTimeSpan(cache *Cache, period time.Duration) FixedTimeSpan {
	return FixedTimeSpan{cache: cache, period: period}
}

func (f FixedTimeSpan) Cache() *Cache                 { return f.cache }
func (f FixedTimeSpan) Key(stream string) string       { return stream }
func (f FixedTimeSpan) ExpiresAt(now time.Time) time.Time {
	return now.Add(f.period)
}
func (f FixedTimeSpan) OnRead(string) {}

// SlidingWindowPrefixed is identical to SlidingWindow but keys are
// `prefix + stream`, which lets multiple folds over the same underlying
// stream (e.g. two different projections) share one Cache without
// colliding.
type SlidingWindowPrefixed struct {
	cache  *Cache
	window time.Duration
	prefix string
}

func NewSlidingWindowPrefixed(cache *Cache, window time.Duration, prefix string) SlidingWindowPrefixed {
	return SlidingWindowPrefixed{cache: cache, window: window, prefix: prefix}
}

func (s SlidingWindowPrefixed) Cache() *Cache           { return s.cache }
func (s SlidingWindowPrefixed) Key(stream string) string { return s.prefix + stream }
func (s SlidingWindowPrefixed) ExpiresAt(now time.Time) time.Time {
	return now.Add(s.window)
}
func (s SlidingWindowPrefixed) OnRead(key string) { s.cache.Touch(key, s.window) }
