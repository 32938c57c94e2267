package ges

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Property 4 — supersede safety: concurrent update_if_newer calls racing
// against each other must leave the cache holding the highest stream
// version, regardless of arrival order.
func TestProperty_Cache_SupersedeSafety(t *testing.T) {
	t.Parallel()
	cache := NewCache()
	const key = "stream-1"
	const n = 200

	var wg sync.WaitGroup
	for v := int64(0); v < n; v++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			cache.UpdateIfNewer(key, NewToken(v), v, time.Time{})
		}(v)
	}
	wg.Wait()

	token, state, ok := cache.TryGet(key)
	require.True(t, ok)
	assert.Equal(t, int64(n-1), token.StreamVersion())
	assert.Equal(t, int64(n-1), state)
}

func TestCache_TryGet_MissingKey(t *testing.T) {
	t.Parallel()
	cache := NewCache()
	_, _, ok := cache.TryGet("absent")
	assert.False(t, ok)
}

func TestCache_UpdateIfNewer_IgnoresStaleCandidate(t *testing.T) {
	t.Parallel()
	cache := NewCache()
	const key = "stream-2"

	cache.UpdateIfNewer(key, NewToken(5), "five", time.Time{})
	cache.UpdateIfNewer(key, NewToken(3), "three", time.Time{})

	_, state, ok := cache.TryGet(key)
	require.True(t, ok)
	assert.Equal(t, "five", state, "an older candidate must not overwrite a newer incumbent")
}

// FixedTimeSpan expires a value a fixed period after it is written,
// regardless of how many times it is read in between.
func TestFixedTimeSpan_ExpiresAfterPeriod(t *testing.T) {
	defer restoreClock(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return base }

	cache := NewCache()
	strategy := NewFixedTimeSpan(cache, time.Minute)
	cache.UpdateIfNewer(strategy.Key("s"), NewToken(0), "v", strategy.ExpiresAt(nowFunc()))

	nowFunc = func() time.Time { return base.Add(30 * time.Second) }
	_, _, ok := cache.TryGet(strategy.Key("s"))
	assert.True(t, ok, "still within the fixed period")

	nowFunc = func() time.Time { return base.Add(2 * time.Minute) }
	_, _, ok = cache.TryGet(strategy.Key("s"))
	assert.False(t, ok, "expired once the fixed period elapses")
}

// SlidingWindow extends its expiration on every read, so repeated access
// keeps an entry alive past what a FixedTimeSpan would allow.
func TestSlidingWindow_ExtendsOnRead(t *testing.T) {
	defer restoreClock(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return base }

	cache := NewCache()
	strategy := NewSlidingWindow(cache, time.Minute)
	key := strategy.Key("s")
	cache.UpdateIfNewer(key, NewToken(0), "v", strategy.ExpiresAt(nowFunc()))

	nowFunc = func() time.Time { return base.Add(50 * time.Second) }
	_, _, ok := cache.TryGet(key)
	require.True(t, ok)
	strategy.OnRead(key) // touches the TTL forward from "now"

	nowFunc = func() time.Time { return base.Add(90 * time.Second) }
	_, _, ok = cache.TryGet(key)
	assert.True(t, ok, "the read at 50s pushed expiry to 110s")

	nowFunc = func() time.Time { return base.Add(130 * time.Second) }
	_, _, ok = cache.TryGet(key)
	assert.False(t, ok)
}

func restoreClock(t *testing.T) {
	t.Helper()
	nowFunc = time.Now
}
