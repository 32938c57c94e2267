package ges

import (
	"context"
	"fmt"
)

// Fold left-folds a batch of decoded events into domain state.
type Fold[S any] func(state S, events []Event) S

type accessKind int

const (
	accessUnrestricted accessKind = iota
	accessLatestKnownEvent
	accessRollingSnapshots
)

// AccessStrategy is a tagged variant with three cases (spec §4.2). It
// decides which load algorithm a Category uses and, for RollingSnapshots,
// how compaction events are produced. Build one with Unrestricted,
// LatestKnownEvent, or RollingSnapshots — there is no exported way to
// construct an invalid case.
type AccessStrategy[S any] struct {
	kind       accessKind
	isOrigin   func(Event) bool
	toSnapshot func(S) Event
}

// Unrestricted loads the full stream forward from the start; no compaction
// is ever produced.
func Unrestricted[S any]() AccessStrategy[S] {
	return AccessStrategy[S]{kind: accessUnrestricted}
}

// LatestKnownEvent reconstitutes state from a single, most-recent
// decodable event. It is strictly cheaper than caching and is rejected at
// Category construction time when combined with any CachingStrategy (spec
// §4.4).
func LatestKnownEvent[S any]() AccessStrategy[S] {
	return AccessStrategy[S]{kind: accessLatestKnownEvent, isOrigin: func(Event) bool { return true }}
}

// RollingSnapshots short-circuits forward reads at the most recent event
// for which isOrigin reports true, and on sync appends an extra event
// produced by toSnapshot(fold(state, events)) whenever the write would
// exceed the token's batch capacity limit, preserving the invariant that a
// snapshot exists within the last batch_size events (spec §4.5, §8
// property 7).
func RollingSnapshots[S any](isOrigin func(Event) bool, toSnapshot func(S) Event) AccessStrategy[S] {
	return AccessStrategy[S]{kind: accessRollingSnapshots, isOrigin: isOrigin, toSnapshot: toSnapshot}
}

// CompactionContext exposes whether a write batch is due for a rolling
// snapshot, per spec §4.5.
type CompactionContext struct {
	EventsLen               int
	CapacityBeforeCompaction int64
}

// IsCompactionDue reports events_len > capacity_before_compaction.
func (c CompactionContext) IsCompactionDue() bool {
	return int64(c.EventsLen) > c.CapacityBeforeCompaction
}

// Category holds the per-stream-category policy: a codec, a fold, initial
// state, an access strategy, and an optional caching strategy. It
// dispatches load/sync through the configuration captured here rather than
// through a layered decorator chain (spec §9's cyclic-type-parameters
// note): one Category value is the whole policy.
type Category[S any] struct {
	codec      Registry
	fold       Fold[S]
	initial    S
	access     AccessStrategy[S]
	caching    CachingStrategy
	scanLimits ScanLimits
	batchSize  int64
}

// CategoryOption configures optional Category behavior.
type CategoryOption[S any] func(*Category[S])

// WithCaching wires a CachingStrategy into the category. Rejected at
// NewCategory time when combined with LatestKnownEvent.
func WithCaching[S any](s CachingStrategy) CategoryOption[S] {
	return func(c *Category[S]) { c.caching = s }
}

// WithScanLimits bounds how many pages a load may consume before failing
// with ErrBatchLimitExceeded (spec §4.1 "page-limit safety").
func WithScanLimits[S any](limits ScanLimits) CategoryOption[S] {
	return func(c *Category[S]) { c.scanLimits = limits }
}

// WithBatchSize sets the batch_size used in the batch_capacity_limit
// formula (spec §3). Defaults to 0, meaning capacity is never tracked —
// required to be set to a positive value to use RollingSnapshots.
func WithBatchSize[S any](n int64) CategoryOption[S] {
	return func(c *Category[S]) { c.batchSize = n }
}

// NewCategory builds a Category. Returns *InvalidConfigError if
// LatestKnownEvent is combined with a CachingStrategy, or if
// RollingSnapshots is configured without a positive batch size.
func NewCategory[S any](codec Registry, fold Fold[S], initial S, access AccessStrategy[S], opts ...CategoryOption[S]) (*Category[S], error) {
	c := &Category[S]{codec: codec, fold: fold, initial: initial, access: access}
	for _, opt := range opts {
		opt(c)
	}
	if access.kind == accessLatestKnownEvent && c.caching != nil {
		return nil, &InvalidConfigError{Reason: "LatestKnownEvent cannot be combined with a CachingStrategy"}
	}
	if access.kind == accessRollingSnapshots && c.batchSize <= 0 {
		return nil, &InvalidConfigError{Reason: "RollingSnapshots requires a positive WithBatchSize"}
	}
	if c.scanLimits.BatchSize <= 0 {
		c.scanLimits.BatchSize = 500
	}
	return c, nil
}

func (c *Category[S]) decode(raw RawEvent) (any, bool) {
	return c.codec.TryDecode(raw.Type, raw.Payload)
}

// withCapacity fills in token.batch_capacity_limit per the formula in
// spec §3. Adapters never compute this themselves — they don't know a
// category's batch_size — so the Category derives it from whatever
// stream_version/snapshot_event_number the adapter reported. A no-op for
// non-compacting categories, per the invariant that batch_capacity_limit
// is only defined when a compaction access strategy is in play.
func (c *Category[S]) withCapacity(token StreamToken, unstoredPending int64) StreamToken {
	if c.access.kind != accessRollingSnapshots {
		return token
	}
	snap, hasSnapshot := token.SnapshotEventNumber()
	limit := computeBatchCapacityLimit(c.batchSize, unstoredPending, token.StreamVersion(), snap, hasSnapshot)
	return token.WithBatchCapacityLimit(limit)
}

func (c *Category[S]) predicates() *LoadPredicates {
	if c.access.kind == accessUnrestricted {
		return nil
	}
	return &LoadPredicates{
		IsCompactionEvent: func(raw RawEvent) bool {
			ev, ok := c.decode(raw)
			return ok && c.access.isOrigin(ev)
		},
	}
}

// load performs a full load (no cache consultation), selecting the
// algorithm per spec §4.2: Unrestricted -> load_batched; LatestKnownEvent
// or RollingSnapshots -> load_backwards_until_origin.
func (c *Category[S]) load(ctx context.Context, adapter BackendAdapter, stream string) (StreamToken, S, error) {
	switch c.access.kind {
	case accessUnrestricted:
		token, raws, err := adapter.LoadBatched(ctx, stream, 0, nil, c.scanLimits)
		if err != nil {
			return StreamToken{}, c.initial, err
		}
		return c.withCapacity(token, 0), c.fold(c.initial, c.applyRaws(raws)), nil

	default:
		token, decoded, err := adapter.LoadBackwardsUntilOrigin(ctx, stream, c.decode, c.access.isOrigin, c.scanLimits)
		if err != nil {
			return StreamToken{}, c.initial, err
		}
		events := make([]Event, 0, len(decoded))
		for _, d := range decoded {
			if d.Decoded != nil {
				events = append(events, d.Decoded)
			}
		}
		return c.withCapacity(token, 0), c.fold(c.initial, events), nil
	}
}

func (c *Category[S]) applyRaws(raws []RawEvent) []Event {
	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		if ev, ok := c.decode(raw); ok {
			events = append(events, ev)
		}
	}
	return events
}

// loadFromToken replays only the tail after token (spec §4.2's
// load_from_token(state, stream, token)): forward scan starting at
// token.stream_version+1, then fold(state, decoded_tail).
func (c *Category[S]) loadFromToken(ctx context.Context, adapter BackendAdapter, useWriteConn bool, stream string, token StreamToken, state S) (StreamToken, S, error) {
	newToken, raws, err := adapter.LoadFromToken(ctx, useWriteConn, stream, token, c.predicates(), c.scanLimits)
	if err != nil {
		return StreamToken{}, state, err
	}
	events := c.applyRaws(raws)
	return c.withCapacity(newToken, 0), c.fold(state, events), nil
}

// Load implements the cache-aware load path from spec §4.4:
//   - no cache configured: full load.
//   - cache hit + allowStale: return the hit as-is, no I/O.
//   - cache hit + not stale: load_from_token + fold forward; refresh cache.
//   - cache miss: full load; insert into cache.
func (c *Category[S]) Load(ctx context.Context, adapter BackendAdapter, stream string, allowStale bool) (StreamToken, S, error) {
	if c.caching == nil {
		return c.load(ctx, adapter, stream)
	}

	key := c.caching.Key(stream)
	cache := c.caching.Cache()

	if token, raw, ok := cache.TryGet(key); ok {
		c.caching.OnRead(key)
		state, _ := raw.(S)
		if allowStale {
			return token, state, nil
		}
		newToken, newState, err := c.loadFromToken(ctx, adapter, false, stream, token, state)
		if err != nil {
			return StreamToken{}, state, err
		}
		cache.UpdateIfNewer(key, newToken, newState, c.caching.ExpiresAt(nowFunc()))
		return newToken, newState, nil
	}

	token, state, err := c.load(ctx, adapter, stream)
	if err != nil {
		return StreamToken{}, state, err
	}
	cache.UpdateIfNewer(key, token, state, c.caching.ExpiresAt(nowFunc()))
	return token, state, nil
}

// Resync is used by the decider on ConflictUnknown: it always contacts the
// backend (use_write_conn=true per spec §4.3 step 7), regardless of any
// cache, since the whole point is to observe events the cache cannot know
// about yet.
func (c *Category[S]) Resync(ctx context.Context, adapter BackendAdapter, stream string, token StreamToken, state S) (StreamToken, S, error) {
	return c.loadFromToken(ctx, adapter, true, stream, token, state)
}

// PrepareWriteBatch computes the final event batch for a sync: the
// produced events plus, for RollingSnapshots categories whose compaction
// is due, one additional snapshot event (spec §4.5).
func (c *Category[S]) PrepareWriteBatch(token StreamToken, state S, events []Event) []Event {
	if c.access.kind != accessRollingSnapshots || len(events) == 0 {
		return events
	}
	capacity, _ := token.BatchCapacityLimit()
	ctx := CompactionContext{EventsLen: len(events), CapacityBeforeCompaction: capacity}
	if !ctx.IsCompactionDue() {
		return events
	}
	folded := c.fold(state, events)
	snap := c.access.toSnapshot(folded)
	out := make([]Event, len(events)+1)
	copy(out, events)
	out[len(events)] = snap
	return out
}

// Encode turns a batch of domain events into the wire-ready shape an
// adapter's TrySync expects.
func (c *Category[S]) Encode(ctx context.Context, events []Event, md Metadata) ([]EncodedEvent, error) {
	out := make([]EncodedEvent, len(events))
	for i, e := range events {
		typ, payload, err := c.codec.Encode(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("ges: encoding event %d: %w", i, err)
		}
		out[i] = EncodedEvent{Type: typ, Payload: payload, Metadata: md}
	}
	return out, nil
}

// IsCompactionEvent exposes the category's origin predicate in the shape
// TrySync wants, for adapters deriving snapshot_event_number from the
// just-written batch (spec §4.1).
func (c *Category[S]) IsCompactionEvent() func(EncodedEvent) bool {
	if c.access.kind == accessUnrestricted {
		return nil
	}
	return func(enc EncodedEvent) bool {
		ev, ok := c.codec.TryDecode(enc.Type, enc.Payload)
		return ok && c.access.isOrigin(ev)
	}
}

// OnWritten updates the cache after a successful sync, subject to the
// configured strategy's expiration policy (spec §4.4 item 2). No-op when
// no cache is configured.
func (c *Category[S]) OnWritten(stream string, token StreamToken, state S) {
	if c.caching == nil {
		return
	}
	key := c.caching.Key(stream)
	c.caching.Cache().UpdateIfNewer(key, token, state, c.caching.ExpiresAt(nowFunc()))
}

// Initial returns the category's zero-event initial state.
func (c *Category[S]) Initial() S { return c.initial }

// FoldFn exposes the configured Fold for the decider's in-band state
// update after a Written outcome (no backend round-trip needed).
func (c *Category[S]) FoldFn() Fold[S] { return c.fold }
