package ges

import (
	"context"
	"time"
)

// loadOptionKind tags which LoadOption variant a decider's initial fetch
// should use (spec §4.3).
type loadOptionKind int

const (
	loadRequire loadOptionKind = iota
	loadAllowStale
	loadAssumeEmpty
	loadFromMemento
)

// LoadOption governs a transact/query's initial fetch. Build one with
// RequireLoad, AllowStale, AssumeEmpty, or FromMemento.
type LoadOption[S any] struct {
	kind    loadOptionKind
	memento Memento[S]
}

// RequireLoad is the default: fetch from the backend, disallow stale
// cache. Equivalent to passing no LoadOption at all.
func RequireLoad[S any]() LoadOption[S] { return LoadOption[S]{kind: loadRequire} }

// AllowStale serves a cached entry as-is without contacting the backend,
// if the cache holds one; otherwise it falls back to a full load.
func AllowStale[S any]() LoadOption[S] { return LoadOption[S]{kind: loadAllowStale} }

// AssumeEmpty synthesizes (EmptyToken, initial state) without any I/O. Use
// this when the caller already knows the stream cannot exist yet.
func AssumeEmpty[S any]() LoadOption[S] { return LoadOption[S]{kind: loadAssumeEmpty} }

// FromMemento seeds the load from a previously captured Memento instead of
// the cache or the backend. Semantics are equivalent to AllowStale except
// the caller supplies the seed (spec §6).
func FromMemento[S any](m Memento[S]) LoadOption[S] {
	return LoadOption[S]{kind: loadFromMemento, memento: m}
}

// SyncContext is the memento-capable view of state a decide function sees
// when it needs more than the bare state: the current version, a size
// hint if the adapter supplies one, and a way to snapshot the pair for
// later replay (spec §3).
type SyncContext[S any] struct {
	token            StreamToken
	state            S
	streamEventBytes *int64
}

// Version is the stream's current version (events persisted so far).
func (sc SyncContext[S]) Version() int64 { return sc.token.Version() }

// StreamEventBytes reports the adapter's size hint for the stream, if any.
func (sc SyncContext[S]) StreamEventBytes() (int64, bool) {
	if sc.streamEventBytes == nil {
		return 0, false
	}
	return *sc.streamEventBytes, true
}

// State returns the folded domain state.
func (sc SyncContext[S]) State() S { return sc.state }

// CreateMemento captures (token, state) for later replay via FromMemento.
func (sc SyncContext[S]) CreateMemento() Memento[S] {
	return CreateMemento(sc.token, sc.state)
}

// ResyncFunc performs one reload-from-token after a conflict; it is what a
// ResyncPolicy is handed and may delay, retry, or transform.
type ResyncFunc[S any] func(ctx context.Context) (StreamToken, S, error)

// ResyncPolicy sees the 1-based attempt number and the default resync
// action, and returns the (token, state) to redecide against. The default
// is identity: call resync immediately with no delay (spec §4.3).
// Cancellation must propagate through any policy that delays.
type ResyncPolicy[S any] func(ctx context.Context, attempt int, resync ResyncFunc[S]) (StreamToken, S, error)

func identityResyncPolicy[S any](ctx context.Context, _ int, resync ResyncFunc[S]) (StreamToken, S, error) {
	return resync(ctx)
}

// Decider is the public API: Transact/Query plus the retry loop. One
// Decider value is bound to a single stream (category + stream name); it
// is stateless across calls other than through the category's cache.
type Decider[S any] struct {
	stream            string
	category          *Category[S]
	adapter           BackendAdapter
	maxAttempts       int
	resyncPolicy      ResyncPolicy[S]
	attemptsExhausted func(attempts int) error
	metadata          MetadataExtractor
	observer          Observer
}

// DeciderOption configures optional Decider behavior.
type DeciderOption[S any] func(*Decider[S])

// WithResyncPolicy overrides the default identity resync policy.
func WithResyncPolicy[S any](p ResyncPolicy[S]) DeciderOption[S] {
	return func(d *Decider[S]) { d.resyncPolicy = p }
}

// WithAttemptsExhaustedErrorFactory overrides the error raised when
// max_attempts conflicting syncs occur. Defaults to *MaxResyncsExhaustedError.
func WithAttemptsExhaustedErrorFactory[S any](f func(attempts int) error) DeciderOption[S] {
	return func(d *Decider[S]) { d.attemptsExhausted = f }
}

// WithMetadataExtractor wires a MetadataExtractor so every append this
// decider performs carries context-derived Metadata (tenant/user/trace
// ids, etc.), following the teacher's WithMetadataExtractor convention.
func WithMetadataExtractor[S any](ex MetadataExtractor) DeciderOption[S] {
	return func(d *Decider[S]) { d.metadata = ex }
}

// WithObserver wires a metrics Observer into the Decider itself, so its
// resync round trips (spec §9's "counters for read/write/resync") are
// reported distinctly from the plain reads a BackendAdapter instruments on
// its own. Defaults to NoopObserver.
func WithObserver[S any](o Observer) DeciderOption[S] {
	return func(d *Decider[S]) { d.observer = o }
}

// NewDecider builds a Decider bound to one stream. maxAttempts < 1 is
// rejected with *InvalidConfigError, before any I/O begins.
func NewDecider[S any](stream string, category *Category[S], adapter BackendAdapter, maxAttempts int, opts ...DeciderOption[S]) (*Decider[S], error) {
	if maxAttempts < 1 {
		return nil, &InvalidConfigError{Reason: "max_attempts must be >= 1"}
	}
	d := &Decider[S]{
		stream:            stream,
		category:          category,
		adapter:           adapter,
		maxAttempts:       maxAttempts,
		resyncPolicy:      identityResyncPolicy[S],
		attemptsExhausted: defaultAttemptsExhaustedErrorFactory(stream),
		observer:          NoopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Decider[S]) initialLoad(ctx context.Context, option LoadOption[S]) (StreamToken, S, error) {
	switch option.kind {
	case loadAllowStale:
		return d.category.Load(ctx, d.adapter, d.stream, true)
	case loadAssumeEmpty:
		return EmptyToken, d.category.Initial(), nil
	case loadFromMemento:
		return option.memento.Token, option.memento.State, nil
	default:
		return d.category.Load(ctx, d.adapter, d.stream, false)
	}
}

func (d *Decider[S]) encodeMetadata(ctx context.Context, explicit Metadata) Metadata {
	if d.metadata == nil {
		return explicit
	}
	return d.metadata(ctx).Merge(explicit)
}

// transact is the single decision loop every public operation is a thin
// shape over (spec §4.3 algorithm).
func transact[S, R any](ctx context.Context, d *Decider[S], decide func(SyncContext[S]) (R, []Event), option LoadOption[S]) (R, SyncContext[S], error) {
	var zero R

	token, state, err := d.initialLoad(ctx, option)
	if err != nil {
		return zero, SyncContext[S]{}, err
	}

	attempt := 1
	for {
		select {
		case <-ctx.Done():
			return zero, SyncContext[S]{}, ctx.Err()
		default:
		}

		sc := SyncContext[S]{token: token, state: state}
		result, events := decide(sc)
		if len(events) == 0 {
			return result, sc, nil
		}

		batch := d.category.PrepareWriteBatch(token, state, events)
		encoded, err := d.category.Encode(ctx, batch, d.encodeMetadata(ctx, nil))
		if err != nil {
			return zero, SyncContext[S]{}, err
		}

		sync, err := d.adapter.TrySync(ctx, d.stream, token, encoded, d.category.IsCompactionEvent())
		if err != nil {
			return zero, SyncContext[S]{}, err
		}

		if sync.Outcome == Written {
			newState := d.category.FoldFn()(state, events)
			newToken := d.category.withCapacity(sync.Token, 0)
			d.category.OnWritten(d.stream, newToken, newState)
			return result, SyncContext[S]{token: newToken, state: newState}, nil
		}

		// ConflictUnknown
		if attempt == d.maxAttempts {
			return zero, SyncContext[S]{}, d.attemptsExhausted(attempt)
		}

		resyncFn := func(ctx context.Context) (StreamToken, S, error) {
			return d.category.Resync(ctx, d.adapter, d.stream, token, state)
		}
		resyncStart := time.Now()
		newToken, newState, err := d.resyncPolicy(ctx, attempt, resyncFn)
		if err != nil {
			d.observer.OnResync(Record{Stream: d.stream, Elapsed: time.Since(resyncStart), Direction: Forward})
			return zero, SyncContext[S]{}, err
		}
		d.observer.OnResync(Record{
			Stream:    d.stream,
			Elapsed:   time.Since(resyncStart),
			Count:     int(newToken.Version() - token.Version()),
			Direction: Forward,
		})
		token, state = newToken, newState
		attempt++
	}
}

// Transact applies interpret against the loaded state and syncs any
// resulting events; an empty result performs no write.
func Transact[S any](ctx context.Context, d *Decider[S], interpret func(S) []Event, opts ...LoadOption[S]) error {
	_, _, err := transact[S, struct{}](ctx, d, func(sc SyncContext[S]) (struct{}, []Event) {
		return struct{}{}, interpret(sc.state)
	}, firstOption(opts))
	return err
}

// TransactRender is Transact followed by render(state) on the
// post-sync (or no-op) state, returning that view.
func TransactRender[S, V any](ctx context.Context, d *Decider[S], interpret func(S) []Event, render func(S) V, opts ...LoadOption[S]) (V, error) {
	_, sc, err := transact[S, struct{}](ctx, d, func(sc SyncContext[S]) (struct{}, []Event) {
		return struct{}{}, interpret(sc.state)
	}, firstOption(opts))
	var zero V
	if err != nil {
		return zero, err
	}
	return render(sc.state), nil
}

// Decide runs decide against loaded state, syncs any resulting events, and
// returns decide's result.
func Decide[S, R any](ctx context.Context, d *Decider[S], decide func(S) (R, []Event), opts ...LoadOption[S]) (R, error) {
	result, _, err := transact[S, R](ctx, d, func(sc SyncContext[S]) (R, []Event) {
		return decide(sc.state)
	}, firstOption(opts))
	return result, err
}

// DecideRender is Decide followed by mapResult(result, state) on the
// post-sync (or no-op) state.
func DecideRender[S, R, V any](ctx context.Context, d *Decider[S], decide func(S) (R, []Event), mapResult func(R, S) V, opts ...LoadOption[S]) (V, error) {
	result, sc, err := transact[S, R](ctx, d, func(sc SyncContext[S]) (R, []Event) {
		return decide(sc.state)
	}, firstOption(opts))
	var zero V
	if err != nil {
		return zero, err
	}
	return mapResult(result, sc.state), nil
}

// TransactEx surfaces the SyncContext (version/bytes/memento) to decide
// itself, for decisions that need to embed version or a memento in their
// result.
func TransactEx[S, R any](ctx context.Context, d *Decider[S], decide func(SyncContext[S]) (R, []Event), opts ...LoadOption[S]) (R, error) {
	result, _, err := transact[S, R](ctx, d, decide, firstOption(opts))
	return result, err
}

// Query renders a view of the loaded state with no write path.
func Query[S, V any](ctx context.Context, d *Decider[S], render func(S) V, opts ...LoadOption[S]) (V, error) {
	result, _, err := transact[S, V](ctx, d, func(sc SyncContext[S]) (V, []Event) {
		return render(sc.state), nil
	}, firstOption(opts))
	return result, err
}

// QueryEx is Query with the SyncContext surfaced to render.
func QueryEx[S, V any](ctx context.Context, d *Decider[S], render func(SyncContext[S]) V, opts ...LoadOption[S]) (V, error) {
	result, _, err := transact[S, V](ctx, d, func(sc SyncContext[S]) (V, []Event) {
		return render(sc), nil
	}, firstOption(opts))
	return result, err
}

func firstOption[S any](opts []LoadOption[S]) LoadOption[S] {
	if len(opts) == 0 {
		return RequireLoad[S]()
	}
	return opts[0]
}
