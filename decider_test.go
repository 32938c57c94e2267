package ges_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowlake/ges"
)

// Tick is a minimal domain event used by the decision-loop scenarios below:
// decide always appends one Tick carrying the pre-decide tick count, so
// retries are externally observable as distinct appended values.
type Tick struct{ N int }

func (Tick) EventType() string { return "Tick" }

type ticksState struct{ ticks []int }

func ticksFold(s ticksState, events []ges.Event) ticksState {
	for _, e := range events {
		if t, ok := e.(Tick); ok {
			next := make([]int, len(s.ticks)+1)
			copy(next, s.ticks)
			next[len(s.ticks)] = t.N
			s.ticks = next
		}
	}
	return s
}

func newTicksCategory(t *testing.T) *ges.Category[ticksState] {
	t.Helper()
	cat, err := ges.NewCategory[ticksState](
		ges.Registry{"Tick": ges.JSONCodec[Tick]()},
		ticksFold,
		ticksState{},
		ges.Unrestricted[ticksState](),
	)
	require.NoError(t, err)
	return cat
}

func tickOnce(s ticksState) (int, []ges.Event) {
	n := len(s.ticks)
	return n, []ges.Event{Tick{N: n}}
}

// Assigned/assignState model the "write-once" domain used by S1: a value
// can be set exactly once; setting it again is a no-op that reports the
// already-set value instead of appending anything.
type Assigned struct{ Value int }

func (Assigned) EventType() string { return "Assigned" }

type assignState struct {
	value *int
}

func assignFold(s assignState, events []ges.Event) assignState {
	for _, e := range events {
		if a, ok := e.(Assigned); ok {
			v := a.Value
			s.value = &v
		}
	}
	return s
}

type assignResult struct {
	alreadySet bool
	value      int
}

func newAssignCategory(t *testing.T) *ges.Category[assignState] {
	t.Helper()
	cat, err := ges.NewCategory[assignState](
		ges.Registry{"Assigned": ges.JSONCodec[Assigned]()},
		assignFold,
		assignState{},
		ges.Unrestricted[assignState](),
	)
	require.NoError(t, err)
	return cat
}

func decideAssign(v int) func(assignState) (assignResult, []ges.Event) {
	return func(s assignState) (assignResult, []ges.Event) {
		if s.value != nil {
			return assignResult{alreadySet: true, value: *s.value}, nil
		}
		return assignResult{value: v}, []ges.Event{Assigned{Value: v}}
	}
}

// S1 — Empty idempotent assign.
func TestScenario_S1_EmptyIdempotentAssign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	cat := newAssignCategory(t)
	decider, err := ges.NewDecider("assign-1", cat, store, 5)
	require.NoError(t, err)

	result, sc, err := decideAndCapture(ctx, decider, decideAssign(42))
	require.NoError(t, err)
	assert.Equal(t, assignResult{value: 42}, result)
	assert.Equal(t, int64(1), sc.Version())

	result2, sc2, err := decideAndCapture(ctx, decider, decideAssign(42))
	require.NoError(t, err)
	assert.Equal(t, assignResult{alreadySet: true, value: 42}, result2)
	assert.Equal(t, int64(1), sc2.Version(), "second transact performs no write")
}

func decideAndCapture[R any](ctx context.Context, d *ges.Decider[assignState], decide func(assignState) (R, []ges.Event)) (R, ges.SyncContext[assignState], error) {
	return ges.TransactEx(ctx, d, func(sc ges.SyncContext[assignState]) (R, []ges.Event) {
		return decide(sc.State())
	})
}

// S2 — Conflict then success.
func TestScenario_S2_ConflictThenSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	cat := newTicksCategory(t)
	stream := "ticks-s2"

	encoded, err := cat.Encode(ctx, []ges.Event{Tick{N: 0}}, nil)
	require.NoError(t, err)
	store.simulateExternalAppend(stream, encoded[0].Type, encoded[0].Payload) // writer A's E1

	decider, err := ges.NewDecider(stream, cat, store, 5)
	require.NoError(t, err)

	attempts := 0
	decide := func(s ticksState) (int, []ges.Event) {
		attempts++
		return tickOnce(s)
	}
	_, sc, err := ges.TransactEx(ctx, decider, func(sc ges.SyncContext[ticksState]) (int, []ges.Event) {
		return decide(sc.State())
	}, ges.AssumeEmpty[ticksState]())
	require.NoError(t, err)

	assert.Equal(t, 2, attempts, "first attempt conflicts against A's E1, second succeeds")
	assert.Equal(t, int64(2), sc.Version())
	assert.Equal(t, []int{0, 1}, sc.State().ticks)
}

// recordingObserver captures every Record a Decider hands it, so a test can
// assert which hook fired without standing up a real telemetry backend.
type recordingObserver struct {
	mu      sync.Mutex
	resyncs []ges.Record
}

func (o *recordingObserver) OnRead(ges.Record)          {}
func (o *recordingObserver) OnBatchRollup(ges.Record)   {}
func (o *recordingObserver) OnAppendSuccess(ges.Record) {}
func (o *recordingObserver) OnAppendConflict(ges.Record) {}
func (o *recordingObserver) OnResync(r ges.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resyncs = append(o.resyncs, r)
}

var _ ges.Observer = (*recordingObserver)(nil)

// A conflicting attempt's resync round trip is reported through OnResync,
// distinctly from the adapter's own OnRead/OnBatchRollup instrumentation of
// the same load_from_token call.
func TestScenario_S2_ResyncReportedViaObserver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	cat := newTicksCategory(t)
	stream := "ticks-s2-observer"

	encoded, err := cat.Encode(ctx, []ges.Event{Tick{N: 0}}, nil)
	require.NoError(t, err)
	store.simulateExternalAppend(stream, encoded[0].Type, encoded[0].Payload)

	obs := &recordingObserver{}
	decider, err := ges.NewDecider(stream, cat, store, 5, ges.WithObserver[ticksState](obs))
	require.NoError(t, err)

	_, _, err = ges.TransactEx(ctx, decider, func(sc ges.SyncContext[ticksState]) (int, []ges.Event) {
		_, events := tickOnce(sc.State())
		return 0, events
	}, ges.AssumeEmpty[ticksState]())
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.resyncs, 1, "exactly one resync for the single conflicting attempt")
	assert.Equal(t, stream, obs.resyncs[0].Stream)
	assert.Equal(t, 1, obs.resyncs[0].Count, "folded A's one external event forward")
}

// S3 — Attempts exhausted.
func TestScenario_S3_AttemptsExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	cat := newTicksCategory(t)
	stream := "ticks-s3"

	encoded, err := cat.Encode(ctx, []ges.Event{Tick{N: 0}}, nil)
	require.NoError(t, err)
	store.simulateExternalAppend(stream, encoded[0].Type, encoded[0].Payload)

	decider, err := ges.NewDecider(stream, cat, store, 1)
	require.NoError(t, err)

	_, _, err = ges.TransactEx(ctx, decider, func(sc ges.SyncContext[ticksState]) (int, []ges.Event) {
		return tickOnce(sc.State())
	}, ges.AssumeEmpty[ticksState]())

	require.Error(t, err)
	var exhausted *ges.MaxResyncsExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts)
	assert.True(t, errors.Is(err, ges.ErrMaxResyncsExhausted))

	// No events from B were persisted: the stream still holds only A's E1.
	raw, err := rawCount(ctx, store, stream)
	require.NoError(t, err)
	assert.Equal(t, 1, raw)
}

func rawCount(ctx context.Context, store *fakeStore, stream string) (int, error) {
	_, raws, err := store.LoadBatched(ctx, stream, 0, nil, ges.ScanLimits{})
	return len(raws), err
}

// S5 — Stale cache read.
func TestScenario_S5_StaleCacheRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	cache := ges.NewCache()
	strategy := ges.NewFixedTimeSpan(cache, time.Hour) // effectively never expires within the test

	cat, err := ges.NewCategory[ticksState](
		ges.Registry{"Tick": ges.JSONCodec[Tick]()},
		ticksFold,
		ticksState{},
		ges.Unrestricted[ticksState](),
		ges.WithCaching[ticksState](strategy),
	)
	require.NoError(t, err)

	stream := "ticks-s5"
	decider, err := ges.NewDecider(stream, cat, store, 5)
	require.NoError(t, err)

	// Drive the stream to version=3, refreshing the cache in-band each time.
	for i := 0; i < 3; i++ {
		require.NoError(t, ges.Transact(ctx, decider, func(s ticksState) []ges.Event {
			_, events := tickOnce(s)
			return events
		}))
	}

	callsBefore := store.LoadCalls()
	stale, err := ges.Query(ctx, decider, func(s ticksState) int64 { return int64(len(s.ticks)) }, ges.AllowStale[ticksState]())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stale)
	assert.Equal(t, callsBefore, store.LoadCalls(), "AllowStale with a warm cache entry performs no backend I/O")

	// Two more writes land (e.g. from another caller sharing the backend);
	// the decider's own cache is refreshed in-band by each Transact.
	for i := 0; i < 2; i++ {
		require.NoError(t, ges.Transact(ctx, decider, func(s ticksState) []ges.Event {
			_, events := tickOnce(s)
			return events
		}))
	}

	fresh, err := ges.Query(ctx, decider, func(s ticksState) int64 { return int64(len(s.ticks)) })
	require.NoError(t, err)
	assert.Equal(t, int64(5), fresh)
}

// S6 — Memento replay.
func TestScenario_S6_MementoReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	cat := newTicksCategory(t)
	stream := "ticks-s6"

	decider, err := ges.NewDecider(stream, cat, store, 5)
	require.NoError(t, err)

	var memento ges.Memento[ticksState]
	for i := 0; i < 7; i++ {
		m, err := ges.TransactEx(ctx, decider, func(sc ges.SyncContext[ticksState]) (ges.Memento[ticksState], []ges.Event) {
			_, events := tickOnce(sc.State())
			return sc.CreateMemento(), events
		})
		require.NoError(t, err)
		memento = m
	}
	require.Equal(t, int64(6), memento.Token.Version(), "memento captured before this transact's own write lands")

	// Advance the backend out from under the memento to version=9 (two more
	// writes from a "concurrent" actor).
	for i := 0; i < 2; i++ {
		encoded, err := cat.Encode(ctx, []ges.Event{Tick{N: 99}}, nil)
		require.NoError(t, err)
		store.simulateExternalAppend(stream, encoded[0].Type, encoded[0].Payload)
	}
	total, err := rawCount(ctx, store, stream)
	require.NoError(t, err)
	require.Equal(t, 9, total)

	resumed, err := ges.NewDecider(stream, cat, store, 5)
	require.NoError(t, err)

	_, sc, err := ges.TransactEx(ctx, resumed, func(sc ges.SyncContext[ticksState]) (int, []ges.Event) {
		_, events := tickOnce(sc.State())
		return 0, events
	}, ges.FromMemento(memento))
	require.NoError(t, err)
	assert.Equal(t, int64(10), sc.Version(), "resync folded the three events after the memento (the seventh tick and the two external ones) forward before redeciding")
}
