// Package mem is an in-memory BackendAdapter. It is concurrency-safe and
// suitable for tests, prototypes, and local runs; events and snapshots are
// kept in-process and lost on restart.
package mem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arrowlake/ges"
)

type storedEvent struct {
	id       uuid.UUID
	typ      string
	payload  []byte
	metadata ges.Metadata
	at       time.Time
}

// Store is an in-memory ges.BackendAdapter implementation.
type Store struct {
	mu       sync.RWMutex
	streams  map[string][]storedEvent
	observer ges.Observer
}

// Option configures the in-memory Store.
type Option func(*Store)

// WithObserver wires a metrics observer; defaults to ges.NoopObserver.
func WithObserver(o ges.Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New creates a new in-memory Store.
func New(opts ...Option) *Store {
	s := &Store{
		streams:  make(map[string][]storedEvent),
		observer: ges.NoopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) observe(fn func(ges.Record), stream string, start time.Time, bytes int64, count int, dir ges.Direction) {
	fn(ges.Record{Stream: stream, Elapsed: time.Since(start), Bytes: bytes, Count: count, Direction: dir})
}

func tokenFor(events []storedEvent) ges.StreamToken {
	return ges.NewToken(int64(len(events)) - 1)
}

func toRaw(events []storedEvent, fromIdx int) []ges.RawEvent {
	out := make([]ges.RawEvent, 0, len(events)-fromIdx)
	for i := fromIdx; i < len(events); i++ {
		e := events[i]
		out = append(out, ges.RawEvent{EventNumber: int64(i), Type: e.typ, Payload: e.payload, Metadata: e.metadata})
	}
	return out
}

// LoadBatched scans forward from fromVersion (0 means the start). When
// predicates.IsCompactionEvent is supplied, the returned token's snapshot
// event number is the last matching event's position in the scan.
func (s *Store) LoadBatched(ctx context.Context, stream string, fromVersion int64, predicates *ges.LoadPredicates, limits ges.ScanLimits) (ges.StreamToken, []ges.RawEvent, error) {
	start := time.Now()
	s.mu.RLock()
	events := s.streams[stream]
	s.mu.RUnlock()

	if fromVersion < 0 {
		fromVersion = 0
	}
	raws := toRaw(events, clampIndex(fromVersion, len(events)))
	token := tokenFor(events)
	if predicates != nil && predicates.IsCompactionEvent != nil {
		if n, ok := lastMatch(raws, predicates.IsCompactionEvent); ok {
			token = token.WithSnapshotEventNumber(n)
		}
	}

	s.observe(s.observer.OnRead, stream, start, payloadBytes(raws), len(raws), ges.Forward)
	s.observe(s.observer.OnBatchRollup, stream, start, payloadBytes(raws), len(raws), ges.Forward)
	return token, raws, nil
}

// LoadBackwardsUntilOrigin scans backward, paging by limits.BatchSize,
// until the first decodable event for which isOrigin reports true
// (inclusive) or the stream start. Events are returned in forward order.
func (s *Store) LoadBackwardsUntilOrigin(ctx context.Context, stream string, tryDecode ges.TryDecode, isOrigin ges.IsOrigin, limits ges.ScanLimits) (ges.StreamToken, []ges.DecodedRawEvent, error) {
	start := time.Now()
	s.mu.RLock()
	events := s.streams[stream]
	s.mu.RUnlock()

	batchSize := limits.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	var out []ges.DecodedRawEvent
	snapshotAt := int64(-1)
	batches := 0

	for hi := len(events); hi > 0; {
		lo := hi - batchSize
		if lo < 0 {
			lo = 0
		}
		batches++
		if limits.MaxBatches > 0 && batches > limits.MaxBatches {
			return ges.StreamToken{}, nil, &ges.BatchLimitExceededError{Stream: stream, MaxBatches: limits.MaxBatches}
		}

		found := false
		for i := hi - 1; i >= lo; i-- {
			raw := ges.RawEvent{EventNumber: int64(i), Type: events[i].typ, Payload: events[i].payload, Metadata: events[i].metadata}
			decoded, ok := tryDecode(raw)
			var d ges.DecodedRawEvent
			if ok {
				d = ges.DecodedRawEvent{Raw: raw, Decoded: decoded}
			} else {
				d = ges.DecodedRawEvent{Raw: raw}
			}
			out = append([]ges.DecodedRawEvent{d}, out...)

			if ok && isOrigin(decoded) {
				snapshotAt = int64(i)
				found = true
				break
			}
		}
		if found {
			break
		}
		hi = lo
	}

	token := tokenFor(events)
	if snapshotAt >= 0 {
		token = token.WithSnapshotEventNumber(snapshotAt)
	}

	s.observe(s.observer.OnRead, stream, start, payloadBytesDecoded(out), len(out), ges.Backward)
	s.observe(s.observer.OnBatchRollup, stream, start, payloadBytesDecoded(out), len(out), ges.Backward)
	return token, out, nil
}

// LoadFromToken scans forward starting at token.StreamVersion()+1.
func (s *Store) LoadFromToken(ctx context.Context, useWriteConn bool, stream string, token ges.StreamToken, predicates *ges.LoadPredicates, limits ges.ScanLimits) (ges.StreamToken, []ges.RawEvent, error) {
	start := time.Now()
	s.mu.RLock()
	events := s.streams[stream]
	s.mu.RUnlock()

	fromIdx := clampIndex(token.StreamVersion()+1, len(events))
	raws := toRaw(events, fromIdx)
	newToken := tokenFor(events)
	if snap, ok := token.SnapshotEventNumber(); ok {
		newToken = newToken.WithSnapshotEventNumber(snap)
	}
	if predicates != nil && predicates.IsCompactionEvent != nil {
		if n, ok := lastMatch(raws, predicates.IsCompactionEvent); ok {
			newToken = newToken.WithSnapshotEventNumber(n)
		}
	}

	s.observe(s.observer.OnRead, stream, start, payloadBytes(raws), len(raws), ges.Forward)
	return newToken, raws, nil
}

// TrySync appends encoded events under the expectedToken precondition.
func (s *Store) TrySync(ctx context.Context, stream string, expectedToken ges.StreamToken, events []ges.EncodedEvent, isCompactionEvent func(ges.EncodedEvent) bool) (ges.SyncResult, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.streams[stream]
	currentVersion := int64(len(existing)) - 1
	if currentVersion != expectedToken.StreamVersion() {
		actual := tokenFor(existing)
		s.observe(s.observer.OnAppendConflict, stream, start, 0, 0, ges.Forward)
		return ges.SyncResult{Outcome: ges.ConflictUnknown, ObservedToken: &actual}, nil
	}

	if len(events) == 0 {
		return ges.SyncResult{Outcome: ges.Written, Token: expectedToken}, nil
	}

	now := time.Now()
	firstNewIdx := len(existing)
	for _, e := range events {
		existing = append(existing, storedEvent{id: uuid.New(), typ: e.Type, payload: e.Payload, metadata: e.Metadata, at: now})
	}
	s.streams[stream] = existing

	newToken := tokenFor(existing)
	if isCompactionEvent != nil {
		snapshotFound := false
		for i := len(events) - 1; i >= 0; i-- {
			if isCompactionEvent(events[i]) {
				newToken = newToken.WithSnapshotEventNumber(int64(firstNewIdx + i))
				snapshotFound = true
				break
			}
		}
		if !snapshotFound {
			if snap, ok := expectedToken.SnapshotEventNumber(); ok {
				newToken = newToken.WithSnapshotEventNumber(snap)
			}
		}
	}

	var bytes int64
	for _, e := range events {
		bytes += int64(len(e.Payload))
	}
	s.observe(s.observer.OnAppendSuccess, stream, start, bytes, len(events), ges.Forward)

	return ges.SyncResult{Outcome: ges.Written, Token: newToken}, nil
}

func clampIndex(v int64, length int) int {
	if v < 0 {
		return 0
	}
	if v > int64(length) {
		return length
	}
	return int(v)
}

func lastMatch(raws []ges.RawEvent, pred func(ges.RawEvent) bool) (int64, bool) {
	for i := len(raws) - 1; i >= 0; i-- {
		if pred(raws[i]) {
			return raws[i].EventNumber, true
		}
	}
	return 0, false
}

func payloadBytes(raws []ges.RawEvent) int64 {
	var n int64
	for _, r := range raws {
		n += int64(len(r.Payload))
	}
	return n
}

func payloadBytesDecoded(ds []ges.DecodedRawEvent) int64 {
	var n int64
	for _, d := range ds {
		n += int64(len(d.Raw.Payload))
	}
	return n
}

var _ ges.BackendAdapter = (*Store)(nil)
