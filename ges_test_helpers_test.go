package ges_test

import (
	"context"
	"sync"

	"github.com/arrowlake/ges"
)

// fakeEvent is the wire-level record fakeStore keeps; it mirrors the shape
// stores/mem keeps internally, kept self-contained here so root package
// tests don't take a module dependency on a sibling module.
type fakeEvent struct {
	typ     string
	payload []byte
}

// fakeStore is a minimal in-memory ges.BackendAdapter for exercising the
// Decider/Category/Cache decision loop in isolation from any real adapter.
// It supports simulateExternalAppend, letting a test model a concurrent
// writer without going through a second Decider.
type fakeStore struct {
	mu        sync.Mutex
	streams   map[string][]fakeEvent
	loadCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{streams: make(map[string][]fakeEvent)}
}

// LoadCalls reports how many times any load method has been invoked, so a
// test can assert a cache hit avoided the backend entirely.
func (s *fakeStore) LoadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCalls
}

func (s *fakeStore) tokenFor(events []fakeEvent) ges.StreamToken {
	return ges.NewToken(int64(len(events)) - 1)
}

func (s *fakeStore) toRaw(events []fakeEvent, from int) []ges.RawEvent {
	out := make([]ges.RawEvent, 0, len(events)-from)
	for i := from; i < len(events); i++ {
		out = append(out, ges.RawEvent{EventNumber: int64(i), Type: events[i].typ, Payload: events[i].payload})
	}
	return out
}

func (s *fakeStore) LoadBatched(_ context.Context, stream string, fromVersion int64, predicates *ges.LoadPredicates, _ ges.ScanLimits) (ges.StreamToken, []ges.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	events := s.streams[stream]
	if fromVersion < 0 {
		fromVersion = 0
	}
	from := int(fromVersion)
	if from > len(events) {
		from = len(events)
	}
	raws := s.toRaw(events, from)
	token := s.tokenFor(events)
	if predicates != nil && predicates.IsCompactionEvent != nil {
		if n, ok := lastMatchFake(raws, predicates.IsCompactionEvent); ok {
			token = token.WithSnapshotEventNumber(n)
		}
	}
	return token, raws, nil
}

func (s *fakeStore) LoadBackwardsUntilOrigin(_ context.Context, stream string, tryDecode ges.TryDecode, isOrigin ges.IsOrigin, _ ges.ScanLimits) (ges.StreamToken, []ges.DecodedRawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	events := s.streams[stream]

	var out []ges.DecodedRawEvent
	snapshotAt := int64(-1)
	for i := len(events) - 1; i >= 0; i-- {
		raw := ges.RawEvent{EventNumber: int64(i), Type: events[i].typ, Payload: events[i].payload}
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
			break
		}
	}

	token := s.tokenFor(events)
	if snapshotAt >= 0 {
		token = token.WithSnapshotEventNumber(snapshotAt)
	}
	return token, out, nil
}

func (s *fakeStore) LoadFromToken(_ context.Context, _ bool, stream string, token ges.StreamToken, predicates *ges.LoadPredicates, _ ges.ScanLimits) (ges.StreamToken, []ges.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	events := s.streams[stream]
	from := int(token.StreamVersion() + 1)
	if from < 0 {
		from = 0
	}
	if from > len(events) {
		from = len(events)
	}
	raws := s.toRaw(events, from)
	newToken := s.tokenFor(events)
	if snap, ok := token.SnapshotEventNumber(); ok {
		newToken = newToken.WithSnapshotEventNumber(snap)
	}
	if predicates != nil && predicates.IsCompactionEvent != nil {
		if n, ok := lastMatchFake(raws, predicates.IsCompactionEvent); ok {
			newToken = newToken.WithSnapshotEventNumber(n)
		}
	}
	return newToken, raws, nil
}

func (s *fakeStore) TrySync(_ context.Context, stream string, expectedToken ges.StreamToken, events []ges.EncodedEvent, isCompactionEvent func(ges.EncodedEvent) bool) (ges.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.streams[stream]
	currentVersion := int64(len(existing)) - 1
	if currentVersion != expectedToken.StreamVersion() {
		actual := s.tokenFor(existing)
		return ges.SyncResult{Outcome: ges.ConflictUnknown, ObservedToken: &actual}, nil
	}

	firstNewIdx := len(existing)
	for _, e := range events {
		existing = append(existing, fakeEvent{typ: e.Type, payload: e.Payload})
	}
	s.streams[stream] = existing

	newToken := s.tokenFor(existing)
	if isCompactionEvent != nil {
		found := false
		for i := len(events) - 1; i >= 0; i-- {
			if isCompactionEvent(events[i]) {
				newToken = newToken.WithSnapshotEventNumber(int64(firstNewIdx + i))
				found = true
				break
			}
		}
		if !found {
			if snap, ok := expectedToken.SnapshotEventNumber(); ok {
				newToken = newToken.WithSnapshotEventNumber(snap)
			}
		}
	}
	return ges.SyncResult{Outcome: ges.Written, Token: newToken}, nil
}

// simulateExternalAppend appends directly, bypassing any token check, as if
// a second writer had successfully synced.
func (s *fakeStore) simulateExternalAppend(stream string, typ string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[stream] = append(s.streams[stream], fakeEvent{typ: typ, payload: payload})
}

func lastMatchFake(raws []ges.RawEvent, pred func(ges.RawEvent) bool) (int64, bool) {
	for i := len(raws) - 1; i >= 0; i-- {
		if pred(raws[i]) {
			return raws[i].EventNumber, true
		}
	}
	return 0, false
}

var _ ges.BackendAdapter = (*fakeStore)(nil)
