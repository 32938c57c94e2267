package ges

// StreamToken is an opaque handle passed between loads and syncs. It
// carries enough per-store position and snapshot-headroom metadata for the
// decider and category to reason about reloads and compaction without
// knowing anything about the concrete backend.
//
// Fields are package-private: application code only ever sees a token
// round-trip through a memento (see Memento) or through Version /
// StreamEventBytes on a SyncContext.
type StreamToken struct {
	// streamVersion is the backend-native version: -1 for an empty stream.
	// version = streamVersion + 1.
	streamVersion int64

	// snapshotEventNumber is the backend event number of the most recent
	// event that acts as an origin (snapshot/compaction marker) for this
	// stream. -1 means "unknown" / no snapshot recorded.
	snapshotEventNumber int64

	// batchCapacityLimit is the remaining number of events that can be
	// appended before another compaction snapshot is warranted. Only
	// meaningful for categories using a compaction access strategy; -1
	// means "not tracked".
	batchCapacityLimit int64

	// streamBytes is a size hint, or -1 when unmeasured.
	streamBytes int64
}

// EmptyToken is the token for a stream that has never been written to.
var EmptyToken = StreamToken{streamVersion: -1, snapshotEventNumber: -1, batchCapacityLimit: -1, streamBytes: -1}

// NewToken builds a StreamToken from its backend-native version. Adapters
// use this as the base case; snapshot/capacity/bytes fields are filled in
// with With* afterwards.
func NewToken(streamVersion int64) StreamToken {
	return StreamToken{streamVersion: streamVersion, snapshotEventNumber: -1, batchCapacityLimit: -1, streamBytes: -1}
}

// WithSnapshotEventNumber returns a copy of the token recording the backend
// event number of the most recent origin/snapshot event.
func (t StreamToken) WithSnapshotEventNumber(n int64) StreamToken {
	t.snapshotEventNumber = n
	return t
}

// WithBatchCapacityLimit returns a copy of the token recording how many
// more events may be appended before a rolling snapshot is due.
func (t StreamToken) WithBatchCapacityLimit(n int64) StreamToken {
	if n < 0 {
		n = 0
	}
	t.batchCapacityLimit = n
	return t
}

// WithStreamBytes returns a copy of the token recording a size hint for the
// stream, or -1 when the adapter does not measure it.
func (t StreamToken) WithStreamBytes(n int64) StreamToken {
	t.streamBytes = n
	return t
}

// StreamVersion is the backend-native version; -1 for an empty stream.
func (t StreamToken) StreamVersion() int64 { return t.streamVersion }

// Version is the monotonic count of persisted events; 0 for an empty
// stream. Always equal to StreamVersion()+1.
func (t StreamToken) Version() int64 { return t.streamVersion + 1 }

// SnapshotEventNumber reports the backend event number of the most recent
// origin/snapshot event and whether one is known.
func (t StreamToken) SnapshotEventNumber() (int64, bool) {
	if t.snapshotEventNumber < 0 {
		return 0, false
	}
	return t.snapshotEventNumber, true
}

// BatchCapacityLimit reports the remaining headroom before a rolling
// snapshot is due, and whether the category tracks capacity at all.
func (t StreamToken) BatchCapacityLimit() (int64, bool) {
	if t.batchCapacityLimit < 0 {
		return 0, false
	}
	return t.batchCapacityLimit, true
}

// StreamBytes reports a size hint for the stream, or false when unmeasured.
func (t StreamToken) StreamBytes() (int64, bool) {
	if t.streamBytes < 0 {
		return 0, false
	}
	return t.streamBytes, true
}

// Supersedes reports whether t should replace other in a cache: a token
// supersedes another iff its stream version is strictly greater. This is a
// total preorder used to arbitrate concurrent cache updates; ties never
// supersede, so the first writer for a given version wins.
func (t StreamToken) Supersedes(other StreamToken) bool {
	return t.streamVersion > other.streamVersion
}

// computeBatchCapacityLimit implements the formula from §3:
//
//	max(0, batchSize - unstoredPending - (streamVersion - snapshotEventNumber + 1))
//
// or, when no snapshot is known:
//
//	max(0, batchSize - unstoredPending - (streamVersion + 2))
func computeBatchCapacityLimit(batchSize, unstoredPending, streamVersion int64, snapshotEventNumber int64, hasSnapshot bool) int64 {
	var headroom int64
	if hasSnapshot {
		headroom = batchSize - unstoredPending - (streamVersion - snapshotEventNumber + 1)
	} else {
		headroom = batchSize - unstoredPending - (streamVersion + 2)
	}
	if headroom < 0 {
		return 0
	}
	return headroom
}
