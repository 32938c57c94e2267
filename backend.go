package ges

import (
	"context"
	"errors"
	"fmt"
)

// Direction distinguishes the two scan directions an adapter may be asked
// to read in; it is also used as a metric dimension (see Observer).
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// RawEvent is the wire-level shape an adapter hands back from a load: the
// encoded payload plus enough envelope information for the category to
// decode it and for the decider to fold it.
type RawEvent struct {
	// EventNumber is the backend-native position of this event within the
	// stream (0-based).
	EventNumber int64
	Type        string
	Payload     []byte
	Metadata    Metadata
}

// LoadPredicates narrows a load. IsCompactionEvent, when supplied, lets the
// adapter annotate the returned token with the last matching event's
// position; adapters must not filter events out based on it — it is purely
// informational for token derivation.
type LoadPredicates struct {
	IsCompactionEvent func(RawEvent) bool
}

// TryDecode attempts to decode a RawEvent; adapters pass the raw bytes
// through a category's codec without needing to know the decoded type.
type TryDecode func(RawEvent) (any, bool)

// IsOrigin reports whether a decoded event is an origin/snapshot event from
// which state can be reconstituted without earlier events.
type IsOrigin func(any) bool

// SyncOutcome is the tag of a SyncResult.
type SyncOutcome int

const (
	Written SyncOutcome = iota
	ConflictUnknown
)

// SyncResult is returned by TrySync. On Written, Token is the new stream
// token. On ConflictUnknown, Token is the zero token and ObservedToken is
// set when the adapter can report the token it observed. The decider does
// not read ObservedToken: a ResyncPolicy is not handed it, and a resync
// always reloads from the token of the conflicting attempt.
type SyncResult struct {
	Outcome       SyncOutcome
	Token         StreamToken
	ObservedToken *StreamToken
}

// ScanLimits bounds a scan so that a pathological stream cannot force an
// adapter into an unbounded read. Exceeding MaxBatches is a Fatal error
// (BatchLimitExceeded), never a silent truncation.
type ScanLimits struct {
	BatchSize  int
	MaxBatches int // 0 means unbounded
}

// BackendAdapter is the per-store contract a concrete event store plugs
// into the decider. All operations are asynchronous (they take a
// context.Context) and cancellable. Implementations must be safe for
// concurrent use across streams; within one stream, the decider never
// issues two concurrent TrySync calls for the same (stream, token) pair.
//
// Errors returned from any method are one of:
//   - nil / *SyncResult with Outcome=ConflictUnknown: handled by the decider.
//   - an error wrapping ErrTransient: the adapter's own retry budget is
//     exhausted; the caller may retry the whole operation.
//   - an error wrapping ErrFatal (StreamDeleted, unknown status,
//     BatchLimitExceeded): never retried.
type BackendAdapter interface {
	// LoadBatched scans a stream forward from fromVersion (0 means the
	// start). If predicates.IsCompactionEvent is supplied, the returned
	// token's snapshot event number is set from the *last* matching event
	// in the scan; otherwise the token carries no snapshot information.
	LoadBatched(ctx context.Context, stream string, fromVersion int64, predicates *LoadPredicates, limits ScanLimits) (StreamToken, []RawEvent, error)

	// LoadBackwardsUntilOrigin scans backward in pages until the first
	// event (in backward order, i.e. newest-first) for which isOrigin
	// reports true on its decoded form, inclusive, or the start of the
	// stream. Events are returned in forward order. The token records the
	// origin event's backend event number when one was found.
	LoadBackwardsUntilOrigin(ctx context.Context, stream string, tryDecode TryDecode, isOrigin IsOrigin, limits ScanLimits) (StreamToken, []DecodedRawEvent, error)

	// LoadFromToken scans forward starting at token's stream version + 1.
	// useWriteConn requests the adapter route the read through whichever
	// connection it reserves for consistency with in-flight writes (see
	// §5's twin-connection policy); adapters that use a single connection
	// may ignore it.
	LoadFromToken(ctx context.Context, useWriteConn bool, stream string, token StreamToken, predicates *LoadPredicates, limits ScanLimits) (StreamToken, []RawEvent, error)

	// TrySync appends encoded events under the expectedToken precondition.
	// isCompactionEvent, when supplied, lets the adapter search the
	// just-written events (backward) for a match to derive the new
	// snapshotEventNumber; otherwise the previous snapshot number carries
	// over and capacity is reduced by len(events).
	TrySync(ctx context.Context, stream string, expectedToken StreamToken, events []EncodedEvent, isCompactionEvent func(EncodedEvent) bool) (SyncResult, error)
}

// DecodedRawEvent pairs a raw event with its decoded form, when decodable.
// A backward scan may encounter events it cannot decode (e.g. from an
// older schema); Decoded is nil in that case and the scan keeps going.
type DecodedRawEvent struct {
	Raw     RawEvent
	Decoded any
}

// EncodedEvent is what the category hands to an adapter for appending: an
// event type name, the encoded payload, and metadata to attach.
type EncodedEvent struct {
	Type     string
	Payload  []byte
	Metadata Metadata
}

// Sentinel error kinds. Adapters wrap one of these with fmt.Errorf(...:
// %w...) so that errors.Is(err, ges.ErrTransient) / ErrFatal works
// regardless of the concrete adapter.
var (
	// ErrTransient marks a retryable transport error. Adapters should
	// already have exhausted their own internal retry budget before
	// surfacing this; the decider does not retry on it.
	ErrTransient = errors.New("ges: transient backend error")

	// ErrFatal marks a non-retryable backend failure: unknown slice
	// status, or any condition that is not well-defined to retry.
	ErrFatal = errors.New("ges: fatal backend error")

	// ErrStreamDeleted indicates the backend reports the stream itself as
	// deleted (as opposed to merely empty).
	ErrStreamDeleted = errors.New("ges: stream deleted")

	// ErrBatchLimitExceeded indicates a scan exceeded its ScanLimits.MaxBatches
	// without completing; callers get this instead of an unbounded read.
	ErrBatchLimitExceeded = errors.New("ges: batch limit exceeded")
)

// StreamDeletedError carries the stream name alongside ErrStreamDeleted.
type StreamDeletedError struct {
	Stream string
}

func (e *StreamDeletedError) Error() string {
	return fmt.Sprintf("ges: stream %q is deleted", e.Stream)
}

func (e *StreamDeletedError) Unwrap() []error { return []error{ErrStreamDeleted, ErrFatal} }

// BatchLimitExceededError carries the stream name alongside ErrBatchLimitExceeded.
type BatchLimitExceededError struct {
	Stream     string
	MaxBatches int
}

func (e *BatchLimitExceededError) Error() string {
	return fmt.Sprintf("ges: stream %q exceeded max batches (%d) during scan", e.Stream, e.MaxBatches)
}

func (e *BatchLimitExceededError) Unwrap() []error { return []error{ErrBatchLimitExceeded, ErrFatal} }
