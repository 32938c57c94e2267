package esdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	esdbclient "github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/arrowlake/ges"
)

// Store is a ges.BackendAdapter backed by EventStoreDB. Reads and writes
// both go through the single connection held by its Client; the
// useWriteConn flag of LoadFromToken is ignored.
type Store struct {
	client   *Client
	observer ges.Observer
	breaker  *gobreaker.CircuitBreaker
	retry    func() backoff.BackOff
}

// Option configures Store.
type Option func(*Store)

// WithObserver wires a metrics observer; defaults to ges.NoopObserver.
func WithObserver(o ges.Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithCircuitBreaker overrides the default breaker settings (more than 5
// consecutive transient failures trip the breaker for 30s).
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(s *Store) { s.breaker = cb }
}

// NewStore builds an EventStoreDB-backed BackendAdapter.
func NewStore(client *Client, opts ...Option) *Store {
	s := &Store{
		client:   client,
		observer: ges.NoopObserver{},
		retry: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		},
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "ges-esdb",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return !isTransient(err)
		},
		Timeout: 30 * time.Second,
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withRetry retries fn while it fails with ges.ErrTransient, through the
// circuit breaker, honouring ctx cancellation between attempts.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		b := backoff.WithContext(s.retry(), ctx)
		return nil, backoff.Retry(func() error {
			err := fn()
			if err == nil {
				return nil
			}
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}, b)
	})
	return err
}

func isTransient(err error) bool {
	return err != nil && errorsIsTransient(err)
}

// LoadBatched scans stream forward from fromVersion, paging in
// limits.BatchSize chunks until the stream's tail or limits.MaxBatches is
// exceeded.
func (s *Store) LoadBatched(ctx context.Context, stream string, fromVersion int64, predicates *ges.LoadPredicates, limits ges.ScanLimits) (ges.StreamToken, []ges.RawEvent, error) {
	start := time.Now()
	batchSize := normalizeBatchSize(limits.BatchSize)

	var out []ges.RawEvent
	cursor := fromVersion
	lastVersion := maxInt64(fromVersion, 0) - 1

	for page := 1; ; page++ {
		if limits.MaxBatches > 0 && page > limits.MaxBatches {
			return ges.StreamToken{}, nil, &ges.BatchLimitExceededError{Stream: stream, MaxBatches: limits.MaxBatches}
		}

		var raws []ges.RawEvent
		err := s.withRetry(ctx, func() error {
			var readErr error
			raws, readErr = s.readPage(ctx, stream, esdbclient.Revision(uint64(maxInt64(cursor, 0))), esdbclient.Forwards, batchSize)
			return readErr
		})
		if err != nil {
			conflict, wrapped := classify(stream, err)
			_ = conflict // LoadBatched never conflicts
			if wrapped != nil {
				return ges.StreamToken{}, nil, wrapped
			}
			break // resource not found: treat as empty tail
		}
		out = append(out, raws...)
		if len(raws) > 0 {
			lastVersion = raws[len(raws)-1].EventNumber
			cursor = lastVersion + 1
		}
		if len(raws) < batchSize {
			break
		}
	}

	token := ges.NewToken(lastVersion)
	if predicates != nil && predicates.IsCompactionEvent != nil {
		if n, ok := lastMatchRaw(out, predicates.IsCompactionEvent); ok {
			token = token.WithSnapshotEventNumber(n)
		}
	}

	s.observer.OnRead(ges.Record{Stream: stream, Elapsed: time.Since(start), Count: len(out), Direction: ges.Forward})
	s.observer.OnBatchRollup(ges.Record{Stream: stream, Elapsed: time.Since(start), Count: len(out), Direction: ges.Forward})
	return token, out, nil
}

// LoadBackwardsUntilOrigin scans backward from the stream tail, paging in
// limits.BatchSize chunks, stopping at the first decodable event for which
// isOrigin holds (inclusive) or the stream start.
func (s *Store) LoadBackwardsUntilOrigin(ctx context.Context, stream string, tryDecode ges.TryDecode, isOrigin ges.IsOrigin, limits ges.ScanLimits) (ges.StreamToken, []ges.DecodedRawEvent, error) {
	start := time.Now()
	batchSize := normalizeBatchSize(limits.BatchSize)

	var collected []ges.DecodedRawEvent
	var cursor esdbclient.StreamPosition = esdbclient.End{}
	snapshotAt := int64(-1)
	lastVersion := int64(-1)

	for page := 1; ; page++ {
		if limits.MaxBatches > 0 && page > limits.MaxBatches {
			return ges.StreamToken{}, nil, &ges.BatchLimitExceededError{Stream: stream, MaxBatches: limits.MaxBatches}
		}

		var raws []ges.RawEvent
		err := s.withRetry(ctx, func() error {
			var readErr error
			raws, readErr = s.readPage(ctx, stream, cursor, esdbclient.Backwards, batchSize)
			return readErr
		})
		if err != nil {
			_, wrapped := classify(stream, err)
			if wrapped != nil {
				return ges.StreamToken{}, nil, wrapped
			}
			break
		}
		if len(raws) == 0 {
			break
		}
		if lastVersion < 0 {
			lastVersion = raws[0].EventNumber
		}

		done := false
		for _, raw := range raws {
			decoded, ok := tryDecode(raw)
			var d ges.DecodedRawEvent
			if ok {
				d = ges.DecodedRawEvent{Raw: raw, Decoded: decoded}
			} else {
				d = ges.DecodedRawEvent{Raw: raw}
			}
			collected = append([]ges.DecodedRawEvent{d}, collected...)
			if ok && isOrigin(decoded) {
				snapshotAt = raw.EventNumber
				done = true
				break
			}
		}
		if done {
			break
		}
		oldest := raws[len(raws)-1].EventNumber
		if oldest == 0 {
			break
		}
		cursor = esdbclient.Revision(uint64(oldest - 1))
	}

	token := ges.NewToken(lastVersion)
	if snapshotAt >= 0 {
		token = token.WithSnapshotEventNumber(snapshotAt)
	}

	s.observer.OnRead(ges.Record{Stream: stream, Elapsed: time.Since(start), Count: len(collected), Direction: ges.Backward})
	s.observer.OnBatchRollup(ges.Record{Stream: stream, Elapsed: time.Since(start), Count: len(collected), Direction: ges.Backward})
	return token, collected, nil
}

// LoadFromToken scans forward starting at token.StreamVersion()+1.
func (s *Store) LoadFromToken(ctx context.Context, useWriteConn bool, stream string, token ges.StreamToken, predicates *ges.LoadPredicates, limits ges.ScanLimits) (ges.StreamToken, []ges.RawEvent, error) {
	newToken, raws, err := s.LoadBatched(ctx, stream, token.StreamVersion()+1, predicates, limits)
	if err != nil {
		return ges.StreamToken{}, nil, err
	}
	if snap, ok := token.SnapshotEventNumber(); ok {
		if _, gotNewer := newToken.SnapshotEventNumber(); !gotNewer {
			newToken = newToken.WithSnapshotEventNumber(snap)
		}
	}
	return newToken, raws, nil
}

// TrySync appends events under expectedToken's optimistic-concurrency
// precondition.
func (s *Store) TrySync(ctx context.Context, stream string, expectedToken ges.StreamToken, events []ges.EncodedEvent, isCompactionEvent func(ges.EncodedEvent) bool) (ges.SyncResult, error) {
	start := time.Now()

	if len(events) == 0 {
		return ges.SyncResult{Outcome: ges.Written, Token: expectedToken}, nil
	}

	esdbEvents := make([]esdbclient.EventData, len(events))
	for i, e := range events {
		esdbEvents[i] = esdbclient.EventData{
			EventType:   e.Type,
			ContentType: esdbclient.ContentTypeJson,
			Data:        e.Payload,
			EventID:     uuid.New(),
		}
	}

	var expectedRevision esdbclient.ExpectedRevision
	if expectedToken.StreamVersion() < 0 {
		expectedRevision = esdbclient.NoStream{}
	} else {
		expectedRevision = esdbclient.Revision(uint64(expectedToken.StreamVersion()))
	}

	var writeResult *esdbclient.WriteResult
	err := s.withRetry(ctx, func() error {
		var writeErr error
		writeResult, writeErr = s.client.DB().AppendToStream(ctx, stream, esdbclient.AppendToStreamOptions{ExpectedRevision: expectedRevision}, esdbEvents...)
		return writeErr
	})
	if err != nil {
		conflict, wrapped := classify(stream, err)
		if conflict {
			s.observer.OnAppendConflict(ges.Record{Stream: stream, Elapsed: time.Since(start), Count: len(events)})
			return ges.SyncResult{Outcome: ges.ConflictUnknown}, nil
		}
		if wrapped != nil {
			return ges.SyncResult{}, wrapped
		}
		return ges.SyncResult{}, fmt.Errorf("ges-esdb: append to stream %q: %w", stream, err)
	}

	newToken := ges.NewToken(int64(writeResult.NextExpectedVersion) - 1)
	if isCompactionEvent != nil {
		for i := len(events) - 1; i >= 0; i-- {
			if isCompactionEvent(events[i]) {
				newToken = newToken.WithSnapshotEventNumber(expectedToken.StreamVersion() + 1 + int64(i))
				break
			}
		}
		if snap, ok := newToken.SnapshotEventNumber(); !ok {
			if prevSnap, had := expectedToken.SnapshotEventNumber(); had {
				newToken = newToken.WithSnapshotEventNumber(prevSnap)
			}
		} else {
			_ = snap
		}
	}

	var bytes int64
	for _, e := range events {
		bytes += int64(len(e.Payload))
	}
	s.observer.OnAppendSuccess(ges.Record{Stream: stream, Elapsed: time.Since(start), Bytes: bytes, Count: len(events)})

	return ges.SyncResult{Outcome: ges.Written, Token: newToken}, nil
}

func (s *Store) readPage(ctx context.Context, stream string, from esdbclient.StreamPosition, dir esdbclient.Direction, count int) ([]ges.RawEvent, error) {
	readStream, err := s.client.DB().ReadStream(ctx, stream, esdbclient.ReadStreamOptions{From: from, Direction: dir}, uint64(count))
	if err != nil {
		return nil, err
	}
	defer readStream.Close()

	var out []ges.RawEvent
	for {
		resolved, err := readStream.Recv()
		if err != nil {
			break
		}
		ev := resolved.Event
		out = append(out, ges.RawEvent{
			EventNumber: int64(ev.EventNumber),
			Type:        ev.EventType,
			Payload:     ev.Data,
		})
	}
	return out, nil
}

func normalizeBatchSize(n int) int {
	if n <= 0 {
		return 500
	}
	return n
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func lastMatchRaw(raws []ges.RawEvent, pred func(ges.RawEvent) bool) (int64, bool) {
	for i := len(raws) - 1; i >= 0; i-- {
		if pred(raws[i]) {
			return raws[i].EventNumber, true
		}
	}
	return 0, false
}

func errorsIsTransient(err error) bool {
	_, wrapped := classify("", err)
	return errors.Is(wrapped, ges.ErrTransient)
}

var _ ges.BackendAdapter = (*Store)(nil)
