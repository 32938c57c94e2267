// Package storetest provides a compliance suite that verifies any
// ges.BackendAdapter implementation honors the load/sync contract from
// spec §4.1, independent of the concrete backend.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arrowlake/ges"
)

type Opened struct{ ID string }

func (Opened) EventType() string { return "Opened" }

type Added struct{ N int }

func (Added) EventType() string { return "Added" }

type Snapshotted struct{ Total int }

func (Snapshotted) EventType() string { return "Snapshotted" }

// Registry provides a minimal codec registry used for tests, avoiding any
// dependency on a domain package.
func Registry() ges.Registry {
	return ges.Registry{
		"Opened":      ges.JSONCodec[Opened](),
		"Added":       ges.JSONCodec[Added](),
		"Snapshotted": ges.JSONCodec[Snapshotted](),
	}
}

func isSnapshot(e any) bool {
	_, ok := e.(Snapshotted)
	return ok
}

// isSnapshotEncoded is isSnapshot applied to the encoded form TrySync sees.
func isSnapshotEncoded(e ges.EncodedEvent) bool {
	v, ok := Registry().TryDecode(e.Type, e.Payload)
	return ok && isSnapshot(v)
}

func encode(t *testing.T, reg ges.Registry, events ...ges.Event) []ges.EncodedEvent {
	t.Helper()
	out := make([]ges.EncodedEvent, 0, len(events))
	for _, e := range events {
		typ, payload, err := reg.Encode(context.Background(), e)
		require.NoError(t, err)
		out = append(out, ges.EncodedEvent{Type: typ, Payload: payload})
	}
	return out
}

// Factory creates a new BackendAdapter instance for testing. Each test
// should receive a fresh, isolated instance.
type Factory func(t *testing.T) ges.BackendAdapter

// Run executes a suite of compliance tests that verify a BackendAdapter
// implementation adheres to spec §4.1. Each subtest runs in parallel, so
// adapters must be concurrency-safe.
func Run(t *testing.T, newAdapter Factory) {
	reg := Registry()
	ctx := context.Background()

	t.Run("load_batched/try_sync/version", func(t *testing.T) {
		t.Parallel()
		a := newAdapter(t)
		stream := "Stream:1"

		result, err := a.TrySync(ctx, stream, ges.EmptyToken, encode(t, reg, Opened{ID: "1"}), nil)
		require.NoError(t, err)
		require.Equal(t, ges.Written, result.Outcome)
		require.Equal(t, int64(1), result.Token.Version())

		result, err = a.TrySync(ctx, stream, result.Token, encode(t, reg, Added{N: 5}), nil)
		require.NoError(t, err)
		require.Equal(t, ges.Written, result.Outcome)
		require.Equal(t, int64(2), result.Token.Version())

		token, raws, err := a.LoadBatched(ctx, stream, 0, nil, ges.ScanLimits{})
		require.NoError(t, err)
		require.Len(t, raws, 2)
		require.Equal(t, int64(2), token.Version())
	})

	t.Run("try_sync version conflict", func(t *testing.T) {
		t.Parallel()
		a := newAdapter(t)
		stream := "Stream:2"

		result, err := a.TrySync(ctx, stream, ges.EmptyToken, encode(t, reg, Opened{ID: "2"}), nil)
		require.NoError(t, err)
		require.Equal(t, ges.Written, result.Outcome)

		conflict, err := a.TrySync(ctx, stream, ges.EmptyToken, encode(t, reg, Added{N: 1}), nil)
		require.NoError(t, err)
		require.Equal(t, ges.ConflictUnknown, conflict.Outcome)

		// no events were persisted by the losing call
		_, raws, err := a.LoadBatched(ctx, stream, 0, nil, ges.ScanLimits{})
		require.NoError(t, err)
		require.Len(t, raws, 1)
	})

	t.Run("load_from_token replays only the tail", func(t *testing.T) {
		t.Parallel()
		a := newAdapter(t)
		stream := "Stream:3"

		r1, err := a.TrySync(ctx, stream, ges.EmptyToken, encode(t, reg, Opened{ID: "3"}), nil)
		require.NoError(t, err)
		r2, err := a.TrySync(ctx, stream, r1.Token, encode(t, reg, Added{N: 1}), nil)
		require.NoError(t, err)
		_, err = a.TrySync(ctx, stream, r2.Token, encode(t, reg, Added{N: 2}), nil)
		require.NoError(t, err)

		token, raws, err := a.LoadFromToken(ctx, false, stream, r1.Token, nil, ges.ScanLimits{})
		require.NoError(t, err)
		require.Len(t, raws, 2)
		require.Equal(t, int64(3), token.Version())
	})

	t.Run("load_backwards_until_origin stops at the origin, inclusive", func(t *testing.T) {
		t.Parallel()
		a := newAdapter(t)
		stream := "Stream:4"

		r1, err := a.TrySync(ctx, stream, ges.EmptyToken, encode(t, reg, Opened{ID: "4"}), nil)
		require.NoError(t, err)
		r2, err := a.TrySync(ctx, stream, r1.Token, encode(t, reg, Added{N: 1}), nil)
		require.NoError(t, err)
		r3, err := a.TrySync(ctx, stream, r2.Token, encode(t, reg, Snapshotted{Total: 1}), isSnapshotEncoded)
		require.NoError(t, err)
		_, err = a.TrySync(ctx, stream, r3.Token, encode(t, reg, Added{N: 2}), nil)
		require.NoError(t, err)

		tryDecode := func(raw ges.RawEvent) (any, bool) { return reg.TryDecode(raw.Type, raw.Payload) }
		isOrigin := func(e any) bool { return isSnapshot(e) }

		token, decoded, err := a.LoadBackwardsUntilOrigin(ctx, stream, tryDecode, isOrigin, ges.ScanLimits{})
		require.NoError(t, err)
		require.NotEmpty(t, decoded)

		var sawOrigin bool
		for _, d := range decoded {
			if d.Decoded != nil && isSnapshot(d.Decoded) {
				sawOrigin = true
			}
		}
		require.True(t, sawOrigin, "origin event must be included")

		snap, ok := token.SnapshotEventNumber()
		require.True(t, ok)
		require.Equal(t, int64(2), snap)
	})

	t.Run("try_sync derives snapshot_event_number from the written batch", func(t *testing.T) {
		t.Parallel()
		a := newAdapter(t)
		stream := "Stream:5"

		r1, err := a.TrySync(ctx, stream, ges.EmptyToken, encode(t, reg, Opened{ID: "5"}), isSnapshotEncoded)
		require.NoError(t, err)
		snap, ok := r1.Token.SnapshotEventNumber()
		require.False(t, ok, "no snapshot in this batch yet")

		r2, err := a.TrySync(ctx, stream, r1.Token, encode(t, reg, Snapshotted{Total: 1}), isSnapshotEncoded)
		require.NoError(t, err)
		snap, ok = r2.Token.SnapshotEventNumber()
		require.True(t, ok)
		require.Equal(t, int64(1), snap)

		r3, err := a.TrySync(ctx, stream, r2.Token, encode(t, reg, Added{N: 1}), isSnapshotEncoded)
		require.NoError(t, err)
		snap, ok = r3.Token.SnapshotEventNumber()
		require.True(t, ok, "snapshot number should carry over when no new snapshot is written")
		require.Equal(t, int64(1), snap)
	})
}
