package ges

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventCodec defines how a single event type is encoded/decoded for
// persistence. Each event type registers its codec in a Registry.
type EventCodec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

// Registry composes per-type EventCodecs into the codec shape a Category
// needs: encode(ctx, event) -> bytes and try_decode(bytes) -> Option<event>
// (spec §4.2), keyed by EventType(event).
type Registry map[string]EventCodec

// Encode dispatches to the codec registered for EventType(e). ctx is
// accepted (and unused by the JSON codec) so that future codecs may derive
// encoding choices from request-scoped state, per spec §4.2's
// encode(ctx, event) signature.
func (r Registry) Encode(_ context.Context, e Event) (typ string, payload []byte, err error) {
	typ = EventType(e)
	codec, ok := r[typ]
	if !ok {
		return "", nil, fmt.Errorf("ges: no codec registered for event type %q", typ)
	}
	payload, err = codec.Encode(e)
	if err != nil {
		return "", nil, fmt.Errorf("ges: failed to encode event %q: %w", typ, err)
	}
	return typ, payload, nil
}

// TryDecode dispatches to the codec registered for typ. It returns
// (nil, false) rather than an error when typ is unregistered, matching
// spec §4.2's try_decode returning Option<event> — an unrecognised event
// type is not fatal to a scan, it is simply skipped by the caller.
func (r Registry) TryDecode(typ string, payload []byte) (any, bool) {
	codec, ok := r[typ]
	if !ok {
		return nil, false
	}
	v, err := codec.Decode(payload)
	if err != nil {
		return nil, false
	}
	return v, true
}

// JSONCodec is a generic implementation of EventCodec for JSON-based encoding.
func JSONCodec[T any]() EventCodec {
	return jsonCodec[T]{}
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec[T]) Decode(b []byte) (any, error) {
	var v T
	err := json.Unmarshal(b, &v)
	if err != nil {
		return nil, fmt.Errorf("ges: failed to decode json: %w", err)
	}
	return v, err
}
