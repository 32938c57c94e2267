package ges

import (
	"fmt"
	"time"
)

// Event is a semantic alias of `any` that represents a decoded domain event
// payload, as produced by decide/interpret and consumed by fold.
type Event any

// DecodedEvent pairs a decoded event with the envelope information a
// category needs to build its write batch and a consumer might want when
// inspecting history (stream position, wall-clock time, metadata).
type DecodedEvent struct {
	Event       Event
	Type        string
	Metadata    Metadata
	EventNumber int64
	At          time.Time
}

// EventType returns the canonical name for a given event. If the event
// implements `EventType() string`, that value is used. Otherwise, it falls
// back to the Go type name (e.g., "account.AccountOpened").
func EventType(e Event) string {
	if named, ok := e.(interface{ EventType() string }); ok {
		return named.EventType()
	}
	return fmt.Sprintf("%T", e)
}
