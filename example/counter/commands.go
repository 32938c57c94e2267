package main

import (
	"fmt"

	"github.com/arrowlake/ges"
)

// decideIncrement rejects non-positive amounts; a rejected command produces
// no events, so Transact performs no write.
func decideIncrement(by int64) func(State) []ges.Event {
	return func(State) []ges.Event {
		if by <= 0 {
			return nil
		}
		return []ges.Event{Incremented{By: by}}
	}
}

// decideDecrement additionally refuses to drive the counter negative.
func decideDecrement(by int64) func(State) (error, []ges.Event) {
	return func(s State) (error, []ges.Event) {
		if by <= 0 {
			return fmt.Errorf("decrement amount must be positive"), nil
		}
		if s.Value-by < 0 {
			return fmt.Errorf("counter cannot go below zero (have %d, want -%d)", s.Value, by), nil
		}
		return nil, []ges.Event{Decremented{By: by}}
	}
}
