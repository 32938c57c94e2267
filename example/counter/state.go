package main

import "github.com/arrowlake/ges"

// State is the folded view of a counter stream.
type State struct {
	Value int64
}

func fold(s State, events []ges.Event) State {
	for _, e := range events {
		switch ev := e.(type) {
		case Incremented:
			s.Value += ev.By
		case Decremented:
			s.Value -= ev.By
		case CounterSnapshotted:
			s.Value = ev.Value
		}
	}
	return s
}

func isSnapshot(e ges.Event) bool {
	_, ok := e.(CounterSnapshotted)
	return ok
}

func toSnapshot(s State) ges.Event {
	return CounterSnapshotted{Value: s.Value}
}

func registry() ges.Registry {
	return ges.Registry{
		"Incremented":        ges.JSONCodec[Incremented](),
		"Decremented":        ges.JSONCodec[Decremented](),
		"CounterSnapshotted": ges.JSONCodec[CounterSnapshotted](),
	}
}
