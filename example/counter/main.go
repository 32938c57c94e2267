package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/arrowlake/ges"
	"github.com/arrowlake/ges/stores/mem"
)

func main() {
	ctx := context.Background()

	store := mem.New()
	category, err := newCategory()
	if err != nil {
		log.Fatalf("build category: %v", err)
	}

	stream := "Counter:" + uuid.NewString()
	runID := uuid.NewString()
	decider, err := ges.NewDecider(stream, category, store, 5,
		ges.WithMetadataExtractor[State](func(ctx context.Context) ges.Metadata {
			return ges.WithCorrelationID(runID)(ctx).Merge(ges.Metadata{"source": "example/counter"})
		}),
	)
	if err != nil {
		log.Fatalf("build decider: %v", err)
	}

	// Drive the counter through enough writes to cross the rolling-snapshot
	// batch capacity (20) at least once.
	for i := 0; i < 25; i++ {
		if err := ges.Transact(ctx, decider, decideIncrement(1)); err != nil {
			log.Fatalf("increment: %v", err)
		}
	}

	if _, err := ges.Decide(ctx, decider, decideDecrement(10)); err != nil {
		log.Fatalf("decrement: %v", err)
	}

	value, err := ges.Query(ctx, decider, func(s State) int64 { return s.Value })
	if err != nil {
		log.Fatalf("query: %v", err)
	}
	fmt.Printf("counter %s = %d\n", stream, value)

	// Capture a memento, then rehydrate a second decider from it without any
	// backend round-trip — useful for handing state across a process
	// boundary (a job queue payload, a cache entry an application owns).
	memento, err := ges.TransactEx(ctx, decider, func(sc ges.SyncContext[State]) (ges.Memento[State], []ges.Event) {
		return sc.CreateMemento(), nil
	})
	if err != nil {
		log.Fatalf("capture memento: %v", err)
	}

	resumed, err := ges.NewDecider(stream, category, store, 5)
	if err != nil {
		log.Fatalf("build resumed decider: %v", err)
	}
	replayedValue, err := ges.Query(ctx, resumed, func(s State) int64 { return s.Value }, ges.FromMemento(memento))
	if err != nil {
		log.Fatalf("query from memento: %v", err)
	}
	fmt.Printf("resumed from memento = %d\n", replayedValue)
}
