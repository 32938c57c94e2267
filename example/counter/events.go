package main

// Incremented is recorded when the counter's value goes up.
type Incremented struct {
	By int64
}

func (Incremented) EventType() string { return "Incremented" }

// Decremented is recorded when the counter's value goes down.
type Decremented struct {
	By int64
}

func (Decremented) EventType() string { return "Decremented" }

// CounterSnapshotted is the compaction event RollingSnapshots injects once a
// stream's batch capacity is exceeded; it folds to the same state a replay
// of everything before it would produce.
type CounterSnapshotted struct {
	Value int64
}

func (CounterSnapshotted) EventType() string { return "CounterSnapshotted" }
