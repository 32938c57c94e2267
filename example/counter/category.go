package main

import "github.com/arrowlake/ges"

// newCategory builds the counter category: rolling snapshots every 20
// events, so a long-lived counter never replays its full history.
func newCategory() (*ges.Category[State], error) {
	return ges.NewCategory[State](
		registry(),
		fold,
		State{},
		ges.RollingSnapshots[State](isSnapshot, toSnapshot),
		ges.WithBatchSize[State](20),
	)
}
