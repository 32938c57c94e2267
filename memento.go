package ges

// Memento is a serialisable (token, state) pair captured from a
// SyncContext (spec §3's create_memento) and usable to seed a later
// Decider.Transact/Query via LoadOption's FromMemento variant. Its
// semantics are equivalent to AllowStale except the seed is supplied by
// the caller rather than fetched from a cache (spec §6).
type Memento[S any] struct {
	Token StreamToken
	State S
}

// CreateMemento captures the given token/state as a Memento. It is a thin
// constructor kept separate from the struct literal so call sites read as
// "create a memento", matching the vocabulary of spec §3/§4.3.
func CreateMemento[S any](token StreamToken, state S) Memento[S] {
	return Memento[S]{Token: token, State: state}
}
