package ges

import "time"

// Record is one structured metrics observation emitted by a backend
// adapter, per spec §6: "{stream, elapsed, bytes, count, direction}".
type Record struct {
	Stream    string
	Elapsed   time.Duration
	Bytes     int64
	Count     int
	Direction Direction
}

// Observer receives structured metrics from a backend adapter. Adapters
// take an Observer at construction and call it directly; the core never
// holds a process-wide static sink (spec §9 "Global logging sinks"). Host
// applications wire an Observer to whatever telemetry system they use —
// see observability/otelobserver for an OpenTelemetry-backed one.
type Observer interface {
	// OnRead is called after a backend read. The stores/mem and stores/esdb
	// adapters call it once per load call with that load's totals, not once
	// per page.
	OnRead(Record)
	// OnBatchRollup is called once per completed load, summing the pages
	// that made it up.
	OnBatchRollup(Record)
	// OnAppendSuccess is called after a successful TrySync.
	OnAppendSuccess(Record)
	// OnAppendConflict is called when TrySync reports ConflictUnknown.
	OnAppendConflict(Record)
	// OnResync is called by a Decider after a conflict's resync-and-redecide
	// round trip completes (spec §9 "counters for read/write/resync"). It is
	// distinct from OnRead/OnBatchRollup: those fire for every load an
	// adapter performs, including ordinary cache refreshes, while OnResync
	// fires only for the load a Decider issues specifically to recover from
	// ConflictUnknown, so a host can tell the two apart in its metrics.
	OnResync(Record)
}

// NoopObserver discards every record. It is the default for adapters that
// are not given one explicitly.
type NoopObserver struct{}

func (NoopObserver) OnRead(Record)          {}
func (NoopObserver) OnBatchRollup(Record)   {}
func (NoopObserver) OnAppendSuccess(Record) {}
func (NoopObserver) OnAppendConflict(Record) {}
func (NoopObserver) OnResync(Record)         {}

var _ Observer = NoopObserver{}
