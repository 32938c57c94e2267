// Package otelobserver implements ges.Observer on top of OpenTelemetry
// tracing and metrics, following the tracer.Start/attribute.* pattern used
// throughout this codebase's storage layers and the Int64Counter/
// Int64Histogram instruments used by its buffering services.
package otelobserver

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arrowlake/ges"
)

// Observer reports Decider/Category activity as OpenTelemetry spans and
// metrics. It does not itself start spans around decision-loop attempts —
// ges has no ambient context to hang a span on between Load and TrySync —
// it records completed Records as span events plus counter/histogram data.
type Observer struct {
	tracer trace.Tracer

	reads           metric.Int64Counter
	readBytes       metric.Int64Histogram
	appendSuccesses metric.Int64Counter
	appendConflicts metric.Int64Counter
	appendBytes     metric.Int64Histogram
	batchCounts     metric.Int64Histogram
	resyncs         metric.Int64Counter
	resyncCounts    metric.Int64Histogram
}

// New builds an Observer using the global otel providers. Call
// otel.SetTracerProvider / otel.SetMeterProvider before constructing it
// (or immediately after — the returned instruments are lazily used).
func New() *Observer {
	meter := otel.Meter("arrowlake/ges")

	reads, _ := meter.Int64Counter("ges.reads",
		metric.WithDescription("Completed backend read operations, by direction"))
	readBytes, _ := meter.Int64Histogram("ges.read.bytes",
		metric.WithDescription("Bytes observed per read rollup"))
	appendSuccesses, _ := meter.Int64Counter("ges.append.success",
		metric.WithDescription("Successful TrySync appends"))
	appendConflicts, _ := meter.Int64Counter("ges.append.conflict",
		metric.WithDescription("TrySync attempts that lost to a concurrent writer"))
	appendBytes, _ := meter.Int64Histogram("ges.append.bytes",
		metric.WithDescription("Bytes written per successful append"))
	batchCounts, _ := meter.Int64Histogram("ges.batch.events",
		metric.WithDescription("Event count per load batch rollup"))
	resyncs, _ := meter.Int64Counter("ges.resyncs",
		metric.WithDescription("Decider resync round trips following a conflicting append"))
	resyncCounts, _ := meter.Int64Histogram("ges.resync.events",
		metric.WithDescription("Events folded forward per resync round trip"))

	return &Observer{
		tracer:          otel.Tracer("arrowlake/ges"),
		reads:           reads,
		readBytes:       readBytes,
		appendSuccesses: appendSuccesses,
		appendConflicts: appendConflicts,
		appendBytes:     appendBytes,
		batchCounts:     batchCounts,
		resyncs:         resyncs,
		resyncCounts:    resyncCounts,
	}
}

func directionAttr(d ges.Direction) attribute.KeyValue {
	if d == ges.Backward {
		return attribute.String("ges.direction", "backward")
	}
	return attribute.String("ges.direction", "forward")
}

// OnRead records one backend read call.
func (o *Observer) OnRead(r ges.Record) {
	attrs := []attribute.KeyValue{
		attribute.String("ges.stream", r.Stream),
		directionAttr(r.Direction),
	}
	o.reads.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	if r.Bytes > 0 {
		o.readBytes.Record(context.Background(), r.Bytes, metric.WithAttributes(attrs...))
	}

	_, span := o.tracer.Start(context.Background(), "ges.read",
		trace.WithAttributes(
			attribute.String("ges.stream", r.Stream),
			attribute.Int64("ges.elapsed_ms", r.Elapsed.Milliseconds()),
			attribute.Int("ges.count", r.Count),
		),
	)
	span.End()
}

// OnBatchRollup records the aggregate shape of a multi-page scan.
func (o *Observer) OnBatchRollup(r ges.Record) {
	attrs := []attribute.KeyValue{
		attribute.String("ges.stream", r.Stream),
		directionAttr(r.Direction),
	}
	o.batchCounts.Record(context.Background(), int64(r.Count), metric.WithAttributes(attrs...))
}

// OnAppendSuccess records a Written outcome.
func (o *Observer) OnAppendSuccess(r ges.Record) {
	attrs := []attribute.KeyValue{attribute.String("ges.stream", r.Stream)}
	o.appendSuccesses.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	o.appendBytes.Record(context.Background(), r.Bytes, metric.WithAttributes(attrs...))

	_, span := o.tracer.Start(context.Background(), "ges.append",
		trace.WithAttributes(
			attribute.String("ges.stream", r.Stream),
			attribute.Int64("ges.elapsed_ms", r.Elapsed.Milliseconds()),
			attribute.Int("ges.count", r.Count),
			attribute.Bool("ges.conflict", false),
		),
	)
	span.End()
}

// OnAppendConflict records a ConflictUnknown outcome.
func (o *Observer) OnAppendConflict(r ges.Record) {
	attrs := []attribute.KeyValue{attribute.String("ges.stream", r.Stream)}
	o.appendConflicts.Add(context.Background(), 1, metric.WithAttributes(attrs...))

	_, span := o.tracer.Start(context.Background(), "ges.append",
		trace.WithAttributes(
			attribute.String("ges.stream", r.Stream),
			attribute.Int64("ges.elapsed_ms", r.Elapsed.Milliseconds()),
			attribute.Int("ges.count", r.Count),
			attribute.Bool("ges.conflict", true),
		),
	)
	span.End()
}

// OnResync records a Decider's resync-and-redecide round trip following a
// conflicting append — distinct from OnRead/OnBatchRollup, which fire for
// every backend load regardless of whether it was conflict-driven.
func (o *Observer) OnResync(r ges.Record) {
	attrs := []attribute.KeyValue{attribute.String("ges.stream", r.Stream)}
	o.resyncs.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	o.resyncCounts.Record(context.Background(), int64(r.Count), metric.WithAttributes(attrs...))

	_, span := o.tracer.Start(context.Background(), "ges.resync",
		trace.WithAttributes(
			attribute.String("ges.stream", r.Stream),
			attribute.Int64("ges.elapsed_ms", r.Elapsed.Milliseconds()),
			attribute.Int("ges.count", r.Count),
		),
	)
	span.End()
}

var _ ges.Observer = (*Observer)(nil)
