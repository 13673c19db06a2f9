package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/erain9/batchingo/pkg/core"
)

var (
	// dispatchMetrics holds the singleton instance
	dispatchMetrics *DispatchMetrics
	// meter is the global meter for dispatch metrics
	meter = otel.GetMeterProvider().Meter(instrumentationName)
)

// DispatchMetrics holds metrics for batch dispatch operations
type DispatchMetrics struct {
	// Distribution of batch sizes at flush time
	batchSize metric.Int64Histogram
	// End-to-end dispatch latency per batch
	batchLatency metric.Float64Histogram
	// Batches that fell back to per-item submission
	fallbackTotal metric.Int64Counter
	// Orders submitted, tagged by outcome
	submissionsTotal metric.Int64Counter
	// Requests currently buffered in the batch queue
	queueDepth metric.Int64UpDownCounter
}

// GetDispatchMetrics returns the DispatchMetrics singleton
func GetDispatchMetrics() *DispatchMetrics {
	if dispatchMetrics == nil {
		batchSize, err := meter.Int64Histogram(
			"dispatch.batch.size",
			metric.WithDescription("Number of orders per dispatched batch"),
			metric.WithUnit("{order}"),
		)
		if err != nil {
			return &DispatchMetrics{}
		}
		batchLatency, err := meter.Float64Histogram(
			"dispatch.batch.duration",
			metric.WithDescription("Time to dispatch one batch"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return &DispatchMetrics{}
		}
		fallbackTotal, err := meter.Int64Counter(
			"dispatch.fallback.total",
			metric.WithDescription("Batches that fell back to per-item submission"),
			metric.WithUnit("{batch}"),
		)
		if err != nil {
			return &DispatchMetrics{}
		}
		submissionsTotal, err := meter.Int64Counter(
			"dispatch.submissions.total",
			metric.WithDescription("Orders submitted, tagged by outcome"),
			metric.WithUnit("{order}"),
		)
		if err != nil {
			return &DispatchMetrics{}
		}
		queueDepth, err := meter.Int64UpDownCounter(
			"dispatch.queue.depth",
			metric.WithDescription("Requests currently buffered in the batch queue"),
			metric.WithUnit("{order}"),
		)
		if err != nil {
			return &DispatchMetrics{}
		}

		dispatchMetrics = &DispatchMetrics{
			batchSize:        batchSize,
			batchLatency:     batchLatency,
			fallbackTotal:    fallbackTotal,
			submissionsTotal: submissionsTotal,
			queueDepth:       queueDepth,
		}
	}

	return dispatchMetrics
}

// RecordBatch records a dispatched batch's size, latency, and flush trigger
func (m *DispatchMetrics) RecordBatch(ctx context.Context, size int, seconds float64, reason string) {
	if m.batchSize == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("flush.reason", reason),
	}
	m.batchSize.Record(ctx, int64(size), metric.WithAttributes(attrs...))
	m.batchLatency.Record(ctx, seconds, metric.WithAttributes(attrs...))
}

// RecordFallback increments the fallback counter
func (m *DispatchMetrics) RecordFallback(ctx context.Context, size int) {
	if m.fallbackTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("batch.size", size),
	}
	m.fallbackTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSubmissions counts submitted orders by outcome
func (m *DispatchMetrics) RecordSubmissions(ctx context.Context, outcome string, count int64) {
	if m.submissionsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("submission.outcome", outcome),
	}
	m.submissionsTotal.Add(ctx, count, metric.WithAttributes(attrs...))
}

// AddQueueDepth adjusts the queue depth gauge
func (m *DispatchMetrics) AddQueueDepth(ctx context.Context, delta int64) {
	if m.queueDepth == nil {
		return
	}
	m.queueDepth.Add(ctx, delta)
}

// DispatchObserver feeds batch outcomes into the dispatch metrics. It
// satisfies the dispatcher's Observer interface structurally, so the
// dispatch package never has to import this one.
type DispatchObserver struct {
	metrics *DispatchMetrics
}

// NewDispatchObserver returns an observer over the metrics singleton
func NewDispatchObserver() *DispatchObserver {
	return &DispatchObserver{metrics: GetDispatchMetrics()}
}

// BatchDispatched records one dispatched batch: size, latency, flush
// trigger, per-order outcomes, and whether the fallback path ran.
func (o *DispatchObserver) BatchDispatched(batch *core.Batch, outcome *core.DispatchOutcome, elapsed time.Duration) {
	ctx := context.Background()

	o.metrics.RecordBatch(ctx, batch.Len(), elapsed.Seconds(), string(batch.Reason()))
	if outcome.Fallback {
		o.metrics.RecordFallback(ctx, batch.Len())
	}
	if n := outcome.Succeeded(); n > 0 {
		o.metrics.RecordSubmissions(ctx, "success", int64(n))
	}
	if n := outcome.Failed(); n > 0 {
		o.metrics.RecordSubmissions(ctx, "failure", int64(n))
	}
}
