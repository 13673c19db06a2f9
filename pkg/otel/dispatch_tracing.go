package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Span names
	SpanSubmitOrder   = "submit_order"
	SpanFlushBatch    = "flush_batch"
	SpanDispatchBatch = "dispatch_batch"
	SpanFallback      = "fallback_submit"
	SpanCancelOrder   = "cancel_order"

	// Attribute keys
	AttributeOrderID     = "order.id"
	AttributeOrderSide   = "order.side"
	AttributeOrderType   = "order.type"
	AttributeOrderSymbol = "order.symbol"
	AttributeBatchSize   = "batch.size"
	AttributeFlushReason = "batch.flush_reason"
	AttributeSubmitRef   = "submit.ref"
	AttributeBatched     = "submit.batched"
)

// StartDispatchSpan starts a new span for order dispatch work
func StartDispatchSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	var tracer trace.Tracer

	// Use appropriate tracer based on the span name
	switch name {
	case SpanSubmitOrder, SpanCancelOrder:
		tracer = GetGatewayTracer()
	case SpanFlushBatch, SpanDispatchBatch, SpanFallback:
		tracer = GetDispatchTracer()
	default:
		tracer = GetGatewayTracer()
	}

	if tracer == nil {
		return ctx, nil
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}
