package otel

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware returns a fiber middleware that opens a server span
// per request and records HTTP server metrics when a meter provider is
// configured.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tracer := GetGatewayTracer()
		start := time.Now()

		ctx := c.UserContext()
		var span trace.Span
		if tracer != nil {
			ctx, span = tracer.Start(ctx, c.Method()+" "+c.Route().Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethod(c.Method()),
					semconv.HTTPRoute(c.Route().Path),
				),
			)
			c.SetUserContext(ctx)
			defer span.End()
		}

		var metrics *HTTPServerMetrics
		if mp := GetMeterProvider(); mp != nil {
			if m, err := GetHTTPServerMetrics(mp.Meter(instrumentationName)); err == nil {
				metrics = m
			}
		}
		if metrics != nil {
			_ = metrics.IncRequests(ctx, c.Route().Path)
			_ = metrics.AddInFlightRequests(ctx, 1)
			defer func() { _ = metrics.AddInFlightRequests(ctx, -1) }()
		}

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		if span != nil {
			span.SetAttributes(attribute.Int("http.status_code", status))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
		if metrics != nil {
			_ = metrics.RecordLatency(ctx, c.Route().Path, time.Since(start), status)
			if status >= fiber.StatusInternalServerError {
				_ = metrics.IncErrors(ctx, c.Route().Path, status)
			}
		}

		return err
	}
}
