package otel

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	ServiceGateway  = "order-gateway"
	ServiceDispatch = "dispatch-engine"
)

var (
	gatewayTracer          trace.Tracer
	dispatchTracer         trace.Tracer
	gatewayResource        *sdkresource.Resource
	dispatchResource       *sdkresource.Resource
	gatewayTracerProvider  *sdktrace.TracerProvider
	dispatchTracerProvider *sdktrace.TracerProvider
	meterProvider          *sdkmetric.MeterProvider
)

// Config holds the OpenTelemetry configuration
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Endpoint         string
	ConnectTimeout   time.Duration
	ReconnectDelay   time.Duration
	CollectorEnabled bool
}

// Init initializes OpenTelemetry with the given configuration
func Init(cfg Config) (func(), error) {
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "0.1.0"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 10 * time.Second
	}

	var cleanup []func()

	// Each service gets its own resource so spans carry the right
	// service.name even though both run in one process.
	gatewayResource = initResource(ServiceGateway, cfg.ServiceVersion)
	dispatchResource = initResource(ServiceDispatch, cfg.ServiceVersion)

	if cfg.CollectorEnabled {
		gatewayTP, err := initTracerProvider(cfg, gatewayResource)
		if err != nil {
			log.Printf("Warning: Failed to initialize gateway tracer provider: %v", err)
		} else {
			gatewayTracerProvider = gatewayTP
			cleanup = append(cleanup, func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
				defer cancel()
				if err := gatewayTP.Shutdown(ctx); err != nil {
					log.Printf("Error shutting down gateway tracer provider: %v", err)
				}
			})
		}

		dispatchTP, err := initTracerProvider(cfg, dispatchResource)
		if err != nil {
			log.Printf("Warning: Failed to initialize dispatch engine tracer provider: %v", err)
		} else {
			dispatchTracerProvider = dispatchTP
			cleanup = append(cleanup, func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
				defer cancel()
				if err := dispatchTP.Shutdown(ctx); err != nil {
					log.Printf("Error shutting down dispatch engine tracer provider: %v", err)
				}
			})
		}
	}

	// Metrics share one provider; the gateway resource identifies them.
	if cfg.CollectorEnabled {
		mp, err := initMeterProvider(cfg, gatewayResource)
		if err != nil {
			log.Printf("Warning: Failed to initialize meter provider: %v. Continuing without metrics.", err)
		} else {
			meterProvider = mp
			cleanup = append(cleanup, func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
				defer cancel()
				if err := mp.Shutdown(ctx); err != nil {
					log.Printf("Error shutting down meter provider: %v", err)
				}
			})
		}
	}

	if gatewayTracerProvider != nil {
		gatewayTracer = gatewayTracerProvider.Tracer(ServiceGateway)
	}
	if dispatchTracerProvider != nil {
		dispatchTracer = dispatchTracerProvider.Tracer(ServiceDispatch)
	}

	return func() {
		for _, fn := range cleanup {
			fn()
		}
	}, nil
}

func initResource(serviceName, serviceVersion string) *sdkresource.Resource {
	extraResources, err := sdkresource.New(
		context.Background(),
		sdkresource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		sdkresource.WithOS(),
		sdkresource.WithProcess(),
		sdkresource.WithContainer(),
		sdkresource.WithHost(),
	)
	if err != nil {
		log.Printf("Failed to create resource: %v", err)
		return sdkresource.Default()
	}

	resource, err := sdkresource.Merge(
		sdkresource.Default(),
		extraResources,
	)
	if err != nil {
		log.Printf("Failed to merge resources: %v", err)
		return sdkresource.Default()
	}

	return resource
}

func initTracerProvider(cfg Config, resource *sdkresource.Resource) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	conn, err := grpc.DialContext(ctx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithTimeout(cfg.ConnectTimeout),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(1),
		)),
	)

	// Propagator and global provider are process-wide; last writer wins,
	// which is fine since both services share the propagation format.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMeterProvider(cfg Config, resource *sdkresource.Resource) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	conn, err := grpc.DialContext(ctx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithTimeout(cfg.ConnectTimeout),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(5*time.Second))),
		sdkmetric.WithResource(resource),
	)
	otel.SetMeterProvider(mp)

	return mp, nil
}

// GetGatewayTracer returns the tracer for the HTTP gateway
func GetGatewayTracer() trace.Tracer {
	return gatewayTracer
}

// GetDispatchTracer returns the tracer for the dispatch engine
func GetDispatchTracer() trace.Tracer {
	return dispatchTracer
}

// GetTracerProvider returns the appropriate tracer provider based on the service name
func GetTracerProvider(serviceName string) trace.TracerProvider {
	switch serviceName {
	case ServiceGateway:
		if gatewayTracerProvider != nil {
			return gatewayTracerProvider
		}
	case ServiceDispatch:
		if dispatchTracerProvider != nil {
			return dispatchTracerProvider
		}
	}
	return otel.GetTracerProvider()
}

// GetTextMapPropagator returns the configured propagator
func GetTextMapPropagator() propagation.TextMapPropagator {
	return otel.GetTextMapPropagator()
}

// GetMeterProvider returns the configured meter provider, or nil when Init
// never ran or the collector was disabled. The concrete global must not
// escape through the interface when it is nil, so callers can test the
// result against nil.
func GetMeterProvider() metric.MeterProvider {
	if meterProvider == nil {
		return nil
	}
	return meterProvider
}

// ResetForTesting resets the global variables for testing
func ResetForTesting() {
	gatewayTracer = nil
	dispatchTracer = nil
	gatewayTracerProvider = nil
	dispatchTracerProvider = nil
	meterProvider = nil
}

// InitForTesting initializes the tracers for testing
func InitForTesting(tracer trace.Tracer) error {
	gatewayTracer = tracer
	dispatchTracer = tracer
	return nil
}
