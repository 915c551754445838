// Package telemetry initialises optional OpenTelemetry trace, metric, and
// log providers backed by an OTLP gRPC collector, all sharing one gRPC
// connection.
//
// Call [Setup] once during startup and defer the returned [ShutdownFunc].
// When no collector is configured the global providers stay no-ops and the
// sync engine's spans and counters cost nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultServiceName = "calmirror"

// Config groups all telemetry settings. It maps 1-to-1 with the
// [config.TelemetryConfig] YAML block.
type Config struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector,
	// e.g. "localhost:4317".
	OTLPEndpoint string

	// Insecure disables TLS for the collector connection, for local
	// collectors without a certificate.
	Insecure bool

	// ServiceName overrides the OTel service.name resource attribute.
	// Defaults to "calmirror".
	ServiceName string

	// Headers is sent as gRPC metadata on every OTLP request, typically
	// authentication tokens such as {"Authorization": "Bearer <token>"}.
	Headers map[string]string
}

// ShutdownFunc flushes and closes all OTel providers. Call it with a fresh
// context; the main context is usually already cancelled by shutdown time.
type ShutdownFunc func(context.Context) error

// providers collects what Setup has brought up so far, so a mid-setup
// failure can tear down cleanly and the final ShutdownFunc can flush
// everything.
type providers struct {
	conn *grpc.ClientConn
	tp   *sdktrace.TracerProvider
	mp   *sdkmetric.MeterProvider
	lp   *sdklog.LoggerProvider
}

func (p *providers) shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider shutdown: %w", err))
		}
	}
	if p.lp != nil {
		if err := p.lp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("OTLP gRPC connection close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Setup initialises the global OpenTelemetry trace, metric, and log
// providers, all exporting over a single gRPC connection to
// cfg.OTLPEndpoint.
//
// The returned ShutdownFunc is always non-nil; on error it is a no-op so
// callers can defer unconditionally.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	svcName := cfg.ServiceName
	if svcName == "" {
		svcName = defaultServiceName
	}

	// resource.NewSchemaless sidesteps the schema URL mismatch between
	// resource.Default()'s semconv version and the one imported here.
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(svcName)))
	if err != nil {
		return noopShutdown, fmt.Errorf("building OTel resource: %w", err)
	}

	var creds credentials.TransportCredentials
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(nil) // system root CAs
	}

	p := &providers{}
	p.conn, err = grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return noopShutdown, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}

	if err := p.setupTraces(ctx, cfg, res); err != nil {
		teardown(ctx, p)
		return noopShutdown, err
	}
	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		teardown(ctx, p)
		return noopShutdown, err
	}
	if err := p.setupLogs(ctx, cfg, res); err != nil {
		teardown(ctx, p)
		return noopShutdown, err
	}

	return p.shutdown, nil
}

func (p *providers) setupTraces(ctx context.Context, cfg Config, res *resource.Resource) error {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(p.conn),
		otlptracegrpc.WithHeaders(cfg.Headers),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(p.tp)
	return nil
}

func (p *providers) setupMetrics(ctx context.Context, cfg Config, res *resource.Resource) error {
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(p.conn),
		otlpmetricgrpc.WithHeaders(cfg.Headers),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(p.mp)
	return nil
}

func (p *providers) setupLogs(ctx context.Context, cfg Config, res *resource.Resource) error {
	exp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithGRPCConn(p.conn),
		otlploggrpc.WithHeaders(cfg.Headers),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	p.lp = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(p.lp)
	return nil
}

func teardown(ctx context.Context, p *providers) {
	_ = p.shutdown(ctx)
}

// noopShutdown is returned on error so callers can always defer.
func noopShutdown(_ context.Context) error { return nil }
