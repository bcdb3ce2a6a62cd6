package emit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures NewProvider.
type ProviderConfig struct {
	// Endpoint is the OTLP/HTTP collector URL. Empty disables export; spans
	// still carry trace IDs.
	Endpoint string

	ServiceName    string
	QueueSize      int
	BatchSize      int
	ExportInterval time.Duration
	ExportTimeout  time.Duration
	Logger         *slog.Logger

	// OnDrop is called for every span dropped on queue overflow.
	OnDrop func()
}

// Provider owns the tracer provider and its export pipeline for the lifetime
// of the process.
type Provider struct {
	*sdktrace.TracerProvider
	processor *ExportProcessor
}

// NewProvider builds a tracer provider. When cfg.Endpoint is set, spans are
// exported over OTLP/HTTP through a bounded ExportProcessor.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.Endpoint == "" {
		return NewProviderWithExporter(ctx, cfg, nil)
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return NewProviderWithExporter(ctx, cfg, exporter)
}

// NewProviderWithExporter builds a provider around an arbitrary exporter,
// which may be nil.
func NewProviderWithExporter(ctx context.Context, cfg ProviderConfig, exporter sdktrace.SpanExporter) (*Provider, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "incident-decision-agent"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}

	p := &Provider{}
	if exporter != nil {
		p.processor = NewExportProcessor(exporter,
			WithQueueSize(cfg.QueueSize),
			WithBatchSize(cfg.BatchSize),
			WithExportInterval(cfg.ExportInterval),
			WithExportTimeout(cfg.ExportTimeout),
			WithLogger(cfg.Logger),
			WithDropHook(cfg.OnDrop),
		)
		opts = append(opts, sdktrace.WithSpanProcessor(p.processor))
	}

	p.TracerProvider = sdktrace.NewTracerProvider(opts...)
	return p, nil
}

// Dropped returns the number of spans dropped on queue overflow.
func (p *Provider) Dropped() int64 {
	if p.processor == nil {
		return 0
	}
	return p.processor.Dropped()
}
