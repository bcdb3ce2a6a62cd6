package emit

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// flushHeadroom is extra room in the batch processor's queue for ForceFlush
// markers, so admitted spans always fit.
const flushHeadroom = 16

// ExportProcessor wraps the SDK batch span processor with drop accounting.
//
// The SDK processor drops spans silently when its queue is full. Here every
// span is admitted against a pending count (queued plus being exported)
// before it reaches the batch processor; spans over the bound are dropped,
// counted, reported to the drop hook and logged. OnEnd never blocks. Export
// failures are logged and never reach the request path.
type ExportProcessor struct {
	batch sdktrace.SpanProcessor
	cfg   processorConfig

	pending          atomic.Int64
	stopped          atomic.Bool
	dropped          atomic.Int64
	droppedSinceLast atomic.Int64
}

type processorConfig struct {
	queueSize     int
	batchSize     int
	interval      time.Duration
	exportTimeout time.Duration
	logger        *slog.Logger
	onDrop        func()
}

// ProcessorOption configures an ExportProcessor.
type ProcessorOption func(*processorConfig)

// WithQueueSize bounds the number of spans waiting for export.
func WithQueueSize(n int) ProcessorOption {
	return func(c *processorConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithBatchSize sets the maximum spans per export call.
func WithBatchSize(n int) ProcessorOption {
	return func(c *processorConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithExportInterval sets how long a partial batch may wait.
func WithExportInterval(d time.Duration) ProcessorOption {
	return func(c *processorConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithExportTimeout bounds each export call.
func WithExportTimeout(d time.Duration) ProcessorOption {
	return func(c *processorConfig) {
		if d > 0 {
			c.exportTimeout = d
		}
	}
}

// WithLogger sets the logger used for drops and export failures.
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(c *processorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDropHook registers a callback invoked for every dropped span.
func WithDropHook(fn func()) ProcessorOption {
	return func(c *processorConfig) {
		c.onDrop = fn
	}
}

// NewExportProcessor starts a processor exporting to exporter.
func NewExportProcessor(exporter sdktrace.SpanExporter, opts ...ProcessorOption) *ExportProcessor {
	cfg := processorConfig{
		queueSize:     2048,
		batchSize:     256,
		interval:      5 * time.Second,
		exportTimeout: 10 * time.Second,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.batchSize > cfg.queueSize {
		cfg.batchSize = cfg.queueSize
	}

	p := &ExportProcessor{cfg: cfg}
	p.batch = sdktrace.NewBatchSpanProcessor(&accountingExporter{next: exporter, p: p},
		sdktrace.WithMaxQueueSize(cfg.queueSize+flushHeadroom),
		sdktrace.WithMaxExportBatchSize(cfg.batchSize),
		sdktrace.WithBatchTimeout(cfg.interval),
		sdktrace.WithExportTimeout(cfg.exportTimeout),
	)
	return p
}

// OnStart implements sdktrace.SpanProcessor.
func (p *ExportProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	p.batch.OnStart(ctx, s)
}

// OnEnd implements sdktrace.SpanProcessor. It never blocks.
func (p *ExportProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if p.stopped.Load() || !s.SpanContext().IsSampled() {
		return
	}
	if p.pending.Add(1) > int64(p.cfg.queueSize) {
		p.pending.Add(-1)
		p.drop(s)
		return
	}
	p.batch.OnEnd(s)
}

func (p *ExportProcessor) drop(s sdktrace.ReadOnlySpan) {
	p.dropped.Add(1)
	if p.droppedSinceLast.Add(1) == 1 {
		p.cfg.logger.Warn("span export queue full, dropping spans",
			slog.String("span", s.Name()),
			slog.Int("queue_size", p.cfg.queueSize))
	}
	if p.cfg.onDrop != nil {
		p.cfg.onDrop()
	}
}

// Dropped returns the number of spans dropped since start.
func (p *ExportProcessor) Dropped() int64 {
	return p.dropped.Load()
}

// ForceFlush exports everything queued so far. It returns ctx.Err() if ctx
// ends first.
func (p *ExportProcessor) ForceFlush(ctx context.Context) error {
	if p.stopped.Load() {
		return nil
	}
	return p.batch.ForceFlush(ctx)
}

// Shutdown drains the queue, exports the remainder and shuts the exporter
// down. Later spans are ignored.
func (p *ExportProcessor) Shutdown(ctx context.Context) error {
	p.stopped.Store(true)
	return p.batch.Shutdown(ctx)
}

// accountingExporter releases admitted spans once their export returns and
// keeps export failures off the caller path.
type accountingExporter struct {
	next sdktrace.SpanExporter
	p    *ExportProcessor
}

func (a *accountingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	defer a.p.pending.Add(-int64(len(spans)))

	if n := a.p.droppedSinceLast.Swap(0); n > 0 {
		a.p.cfg.logger.Warn("spans dropped since last export", slog.Int64("count", n))
	}
	if err := a.next.ExportSpans(ctx, spans); err != nil {
		a.p.cfg.logger.Error("span export failed",
			slog.Int("spans", len(spans)),
			slog.String("error", err.Error()))
	}
	return nil
}

func (a *accountingExporter) Shutdown(ctx context.Context) error {
	return a.next.Shutdown(ctx)
}
