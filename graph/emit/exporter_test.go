package emit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// gatedExporter blocks every export until release is closed.
type gatedExporter struct {
	release chan struct{}

	mu       sync.Mutex
	spans    int
	shutdown bool
}

func (g *gatedExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.mu.Lock()
	g.spans += len(spans)
	g.mu.Unlock()
	return nil
}

func (g *gatedExporter) Shutdown(context.Context) error {
	g.mu.Lock()
	g.shutdown = true
	g.mu.Unlock()
	return nil
}

type failingExporter struct{}

func (failingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return errors.New("collector unreachable")
}

func (failingExporter) Shutdown(context.Context) error { return nil }

func endSpans(tp *sdktrace.TracerProvider, n int) {
	tracer := tp.Tracer("test")
	for i := 0; i < n; i++ {
		_, s := tracer.Start(context.Background(), "span")
		s.End()
	}
}

func TestExportProcessorDropsWhenFull(t *testing.T) {
	exp := &gatedExporter{release: make(chan struct{})}
	var hooked atomic.Int64
	p := NewExportProcessor(exp,
		WithQueueSize(2),
		WithBatchSize(1),
		WithExportInterval(time.Hour),
		WithDropHook(func() { hooked.Add(1) }),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))

	start := time.Now()
	endSpans(tp, 10)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("ending spans took %v with a stalled exporter, OnEnd must not block", elapsed)
	}

	// At most the queue plus the batch stuck in the exporter are kept.
	dropped := p.Dropped()
	if dropped < 7 {
		t.Errorf("Dropped() = %d, want >= 7", dropped)
	}
	if hooked.Load() != dropped {
		t.Errorf("drop hook called %d times, want %d", hooked.Load(), dropped)
	}

	close(exp.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if int64(exp.spans)+dropped != 10 {
		t.Errorf("exported %d + dropped %d, want 10 spans accounted for", exp.spans, dropped)
	}
	if !exp.shutdown {
		t.Error("exporter was not shut down")
	}
}

func TestExportProcessorCapacityRecoversAfterExport(t *testing.T) {
	exp := &gatedExporter{release: make(chan struct{})}
	p := NewExportProcessor(exp, WithQueueSize(3), WithBatchSize(3), WithExportInterval(time.Hour))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	endSpans(tp, 5)
	if got := p.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2 over a queue of 3", got)
	}

	close(exp.release)
	if err := p.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}

	endSpans(tp, 3)
	if got := p.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d after export freed the queue, want still 2", got)
	}
	if err := p.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	exp.mu.Lock()
	defer exp.mu.Unlock()
	if exp.spans != 6 {
		t.Errorf("exported = %d, want 6", exp.spans)
	}
}

func TestExportProcessorFlushAndShutdown(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p := NewExportProcessor(exp, WithExportInterval(time.Hour))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))

	endSpans(tp, 5)
	if err := p.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	if got := len(exp.GetSpans()); got != 5 {
		t.Errorf("exported = %d, want 5", got)
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}

	// Spans ended after shutdown are ignored, not dropped.
	endSpans(tp, 3)
	if p.Dropped() != 0 {
		t.Errorf("Dropped() = %d after shutdown, want 0", p.Dropped())
	}
	if err := p.ForceFlush(context.Background()); err != nil {
		t.Errorf("ForceFlush() after shutdown error = %v", err)
	}
}

func TestExportProcessorBatchSize(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p := NewExportProcessor(exp, WithBatchSize(2), WithExportInterval(time.Hour))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	endSpans(tp, 4)

	// Two full batches export without a flush.
	deadline := time.Now().Add(2 * time.Second)
	for len(exp.GetSpans()) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(exp.GetSpans()); got != 4 {
		t.Errorf("exported = %d, want 4", got)
	}
}

func TestExportProcessorExportErrorIsLogged(t *testing.T) {
	var logs bytes.Buffer
	p := NewExportProcessor(failingExporter{},
		WithExportInterval(time.Hour),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))

	endSpans(tp, 2)
	if err := p.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v, export failures stay off the caller path", err)
	}
	if !strings.Contains(logs.String(), "span export failed") {
		t.Errorf("logs = %q, want export failure record", logs.String())
	}
	_ = tp.Shutdown(context.Background())
}

func TestExportProcessorForceFlushHonorsContext(t *testing.T) {
	exp := &gatedExporter{release: make(chan struct{})}
	p := NewExportProcessor(exp, WithBatchSize(1), WithExportInterval(time.Hour))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))
	defer func() {
		close(exp.release)
		_ = tp.Shutdown(context.Background())
	}()

	endSpans(tp, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.ForceFlush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ForceFlush() error = %v, want context.DeadlineExceeded", err)
	}
}
