// Package app assembles a ready-to-run decision engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/incidentgraph/graph"
	"github.com/dshills/incidentgraph/graph/embed"
	"github.com/dshills/incidentgraph/graph/emit"
	"github.com/dshills/incidentgraph/graph/model"
	"github.com/dshills/incidentgraph/graph/model/anthropic"
	"github.com/dshills/incidentgraph/graph/model/google"
	"github.com/dshills/incidentgraph/graph/model/openai"
	"github.com/dshills/incidentgraph/graph/store"
	"github.com/dshills/incidentgraph/internal/config"
	"github.com/prometheus/client_golang/prometheus"
)

// App owns the engine and every resource it depends on.
type App struct {
	Engine   *graph.Engine
	Store    store.EvidenceStore
	Embedder embed.Embedder
	Registry *prometheus.Registry
	Provider *emit.Provider
	Logger   *slog.Logger

	closers []func(context.Context) error
}

// Option customizes Build. Tests use it to inject fakes.
type Option func(*buildOptions)

type buildOptions struct {
	store    store.EvidenceStore
	embedder embed.Embedder
	chat     model.ChatModel
	provider *emit.Provider
	logger   *slog.Logger
	emitter  emit.Emitter
}

// WithStore uses s instead of opening the configured datastore. The App
// still closes it.
func WithStore(s store.EvidenceStore) Option {
	return func(o *buildOptions) { o.store = s }
}

// WithEmbedder uses e instead of the configured embedding provider.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *buildOptions) { o.embedder = e }
}

// WithChatModel uses m for classification and synthesis.
func WithChatModel(m model.ChatModel) Option {
	return func(o *buildOptions) { o.chat = m }
}

// WithProvider uses p for tracing instead of building one from config.
func WithProvider(p *emit.Provider) Option {
	return func(o *buildOptions) { o.provider = p }
}

// WithLogger overrides the logger built from cfg.Log.
func WithLogger(l *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithEmitter adds an event emitter next to the log emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(o *buildOptions) { o.emitter = e }
}

// Build wires cfg into an App. On error every resource opened so far is
// released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (a *App, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{Registry: prometheus.NewRegistry(), Logger: o.logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	if a.Logger == nil {
		if a.Logger, err = NewLogger(cfg.Log); err != nil {
			return a, err
		}
	}

	a.Store = o.store
	if a.Store == nil {
		if a.Store, err = openStore(ctx, cfg); err != nil {
			return a, err
		}
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Store.Close() })

	a.Embedder = o.embedder
	if a.Embedder == nil {
		if a.Embedder, err = newEmbedder(cfg); err != nil {
			return a, err
		}
	}

	chat := o.chat
	if chat == nil {
		var closeChat func() error
		if chat, closeChat, err = newChatModel(ctx, cfg.Completion); err != nil {
			return a, err
		}
		if closeChat != nil {
			a.closers = append(a.closers, func(context.Context) error { return closeChat() })
		}
	}
	if chat != nil {
		chat = model.Limit(chat, cfg.Completion.MaxConcurrent)
	}

	metrics := graph.NewPrometheusMetrics(a.Registry)

	a.Provider = o.provider
	if a.Provider == nil {
		a.Provider, err = emit.NewProvider(ctx, emit.ProviderConfig{
			Endpoint:       cfg.Tracing.Endpoint,
			ServiceName:    cfg.Tracing.ServiceName,
			QueueSize:      cfg.Tracing.QueueSize,
			BatchSize:      cfg.Tracing.BatchSize,
			ExportInterval: cfg.Tracing.ExportInterval,
			ExportTimeout:  cfg.Tracing.ExportTimeout,
			Logger:         a.Logger,
			OnDrop:         metrics.IncrementSpansDropped,
		})
		if err != nil {
			return a, err
		}
	}
	a.closers = append(a.closers, a.Provider.Shutdown)

	emitters := emit.Multi{emit.NewLogEmitter(a.Logger)}
	if o.emitter != nil {
		emitters = append(emitters, o.emitter)
	}

	understanding := graph.UnderstandingConfig{
		Taxonomy:    cfg.Policy.Taxonomy,
		CallTimeout: cfg.Understanding.CallTimeout,
	}
	if cfg.Understanding.Classify {
		understanding.Classifier = chat
	}

	a.Engine, err = graph.New(
		graph.WithUnderstanding(understanding),
		graph.WithRetrieval(graph.RetrievalConfig{
			Embedder:    a.Embedder,
			Store:       a.Store,
			TopK:        cfg.Retrieval.TopK,
			Retry:       cfg.RetrievalRetry(),
			CallTimeout: cfg.Retrieval.CallTimeout,
		}),
		graph.WithSynthesis(graph.SynthesisConfig{
			Model:            chat,
			MaxTokens:        cfg.Completion.MaxTokens,
			Retry:            cfg.SynthesisRetry(),
			CallTimeout:      cfg.Synthesis.CallTimeout,
			FallbackResponse: cfg.Synthesis.FallbackResponse,
			MaxResponseRunes: cfg.Synthesis.MaxResponseRunes,
		}),
		graph.WithConfidencePolicy(cfg.ConfidencePolicy()),
		graph.WithApprovalPolicy(cfg.ApprovalPolicy()),
		graph.WithTracerProvider(a.Provider),
		graph.WithEmitter(emitters),
		graph.WithMetrics(metrics),
		graph.WithLogger(a.Logger),
		graph.WithRequestTimeout(cfg.RequestTimeout),
		graph.WithBatchConcurrency(cfg.BatchConcurrency),
	)
	if err != nil {
		return a, err
	}

	a.Logger.Info("engine ready",
		slog.String("datastore", cfg.Datastore.Driver),
		slog.String("embedder", a.Embedder.Model()),
		slog.Int("dimensions", a.Embedder.Dimensions()),
		slog.String("completion", providerName(cfg.Completion.Provider)),
		slog.Bool("tracing_export", cfg.Tracing.Endpoint != ""))
	return a, nil
}

// Close releases resources in reverse order of acquisition and flushes
// pending spans. ctx bounds the flush.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.Config) (store.EvidenceStore, error) {
	dims := cfg.EmbeddingDimensions
	switch cfg.Datastore.Driver {
	case "memory":
		return store.NewMemStore(dims), nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Datastore.DSN, dims)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mysql":
		s, err := store.NewMySQLStore(ctx, cfg.Datastore.DSN, dims, store.MySQLOptions{
			MaxOpenConns: cfg.Datastore.MaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, &graph.ConfigurationError{Field: "datastore.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Datastore.Driver)}
}

func newEmbedder(cfg config.Config) (embed.Embedder, error) {
	switch cfg.Embedder.Provider {
	case "hash":
		return embed.NewHashEmbedder(cfg.EmbeddingDimensions), nil
	case "openai":
		e, err := embed.NewOpenAIEmbedder(cfg.Embedder.APIKey, cfg.Embedder.Model, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, &graph.ConfigurationError{Field: "embedder.provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Embedder.Provider)}
}

// newChatModel returns a nil model when no completion provider is set.
func newChatModel(ctx context.Context, cfg config.CompletionConfig) (model.ChatModel, func() error, error) {
	switch cfg.Provider {
	case "":
		return nil, nil, nil
	case "google":
		m, err := google.NewChatModel(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	case "openai":
		m, err := openai.NewChatModel(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return m, nil, nil
	case "anthropic":
		m, err := anthropic.NewChatModel(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return m, nil, nil
	}
	return nil, nil, &graph.ConfigurationError{Field: "completion.provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
}

func providerName(p string) string {
	if p == "" {
		return "none"
	}
	return p
}
