// Package config loads engine configuration from the environment and an
// optional YAML policy file.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dshills/incidentgraph/graph"
)

// EnvPrefix prefixes every engine environment variable.
const EnvPrefix = "INCIDENT_"

// Config is the full engine configuration.
type Config struct {
	Datastore     DatastoreConfig     `envPrefix:"DATASTORE_"`
	Embedder      EmbedderConfig      `envPrefix:"EMBEDDER_"`
	Completion    CompletionConfig    `envPrefix:"COMPLETION_"`
	Understanding UnderstandingConfig `envPrefix:"UNDERSTANDING_"`
	Retrieval     CallConfig          `envPrefix:"RETRIEVAL_"`
	Synthesis     SynthesisConfig     `envPrefix:"SYNTHESIS_"`
	Policy        PolicyConfig        `envPrefix:"POLICY_"`
	Tracing       TracingConfig       `envPrefix:"TRACING_"`

	EmbeddingDimensions int           `env:"EMBEDDING_DIMENSIONS" envDefault:"384"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	BatchConcurrency    int           `env:"BATCH_CONCURRENCY" envDefault:"8"`

	// Log is read again without the INCIDENT_ prefix by Load.
	Log LogConfig
}

// DatastoreConfig selects the evidence datastore.
type DatastoreConfig struct {
	Driver       string `env:"DRIVER" envDefault:"sqlite"`
	DSN          string `env:"DSN" envDefault:"incidents.db"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"8"`
}

// EmbedderConfig selects the embedding provider.
type EmbedderConfig struct {
	Provider string `env:"PROVIDER" envDefault:"hash"`
	Model    string `env:"MODEL" envDefault:"text-embedding-3-small"`
	APIKey   string `env:"API_KEY"`
}

// CompletionConfig selects the completion service. An empty provider
// disables it; synthesis then always uses the fallback response.
type CompletionConfig struct {
	Provider      string `env:"PROVIDER"`
	Model         string `env:"MODEL"`
	APIKey        string `env:"API_KEY"`
	MaxTokens     int    `env:"MAX_TOKENS" envDefault:"512"`
	MaxConcurrent int    `env:"MAX_CONCURRENT" envDefault:"4"`
}

// UnderstandingConfig controls incident classification.
type UnderstandingConfig struct {
	Classify    bool          `env:"CLASSIFY" envDefault:"true"`
	CallTimeout time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`
}

// CallConfig bounds the external calls of a step.
type CallConfig struct {
	TopK        int           `env:"TOP_K" envDefault:"5"`
	Attempts    int           `env:"ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"BASE_DELAY" envDefault:"200ms"`
	MaxDelay    time.Duration `env:"MAX_DELAY" envDefault:"2s"`
	CallTimeout time.Duration `env:"CALL_TIMEOUT" envDefault:"3s"`
}

// SynthesisConfig bounds the synthesis step.
type SynthesisConfig struct {
	Attempts         int           `env:"ATTEMPTS" envDefault:"3"`
	BaseDelay        time.Duration `env:"BASE_DELAY" envDefault:"500ms"`
	MaxDelay         time.Duration `env:"MAX_DELAY" envDefault:"5s"`
	CallTimeout      time.Duration `env:"CALL_TIMEOUT" envDefault:"20s"`
	FallbackResponse string        `env:"FALLBACK_RESPONSE"`
	MaxResponseRunes int           `env:"MAX_RESPONSE_RUNES" envDefault:"4000"`
}

// PolicyConfig holds the confidence and approval parameters. File, when
// set, is a YAML overlay applied after the environment.
type PolicyConfig struct {
	SimilarityThreshold float64  `env:"SIMILARITY_THRESHOLD" envDefault:"0.4"`
	SimilarityWeight    float64  `env:"SIMILARITY_WEIGHT" envDefault:"0.6"`
	SuccessWeight       float64  `env:"SUCCESS_WEIGHT" envDefault:"0.4"`
	SampleSmoothing     float64  `env:"SAMPLE_SMOOTHING" envDefault:"1"`
	NoEvidenceScore     float64  `env:"NO_EVIDENCE_SCORE" envDefault:"0"`
	ApprovalCutoff      float64  `env:"APPROVAL_CUTOFF" envDefault:"0.75"`
	ApprovalKeywords    []string `env:"APPROVAL_KEYWORDS" envSeparator:","`
	File                string   `env:"FILE"`

	// Taxonomy is only set from the policy file.
	Taxonomy graph.Taxonomy
}

// TracingConfig configures span export.
type TracingConfig struct {
	Endpoint       string        `env:"ENDPOINT"`
	ServiceName    string        `env:"SERVICE_NAME" envDefault:"incident-decision-agent"`
	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"2048"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"256"`
	ExportInterval time.Duration `env:"EXPORT_INTERVAL" envDefault:"5s"`
	ExportTimeout  time.Duration `env:"EXPORT_TIMEOUT" envDefault:"10s"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any, opts ...env.Options) error {
	var err error
	if len(opts) > 0 {
		err = env.ParseWithOptions(target, opts[0])
	} else {
		err = env.Parse(target)
	}
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the environment, applies the policy file if configured, and
// validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, err
	}
	if err := ParseEnv(&cfg.Log); err != nil {
		return Config{}, err
	}
	cfg.Policy.Taxonomy = graph.DefaultTaxonomy()

	if cfg.Policy.File != "" {
		if err := cfg.Policy.ApplyFile(cfg.Policy.File); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	datastoreDrivers    = []string{"memory", "sqlite", "mysql"}
	embedderProviders   = []string{"hash", "openai"}
	completionProviders = []string{"", "google", "openai", "anthropic"}
	logFormats          = []string{"text", "json"}
)

// Validate reports the first invalid setting as a *graph.ConfigurationError.
func (c Config) Validate() error {
	invalid := func(field, reason string) error {
		return &graph.ConfigurationError{Field: field, Reason: reason}
	}

	switch {
	case !slices.Contains(datastoreDrivers, c.Datastore.Driver):
		return invalid("datastore.driver", fmt.Sprintf("unknown driver %q", c.Datastore.Driver))
	case c.Datastore.Driver != "memory" && c.Datastore.DSN == "":
		return invalid("datastore.dsn", "required")
	case c.Datastore.MaxOpenConns < 1:
		return invalid("datastore.max_open_conns", "must be >= 1")
	case c.EmbeddingDimensions < 1:
		return invalid("embedding_dimensions", "must be >= 1")
	case !slices.Contains(embedderProviders, c.Embedder.Provider):
		return invalid("embedder.provider", fmt.Sprintf("unknown provider %q", c.Embedder.Provider))
	case c.Embedder.Provider == "openai" && c.Embedder.APIKey == "":
		return invalid("embedder.api_key", "required for openai")
	case !slices.Contains(completionProviders, c.Completion.Provider):
		return invalid("completion.provider", fmt.Sprintf("unknown provider %q", c.Completion.Provider))
	case c.Completion.Provider != "" && c.Completion.APIKey == "":
		return invalid("completion.api_key", "required for "+c.Completion.Provider)
	case c.Completion.MaxTokens < 1:
		return invalid("completion.max_tokens", "must be >= 1")
	case c.Completion.MaxConcurrent < 1:
		return invalid("completion.max_concurrent", "must be >= 1")
	case c.Retrieval.TopK < 1:
		return invalid("retrieval.top_k", "must be >= 1")
	case c.RequestTimeout < 0:
		return invalid("request_timeout", "must be >= 0")
	case c.BatchConcurrency < 1:
		return invalid("batch_concurrency", "must be >= 1")
	case c.Tracing.QueueSize < 1 || c.Tracing.BatchSize < 1:
		return invalid("tracing.queue_size", "queue and batch sizes must be >= 1")
	case c.Log.Format != "" && !slices.Contains(logFormats, strings.ToLower(c.Log.Format)):
		return invalid("log_format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	for name, rp := range map[string]graph.RetryPolicy{
		"retrieval": c.RetrievalRetry(),
		"synthesis": c.SynthesisRetry(),
	} {
		if err := rp.Validate(); err != nil {
			return invalid(name+".retry", err.Error())
		}
	}
	if c.Retrieval.CallTimeout < 0 || c.Synthesis.CallTimeout < 0 || c.Understanding.CallTimeout < 0 {
		return invalid("call_timeout", "must be >= 0")
	}

	if len(c.Policy.Taxonomy.IncidentTypes) == 0 || len(c.Policy.Taxonomy.AffectedAreas) == 0 {
		return invalid("taxonomy", "incident types and affected areas must not be empty")
	}

	confidence, approval := c.ConfidencePolicy(), c.ApprovalPolicy()
	if err := confidence.Validate(); err != nil {
		return err
	}
	if err := approval.Validate(); err != nil {
		return err
	}
	if confidence.NoEvidenceScore >= approval.Cutoff {
		return invalid("no_evidence_score", "must be below the approval cutoff")
	}
	return nil
}

// ConfidencePolicy returns the configured confidence parameters.
func (c Config) ConfidencePolicy() graph.ConfidencePolicy {
	return graph.ConfidencePolicy{
		SimilarityThreshold: c.Policy.SimilarityThreshold,
		SimilarityWeight:    c.Policy.SimilarityWeight,
		SuccessWeight:       c.Policy.SuccessWeight,
		SampleSmoothing:     c.Policy.SampleSmoothing,
		NoEvidenceScore:     c.Policy.NoEvidenceScore,
	}
}

// ApprovalPolicy returns the configured approval parameters.
func (c Config) ApprovalPolicy() graph.ApprovalPolicy {
	keywords := make([]string, 0, len(c.Policy.ApprovalKeywords))
	for _, k := range c.Policy.ApprovalKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	return graph.ApprovalPolicy{Cutoff: c.Policy.ApprovalCutoff, Keywords: keywords}
}

// RetrievalRetry returns the retry policy for evidence retrieval.
func (c Config) RetrievalRetry() graph.RetryPolicy {
	return graph.RetryPolicy{
		MaxAttempts: c.Retrieval.Attempts,
		BaseDelay:   c.Retrieval.BaseDelay,
		MaxDelay:    c.Retrieval.MaxDelay,
	}
}

// SynthesisRetry returns the retry policy for knowledge synthesis.
func (c Config) SynthesisRetry() graph.RetryPolicy {
	return graph.RetryPolicy{
		MaxAttempts: c.Synthesis.Attempts,
		BaseDelay:   c.Synthesis.BaseDelay,
		MaxDelay:    c.Synthesis.MaxDelay,
	}
}
