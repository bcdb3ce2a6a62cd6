package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/incidentgraph/graph"
	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Datastore.Driver != "sqlite" {
		t.Errorf("Datastore.Driver = %q, want %q", cfg.Datastore.Driver, "sqlite")
	}
	if cfg.EmbeddingDimensions != 384 {
		t.Errorf("EmbeddingDimensions = %d, want 384", cfg.EmbeddingDimensions)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v, want 60s", cfg.RequestTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}

	if diff := cmp.Diff(graph.DefaultConfidencePolicy(), cfg.ConfidencePolicy()); diff != "" {
		t.Errorf("ConfidencePolicy() mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.ApprovalPolicy().Cutoff; got != 0.75 {
		t.Errorf("ApprovalPolicy().Cutoff = %v, want 0.75", got)
	}
	if diff := cmp.Diff(graph.DefaultTaxonomy(), cfg.Policy.Taxonomy); diff != "" {
		t.Errorf("Taxonomy mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INCIDENT_DATASTORE_DRIVER", "memory")
	t.Setenv("INCIDENT_RETRIEVAL_TOP_K", "3")
	t.Setenv("INCIDENT_SYNTHESIS_CALL_TIMEOUT", "750ms")
	t.Setenv("INCIDENT_POLICY_APPROVAL_CUTOFF", "0.9")
	t.Setenv("INCIDENT_POLICY_APPROVAL_KEYWORDS", "production database, data loss ,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Datastore.Driver != "memory" {
		t.Errorf("Datastore.Driver = %q, want memory", cfg.Datastore.Driver)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("Retrieval.TopK = %d, want 3", cfg.Retrieval.TopK)
	}
	if cfg.Synthesis.CallTimeout != 750*time.Millisecond {
		t.Errorf("Synthesis.CallTimeout = %v, want 750ms", cfg.Synthesis.CallTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}

	want := graph.ApprovalPolicy{Cutoff: 0.9, Keywords: []string{"production database", "data loss"}}
	if diff := cmp.Diff(want, cfg.ApprovalPolicy()); diff != "" {
		t.Errorf("ApprovalPolicy() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{
			name:  "unknown driver",
			env:   map[string]string{"INCIDENT_DATASTORE_DRIVER": "postgres"},
			field: "datastore.driver",
		},
		{
			name:  "openai embedder without key",
			env:   map[string]string{"INCIDENT_EMBEDDER_PROVIDER": "openai"},
			field: "embedder.api_key",
		},
		{
			name:  "completion without key",
			env:   map[string]string{"INCIDENT_COMPLETION_PROVIDER": "anthropic"},
			field: "completion.api_key",
		},
		{
			name:  "weights do not sum to one",
			env:   map[string]string{"INCIDENT_POLICY_SIMILARITY_WEIGHT": "0.9"},
			field: "similarity_weight+success_weight",
		},
		{
			name: "no evidence score above cutoff",
			env: map[string]string{
				"INCIDENT_POLICY_NO_EVIDENCE_SCORE": "0.8",
				"INCIDENT_POLICY_APPROVAL_CUTOFF":   "0.5",
			},
			field: "no_evidence_score",
		},
		{
			name:  "zero retry attempts",
			env:   map[string]string{"INCIDENT_SYNTHESIS_ATTEMPTS": "0"},
			field: "synthesis.retry",
		},
		{
			name:  "unknown log format",
			env:   map[string]string{"LOG_FORMAT": "xml"},
			field: "log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			var ce *graph.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("Load() error = %v, want *graph.ConfigurationError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	t.Setenv("INCIDENT_REQUEST_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}

func TestPolicyFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := `
confidence:
  similarity_weight: 0.7
  success_weight: 0.3
approval:
  keywords: [customer data]
taxonomy:
  incident_types: [disk_full, unknown_but_classified]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("INCIDENT_POLICY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := cfg.ConfidencePolicy()
	if got.SimilarityWeight != 0.7 || got.SuccessWeight != 0.3 {
		t.Errorf("weights = %v/%v, want 0.7/0.3", got.SimilarityWeight, got.SuccessWeight)
	}
	if got.SimilarityThreshold != 0.4 {
		t.Errorf("SimilarityThreshold = %v, want untouched 0.4", got.SimilarityThreshold)
	}
	if diff := cmp.Diff([]string{"customer data"}, cfg.ApprovalPolicy().Keywords); diff != "" {
		t.Errorf("Keywords mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"disk_full", "unknown_but_classified"}, cfg.Policy.Taxonomy.IncidentTypes); diff != "" {
		t.Errorf("IncidentTypes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(graph.DefaultTaxonomy().AffectedAreas, cfg.Policy.Taxonomy.AffectedAreas); diff != "" {
		t.Errorf("AffectedAreas should keep defaults (-want +got):\n%s", diff)
	}
}

func TestPolicyApplyErrors(t *testing.T) {
	var p PolicyConfig

	if err := p.Apply([]byte("confidence:\n  similarity_wieght: 0.5\n")); err == nil {
		t.Error("Apply(unknown key) error = nil, want error")
	}
	if err := p.Apply(nil); err != nil {
		t.Errorf("Apply(empty) error = %v, want nil", err)
	}
	if err := p.ApplyFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("ApplyFile(missing) error = nil, want error")
	}
}
