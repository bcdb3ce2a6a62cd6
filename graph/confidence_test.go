package graph

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
)

const scoreTolerance = 1e-9

func repeat(e Evidence, n int) []Evidence {
	out := make([]Evidence, n)
	for i := range out {
		out[i] = e
	}
	return out
}

func TestConfidenceScore(t *testing.T) {
	p := DefaultConfidencePolicy()

	success := Evidence{IssueText: "db slow", ActionTaken: "restart", Success: true, Similarity: 0.9}
	failure := Evidence{IssueText: "db slow", ActionTaken: "ignore", Success: false, Similarity: 0.9}

	tests := []struct {
		name     string
		evidence []Evidence
		want     float64
	}{
		{name: "no evidence", evidence: nil, want: 0},
		{name: "all below threshold", evidence: []Evidence{{Success: true, Similarity: 0.39}}, want: 0},
		{name: "single exact success", evidence: []Evidence{{Success: true, Similarity: 1}}, want: 0.5},
		{
			name:     "mostly successful",
			evidence: append(repeat(success, 3), failure),
			want:     0.672,
		},
		{
			name:     "mostly failed",
			evidence: append(repeat(failure, 3), success),
			want:     0.512,
		},
		{
			name:     "threshold is inclusive",
			evidence: []Evidence{{Success: true, Similarity: 0.4}},
			want:     (0.6*0.4 + 0.4) * 0.5,
		},
		{
			name: "unqualified items are ignored",
			evidence: []Evidence{
				{Success: true, Similarity: 1},
				{Success: false, Similarity: 0.1},
				{Success: false, Similarity: math.NaN()},
			},
			want: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Score(tt.evidence)
			if math.Abs(got-tt.want) > scoreTolerance {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfidenceScoreSuccessesRaiseScore(t *testing.T) {
	p := DefaultConfidencePolicy()
	success := Evidence{Success: true, Similarity: 0.9}
	failure := Evidence{Success: false, Similarity: 0.9}

	mostlySuccess := p.Score(append(repeat(success, 3), failure))
	mostlyFailure := p.Score(append(repeat(failure, 3), success))
	if mostlySuccess <= mostlyFailure {
		t.Errorf("3 successes scored %v, 3 failures scored %v; successes should score higher", mostlySuccess, mostlyFailure)
	}
}

func TestConfidenceScoreMonotonicInSuccesses(t *testing.T) {
	p := DefaultConfidencePolicy()

	t.Run("weak match after strong ones", func(t *testing.T) {
		strong := repeat(Evidence{Success: true, Similarity: 1}, 10)
		before := p.Score(strong)
		after := p.Score(append(strong, Evidence{Success: true, Similarity: 0.4}))
		if after < before {
			t.Errorf("Score() dropped from %v to %v after adding a qualifying success", before, after)
		}
	})

	t.Run("random additions", func(t *testing.T) {
		rng := rand.New(rand.NewSource(3))
		for trial := 0; trial < 100; trial++ {
			var evidence []Evidence
			for i := rng.Intn(6); i > 0; i-- {
				evidence = append(evidence, Evidence{Success: rng.Intn(2) == 0, Similarity: rng.Float64()})
			}

			prev := p.Score(evidence)
			for i := 0; i < 15; i++ {
				sim := p.SimilarityThreshold + rng.Float64()*(1-p.SimilarityThreshold)
				evidence = append(evidence, Evidence{Success: true, Similarity: sim})
				got := p.Score(evidence)
				if got < prev {
					t.Fatalf("trial %d: adding success at similarity %v lowered Score() from %v to %v", trial, sim, prev, got)
				}
				prev = got
			}
		}
	})
}

func TestConfidenceScoreUsesBestSimilarity(t *testing.T) {
	p := DefaultConfidencePolicy()
	got := p.Score([]Evidence{
		{Success: true, Similarity: 0.5},
		{Success: true, Similarity: 0.9},
	})
	want := (0.6*0.9 + 0.4*1) * 2.0 / 3.0
	if math.Abs(got-want) > scoreTolerance {
		t.Errorf("Score() = %v, want %v", got, want)
	}
}

func TestConfidenceScoreOrderIndependent(t *testing.T) {
	p := DefaultConfidencePolicy()
	rng := rand.New(rand.NewSource(7))

	evidence := make([]Evidence, 25)
	for i := range evidence {
		evidence[i] = Evidence{Success: rng.Intn(2) == 0, Similarity: rng.Float64()}
	}
	want := p.Score(evidence)

	for i := 0; i < 50; i++ {
		shuffled := append([]Evidence(nil), evidence...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := p.Score(shuffled); got != want {
			t.Fatalf("permutation %d: Score() = %v, want exactly %v", i, got, want)
		}
	}
}

func TestConfidenceScoreInUnitRange(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	policies := []ConfidencePolicy{
		DefaultConfidencePolicy(),
		{SimilarityThreshold: 0, SimilarityWeight: 0, SuccessWeight: 1, SampleSmoothing: 0, NoEvidenceScore: 0.2},
		{SimilarityThreshold: 1, SimilarityWeight: 0.5, SuccessWeight: 0.5, SampleSmoothing: 10},
	}
	odd := []float64{math.NaN(), math.Inf(1), math.Inf(-1), -3, 7, 1, 0}

	for _, p := range policies {
		for i := 0; i < 200; i++ {
			n := rng.Intn(8)
			evidence := make([]Evidence, n)
			for j := range evidence {
				sim := rng.Float64()
				if rng.Intn(4) == 0 {
					sim = odd[rng.Intn(len(odd))]
				}
				evidence[j] = Evidence{Success: rng.Intn(2) == 0, Similarity: sim}
			}
			got := p.Score(evidence)
			if math.IsNaN(got) || got < 0 || got > 1 {
				t.Fatalf("Score(%v) = %v, outside [0,1]", evidence, got)
			}
		}
	}
}

func TestConfidencePolicyValidate(t *testing.T) {
	valid := DefaultConfidencePolicy()

	tests := []struct {
		name  string
		edit  func(*ConfidencePolicy)
		field string
	}{
		{name: "defaults", edit: func(*ConfidencePolicy) {}},
		{name: "threshold above one", edit: func(p *ConfidencePolicy) { p.SimilarityThreshold = 1.1 }, field: "similarity_threshold"},
		{name: "threshold NaN", edit: func(p *ConfidencePolicy) { p.SimilarityThreshold = math.NaN() }, field: "similarity_threshold"},
		{name: "negative similarity weight", edit: func(p *ConfidencePolicy) { p.SimilarityWeight, p.SuccessWeight = -0.1, 1.1 }, field: "similarity_weight"},
		{name: "zero success weight", edit: func(p *ConfidencePolicy) { p.SimilarityWeight, p.SuccessWeight = 1, 0 }, field: "success_weight"},
		{name: "weights off by a lot", edit: func(p *ConfidencePolicy) { p.SuccessWeight = 0.5 }, field: "similarity_weight+success_weight"},
		{name: "negative smoothing", edit: func(p *ConfidencePolicy) { p.SampleSmoothing = -1 }, field: "sample_smoothing"},
		{name: "infinite smoothing", edit: func(p *ConfidencePolicy) { p.SampleSmoothing = math.Inf(1) }, field: "sample_smoothing"},
		{name: "no evidence score negative", edit: func(p *ConfidencePolicy) { p.NoEvidenceScore = -0.1 }, field: "no_evidence_score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.edit(&p)

			err := p.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() error = %v, want *ConfigurationError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestConfidenceNode(t *testing.T) {
	var s State
	s.Evidence = Some([]Evidence{{Success: true, Similarity: 1}})

	res := ConfidenceNode{Policy: DefaultConfidencePolicy()}.Run(context.Background(), s)
	got, ok := res.Delta.ConfidenceScore.Get()
	if !ok || math.Abs(got-0.5) > scoreTolerance {
		t.Errorf("ConfidenceScore = %v (set %v), want 0.5", got, ok)
	}
	if res.Err != nil || len(res.Warnings) != 0 {
		t.Errorf("unexpected err %v / warnings %v", res.Err, res.Warnings)
	}
}
