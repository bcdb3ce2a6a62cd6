package graph

import "math"

// ConfidencePolicy parameterizes the confidence calculator.
//
// The score for a set of evidence is
//
//	qualifying = items with Similarity >= SimilarityThreshold
//	n          = len(qualifying)
//	ratio      = successes(qualifying) / n
//	bestSim    = max(similarity(qualifying))
//	score      = (SimilarityWeight*bestSim + SuccessWeight*ratio) * n/(n+SampleSmoothing)
//
// and NoEvidenceScore when n is zero. The n/(n+k) factor penalizes small
// samples so one matching success never reaches full confidence. Every term
// is non-decreasing when a qualifying success is added, so more successes
// never lower the score.
type ConfidencePolicy struct {
	SimilarityThreshold float64
	SimilarityWeight    float64
	SuccessWeight       float64
	SampleSmoothing     float64
	NoEvidenceScore     float64
}

// DefaultConfidencePolicy returns the production defaults.
func DefaultConfidencePolicy() ConfidencePolicy {
	return ConfidencePolicy{
		SimilarityThreshold: 0.4,
		SimilarityWeight:    0.6,
		SuccessWeight:       0.4,
		SampleSmoothing:     1,
		NoEvidenceScore:     0,
	}
}

const weightTolerance = 1e-9

// Validate returns a ConfigurationError for an unusable policy.
func (p ConfidencePolicy) Validate() error {
	switch {
	case !inUnit(p.SimilarityThreshold):
		return &ConfigurationError{Field: "similarity_threshold", Reason: "must be within [0,1]"}
	case math.IsNaN(p.SimilarityWeight) || p.SimilarityWeight < 0:
		return &ConfigurationError{Field: "similarity_weight", Reason: "must be >= 0"}
	case math.IsNaN(p.SuccessWeight) || p.SuccessWeight <= 0:
		return &ConfigurationError{Field: "success_weight", Reason: "must be > 0"}
	case math.Abs(p.SimilarityWeight+p.SuccessWeight-1) > weightTolerance:
		return &ConfigurationError{Field: "similarity_weight+success_weight", Reason: "must sum to 1"}
	case math.IsNaN(p.SampleSmoothing) || math.IsInf(p.SampleSmoothing, 0) || p.SampleSmoothing < 0:
		return &ConfigurationError{Field: "sample_smoothing", Reason: "must be a finite value >= 0"}
	case !inUnit(p.NoEvidenceScore):
		return &ConfigurationError{Field: "no_evidence_score", Reason: "must be within [0,1]"}
	}
	return nil
}

// Score computes the confidence for evidence. It is deterministic and does
// not depend on the order of evidence.
func (p ConfidencePolicy) Score(evidence []Evidence) float64 {
	var n, successes int
	var bestSim float64
	for _, e := range evidence {
		if math.IsNaN(e.Similarity) || e.Similarity < p.SimilarityThreshold {
			continue
		}
		n++
		bestSim = max(bestSim, clampUnit(e.Similarity))
		if e.Success {
			successes++
		}
	}
	if n == 0 {
		return p.NoEvidenceScore
	}

	fn := float64(n)
	ratio := float64(successes) / fn
	support := fn / (fn + p.SampleSmoothing)

	return clampUnit((p.SimilarityWeight*bestSim + p.SuccessWeight*ratio) * support)
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
