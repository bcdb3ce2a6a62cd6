package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the YAML overlay for decision policy. Omitted keys keep the
// values loaded from the environment.
//
//	confidence:
//	  similarity_threshold: 0.4
//	  similarity_weight: 0.6
//	  success_weight: 0.4
//	  sample_smoothing: 1
//	  no_evidence_score: 0
//	approval:
//	  cutoff: 0.75
//	  keywords: [production database, data loss]
//	taxonomy:
//	  incident_types: [service_outage, unknown_but_classified]
//	  affected_areas: [payments, general]
type PolicyFile struct {
	Confidence struct {
		SimilarityThreshold *float64 `yaml:"similarity_threshold"`
		SimilarityWeight    *float64 `yaml:"similarity_weight"`
		SuccessWeight       *float64 `yaml:"success_weight"`
		SampleSmoothing     *float64 `yaml:"sample_smoothing"`
		NoEvidenceScore     *float64 `yaml:"no_evidence_score"`
	} `yaml:"confidence"`
	Approval struct {
		Cutoff   *float64 `yaml:"cutoff"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"approval"`
	Taxonomy struct {
		IncidentTypes []string `yaml:"incident_types"`
		AffectedAreas []string `yaml:"affected_areas"`
	} `yaml:"taxonomy"`
}

// ApplyFile reads path and overlays it onto p.
func (p *PolicyConfig) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	return p.Apply(data)
}

// Apply overlays YAML policy data onto p. Unknown keys are rejected.
func (p *PolicyConfig) Apply(data []byte) error {
	var f PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse policy file: %w", err)
	}

	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.SimilarityThreshold, f.Confidence.SimilarityThreshold)
	set(&p.SimilarityWeight, f.Confidence.SimilarityWeight)
	set(&p.SuccessWeight, f.Confidence.SuccessWeight)
	set(&p.SampleSmoothing, f.Confidence.SampleSmoothing)
	set(&p.NoEvidenceScore, f.Confidence.NoEvidenceScore)
	set(&p.ApprovalCutoff, f.Approval.Cutoff)

	if f.Approval.Keywords != nil {
		p.ApprovalKeywords = f.Approval.Keywords
	}
	if len(f.Taxonomy.IncidentTypes) > 0 {
		p.Taxonomy.IncidentTypes = f.Taxonomy.IncidentTypes
	}
	if len(f.Taxonomy.AffectedAreas) > 0 {
		p.Taxonomy.AffectedAreas = f.Taxonomy.AffectedAreas
	}
	return nil
}
