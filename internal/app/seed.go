package app

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/dshills/incidentgraph/graph/embed"
	"github.com/dshills/incidentgraph/graph/store"
	"gopkg.in/yaml.v3"
)

//go:embed playbooks.yaml
var defaultPlaybooksYAML []byte

// Playbook is one historical incident and the action taken for it.
type Playbook struct {
	Issue   string `yaml:"issue"`
	Action  string `yaml:"action"`
	Success bool   `yaml:"success"`
}

type playbookFile struct {
	Playbooks []Playbook `yaml:"playbooks"`
}

// DefaultPlaybooks returns the built-in seed playbooks.
func DefaultPlaybooks() []Playbook {
	pbs, err := ParsePlaybooks(defaultPlaybooksYAML)
	if err != nil {
		panic(fmt.Sprintf("load playbooks.yaml: %v", err))
	}
	return pbs
}

// ParsePlaybooks decodes a playbook YAML document.
func ParsePlaybooks(data []byte) ([]Playbook, error) {
	var f playbookFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse playbooks: %w", err)
	}
	for i, pb := range f.Playbooks {
		if pb.Issue == "" || pb.Action == "" {
			return nil, fmt.Errorf("playbook %d: issue and action are required", i)
		}
	}
	return f.Playbooks, nil
}

// LoadPlaybooks reads playbooks from path.
func LoadPlaybooks(path string) ([]Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbooks: %w", err)
	}
	return ParsePlaybooks(data)
}

// Seed embeds each playbook issue and inserts it into st. It returns the
// number of records written before the first failure.
func Seed(ctx context.Context, st store.EvidenceStore, e embed.Embedder, playbooks []Playbook) (int, error) {
	for i, pb := range playbooks {
		vec, err := e.Embed(ctx, pb.Issue)
		if err != nil {
			return i, fmt.Errorf("embed playbook %d: %w", i, err)
		}
		if _, err := st.Insert(ctx, store.Record{
			IssueText:   pb.Issue,
			ActionTaken: pb.Action,
			Success:     pb.Success,
			Embedding:   vec,
		}); err != nil {
			return i, fmt.Errorf("insert playbook %d: %w", i, err)
		}
	}
	return len(playbooks), nil
}
