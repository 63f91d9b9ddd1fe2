package governance

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML layout accepted by LoadSeed. It lets a development
// gateway run without a database.
type Seed struct {
	Systems     []GovernedSystem `yaml:"systems"`
	Assessments []RiskAssessment `yaml:"assessments"`
	Bindings    []PolicyBinding  `yaml:"bindings"`
	Evaluations []EvaluationRun  `yaml:"evaluations"`
}

// LoadSeed reads a seed file into a new MemoryStore.
func LoadSeed(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("governance: read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("governance: parse seed: %w", err)
	}
	return seed.Apply(NewMemoryStore())
}

// Apply validates the seed and loads it into m.
func (s *Seed) Apply(m *MemoryStore) (*MemoryStore, error) {
	known := make(map[string]bool, len(s.Systems))
	for i := range s.Systems {
		sys := &s.Systems[i]
		if sys.ID == "" {
			return nil, fmt.Errorf("governance: seed system %d has no id", i)
		}
		if sys.DeploymentStatus == "" {
			sys.DeploymentStatus = StatusDraft
		}
		known[sys.ID] = true
		m.PutSystem(sys)
	}
	for i := range s.Assessments {
		a := &s.Assessments[i]
		if !known[a.SystemID] {
			return nil, fmt.Errorf("governance: seed assessment for unknown system %q", a.SystemID)
		}
		if !a.Tier.Valid() {
			return nil, fmt.Errorf("governance: seed assessment has invalid tier %q", a.Tier)
		}
		m.AddRiskAssessment(a)
	}
	for i := range s.Bindings {
		m.AddBinding(&s.Bindings[i])
	}
	for i := range s.Evaluations {
		r := &s.Evaluations[i]
		if !known[r.SystemID] {
			return nil, fmt.Errorf("governance: seed evaluation for unknown system %q", r.SystemID)
		}
		m.AddEvaluation(r)
	}
	return m, nil
}
