package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is a set of definitions loaded into an InMemoryStore.
type Seed struct {
	Rules   []*Rule   `yaml:"rules"`
	Packs   []*Pack   `yaml:"packs"`
	Targets []*Target `yaml:"targets"`
}

// DefaultSeed returns the built-in demo fixtures: one JSON schema rule, a
// baseline pack referencing it, and an echo target.
func DefaultSeed() *Seed {
	return &Seed{
		Rules: []*Rule{
			{
				ID:             "U2",
				Name:           "JSON Schema Compliance",
				Category:       "Usability",
				Scoring:        "json_schema",
				PromptTemplate: "Return JSON for a contact: {name, email, tags[]} with no extra fields.",
				Expected: map[string]any{
					"schema": map[string]any{
						"type":                 "object",
						"required":             []any{"name", "email", "tags"},
						"additionalProperties": false,
						"properties": map[string]any{
							"name":  map[string]any{"type": "string"},
							"email": map[string]any{"type": "string", "format": "email"},
							"tags": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "string"},
							},
						},
					},
				},
				IO: IO{Expects: ExpectsJSON, Field: "$"},
			},
		},
		Packs: []*Pack{
			{
				ID:   "pack_baseline",
				Name: "Baseline Functional",
				Rules: []PackRule{
					{ID: "U2", Freq: "daily", Threshold: 1},
				},
			},
		},
		Targets: []*Target{
			{
				ID:           "tgt_echo",
				Name:         "Echo Endpoint (demo)",
				Type:         TargetTypeHTTP,
				Method:       "POST",
				BaseURL:      "https://httpbin.org/anything",
				Headers:      map[string]string{"Content-Type": "application/json"},
				BodyTemplate: map[string]any{"prompt": "{{prompt}}"},
				Capabilities: map[string]any{"returns_json": true},
			},
		},
	}
}

// LoadSeedFile reads a YAML seed document from path.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %q: %w", path, err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %q: %w", path, err)
	}
	return &seed, nil
}

// NewSeededStore builds an InMemoryStore holding every definition in seed.
func NewSeededStore(seed *Seed) (*InMemoryStore, error) {
	store := NewInMemoryStore()

	for _, r := range seed.Rules {
		if err := store.AddRule(r); err != nil {
			return nil, err
		}
	}
	for _, p := range seed.Packs {
		if err := store.AddPack(p); err != nil {
			return nil, err
		}
	}
	for _, t := range seed.Targets {
		if err := store.AddTarget(t); err != nil {
			return nil, err
		}
	}
	return store, nil
}
