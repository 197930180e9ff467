// Package profile loads and watches agent profile definitions. Profiles are
// YAML documents on disk, validated against a JSON schema before use, and
// hot-reloaded when the backing files change.
package profile

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Profile describes one agent: which model serves it, which actions it may
// invoke, and how its recommendations are tuned.
type Profile struct {
	Name               string                 `yaml:"name" json:"name"`
	Description        string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Provider           string                 `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model              string                 `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt       string                 `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Actions            []string               `yaml:"actions,omitempty" json:"actions,omitempty"`
	MaxRecommendations int                    `yaml:"max_recommendations,omitempty" json:"max_recommendations,omitempty"`
	ExplorationPct     float64                `yaml:"exploration_pct,omitempty" json:"exploration_pct,omitempty"`
	Preferences        map[string]bool        `yaml:"preferences,omitempty" json:"preferences,omitempty"`
	Metadata           map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

const profileSchema = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"provider": {"type": "string", "enum": ["anthropic", "openai", "fake"]},
		"model": {"type": "string"},
		"system_prompt": {"type": "string"},
		"actions": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"max_recommendations": {"type": "integer", "minimum": 1, "maximum": 50},
		"exploration_pct": {"type": "number", "minimum": 0, "maximum": 1},
		"preferences": {"type": "object", "additionalProperties": {"type": "boolean"}},
		"metadata": {"type": "object"}
	},
	"additionalProperties": false
}`

var compiledSchema = gojsonschema.NewStringLoader(profileSchema)

// validateDocument checks a decoded profile document against the schema
func validateDocument(doc map[string]interface{}) error {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("invalid profile: %s", strings.Join(msgs, "; "))
}

// AllowsAction reports whether the profile may invoke the named action.
// An empty action list allows everything.
func (p *Profile) AllowsAction(name string) bool {
	if len(p.Actions) == 0 {
		return true
	}
	for _, a := range p.Actions {
		if a == name {
			return true
		}
	}
	return false
}
