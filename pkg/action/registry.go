package action

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/outrigger-ai/outrigger/pkg/guardrail"
)

// DefaultVersion is assigned to definitions registered without a version
const DefaultVersion = "1.0.0"

// entry holds a definition with its compiled contracts and guardrail chain
type entry struct {
	def          *Definition
	inputSchema  *gojsonschema.Schema
	outputSchema *gojsonschema.Schema
	chain        *guardrail.Chain
}

// Registry stores action definitions keyed by trimmed name
type Registry struct {
	entries map[string]*entry
	mu      sync.RWMutex
}

// NewRegistry creates an empty action registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register stores a definition. Contracts are compiled here so execution
// never pays schema-parse cost. Re-registering a name overwrites the
// previous definition, last write wins.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("action definition is required")
	}

	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("action name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("action %s: handler is required", name)
	}

	stored := *def
	stored.Name = name
	if stored.Version == "" {
		stored.Version = DefaultVersion
	}

	e := &entry{
		def:   &stored,
		chain: guardrail.NewChain(stored.Guardrails...),
	}

	if stored.InputSchema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(stored.InputSchema))
		if err != nil {
			return fmt.Errorf("action %s: invalid input schema: %w", name, err)
		}
		e.inputSchema = schema
	}
	if stored.OutputSchema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(stored.OutputSchema))
		if err != nil {
			return fmt.Errorf("action %s: invalid output schema: %w", name, err)
		}
		e.outputSchema = schema
	}

	r.mu.Lock()
	_, replaced := r.entries[name]
	r.entries[name] = e
	r.mu.Unlock()

	if replaced {
		log.Warn().Str("action", name).Str("version", stored.Version).Msg("Action re-registered, previous definition replaced")
	} else {
		log.Info().Str("action", name).Str("version", stored.Version).Msg("Action registered")
	}

	return nil
}

// Unregister removes a definition by name
func (r *Registry) Unregister(name string) error {
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return fmt.Errorf("action not found: %s", name)
	}
	delete(r.entries, name)

	log.Info().Str("action", name).Msg("Action unregistered")
	return nil
}

// Get returns the definition for a name
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[strings.TrimSpace(name)]
	if !exists {
		return nil, false
	}
	return e.def, true
}

// List returns the registered action names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[strings.TrimSpace(name)]
	return e, exists
}
