// Package tools defines the tool catalog and the budgeted, policy-gated
// invoker agents use to call tools during their turns.
package tools

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Definition describes one invocable tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	// Required lists argument keys that must be present on every call.
	Required    []string               `json:"required,omitempty"`
	CostPerCall float64                `json:"cost_per_call"`
	Timeout     time.Duration          `json:"timeout"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Registry stores tool definitions keyed by tool name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a tool definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister adds a tool definition or panics.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition for the tool name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuiltinRegistry returns a registry seeded with the tools the engine ships.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(Definition{
		Name:        "search",
		Description: "Web search returning ranked text snippets",
		Required:    []string{"query"},
		CostPerCall: 0.01,
		Timeout:     10 * time.Second,
	})
	r.MustRegister(Definition{
		Name:        "alphavantage",
		Description: "Market data lookup by ticker symbol",
		Required:    []string{"symbol"},
		CostPerCall: 0.05,
		Timeout:     15 * time.Second,
	})
	r.MustRegister(Definition{
		Name:        "quant_sandbox",
		Description: "Sandboxed numeric script evaluation",
		Required:    []string{"script"},
		CostPerCall: 0.5,
		Timeout:     30 * time.Second,
	})
	return r
}
