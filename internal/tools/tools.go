// Package tools defines the tool capability contract for the Fokal action
// engine: the Tool interface, the boot-time registry, the uniform execution
// result shape, and the Executor through which every tool call passes.
//
// Each tool declares the authority it needs so the orchestrator can run the
// authorization guard before execution. No authorization logic lives in this
// package; the registry is a pure capability catalog.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fokalhq/fokal/internal/policy"
)

// Tool is the interface all Fokal business tools implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "create_lead").
	Name() string

	// Description returns a human-readable description for the planner.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's
	// parameters, exposed to the planning service for function calling.
	InputSchema() map[string]any

	// Authority returns the policy authority this tool requires.
	Authority() string

	// RiskLevel classifies the tool for proposal rendering and the
	// auto-execution gate.
	RiskLevel() policy.RiskLevel

	// Validate checks that args are well-formed before execution.
	Validate(args map[string]any) error

	// Execute runs the tool. When ectx.Simulate is set the tool must not
	// persist any side effect. Returning nil data or an empty collection is
	// converted to a failure by the Executor.
	Execute(ctx context.Context, ectx *policy.ExecutionContext, args map[string]any) (any, error)
}

// Definition is the planner-facing description of a registered tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry holds available tools keyed by name.
// Registration happens at boot; the registry stays internally synchronized so
// concurrent readers need no further coordination.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Fails if the name is already taken.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("duplicate tool registration: %s", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// MustRegister is Register for boot paths where a duplicate is a programming
// error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the tool by name, or nil if not registered.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools, sorted by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Definitions converts the registry contents into planner tool definitions.
func (r *Registry) Definitions() []Definition {
	all := r.All()
	defs := make([]Definition, len(all))
	for i, t := range all {
		defs[i] = Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		}
	}
	return defs
}
