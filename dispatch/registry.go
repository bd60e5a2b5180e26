// Package dispatch provides the tool capability surface for the agent loop:
// an in-process registry for host-defined tools and an MCP dispatcher that
// routes invocations to external tool servers. Both expose the same narrow
// contract, a merged catalog plus Invoke by name, which is the only way
// tools are reachable from generated plans.
package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// Func is the function signature for an in-process tool.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Definition describes a tool for catalogs and prompts.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// RegisteredTool pairs a definition with its implementation.
type RegisteredTool struct {
	Definition Definition
	Call       Func
}

// Registry manages in-process tool registration and dispatch.
type Registry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*RegisteredTool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool, or nil if not found.
func (r *Registry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Catalog returns all tool definitions.
func (r *Registry) Catalog() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	return defs
}

// Names returns the names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke runs a tool by name.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("tool %q is not registered", name)
	}
	return tool.Call(ctx, args)
}
