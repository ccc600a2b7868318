package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/model"
)

// Registry holds the fixed set of tools the agent may dispatch. Tools are
// registered during setup and the registry is frozen before serving turns;
// after Freeze the set never changes, so lookups need no locking in the hot
// path and a tool observed in the catalog is guaranteed resolvable for the
// lifetime of the process.
type Registry struct {
	mu     sync.Mutex
	tools  map[string]Tool
	order  []string
	frozen bool
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. It fails after Freeze and on duplicate names.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry: cannot register %q after freeze", t.Name())
	}
	if t.Name() == "" {
		return fmt.Errorf("registry: tool with empty name")
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("registry: duplicate tool %q", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// MustRegister is Register that panics on error, for static setup code.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Freeze seals the registry. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	sort.Strings(r.order)
}

// Frozen reports whether the registry has been sealed.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Resolve returns the named tool or core.ErrToolNotFound.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrToolNotFound, name)
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}

// Catalog renders the registry as tool definitions for the model request.
// Order is stable across calls so prompts stay cache-friendly.
func (r *Registry) Catalog() []model.ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
