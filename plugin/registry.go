package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/GoCodeAlone/boardroom/agent"
	"github.com/GoCodeAlone/boardroom/provider"
)

// Registry holds every tool known to the process.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// MustRegister is Register for static setup; it panics on duplicates.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind resolves an agent's allowed-tool patterns against the registry.
// A literal name that is not registered is an error; glob patterns may
// match nothing.
func (r *Registry) Bind(d agent.Descriptor) (*Toolset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts := &Toolset{agentID: d.ID, tools: make(map[string]Tool)}
	for _, pattern := range d.AllowedTools {
		if !isPattern(pattern) {
			t, ok := r.tools[pattern]
			if !ok {
				return nil, fmt.Errorf("agent %s: allowed tool %q is not registered", d.ID, pattern)
			}
			ts.tools[pattern] = t
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("agent %s: allowed tool %q: %w", d.ID, pattern, err)
		}
		for name, t := range r.tools {
			if g.Match(name) {
				ts.tools[name] = t
			}
		}
	}
	return ts, nil
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// Toolset is the tools bound to one agent.
type Toolset struct {
	agentID string
	tools   map[string]Tool
}

// Get returns a bound tool by name.
func (ts *Toolset) Get(name string) (Tool, bool) {
	t, ok := ts.tools[name]
	return t, ok
}

// Names returns the bound tool names, sorted.
func (ts *Toolset) Names() []string {
	names := make([]string, 0, len(ts.tools))
	for name := range ts.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defs returns the bound tool definitions, sorted by name.
func (ts *Toolset) Defs() []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(ts.tools))
	for _, name := range ts.Names() {
		defs = append(defs, ts.tools[name].Definition())
	}
	return defs
}
