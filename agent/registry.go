package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
	"github.com/gobwas/glob"
)

var (
	// ErrUnknownAgent is returned when an agent id is not registered.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrCycle is returned when the reportsTo graph is not acyclic.
	ErrCycle = errors.New("reports_to cycle")
)

// Registry is an immutable set of agent descriptors.
type Registry struct {
	order []string
	byID  map[string]Descriptor
	tools map[string][]glob.Glob
}

// NewRegistry validates descs and builds a registry. IDs must be unique and
// non-empty, every reports_to target must exist, the hierarchy must be
// acyclic, and every allowed-tool pattern must compile.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]Descriptor, len(descs)),
		tools: make(map[string][]glob.Glob, len(descs)),
	}
	for _, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("agent registry: descriptor with empty id (role %q)", d.Role)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("agent registry: duplicate id %q", d.ID)
		}
		d.AllowedTools = append([]string(nil), d.AllowedTools...)
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)

		for _, pattern := range d.AllowedTools {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("agent %s: allowed tool %q: %w", d.ID, pattern, err)
			}
			r.tools[d.ID] = append(r.tools[d.ID], g)
		}
	}
	if err := r.checkHierarchy(); err != nil {
		return nil, err
	}
	return r, nil
}

// checkHierarchy rejects dangling, self and cyclic reports_to edges.
func (r *Registry) checkHierarchy() error {
	edges := make([]toposort.Edge, 0, len(r.order))
	for _, id := range r.order {
		parent := r.byID[id].ReportsTo
		switch {
		case parent == "":
			edges = append(edges, toposort.Edge{nil, id})
		case parent == id:
			return fmt.Errorf("agent %s: %w: reports to itself", id, ErrCycle)
		default:
			if _, ok := r.byID[parent]; !ok {
				return fmt.Errorf("agent %s: reports_to %q: %w", id, parent, ErrUnknownAgent)
			}
			edges = append(edges, toposort.Edge{parent, id})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		if cycle := r.findCycle(); len(cycle) > 0 {
			return fmt.Errorf("agent registry: %w: %s", ErrCycle, strings.Join(cycle, " -> "))
		}
		return fmt.Errorf("agent registry: %w: %v", ErrCycle, err)
	}
	return nil
}

// findCycle walks reports_to links from each agent and returns the first
// loop found, closed with its starting id.
func (r *Registry) findCycle() []string {
	for _, start := range r.order {
		seen := map[string]int{}
		var path []string
		for id := start; id != ""; id = r.byID[id].ReportsTo {
			if at, ok := seen[id]; ok {
				return append(path[at:], id)
			}
			seen[id] = len(path)
			path = append(path, id)
		}
	}
	return nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// All returns every descriptor in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Active returns the descriptors marked active.
func (r *Registry) Active() []Descriptor {
	var out []Descriptor
	for _, id := range r.order {
		if d := r.byID[id]; d.Active {
			out = append(out, d)
		}
	}
	return out
}

// ListByRole returns agents whose role matches, ignoring case.
func (r *Registry) ListByRole(role string) []Descriptor {
	var out []Descriptor
	for _, id := range r.order {
		if d := r.byID[id]; strings.EqualFold(d.Role, role) {
			out = append(out, d)
		}
	}
	return out
}

// Resolve looks idOrRole up as an id first, then as a role.
func (r *Registry) Resolve(idOrRole string) (Descriptor, bool) {
	if d, ok := r.byID[idOrRole]; ok {
		return d, true
	}
	if ds := r.ListByRole(idOrRole); len(ds) > 0 {
		return ds[0], true
	}
	return Descriptor{}, false
}

// IsToolAllowed reports whether agentID may call tool. Unknown agents may
// call nothing.
func (r *Registry) IsToolAllowed(agentID, tool string) bool {
	for _, g := range r.tools[agentID] {
		if g.Match(tool) {
			return true
		}
	}
	return false
}

// Roles returns the distinct roles, sorted.
func (r *Registry) Roles() []string {
	set := map[string]struct{}{}
	for _, d := range r.byID {
		if d.Role != "" {
			set[d.Role] = struct{}{}
		}
	}
	roles := make([]string, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
