package agent

import "fmt"

// ChainOfCommand returns the managers above id, nearest first.
func (r *Registry) ChainOfCommand(id string) ([]Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("chain of command for %s: %w", id, ErrUnknownAgent)
	}
	var chain []Descriptor
	for parent := d.ReportsTo; parent != ""; parent = r.byID[parent].ReportsTo {
		chain = append(chain, r.byID[parent])
	}
	return chain, nil
}

// DirectReports returns the agents that report to id.
func (r *Registry) DirectReports(id string) []Descriptor {
	var out []Descriptor
	for _, other := range r.order {
		if d := r.byID[other]; d.ReportsTo == id {
			out = append(out, d)
		}
	}
	return out
}

// Lead returns the top of id's chain of command, or id itself when it
// reports to nobody.
func (r *Registry) Lead(id string) (Descriptor, error) {
	chain, err := r.ChainOfCommand(id)
	if err != nil {
		return Descriptor{}, err
	}
	if len(chain) == 0 {
		return r.byID[id], nil
	}
	return chain[len(chain)-1], nil
}
