package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool runs several pollers that share nothing but their collaborators.
type Pool struct {
	pollers []*Poller
}

// NewPool creates n pollers from one configuration. Worker IDs get a
// numeric suffix when cfg.WorkerID is set.
func NewPool(n int, cfg Config, deps Deps) (*Pool, error) {
	if n <= 0 {
		n = 1
	}
	p := &Pool{}
	for i := 0; i < n; i++ {
		c := cfg
		if cfg.WorkerID != "" && n > 1 {
			c.WorkerID = fmt.Sprintf("%s-%d", cfg.WorkerID, i+1)
		}
		w, err := New(c, deps)
		if err != nil {
			return nil, err
		}
		p.pollers = append(p.pollers, w)
	}
	return p, nil
}

// Run starts every poller and blocks until ctx is cancelled or one fails.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(len(p.pollers))
	for _, w := range p.pollers {
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// Statuses returns a snapshot of every poller.
func (p *Pool) Statuses() []Status {
	out := make([]Status, 0, len(p.pollers))
	for _, w := range p.pollers {
		out = append(out, w.Status())
	}
	return out
}

// Size returns the number of pollers.
func (p *Pool) Size() int { return len(p.pollers) }
