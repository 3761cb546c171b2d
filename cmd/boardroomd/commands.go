package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/boardroom/heartbeat"
	"github.com/GoCodeAlone/boardroom/internal/version"
	"github.com/GoCodeAlone/boardroom/server"
	"github.com/GoCodeAlone/boardroom/update"
)

const shutdownTimeout = 15 * time.Second

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ServeCmd runs the API server, heartbeat and worker pool in one process.
type ServeCmd struct {
	Addr      string `help:"Override server.addr"`
	NoWorkers bool   `help:"Do not start worker pollers in this process"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting boardroomd", "version", version.String(), "store", cfg.Store.Driver, "provider", cfg.Provider.Name)

	ctx, stop := signalContext()
	defer stop()

	st, err := openStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	srv := server.New(*cfg, version.Version, logger)
	srv.SetRegistry(st.agents)
	srv.SetTaskStore(st.store)
	srv.SetBoard(st.board)

	eg, ctx := errgroup.WithContext(ctx)

	if !c.NoWorkers && cfg.Worker.Count > 0 {
		pool, err := st.workerPool(ctx)
		if err != nil {
			return err
		}
		srv.SetWorkers(pool)
		eg.Go(func() error { return pool.Run(ctx) })
	}

	if cfg.Heartbeat.Enabled {
		hb := heartbeat.New(cfg.Heartbeat.Config, heartbeat.Deps{
			Store:  st.store,
			Board:  st.board,
			Agents: st.agents,
			Logger: logger,
		})
		srv.SetHeartbeat(hb)
		eg.Go(func() error { return hb.Run(ctx) })
	}

	eg.Go(srv.Start)
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(sctx)
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// WorkCmd runs only the worker pollers, for scaling execution out across
// hosts that share a store.
type WorkCmd struct {
	Count int    `short:"n" help:"Override worker.count"`
	Agent string `help:"Pin pollers to one agent (overrides worker.agent_id)"`
	Role  string `help:"Pin pollers to one role (overrides worker.role)"`
}

func (c *WorkCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Count > 0 {
		cfg.Worker.Count = c.Count
	}
	if c.Agent != "" || c.Role != "" {
		cfg.Worker.AgentID, cfg.Worker.Role = c.Agent, c.Role
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signalContext()
	defer stop()

	st, err := openStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	pool, err := st.workerPool(ctx)
	if err != nil {
		return err
	}
	logger.Info("workers started", "count", pool.Size(), "agent", cfg.Worker.AgentID, "role", cfg.Worker.Role)
	return pool.Run(ctx)
}

// SweepCmd requeues tasks that have been in progress too long.
type SweepCmd struct {
	StaleAfter time.Duration `default:"10m" help:"Requeue tasks claimed longer ago than this"`
}

func (c *SweepCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStack(ctx, cfg, newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	ids, err := st.store.SweepStuck(ctx, c.StaleAfter)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.Stdout, "requeued %d task(s)\n", len(ids))
	for _, id := range ids {
		fmt.Fprintln(g.Stdout, "  "+id)
	}
	return nil
}

// ResetCmd returns tasks to the queue.
type ResetCmd struct {
	IDs []string `arg:"" name:"id" help:"Task IDs to reset"`
}

func (c *ResetCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStack(ctx, cfg, newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	for _, id := range c.IDs {
		if err := st.store.Reset(ctx, id); err != nil {
			return fmt.Errorf("reset %s: %w", id, err)
		}
		fmt.Fprintf(g.Stdout, "%s queued\n", id)
	}
	return nil
}

// HashPasswordCmd prints a bcrypt hash for the admin password.
type HashPasswordCmd struct {
	Password string `arg:"" help:"Plain-text password"`
}

func (c *HashPasswordCmd) Run(g *Globals) error {
	hash, err := server.HashPassword(c.Password)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.Stdout, hash)
	return nil
}

// CheckConfigCmd validates the config and prints the roster.
type CheckConfigCmd struct{}

func (c *CheckConfigCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	fmt.Fprintf(g.Stdout, "config ok: store=%s provider=%s workers=%d\n\n", cfg.Store.Driver, cfg.Provider.Name, cfg.Worker.Count)

	tw := tabwriter.NewWriter(g.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tREPORTS TO\tACTIVE\tTOOLS")
	for _, d := range reg.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", d.ID, d.Role, d.ReportsTo, d.Active, strings.Join(d.AllowedTools, ","))
	}
	return tw.Flush()
}

// UpdateCmd replaces the running binary with the latest release.
type UpdateCmd struct {
	Check bool `help:"Only report whether an update is available"`
}

func (c *UpdateCmd) Run(g *Globals) error {
	ctx, stop := signalContext()
	defer stop()

	u := update.New(version.Version, "boardroomd")
	rel, err := u.Check(ctx)
	if err != nil {
		return err
	}
	if rel == nil {
		fmt.Fprintf(g.Stdout, "boardroomd %s is up to date\n", version.Version)
		return nil
	}
	fmt.Fprintf(g.Stdout, "update available: %s -> %s\n", version.Version, rel.Version)
	if c.Check {
		return nil
	}
	if err := u.Apply(ctx, rel, ""); err != nil {
		return err
	}
	fmt.Fprintf(g.Stdout, "installed %s\n", rel.Version)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.Stdout, "boardroomd %s\n", version.String())
	return nil
}
