// Package worker runs the poller that claims tasks and drives an agent
// through its think, act, observe loop until it answers, fails or runs out
// of turns.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/boardroom/agent"
	"github.com/GoCodeAlone/boardroom/comms"
	"github.com/GoCodeAlone/boardroom/plugin"
	"github.com/GoCodeAlone/boardroom/plugin/tools"
	"github.com/GoCodeAlone/boardroom/provider"
	"github.com/GoCodeAlone/boardroom/sentinel"
	"github.com/GoCodeAlone/boardroom/task"
	"github.com/GoCodeAlone/boardroom/toolcall"
)

var tracer = otel.Tracer("github.com/GoCodeAlone/boardroom/worker")

// Modes a poller can run in.
const (
	ModeAgent     = "agent"
	ModeRole      = "role"
	ModeUniversal = "universal"
)

// Config controls one poller.
type Config struct {
	WorkerID string `json:"worker_id" yaml:"worker_id" toml:"worker_id"`
	// AgentID pins the poller to one agent. Role pins it to every agent
	// with that role. Both empty runs in universal mode.
	AgentID string `json:"agent_id" yaml:"agent_id" toml:"agent_id"`
	Role    string `json:"role" yaml:"role" toml:"role"`
	// FallbackRole executes universal-mode tasks whose assignee is unknown.
	FallbackRole string        `json:"fallback_role" yaml:"fallback_role" toml:"fallback_role"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	MaxTurns     int           `json:"max_turns" yaml:"max_turns" toml:"max_turns"`
	Retry        RetryConfig   `json:"retry" yaml:"retry" toml:"retry"`
	// Sentinel configures the poller's own sentinel when Deps.Sentinel is nil.
	Sentinel sentinel.Config `json:"sentinel" yaml:"sentinel" toml:"sentinel"`
}

// Deps are the poller's collaborators.
type Deps struct {
	Store    task.Store
	Agents   *agent.Registry
	Tools    *plugin.Registry
	Provider provider.Provider
	Sentinel *sentinel.Sentinel // optional
	Board    comms.Board        // optional; receives task_update posts
	Logger   *slog.Logger
}

// Status is a snapshot of a poller for introspection.
type Status struct {
	WorkerID    string    `json:"worker_id"`
	Mode        string    `json:"mode"`
	Agents      []string  `json:"agents,omitempty"`
	CurrentTask string    `json:"current_task,omitempty"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	LastPoll    time.Time `json:"last_poll"`
}

// Poller claims and executes tasks for a set of agent identities.
type Poller struct {
	cfg        Config
	mode       string
	identities []string
	store      task.Store
	agents     *agent.Registry
	toolsets   map[string]*plugin.Toolset
	provider   provider.Provider
	sentinel   *sentinel.Sentinel
	board      comms.Board
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger

	mu        sync.Mutex
	current   string
	processed int
	failed    int
	lastPoll  time.Time
}

// New validates cfg against the registry and binds every agent's tools.
func New(cfg Config, deps Deps) (*Poller, error) {
	if deps.Store == nil || deps.Agents == nil || deps.Provider == nil {
		return nil, fmt.Errorf("worker: store, agents and provider are required")
	}
	if deps.Tools == nil {
		deps.Tools = plugin.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	cfg.Retry = cfg.Retry.withDefaults()

	p := &Poller{
		cfg:      cfg,
		store:    deps.Store,
		agents:   deps.Agents,
		toolsets: make(map[string]*plugin.Toolset),
		provider: deps.Provider,
		sentinel: deps.Sentinel,
		board:    deps.Board,
		breaker:  newBreaker(deps.Provider.Name(), deps.Logger),
	}
	if p.sentinel == nil {
		p.sentinel = sentinel.New(cfg.Sentinel)
	}

	switch {
	case cfg.AgentID != "":
		if _, ok := deps.Agents.Get(cfg.AgentID); !ok {
			return nil, fmt.Errorf("worker: %w: %s", agent.ErrUnknownAgent, cfg.AgentID)
		}
		p.mode = ModeAgent
		p.identities = []string{cfg.AgentID}
	case cfg.Role != "":
		ds := deps.Agents.ListByRole(cfg.Role)
		if len(ds) == 0 {
			return nil, fmt.Errorf("worker: no agent has role %q", cfg.Role)
		}
		p.mode = ModeRole
		for _, d := range ds {
			p.identities = append(p.identities, d.ID)
		}
	default:
		p.mode = ModeUniversal
		if cfg.FallbackRole != "" && len(deps.Agents.ListByRole(cfg.FallbackRole)) == 0 {
			return nil, fmt.Errorf("worker: no agent has fallback role %q", cfg.FallbackRole)
		}
	}

	for _, d := range deps.Agents.All() {
		ts, err := deps.Tools.Bind(d)
		if err != nil {
			return nil, fmt.Errorf("worker: %w", err)
		}
		p.toolsets[d.ID] = ts
	}

	p.logger = deps.Logger.With("worker", cfg.WorkerID, "mode", p.mode)
	return p, nil
}

// ID returns the worker identity recorded on claimed tasks.
func (p *Poller) ID() string { return p.cfg.WorkerID }

// Status returns a snapshot of the poller.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		WorkerID:    p.cfg.WorkerID,
		Mode:        p.mode,
		Agents:      append([]string(nil), p.identities...),
		CurrentTask: p.current,
		Processed:   p.processed,
		Failed:      p.failed,
		LastPoll:    p.lastPoll,
	}
}

// Run polls until ctx is cancelled. Idle polls sleep for PollInterval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("worker started", "agents", p.identities, "poll_interval", p.cfg.PollInterval)
	defer p.logger.Info("worker stopped")
	for {
		worked, err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			p.logger.Error("worker iteration failed", "error", err)
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce claims at most one task and executes it. It reports whether a
// task was claimed.
func (p *Poller) RunOnce(ctx context.Context) (bool, error) {
	p.mu.Lock()
	p.lastPoll = time.Now().UTC()
	p.mu.Unlock()

	t, err := task.Next(ctx, p.store, task.Filter{AssignedTo: p.identities, Limit: 20}, p.cfg.WorkerID)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	if t == nil {
		return false, nil
	}
	return true, p.execute(ctx, t)
}

// resolve picks the agent that executes t.
func (p *Poller) resolve(t *task.Task) (agent.Descriptor, bool) {
	if d, ok := p.agents.Get(t.AssignedTo); ok {
		return d, true
	}
	if p.mode == ModeUniversal && p.cfg.FallbackRole != "" {
		if ds := p.agents.ListByRole(p.cfg.FallbackRole); len(ds) > 0 {
			p.logger.Warn("unknown assignee, using fallback role", "task", t.ID, "assignee", t.AssignedTo, "agent", ds[0].ID)
			return ds[0], true
		}
	}
	return agent.Descriptor{}, false
}

type outcome struct {
	status task.Status
	result string
}

func (p *Poller) execute(ctx context.Context, t *task.Task) error {
	ctx, span := tracer.Start(ctx, "worker.task", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.assigned_to", t.AssignedTo),
		attribute.String("worker.id", p.cfg.WorkerID),
	))
	defer span.End()

	p.setCurrent(t.ID)
	defer p.setCurrent("")

	d, ok := p.resolve(t)
	if !ok {
		return p.complete(ctx, span, t, "", outcome{task.StatusFailed, fmt.Sprintf("No agent available for assignee %q", t.AssignedTo)})
	}
	span.SetAttributes(attribute.String("agent.id", d.ID))
	defer p.sentinel.Forget(t.ID, d.ID)

	log := p.logger.With("task", t.ID, "agent", d.ID)
	log.Info("task claimed", "title", t.Title)

	ts := p.toolsets[d.ID]
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: systemPrompt(d, ts.Defs())},
		{Role: provider.RoleUser, Content: taskMessage(t)},
	}

	for turn := 1; turn <= p.cfg.MaxTurns; turn++ {
		out, err := p.turn(ctx, log, t, d, ts, turn, &messages)
		if err != nil {
			// The task stays in_progress for the stuck-task sweep.
			span.RecordError(err)
			log.Error("model call failed, leaving task in progress", "turn", turn, "error", err)
			return err
		}
		if out != nil {
			span.SetAttributes(attribute.Int("task.turns", turn))
			return p.complete(ctx, span, t, d.ID, *out)
		}
	}

	span.SetAttributes(attribute.Int("task.turns", p.cfg.MaxTurns))
	return p.complete(ctx, span, t, d.ID, outcome{
		task.StatusFailed,
		fmt.Sprintf("Timeout: Max turns reached (%d turns without a final answer).", p.cfg.MaxTurns),
	})
}

// turn runs one model call and acts on it. A nil outcome means the loop
// continues.
func (p *Poller) turn(ctx context.Context, log *slog.Logger, t *task.Task, d agent.Descriptor, ts *plugin.Toolset, n int, messages *[]provider.Message) (*outcome, error) {
	ctx, span := tracer.Start(ctx, "worker.turn", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("agent.id", d.ID),
		attribute.Int("turn", n),
	))
	defer span.End()

	resp, err := chatWithRetry(ctx, p.provider, *messages, p.breaker, p.cfg.Retry)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("model call (turn %d): %w", n, err)
	}
	*messages = append(*messages, provider.Message{Role: provider.RoleAssistant, Content: resp.Content})

	inv, err := toolcall.Parse(resp.Content)
	switch {
	case errors.Is(err, toolcall.ErrNoCall):
		span.SetAttributes(attribute.String("turn.outcome", "answer"))
		return &outcome{task.StatusDone, resp.Content}, nil
	case err != nil:
		span.SetAttributes(attribute.String("turn.outcome", "malformed"))
		log.Warn("malformed tool call", "turn", n, "error", err)
		*messages = append(*messages, provider.Message{Role: provider.RoleUser, Content: toolcall.FormatParseError(err)})
		return nil, nil
	}
	span.SetAttributes(attribute.String("tool.name", inv.Name))

	if decision := p.sentinel.Check(t.ID, d.ID, inv.Name, inv.Payload); !decision.Allowed {
		span.SetAttributes(attribute.String("turn.outcome", "terminated"))
		log.Warn("sentinel denied tool call", "tool", inv.Name, "reason", decision.Reason)
		return &outcome{task.StatusFailed, decision.Result()}, nil
	}
	if !p.agents.IsToolAllowed(d.ID, inv.Name) {
		span.SetAttributes(attribute.String("turn.outcome", "disallowed"))
		return &outcome{task.StatusFailed, fmt.Sprintf("Tool '%s' is not permitted for agent %s", inv.Name, d.ID)}, nil
	}
	tool, ok := ts.Get(inv.Name)
	if !ok {
		span.SetAttributes(attribute.String("turn.outcome", "unregistered"))
		return &outcome{task.StatusFailed, fmt.Sprintf("Tool '%s' is not available to agent %s", inv.Name, d.ID)}, nil
	}

	var (
		result  any
		execErr error
	)
	if args := inv.Args(); args == nil {
		execErr = fmt.Errorf("payload must be a JSON object")
	} else {
		result, execErr = tool.Execute(tools.WithCall(ctx, d.ID, t.ID), args)
	}

	observation := toolcall.FormatResult(inv.Name, result)
	if execErr != nil {
		span.RecordError(execErr)
		log.Info("tool returned error", "tool", inv.Name, "error", execErr)
		if decision := p.sentinel.RecordResult(t.ID, d.ID, inv.Name, inv.Payload, execErr); !decision.Allowed {
			span.SetAttributes(attribute.String("turn.outcome", "terminated"))
			log.Warn("sentinel ended error loop", "tool", inv.Name, "reason", decision.Reason)
			return &outcome{task.StatusFailed, decision.Result()}, nil
		}
		observation = toolcall.FormatError(inv.Name, execErr)
	}
	span.SetAttributes(attribute.String("turn.outcome", "tool"))
	*messages = append(*messages, provider.Message{Role: provider.RoleUser, Content: observation})
	return nil, nil
}

// complete records the terminal outcome and announces it on the board.
func (p *Poller) complete(ctx context.Context, span trace.Span, t *task.Task, agentID string, out outcome) error {
	// The completion write must land even if shutdown began mid-task.
	ctx = context.WithoutCancel(ctx)
	span.SetAttributes(attribute.String("task.status", string(out.status)))

	ok, err := p.store.Complete(ctx, t.ID, p.cfg.WorkerID, out.status, out.result)
	if err != nil {
		span.RecordError(err)
		p.logger.Error("complete task failed", "task", t.ID, "error", err)
		return fmt.Errorf("complete task %s: %w", t.ID, err)
	}
	if !ok {
		p.logger.Warn("task was no longer claimed by this worker at completion", "task", t.ID)
		return nil
	}

	p.mu.Lock()
	p.processed++
	if out.status == task.StatusFailed {
		p.failed++
	}
	p.mu.Unlock()

	p.logger.Info("task completed", "task", t.ID, "agent", agentID, "status", out.status)

	if p.board != nil {
		_, err := p.board.Post(ctx, &comms.Message{
			Type:     comms.TypeTaskUpdate,
			Kind:     comms.KindSystem,
			From:     p.cfg.WorkerID,
			Content:  fmt.Sprintf("Task %q %s: %s", t.Title, out.status, summarize(out.result, 200)),
			TaskID:   t.ID,
			Metadata: map[string]string{"status": string(out.status), "agent": agentID},
		})
		if err != nil {
			p.logger.Warn("post task update failed", "task", t.ID, "error", err)
		}
	}
	return nil
}

func (p *Poller) setCurrent(id string) {
	p.mu.Lock()
	p.current = id
	p.mu.Unlock()
}

func summarize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
