// Package heartbeat runs the low-frequency orchestration tick: it watches
// task counts, optionally requeues stuck work, and turns board-room
// @mentions into tasks.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/boardroom/agent"
	"github.com/GoCodeAlone/boardroom/comms"
	"github.com/GoCodeAlone/boardroom/task"
)

// Author used for acknowledgements the heartbeat posts.
const Author = "heartbeat"

// Config controls the tick.
type Config struct {
	Interval time.Duration `json:"interval" yaml:"interval" toml:"interval"`
	// StaleAfter is how long a task may stay in_progress before the sweep
	// requeues it.
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after" toml:"stale_after"`
	// AutoSweep runs the stuck-task sweep on every tick. Off by default;
	// the sweep is otherwise an administrative action.
	AutoSweep bool `json:"auto_sweep" yaml:"auto_sweep" toml:"auto_sweep"`
	// BatchSize bounds how many board messages are read per page.
	BatchSize int `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Deps are the heartbeat's collaborators.
type Deps struct {
	Store task.Store
	Board comms.Board
	// Agents supplies the active set for Run. Tick takes it as a parameter.
	Agents *agent.Registry
	Logger *slog.Logger
}

// Report describes one tick.
type Report struct {
	Tick    uint64              `json:"tick"`
	At      time.Time           `json:"at"`
	Counts  map[task.Status]int `json:"counts"`
	Swept   []string            `json:"swept,omitempty"`
	Scanned int                 `json:"scanned"`
	Created []string            `json:"created,omitempty"`
	Cursor  uint64              `json:"cursor"`
}

// Status is a snapshot for introspection.
type Status struct {
	Running  bool          `json:"running"`
	Ticks    uint64        `json:"ticks"`
	Interval time.Duration `json:"interval"`
	Cursor   uint64        `json:"cursor"`
	Last     *Report       `json:"last,omitempty"`
}

// Heartbeat owns the board cursor. Tick is safe to call concurrently with
// Status but ticks themselves are serialized.
type Heartbeat struct {
	cfg    Config
	store  task.Store
	board  comms.Board
	agents *agent.Registry
	logger *slog.Logger

	tickMu sync.Mutex

	mu      sync.Mutex
	cursor  uint64
	ticks   uint64
	last    *Report
	running bool
}

// New creates a Heartbeat whose cursor starts at the beginning of the
// board's retained history.
func New(cfg Config, deps Deps) *Heartbeat {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Heartbeat{
		cfg:    cfg.withDefaults(),
		store:  deps.Store,
		board:  deps.Board,
		agents: deps.Agents,
		logger: deps.Logger.With("component", "heartbeat"),
	}
}

// Tick runs one orchestration pass. active is the set of agents mentions
// may resolve to.
func (h *Heartbeat) Tick(ctx context.Context, active []agent.Descriptor) (Report, error) {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()

	h.mu.Lock()
	h.ticks++
	rep := Report{Tick: h.ticks, At: time.Now().UTC()}
	cursor := h.cursor
	h.mu.Unlock()

	counts, err := h.store.CountByStatus(ctx)
	if err != nil {
		return rep, fmt.Errorf("count tasks: %w", err)
	}
	rep.Counts = counts

	if h.cfg.AutoSweep && counts[task.StatusInProgress] > 0 {
		swept, err := h.store.SweepStuck(ctx, h.cfg.StaleAfter)
		if err != nil {
			return rep, fmt.Errorf("sweep stuck tasks: %w", err)
		}
		if len(swept) > 0 {
			h.logger.Warn("requeued stuck tasks", "count", len(swept), "stale_after", h.cfg.StaleAfter)
		}
		rep.Swept = swept
	}

	var scanErr error
	if h.board != nil {
		cursor, scanErr = h.scan(ctx, cursor, active, &rep)
	}
	rep.Cursor = cursor

	h.mu.Lock()
	h.cursor = cursor
	h.last = &rep
	h.mu.Unlock()

	h.logger.Debug("tick", "tick", rep.Tick, "counts", rep.Counts, "scanned", rep.Scanned, "created", len(rep.Created))
	return rep, scanErr
}

// scan processes board messages after cursor and returns the new cursor.
// A message whose task could not be created is left for the next tick.
func (h *Heartbeat) scan(ctx context.Context, cursor uint64, active []agent.Descriptor, rep *Report) (uint64, error) {
	for {
		batch := h.board.Since(cursor, h.cfg.BatchSize)
		for _, msg := range batch {
			id, err := h.handle(ctx, msg, active)
			if err != nil {
				return cursor, err
			}
			rep.Scanned++
			if id != "" {
				rep.Created = append(rep.Created, id)
			}
			cursor = msg.Seq
		}
		if len(batch) < h.cfg.BatchSize {
			return cursor, nil
		}
	}
}

// handle creates a task when msg mentions an active agent. It returns the
// new task ID, or "" when the message needs no action.
func (h *Heartbeat) handle(ctx context.Context, msg *comms.Message, active []agent.Descriptor) (string, error) {
	if msg.Type != comms.TypeChat || msg.Kind == comms.KindSystem {
		return "", nil
	}
	target, ok := comms.ResolveMention(msg.Content, active)
	if !ok || target.ID == msg.From {
		return "", nil
	}

	author := msg.From
	if author == "" {
		author = string(msg.Kind)
	}
	id, err := h.store.Create(ctx, &task.Task{
		Title:       "Board room request from " + author,
		Description: msg.Content,
		Priority:    task.PriorityMedium,
		AssignedTo:  target.ID,
		CreatedBy:   author,
	})
	if err != nil {
		return "", fmt.Errorf("create task for mention %s: %w", msg.ID, err)
	}
	h.logger.Info("mention turned into task", "message", msg.ID, "author", author, "agent", target.ID, "task", id)

	_, err = h.board.Post(ctx, &comms.Message{
		Type:     comms.TypeAck,
		Kind:     comms.KindSystem,
		From:     Author,
		Content:  fmt.Sprintf("Assigned to %s as task %s.", target.Name(), id),
		TaskID:   id,
		Metadata: map[string]string{"reply_to": msg.ID, "agent": target.ID},
	})
	if err != nil {
		h.logger.Warn("post acknowledgement failed", "task", id, "error", err)
	}
	return id, nil
}

// Run ticks immediately and then every Interval until ctx is cancelled.
// The active set is read from Deps.Agents on every tick.
func (h *Heartbeat) Run(ctx context.Context) error {
	h.setRunning(true)
	defer h.setRunning(false)
	h.logger.Info("heartbeat started", "interval", h.cfg.Interval, "auto_sweep", h.cfg.AutoSweep)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := h.Tick(ctx, h.active()); err != nil && ctx.Err() == nil {
			h.logger.Error("heartbeat tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (h *Heartbeat) active() []agent.Descriptor {
	if h.agents == nil {
		return nil
	}
	return h.agents.Active()
}

func (h *Heartbeat) setRunning(v bool) {
	h.mu.Lock()
	h.running = v
	h.mu.Unlock()
}

// Status returns the tick count, cursor and last report.
func (h *Heartbeat) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{
		Running:  h.running,
		Ticks:    h.ticks,
		Interval: h.cfg.Interval,
		Cursor:   h.cursor,
	}
	if h.last != nil {
		last := *h.last
		st.Last = &last
	}
	return st
}
