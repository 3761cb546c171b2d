package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GoCodeAlone/boardroom/agent"
	"github.com/GoCodeAlone/boardroom/comms"
	"github.com/GoCodeAlone/boardroom/config"
	"github.com/GoCodeAlone/boardroom/plugin"
	"github.com/GoCodeAlone/boardroom/plugin/tools"
	"github.com/GoCodeAlone/boardroom/provider"
	"github.com/GoCodeAlone/boardroom/provider/mock"
	"github.com/GoCodeAlone/boardroom/sentinel"
	"github.com/GoCodeAlone/boardroom/task"
	"github.com/GoCodeAlone/boardroom/worker"
)

// stack holds the collaborators shared by the commands.
type stack struct {
	cfg    *config.Config
	logger *slog.Logger
	store  task.Store
	agents *agent.Registry
	board  *comms.MemoryBoard

	closers []io.Closer
}

// openStack builds the store, roster and board from cfg. The NATS relay is
// attached when nats.url is set.
func openStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger}

	agents, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	s.agents = agents

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.store = store
	if c, ok := store.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}

	s.board = comms.NewMemoryBoard(cfg.Board.Node, cfg.Board.History)
	if cfg.NATS.URL != "" {
		relay, err := comms.NewNATSRelay(cfg.NATS.URL, cfg.NATS.Subject, s.board, logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, relay)
		logger.Info("board relayed over nats", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	}
	return s, nil
}

// openStore opens the configured task store backend.
func openStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return task.NewMemStore(), nil
	case "redis":
		rs, err := task.NewRedisStore(ctx, task.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		return rs, nil
	case "sqlite", "":
		path := cfg.StorePath()
		if cfg.Store.Path == "" {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		ss, err := task.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return ss, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildProvider constructs the configured model backend.
func buildProvider(ctx context.Context, cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Name {
	case "mock", "":
		return mock.New(cfg.Responses...), nil
	case "anthropic":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}), nil
	case "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}), nil
	case "gemini":
		gp, err := provider.NewGeminiProvider(ctx, provider.GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return gp, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// toolRegistry registers the built-in tools against this stack.
func (s *stack) toolRegistry() (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	err := tools.Register(reg, tools.Deps{
		Workspace: s.cfg.Worker.Workspace,
		Store:     s.store,
		Board:     s.board,
		Known: func(id string) bool {
			_, ok := s.agents.Get(id)
			return ok
		},
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// workerPool builds the configured number of pollers sharing one provider
// and one sentinel.
func (s *stack) workerPool(ctx context.Context) (*worker.Pool, error) {
	p, err := buildProvider(ctx, s.cfg.Provider)
	if err != nil {
		return nil, err
	}
	if c, ok := p.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	reg, err := s.toolRegistry()
	if err != nil {
		return nil, err
	}
	if ws := s.cfg.Worker.Workspace; ws != "" {
		if err := os.MkdirAll(ws, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}

	wc := s.cfg.Worker
	return worker.NewPool(wc.Count, worker.Config{
		AgentID:      wc.AgentID,
		Role:         wc.Role,
		FallbackRole: wc.FallbackRole,
		PollInterval: wc.PollInterval,
		MaxTurns:     wc.MaxTurns,
		Retry:        wc.Retry,
	}, worker.Deps{
		Store:    s.store,
		Agents:   s.agents,
		Tools:    reg,
		Provider: p,
		Sentinel: sentinel.New(s.cfg.Sentinel),
		Board:    s.board,
		Logger:   s.logger,
	})
}

// Close releases every backend in reverse order of opening.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
