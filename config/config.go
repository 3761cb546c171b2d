// Package config defines the boardroom application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/boardroom/agent"
	"github.com/GoCodeAlone/boardroom/heartbeat"
	"github.com/GoCodeAlone/boardroom/sentinel"
	"github.com/GoCodeAlone/boardroom/worker"
)

// Config is the top-level boardroom configuration.
type Config struct {
	Server    ServerConfig       `json:"server" yaml:"server" toml:"server"`
	Auth      AuthConfig         `json:"auth" yaml:"auth" toml:"auth"`
	Store     StoreConfig        `json:"store" yaml:"store" toml:"store"`
	Provider  ProviderConfig     `json:"provider" yaml:"provider" toml:"provider"`
	Worker    WorkerConfig       `json:"worker" yaml:"worker" toml:"worker"`
	Sentinel  sentinel.Config    `json:"sentinel" yaml:"sentinel" toml:"sentinel"`
	Heartbeat HeartbeatConfig    `json:"heartbeat" yaml:"heartbeat" toml:"heartbeat"`
	Board     BoardConfig        `json:"board" yaml:"board" toml:"board"`
	NATS      NATSConfig         `json:"nats" yaml:"nats" toml:"nats"`
	Agents    []agent.Descriptor `json:"agents" yaml:"agents" toml:"agents"`
	// AgentsFile loads the roster from a separate YAML file instead of Agents.
	AgentsFile string `json:"agents_file,omitempty" yaml:"agents_file" toml:"agents_file"`
	DataDir    string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat  string `json:"log_format" yaml:"log_format" toml:"log_format"` // "text" or "json"
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret" toml:"jwt_secret"`
	AdminUser string        `json:"admin_user" yaml:"admin_user" toml:"admin_user"`
	AdminPass string        `json:"admin_pass" yaml:"admin_pass" toml:"admin_pass"` // bcrypt hash
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl" toml:"token_ttl"`
}

// StoreConfig selects the task store.
type StoreConfig struct {
	Driver string      `json:"driver" yaml:"driver" toml:"driver"` // "sqlite", "memory" or "redis"
	Path   string      `json:"path,omitempty" yaml:"path" toml:"path"`
	Redis  RedisConfig `json:"redis" yaml:"redis" toml:"redis"`
}

// RedisConfig is used when Store.Driver is "redis".
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	Password string `json:"password,omitempty" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
}

// ProviderConfig selects the model backend.
type ProviderConfig struct {
	Name      string `json:"name" yaml:"name" toml:"name"` // "mock", "anthropic", "openai", "gemini"
	APIKey    string `json:"api_key,omitempty" yaml:"api_key" toml:"api_key"`
	Model     string `json:"model,omitempty" yaml:"model" toml:"model"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url" toml:"base_url"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens" toml:"max_tokens"`
	// Responses scripts the mock provider.
	Responses []string `json:"responses,omitempty" yaml:"responses" toml:"responses"`
}

// WorkerConfig controls the pollers started by "boardroomd work".
type WorkerConfig struct {
	Count        int                `json:"count" yaml:"count" toml:"count"`
	AgentID      string             `json:"agent_id,omitempty" yaml:"agent_id" toml:"agent_id"`
	Role         string             `json:"role,omitempty" yaml:"role" toml:"role"`
	FallbackRole string             `json:"fallback_role,omitempty" yaml:"fallback_role" toml:"fallback_role"`
	PollInterval time.Duration      `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	MaxTurns     int                `json:"max_turns" yaml:"max_turns" toml:"max_turns"`
	Workspace    string             `json:"workspace" yaml:"workspace" toml:"workspace"`
	Retry        worker.RetryConfig `json:"retry" yaml:"retry" toml:"retry"`
}

// HeartbeatConfig controls the orchestration tick in "boardroomd serve".
type HeartbeatConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	heartbeat.Config `yaml:",inline"`
}

// BoardConfig controls the board-room stream.
type BoardConfig struct {
	Node    string `json:"node,omitempty" yaml:"node" toml:"node"`
	History int    `json:"history" yaml:"history" toml:"history"`
}

// NATSConfig relays the board across hosts when URL is set.
type NATSConfig struct {
	URL     string `json:"url,omitempty" yaml:"url" toml:"url"`
	Subject string `json:"subject" yaml:"subject" toml:"subject"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
			TokenTTL:  24 * time.Hour,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Provider: ProviderConfig{
			Name: "mock",
		},
		Worker: WorkerConfig{
			Count:        1,
			PollInterval: 5 * time.Second,
			MaxTurns:     10,
			Workspace:    "./workspace",
			Retry:        worker.DefaultRetryConfig(),
		},
		Sentinel: sentinel.Config{
			Window:    60 * time.Second,
			Threshold: 5,
			MaxErrors: 3,
			History:   256,
		},
		Heartbeat: HeartbeatConfig{
			Enabled: true,
			Config: heartbeat.Config{
				Interval:   10 * time.Second,
				StaleAfter: 10 * time.Minute,
			},
		},
		Board: BoardConfig{
			History: 1000,
		},
		NATS: NATSConfig{
			Subject: "boardroom.messages",
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
		Agents: []agent.Descriptor{
			{
				ID:           "lead",
				Role:         "tech-lead",
				DisplayName:  "Tech Lead",
				SystemPrompt: "You are the tech lead. You plan work, delegate tasks to team members, and ensure forward progress.",
				AllowedTools: []string{"*"},
				Layer:        agent.LayerExecutive,
				Active:       true,
			},
		},
	}
}

// Load reads a YAML or TOML config file, chosen by extension, and returns
// the parsed configuration. ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if cfg.AgentsFile != "" {
		file := cfg.AgentsFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		reg, err := agent.LoadFile(file)
		if err != nil {
			return nil, err
		}
		cfg.Agents = reg.All()
	}
	return cfg, cfg.Validate()
}

// Registry builds the validated agent registry from the roster.
func (c *Config) Registry() (*agent.Registry, error) {
	return agent.NewRegistry(c.Agents)
}

// StorePath returns the SQLite path, defaulting into DataDir.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "boardroom.db")
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite", "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, memory, redis", c.Store.Driver))
	}
	switch c.Provider.Name {
	case "mock":
	case "anthropic", "openai", "gemini":
		if c.Provider.APIKey == "" && c.Provider.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider.api_key is required for %s", c.Provider.Name))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.name %q is not one of mock, anthropic, openai, gemini", c.Provider.Name))
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q is not text or json", c.LogFormat))
	}
	if c.Worker.Count < 0 {
		errs = append(errs, errors.New("worker.count must not be negative"))
	}
	if c.Worker.AgentID != "" && c.Worker.Role != "" {
		errs = append(errs, errors.New("worker.agent_id and worker.role are mutually exclusive"))
	}
	if len(c.Agents) == 0 {
		errs = append(errs, errors.New("at least one agent is required"))
	} else if _, err := c.Registry(); err != nil {
		errs = append(errs, fmt.Errorf("agents: %w", err))
	}
	return errors.Join(errs...)
}
