package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("BOARDROOM_TEST_KEY", "sk-test")
	path := writeFile(t, t.TempDir(), "boardroom.yaml", `
server:
  addr: ":8080"
store:
  driver: memory
provider:
  name: anthropic
  api_key: ${BOARDROOM_TEST_KEY}
worker:
  count: 3
  max_turns: 4
  poll_interval: 2s
sentinel:
  window: 30s
  threshold: 3
  per_tool: false
heartbeat:
  enabled: true
  interval: 15s
  auto_sweep: true
agents:
  - id: ceo
    role: chief
    display_name: Chief Executive
    allowed_tools: ["create_task", "post_*"]
    active: true
  - id: cto
    role: technology
    reports_to: ceo
    active: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Store.Driver != "memory" {
		t.Errorf("unexpected server/store: %+v %+v", cfg.Server, cfg.Store)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Errorf("expected env expansion, got %q", cfg.Provider.APIKey)
	}
	if cfg.Worker.Count != 3 || cfg.Worker.MaxTurns != 4 || cfg.Worker.PollInterval != 2*time.Second {
		t.Errorf("unexpected worker config: %+v", cfg.Worker)
	}
	if cfg.Sentinel.Window != 30*time.Second || cfg.Sentinel.Threshold != 3 {
		t.Errorf("unexpected sentinel config: %+v", cfg.Sentinel)
	}
	if cfg.Sentinel.PerTool == nil || *cfg.Sentinel.PerTool {
		t.Errorf("expected per_tool explicitly false")
	}
	if cfg.Heartbeat.Interval != 15*time.Second || !cfg.Heartbeat.AutoSweep {
		t.Errorf("unexpected heartbeat config: %+v", cfg.Heartbeat)
	}
	if cfg.Heartbeat.StaleAfter != 10*time.Minute {
		t.Errorf("expected default stale_after to survive, got %v", cfg.Heartbeat.StaleAfter)
	}
	if len(cfg.Agents) != 2 || cfg.Agents[1].ReportsTo != "ceo" {
		t.Errorf("unexpected agents: %+v", cfg.Agents)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level, got %q", cfg.LogLevel)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "boardroom.toml", `
log_format = "json"

[store]
driver = "redis"

[store.redis]
addr = "localhost:6379"

[provider]
name = "mock"
responses = ["hello"]

[[agents]]
id = "solo"
role = "generalist"
active = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != "json" || cfg.Store.Redis.Addr != "localhost:6379" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if len(cfg.Provider.Responses) != 1 || len(cfg.Agents) != 1 || cfg.Agents[0].ID != "solo" {
		t.Errorf("unexpected provider/agents: %+v %+v", cfg.Provider, cfg.Agents)
	}
}

func TestLoad_AgentsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agents.yaml", `
agents:
  - id: a
    role: one
  - id: b
    role: two
    reports_to: a
`)
	path := writeFile(t, dir, "boardroom.yaml", "store:\n  driver: memory\nagents_file: agents.yaml\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Agents) != 2 || cfg.Agents[0].ID != "a" {
		t.Errorf("expected agents from file, got %+v", cfg.Agents)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"redis without addr", func(c *Config) { c.Store.Driver = "redis" }, "store.redis.addr"},
		{"bad provider", func(c *Config) { c.Provider.Name = "llama" }, "provider.name"},
		{"missing key", func(c *Config) { c.Provider.Name = "openai" }, "api_key"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"agent and role", func(c *Config) { c.Worker.AgentID = "lead"; c.Worker.Role = "x" }, "mutually exclusive"},
		{"no agents", func(c *Config) { c.Agents = nil }, "at least one agent"},
		{"cycle", func(c *Config) {
			c.Agents = append(c.Agents, c.Agents[0])
			c.Agents[0].ReportsTo = "other"
			c.Agents[1].ID = "other"
			c.Agents[1].ReportsTo = "lead"
		}, "cycle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
