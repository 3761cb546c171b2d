package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/boardroom/config"
	"github.com/GoCodeAlone/boardroom/provider"
	"github.com/GoCodeAlone/boardroom/provider/mock"
	"github.com/GoCodeAlone/boardroom/task"
)

// run parses args with kong and runs the selected command.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("boardroomd"), kong.Exit(func(int) { t.Fatalf("unexpected exit") }))
	if err != nil {
		t.Fatalf("kong: %v", err)
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	err = kctx.Run(&Globals{ConfigPath: cli.Config, LogLevel: cli.LogLevel, Stdout: &out})
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boardroom.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestBuildProvider(t *testing.T) {
	ctx := context.Background()

	p, err := buildProvider(ctx, config.ProviderConfig{Name: "mock", Responses: []string{"hi"}})
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	resp, err := p.Chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: "x"}})
	if err != nil || resp.Content != "hi" {
		t.Errorf("expected scripted reply, got %+v %v", resp, err)
	}
	if _, ok := p.(*mock.MockProvider); !ok {
		t.Errorf("expected *mock.MockProvider, got %T", p)
	}

	for _, name := range []string{"anthropic", "openai"} {
		p, err := buildProvider(ctx, config.ProviderConfig{Name: name, APIKey: "k"})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("expected provider %s, got %s", name, p.Name())
		}
	}

	if _, err := buildProvider(ctx, config.ProviderConfig{Name: "llama"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()

	cfg.Store.Driver = "memory"
	s, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*task.MemStore); !ok {
		t.Errorf("expected MemStore, got %T", s)
	}

	cfg.Store.Driver = "sqlite"
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	s, err = openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer s.(io.Closer).Close()
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "boardroom.db")); err != nil {
		t.Errorf("expected database under data dir: %v", err)
	}

	cfg.Store.Driver = "etcd"
	if _, err := openStore(ctx, cfg); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("expected json record, got %s", out)
	}
}

func TestHashPasswordCmd(t *testing.T) {
	out, err := run(t, "hash-password", "hunter2")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}

func TestCheckConfigCmd(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
agents:
  - id: ceo
    role: chief
    allowed_tools: ["create_task"]
    active: true
  - id: cto
    role: technology
    reports_to: ceo
`)
	out, err := run(t, "--config", path, "check-config")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "config ok") || !strings.Contains(out, "cto") || !strings.Contains(out, "create_task") {
		t.Errorf("unexpected output:\n%s", out)
	}

	bad := writeConfig(t, "store:\n  driver: postgres\n")
	if _, err := run(t, "--config", bad, "check-config"); err == nil {
		t.Error("expected validation error")
	}
}

func TestSweepAndResetCmd(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tasks.db")
	path := writeConfig(t, "store:\n  driver: sqlite\n  path: "+dbPath+"\n")

	ctx := context.Background()
	store, err := task.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	id, _ := store.Create(ctx, &task.Task{Title: "stuck", AssignedTo: "lead"})
	if ok, err := store.Claim(ctx, id, "w1"); !ok || err != nil {
		t.Fatalf("claim: %v %v", ok, err)
	}
	store.Close()

	out, err := run(t, "--config", path, "sweep", "--stale-after", "1ns")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "requeued 1 task(s)") || !strings.Contains(out, id) {
		t.Errorf("unexpected sweep output: %s", out)
	}

	out, err = run(t, "--config", path, "reset", id)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, id+" queued") {
		t.Errorf("unexpected reset output: %s", out)
	}

	if _, err := run(t, "--config", path, "reset", "missing"); err == nil {
		t.Error("expected error resetting unknown task")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out, "boardroomd dev") {
		t.Errorf("unexpected version output: %q", out)
	}
}
