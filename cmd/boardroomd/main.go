// Command boardroomd runs the boardroom: the HTTP API and board-room
// stream, the heartbeat that turns mentions into tasks, and the worker
// pollers that execute them.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/GoCodeAlone/boardroom/config"
	"github.com/GoCodeAlone/boardroom/internal/version"
)

// CLI defines the command-line interface.
type CLI struct {
	Config   string `short:"c" default:"boardroom.yaml" env:"BOARDROOM_CONFIG" help:"Config file path (.yaml or .toml)"`
	LogLevel string `help:"Override log level (debug, info, warn, error)"`

	Serve        ServeCmd        `cmd:"" default:"1" help:"Run the API server, heartbeat and workers"`
	Work         WorkCmd         `cmd:"" help:"Run worker pollers only"`
	Sweep        SweepCmd        `cmd:"" help:"Requeue tasks stuck in progress"`
	Reset        ResetCmd        `cmd:"" help:"Return a task to the queue"`
	HashPassword HashPasswordCmd `cmd:"" name:"hash-password" help:"Print a bcrypt hash for auth.admin_pass"`
	CheckConfig  CheckConfigCmd  `cmd:"" name:"check-config" help:"Validate the config and print the agent roster"`
	Update       UpdateCmd       `cmd:"" help:"Install the latest release of boardroomd"`
	Version      VersionCmd      `cmd:"" help:"Show version information"`
}

// Globals is passed to every command's Run method.
type Globals struct {
	ConfigPath string
	LogLevel   string
	Stdout     io.Writer
}

// load reads the config file, falling back to defaults when the default
// path does not exist.
func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.ConfigPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && g.ConfigPath == "boardroom.yaml":
		cfg = config.DefaultConfig()
	case err != nil:
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	return cfg, cfg.Validate()
}

// newLogger builds the process logger from config.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("boardroomd"),
		kong.Description("Board-room orchestrator for a roster of AI agents."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)
	err := ctx.Run(&Globals{
		ConfigPath: cli.Config,
		LogLevel:   cli.LogLevel,
		Stdout:     os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "boardroomd: %v\n", err)
		os.Exit(1)
	}
}
