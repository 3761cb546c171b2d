package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/GoCodeAlone/boardroom/provider"
)

const (
	defaultShellTimeout = 30
	maxShellTimeout     = 300
	maxShellOutput      = 64 << 10
)

// ShellExecTool runs a command with sh -c in the workspace.
type ShellExecTool struct {
	Workspace string
}

func (t *ShellExecTool) Name() string { return "execute_command" }
func (t *ShellExecTool) Description() string {
	return "Execute a shell command in the workspace and return stdout, stderr and the exit code"
}
func (t *ShellExecTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to execute"},
				"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default: 30, max: 300)"},
			},
			"required": []string{"command"},
		},
	}
}
func (t *ShellExecTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := defaultShellTimeout
	if v, ok := args["timeout"].(float64); ok && v > 0 {
		timeout = int(v)
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	workspace := t.Workspace
	if ws, ok := WorkspacePathFromContext(ctx); ok {
		workspace = ws
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workspace != "" {
		cmd.Dir = workspace
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return nil, fmt.Errorf("command timed out after %ds", timeout)
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("exec command: %w", err)
		}
	}

	return map[string]any{
		"stdout":    truncate(stdout.String(), maxShellOutput),
		"stderr":    truncate(stderr.String(), maxShellOutput),
		"exit_code": exitCode,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n...[truncated]"
}
