// Package plugin defines the tool capability interface agents invoke through
// the TOOL: protocol, and the registry that binds tools to agents.
package plugin

import (
	"context"

	"github.com/GoCodeAlone/boardroom/provider"
)

// Tool is one capability an agent may invoke.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Definition returns the tool definition shown in the agent's catalogue.
	Definition() provider.ToolDef

	// Execute runs the tool with the decoded call payload.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Alias exposes a tool under another name.
type Alias struct {
	Tool
	Alias string
}

func (a Alias) Name() string { return a.Alias }

func (a Alias) Definition() provider.ToolDef {
	def := a.Tool.Definition()
	def.Name = a.Alias
	return def
}
