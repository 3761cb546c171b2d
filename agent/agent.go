// Package agent defines agent descriptors and the read-only registry that
// answers who an agent is, what it may call, and whom it reports to.
package agent

import (
	"strings"
)

// Layer places an agent in the organisation.
type Layer string

const (
	LayerBoard       Layer = "board"
	LayerStrategic   Layer = "strategic"
	LayerExecutive   Layer = "executive"
	LayerOperational Layer = "operational"
)

// Descriptor is the static definition of an agent persona.
type Descriptor struct {
	ID           string   `json:"id" yaml:"id" toml:"id"`
	Role         string   `json:"role" yaml:"role" toml:"role"`
	DisplayName  string   `json:"display_name" yaml:"display_name" toml:"display_name"`
	AllowedTools []string `json:"allowed_tools" yaml:"allowed_tools" toml:"allowed_tools"` // names or glob patterns
	ReportsTo    string   `json:"reports_to,omitempty" yaml:"reports_to" toml:"reports_to"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	Model        string   `json:"model,omitempty" yaml:"model" toml:"model"`
	Layer        Layer    `json:"layer,omitempty" yaml:"layer" toml:"layer"`
	Active       bool     `json:"active" yaml:"active" toml:"active"`
}

// Name returns the display name, falling back to the ID.
func (d Descriptor) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}

// MentionKeys returns the handles a board-room mention may use for d:
// its id, its role and its display name without spaces.
func (d Descriptor) MentionKeys() []string {
	keys := []string{d.ID}
	if d.Role != "" {
		keys = append(keys, d.Role)
	}
	if d.DisplayName != "" {
		keys = append(keys, strings.Join(strings.Fields(d.DisplayName), ""))
	}
	return keys
}
