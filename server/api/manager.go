// Package api defines the REST API handlers and the introspection
// interfaces the boardroom server exposes.
package api

import (
	"github.com/GoCodeAlone/boardroom/heartbeat"
	"github.com/GoCodeAlone/boardroom/worker"
)

// WorkerSource reports the pollers running in this process.
// Implemented by *worker.Pool.
type WorkerSource interface {
	Statuses() []worker.Status
}

// HeartbeatSource reports the orchestration tick.
// Implemented by *heartbeat.Heartbeat.
type HeartbeatSource interface {
	Status() heartbeat.Status
}

// AgentInfo is an agent descriptor with its place in the hierarchy.
type AgentInfo struct {
	ID            string   `json:"id"`
	Role          string   `json:"role"`
	DisplayName   string   `json:"display_name"`
	Layer         string   `json:"layer,omitempty"`
	Active        bool     `json:"active"`
	AllowedTools  []string `json:"allowed_tools"`
	ReportsTo     string   `json:"reports_to,omitempty"`
	Chain         []string `json:"chain_of_command,omitempty"`
	DirectReports []string `json:"direct_reports,omitempty"`
}

// Termination is a task ended by the security sentinel.
type Termination struct {
	TaskID     string `json:"task_id"`
	Title      string `json:"title"`
	AssignedTo string `json:"assigned_to"`
	Reason     string `json:"reason"`
	At         string `json:"at"`
}
