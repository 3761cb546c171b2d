package tools

import (
	"github.com/GoCodeAlone/boardroom/comms"
	"github.com/GoCodeAlone/boardroom/plugin"
	"github.com/GoCodeAlone/boardroom/task"
)

// Deps are the collaborators the built-in tools need.
type Deps struct {
	Workspace string
	Store     task.Store
	Board     comms.Board
	Known     func(agentID string) bool
}

// Register adds every built-in tool to reg. Tools whose collaborator is
// missing are skipped.
func Register(reg *plugin.Registry, deps Deps) error {
	write := &FileWriteTool{Workspace: deps.Workspace}
	all := []plugin.Tool{
		&ShellExecTool{Workspace: deps.Workspace},
		&FileReadTool{Workspace: deps.Workspace},
		write,
		plugin.Alias{Tool: write, Alias: "write_code"},
		&FileListTool{Workspace: deps.Workspace},
		&WebFetchTool{},
	}
	if deps.Store != nil {
		all = append(all, &TaskCreateTool{Store: deps.Store, Known: deps.Known})
	}
	if deps.Board != nil {
		all = append(all, &MessagePostTool{Board: deps.Board})
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
