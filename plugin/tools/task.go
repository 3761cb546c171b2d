package tools

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/boardroom/provider"
	"github.com/GoCodeAlone/boardroom/task"
)

// TaskCreateTool lets an agent delegate work by queueing a new task.
type TaskCreateTool struct {
	Store task.Store
	// Known reports whether an assignee exists. Nil accepts any assignee.
	Known func(id string) bool
}

func (t *TaskCreateTool) Name() string        { return "create_task" }
func (t *TaskCreateTool) Description() string { return "Create a new task for another agent or for a human" }
func (t *TaskCreateTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string", "description": "Task title"},
				"description": map[string]any{"type": "string", "description": "Task description"},
				"priority":    map[string]any{"type": "string", "description": "low, medium, high or critical (default medium)"},
				"assigned_to": map[string]any{"type": "string", "description": "Agent ID, or \"human\""},
			},
			"required": []string{"title", "assigned_to"},
		},
	}
}
func (t *TaskCreateTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	title, _ := args["title"].(string)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	assignedTo, _ := args["assigned_to"].(string)
	if assignedTo == "" {
		return nil, fmt.Errorf("assigned_to is required")
	}
	if assignedTo != task.Human && t.Known != nil && !t.Known(assignedTo) {
		return nil, fmt.Errorf("unknown assignee %q", assignedTo)
	}
	description, _ := args["description"].(string)

	priority := task.PriorityMedium
	switch v := args["priority"].(type) {
	case string:
		priority = task.ParsePriority(v)
	case float64:
		if v >= 0 && v <= float64(task.PriorityCritical) {
			priority = task.Priority(int(v))
		}
	}

	createdBy, _ := AgentIDFromContext(ctx)
	tk := &task.Task{
		Title:       title,
		Description: description,
		Priority:    priority,
		AssignedTo:  assignedTo,
		CreatedBy:   createdBy,
	}
	id, err := t.Store.Create(ctx, tk)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return map[string]any{"id": id, "title": title, "assigned_to": assignedTo, "status": string(task.StatusQueued)}, nil
}
