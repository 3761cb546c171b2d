package tools

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/boardroom/comms"
	"github.com/GoCodeAlone/boardroom/provider"
)

// MessagePostTool posts to the board room on behalf of the calling agent.
type MessagePostTool struct {
	Board comms.Board
}

func (t *MessagePostTool) Name() string        { return "post_message" }
func (t *MessagePostTool) Description() string { return "Post a message to the board room" }
func (t *MessagePostTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{"type": "string", "description": "Message text; use @agent to address someone"},
			},
			"required": []string{"content"},
		},
	}
}
func (t *MessagePostTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	from, _ := AgentIDFromContext(ctx)
	taskID, _ := TaskIDFromContext(ctx)
	msg, err := t.Board.Post(ctx, &comms.Message{
		Type:    comms.TypeChat,
		Kind:    comms.KindAgent,
		From:    from,
		Content: content,
		TaskID:  taskID,
	})
	if err != nil && msg == nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	return map[string]any{"id": msg.ID, "posted": true}, nil
}
