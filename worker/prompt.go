package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/boardroom/agent"
	"github.com/GoCodeAlone/boardroom/provider"
	"github.com/GoCodeAlone/boardroom/task"
	"github.com/GoCodeAlone/boardroom/toolcall"
)

const workerModeMarker = "=== WORKER MODE ACTIVE ==="

const workerModeSuffix = workerModeMarker + `
You are running as a WORKER on the target machine.
1. You are allowed and expected to use your tools directly.
2. Execute the task description immediately using the appropriate tool.
3. Do not ask for permission.
4. When the task is complete, reply with your final answer and no tool call.`

const defaultSystemPrompt = "You are a helpful AI agent."

// systemPrompt assembles the agent prompt, the worker-mode suffix, the
// tool catalogue and the call format instruction.
func systemPrompt(d agent.Descriptor, defs []provider.ToolDef) string {
	var sb strings.Builder
	base := d.SystemPrompt
	if base == "" {
		base = defaultSystemPrompt
	}
	sb.WriteString(base)

	if !strings.Contains(base, workerModeMarker) {
		sb.WriteString("\n\n")
		sb.WriteString(workerModeSuffix)
	}

	sb.WriteString("\n\n## Tools\n")
	if len(defs) == 0 {
		sb.WriteString("You have no tools. Answer from your own knowledge.\n")
		return sb.String()
	}
	for _, def := range defs {
		fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
		if len(def.Parameters) > 0 {
			if b, err := json.Marshal(def.Parameters); err == nil {
				fmt.Fprintf(&sb, "  parameters: %s\n", b)
			}
		}
	}
	fmt.Fprintf(&sb, "\nTo call a tool, reply with one line:\n%s tool_name {\"key\": \"value\"}\n", toolcall.Marker)
	sb.WriteString("Call one tool per reply. The output comes back in the next message.\n")
	return sb.String()
}

// taskMessage is the first user turn for t.
func taskMessage(t *task.Task) string {
	return fmt.Sprintf("You have been assigned a task:\nTITLE: %s\nDESCRIPTION: %s", t.Title, t.Description)
}
