package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scottyj503/chet/internal/cancel"
	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/tool"
)

// subagentSystemPrompt keeps a subagent focused on its delegated task
// rather than re-deriving the parent conversation's full context.
const subagentSystemPrompt = "You are a subagent completing one focused task delegated by a parent assistant. Be concise; your final text response is returned directly to the caller."

// TaskTool spawns a nested agent loop for a single delegated prompt
// (spec §4.7's "Subagents"). It is constructed by the code that builds
// the top-level Runner, not registered by internal/tool itself, so
// that package has no dependency on this one.
type TaskTool struct {
	Parent *Runner
}

func (t *TaskTool) Name() string { return "Task" }
func (t *TaskTool) Description() string {
	return "Delegate a focused, self-contained task to a subagent and return its final answer."
}
func (t *TaskTool) IsMutating() bool { return true }

func (t *TaskTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{"type": "string", "description": "The task for the subagent to complete."},
		},
		"required": []string{"prompt"},
	}
}

func (t *TaskTool) Run(ctx context.Context, input json.RawMessage, toolCtx tool.Context, token *cancel.Token) (tool.Result, error) {
	if err := token.Err(); err != nil {
		return tool.Result{}, err
	}

	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return tool.Result{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if payload.Prompt == "" {
		return tool.Result{IsError: true, Content: "prompt is required"}, nil
	}

	// Builtins-only, no subagent tool: prevents a subagent from
	// recursively spawning further subagents (spec §4.7).
	builtinsOnly, err := t.Parent.Tools.Filter(nil, []string{"Task"})
	if err != nil {
		return tool.Result{IsError: true, Content: fmt.Sprintf("subagent has no usable tools: %v", err)}, nil
	}

	subToolCtx := toolCtx
	subToolCtx.Events = SilentObserver{}

	sub := &Runner{
		Provider:        t.Parent.Provider,
		Tools:           builtinsOnly,
		Permissions:     t.Parent.Permissions,
		ToolContext:     subToolCtx,
		Model:           t.Parent.Model,
		MaxTokens:       t.Parent.MaxTokens,
		SystemPrompt:    subagentSystemPrompt,
		Thinking:        t.Parent.Thinking,
		Temperature:     t.Parent.Temperature,
		MaxCallsPerTurn: t.Parent.MaxCallsPerTurn,
	}

	initial := []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentBlock{provider.TextBlock(payload.Prompt)}}}
	result, runErr := sub.Run(ctx, token, initial, SilentObserver{})
	if runErr != nil && runErr != ErrTurnLimitExceeded {
		return tool.Result{IsError: true, Content: fmt.Sprintf("subagent failed: %v", runErr)}, nil
	}

	return tool.Result{Content: lastText(result.Final)}, nil
}

// lastText returns the concatenated text of every text block in
// message, in order — the subagent's "final assistant text block"
// result per spec §4.7.
func lastText(message provider.Message) string {
	text := ""
	for _, block := range message.Content {
		if block.Type == provider.BlockText {
			text += block.Text
		}
	}
	return text
}
