package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scottyj503/chet/internal/cancel"
)

// TodoItem is one entry in a TodoWrite call's task list.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// TodoWriteTool takes the model's self-reported task list, sends one
// progress event per item to the event sink, and returns a count of
// the recorded tasks; it has no other side effects, so it carries no
// mutation risk worth gating.
type TodoWriteTool struct{}

func (t *TodoWriteTool) Name() string        { return "TodoWrite" }
func (t *TodoWriteTool) Description() string { return "Record the current task list for display to the user." }
func (t *TodoWriteTool) IsMutating() bool    { return false }

func (t *TodoWriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"todos": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": map[string]any{"type": "string"},
						"status":  map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"todos"},
	}
}

func (t *TodoWriteTool) Run(ctx context.Context, input json.RawMessage, toolCtx Context, token *cancel.Token) (Result, error) {
	if err := token.Err(); err != nil {
		return Result{}, err
	}

	var payload struct {
		Todos []TodoItem `json:"todos"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}

	out := fmt.Sprintf("recorded %d task(s)", len(payload.Todos))
	for _, item := range payload.Todos {
		if toolCtx.Events != nil {
			toolCtx.Events.ToolProgress("", fmt.Sprintf("[%s] %s", item.Status, item.Content))
		}
	}
	return Result{Content: out}, nil
}

// DefaultTools returns the builtin tool roster in registration order.
func DefaultTools() []Tool {
	return []Tool{
		&ReadTool{},
		&GlobTool{},
		&GrepTool{},
		&EditTool{},
		&WriteTool{},
		&BashTool{},
		&TodoWriteTool{},
	}
}
