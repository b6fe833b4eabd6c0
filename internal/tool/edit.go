package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/scottyj503/chet/internal/cancel"
)

// EditTool performs a single exact string replacement in an existing
// file, in the idiom of the teacher's Write/Read pair: sandbox-resolve
// the path, then operate, writing atomically with a backup.
type EditTool struct{}

func (t *EditTool) Name() string        { return "Edit" }
func (t *EditTool) Description() string { return "Replace an exact string occurrence in a file." }
func (t *EditTool) IsMutating() bool    { return true }

func (t *EditTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path":  map[string]any{"type": "string", "description": "Absolute path to the file to edit."},
			"old_string": map[string]any{"type": "string", "description": "Exact text to find; must be unique in the file unless replace_all is set."},
			"new_string": map[string]any{"type": "string", "description": "Replacement text."},
			"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence instead of requiring uniqueness."},
		},
		"required": []string{"file_path", "old_string", "new_string"},
	}
}

func (t *EditTool) Run(ctx context.Context, input json.RawMessage, toolCtx Context, token *cancel.Token) (Result, error) {
	if err := token.Err(); err != nil {
		return Result{}, err
	}

	var payload struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if payload.FilePath == "" || payload.OldString == "" {
		return Result{IsError: true, Content: "file_path and old_string are required"}, nil
	}
	if payload.OldString == payload.NewString {
		return Result{IsError: true, Content: "old_string and new_string must differ"}, nil
	}

	path, err := toolCtx.Sandbox.ResolvePath(payload.FilePath, true)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	content := string(data)

	count := strings.Count(content, payload.OldString)
	if count == 0 {
		return Result{IsError: true, Content: "old_string not found in file"}, nil
	}
	if count > 1 && !payload.ReplaceAll {
		return Result{IsError: true, Content: fmt.Sprintf("old_string is not unique: %d occurrences found", count)}, nil
	}

	var updated string
	if payload.ReplaceAll {
		updated = strings.ReplaceAll(content, payload.OldString, payload.NewString)
	} else {
		updated = strings.Replace(content, payload.OldString, payload.NewString, 1)
	}

	if err := backupFile(path); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("backup failed: %v", err)}, nil
	}
	if err := writeAtomic(path, []byte(updated), info.Mode().Perm()); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("write failed: %v", err)}, nil
	}
	return Result{Content: "ok"}, nil
}
