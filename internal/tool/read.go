package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/scottyj503/chet/internal/cancel"
)

// maxReadBytes caps file reads so tool output stays bounded.
const maxReadBytes = 1024 * 1024

// ReadTool reads a file from disk with sandbox and size protections.
// It is one of the three plan-mode read-only builtins named in spec
// §4.7. Grounded in the teacher's internal/tools/read.go.
type ReadTool struct{}

func (t *ReadTool) Name() string        { return "Read" }
func (t *ReadTool) Description() string { return "Read the contents of a file from disk." }
func (t *ReadTool) IsMutating() bool    { return false }

func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Absolute path to the file to read."},
			"offset":    map[string]any{"type": "integer", "description": "Line number to start reading from (1-indexed)."},
			"limit":     map[string]any{"type": "integer", "description": "Maximum number of lines to read."},
		},
		"required": []string{"file_path"},
	}
}

func (t *ReadTool) Run(ctx context.Context, input json.RawMessage, toolCtx Context, token *cancel.Token) (Result, error) {
	if err := token.Err(); err != nil {
		return Result{}, err
	}

	var payload struct {
		FilePath string `json:"file_path"`
		Offset   *int   `json:"offset"`
		Limit    *int   `json:"limit"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if payload.FilePath == "" {
		return Result{IsError: true, Content: "file_path is required"}, nil
	}

	path, err := toolCtx.Sandbox.ResolvePath(payload.FilePath, true)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	if info.Size() > maxReadBytes {
		return Result{IsError: true, Content: fmt.Sprintf("file too large: %d bytes", info.Size())}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	for _, b := range data {
		if b == 0 {
			return Result{IsError: true, Content: "binary file detected"}, nil
		}
	}

	content := string(data)
	if payload.Offset != nil || payload.Limit != nil {
		lines := strings.Split(content, "\n")
		start := 0
		if payload.Offset != nil && *payload.Offset > 0 {
			start = *payload.Offset - 1
		}
		if start > len(lines) {
			return Result{IsError: true, Content: "offset exceeds file length"}, nil
		}
		end := len(lines)
		if payload.Limit != nil && *payload.Limit >= 0 {
			if start+*payload.Limit < end {
				end = start + *payload.Limit
			}
		}
		content = strings.Join(lines[start:end], "\n")
	}

	return Result{Content: content}, nil
}
