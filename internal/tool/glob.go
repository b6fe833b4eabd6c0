package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scottyj503/chet/internal/cancel"
)

// GlobTool finds files matching a glob pattern. One of the three
// plan-mode read-only builtins (spec §4.7). Grounded in the teacher's
// internal/tools/glob.go.
type GlobTool struct{}

func (t *GlobTool) Name() string        { return "Glob" }
func (t *GlobTool) Description() string { return "Find files matching a glob pattern." }
func (t *GlobTool) IsMutating() bool    { return false }

func (t *GlobTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern to match files."},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Run(ctx context.Context, input json.RawMessage, toolCtx Context, token *cancel.Token) (Result, error) {
	if err := token.Err(); err != nil {
		return Result{}, err
	}

	var payload struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if payload.Pattern == "" {
		return Result{IsError: true, Content: "pattern is required"}, nil
	}

	pattern := payload.Pattern
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(toolCtx.CWD, pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}

	var filtered []string
	for _, match := range matches {
		if resolved, err := toolCtx.Sandbox.ResolvePath(match, true); err == nil {
			filtered = append(filtered, resolved)
		}
	}
	sort.Strings(filtered)
	return Result{Content: strings.Join(filtered, "\n")}, nil
}
