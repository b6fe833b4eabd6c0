package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scottyj503/chet/internal/cancel"
)

// WriteTool writes full file contents to disk, backing up any existing
// content and writing atomically. Grounded in the teacher's
// internal/tools/write.go; backupFile/writeAtomic below replace that
// file's session-store-backed backup with a sibling ".bak" file, since
// this package does not depend on internal/session.
type WriteTool struct{}

func (t *WriteTool) Name() string        { return "Write" }
func (t *WriteTool) Description() string { return "Write content to a file, creating it if needed." }
func (t *WriteTool) IsMutating() bool    { return true }

func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Absolute path to the file to write."},
			"content":   map[string]any{"type": "string", "description": "Full file contents to write."},
		},
		"required": []string{"file_path", "content"},
	}
}

func (t *WriteTool) Run(ctx context.Context, input json.RawMessage, toolCtx Context, token *cancel.Token) (Result, error) {
	if err := token.Err(); err != nil {
		return Result{}, err
	}

	var payload struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if payload.FilePath == "" {
		return Result{IsError: true, Content: "file_path is required"}, nil
	}

	path, err := toolCtx.Sandbox.ResolvePath(payload.FilePath, false)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}

	if parent := filepath.Dir(path); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return Result{IsError: true, Content: err.Error()}, nil
		}
	}

	mode := os.FileMode(0o644)
	switch info, statErr := os.Stat(path); {
	case statErr == nil:
		if info.IsDir() {
			return Result{IsError: true, Content: "path is a directory"}, nil
		}
		mode = info.Mode().Perm()
		if err := backupFile(path); err != nil {
			return Result{IsError: true, Content: fmt.Sprintf("backup failed: %v", err)}, nil
		}
	case os.IsNotExist(statErr):
		// New file; default mode applies.
	default:
		return Result{IsError: true, Content: statErr.Error()}, nil
	}

	if err := writeAtomic(path, []byte(payload.Content), mode); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("write failed: %v", err)}, nil
	}
	return Result{Content: "ok"}, nil
}

// backupFile copies the current contents of path to a timestamped
// sibling before an overwrite, so a mistaken write is recoverable.
func backupFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	backupPath := fmt.Sprintf("%s.%d.bak", path, time.Now().UnixNano())
	return os.WriteFile(backupPath, data, 0o600)
}

// writeAtomic writes data to path via a temp file in the same
// directory, fsync, then rename, so a crash mid-write never leaves a
// truncated file in place of the original.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
