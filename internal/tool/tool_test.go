package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scottyj503/chet/internal/cancel"
	"github.com/scottyj503/chet/internal/testutil"
)

func TestRegistryPreservesOrderAndDedupes(testingHandle *testing.T) {
	registry := NewRegistry(&ReadTool{}, &GlobTool{}, &ReadTool{})
	testutil.RequireEqual(testingHandle, registry.Names(), []string{"Read", "Glob"}, "expected deduped, ordered names")
	testutil.RequireEqual(testingHandle, registry.Len(), 2, "expected two tools")
}

func TestRegistryFilterAllowAndDeny(testingHandle *testing.T) {
	registry := NewRegistry(DefaultTools()...)

	allowed, err := registry.Filter([]string{"Read", "Bash"}, nil)
	testutil.RequireNoError(testingHandle, err, "allow filter")
	testutil.RequireEqual(testingHandle, allowed.Names(), []string{"Read", "Bash"}, "expected allow-listed tools in original order")

	denied, err := registry.Filter(nil, []string{"Bash"})
	testutil.RequireNoError(testingHandle, err, "deny filter")
	_, hasBash := denied.Get("Bash")
	testutil.RequireTrue(testingHandle, !hasBash, "Bash should be filtered out")
}

func TestRegistryFilterEmptyResultErrors(testingHandle *testing.T) {
	registry := NewRegistry(&ReadTool{})
	_, err := registry.Filter([]string{"DoesNotExist"}, nil)
	testutil.RequireTrue(testingHandle, err != nil, "expected error for empty result")
}

func TestReadOnlySubsetMatchesPlanModeRoster(testingHandle *testing.T) {
	registry := NewRegistry(DefaultTools()...)
	subset := registry.ReadOnlySubset()
	testutil.RequireEqual(testingHandle, subset.Names(), []string{"Read", "Glob", "Grep"}, "plan mode roster must be exactly Read, Glob, Grep")
}

func TestReadToolRoundTripsWrite(testingHandle *testing.T) {
	tempDir := testingHandle.TempDir()
	sandbox := NewSandbox([]string{tempDir})
	toolCtx := Context{CWD: tempDir, Sandbox: sandbox}
	token := cancel.New()

	path := filepath.Join(tempDir, "note.txt")
	writeInput, _ := json.Marshal(map[string]string{"file_path": path, "content": "hello world"})
	writeResult, err := (&WriteTool{}).Run(context.Background(), writeInput, toolCtx, token)
	testutil.RequireNoError(testingHandle, err, "write tool run")
	testutil.RequireTrue(testingHandle, !writeResult.IsError, "write should succeed")

	readInput, _ := json.Marshal(map[string]string{"file_path": path})
	readResult, err := (&ReadTool{}).Run(context.Background(), readInput, toolCtx, token)
	testutil.RequireNoError(testingHandle, err, "read tool run")
	testutil.RequireEqual(testingHandle, readResult.Content, "hello world", "expected round-tripped content")
}

func TestWriteToolBacksUpExistingFile(testingHandle *testing.T) {
	tempDir := testingHandle.TempDir()
	sandbox := NewSandbox([]string{tempDir})
	toolCtx := Context{CWD: tempDir, Sandbox: sandbox}
	token := cancel.New()

	path := filepath.Join(tempDir, "note.txt")
	testutil.RequireNoError(testingHandle, os.WriteFile(path, []byte("original"), 0o644), "seed file")

	input, _ := json.Marshal(map[string]string{"file_path": path, "content": "updated"})
	result, err := (&WriteTool{}).Run(context.Background(), input, toolCtx, token)
	testutil.RequireNoError(testingHandle, err, "write tool run")
	testutil.RequireTrue(testingHandle, !result.IsError, "write should succeed")

	entries, err := os.ReadDir(tempDir)
	testutil.RequireNoError(testingHandle, err, "read temp dir")
	foundBackup := false
	for _, entry := range entries {
		if entry.Name() != "note.txt" {
			foundBackup = true
		}
	}
	testutil.RequireTrue(testingHandle, foundBackup, "expected a backup file to be created")
}

func TestSandboxDeniesPathOutsideRoots(testingHandle *testing.T) {
	tempDir := testingHandle.TempDir()
	sandbox := NewSandbox([]string{tempDir})
	_, err := sandbox.ResolvePath("/etc/passwd", true)
	testutil.RequireTrue(testingHandle, err != nil, "expected path outside roots to be denied")
}

func TestCancelledTokenStopsToolBeforeRunning(testingHandle *testing.T) {
	tempDir := testingHandle.TempDir()
	sandbox := NewSandbox([]string{tempDir})
	toolCtx := Context{CWD: tempDir, Sandbox: sandbox}
	token := cancel.New()
	token.Cancel()

	input, _ := json.Marshal(map[string]string{"file_path": filepath.Join(tempDir, "x.txt")})
	_, err := (&ReadTool{}).Run(context.Background(), input, toolCtx, token)
	testutil.RequireTrue(testingHandle, err == cancel.ErrCancelled, "expected cancellation observed before running")
}

func TestBashToolKillsProcessOnCancelMidRun(testingHandle *testing.T) {
	tempDir := testingHandle.TempDir()
	sandbox := NewSandbox([]string{tempDir})
	toolCtx := Context{CWD: tempDir, Sandbox: sandbox}
	token := cancel.New()

	go func() {
		time.Sleep(20 * time.Millisecond)
		token.Cancel()
	}()

	input, _ := json.Marshal(map[string]string{"command": "sleep 5"})
	start := time.Now()
	_, err := (&BashTool{}).Run(context.Background(), input, toolCtx, token)
	elapsed := time.Since(start)

	testutil.RequireTrue(testingHandle, err == cancel.ErrCancelled, "expected mid-run cancellation to surface as cancel.ErrCancelled")
	testutil.RequireTrue(testingHandle, elapsed < 2*time.Second, "expected the cancel watcher to kill the process long before the command's own 2-minute timeout")
}
