package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/scottyj503/chet/internal/cancel"
)

// maxCommandOutput caps combined stdout+stderr so tool output stays
// bounded and predictable.
const maxCommandOutput = 64 * 1024

// defaultBashTimeout is the tool's own deadline; spec §5 makes each
// bash-like tool responsible for enforcing its own timeout since the
// core imposes none on tool execution generally.
const defaultBashTimeout = 2 * time.Minute

// BashTool runs a shell command and captures its combined output.
// Grounded in the teacher's internal/tools/bash.go, which is also the
// grounding source for the permission engine's hook child-process
// invocation (internal/permission/hook.go) — both spawn an
// exec.CommandContext subprocess and capture its output.
type BashTool struct{}

func (t *BashTool) Name() string        { return "Bash" }
func (t *BashTool) Description() string { return "Run a shell command and return its output." }
func (t *BashTool) IsMutating() bool    { return true }

func (t *BashTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "Shell command to execute."},
			"cwd":     map[string]any{"type": "string", "description": "Working directory for the command."},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Run(ctx context.Context, input json.RawMessage, toolCtx Context, token *cancel.Token) (Result, error) {
	if err := token.Err(); err != nil {
		return Result{}, err
	}

	var payload struct {
		Command string `json:"command"`
		CWD     string `json:"cwd"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if strings.TrimSpace(payload.Command) == "" {
		return Result{IsError: true, Content: "command is required"}, nil
	}

	workingDir := toolCtx.CWD
	if payload.CWD != "" {
		resolved, err := toolCtx.Sandbox.ResolvePath(payload.CWD, true)
		if err != nil {
			return Result{IsError: true, Content: err.Error()}, nil
		}
		workingDir = resolved
	}

	runCtx, cancelRun := context.WithTimeout(ctx, defaultBashTimeout)
	defer cancelRun()

	cmd := exec.CommandContext(runCtx, "bash", "-lc", payload.Command)
	cmd.Dir = workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{IsError: true, Content: fmt.Sprintf("command failed to start: %v", err)}, nil
	}

	// token carries no channel of its own (spec §4.10's bare
	// cancellation flag), so a long-running command is only killed by
	// actively polling it; runCtx's own deadline is the backstop if the
	// watcher loses the race.
	watcherDone := make(chan struct{})
	go watchForCancel(cmd, token, watcherDone)

	err := cmd.Wait()
	close(watcherDone)

	output := strings.TrimSpace(stdout.String() + stderr.String())
	if len(output) > maxCommandOutput {
		output = output[:maxCommandOutput] + "...[truncated]"
	}

	if err != nil {
		if token.Cancelled() {
			return Result{}, cancel.ErrCancelled
		}
		return Result{IsError: true, Content: fmt.Sprintf("command failed: %v\n%s", err, output)}, nil
	}
	return Result{Content: output}, nil
}

// cancelPollInterval is how often watchForCancel checks token while a
// command is running; short enough that a cancelled turn doesn't wait
// out the rest of defaultBashTimeout.
const cancelPollInterval = 50 * time.Millisecond

// watchForCancel kills cmd's process as soon as token is observed
// cancelled, so a long-running command is interrupted immediately
// rather than left to run out runCtx's full deadline. It returns once
// done is closed (the command finished on its own) or the process has
// been killed.
func watchForCancel(cmd *exec.Cmd, token *cancel.Token, done <-chan struct{}) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if token.Cancelled() {
				if cmd.Process != nil {
					cmd.Process.Kill()
				}
				return
			}
		}
	}
}
