package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	"github.com/scottyj503/chet/internal/config"
)

// defaultHookTimeout applies when a hook's config entry leaves
// timeout_ms unset.
const defaultHookTimeout = 5 * time.Second

// hookOutcome is the optional stdout JSON object a hook may print, per
// spec §6's hook I/O contract.
type hookOutcome struct {
	Decision      string          `json:"decision"`
	Reason        string          `json:"reason,omitempty"`
	ModifiedInput json.RawMessage `json:"modified_input,omitempty"`
}

type hookRequest struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
	Event string          `json:"event"`
}

// runHookProcess invokes a hook as a child process with the tool call
// on stdin, grounded in internal/tool/bash.go's exec.CommandContext
// subprocess pattern. A timeout is treated as block (spec §4.6
// "Failure model"); a non-zero exit with no parseable stdout is also
// block; a hook that prints a decision object on stdout takes
// precedence over its own exit code.
func runHookProcess(ctx context.Context, hook config.HookConfig, toolName string, input json.RawMessage, event string) (*hookOutcome, error) {
	timeout := defaultHookTimeout
	if hook.TimeoutMS > 0 {
		timeout = time.Duration(hook.TimeoutMS) * time.Millisecond
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tempDir, err := os.MkdirTemp("", "chet-hook-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	payload, err := json.Marshal(hookRequest{Tool: toolName, Input: input, Event: event})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", hook.Command)
	cmd.Dir = tempDir
	cmd.Stdin = bytes.NewReader(payload)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return &hookOutcome{Decision: "block", Reason: "hook timed out"}, nil
	}

	var outcome hookOutcome
	if decodeErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &outcome); decodeErr == nil && outcome.Decision != "" {
		return &outcome, nil
	}

	if runErr != nil {
		return &hookOutcome{Decision: "block", Reason: "hook exited non-zero"}, nil
	}
	return nil, nil
}
