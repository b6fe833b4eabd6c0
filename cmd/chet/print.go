package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/scottyj503/chet/internal/agent"
	"github.com/scottyj503/chet/internal/cancel"
	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/session"
	"github.com/scottyj503/chet/internal/sse"
	"github.com/scottyj503/chet/internal/tool"
)

// printObserver writes assistant text deltas straight to stdout as
// they arrive, with no markdown rendering (print mode is meant to be
// piped).
type printObserver struct{}

func (printObserver) OnStreamEvent(event *sse.Event) {
	if event.Kind != sse.KindContentBlockDelta || event.ContentBlockDelta == nil {
		return
	}
	if event.ContentBlockDelta.Delta.Type == sse.DeltaTypeText {
		fmt.Print(event.ContentBlockDelta.Delta.Text)
	}
}
func (printObserver) OnAssistantMessage(message provider.Message) {}
func (printObserver) OnToolResult(toolUseID string, result provider.ContentBlock) {
	if result.IsError {
		fmt.Printf("\n[%s failed: %s]\n", toolUseID, result.Content)
	}
}
func (printObserver) ToolProgress(toolUseID, chunk string) {}

// runPrint runs exactly one user turn non-interactively and exits.
func runPrint(ctx context.Context, rt *runtime, sess *session.Session, toolCtx tool.Context, prompt string, logger zerolog.Logger) error {
	if prompt == "" {
		return errors.New("print mode requires a prompt argument")
	}

	if sess.Label == "" {
		sess.Label = session.AutoLabel(prompt)
	}
	sess.Messages = append(sess.Messages, provider.Message{
		Role:    provider.RoleUser,
		Content: []provider.ContentBlock{provider.TextBlock(prompt)},
	})

	engine, err := rt.newPermissions(newStdinPrompter())
	if err != nil {
		return fmt.Errorf("build permission engine: %w", err)
	}
	toolCtx.Events = printObserver{}
	runner := newRunner(rt, toolCtx, engine)

	token := cancel.New()
	result, runErr := runner.Run(ctx, token, sess.Messages, printObserver{})
	sess.Messages = result.Messages
	sess.CumulativeUsage.Add(result.Usage)
	fmt.Println()

	if saveErr := rt.store.Save(sess); saveErr != nil {
		logger.Warn().Err(saveErr).Msg("failed to save session")
	}

	if runErr != nil && !errors.Is(runErr, agent.ErrTurnLimitExceeded) {
		return fmt.Errorf("turn failed: %w", runErr)
	}
	return nil
}
