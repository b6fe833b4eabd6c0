// Package agent implements the bounded agent loop (spec §4.7): a
// cooperative state machine cycling Requesting → Streaming →
// ToolDispatch until the provider stops asking for tools or the
// per-turn call budget is exhausted. Grounded in the teacher's
// internal/agent/agent.go and stream.go for the turn/budget/callback
// shape, rewritten around this module's Anthropic content-block model
// (provider.Message/ContentBlock) in place of the teacher's OpenAI
// tool-call-array model, and around the move-not-clone transcript and
// in-order sequential tool dispatch spec §4.7/§5 require.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/scottyj503/chet/internal/assembler"
	"github.com/scottyj503/chet/internal/cancel"
	"github.com/scottyj503/chet/internal/permission"
	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/sse"
	"github.com/scottyj503/chet/internal/tool"
)

// defaultMaxCallsPerTurn is spec §4.7's "at most 50 consecutive
// provider calls per user turn" budget.
const defaultMaxCallsPerTurn = 50

// ErrTurnLimitExceeded is returned when a turn exhausts its provider
// call budget without reaching a non-tool_use stop.
var ErrTurnLimitExceeded = errors.New("turn limit exceeded")

// Result captures the outcome of one user turn.
type Result struct {
	// Messages is the full transcript after the turn, including every
	// assistant and tool-result message appended during it.
	Messages []provider.Message
	// Final is the last assistant message appended, complete or partial.
	Final provider.Message
	// Usage accumulates token usage across every provider call the turn
	// made.
	Usage provider.Usage
	// NumCalls counts the provider calls made during the turn.
	NumCalls int
	// Cancelled reports whether the turn ended via cancellation rather
	// than a natural stop.
	Cancelled bool
}

// Runner drives one turn of the agent loop. It holds no per-turn
// mutable state of its own beyond what Run's local variables carry, so
// one Runner can be reused across turns and shared (read-mostly, spec
// §9 "cyclic ownership") between a parent loop and its subagents.
type Runner struct {
	Provider    provider.Provider
	Tools       *tool.Registry
	Permissions *permission.Engine
	ToolContext tool.Context

	Model        string
	MaxTokens    int
	SystemPrompt string
	Thinking     *provider.ThinkingConfig
	Temperature  *float64

	// PlanMode restricts the registry presented to the provider to the
	// read-only subset (spec §4.7's plan mode).
	PlanMode bool

	// MaxCallsPerTurn overrides defaultMaxCallsPerTurn; zero means use
	// the default.
	MaxCallsPerTurn int
}

func (r *Runner) maxCalls() int {
	if r.MaxCallsPerTurn > 0 {
		return r.MaxCallsPerTurn
	}
	return defaultMaxCallsPerTurn
}

// effectiveRegistry returns the tool registry the provider should see
// for this turn: the full registry, or its read-only subset in plan
// mode.
func (r *Runner) effectiveRegistry() *tool.Registry {
	if r.PlanMode {
		return r.Tools.ReadOnlySubset()
	}
	return r.Tools
}

// Run executes one user turn. messages is moved into the loop (never
// cloned, spec §9 "move-not-clone transcripts") and the returned
// Result.Messages is the same backing transcript with the turn's
// activity appended.
func (r *Runner) Run(ctx context.Context, token *cancel.Token, messages []provider.Message, observer Observer) (Result, error) {
	if observer == nil {
		observer = SilentObserver{}
	}
	registry := r.effectiveRegistry()

	result := Result{Messages: messages}

	for call := 0; call < r.maxCalls(); call++ {
		if err := token.Err(); err != nil {
			result.Cancelled = true
			return result, err
		}

		req := r.buildRequest(result.Messages, registry)
		stream, err := r.Provider.Stream(ctx, req)
		if err != nil {
			return result, err
		}
		result.NumCalls++

		asm := assembler.New()
		cancelledMidStream, streamErr := foldStream(token, stream, asm, observer)
		closeErr := stream.Close()
		if streamErr != nil {
			return result, streamErr
		}
		if closeErr != nil && !cancelledMidStream {
			return result, closeErr
		}

		message := asm.Message()
		result.Usage.Add(asm.Usage())
		result.Messages = append(result.Messages, message)
		result.Final = message
		observer.OnAssistantMessage(message)

		if cancelledMidStream {
			result.Cancelled = true
			return result, cancel.ErrCancelled
		}

		toolUses := toolUseBlocks(message)
		if asm.StopReason() != provider.StopToolUse || len(toolUses) == 0 {
			return result, nil
		}

		resultBlocks, cancelledMidDispatch := r.dispatchTools(ctx, token, registry, toolUses, observer)
		result.Messages = append(result.Messages, provider.Message{Role: provider.RoleUser, Content: resultBlocks})
		if cancelledMidDispatch {
			result.Cancelled = true
			return result, cancel.ErrCancelled
		}
	}

	return result, ErrTurnLimitExceeded
}

// foldStream pulls events from stream until io.EOF or message_stop,
// folding each into asm and notifying observer, observing token
// between events per spec §5's "HTTP read" suspension point.
func foldStream(token *cancel.Token, stream provider.Stream, asm *assembler.Assembler, observer Observer) (cancelled bool, err error) {
	for {
		if tokenErr := token.Err(); tokenErr != nil {
			return true, nil
		}
		event, readErr := stream.Next()
		if readErr == io.EOF {
			return false, nil
		}
		if readErr != nil {
			return false, readErr
		}
		if applyErr := asm.Apply(event); applyErr != nil {
			return false, applyErr
		}
		observer.OnStreamEvent(event)
		if event.Kind == sse.KindMessageStop {
			return false, nil
		}
	}
}

// dispatchTools runs each tool_use block in order (spec §5's
// sequential, in-order dispatch guarantee), gating every call through
// the permission engine. Once cancellation is observed, remaining
// blocks are answered with a synthesized cancelled result rather than
// invoked, preserving the one-ToolResult-per-ToolUse invariant.
func (r *Runner) dispatchTools(ctx context.Context, token *cancel.Token, registry *tool.Registry, toolUses []provider.ContentBlock, observer Observer) ([]provider.ContentBlock, bool) {
	blocks := make([]provider.ContentBlock, 0, len(toolUses))
	cancelled := false

	for _, use := range toolUses {
		if !cancelled {
			if err := token.Err(); err != nil {
				cancelled = true
			}
		}
		if cancelled {
			result := provider.ToolResultBlock(use.ID, "cancelled", true)
			blocks = append(blocks, result)
			observer.OnToolResult(use.ID, result)
			continue
		}

		t, ok := registry.Get(use.Name)
		if !ok {
			result := provider.ToolResultBlock(use.ID, fmt.Sprintf("tool %q is not available in this mode", use.Name), true)
			blocks = append(blocks, result)
			observer.OnToolResult(use.ID, result)
			continue
		}

		decision, input, err := r.Permissions.Evaluate(ctx, use.Name, use.Input, t.IsMutating())
		if err != nil {
			result := provider.ToolResultBlock(use.ID, fmt.Sprintf("permission check failed: %v", err), true)
			blocks = append(blocks, result)
			observer.OnToolResult(use.ID, result)
			continue
		}
		if decision.Kind != permission.Permitted {
			result := provider.ToolResultBlock(use.ID, decision.Reason, true)
			blocks = append(blocks, result)
			observer.OnToolResult(use.ID, result)
			continue
		}

		toolCtx := r.ToolContext
		toolCtx.Events = observer
		outcome, runErr := t.Run(ctx, input, toolCtx, token)
		var result provider.ContentBlock
		switch {
		case errors.Is(runErr, cancel.ErrCancelled):
			result = provider.ToolResultBlock(use.ID, "cancelled", true)
			cancelled = true
		case runErr != nil:
			result = provider.ToolResultBlock(use.ID, runErr.Error(), true)
		default:
			result = provider.ToolResultBlock(use.ID, outcome.Content, outcome.IsError)
		}
		blocks = append(blocks, result)
		observer.OnToolResult(use.ID, result)
		r.Permissions.RunAfterHooks(ctx, use.Name, input, result.Content, result.IsError)
	}

	return blocks, cancelled
}

// buildRequest assembles the provider-agnostic request for one call,
// attaching the system prompt (cache-control-tagged, spec §6), the
// tool registry's definitions (last one cache-control-tagged, spec
// §6), and the optional thinking/temperature knobs.
func (r *Runner) buildRequest(messages []provider.Message, registry *tool.Registry) provider.Request {
	req := provider.Request{
		Model:       r.Model,
		MaxTokens:   r.MaxTokens,
		Messages:    messages,
		System:      SystemBlocks(r.SystemPrompt),
		Thinking:    r.Thinking,
		Temperature: r.Temperature,
	}
	defs := registry.Definitions()
	if len(defs) > 0 {
		defs[len(defs)-1].CacheControl = provider.Ephemeral()
	}
	req.Tools = defs
	return req
}

// toolUseBlocks extracts, in order, every tool_use block of an
// assistant message.
func toolUseBlocks(message provider.Message) []provider.ContentBlock {
	var blocks []provider.ContentBlock
	for _, block := range message.Content {
		if block.Type == provider.BlockToolUse {
			blocks = append(blocks, block)
		}
	}
	return blocks
}
