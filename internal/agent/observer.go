package agent

import (
	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/sse"
)

// Observer is the event/observer interface the UI subscribes to
// (spec §4.7): every streamed provider event, every completed
// assistant message, and every tool result, in stream order. It also
// satisfies tool.EventSink so the same value can be handed to tools
// for incremental progress reporting.
type Observer interface {
	OnStreamEvent(event *sse.Event)
	OnAssistantMessage(message provider.Message)
	OnToolResult(toolUseID string, result provider.ContentBlock)
	ToolProgress(toolUseID, chunk string)
}

// SilentObserver discards every notification. Subagents run with a
// silent observer per spec §4.7 so nested tool activity does not leak
// into the top-level UI stream.
type SilentObserver struct{}

func (SilentObserver) OnStreamEvent(event *sse.Event)                   {}
func (SilentObserver) OnAssistantMessage(message provider.Message)      {}
func (SilentObserver) OnToolResult(toolUseID string, result provider.ContentBlock) {}
func (SilentObserver) ToolProgress(toolUseID, chunk string)             {}
