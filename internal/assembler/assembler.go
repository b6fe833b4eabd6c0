// Package assembler implements the streaming content assembler (spec
// §4.4): a fold over typed SSE events that reconstructs one assistant
// Message. The fold-by-index accumulator shape is grounded in the
// teacher's internal/llm/openai/stream_accumulator.go, restructured
// around Anthropic content-block types (text, tool_use, thinking)
// keyed by content_block_start's index instead of OpenAI's flat
// content string plus tool-call-delta map. Unlike the wider retrieval
// pack's Anthropic SSE reader, which discards thinking_delta, this
// assembler preserves thinking text and signature verbatim, since the
// provider requires an exact signature round-trip on the next request.
package assembler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/sse"
)

// blockState accumulates one content block across its
// content_block_start / content_block_delta* / content_block_stop
// lifecycle.
type blockState struct {
	blockType provider.BlockType
	text      strings.Builder
	jsonBuf   strings.Builder
	signature strings.Builder
	id        string
	name      string
	mediaType string
	data      string
	finalized provider.ContentBlock
	done      bool
}

// Assembler folds one assistant turn's events into a provider.Message.
// It is not safe for concurrent use; the agent loop owns one per
// in-flight provider call.
type Assembler struct {
	id         string
	model      string
	usage      provider.Usage
	stopReason provider.StopReason

	blocks map[int]*blockState
	order  []int
}

// New returns an empty Assembler ready to fold a fresh message_start.
func New() *Assembler {
	return &Assembler{blocks: make(map[int]*blockState)}
}

// Apply folds one decoded event into the assembler's state. An error
// return means the stream itself reported a terminal error
// (KindError); it is not raised for a tool_use block whose JSON fails
// to parse — that degrades to an empty-input block per spec §4.4
// instead.
func (a *Assembler) Apply(event *sse.Event) error {
	switch event.Kind {
	case sse.KindMessageStart:
		a.id = event.MessageStart.Message.ID
		a.model = event.MessageStart.Message.Model
		a.usage.Add(provider.Usage(event.MessageStart.Message.Usage))
	case sse.KindContentBlockStart:
		a.openBlock(event.ContentBlockStart)
	case sse.KindContentBlockDelta:
		a.applyDelta(event.ContentBlockDelta)
	case sse.KindContentBlockStop:
		a.closeBlock(event.ContentBlockStop.Index)
	case sse.KindMessageDelta:
		a.stopReason = provider.StopReason(event.MessageDelta.Delta.StopReason)
		a.usage.Add(provider.Usage(event.MessageDelta.Usage))
	case sse.KindMessageStop, sse.KindPing:
		// No state change; message_stop signals the caller to call
		// Message() and stop folding further events.
	case sse.KindError:
		return fmt.Errorf("provider stream error: %s: %s", event.Error.Error.Type, event.Error.Error.Message)
	}
	return nil
}

func (a *Assembler) openBlock(start *sse.ContentBlockStartEvent) {
	state := &blockState{blockType: provider.BlockType(start.ContentBlock.Type)}
	switch state.blockType {
	case provider.BlockText:
		state.text.WriteString(start.ContentBlock.Text)
	case provider.BlockToolUse:
		state.id = start.ContentBlock.ID
		state.name = start.ContentBlock.Name
	case provider.BlockThinking, provider.BlockImage:
		// Accumulated purely via deltas.
	}
	if _, exists := a.blocks[start.Index]; !exists {
		a.order = append(a.order, start.Index)
	}
	a.blocks[start.Index] = state
}

func (a *Assembler) applyDelta(delta *sse.ContentBlockDeltaEvent) {
	state, ok := a.blocks[delta.Index]
	if !ok {
		return
	}
	switch delta.Delta.Type {
	case sse.DeltaTypeText:
		state.text.WriteString(delta.Delta.Text)
	case sse.DeltaTypeInputJSON:
		state.jsonBuf.WriteString(delta.Delta.PartialJSON)
	case sse.DeltaTypeThinking:
		state.text.WriteString(delta.Delta.Thinking)
	case sse.DeltaTypeSignature:
		state.signature.WriteString(delta.Delta.Signature)
	}
}

func (a *Assembler) closeBlock(index int) {
	state, ok := a.blocks[index]
	if !ok || state.done {
		return
	}
	state.done = true

	switch state.blockType {
	case provider.BlockText:
		state.finalized = provider.TextBlock(state.text.String())
	case provider.BlockToolUse:
		raw := strings.TrimSpace(state.jsonBuf.String())
		if raw == "" {
			raw = "{}"
		}
		if !json.Valid([]byte(raw)) {
			// Degrade to an empty-input tool_use and let the model
			// recover on the next turn, per spec §4.4.
			raw = "{}"
		}
		state.finalized = provider.ToolUseBlock(state.id, state.name, json.RawMessage(raw))
	case provider.BlockThinking:
		state.finalized = provider.ThinkingBlock(state.text.String(), state.signature.String())
	case provider.BlockImage:
		state.finalized = provider.ImageBlock(state.mediaType, state.data)
	}
}

// Message returns the assistant message assembled so far, with every
// opened block finalized in index order (finalizing any block whose
// content_block_stop has not yet arrived, e.g. after a cancellation).
func (a *Assembler) Message() provider.Message {
	indexes := append([]int(nil), a.order...)
	sort.Ints(indexes)

	blocks := make([]provider.ContentBlock, 0, len(indexes))
	for _, index := range indexes {
		state := a.blocks[index]
		if !state.done {
			a.closeBlock(index)
			state = a.blocks[index]
		}
		blocks = append(blocks, state.finalized)
	}
	return provider.Message{Role: provider.RoleAssistant, Content: blocks}
}

// Usage returns the merged token usage observed so far.
func (a *Assembler) Usage() provider.Usage { return a.usage }

// StopReason returns the stop reason recorded by message_delta, or the
// zero value if the stream ended (e.g. via cancellation) before one
// arrived.
func (a *Assembler) StopReason() provider.StopReason { return a.stopReason }

// ID returns the message id recorded by message_start.
func (a *Assembler) ID() string { return a.id }

// Model returns the model name recorded by message_start.
func (a *Assembler) Model() string { return a.model }
