package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/scottyj503/chet/internal/cancel"
	"github.com/scottyj503/chet/internal/config"
	"github.com/scottyj503/chet/internal/permission"
	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/sse"
	"github.com/scottyj503/chet/internal/testutil"
	"github.com/scottyj503/chet/internal/tool"
)

// --- fake provider -----------------------------------------------------

type fakeStream struct {
	events []*sse.Event
	index  int
}

func (s *fakeStream) Next() (*sse.Event, error) {
	if s.index >= len(s.events) {
		return nil, io.EOF
	}
	event := s.events[s.index]
	s.index++
	return event, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeProvider struct {
	streams [][]*sse.Event
	calls   int
}

func (p *fakeProvider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	if p.calls >= len(p.streams) {
		return nil, errors.New("fakeProvider: no more scripted streams")
	}
	stream := &fakeStream{events: p.streams[p.calls]}
	p.calls++
	return stream, nil
}

// --- scripted event helpers --------------------------------------------

func evMessageStart() *sse.Event {
	return &sse.Event{Kind: sse.KindMessageStart, MessageStart: &sse.MessageStartEvent{Message: sse.MessagePreamble{ID: "m1", Model: "claude-test"}}}
}

func evTextBlock(index int, text string) []*sse.Event {
	return []*sse.Event{
		{Kind: sse.KindContentBlockStart, ContentBlockStart: &sse.ContentBlockStartEvent{Index: index, ContentBlock: sse.BlockDeclaration{Type: "text"}}},
		{Kind: sse.KindContentBlockDelta, ContentBlockDelta: &sse.ContentBlockDeltaEvent{Index: index, Delta: sse.Delta{Type: sse.DeltaTypeText, Text: text}}},
		{Kind: sse.KindContentBlockStop, ContentBlockStop: &sse.ContentBlockStopEvent{Index: index}},
	}
}

func evToolUseBlock(index int, id, name string, input string) []*sse.Event {
	return []*sse.Event{
		{Kind: sse.KindContentBlockStart, ContentBlockStart: &sse.ContentBlockStartEvent{Index: index, ContentBlock: sse.BlockDeclaration{Type: "tool_use", ID: id, Name: name}}},
		{Kind: sse.KindContentBlockDelta, ContentBlockDelta: &sse.ContentBlockDeltaEvent{Index: index, Delta: sse.Delta{Type: sse.DeltaTypeInputJSON, PartialJSON: input}}},
		{Kind: sse.KindContentBlockStop, ContentBlockStop: &sse.ContentBlockStopEvent{Index: index}},
	}
}

func evMessageDelta(stopReason string) *sse.Event {
	return &sse.Event{Kind: sse.KindMessageDelta, MessageDelta: &sse.MessageDeltaEvent{Delta: sse.MessageDeltaPayload{StopReason: stopReason}}}
}

func evMessageStop() *sse.Event {
	return &sse.Event{Kind: sse.KindMessageStop, MessageStop: &sse.MessageStopEvent{}}
}

func textTurn(text string) []*sse.Event {
	events := []*sse.Event{evMessageStart()}
	events = append(events, evTextBlock(0, text)...)
	events = append(events, evMessageDelta(string(provider.StopEndTurn)), evMessageStop())
	return events
}

func toolUseTurn(id, name, input string) []*sse.Event {
	events := []*sse.Event{evMessageStart()}
	events = append(events, evToolUseBlock(0, id, name, input)...)
	events = append(events, evMessageDelta(string(provider.StopToolUse)), evMessageStop())
	return events
}

// --- stub tools ----------------------------------------------------------

type stubTool struct {
	name     string
	mutating bool
	result   tool.Result
	err      error
	calls    int
}

func (s *stubTool) Name() string                  { return s.name }
func (s *stubTool) Description() string           { return "stub tool" }
func (s *stubTool) IsMutating() bool               { return s.mutating }
func (s *stubTool) InputSchema() map[string]any    { return map[string]any{"type": "object"} }
func (s *stubTool) Run(ctx context.Context, input json.RawMessage, toolCtx tool.Context, token *cancel.Token) (tool.Result, error) {
	s.calls++
	return s.result, s.err
}

func ludicrousPermissions(testingHandle *testing.T) *permission.Engine {
	engine, err := permission.New(config.Defaults(), true, nil, zerolog.Nop())
	testutil.RequireNoError(testingHandle, err, "build permission engine")
	return engine
}

// --- tests -----------------------------------------------------------------

func TestSingleShotTextTurn(testingHandle *testing.T) {
	prov := &fakeProvider{streams: [][]*sse.Event{textTurn("hello")}}
	runner := &Runner{
		Provider:    prov,
		Tools:       tool.NewRegistry(),
		Permissions: ludicrousPermissions(testingHandle),
		Model:       "claude-test",
		MaxTokens:   100,
	}

	result, err := runner.Run(context.Background(), cancel.New(), nil, nil)
	testutil.RequireNoError(testingHandle, err, "run")
	testutil.RequireEqual(testingHandle, result.NumCalls, 1, "expected a single provider call")
	testutil.RequireEqual(testingHandle, len(result.Messages), 1, "expected one assistant message, no tool round trip")
	testutil.RequireEqual(testingHandle, result.Final.Content[0].Text, "hello", "expected assembled text")
}

func TestReadToolRoundTrip(testingHandle *testing.T) {
	readTool := &stubTool{name: "Read", mutating: false, result: tool.Result{Content: "# Title"}}
	registry := tool.NewRegistry(readTool)

	prov := &fakeProvider{streams: [][]*sse.Event{
		toolUseTurn("t1", "Read", `{"file_path":"/repo/README.md"}`),
		textTurn("It is about things."),
	}}
	runner := &Runner{
		Provider:    prov,
		Tools:       registry,
		Permissions: ludicrousPermissions(testingHandle),
		Model:       "claude-test",
		MaxTokens:   100,
	}

	result, err := runner.Run(context.Background(), cancel.New(), nil, nil)
	testutil.RequireNoError(testingHandle, err, "run")
	testutil.RequireEqual(testingHandle, result.NumCalls, 2, "expected two provider calls")
	testutil.RequireEqual(testingHandle, readTool.calls, 1, "expected Read invoked once")

	toolResultMessage := result.Messages[1]
	testutil.RequireEqual(testingHandle, toolResultMessage.Role, provider.RoleUser, "tool results go in a user message")
	testutil.RequireEqual(testingHandle, len(toolResultMessage.Content), 1, "expected exactly one ToolResult")
	testutil.RequireEqual(testingHandle, toolResultMessage.Content[0].ToolUseID, "t1", "ToolResult must match ToolUse id")
	testutil.RequireEqual(testingHandle, toolResultMessage.Content[0].Content, "# Title", "expected tool output content")
}

func TestTurnLimitExceeded(testingHandle *testing.T) {
	bashTool := &stubTool{name: "Bash", mutating: true, result: tool.Result{Content: "ok"}}
	registry := tool.NewRegistry(bashTool)

	streams := make([][]*sse.Event, 3)
	for i := range streams {
		streams[i] = toolUseTurn("t", "Bash", `{"command":"ls"}`)
	}
	prov := &fakeProvider{streams: streams}
	runner := &Runner{
		Provider:        prov,
		Tools:           registry,
		Permissions:     ludicrousPermissions(testingHandle),
		Model:           "claude-test",
		MaxTokens:       100,
		MaxCallsPerTurn: 3,
	}

	_, err := runner.Run(context.Background(), cancel.New(), nil, nil)
	testutil.RequireTrue(testingHandle, errors.Is(err, ErrTurnLimitExceeded), "expected turn limit error")
	testutil.RequireEqual(testingHandle, prov.calls, 3, "expected exactly MaxCallsPerTurn provider calls")
}

func TestCancelledInsideToolPreventsFurtherDispatch(testingHandle *testing.T) {
	cancelledTool := &stubTool{name: "Bash", mutating: true, err: cancel.ErrCancelled}
	neverCalled := &stubTool{name: "Write", mutating: true, result: tool.Result{Content: "should not run"}}
	registry := tool.NewRegistry(cancelledTool, neverCalled)

	events := []*sse.Event{evMessageStart()}
	events = append(events, evToolUseBlock(0, "t1", "Bash", `{"command":"sleep 100"}`)...)
	events = append(events, evToolUseBlock(1, "t2", "Write", `{"file_path":"x"}`)...)
	events = append(events, evMessageDelta(string(provider.StopToolUse)), evMessageStop())

	prov := &fakeProvider{streams: [][]*sse.Event{events}}
	runner := &Runner{
		Provider:    prov,
		Tools:       registry,
		Permissions: ludicrousPermissions(testingHandle),
		Model:       "claude-test",
		MaxTokens:   100,
	}

	result, err := runner.Run(context.Background(), cancel.New(), nil, nil)
	testutil.RequireTrue(testingHandle, errors.Is(err, cancel.ErrCancelled), "expected cancellation to propagate")
	testutil.RequireTrue(testingHandle, result.Cancelled, "expected Result.Cancelled to be set")
	testutil.RequireEqual(testingHandle, neverCalled.calls, 0, "tool after a cancelled one must never be invoked")

	toolResults := result.Messages[1].Content
	testutil.RequireEqual(testingHandle, len(toolResults), 2, "expected one ToolResult per ToolUse even after cancellation")
	testutil.RequireEqual(testingHandle, toolResults[0].Content, "cancelled", "first tool's own cancellation result")
	testutil.RequireEqual(testingHandle, toolResults[1].Content, "cancelled", "second tool's synthesized cancellation result")
	testutil.RequireTrue(testingHandle, toolResults[1].IsError, "synthesized cancellation result must be is_error")
}

func TestPlanModeRestrictsToolRegistry(testingHandle *testing.T) {
	bashTool := &stubTool{name: "Bash", mutating: true, result: tool.Result{Content: "ok"}}
	readTool := &stubTool{name: "Read", mutating: false, result: tool.Result{Content: "contents"}}
	registry := tool.NewRegistry(readTool, bashTool)

	prov := &fakeProvider{streams: [][]*sse.Event{
		toolUseTurn("t1", "Bash", `{"command":"ls"}`),
		textTurn("understood"),
	}}
	runner := &Runner{
		Provider:    prov,
		Tools:       registry,
		Permissions: ludicrousPermissions(testingHandle),
		Model:       "claude-test",
		MaxTokens:   100,
		PlanMode:    true,
	}

	result, err := runner.Run(context.Background(), cancel.New(), nil, nil)
	testutil.RequireNoError(testingHandle, err, "run")
	testutil.RequireEqual(testingHandle, bashTool.calls, 0, "Bash must not run in plan mode")
	toolResults := result.Messages[1].Content
	testutil.RequireTrue(testingHandle, toolResults[0].IsError, "unavailable tool in plan mode must report is_error")
}

func TestTaskToolRunsNestedAgentLoop(testingHandle *testing.T) {
	bashTool := &stubTool{name: "Bash", mutating: true, result: tool.Result{Content: "ok"}}
	base := tool.NewRegistry(bashTool)

	prov := &fakeProvider{streams: [][]*sse.Event{
		toolUseTurn("t1", "Task", `{"prompt":"figure out the answer"}`),
		textTurn("42"),
		textTurn("the subagent said 42"),
	}}

	parent := &Runner{
		Provider:    prov,
		Tools:       base,
		Permissions: ludicrousPermissions(testingHandle),
		Model:       "claude-test",
		MaxTokens:   100,
	}
	parent.Tools = base.Add(&TaskTool{Parent: parent})

	result, err := parent.Run(context.Background(), cancel.New(), nil, nil)
	testutil.RequireNoError(testingHandle, err, "run")
	testutil.RequireEqual(testingHandle, prov.calls, 3, "expected parent call, nested subagent call, parent's follow-up call")
	testutil.RequireEqual(testingHandle, bashTool.calls, 0, "subagent never invoked Bash in this script")

	toolResultMessage := result.Messages[1]
	testutil.RequireEqual(testingHandle, len(toolResultMessage.Content), 1, "expected exactly one ToolResult for the Task call")
	testutil.RequireEqual(testingHandle, toolResultMessage.Content[0].ToolUseID, "t1", "ToolResult must match the Task ToolUse id")
	testutil.RequireEqual(testingHandle, toolResultMessage.Content[0].Content, "42", "Task result is the subagent's final assistant text")
	testutil.RequireTrue(testingHandle, !toolResultMessage.Content[0].IsError, "a successful subagent run is not an error result")
}

func TestTaskToolRegistryExcludesItselfFromSubagent(testingHandle *testing.T) {
	base := tool.NewRegistry(&stubTool{name: "Read", mutating: false})
	parent := &Runner{Tools: base}
	parent.Tools = base.Add(&TaskTool{Parent: parent})

	builtinsOnly, err := parent.Tools.Filter(nil, []string{"Task"})
	testutil.RequireNoError(testingHandle, err, "filter out Task")
	for _, name := range builtinsOnly.Names() {
		testutil.RequireTrue(testingHandle, name != "Task", "subagent registry must not advertise Task, preventing recursive spawning")
	}
}

func TestPermissionBlockProducesErrorResultAndContinues(testingHandle *testing.T) {
	bashTool := &stubTool{name: "Bash", mutating: true, result: tool.Result{Content: "ok"}}
	registry := tool.NewRegistry(bashTool)

	cfg := &config.Config{Permissions: config.PermissionsConfig{Rules: []config.PermissionRuleConfig{
		{Tool: "Bash", Level: "block"},
	}}}
	engine, err := permission.New(cfg, false, nil, zerolog.Nop())
	testutil.RequireNoError(testingHandle, err, "build permission engine")

	prov := &fakeProvider{streams: [][]*sse.Event{
		toolUseTurn("t1", "Bash", `{"command":"ls"}`),
		textTurn("understood"),
	}}
	runner := &Runner{
		Provider:    prov,
		Tools:       registry,
		Permissions: engine,
		Model:       "claude-test",
		MaxTokens:   100,
	}

	result, runErr := runner.Run(context.Background(), cancel.New(), nil, nil)
	testutil.RequireNoError(testingHandle, runErr, "run")
	testutil.RequireEqual(testingHandle, bashTool.calls, 0, "blocked tool must not execute")
	toolResults := result.Messages[1].Content
	testutil.RequireTrue(testingHandle, toolResults[0].IsError, "blocked call must report is_error")
}
