package tracker

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/session"
	"github.com/scottyj503/chet/internal/sse"
	"github.com/scottyj503/chet/internal/testutil"
)

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
	summaryText string
	lastRequest provider.Request
}

func (p *fakeProvider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	p.lastRequest = req
	events := []*sse.Event{
		{Kind: sse.KindMessageStart, MessageStart: &sse.MessageStartEvent{Message: sse.MessagePreamble{ID: "m1"}}},
		{Kind: sse.KindContentBlockStart, ContentBlockStart: &sse.ContentBlockStartEvent{Index: 0, ContentBlock: sse.BlockDeclaration{Type: "text"}}},
		{Kind: sse.KindContentBlockDelta, ContentBlockDelta: &sse.ContentBlockDeltaEvent{Index: 0, Delta: sse.Delta{Type: sse.DeltaTypeText, Text: p.summaryText}}},
		{Kind: sse.KindContentBlockStop, ContentBlockStop: &sse.ContentBlockStopEvent{Index: 0}},
		{Kind: sse.KindMessageDelta, MessageDelta: &sse.MessageDeltaEvent{Delta: sse.MessageDeltaPayload{StopReason: string(provider.StopEndTurn)}}},
		{Kind: sse.KindMessageStop, MessageStop: &sse.MessageStopEvent{}},
	}
	return &fakeStream{events: events}, nil
}

type erroringProvider struct{}

func (erroringProvider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	return nil, errors.New("provider unavailable")
}

func TestEstimateTokensScalesWithTranscriptSize(testingHandle *testing.T) {
	short := []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentBlock{provider.TextBlock("hi")}}}
	long := []provider.Message{{Role: provider.RoleUser, Content: []provider.ContentBlock{provider.TextBlock(
		"this is a considerably longer message that should produce a noticeably larger token estimate than the short one above")}}}

	shortEstimate, err := EstimateTokens(short)
	testutil.RequireNoError(testingHandle, err, "estimate short")
	longEstimate, err := EstimateTokens(long)
	testutil.RequireNoError(testingHandle, err, "estimate long")

	testutil.RequireTrue(testingHandle, longEstimate > shortEstimate, "longer transcript must estimate more tokens")
}

func TestUtilizationZeroWindowIsZero(testingHandle *testing.T) {
	testutil.RequireEqual(testingHandle, Utilization(100, 0), 0.0, "non-positive window must report zero utilization")
}

func TestUtilizationFraction(testingHandle *testing.T) {
	testutil.RequireEqual(testingHandle, Utilization(50, 200), 0.25, "expected a quarter utilization")
}

func TestCompactArchivesSummarizesAndReplacesTranscript(testingHandle *testing.T) {
	store, err := session.NewStore(testingHandle.TempDir())
	testutil.RequireNoError(testingHandle, err, "build store")

	sess := &session.Session{
		ID:    "sess-1",
		Label: "debugging the parser",
		Mode:  session.ModePlan,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: []provider.ContentBlock{provider.TextBlock("why does this crash")}},
			{Role: provider.RoleAssistant, Content: []provider.ContentBlock{provider.TextBlock("because of a nil pointer")}},
		},
		SessionRules: []session.SessionRule{{ToolPattern: "Bash", Level: "block"}},
	}
	testutil.RequireNoError(testingHandle, store.Save(sess), "save initial session")

	prov := &fakeProvider{summaryText: "discussed a nil pointer crash in the parser"}
	err = Compact(context.Background(), store, sess, prov, "claude-test", 512)
	testutil.RequireNoError(testingHandle, err, "compact")

	testutil.RequireEqual(testingHandle, len(sess.Messages), 1, "compaction must leave exactly one message")
	testutil.RequireEqual(testingHandle, sess.Messages[0].Role, provider.RoleUser, "replacement turn is a user message")
	testutil.RequireStringContains(testingHandle, sess.Messages[0].Content[0].Text, "nil pointer crash", "replacement turn must carry the summary")
	testutil.RequireEqual(testingHandle, sess.Label, "debugging the parser", "compaction must preserve label")
	testutil.RequireEqual(testingHandle, sess.Mode, session.ModePlan, "compaction must preserve mode")
	testutil.RequireEqual(testingHandle, len(sess.SessionRules), 1, "compaction must preserve session-scoped permission rules")

	ids, err := store.List()
	testutil.RequireNoError(testingHandle, err, "list")
	testutil.RequireEqual(testingHandle, len(ids), 1, "archive file must not show up as a session")

	archives, err := filepath.Glob(filepath.Join(store.Dir, "sess-1.pre-compact-*.json"))
	testutil.RequireNoError(testingHandle, err, "glob archives")
	testutil.RequireEqual(testingHandle, len(archives), 1, "compaction must write one pre-compact archive")

	reloaded, err := store.Load("sess-1")
	testutil.RequireNoError(testingHandle, err, "reload")
	testutil.RequireEqual(testingHandle, len(reloaded.Messages), 1, "compacted transcript must be persisted")
}

func TestCompactPropagatesProviderError(testingHandle *testing.T) {
	store, err := session.NewStore(testingHandle.TempDir())
	testutil.RequireNoError(testingHandle, err, "build store")

	sess := &session.Session{ID: "sess-1", Mode: session.ModeNormal, Messages: []provider.Message{
		{Role: provider.RoleUser, Content: []provider.ContentBlock{provider.TextBlock("hello")}},
	}}
	testutil.RequireNoError(testingHandle, store.Save(sess), "save initial session")

	err = Compact(context.Background(), store, sess, erroringProvider{}, "claude-test", 512)
	testutil.RequireTrue(testingHandle, err != nil, "expected compaction to fail when the provider errors")
	testutil.RequireEqual(testingHandle, len(sess.Messages), 1, "failed compaction must not touch the in-memory transcript")
}
