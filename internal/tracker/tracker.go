// Package tracker implements the context tracker and compactor (spec
// §4.9): a cheap chars/4 token estimate for window-utilization display,
// and user-triggered compaction that archives the live transcript,
// summarizes it with a one-shot provider call, and replaces it with a
// single synthetic user turn. There is no teacher equivalent; this
// package is grounded directly on spec §4.9 and the already-built
// internal/provider client, since a compaction call is just another
// Request drained to completion rather than dispatched through the
// full agent loop.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/scottyj503/chet/internal/agent"
	"github.com/scottyj503/chet/internal/assembler"
	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/session"
)

// charsPerToken is the cheap estimation ratio spec §4.9 specifies.
// Provider usage counters remain authoritative for billing; this is
// only for interactive display.
const charsPerToken = 4

// EstimateTokens returns the chars/4 heuristic token count over the
// serialized transcript.
func EstimateTokens(messages []provider.Message) (int, error) {
	data, err := json.Marshal(messages)
	if err != nil {
		return 0, fmt.Errorf("serialize transcript: %w", err)
	}
	return len(data) / charsPerToken, nil
}

// Utilization reports what fraction of windowTokens the estimated
// token count occupies. Returns 0 if windowTokens is non-positive.
func Utilization(estimatedTokens, windowTokens int) float64 {
	if windowTokens <= 0 {
		return 0
	}
	return float64(estimatedTokens) / float64(windowTokens)
}

// Compact performs spec §4.9's user-triggered compaction:
//  1. Archive the full live transcript.
//  2. Summarize it with a one-shot provider call.
//  3. Replace the transcript with a single "[user: <summary>]" turn.
//
// id, label, mode, and session-scoped permission rules are left
// untouched; only sess.Messages is replaced. Compact saves sess via
// store after replacing the transcript.
func Compact(ctx context.Context, store *session.Store, sess *session.Session, prov provider.Provider, model string, maxTokens int) error {
	if err := store.Archive(sess, time.Now()); err != nil {
		return fmt.Errorf("archive transcript before compaction: %w", err)
	}

	summary, err := summarize(ctx, prov, model, maxTokens, sess.Messages)
	if err != nil {
		return fmt.Errorf("summarize transcript: %w", err)
	}

	sess.Messages = []provider.Message{
		{Role: provider.RoleUser, Content: []provider.ContentBlock{
			provider.TextBlock(fmt.Sprintf("[user: %s]", summary)),
		}},
	}

	return store.Save(sess)
}

// summarize drains a single non-tool provider call over the serialized
// transcript and returns the assistant's concatenated text response.
func summarize(ctx context.Context, prov provider.Provider, model string, maxTokens int, transcript []provider.Message) (string, error) {
	data, err := json.Marshal(transcript)
	if err != nil {
		return "", fmt.Errorf("serialize transcript: %w", err)
	}

	req := provider.Request{
		Model:     model,
		MaxTokens: maxTokens,
		System:    agent.SystemBlocks(agent.SummarizationSystemPrompt),
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: []provider.ContentBlock{provider.TextBlock(string(data))}},
		},
	}

	stream, err := prov.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	asm := assembler.New()
	for {
		event, readErr := stream.Next()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
		if applyErr := asm.Apply(event); applyErr != nil {
			return "", applyErr
		}
	}

	return textOf(asm.Message()), nil
}

// textOf concatenates every text block of message, in order.
func textOf(message provider.Message) string {
	text := ""
	for _, block := range message.Content {
		if block.Type == provider.BlockText {
			text += block.Text
		}
	}
	return text
}
