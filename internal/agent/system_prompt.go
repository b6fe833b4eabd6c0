package agent

import (
	"strings"

	"github.com/scottyj503/chet/internal/provider"
)

// DefaultSystemPrompt returns the base system prompt for tool usage.
func DefaultSystemPrompt(toolNames []string) string {
	builder := strings.Builder{}
	builder.WriteString("You are chet, a coding assistant.\n")
	builder.WriteString("Use tools when you need to read or modify files or run commands.\n")
	if len(toolNames) > 0 {
		builder.WriteString("Available tools: ")
		builder.WriteString(strings.Join(toolNames, ", "))
		builder.WriteString(".\n")
	}
	builder.WriteString("When a tool is required, call it instead of guessing.\n")
	builder.WriteString("Provide clear, concise responses.")
	return builder.String()
}

// SystemBlocks wraps prompt in the single cache-control-tagged text
// block spec §6 requires as the system prompt shape, so repeat
// requests in a session incur cache-read pricing instead of
// re-billing the whole prompt every call.
func SystemBlocks(prompt string) []provider.ContentBlock {
	if prompt == "" {
		return nil
	}
	block := provider.TextBlock(prompt)
	block.CacheControl = provider.Ephemeral()
	return []provider.ContentBlock{block}
}

// SummarizationSystemPrompt is the one-shot system prompt used by
// internal/tracker's compaction call (spec §4.9).
const SummarizationSystemPrompt = "Summarize the conversation so far in a few sentences, preserving any decisions, file paths, and open questions the user will need next turn."
