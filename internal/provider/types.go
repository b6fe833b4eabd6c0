// Package provider defines the content-block message model and the
// uniform streaming provider abstraction (spec §3, §4.3) that the
// agent loop programs against without knowing which concrete LLM
// backend it holds.
package provider

import "encoding/json"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates ContentBlock's tagged-union fields.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
	BlockImage      BlockType = "image"
)

// CacheControl annotates a block or tool definition as eligible for
// provider-side prompt caching.
type CacheControl struct {
	Type string `json:"type"`
}

// Ephemeral is the sole cache_control value chet uses, per spec §6.
func Ephemeral() *CacheControl { return &CacheControl{Type: "ephemeral"} }

// ContentBlock is the tagged-union content unit of spec §3. Only the
// fields relevant to Type are populated; the rest are zero and omitted
// from JSON. Thinking blocks must round-trip Text and Signature
// byte-exact across turns.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text
	Text string `json:"text,omitempty"`

	// ToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Thinking
	Signature string `json:"signature,omitempty"`

	// Image
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// TextBlock builds a plain prose block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool invocation request block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool outcome block answering toolUseID.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// ThinkingBlock builds a model-reasoning block. Callers must preserve
// text and signature verbatim when echoing it back in a later request.
func ThinkingBlock(text, signature string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Text: text, Signature: signature}
}

// ImageBlock builds a base64-encoded image block.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, Data: data}
}

// Message pairs a role with an ordered, non-deduplicated content
// sequence.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Usage mirrors spec §3's token accounting fields. Unset fields
// default to zero.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// Add merges another Usage's counters in, used to fold message_start's
// initial usage with message_delta's output-tokens-only update.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// StopReason enumerates why the provider ended the assistant turn.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// ToolDefinition is the provider-facing shape of a registered tool
// (spec §4.5's name/description/input_schema, minus the run body).
type ToolDefinition struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"input_schema"`
	CacheControl *CacheControl  `json:"cache_control,omitempty"`
}

// ThinkingConfig enables extended reasoning with a token budget.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// Request is the provider-agnostic shape of one streaming call.
type Request struct {
	Model         string           `json:"model"`
	MaxTokens     int              `json:"max_tokens"`
	Messages      []Message        `json:"messages"`
	System        []ContentBlock   `json:"system,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	Thinking      *ThinkingConfig  `json:"thinking,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
}
