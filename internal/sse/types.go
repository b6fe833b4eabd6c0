package sse

import "encoding/json"

// Frame is one dispatched server-sent event before JSON decoding: the
// optional event name and the (possibly multi-line, newline-joined)
// data body.
type Frame struct {
	Event string
	Data  []byte
}

// Kind enumerates the typed event kinds a provider stream emits, per
// the Anthropic Messages streaming protocol.
type Kind string

const (
	KindMessageStart      Kind = "message_start"
	KindContentBlockStart Kind = "content_block_start"
	KindContentBlockDelta Kind = "content_block_delta"
	KindContentBlockStop  Kind = "content_block_stop"
	KindMessageDelta      Kind = "message_delta"
	KindMessageStop       Kind = "message_stop"
	KindPing              Kind = "ping"
	KindError             Kind = "error"
	KindUnknown            Kind = "unknown"
)

// Usage mirrors the provider's token accounting fields. Unset fields
// default to zero.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// MessagePreamble is the partial message envelope carried by
// message_start, before any content blocks have streamed in.
type MessagePreamble struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Role  string `json:"role"`
	Usage Usage  `json:"usage"`
}

// MessageStartEvent is emitted once per assistant turn.
type MessageStartEvent struct {
	Message MessagePreamble `json:"message"`
}

// BlockDeclaration describes the type of content block being opened by
// content_block_start; only the fields relevant to that type are
// populated (e.g. ID/Name for tool_use, Text for text). A thinking
// block's signature arrives only through signature_delta.
type BlockDeclaration struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ContentBlockStartEvent opens a new content block at Index.
type ContentBlockStartEvent struct {
	Index        int              `json:"index"`
	ContentBlock BlockDeclaration `json:"content_block"`
}

// Delta is the discriminated union of content_block_delta payloads.
// Exactly one of the kind-specific fields is populated, chosen by Type.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
}

const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
	DeltaTypeThinking  = "thinking_delta"
	DeltaTypeSignature = "signature_delta"
)

// ContentBlockDeltaEvent appends incremental content to the block at
// Index.
type ContentBlockDeltaEvent struct {
	Index int   `json:"index"`
	Delta Delta `json:"delta"`
}

// ContentBlockStopEvent finalizes the block at Index.
type ContentBlockStopEvent struct {
	Index int `json:"index"`
}

// MessageDeltaPayload carries the stop reason and stop sequence; the
// accompanying usage update sits on MessageDeltaEvent itself.
type MessageDeltaPayload struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageDeltaEvent records the terminal stop reason and merges usage.
type MessageDeltaEvent struct {
	Delta MessageDeltaPayload `json:"delta"`
	Usage Usage                `json:"usage"`
}

// MessageStopEvent signals the assistant message is complete.
type MessageStopEvent struct{}

// PingEvent is a keep-alive with no payload of interest.
type PingEvent struct{}

// ErrorDetail carries the provider's machine-readable error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorEvent is a terminal provider-reported error mid-stream.
type ErrorEvent struct {
	Error ErrorDetail `json:"error"`
}

// Event is a decoded, typed stream event. Exactly one of the typed
// fields is non-nil, selected by Kind. Unknown event kinds are
// preserved in Raw for diagnostics but are not fatal.
type Event struct {
	Kind Kind

	MessageStart      *MessageStartEvent
	ContentBlockStart *ContentBlockStartEvent
	ContentBlockDelta *ContentBlockDeltaEvent
	ContentBlockStop  *ContentBlockStopEvent
	MessageDelta      *MessageDeltaEvent
	MessageStop       *MessageStopEvent
	Ping              *PingEvent
	Error             *ErrorEvent

	Raw json.RawMessage
}
