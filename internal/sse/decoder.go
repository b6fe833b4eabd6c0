// Package sse implements the incremental, line-oriented server-sent
// event framer and typed event decoder that sits under the provider
// abstraction (spec §4.1). It is grounded in the teacher's
// bufio.Reader-based SSE line scanning in internal/llm/openai/stream.go,
// generalized from OpenAI's single-field "data: {...}\n\n" chunks to
// Anthropic's event:/data: paired frames, and enriched with the
// per-event-type switch shown in the wider retrieval pack's Anthropic
// provider implementation.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ProtocolError wraps a malformed SSE frame or JSON body. It is
// terminal for the stream: the decoder does not attempt to resync.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sse protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sse protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Decoder incrementally parses an SSE byte stream into typed Events. It
// is safe to feed it arbitrarily chunked reads: bufio.Reader retains
// partial lines across underlying Read calls, and Decoder itself
// retains an in-progress frame (event name plus accumulated data
// lines) until a dispatching blank line is seen, so no event is
// dropped or duplicated regardless of how the byte stream is sliced.
type Decoder struct {
	reader *bufio.Reader

	pendingEvent string
	pendingData  []string
}

// NewDecoder wraps r for incremental SSE decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReader(r)}
}

// NextFrame returns the next raw (event, data) frame, or io.EOF once the
// stream is exhausted with no further frames pending.
func (d *Decoder) NextFrame() (Frame, error) {
	for {
		line, err := d.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line != "" {
			d.consumeLine(line)
		}

		atDispatchBoundary := line == ""
		if atDispatchBoundary && (d.pendingEvent != "" || len(d.pendingData) > 0) {
			frame := d.dispatch()
			if err != nil && !errors.Is(err, io.EOF) {
				return frame, err
			}
			return frame, nil
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				// Stream ended; flush whatever frame was in progress
				// even without a trailing blank line.
				if d.pendingEvent != "" || len(d.pendingData) > 0 {
					return d.dispatch(), nil
				}
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
	}
}

// consumeLine applies one SSE field line to the in-progress frame.
func (d *Decoder) consumeLine(line string) {
	if strings.HasPrefix(line, ":") {
		// Comment line; ignored.
		return
	}
	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "event":
		d.pendingEvent = value
	case "data":
		d.pendingData = append(d.pendingData, value)
	default:
		// Other fields (id, retry) are not part of this protocol.
	}
}

func (d *Decoder) dispatch() Frame {
	frame := Frame{
		Event: d.pendingEvent,
		Data:  []byte(strings.Join(d.pendingData, "\n")),
	}
	d.pendingEvent = ""
	d.pendingData = nil
	return frame
}

// Next decodes the next typed Event. It returns io.EOF when the stream
// is exhausted. A malformed JSON body surfaces as *ProtocolError and is
// terminal: callers must not call Next again afterward.
func (d *Decoder) Next() (*Event, error) {
	for {
		frame, err := d.NextFrame()
		if err != nil {
			return nil, err
		}
		if len(frame.Data) == 0 {
			// A dispatched frame with no data body (e.g. a bare
			// "event:" line) carries no JSON to decode; skip it.
			continue
		}

		var typeProbe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame.Data, &typeProbe); err != nil {
			return nil, &ProtocolError{Reason: "malformed event JSON", Err: err}
		}

		kind := Kind(typeProbe.Type)
		if kind == "" {
			kind = Kind(frame.Event)
		}

		event := &Event{Kind: kind, Raw: frame.Data}
		switch kind {
		case KindMessageStart:
			var payload MessageStartEvent
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				return nil, &ProtocolError{Reason: "decode message_start", Err: err}
			}
			event.MessageStart = &payload
		case KindContentBlockStart:
			var payload ContentBlockStartEvent
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				return nil, &ProtocolError{Reason: "decode content_block_start", Err: err}
			}
			event.ContentBlockStart = &payload
		case KindContentBlockDelta:
			var payload ContentBlockDeltaEvent
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				return nil, &ProtocolError{Reason: "decode content_block_delta", Err: err}
			}
			event.ContentBlockDelta = &payload
		case KindContentBlockStop:
			var payload ContentBlockStopEvent
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				return nil, &ProtocolError{Reason: "decode content_block_stop", Err: err}
			}
			event.ContentBlockStop = &payload
		case KindMessageDelta:
			var payload MessageDeltaEvent
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				return nil, &ProtocolError{Reason: "decode message_delta", Err: err}
			}
			event.MessageDelta = &payload
		case KindMessageStop:
			event.MessageStop = &MessageStopEvent{}
		case KindPing:
			event.Ping = &PingEvent{}
		case KindError:
			var payload ErrorEvent
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				return nil, &ProtocolError{Reason: "decode error event", Err: err}
			}
			event.Error = &payload
		default:
			event.Kind = KindUnknown
		}
		return event, nil
	}
}

// All drains the decoder until io.EOF, returning every event in order.
// Intended for tests and small fixture replays, not production
// streaming (which should process events as they arrive).
func All(d *Decoder) ([]*Event, error) {
	var events []*Event
	for {
		event, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}
