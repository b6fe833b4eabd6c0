package provider

import (
	"context"
	"fmt"

	"github.com/scottyj503/chet/internal/sse"
)

// Stream yields the typed events of one in-flight provider call. Next
// returns io.EOF once the provider has sent message_stop and the
// underlying transport has closed cleanly. Close releases the
// underlying connection and must be safe to call after Next has
// already returned an error or io.EOF.
type Stream interface {
	Next() (*sse.Event, error)
	Close() error
}

// Provider is the single operation spec §4.3 names: request in, typed
// event stream out. Implementations own their authentication, retry,
// and cache-control annotation; the agent loop holds only this
// interface and never branches on concrete provider type.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// AuthenticationError corresponds to spec §7's Authentication error:
// HTTP 401, not retried, exits the session.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication error: %s", e.Message)
}

// RequestError corresponds to spec §7's Request error: HTTP 400,
// surfaced with the server message, terminates the turn.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request error (%d): %s", e.StatusCode, e.Message)
}

// UnavailableError corresponds to spec §7's Transient provider error
// once the retry budget is exhausted.
type UnavailableError struct {
	StatusCode int
	Message    string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider unavailable (%d): %s", e.StatusCode, e.Message)
}
