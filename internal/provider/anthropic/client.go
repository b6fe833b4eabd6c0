// Package anthropic implements the concrete provider.Provider against
// the Anthropic Messages streaming API (spec §6's HTTP contract). It is
// grounded in the teacher's internal/llm/openai/client.go (APIError
// shape, Client struct, base-URL-plus-path construction) adapted from
// OpenAI's chat/completions semantics to Anthropic's /v1/messages
// content-block protocol, with headers and version string grounded in
// the wider retrieval pack's Anthropic provider
// (anthropicVersion = "2023-06-01").
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/scottyj503/chet/internal/provider"
	"github.com/scottyj503/chet/internal/retry"
	"github.com/scottyj503/chet/internal/sse"
)

const anthropicVersion = "2023-06-01"
const defaultBaseURL = "https://api.anthropic.com"

// Client is a provider.Provider backed by the real Anthropic Messages
// API. The underlying http.Client carries no request timeout: per
// spec §5, the core imposes none on the provider stream and relies on
// the caller's context for cancellation.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig retry.Config
	logger      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client, primarily for
// tests pointed at an httptest.Server.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger attaches a structured logger for request-level
// diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a Client targeting baseURL (defaulting to the
// public Anthropic API when empty) with the given retry policy.
func NewClient(baseURL, apiKey string, retryConfig retry.Config, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		retryConfig: retryConfig,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type wireRequest struct {
	provider.Request
	Stream bool `json:"stream"`
}

// Stream issues one POST /v1/messages request, retrying the attempt
// per the retry policy, and returns a provider.Stream over the
// resulting SSE body. A non-2xx response that survives the retry
// budget is classified into the spec §7 error kinds.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	body, err := json.Marshal(wireRequest{Request: req, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	var lastErrBody []byte
	attempt := retry.Do(ctx, c.retryConfig, func(ctx context.Context) retry.Attempt {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return retry.Attempt{Err: err}
		}
		c.setHeaders(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Debug().Err(err).Msg("anthropic request transport failure")
			return retry.Attempt{Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErrBody = data
			c.logger.Debug().Int("status", resp.StatusCode).Msg("anthropic request non-200")
			return retry.Attempt{Response: &http.Response{StatusCode: resp.StatusCode, Header: resp.Header}}
		}
		return retry.Attempt{Response: resp}
	})

	if attempt.Err != nil {
		return nil, fmt.Errorf("anthropic stream request: %w", attempt.Err)
	}

	resp := attempt.Response
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &provider.AuthenticationError{Message: string(lastErrBody)}
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &provider.RequestError{StatusCode: resp.StatusCode, Message: string(lastErrBody)}
	case resp.StatusCode != http.StatusOK:
		return nil, &provider.UnavailableError{StatusCode: resp.StatusCode, Message: string(lastErrBody)}
	}

	return &stream{resp: resp, decoder: sse.NewDecoder(resp.Body)}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

type stream struct {
	resp    *http.Response
	decoder *sse.Decoder
}

func (s *stream) Next() (*sse.Event, error) { return s.decoder.Next() }
func (s *stream) Close() error              { return s.resp.Body.Close() }
