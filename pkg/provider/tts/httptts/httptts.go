// Package httptts provides an HTTP-backed TTS synthesizer. It POSTs text to
// the synthesis collaborator and returns the binary audio payload, parsing
// the optional x-audio-details usage header. It implements tts.Synthesizer.
package httptts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxkit/voxloop/pkg/provider/tts"
)

// usageHeader is the response header carrying the backend's usage record.
const usageHeader = "x-audio-details"

// defaultTimeout bounds a single synthesis round-trip. Chunk texts are short
// (a sentence or two), so a slow response is better failed than waited on.
const defaultTimeout = 30 * time.Second

// Compile-time assertion that Client implements tts.Synthesizer.
var _ tts.Synthesizer = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for synthesis requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides the per-request timeout. Ignored when
// WithHTTPClient supplied a client with its own timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client implements tts.Synthesizer against an HTTP synthesis endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client for the given endpoint URL. endpoint must be
// non-empty; apiKey may be empty when the collaborator is unauthenticated.
func New(endpoint, apiKey string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("httptts: endpoint must not be empty")
	}
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// synthesizeRequest is the JSON body sent to the synthesis endpoint.
type synthesizeRequest struct {
	Text string `json:"text"`
}

// audioDetails mirrors the x-audio-details header JSON.
type audioDetails struct {
	Cost       *float64 `json:"cost"`
	PromptChar *int     `json:"promptChar"`
	LatencyMs  *float64 `json:"latencyMs"`
}

// Synthesize POSTs text to the endpoint and returns the binary payload.
// A non-2xx status or an empty body is a hard failure for the chunk.
func (c *Client) Synthesize(ctx context.Context, text string) (*tts.Payload, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("httptts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httptts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httptts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little of the body for the error message, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("httptts: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httptts: read payload: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("httptts: empty audio payload")
	}

	return &tts.Payload{
		Audio: audio,
		Usage: parseUsageHeader(resp.Header.Get(usageHeader)),
	}, nil
}

// parseUsageHeader parses the x-audio-details JSON. A missing or malformed
// header yields nil without failing the fetch.
func parseUsageHeader(raw string) *tts.Usage {
	if raw == "" {
		return nil
	}
	var details audioDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		slog.Warn("httptts: ignoring malformed usage header", "header", raw, "err", err)
		return nil
	}
	if details.Cost == nil && details.PromptChar == nil && details.LatencyMs == nil {
		return nil
	}

	u := &tts.Usage{}
	if details.Cost != nil {
		u.Cost = *details.Cost
	}
	if details.PromptChar != nil {
		u.PromptChars = *details.PromptChar
	}
	if details.LatencyMs != nil {
		u.LatencyMs = *details.LatencyMs
		u.HasLatency = true
	}
	return u
}
