// Package streamhttp provides an HTTP-backed transcription client. It
// uploads a recording as multipart form data and parses the collaborator's
// newline-delimited "data: <json>" event stream, concatenating text deltas
// until the [DONE] sentinel. It implements stt.Transcriber.
package streamhttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/voxkit/voxloop/pkg/audio/capture"
	"github.com/voxkit/voxloop/pkg/provider/stt"
)

const (
	// dataPrefix marks an event line in the response stream.
	dataPrefix = "data: "

	// doneSentinel terminates the event stream.
	doneSentinel = "[DONE]"

	// deltaEventType identifies an incremental transcript event.
	deltaEventType = "transcript.text.delta"

	// defaultTimeout bounds the full upload + stream round-trip.
	defaultTimeout = 60 * time.Second

	// maxEventLine bounds a single event line. Deltas are words or short
	// phrases; anything larger is a protocol violation worth failing on.
	maxEventLine = 1 << 20
)

// Compile-time assertion that Client implements stt.Transcriber.
var _ stt.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for uploads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides the round-trip timeout. Ignored when WithHTTPClient
// supplied a client with its own timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client implements stt.Transcriber against a streaming HTTP endpoint.
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
		return nil, errors.New("streamhttp: endpoint must not be empty")
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

// streamEvent is the union of event shapes the collaborator emits. Exactly
// one of the two branches is populated per event.
type streamEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Usage *struct {
		Cost       float64 `json:"cost"`
		PromptChar int     `json:"prompt_char"`
		LatencyMs  float64 `json:"latency_ms"`
		TTFCMs     float64 `json:"ttfc_ms"`
	} `json:"usage"`
}

// Transcribe uploads blob as multipart form data and consumes the delta
// stream until [DONE] or EOF. Malformed event lines are skipped; repeated
// [DONE] lines cannot double-terminate because the first one ends the read.
func (c *Client) Transcribe(ctx context.Context, blob capture.Blob, model string) (*stt.Result, error) {
	if len(blob.Data) == 0 {
		return nil, errors.New("streamhttp: empty recording blob")
	}

	body, contentType, err := buildMultipart(blob, model)
	if err != nil {
		return nil, fmt.Errorf("streamhttp: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("streamhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("streamhttp: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("streamhttp: unexpected status %d", resp.StatusCode)
	}

	return parseStream(resp.Body)
}

// buildMultipart assembles the {file, model} form body.
func buildMultipart(blob capture.Blob, model string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filenameForMIME(blob.MIME)+`"`)
	hdr.Set("Content-Type", blob.MIME)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(blob.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

// filenameForMIME picks an upload filename extension matching the blob MIME.
func filenameForMIME(mime string) string {
	if mime == capture.MIMEOpusFrames {
		return "audio.opus"
	}
	return "audio.wav"
}

// parseStream reads "data: <json>" lines from r, concatenating deltas and
// capturing the usage event, until the [DONE] sentinel or EOF.
func parseStream(r io.Reader) (*stt.Result, error) {
	var (
		transcript strings.Builder
		usage      *stt.Usage
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, dataPrefix)
		if payload == doneSentinel {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			slog.Warn("streamhttp: skipping unparseable event", "err", err)
			continue
		}

		switch {
		case ev.Type == deltaEventType:
			transcript.WriteString(ev.Delta)
		case ev.Usage != nil:
			usage = &stt.Usage{
				Cost:        ev.Usage.Cost,
				PromptChars: ev.Usage.PromptChar,
				LatencyMs:   ev.Usage.LatencyMs,
				TTFCMs:      ev.Usage.TTFCMs,
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("streamhttp: read stream: %w", err)
	}

	return &stt.Result{Text: transcript.String(), Usage: usage}, nil
}
