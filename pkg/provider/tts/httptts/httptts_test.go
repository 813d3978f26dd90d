package httptts_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxkit/voxloop/pkg/provider/tts/httptts"
)

func TestSynthesizeReturnsAudioAndUsage(t *testing.T) {
	t.Parallel()

	audio := []byte("RIFF-payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte(`"text":"Hello there."`)) {
			t.Errorf("request body = %s", body)
		}
		w.Header().Set("x-audio-details", `{"cost":0.001,"promptChar":12,"latencyMs":85}`)
		w.Write(audio)
	}))
	defer srv.Close()

	c, err := httptts.New(srv.URL, "test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload, err := c.Synthesize(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(payload.Audio, audio) {
		t.Errorf("audio = %q, want %q", payload.Audio, audio)
	}
	if payload.Usage == nil {
		t.Fatal("usage = nil, want parsed header")
	}
	if payload.Usage.Cost != 0.001 || payload.Usage.PromptChars != 12 {
		t.Errorf("usage = %+v", payload.Usage)
	}
	if !payload.Usage.HasLatency || payload.Usage.LatencyMs != 85 {
		t.Errorf("latency = %v (has=%v), want 85", payload.Usage.LatencyMs, payload.Usage.HasLatency)
	}
}

func TestMalformedUsageHeaderIgnored(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-audio-details", `{not json`)
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	c, _ := httptts.New(srv.URL, "")
	payload, err := c.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if payload.Usage != nil {
		t.Errorf("usage = %+v, want nil for malformed header", payload.Usage)
	}
}

func TestMissingUsageHeaderYieldsNil(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	c, _ := httptts.New(srv.URL, "")
	payload, err := c.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if payload.Usage != nil {
		t.Errorf("usage = %+v, want nil", payload.Usage)
	}
}

func TestNonSuccessStatusFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "synthesis backend down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := httptts.New(srv.URL, "")
	if _, err := c.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestEmptyPayloadFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, _ := httptts.New(srv.URL, "")
	if _, err := c.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestNewRejectsEmptyEndpoint(t *testing.T) {
	if _, err := httptts.New("", "key"); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
