package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxkit/voxloop/internal/app"
	"github.com/voxkit/voxloop/internal/config"
	"github.com/voxkit/voxloop/pkg/audio"
	"github.com/voxkit/voxloop/pkg/audio/wsbridge"
)

type controlMsg struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Providers.STT.Endpoint = "https://stt.example.com/v1/transcribe"
	cfg.Providers.STT.Model = "fast-stt"
	cfg.Providers.TTS.Endpoint = "https://tts.example.com/v1/speak"
	cfg.Audio.Platform = "desktop"
	cfg.Audio.SampleRate = 48000
	cfg.Audio.CaptureRate = 16000
	return cfg
}

func dialBridge(t *testing.T) (*wsbridge.Bridge, *websocket.Conn) {
	t.Helper()

	bridgeCh := make(chan *wsbridge.Bridge, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := wsbridge.Accept(w, r)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		bridgeCh <- b
		<-b.Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })

	select {
	case b := <-bridgeCh:
		t.Cleanup(func() { b.Close() })
		return b, conn
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never accepted")
		return nil, nil
	}
}

func TestStartAssemblesSession(t *testing.T) {
	sm := app.NewSessionManager(testConfig(), nil)
	bridge, _ := dialBridge(t)

	sess, err := sm.Start(context.Background(), bridge)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sm.IsActive() {
		t.Error("IsActive = false after Start")
	}
	if sess.Pipeline() == nil || sess.Orchestrator() == nil {
		t.Fatal("session missing assembled components")
	}
	if !sess.Orchestrator().Active() {
		t.Error("handsfree not activated on session start")
	}

	if _, err := sm.Start(context.Background(), bridge); err == nil {
		t.Error("second Start should fail while a session is active")
	}

	if err := sm.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sm.IsActive() {
		t.Error("IsActive = true after Stop")
	}
	if sm.Active() != nil {
		t.Error("Active() non-nil after Stop")
	}
	if err := sm.Stop(context.Background()); err == nil {
		t.Error("Stop without a session should fail")
	}
}

func TestStartRequiresProviderEndpoints(t *testing.T) {
	bridge, _ := dialBridge(t)

	cfg := testConfig()
	cfg.Providers.STT.Endpoint = ""
	if _, err := app.NewSessionManager(cfg, nil).Start(context.Background(), bridge); err == nil {
		t.Error("Start should fail without an STT endpoint")
	}

	cfg = testConfig()
	cfg.Providers.TTS.Endpoint = ""
	if _, err := app.NewSessionManager(cfg, nil).Start(context.Background(), bridge); err == nil {
		t.Error("Start should fail without a TTS endpoint")
	}
}

// The conversational loop runs through the host connection: completed
// transcripts arrive as "transcript" control events, and the host answers
// with "speak" events that drive audible playback.

func TestTranscriptFlowsToHost(t *testing.T) {
	stt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"transcript.text.delta\",\"delta\":\"hi there\"}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	t.Cleanup(stt.Close)

	cfg := testConfig()
	cfg.Providers.STT.Endpoint = stt.URL

	sm := app.NewSessionManager(cfg, nil)
	bridge, conn := dialBridge(t)
	sess, err := sm.Start(context.Background(), bridge)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sm.Stop(context.Background()) })

	ctx := context.Background()
	if err := sess.Orchestrator().StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	// A quiet mic frame from the host; content does not matter, only that
	// the recorder accumulates something to upload.
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 1920)); err != nil {
		t.Fatalf("write mic frame: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	sess.Orchestrator().StopRecording(ctx)

	deadline, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		typ, data, err := conn.Read(deadline)
		if err != nil {
			t.Fatalf("transcript event never arrived: %v", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg controlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		if msg.Type != "transcript" {
			continue
		}
		if msg.Text != "hi there" {
			t.Errorf("transcript text = %q, want %q", msg.Text, "hi there")
		}
		return
	}
}

func TestSpeakEventDrivesPlayback(t *testing.T) {
	pcm := make([]byte, 3200)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav, err := audio.EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	tts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(wav)
	}))
	t.Cleanup(tts.Close)

	cfg := testConfig()
	cfg.Providers.TTS.Endpoint = tts.URL

	sm := app.NewSessionManager(cfg, nil)
	bridge, conn := dialBridge(t)
	if _, err := sm.Start(context.Background(), bridge); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sm.Stop(context.Background()) })

	ctx := context.Background()
	payload, _ := json.Marshal(controlMsg{Type: "speak", TurnID: "turn-1", Text: "Hello there."})
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write speak event: %v", err)
	}

	// Speaker frames flow back to the host once synthesis lands.
	deadline, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		typ, _, err := conn.Read(deadline)
		if err != nil {
			t.Fatalf("speaker frames never arrived: %v", err)
		}
		if typ == websocket.MessageBinary {
			return
		}
	}
}

func TestHostDisconnectStopsSession(t *testing.T) {
	sm := app.NewSessionManager(testConfig(), nil)
	bridge, conn := dialBridge(t)

	if _, err := sm.Start(context.Background(), bridge); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn.Close(websocket.StatusNormalClosure, "host gone")

	deadline := time.Now().Add(5 * time.Second)
	for sm.IsActive() {
		if time.Now().After(deadline) {
			t.Fatal("session still active after the host disconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
