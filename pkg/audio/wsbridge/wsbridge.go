// Package wsbridge carries audio between the engine and a host shell over a
// single WebSocket connection. The host owns the physical microphone and
// speaker; the bridge exposes them to the engine as a [capture.Source] and
// an [output.Sink].
//
// Wire protocol: binary messages are raw little-endian PCM16 frames (mic
// frames host to engine, speaker frames engine to host); text messages are
// JSON control events. The host announces its mic format with
// {"type":"format","sample_rate":...,"channels":...} and answers a turn with
// {"type":"speak","turn_id":...,"text":...}; the engine requests and
// releases the mic with "capture.start"/"capture.stop", drives the speaker
// with "muted" and "pause" events, and delivers completed transcripts as
// {"type":"transcript","text":...}.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxkit/voxloop/pkg/audio"
	"github.com/voxkit/voxloop/pkg/audio/capture"
	"github.com/voxkit/voxloop/pkg/audio/output"
)

const (
	// outBufDepth is the speaker write queue depth. Writes beyond it are
	// dropped: a stalled host must not block the playback scheduler.
	outBufDepth = 256

	// sessionBufDepth is the per-capture-session mic frame buffer.
	sessionBufDepth = 64

	// defaultInRate is assumed for mic frames until the host announces its
	// format.
	defaultInRate = 48000
)

// Compile-time assertions that Bridge serves both sides of the audio boundary.
var (
	_ capture.Source = (*Bridge)(nil)
	_ output.Sink    = (*Bridge)(nil)
)

// controlEvent is the JSON shape of a text message in either direction.
type controlEvent struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Muted      bool   `json:"muted,omitempty"`
	TurnID     string `json:"turn_id,omitempty"`
	Text       string `json:"text,omitempty"`
}

// outMsg is a queued outbound WebSocket message.
type outMsg struct {
	typ  websocket.MessageType
	data []byte
}

// Bridge is one host connection. It is created by [Accept] and lives until
// the connection drops or [Bridge.Close] is called.
//
// All methods are safe for concurrent use.
type Bridge struct {
	conn *websocket.Conn
	out  chan outMsg
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	inRate   int
	inCh     int
	sessions map[*session]struct{}
	speakFn  func(turnID, text string)
}

// Accept upgrades an HTTP request to the bridge protocol and starts the
// connection's read and write loops.
func Accept(w http.ResponseWriter, r *http.Request) (*Bridge, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: accept: %w", err)
	}

	b := &Bridge{
		conn:     conn,
		out:      make(chan outMsg, outBufDepth),
		done:     make(chan struct{}),
		inRate:   defaultInRate,
		inCh:     1,
		sessions: make(map[*session]struct{}),
	}
	go b.readLoop(r.Context())
	go b.writeLoop(r.Context())
	return b, nil
}

// Done is closed when the connection has terminated.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// OnSpeak registers fn as the consumer of the host's "speak" control events,
// which carry the reply text the engine should voice for a turn. fn runs on
// the connection's read goroutine and must not block; spawn a goroutine for
// anything that does.
func (b *Bridge) OnSpeak(fn func(turnID, text string)) {
	b.mu.Lock()
	b.speakFn = fn
	b.mu.Unlock()
}

// SendTranscript delivers a completed user transcript to the host. Dropped
// if the outbound queue is saturated, like any other control event.
func (b *Bridge) SendTranscript(text string) {
	b.sendControl(controlEvent{Type: "transcript", Text: text})
}

// ─── capture.Source ───────────────────────────────────────────────────────────

// Open registers a capture session and asks the host to start streaming mic
// frames. Every binary mic frame fans out to all open sessions; the host is
// told to stop capturing when the last session closes.
func (b *Bridge) Open(_ context.Context, cfg capture.Config) (capture.Session, error) {
	select {
	case <-b.done:
		return nil, errors.New("wsbridge: connection closed")
	default:
	}

	s := &session{
		bridge: b,
		frames: make(chan audio.Frame, sessionBufDepth),
	}

	b.mu.Lock()
	first := len(b.sessions) == 0
	b.sessions[s] = struct{}{}
	b.mu.Unlock()

	if first {
		b.sendControl(controlEvent{Type: "capture.start", SampleRate: cfg.SampleRate, Channels: 1})
	}
	return s, nil
}

// ─── output.Sink ──────────────────────────────────────────────────────────────

// Write queues a speaker frame for the host. Frames are dropped rather than
// blocking when the host cannot keep up.
func (b *Bridge) Write(f audio.Frame) error {
	select {
	case <-b.done:
		return errors.New("wsbridge: connection closed")
	default:
	}
	select {
	case b.out <- outMsg{typ: websocket.MessageBinary, data: f.Data}:
		return nil
	default:
		return errors.New("wsbridge: speaker queue full, frame dropped")
	}
}

// SetMuted tells the host to mute or unmute its output element.
func (b *Bridge) SetMuted(muted bool) {
	b.sendControl(controlEvent{Type: "muted", Muted: muted})
}

// Pause tells the host to halt output entirely.
func (b *Bridge) Pause() {
	b.sendControl(controlEvent{Type: "pause"})
}

// Close tears the connection down and releases every open capture session.
// Idempotent.
func (b *Bridge) Close() error {
	b.once.Do(func() {
		close(b.done)

		b.mu.Lock()
		sessions := make([]*session, 0, len(b.sessions))
		for s := range b.sessions {
			sessions = append(sessions, s)
		}
		b.sessions = make(map[*session]struct{})
		b.mu.Unlock()

		for _, s := range sessions {
			s.release()
		}
		b.conn.Close(websocket.StatusNormalClosure, "bridge closed")
	})
	return nil
}

// ─── connection loops ─────────────────────────────────────────────────────────

// sendControl marshals and queues a control event; drops it if the outbound
// queue is saturated.
func (b *Bridge) sendControl(ev controlEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case b.out <- outMsg{typ: websocket.MessageText, data: data}:
	case <-b.done:
	default:
		slog.Warn("wsbridge: control event dropped", "type", ev.Type)
	}
}

// readLoop dispatches inbound messages until the connection drops: binary
// mic frames fan out to capture sessions, text messages update bridge state.
func (b *Bridge) readLoop(ctx context.Context) {
	defer b.Close()
	for {
		typ, data, err := b.conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			b.dispatchFrame(data)
		case websocket.MessageText:
			b.handleControl(data)
		}
	}
}

func (b *Bridge) dispatchFrame(data []byte) {
	b.mu.Lock()
	frame := audio.Frame{Data: data, SampleRate: b.inRate, Channels: b.inCh}
	for s := range b.sessions {
		s.offer(frame)
	}
	b.mu.Unlock()
}

func (b *Bridge) handleControl(data []byte) {
	var ev controlEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Warn("wsbridge: unparseable control message", "err", err)
		return
	}
	switch ev.Type {
	case "format":
		b.mu.Lock()
		if ev.SampleRate > 0 {
			b.inRate = ev.SampleRate
		}
		if ev.Channels > 0 {
			b.inCh = ev.Channels
		}
		b.mu.Unlock()
		slog.Debug("wsbridge: host mic format", "rate", ev.SampleRate, "channels", ev.Channels)
	case "speak":
		b.mu.Lock()
		fn := b.speakFn
		b.mu.Unlock()
		if fn != nil && ev.Text != "" {
			fn(ev.TurnID, ev.Text)
		}
	}
}

func (b *Bridge) writeLoop(ctx context.Context) {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.out:
			if err := b.conn.Write(ctx, msg.typ, msg.data); err != nil {
				b.Close()
				return
			}
		}
	}
}

// removeSession unregisters s; the last session out stops host capture.
func (b *Bridge) removeSession(s *session) {
	b.mu.Lock()
	_, present := b.sessions[s]
	delete(b.sessions, s)
	last := present && len(b.sessions) == 0
	b.mu.Unlock()

	if last {
		select {
		case <-b.done:
		default:
			b.sendControl(controlEvent{Type: "capture.stop"})
		}
	}
}

// ─── capture session ──────────────────────────────────────────────────────────

// session is one fan-out consumer of the host's mic stream.
type session struct {
	bridge *Bridge
	frames chan audio.Frame

	mu     sync.Mutex
	closed bool
}

var _ capture.Session = (*session)(nil)

func (s *session) Frames() <-chan audio.Frame { return s.frames }

// offer delivers a mic frame, dropping it if the session's consumer lags.
func (s *session) offer(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- f:
	default:
	}
}

// Close unregisters the session from the bridge. Idempotent.
func (s *session) Close() error {
	s.bridge.removeSession(s)
	s.release()
	return nil
}

// release closes the frame channel exactly once.
func (s *session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
}
