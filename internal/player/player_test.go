package player_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voxkit/voxloop/internal/player"
	"github.com/voxkit/voxloop/pkg/audio"
	"github.com/voxkit/voxloop/pkg/audio/output"
	"github.com/voxkit/voxloop/pkg/provider/tts"
)

// testConfig keeps playback fast enough for unit tests: 1 ms frames and a
// 1 ms completion debounce.
func testConfig() player.Config {
	return player.Config{
		Platform:      output.PlatformDesktop,
		SampleRate:    16000,
		FrameDuration: time.Millisecond,
		FadeIn:        time.Microsecond,
		FadeOut:       time.Microsecond,
		CompleteDelay: time.Millisecond,
	}
}

// recordSink captures every frame and control call the pipeline issues.
type recordSink struct {
	mu     sync.Mutex
	frames []audio.Frame
	muted  []bool
	pauses int
	closes int
}

func (s *recordSink) Write(f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordSink) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = append(s.muted, muted)
}

func (s *recordSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses++
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordSink) frameRates() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rates := make([]int, len(s.frames))
	for i, f := range s.frames {
		rates[i] = f.SampleRate
	}
	return rates
}

func (s *recordSink) lastMuted() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.muted) == 0 {
		return false, false
	}
	return s.muted[len(s.muted)-1], true
}

// mockSynth returns canned payloads keyed by the chunk text.
type mockSynth struct {
	mu       sync.Mutex
	payloads map[string]*tts.Payload
	fail     map[string]bool
	calls    int
}

func (m *mockSynth) Synthesize(_ context.Context, text string) (*tts.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail[text] {
		return nil, fmt.Errorf("synthesis backend unavailable")
	}
	p, ok := m.payloads[text]
	if !ok {
		return nil, fmt.Errorf("no payload for %q", text)
	}
	return p, nil
}

func (m *mockSynth) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// wavPayload builds a synthesis payload of n constant samples at the given
// rate.
func wavPayload(t *testing.T, rate, n int, usage *tts.Usage) *tts.Payload {
	t.Helper()
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(4000)))
	}
	wav, err := audio.EncodeWAV(pcm, rate)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return &tts.Payload{Audio: wav, Usage: usage}
}

// shortText is under the split threshold, so it plays as one chunk.
const shortText = "Sure, I can do that."

// longText splits into an intro sentence and a remainder.
const longText = "This is the opening sentence of the answer. And here comes the rest of it, which continues for a while longer."

func TestSingleChunkPlaysAndCompletes(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	synth := &mockSynth{payloads: map[string]*tts.Payload{
		shortText: wavPayload(t, 16000, 320, &tts.Usage{Cost: 0.002, PromptChars: 20}),
	}}
	pipe := player.New(testConfig(), sink, synth)
	defer pipe.Close()

	done := make(chan struct{})
	usage, err := pipe.PlayTTS(context.Background(), "turn-1", shortText, false, func() { close(done) })
	if err != nil {
		t.Fatalf("PlayTTS: %v", err)
	}
	if usage == nil || usage.Cost != 0.002 {
		t.Errorf("usage = %+v, want the chunk's record", usage)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}

	time.Sleep(50 * time.Millisecond)
	if pipe.IsPlaying() {
		t.Error("IsPlaying = true after the turn drained")
	}
	if pipe.CurrentTurn() != "" {
		t.Errorf("CurrentTurn = %q, want empty after drain", pipe.CurrentTurn())
	}
	if muted, ok := sink.lastMuted(); !ok || !muted {
		t.Error("output not muted after the turn drained")
	}
	if len(sink.frameRates()) == 0 {
		t.Error("no frames reached the sink")
	}
}

func TestChunksPlayInOrder(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	// Distinguish the two chunks by their sample rate: playback is pinned to
	// each buffer's own rate, so the frame stream reveals the order.
	synth := &mockSynth{payloads: map[string]*tts.Payload{
		"This is the opening sentence of the answer.": wavPayload(t, 16000, 160,
			&tts.Usage{Cost: 0.001, PromptChars: 43, LatencyMs: 100, HasLatency: true}),
		"And here comes the rest of it, which continues for a while longer.": wavPayload(t, 22050, 220,
			&tts.Usage{Cost: 0.003, PromptChars: 66, LatencyMs: 200, HasLatency: true}),
	}}
	pipe := player.New(testConfig(), sink, synth)
	defer pipe.Close()

	done := make(chan struct{})
	usage, err := pipe.PlayTTS(context.Background(), "turn-2", longText, false, func() { close(done) })
	if err != nil {
		t.Fatalf("PlayTTS: %v", err)
	}
	if usage == nil {
		t.Fatal("usage = nil, want aggregate of both chunks")
	}
	if usage.Cost != 0.004 || usage.PromptChars != 109 {
		t.Errorf("aggregate usage = %+v", usage)
	}
	if !usage.HasLatency || usage.LatencyMs != 150 {
		t.Errorf("aggregate latency = %v, want 150", usage.LatencyMs)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}

	rates := sink.frameRates()
	sawRemainder := false
	for _, r := range rates {
		switch r {
		case 22050:
			sawRemainder = true
		case 16000:
			if sawRemainder {
				t.Fatal("intro frame written after a remainder frame")
			}
		}
	}
	if !sawRemainder {
		t.Error("remainder chunk never reached the sink")
	}
}

func TestDuplicateTurnIsNoOp(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	synth := &mockSynth{payloads: map[string]*tts.Payload{
		shortText: wavPayload(t, 16000, 4800, nil),
	}}
	pipe := player.New(testConfig(), sink, synth)
	defer pipe.Close()

	if _, err := pipe.PlayTTS(context.Background(), "turn-3", shortText, false, nil); err != nil {
		t.Fatalf("PlayTTS: %v", err)
	}
	// Let playback start; the buffer lasts ~300 ms at 1 ms frames.
	time.Sleep(30 * time.Millisecond)
	if !pipe.IsPlaying() {
		t.Fatal("pipeline not playing when the duplicate call arrives")
	}

	before := synth.callCount()
	usage, err := pipe.PlayTTS(context.Background(), "turn-3", shortText, false, nil)
	if err != nil {
		t.Fatalf("duplicate PlayTTS: %v", err)
	}
	if usage != nil {
		t.Errorf("duplicate PlayTTS usage = %+v, want nil", usage)
	}
	if got := synth.callCount(); got != before {
		t.Errorf("duplicate call hit the synthesizer: %d -> %d calls", before, got)
	}

	pipe.StopTTS()
}

func TestRemainderFailureEndsTurnAfterIntro(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	synth := &mockSynth{
		payloads: map[string]*tts.Payload{
			"This is the opening sentence of the answer.": wavPayload(t, 16000, 160,
				&tts.Usage{Cost: 0.001, PromptChars: 43}),
		},
		fail: map[string]bool{
			"And here comes the rest of it, which continues for a while longer.": true,
		},
	}
	pipe := player.New(testConfig(), sink, synth)
	defer pipe.Close()

	done := make(chan struct{})
	usage, err := pipe.PlayTTS(context.Background(), "turn-4", longText, false, func() { close(done) })
	if err != nil {
		t.Fatalf("PlayTTS: %v, want nil when only the remainder fails", err)
	}
	if usage == nil || usage.Cost != 0.001 {
		t.Errorf("usage = %+v, want the intro's record alone", usage)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion never fired after the remainder failed")
	}

	time.Sleep(50 * time.Millisecond)
	if pipe.IsPlaying() {
		t.Error("IsPlaying = true after the shortened turn drained")
	}
}

func TestIntroFailureFailsTheTurn(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	synth := &mockSynth{
		payloads: map[string]*tts.Payload{
			"And here comes the rest of it, which continues for a while longer.": wavPayload(t, 16000, 160, nil),
		},
		fail: map[string]bool{
			"This is the opening sentence of the answer.": true,
		},
	}
	pipe := player.New(testConfig(), sink, synth)
	defer pipe.Close()

	if _, err := pipe.PlayTTS(context.Background(), "turn-5", longText, false, nil); err == nil {
		t.Fatal("expected error when the intro chunk fails")
	}
	if pipe.IsPlaying() {
		t.Error("IsPlaying = true after a failed turn")
	}
}

func TestStopTTSIdempotent(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	synth := &mockSynth{payloads: map[string]*tts.Payload{
		shortText: wavPayload(t, 16000, 4800, nil),
	}}
	pipe := player.New(testConfig(), sink, synth)
	defer pipe.Close()

	if _, err := pipe.PlayTTS(context.Background(), "turn-6", shortText, false, nil); err != nil {
		t.Fatalf("PlayTTS: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	pipe.StopTTS()
	pipe.StopTTS()

	if pipe.IsPlaying() {
		t.Error("IsPlaying = true after StopTTS")
	}
	sink.mu.Lock()
	pauses := sink.pauses
	sink.mu.Unlock()
	if pauses < 2 {
		t.Errorf("pauses = %d, want one per StopTTS call", pauses)
	}
}

func TestPrimeIdempotentAndClosedAfterClose(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	pipe := player.New(testConfig(), sink, &mockSynth{})

	if err := pipe.Prime(); err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if err := pipe.Prime(); err != nil {
		t.Fatalf("second Prime: %v", err)
	}
	if muted, ok := sink.lastMuted(); !ok || !muted {
		t.Error("priming should leave the output muted")
	}

	if err := pipe.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pipe.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := pipe.Prime(); err == nil {
		t.Error("Prime after Close should fail")
	}
}

func TestReplayHitsChunkCache(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	synth := &mockSynth{payloads: map[string]*tts.Payload{
		shortText: wavPayload(t, 16000, 160, &tts.Usage{Cost: 0.002}),
	}}
	pipe := player.New(testConfig(), sink, synth)
	defer pipe.Close()

	done := make(chan struct{})
	if _, err := pipe.PlayTTS(context.Background(), "turn-7", shortText, false, func() { close(done) }); err != nil {
		t.Fatalf("PlayTTS: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first play never completed")
	}
	time.Sleep(50 * time.Millisecond)

	before := synth.callCount()
	replayed := make(chan struct{})
	usage, err := pipe.PlayTTS(context.Background(), "turn-7", shortText, false, func() { close(replayed) })
	if err != nil {
		t.Fatalf("replay PlayTTS: %v", err)
	}
	if usage != nil {
		t.Errorf("replay usage = %+v, want nil on a cache hit", usage)
	}
	if got := synth.callCount(); got != before {
		t.Errorf("replay hit the synthesizer: %d -> %d calls", before, got)
	}
	select {
	case <-replayed:
	case <-time.After(2 * time.Second):
		t.Fatal("replay never completed")
	}
}
