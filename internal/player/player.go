// Package player implements the audio pipeline: it owns the shared output
// graph, converts response text into decoded chunk buffers via the TTS
// collaborator, and plays them through a strictly-ordered queue so that
// multi-chunk speech sounds continuous.
//
// The pipeline is an explicitly constructed object with a New/Close
// lifecycle, owned by the session and handed by reference to whoever needs
// it. Cross-component signalling (playback started/complete) happens through
// observer registration on the pipeline itself, not a global event bus.
package player

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxkit/voxloop/internal/observe"
	"github.com/voxkit/voxloop/pkg/audio"
	"github.com/voxkit/voxloop/pkg/audio/output"
	"github.com/voxkit/voxloop/pkg/provider/tts"
)

const (
	// defaultFrameDuration is the scheduling quantum for playback writes.
	defaultFrameDuration = 20 * time.Millisecond

	// defaultFadeIn ramps each chunk from silence to full gain. Short
	// enough to be inaudible, long enough to kill click artifacts.
	defaultFadeIn = 5 * time.Millisecond

	// defaultFadeOut tails each chunk back to silence before the next
	// chunk may begin scheduling.
	defaultFadeOut = 30 * time.Millisecond

	// defaultCompleteDelay debounces the last-chunk completion callback
	// against audio-engine tail quirks.
	defaultCompleteDelay = 50 * time.Millisecond
)

// Config holds the construction parameters for a [Pipeline].
type Config struct {
	// Platform selects the output routing strategy and lead-in margin.
	Platform output.Platform

	// SampleRate is the audio graph's native rate in Hz. TTS buffers that
	// decode at a different rate are resampled to this on Android before
	// caching. Default 48000.
	SampleRate int

	// FrameDuration is the playback write quantum. Default 20 ms.
	FrameDuration time.Duration

	// FadeIn, FadeOut are the per-chunk gain ramp durations.
	FadeIn  time.Duration
	FadeOut time.Duration

	// CompleteDelay is the debounce before a last-chunk completion callback
	// fires.
	CompleteDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = output.PlatformDesktop
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = defaultFrameDuration
	}
	if c.FadeIn <= 0 {
		c.FadeIn = defaultFadeIn
	}
	if c.FadeOut <= 0 {
		c.FadeOut = defaultFadeOut
	}
	if c.CompleteDelay <= 0 {
		c.CompleteDelay = defaultCompleteDelay
	}
}

// queueItem is a scheduled-but-not-yet-played unit of audio.
type queueItem struct {
	buf        *audio.ChunkBuffer
	turnID     string
	handsfree  bool
	lastChunk  bool
	onComplete func()
}

// Pipeline is the TTS playback engine. All exported methods are safe for
// concurrent use; none of them panic, including on teardown paths.
type Pipeline struct {
	cfg     Config
	sink    output.Sink
	synth   tts.Synthesizer
	metrics *observe.Metrics

	mu           sync.Mutex
	primed       bool
	route        output.Route
	cache        map[string]*audio.ChunkBuffer
	queue        []queueItem
	dequeuing    bool // dequeue-in-progress guard: the serialization point
	active       *queueItem
	cancelActive chan struct{}
	playing      bool
	currentTurn  string
	turnStart    time.Time
	closed       bool

	startedObs  []func(output.StreamHandle)
	completeObs []func()
}

// New creates a Pipeline writing to sink via the platform-appropriate route.
// The audio graph itself is not built until [Pipeline.Prime].
func New(cfg Config, sink output.Sink, synth tts.Synthesizer) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		cfg:     cfg,
		sink:    sink,
		synth:   synth,
		metrics: observe.DefaultMetrics(),
		cache:   make(map[string]*audio.ChunkBuffer),
	}
}

// OnPlaybackStarted registers fn to be called when a turn's first chunk
// becomes audible. fn receives the stream-bearing handle a visualizer can
// attach to. Handlers run on the playback goroutine and must not block.
func (p *Pipeline) OnPlaybackStarted(fn func(output.StreamHandle)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startedObs = append(p.startedObs, fn)
}

// OnPlaybackComplete registers fn to be called when a handsfree turn's
// playback fully drains. Handlers run on the playback goroutine and must
// not block.
func (p *Pipeline) OnPlaybackComplete(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completeObs = append(p.completeObs, fn)
}

// Prime idempotently initializes the shared audio graph: it builds the
// output route for the configured platform exactly once per session. Safe
// to call any number of times; only the first call performs work.
//
// Hosts with gesture-gated audio unlock should call Prime from (or shortly
// after) a user-gesture context.
func (p *Pipeline) Prime() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.primeLocked()
}

func (p *Pipeline) primeLocked() error {
	if p.closed {
		return errClosed
	}
	if p.primed {
		return nil
	}
	route, err := output.RouteForPlatform(p.cfg.Platform, p.sink)
	if err != nil {
		return err
	}
	// Output starts muted; the first chunk of a turn unmutes it.
	route.SetMuted(true)
	p.route = route
	p.primed = true
	slog.Info("player: audio graph primed", "platform", p.cfg.Platform, "rate", p.cfg.SampleRate)
	return nil
}

// IsPlaying reports whether any chunk is audible or queued.
func (p *Pipeline) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// CurrentTurn returns the id of the turn currently playing, or "".
func (p *Pipeline) CurrentTurn() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTurn
}

// StopTTS hard-stops the active chunk, empties the pending queue, resets
// playing state, and pauses the output. It always succeeds and is safe to
// call at any time, including repeatedly and on unmount paths.
func (p *Pipeline) StopTTS() {
	p.mu.Lock()
	p.stopLocked()
	route := p.route
	p.mu.Unlock()

	if route != nil {
		route.Pause()
	}
}

func (p *Pipeline) stopLocked() {
	if p.cancelActive != nil {
		close(p.cancelActive)
		p.cancelActive = nil
	}
	p.active = nil
	p.queue = nil
	p.dequeuing = false
	p.playing = false
	p.currentTurn = ""
}

// Close tears the pipeline down: stops playback, drops the queue and the
// chunk cache, and closes the output route. Idempotent; never panics.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopLocked()
	route := p.route
	p.route = nil
	p.cache = make(map[string]*audio.ChunkBuffer)
	p.mu.Unlock()

	if route != nil {
		return route.Close()
	}
	return nil
}

// notifyStarted fires the playback-started observers with the route handle.
func (p *Pipeline) notifyStarted(h output.StreamHandle) {
	p.mu.Lock()
	obs := make([]func(output.StreamHandle), len(p.startedObs))
	copy(obs, p.startedObs)
	p.mu.Unlock()
	for _, fn := range obs {
		fn(h)
	}
}

// notifyComplete fires the playback-complete observers.
func (p *Pipeline) notifyComplete() {
	p.mu.Lock()
	obs := make([]func(), len(p.completeObs))
	copy(obs, p.completeObs)
	p.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}
