// Package handsfree implements the top-level conversational state machine:
// it coordinates voice-activity detection, utterance recording, streaming
// transcription, and TTS playback into one continuous loop.
//
// The loop is Idle (listening) to Recording to Transcribing to
// AwaitingPlayback to Playing and back to Idle, repeating until handsfree is
// deactivated. A single mutex-guarded [Phase] value replaces the scattered
// boolean flags such loops tend to accumulate; every transition is validated
// against the current phase, so racing events (VAD firing just as TTS
// starts, a double speech-stop) cannot double-start a recording or emit a
// transcript twice.
package handsfree

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxkit/voxloop/internal/observe"
	"github.com/voxkit/voxloop/internal/player"
	"github.com/voxkit/voxloop/pkg/audio/capture"
	"github.com/voxkit/voxloop/pkg/audio/output"
	"github.com/voxkit/voxloop/pkg/provider/stt"
	"github.com/voxkit/voxloop/pkg/provider/tts"
	"github.com/voxkit/voxloop/pkg/provider/vad"
)

// FailureText is emitted in place of a transcript when recording or
// transcription fails. The loop always completes a cycle with a visible
// message rather than hanging.
const FailureText = "Failed to process audio"

// defaultSettleDelay is how long after playback completes before VAD
// re-arms. Covers the audio hardware tail so the speaker's last syllables
// cannot bleed into the mic and trigger a phantom recording.
const defaultSettleDelay = 300 * time.Millisecond

// TranscriptionHandler receives the completed transcript of one user
// utterance. usage is nil when the collaborator reported none (and always
// nil for failure emissions).
type TranscriptionHandler func(text string, usage *stt.Usage)

// Config holds the construction parameters for an [Orchestrator].
type Config struct {
	// Model is the transcription model identifier sent with each upload.
	Model string

	// SampleRate is the recording capture rate in Hz. Default 16000.
	SampleRate int

	// SettleDelay is the debounce between playback complete and VAD
	// re-arm. Default 300 ms.
	SettleDelay time.Duration

	// VADOptions are passed through to the detector on every arm.
	VADOptions []vad.Option
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
}

// Orchestrator drives the handsfree loop. It also serves the manual
// push-to-talk path, which shares the upload/transcribe/emit pipeline but is
// triggered by explicit calls instead of VAD events.
//
// All exported methods are safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	src     capture.Source
	trans   stt.Transcriber
	pipe    *player.Pipeline
	metrics *observe.Metrics

	mu         sync.Mutex
	ctx        context.Context
	phase      Phase
	active     bool
	suppressed bool // VAD gated off until the current round-trip completes
	inflight   bool
	vadArmed   bool
	vadStop    vad.StopFunc
	rec        *capture.Recorder
	onText     TranscriptionHandler
}

// New creates an Orchestrator wired to the given microphone source,
// transcription collaborator, and playback pipeline. It registers itself as
// a playback observer on pipe: playback start forces VAD off, playback
// completion re-arms it after the settle delay.
func New(cfg Config, src capture.Source, trans stt.Transcriber, pipe *player.Pipeline) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:     cfg,
		src:     src,
		trans:   trans,
		pipe:    pipe,
		metrics: observe.DefaultMetrics(),
		ctx:     context.Background(),
		phase:   PhaseDisabled,
	}
	pipe.OnPlaybackStarted(func(output.StreamHandle) { o.playbackStarted() })
	pipe.OnPlaybackComplete(o.playbackComplete)
	return o
}

// OnNewTranscription registers fn as the transcript consumer. fn is invoked
// exactly once per completed utterance (including failure emissions), on the
// transcription goroutine.
func (o *Orchestrator) OnNewTranscription(fn TranscriptionHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onText = fn
}

// Phase returns the orchestrator's current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Active reports whether handsfree mode is on.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Activate turns handsfree mode on and arms the VAD. ctx bounds every
// microphone acquisition and transcription upload for the whole activation.
// Calling Activate while already active is a no-op.
func (o *Orchestrator) Activate(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active {
		return
	}
	o.ctx = ctx
	o.active = true
	o.suppressed = false
	o.phase = PhaseIdle
	o.armVADLocked()
}

// Deactivate turns handsfree mode off from any phase: it releases the VAD
// loop, discards any active recording, and clears every gating flag. It
// never waits for in-flight uploads; their results are discarded on arrival.
func (o *Orchestrator) Deactivate() {
	o.mu.Lock()
	o.active = false
	o.suppressed = false
	o.phase = PhaseDisabled
	o.releaseVADLocked()
	rec := o.rec
	o.rec = nil
	o.mu.Unlock()

	if rec != nil {
		// Release the mic without blocking the caller on the encode path.
		go func() { _, _ = rec.Stop() }()
	}
}

// Close deactivates the orchestrator. Idempotent.
func (o *Orchestrator) Close() error {
	o.Deactivate()
	return nil
}

// Speak plays the assistant's response text for a handsfree turn. Playback
// completion re-arms the VAD via the pipeline's complete signal; a playback
// failure re-arms it directly so the loop cannot stall.
func (o *Orchestrator) Speak(ctx context.Context, turnID, text string) (*tts.Usage, error) {
	usage, err := o.pipe.PlayTTS(ctx, turnID, text, true, nil)
	if err != nil {
		slog.Error("handsfree: playback unavailable, resuming listening", "turn", turnID, "err", err)
		o.resumeListening()
		return nil, err
	}
	return usage, nil
}

// ─── VAD path ─────────────────────────────────────────────────────────────────

// armVADLocked starts the detection loop. Idempotent: a second arm while one
// is live is a no-op. Caller holds o.mu.
func (o *Orchestrator) armVADLocked() {
	if !o.active || o.vadArmed {
		return
	}
	o.vadStop = vad.Start(o.ctx, o.src, o.speechStart, o.speechStop, o.cfg.VADOptions...)
	o.vadArmed = true
}

// releaseVADLocked stops the detection loop if running. Caller holds o.mu.
func (o *Orchestrator) releaseVADLocked() {
	if o.vadStop != nil {
		o.vadStop()
		o.vadStop = nil
	}
	o.vadArmed = false
}

// speechStart handles a VAD speech-start event. The transition to Recording
// fires only from Idle with no suppression, no playback, no in-flight
// transcription, and no recorder already live.
func (o *Orchestrator) speechStart() {
	o.mu.Lock()
	if o.phase != PhaseIdle || !o.active || o.suppressed || o.inflight || o.rec != nil || o.pipe.IsPlaying() {
		o.mu.Unlock()
		return
	}
	ctx := o.ctx
	o.mu.Unlock()

	sess, err := o.src.Open(ctx, o.captureConfig())
	if err != nil {
		// No transition: permissions failures have no safe automatic retry.
		slog.Error("handsfree: recording mic acquisition failed", "err", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseIdle || !o.active {
		// Lost the race against playback start or deactivation.
		go sess.Close()
		return
	}
	o.rec = capture.NewRecorder(sess, o.cfg.SampleRate)
	o.phase = PhaseRecording
	slog.Debug("handsfree: recording started", "mime", o.rec.MIME())
}

// speechStop handles a VAD speech-stop event: it hands the recording off to
// the transcription round-trip and suppresses VAD until that round-trip
// (including the assistant's spoken reply) completes.
func (o *Orchestrator) speechStop() {
	o.mu.Lock()
	if o.phase != PhaseRecording || o.rec == nil {
		o.mu.Unlock()
		return
	}
	rec := o.rec
	o.rec = nil
	o.phase = PhaseTranscribing
	o.suppressed = true
	o.inflight = true
	ctx := o.ctx
	o.mu.Unlock()

	go o.transcribe(ctx, rec, true)
}

// ─── Manual push-to-talk path ─────────────────────────────────────────────────

// StartRecording begins a manual recording. Any active TTS playback is
// stopped and the VAD loop released first so the microphone is exclusively
// available. Returns an error if a recording is already active or the mic
// cannot be acquired.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	o.pipe.StopTTS()

	o.mu.Lock()
	if o.rec != nil {
		o.mu.Unlock()
		return fmt.Errorf("handsfree: recording already active")
	}
	o.releaseVADLocked()
	o.mu.Unlock()

	sess, err := o.src.Open(ctx, o.captureConfig())
	if err != nil {
		slog.Error("handsfree: manual mic acquisition failed", "err", err)
		return fmt.Errorf("handsfree: acquire microphone: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rec != nil {
		go sess.Close()
		return fmt.Errorf("handsfree: recording already active")
	}
	o.rec = capture.NewRecorder(sess, o.cfg.SampleRate)
	if o.active {
		o.phase = PhaseRecording
	}
	return nil
}

// StopRecording ends a manual recording and runs it through the same
// transcribe-and-emit pipeline as the VAD path. No-op if nothing is
// recording.
func (o *Orchestrator) StopRecording(ctx context.Context) {
	o.mu.Lock()
	rec := o.rec
	o.rec = nil
	if rec == nil {
		o.mu.Unlock()
		return
	}
	if o.active {
		o.phase = PhaseTranscribing
		o.suppressed = true
	}
	o.inflight = true
	o.mu.Unlock()

	go o.transcribe(ctx, rec, false)
}

// ─── Transcription round-trip ─────────────────────────────────────────────────

// transcribe stops the recorder, uploads the blob, and emits exactly one
// transcript to the registered handler. Failures emit FailureText instead of
// propagating: the loop must always complete a cycle. VAD-triggered results
// arriving after deactivation are discarded; manual results always emit.
func (o *Orchestrator) transcribe(ctx context.Context, rec *capture.Recorder, fromVAD bool) {
	text, usage := FailureText, (*stt.Usage)(nil)

	blob, err := rec.Stop()
	if err != nil {
		slog.Error("handsfree: recording yielded no usable audio", "err", err)
	} else {
		start := time.Now()
		res, terr := o.trans.Transcribe(ctx, blob, o.cfg.Model)
		if terr != nil {
			slog.Error("handsfree: transcription failed", "err", terr)
			o.metrics.RecordProviderError(ctx, "stt")
		} else {
			o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
			text, usage = res.Text, res.Usage
		}
	}

	mode := "manual"
	if fromVAD {
		mode = "handsfree"
	}
	o.metrics.RecordTurn(ctx, mode)

	o.mu.Lock()
	o.inflight = false
	discard := fromVAD && !o.active
	if o.phase == PhaseTranscribing {
		o.phase = PhaseAwaitingPlayback
	}
	fn := o.onText
	o.mu.Unlock()

	if discard || fn == nil {
		return
	}
	fn(text, usage)
}

// ─── Playback observers ───────────────────────────────────────────────────────

// playbackStarted forces VAD fully off the moment TTS becomes audible, so
// no detector frame can fire mid-playback.
func (o *Orchestrator) playbackStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		return
	}
	o.releaseVADLocked()
	o.phase = PhasePlaying
}

// playbackComplete re-arms the VAD after the settle delay, closing the loop
// back to Idle.
func (o *Orchestrator) playbackComplete() {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	if !active {
		return
	}
	time.AfterFunc(o.cfg.SettleDelay, o.resumeListening)
}

// resumeListening clears suppression and re-arms VAD if handsfree is still
// active. Safe to call from any phase; arming is idempotent.
func (o *Orchestrator) resumeListening() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		return
	}
	o.suppressed = false
	o.phase = PhaseIdle
	o.armVADLocked()
}

func (o *Orchestrator) captureConfig() capture.Config {
	cfg := capture.DefaultConfig()
	cfg.SampleRate = o.cfg.SampleRate
	return cfg
}
