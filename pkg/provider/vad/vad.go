// Package vad implements energy-based voice activity detection over a
// microphone frame stream.
//
// The detector computes the root-mean-square deviation of each PCM frame
// from the silence baseline and fires start/stop callbacks at speech
// boundaries. Thresholds are expressed on an 8-bit unsigned scale (silence
// baseline 128) so the defaults stay meaningful across capture formats;
// int16 input is normalised onto that scale before comparison.
//
// Callbacks strictly alternate: onSpeechStart fires exactly once when a loud
// frame arrives while the detector is quiet, and onSpeechStop fires exactly
// once when no loud frame has arrived for the configured silence duration.
// The detector never fires more stops than starts.
package vad

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/voxkit/voxloop/pkg/audio"
	"github.com/voxkit/voxloop/pkg/audio/capture"
)

const (
	// DefaultSilenceDuration is how long the input must stay quiet after
	// speech before onSpeechStop fires.
	DefaultSilenceDuration = 2 * time.Second

	// DefaultVolumeThreshold is the RMS level (8-bit deviation scale) above
	// which a frame counts as speech.
	DefaultVolumeThreshold = 10.0
)

// SpeechHandler is a speech boundary callback. Handlers run on the
// detector's frame goroutine (or its silence timer) and must not block.
type SpeechHandler func()

// StopFunc releases the detector: it cancels the frame loop, closes the
// microphone session, and clears any pending silence timer. Idempotent —
// safe to call multiple times or after an initialization failure.
type StopFunc func()

// Option configures a detector during Start.
type Option func(*detector)

// WithSilenceDuration sets the quiet interval that ends a speech segment.
func WithSilenceDuration(d time.Duration) Option {
	return func(v *detector) {
		if d > 0 {
			v.silence = d
		}
	}
}

// WithVolumeThreshold sets the RMS speech threshold (8-bit deviation scale).
func WithVolumeThreshold(t float64) Option {
	return func(v *detector) {
		if t > 0 {
			v.threshold = t
		}
	}
}

// WithCaptureConfig overrides the microphone constraints requested from the
// source. The default is [capture.DefaultConfig] (mono, echo cancellation,
// noise suppression, auto gain).
func WithCaptureConfig(cfg capture.Config) Option {
	return func(v *detector) { v.capture = cfg }
}

type detector struct {
	silence   time.Duration
	threshold float64
	capture   capture.Config

	onStart SpeechHandler
	onStop  SpeechHandler

	mu       sync.Mutex
	speaking bool
	timer    *time.Timer
	released bool
}

// Start acquires the microphone from src and begins the detection loop.
// It always returns a usable StopFunc: if microphone acquisition fails the
// failure is logged, no callback ever fires, and the returned StopFunc is a
// harmless no-op — callers treat "no start event received" as VAD
// unavailable.
func Start(ctx context.Context, src capture.Source, onSpeechStart, onSpeechStop SpeechHandler, opts ...Option) StopFunc {
	v := &detector{
		silence:   DefaultSilenceDuration,
		threshold: DefaultVolumeThreshold,
		capture:   capture.DefaultConfig(),
		onStart:   onSpeechStart,
		onStop:    onSpeechStop,
	}
	for _, o := range opts {
		o(v)
	}

	sess, err := src.Open(ctx, v.capture)
	if err != nil {
		slog.Warn("vad: microphone acquisition failed, detector inert", "err", err)
		return func() {}
	}

	go v.loop(sess)

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			v.released = true
			if v.timer != nil {
				v.timer.Stop()
				v.timer = nil
			}
			v.mu.Unlock()
			_ = sess.Close()
		})
	}
}

// loop consumes frames until the session closes, classifying each by RMS.
func (v *detector) loop(sess capture.Session) {
	for frame := range sess.Frames() {
		if rms8(frame) > v.threshold {
			v.loudFrame()
		}
	}
	// Session closed: drop any pending silence timer without firing.
	v.mu.Lock()
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	v.mu.Unlock()
}

// loudFrame handles a frame above the speech threshold: it fires
// onSpeechStart on the quiet-to-speaking transition and resets the decaying
// silence timer either way.
func (v *detector) loudFrame() {
	v.mu.Lock()
	if v.released {
		v.mu.Unlock()
		return
	}
	fireStart := !v.speaking
	v.speaking = true
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(v.silence, v.silenceElapsed)
	v.mu.Unlock()

	if fireStart {
		v.onStart()
	}
}

// silenceElapsed runs when no loud frame arrived for the silence duration.
func (v *detector) silenceElapsed() {
	v.mu.Lock()
	if v.released || !v.speaking {
		v.mu.Unlock()
		return
	}
	v.speaking = false
	v.timer = nil
	v.mu.Unlock()

	v.onStop()
}

// rms8 computes the RMS deviation of a PCM16 frame from the silence
// baseline, normalised onto the 8-bit unsigned scale (baseline 128).
func rms8(f audio.Frame) float64 {
	n := len(f.Data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(f.Data[i*2]) | int16(f.Data[i*2+1])<<8)
		sum += s * s
	}
	// int16 full scale maps to 8-bit full scale: divide by 2^8.
	return math.Sqrt(sum/float64(n)) / 256.0
}
