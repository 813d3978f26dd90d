// Package capture defines the microphone source abstraction and the recorder
// that turns a speech segment into an uploadable blob.
//
// The physical microphone belongs to the host shell (browser, mobile app,
// desktop wrapper); voxloop sees it through the [Source] interface. Host
// adapter packages (e.g., audio/wsbridge) implement Source; the mock
// subpackage provides a scripted source for tests.
//
// The microphone is an exclusive resource: at most one open [Session] exists
// at a time, and the VAD loop and a manual recording must never hold it
// simultaneously. Callers enforce this by closing one session before opening
// the next; implementations must tolerate overlapping Close/Open calls.
package capture

import (
	"context"

	"github.com/voxkit/voxloop/pkg/audio"
)

// Config describes the capture constraints requested from the host adapter.
// These map onto the host's native microphone constraints; adapters apply
// what they can and ignore the rest.
type Config struct {
	// SampleRate is the requested capture rate in Hz. 16000 is the upload
	// format for transcription.
	SampleRate int

	// EchoCancellation asks the host to suppress speaker bleed into the mic.
	EchoCancellation bool

	// NoiseSuppression asks the host to filter steady background noise.
	NoiseSuppression bool

	// AutoGainControl asks the host to normalise input volume.
	AutoGainControl bool
}

// DefaultConfig returns the capture constraints used for conversational
// speech: 16 kHz mono with all host-side cleanup enabled.
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Session represents an open, exclusive microphone stream.
//
// The frame channel is closed when the session ends, either via [Session.Close]
// or because the host adapter disconnected. A Session should not be shared
// across goroutines except that Close may be called from any goroutine.
type Session interface {
	// Frames returns the channel delivering captured PCM frames. The channel
	// is owned by the session and closed on Close.
	Frames() <-chan audio.Frame

	// Close releases the microphone and closes the frame channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Source is the factory for microphone sessions, implemented by host
// adapters. Implementations must be safe for concurrent use.
type Source interface {
	// Open acquires the microphone with the given constraints. The supplied
	// ctx governs the lifetime of the acquisition attempt only; once open,
	// the Session remains alive until Close.
	//
	// Returns an error if the host denies the microphone (permission, device
	// in use, no device). Callers treat this as a recoverable degradation,
	// not a fatal error.
	Open(ctx context.Context, cfg Config) (Session, error)
}
