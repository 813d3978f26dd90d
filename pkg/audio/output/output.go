// Package output defines the playback endpoint abstraction and the
// platform-conditional routing between the audio graph and the hardware.
//
// The routing difference is a real, empirically-discovered platform quirk:
// on desktop and iOS hosts, playback must pass through an element-mediated
// route (an intermediate stream handle the host shell uses to satisfy
// autoplay-unlock policies, and which a visualizer can attach to); on
// Android hosts that element-mediated path causes audible speed/pitch
// artifacts, so frames are routed directly to the hardware sink. The
// conditional lives entirely behind [RouteForPlatform] so the playback
// scheduler never branches on platform.
package output

import (
	"fmt"
	"time"

	"github.com/voxkit/voxloop/pkg/audio"
)

// Platform identifies the host family the client runs on.
type Platform string

const (
	PlatformDesktop Platform = "desktop"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// IsValid reports whether p is a recognised platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformDesktop, PlatformIOS, PlatformAndroid:
		return true
	}
	return false
}

// LeadIn returns the scheduling safety margin of silence inserted before
// each chunk. Mobile audio stacks exhibit more scheduling jitter, so the
// margin is larger there to avoid click/pop artifacts.
func (p Platform) LeadIn() time.Duration {
	switch p {
	case PlatformIOS, PlatformAndroid:
		return 60 * time.Millisecond
	default:
		return 20 * time.Millisecond
	}
}

// Mobile reports whether p is a mobile host family.
func (p Platform) Mobile() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

// Sink is the hardware playback endpoint provided by the host adapter.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write delivers a PCM frame for playback. Write must not block
	// indefinitely; adapters drop frames rather than stall the scheduler.
	Write(f audio.Frame) error

	// SetMuted mutes or unmutes hardware output without tearing down the
	// route. Muted writes are still consumed (and discarded).
	SetMuted(muted bool)

	// Pause halts output entirely until the next Write after SetMuted(false).
	Pause()

	// Close releases the output device. Idempotent.
	Close() error
}

// StreamHandle is the stream-bearing handle carried by a "playback started"
// notification. External visualizers read frames from Stream without owning
// the route; the channel is best-effort — frames are dropped, never queued,
// when the consumer falls behind.
type StreamHandle interface {
	Stream() <-chan audio.Frame
}

// Route is what the playback pipeline writes into. It owns the decision of
// whether frames pass through an intermediate element or go straight to
// hardware, and supplies the handle handed to playback-started listeners.
type Route interface {
	Write(f audio.Frame)
	Handle() StreamHandle
	SetMuted(muted bool)
	Pause()
	Close() error
}

// RouteForPlatform builds the output route appropriate for the platform:
// element-mediated for desktop and iOS, direct-to-hardware for Android.
func RouteForPlatform(p Platform, sink Sink) (Route, error) {
	if sink == nil {
		return nil, fmt.Errorf("output: sink must not be nil")
	}
	if p == PlatformAndroid {
		return newDirectRoute(sink), nil
	}
	return newElementRoute(sink), nil
}
