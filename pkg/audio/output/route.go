package output

import (
	"sync"

	"github.com/voxkit/voxloop/pkg/audio"
)

// tapDepth is the buffer depth of the visualizer tap channel. Small on
// purpose: the tap is a live view, not a queue.
const tapDepth = 8

// tap is the shared StreamHandle implementation. Both routes feed it;
// delivery is best-effort (non-blocking sends).
type tap struct {
	ch chan audio.Frame

	mu     sync.Mutex
	closed bool
}

func newTap() *tap {
	return &tap{ch: make(chan audio.Frame, tapDepth)}
}

func (t *tap) Stream() <-chan audio.Frame { return t.ch }

// offer pushes a frame to the tap if there is room, dropping it otherwise.
func (t *tap) offer(f audio.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- f:
	default:
	}
}

func (t *tap) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.ch)
}

// elementRoute passes every frame through the element tap before the sink —
// the desktop/iOS path, where the handle handed to listeners is the element
// itself and the host shell keeps a hidden player attached to it to satisfy
// playback-unlock policies.
type elementRoute struct {
	sink Sink
	el   *tap

	mu     sync.Mutex
	closed bool
}

func newElementRoute(sink Sink) *elementRoute {
	return &elementRoute{sink: sink, el: newTap()}
}

func (r *elementRoute) Write(f audio.Frame) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	r.el.offer(f)
	_ = r.sink.Write(f)
}

func (r *elementRoute) Handle() StreamHandle { return r.el }

func (r *elementRoute) SetMuted(muted bool) { r.sink.SetMuted(muted) }

func (r *elementRoute) Pause() { r.sink.Pause() }

func (r *elementRoute) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.el.close()
	return r.sink.Close()
}

// directRoute writes frames straight to the hardware sink — the Android
// path. Listeners still get a stand-in handle exposing the same stream, so
// visualizers work identically on every platform.
type directRoute struct {
	sink    Sink
	standIn *tap

	mu     sync.Mutex
	closed bool
}

func newDirectRoute(sink Sink) *directRoute {
	return &directRoute{sink: sink, standIn: newTap()}
}

func (r *directRoute) Write(f audio.Frame) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	_ = r.sink.Write(f)
	r.standIn.offer(f)
}

func (r *directRoute) Handle() StreamHandle { return r.standIn }

func (r *directRoute) SetMuted(muted bool) { r.sink.SetMuted(muted) }

func (r *directRoute) Pause() { r.sink.Pause() }

func (r *directRoute) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.standIn.close()
	return r.sink.Close()
}
