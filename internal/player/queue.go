package player

import (
	"context"
	"time"

	"github.com/voxkit/voxloop/pkg/audio"
)

// enqueue appends item to the playback queue and kicks the scheduler.
// Chunks play in exact FIFO order; at most one is ever active.
func (p *Pipeline) enqueue(item queueItem) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, item)
	p.mu.Unlock()

	p.maybeStartNext()
}

// maybeStartNext pulls the head of the queue into the active slot unless a
// chunk is already active or another caller is mid-dequeue. The dequeuing
// guard is the serialization point that keeps two chunks from being
// scheduled concurrently even when maybeStartNext is invoked reentrantly
// (from a chunk-ended path and a fresh enqueue at the same time).
func (p *Pipeline) maybeStartNext() {
	p.mu.Lock()
	if p.closed || p.dequeuing || p.active != nil || len(p.queue) == 0 || p.route == nil {
		p.mu.Unlock()
		return
	}
	p.dequeuing = true

	item := p.queue[0]
	p.queue = p.queue[1:]
	cancel := make(chan struct{})
	active := &item
	p.active = active
	p.cancelActive = cancel

	wasIdle := !p.playing
	p.playing = true
	p.currentTurn = item.turnID
	if wasIdle {
		p.turnStart = time.Now()
	}
	route := p.route
	p.dequeuing = false
	p.mu.Unlock()

	if wasIdle {
		// First chunk of a turn becoming audible: open the output and tell
		// the outside world (this is how the visualizer attaches).
		route.SetMuted(false)
		p.notifyStarted(route.Handle())
	}

	go p.playChunk(active, cancel)
}

// playChunk streams item's buffer to the output route in real time: a
// lead-in silence window sized for the platform, a linear fade-in, sustain
// at full gain, and a fade-out tail. The playback rate is pinned: frames
// are written at the buffer's own sample rate, never resampled here, so no
// chunk can shift the voice's pitch relative to another.
//
// item is the shared pointer held in the active slot, so promotions applied
// to the active chunk while it plays are observed when it ends.
func (p *Pipeline) playChunk(item *queueItem, cancel <-chan struct{}) {
	interrupted := p.streamBuffer(item.buf, cancel)
	p.chunkEnded(item, interrupted)
}

// streamBuffer writes the buffer frame by frame, pacing on a ticker to
// approximate the hardware clock. Returns true if playback was cancelled.
func (p *Pipeline) streamBuffer(buf *audio.ChunkBuffer, cancel <-chan struct{}) bool {
	rate := buf.SampleRate
	if rate <= 0 || len(buf.Samples) == 0 {
		return false
	}

	frameSamples := int(p.cfg.FrameDuration.Seconds() * float64(rate))
	if frameSamples <= 0 {
		frameSamples = 1
	}
	frameBytes := frameSamples * 2

	p.mu.Lock()
	route := p.route
	p.mu.Unlock()
	if route == nil {
		return false
	}

	ticker := time.NewTicker(p.cfg.FrameDuration)
	defer ticker.Stop()

	// Lead-in: scheduling safety margin of silence before the first sample.
	leadFrames := int(p.cfg.Platform.LeadIn() / p.cfg.FrameDuration)
	silence := make([]byte, frameBytes)
	for i := 0; i < leadFrames; i++ {
		route.Write(audio.Frame{Data: silence, SampleRate: rate, Channels: 1})
		select {
		case <-cancel:
			return true
		case <-ticker.C:
		}
	}

	total := len(buf.Samples)
	fadeInBytes := int(p.cfg.FadeIn.Seconds()*float64(rate)) * 2
	fadeOutBytes := int(p.cfg.FadeOut.Seconds()*float64(rate)) * 2

	for off := 0; off < total; off += frameBytes {
		end := min(off+frameBytes, total)
		frame := applyEnvelope(buf.Samples[off:end], off, total, fadeInBytes, fadeOutBytes)
		route.Write(audio.Frame{Data: frame, SampleRate: rate, Channels: 1})

		select {
		case <-cancel:
			return true
		case <-ticker.C:
		}
	}
	return false
}

// applyEnvelope scales the samples of one frame by the chunk-level gain
// envelope: linear ramp over the first fadeIn bytes, linear ramp to zero
// over the last fadeOut bytes, unity in between. Returns a copy; the cached
// buffer is never mutated.
func applyEnvelope(frame []byte, off, total, fadeIn, fadeOut int) []byte {
	out := make([]byte, len(frame))
	for i := 0; i+1 < len(frame); i += 2 {
		pos := off + i
		gain := 1.0
		if fadeIn > 0 && pos < fadeIn {
			gain = float64(pos) / float64(fadeIn)
		}
		if fadeOut > 0 && pos >= total-fadeOut {
			g := float64(total-pos) / float64(fadeOut)
			if g < gain {
				gain = g
			}
		}
		s := float64(int16(frame[i]) | int16(frame[i+1])<<8)
		v := int16(s * gain)
		out[i] = byte(v)
		out[i+1] = byte(v >> 8)
	}
	return out
}

// chunkEnded runs after a chunk finishes or is cancelled: it fires the
// debounced completion callback for last chunks, settles idle state when
// the queue drained, and pulls the next item otherwise.
func (p *Pipeline) chunkEnded(item *queueItem, interrupted bool) {
	p.mu.Lock()
	// Read completion fields under the lock: the active chunk may have been
	// promoted to last-chunk while it was playing.
	lastChunk := item.lastChunk
	onComplete := item.onComplete
	handsfree := item.handsfree
	if p.active == item && !interrupted {
		// Natural end: release the slot. On interruption stopLocked
		// already cleared these.
		p.active = nil
		p.cancelActive = nil
	}
	queueEmpty := len(p.queue) == 0
	route := p.route
	p.mu.Unlock()

	if interrupted {
		return
	}

	if lastChunk && onComplete != nil {
		time.AfterFunc(p.cfg.CompleteDelay, onComplete)
	}

	if queueEmpty {
		p.mu.Lock()
		stillEmpty := len(p.queue) == 0 && p.active == nil
		var turnElapsed time.Duration
		if stillEmpty {
			p.playing = false
			p.currentTurn = ""
			if !p.turnStart.IsZero() {
				turnElapsed = time.Since(p.turnStart)
				p.turnStart = time.Time{}
			}
		}
		p.mu.Unlock()

		if stillEmpty {
			if turnElapsed > 0 {
				p.metrics.PlaybackDuration.Record(context.Background(), turnElapsed.Seconds())
			}
			if route != nil {
				route.SetMuted(true)
			}
			if handsfree {
				// The hook that re-arms VAD for the next user turn.
				p.notifyComplete()
			}
		}
	}

	p.maybeStartNext()
}

// promoteLastChunk transfers last-chunk and completion semantics onto the
// newest queued or active chunk of turnID. Used when a later chunk of the
// turn failed to fetch, making an earlier chunk the de-facto last one.
// If the turn has already fully drained, the completion path runs
// immediately (debounced, with the handsfree complete signal).
func (p *Pipeline) promoteLastChunk(turnID string, handsfree bool, onComplete func()) {
	p.mu.Lock()
	for i := len(p.queue) - 1; i >= 0; i-- {
		if p.queue[i].turnID == turnID {
			p.queue[i].lastChunk = true
			p.queue[i].onComplete = onComplete
			p.mu.Unlock()
			return
		}
	}
	if p.active != nil && p.active.turnID == turnID {
		// The play goroutine shares this pointer and reads the completion
		// fields under the lock when the chunk ends.
		p.active.lastChunk = true
		p.active.onComplete = onComplete
		p.mu.Unlock()
		return
	}
	// Drained means no chunk of any turn is queued or active. The playing
	// flag is settled in a separate critical section after a chunk ends, so
	// it can still read true here even though the turn is over.
	drained := p.active == nil && len(p.queue) == 0
	p.mu.Unlock()

	if drained {
		if onComplete != nil {
			time.AfterFunc(p.cfg.CompleteDelay, onComplete)
		}
		if handsfree {
			p.notifyComplete()
		}
	}
}
