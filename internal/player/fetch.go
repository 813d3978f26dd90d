package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxkit/voxloop/internal/chunker"
	"github.com/voxkit/voxloop/pkg/audio"
	"github.com/voxkit/voxloop/pkg/audio/output"
	"github.com/voxkit/voxloop/pkg/provider/tts"
)

var errClosed = errors.New("player: pipeline is closed")

// PlayTTS speaks text for the given turn. Long text is split into an intro
// and a remainder; the intro is enqueued as soon as its audio is decoded
// while the remainder is still fetching, so first audio is not gated on the
// full synthesis. Chunks of one turn always play in order.
//
// Calling PlayTTS again with the turn id that is already playing is a
// no-op returning (nil, nil). onComplete, if non-nil, fires once after the
// turn's final chunk drains (debounced). The returned usage aggregates the
// per-chunk synthesis usage reports.
func (p *Pipeline) PlayTTS(ctx context.Context, turnID, text string, handsfree bool, onComplete func()) (*tts.Usage, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errClosed
	}
	if p.playing && p.currentTurn == turnID {
		p.mu.Unlock()
		return nil, nil
	}
	if err := p.primeLocked(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	chunks := chunker.Split(text)

	if len(chunks) == 1 {
		buf, usage, err := p.fetchAndDecode(ctx, turnID+"-0", chunks[0])
		if err != nil {
			return nil, fmt.Errorf("player: synthesize turn %s: %w", turnID, err)
		}
		p.enqueue(queueItem{
			buf:        buf,
			turnID:     turnID,
			handsfree:  handsfree,
			lastChunk:  true,
			onComplete: onComplete,
		})
		return tts.Aggregate(usage), nil
	}

	// Two chunks: fetch both concurrently, but enqueue the intro the moment
	// it is ready instead of waiting for the remainder.
	var (
		introBuf, remBuf     *audio.ChunkBuffer
		introUsage, remUsage *tts.Usage
		introErr, remErr     error
	)

	var g errgroup.Group
	introReady := make(chan struct{})
	g.Go(func() error {
		introBuf, introUsage, introErr = p.fetchAndDecode(ctx, turnID+"-0", chunks[0])
		close(introReady)
		return nil
	})
	g.Go(func() error {
		remBuf, remUsage, remErr = p.fetchAndDecode(ctx, turnID+"-1", chunks[1])
		return nil
	})

	<-introReady
	if introErr != nil {
		_ = g.Wait()
		return nil, fmt.Errorf("player: synthesize turn %s intro: %w", turnID, introErr)
	}
	p.enqueue(queueItem{
		buf:       introBuf,
		turnID:    turnID,
		handsfree: handsfree,
	})

	_ = g.Wait()
	if remErr != nil {
		// The remainder is lost; the intro becomes the turn's final chunk so
		// completion still fires and handsfree can re-arm.
		slog.Error("player: remainder synthesis failed, ending turn after intro",
			"turn", turnID, "err", remErr)
		p.promoteLastChunk(turnID, handsfree, onComplete)
		return tts.Aggregate(introUsage), nil
	}

	p.enqueue(queueItem{
		buf:        remBuf,
		turnID:     turnID,
		handsfree:  handsfree,
		lastChunk:  true,
		onComplete: onComplete,
	})
	return tts.Aggregate(introUsage, remUsage), nil
}

// fetchAndDecode synthesizes text, decodes the WAV payload, and caches the
// resulting buffer under key ("<turnID>-<index>"). A cache hit skips the
// network round-trip entirely, which is what makes replaying a turn cheap.
//
// On Android the buffer is resampled to the graph rate at decode time:
// rate conversion inside the direct hardware route audibly warps pitch, so
// it must happen here or not at all. A resample failure falls back to the
// original buffer rather than dropping the chunk.
func (p *Pipeline) fetchAndDecode(ctx context.Context, key, text string) (*audio.ChunkBuffer, *tts.Usage, error) {
	p.mu.Lock()
	if buf, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return buf, nil, nil
	}
	p.mu.Unlock()

	start := time.Now()
	payload, err := p.synth.Synthesize(ctx, text)
	if err != nil {
		p.metrics.RecordProviderError(ctx, "tts")
		return nil, nil, err
	}
	p.metrics.TTSFetchDuration.Record(ctx, time.Since(start).Seconds())

	buf, err := audio.DecodeWAV(payload.Audio)
	if err != nil {
		return nil, nil, fmt.Errorf("decode synthesis payload: %w", err)
	}

	if p.cfg.Platform == output.PlatformAndroid && buf.SampleRate != p.cfg.SampleRate {
		resampled := audio.ResampleMono16(buf.Samples, buf.SampleRate, p.cfg.SampleRate)
		if len(resampled) > 0 {
			buf = &audio.ChunkBuffer{Samples: resampled, SampleRate: p.cfg.SampleRate}
		} else {
			slog.Warn("player: resample produced no samples, keeping source rate",
				"from", buf.SampleRate, "to", p.cfg.SampleRate)
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, errClosed
	}
	p.cache[key] = buf
	p.mu.Unlock()

	return buf, payload.Usage, nil
}
