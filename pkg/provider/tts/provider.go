// Package tts defines the Synthesizer interface for text-to-speech backends
// and the per-chunk usage accounting attached to synthesis results.
//
// A Synthesizer wraps a speech-synthesis collaborator and returns one binary
// audio payload per text chunk. Streaming synthesis is deliberately not part
// of this interface: the playback pipeline achieves low first-audio latency
// by splitting response text into an intro and a remainder chunk and
// fetching them concurrently, so per-chunk request/response is sufficient.
//
// Implementations must be safe for concurrent use — the pipeline issues the
// intro and remainder requests in parallel.
package tts

import "context"

// Usage is the cost/size/latency record a backend may attach to a chunk.
type Usage struct {
	// Cost is the synthesis cost in the backend's billing unit.
	Cost float64

	// PromptChars is the number of characters synthesised.
	PromptChars int

	// LatencyMs is the backend-reported synthesis latency in milliseconds.
	// Zero means the backend did not report latency; HasLatency
	// distinguishes a genuine zero from absence.
	LatencyMs float64

	// HasLatency reports whether LatencyMs carries a real value.
	HasLatency bool
}

// Aggregate combines per-chunk usage records into one per-turn record:
// cost and character counts are summed; latency is averaged across the
// records that report it, or taken verbatim when only one does.
// Returns nil when no record is present.
func Aggregate(records ...*Usage) *Usage {
	var (
		out      Usage
		present  bool
		latSum   float64
		latCount int
	)
	for _, r := range records {
		if r == nil {
			continue
		}
		present = true
		out.Cost += r.Cost
		out.PromptChars += r.PromptChars
		if r.HasLatency {
			latSum += r.LatencyMs
			latCount++
		}
	}
	if !present {
		return nil
	}
	if latCount > 0 {
		out.LatencyMs = latSum / float64(latCount)
		out.HasLatency = true
	}
	return &out
}

// Payload is the result of synthesising one text chunk.
type Payload struct {
	// Audio is the binary audio payload (RIFF/WAVE PCM16 from the default
	// collaborator). Never empty for a successful synthesis.
	Audio []byte

	// Usage is the backend's usage record for this chunk, or nil if the
	// backend reported none (or reported it malformed).
	Usage *Usage
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize converts one text chunk into audio. A non-nil error means
	// the chunk failed outright (transport error, non-success status, empty
	// payload); callers treat a failed chunk as absent audio, never as a
	// fatal condition for the turn.
	Synthesize(ctx context.Context, text string) (*Payload, error)
}
