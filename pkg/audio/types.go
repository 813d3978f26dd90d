// Package audio defines the PCM types and sample-level helpers shared by the
// voxloop capture, playback, and provider layers.
//
// Two types carry audio through the system:
//
//   - [Frame] — the transport unit crossing the host boundary: raw PCM from
//     the microphone source or to the speaker sink.
//   - [ChunkBuffer] — a fully decoded, ready-to-play unit of synthesised
//     speech, owned by the playback pipeline's in-memory cache.
//
// All PCM in this package is 16-bit signed little-endian.
package audio

import "time"

// Frame represents a single frame of PCM audio flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the host
// microphone, processed by VAD, accumulated by the recorder, and played
// through the output sink.
type Frame struct {
	// Data is little-endian int16 PCM. Sample rate and channel count are
	// carried alongside because host adapters may renegotiate mid-session.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for a desktop host, 16000 for upload).
	SampleRate int

	// Channels: 1 for mono (capture), 2 for stereo (some host outputs).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// ChunkBuffer is a decoded, ready-to-play unit of synthesised audio. It is
// created once per chunk key by the playback pipeline and cached for the
// lifetime of the session; playback never mutates it.
type ChunkBuffer struct {
	// Samples is mono little-endian int16 PCM.
	Samples []byte

	// SampleRate in Hz of Samples.
	SampleRate int
}

// Duration returns the playback duration of the buffer at its native rate.
// Returns zero for an empty or misconfigured buffer.
func (b *ChunkBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	samples := len(b.Samples) / 2
	return time.Duration(samples) * time.Second / time.Duration(b.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
