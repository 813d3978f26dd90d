// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber accepts one finished recording blob and returns the full
// transcript for it. The default implementation (streamhttp) consumes a
// server-sent-event style delta stream from the collaborator and
// concatenates it; callers only ever see the completed text, which keeps the
// orchestrator's exactly-once emission guarantee simple to uphold.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/voxkit/voxloop/pkg/audio/capture"
)

// Usage is the transcription cost/latency record reported by a backend.
type Usage struct {
	// Cost is the transcription cost in the backend's billing unit.
	Cost float64

	// PromptChars is the character count the backend billed for.
	PromptChars int

	// LatencyMs is the total transcription latency in milliseconds.
	LatencyMs float64

	// TTFCMs is the time-to-first-character latency in milliseconds.
	TTFCMs float64
}

// Result is a completed transcription.
type Result struct {
	// Text is the concatenated transcript. May be empty when the recording
	// contained no recognisable speech.
	Text string

	// Usage is the backend's usage record, or nil if none was reported.
	Usage *Usage
}

// Transcriber is the abstraction over any transcription backend.
type Transcriber interface {
	// Transcribe uploads the recording blob and returns the completed
	// transcript. model selects the backend's recognition model.
	//
	// A non-nil error means the upload or stream failed; callers resolve
	// this locally (the conversational loop substitutes a fixed failure
	// text rather than surfacing the error to the UI).
	Transcribe(ctx context.Context, blob capture.Blob, model string) (*Result, error)
}
