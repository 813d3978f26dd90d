package capture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxkit/voxloop/pkg/audio"
	"layeh.com/gopus"
)

// MIME types a recorder can negotiate for its output blob.
const (
	// MIMEOpusFrames is a stream of Opus packets, each prefixed with a
	// big-endian uint16 byte length. Preferred: roughly 10x smaller uploads
	// than WAV at speech bitrates.
	MIMEOpusFrames = "audio/opus-frames"

	// MIMEWav is a canonical RIFF/WAVE PCM16 payload. Fallback when the Opus
	// encoder is unavailable.
	MIMEWav = "audio/wav"
)

// Opus encoding parameters. Opus requires one of a fixed set of frame sizes;
// 20 ms is the conversational default.
const (
	opusFrameMs      = 20
	opusMaxPacketLen = 4000
)

// Blob is a finished recording ready for transcription upload.
type Blob struct {
	Data []byte
	MIME string
}

// Recorder accumulates microphone frames from a [Session] and encodes them
// into an uploadable [Blob] when stopped. Its lifetime is one utterance:
// created when speech starts, destroyed once the blob is handed off.
//
// All exported methods are safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	sess    Session
	conv    audio.FormatConverter
	pcm     []byte
	enc     *gopus.Encoder
	mime    string
	rate    int
	stopped bool
	done    chan struct{}
}

// NewRecorder starts recording from sess, converting incoming frames to mono
// PCM at sampleRate. The output MIME is negotiated at construction: Opus when
// an encoder can be created for sampleRate, WAV otherwise.
//
// The recorder consumes the session's frame channel on an internal goroutine
// until [Recorder.Stop] is called or the channel closes.
func NewRecorder(sess Session, sampleRate int) *Recorder {
	r := &Recorder{
		sess: sess,
		conv: audio.FormatConverter{Target: audio.Format{SampleRate: sampleRate, Channels: 1}},
		rate: sampleRate,
		mime: MIMEWav,
		done: make(chan struct{}),
	}

	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		slog.Warn("recorder: opus encoder unavailable, falling back to wav", "rate", sampleRate, "err", err)
	} else {
		r.enc = enc
		r.mime = MIMEOpusFrames
	}

	go r.consume()
	return r
}

// MIME returns the negotiated output MIME type for this recording.
func (r *Recorder) MIME() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mime
}

// consume drains the session's frame channel into the PCM accumulator.
func (r *Recorder) consume() {
	defer close(r.done)
	for frame := range r.sess.Frames() {
		converted := r.conv.Convert(frame)
		if len(converted.Data) == 0 {
			continue
		}
		r.mu.Lock()
		if !r.stopped {
			r.pcm = append(r.pcm, converted.Data...)
		}
		r.mu.Unlock()
	}
}

// Stop releases the microphone session immediately and returns the encoded
// blob. Stop is idempotent: subsequent calls return the same blob.
//
// Returns an error only if encoding fails or nothing was captured; the
// session is released in every case.
func (r *Recorder) Stop() (Blob, error) {
	r.mu.Lock()
	alreadyStopped := r.stopped
	r.stopped = true
	r.mu.Unlock()

	// Release the mic first so the caller can re-arm VAD without contention,
	// then wait for the consume goroutine to flush its final frames.
	_ = r.sess.Close()
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()

	if !alreadyStopped && len(r.pcm) == 0 {
		return Blob{}, fmt.Errorf("recorder: no audio captured")
	}
	if len(r.pcm) == 0 {
		return Blob{}, fmt.Errorf("recorder: already stopped with no audio")
	}

	if r.enc != nil {
		data, err := r.encodeOpus()
		if err == nil {
			return Blob{Data: data, MIME: MIMEOpusFrames}, nil
		}
		slog.Warn("recorder: opus encode failed, falling back to wav", "err", err)
	}

	data, err := audio.EncodeWAV(r.pcm, r.rate)
	if err != nil {
		return Blob{}, fmt.Errorf("recorder: wav encode: %w", err)
	}
	return Blob{Data: data, MIME: MIMEWav}, nil
}

// encodeOpus chops the accumulated PCM into 20 ms frames and encodes each as
// a length-prefixed Opus packet. The trailing partial frame is zero-padded to
// a full frame so no speech tail is lost.
func (r *Recorder) encodeOpus() ([]byte, error) {
	frameSamples := r.rate * opusFrameMs / 1000
	samples := bytesToInt16s(r.pcm)

	// Pad to a whole number of frames.
	if rem := len(samples) % frameSamples; rem != 0 {
		samples = append(samples, make([]int16, frameSamples-rem)...)
	}

	var out []byte
	for off := 0; off < len(samples); off += frameSamples {
		packet, err := r.enc.Encode(samples[off:off+frameSamples], frameSamples, opusMaxPacketLen)
		if err != nil {
			return nil, fmt.Errorf("opus encode frame at %d: %w", off, err)
		}
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(packet)))
		out = append(out, hdr[:]...)
		out = append(out, packet...)
	}
	return out, nil
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
