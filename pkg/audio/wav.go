package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeaderSize is the size of a canonical PCM WAV header in bytes.
const wavHeaderSize = 44

// EncodeWAV wraps mono little-endian int16 PCM bytes in a canonical RIFF/WAVE
// header. Used by the recorder's WAV fallback encoding and by tests that need
// realistic TTS payloads.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("wav: cannot encode empty PCM data")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("wav: odd byte count %d is not int16 PCM", len(pcm))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: sample rate must be positive, got %d", sampleRate)
	}

	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(pcm))

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // PCM fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM format tag
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*numChannels*bitsPerSample/8))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels*bitsPerSample/8))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV parses a RIFF/WAVE payload and returns its PCM data as a
// [ChunkBuffer]. Stereo payloads are downmixed to mono. The parser walks the
// chunk list rather than assuming a fixed 44-byte layout, so payloads with
// LIST/INFO chunks before "data" decode correctly.
func DecodeWAV(data []byte) (*ChunkBuffer, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("wav: payload too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: missing RIFF/WAVE magic")
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		pcm           []byte
		haveFmt       bool
	)

	// Walk sub-chunks starting after the 12-byte RIFF header.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			return nil, fmt.Errorf("wav: chunk %q overruns payload", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too short: %d bytes", size)
			}
			formatTag := binary.LittleEndian.Uint16(data[body : body+2])
			if formatTag != 1 {
				return nil, fmt.Errorf("wav: unsupported format tag %d (want PCM)", formatTag)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		pos = body + size
		if size%2 != 0 {
			pos++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("wav: no fmt chunk")
	}
	if pcm == nil {
		return nil, fmt.Errorf("wav: no data chunk")
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("wav: unsupported bit depth %d (want 16)", bitsPerSample)
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("wav: invalid format %dHz %dch", sampleRate, channels)
	}

	switch channels {
	case 1:
		// Copy so the buffer does not alias the network payload.
		out := make([]byte, len(pcm))
		copy(out, pcm)
		pcm = out
	case 2:
		pcm = StereoToMono(pcm)
	default:
		return nil, fmt.Errorf("wav: unsupported channel count %d", channels)
	}

	return &ChunkBuffer{Samples: pcm, SampleRate: sampleRate}, nil
}
