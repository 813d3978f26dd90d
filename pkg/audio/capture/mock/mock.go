// Package mock provides scripted capture sources for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxkit/voxloop/pkg/audio"
	"github.com/voxkit/voxloop/pkg/audio/capture"
)

// Compile-time interface assertions.
var (
	_ capture.Source  = (*Source)(nil)
	_ capture.Session = (*Session)(nil)
)

// Source is a scripted capture.Source. Each Open returns a fresh [Session]
// unless FailOpen is set, in which case Open returns an error — used to test
// the inert-on-permission-failure paths.
type Source struct {
	// FailOpen makes Open return an error, simulating a denied microphone.
	FailOpen bool

	mu       sync.Mutex
	sessions []*Session
	opens    int
}

// Open implements capture.Source.
func (s *Source) Open(_ context.Context, _ capture.Config) (capture.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.FailOpen {
		return nil, errors.New("mock: microphone denied")
	}
	sess := NewSession(64)
	s.sessions = append(s.sessions, sess)
	return sess, nil
}

// Opens returns how many times Open was called (including failures).
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Last returns the most recently opened session, or nil.
func (s *Source) Last() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return nil
	}
	return s.sessions[len(s.sessions)-1]
}

// Session is a scripted capture.Session fed by the test via [Session.Push].
type Session struct {
	frames chan audio.Frame

	mu     sync.Mutex
	closed bool
}

// NewSession creates a session with the given frame channel buffer depth.
func NewSession(buf int) *Session {
	return &Session{frames: make(chan audio.Frame, buf)}
}

// Push delivers a frame to the session's consumer. Push after Close is a
// silent no-op so racy test teardowns don't panic.
func (s *Session) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- f
}

// PushPCM is shorthand for pushing a mono frame of raw PCM at the given rate.
func (s *Session) PushPCM(pcm []byte, rate int) {
	s.Push(audio.Frame{Data: pcm, SampleRate: rate, Channels: 1})
}

// Frames implements capture.Session.
func (s *Session) Frames() <-chan audio.Frame { return s.frames }

// Close implements capture.Session. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
