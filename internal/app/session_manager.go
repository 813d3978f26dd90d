// Package app assembles the engine's components into a running session:
// host bridge, providers, playback pipeline, and handsfree orchestrator.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxkit/voxloop/internal/config"
	"github.com/voxkit/voxloop/internal/handsfree"
	"github.com/voxkit/voxloop/internal/observe"
	"github.com/voxkit/voxloop/internal/player"
	"github.com/voxkit/voxloop/pkg/audio/wsbridge"
	"github.com/voxkit/voxloop/pkg/provider/stt"
	"github.com/voxkit/voxloop/pkg/provider/stt/streamhttp"
	"github.com/voxkit/voxloop/pkg/provider/tts/httptts"
	"github.com/voxkit/voxloop/pkg/provider/vad"
)

// Session is one live host connection with its assembled engine stack.
type Session struct {
	bridge *wsbridge.Bridge
	pipe   *player.Pipeline
	orch   *handsfree.Orchestrator
	cancel context.CancelFunc

	// closers are called in reverse order during teardown.
	closers []func() error
}

// Pipeline returns the session's playback pipeline.
func (s *Session) Pipeline() *player.Pipeline { return s.pipe }

// Orchestrator returns the session's handsfree orchestrator, for wiring the
// transcript consumer and the manual recording controls.
func (s *Session) Orchestrator() *handsfree.Orchestrator { return s.orch }

// SessionManager manages the lifecycle of engine sessions. Only one session
// can be active at a time. All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg     *config.Config
	metrics *observe.Metrics

	mu     sync.Mutex
	active bool
	sess   *Session
}

// NewSessionManager creates a SessionManager for the given configuration.
// metrics may be nil, in which case [observe.DefaultMetrics] is used.
func NewSessionManager(cfg *config.Config, metrics *observe.Metrics) *SessionManager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{cfg: cfg, metrics: metrics}
}

// Start assembles a session on top of the given host bridge: providers,
// playback pipeline, and handsfree orchestrator, then activates handsfree.
// The session tears itself down when the bridge connection drops.
//
// Returns an error if a session is already active or a required provider is
// not configured.
func (sm *SessionManager) Start(ctx context.Context, bridge *wsbridge.Bridge) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return nil, fmt.Errorf("app: a session is already active")
	}
	if sm.cfg.Providers.STT.Endpoint == "" {
		return nil, fmt.Errorf("app: providers.stt.endpoint is not configured")
	}
	if sm.cfg.Providers.TTS.Endpoint == "" {
		return nil, fmt.Errorf("app: providers.tts.endpoint is not configured")
	}

	sttClient, err := streamhttp.New(sm.cfg.Providers.STT.Endpoint, sm.cfg.Providers.STT.APIKey)
	if err != nil {
		return nil, fmt.Errorf("app: build transcription client: %w", err)
	}
	ttsClient, err := httptts.New(sm.cfg.Providers.TTS.Endpoint, sm.cfg.Providers.TTS.APIKey)
	if err != nil {
		return nil, fmt.Errorf("app: build synthesis client: %w", err)
	}

	pipe := player.New(player.Config{
		Platform:   sm.cfg.Audio.Platform,
		SampleRate: sm.cfg.Audio.SampleRate,
	}, bridge, ttsClient)

	var vadOpts []vad.Option
	if sm.cfg.VAD.VolumeThreshold > 0 {
		vadOpts = append(vadOpts, vad.WithVolumeThreshold(sm.cfg.VAD.VolumeThreshold))
	}
	if sm.cfg.VAD.SilenceMs > 0 {
		vadOpts = append(vadOpts, vad.WithSilenceDuration(time.Duration(sm.cfg.VAD.SilenceMs)*time.Millisecond))
	}

	orch := handsfree.New(handsfree.Config{
		Model:       sm.cfg.Providers.STT.Model,
		SampleRate:  sm.cfg.Audio.CaptureRate,
		SettleDelay: time.Duration(sm.cfg.Handsfree.SettleMs) * time.Millisecond,
		VADOptions:  vadOpts,
	}, bridge, sttClient, pipe)

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		bridge:  bridge,
		pipe:    pipe,
		orch:    orch,
		cancel:  cancel,
		closers: []func() error{pipe.Close, orch.Close},
	}

	// The host closes the conversational loop: every completed transcript
	// goes out as a control event, and the host answers with a "speak" event
	// carrying the reply text to voice.
	orch.OnNewTranscription(func(text string, _ *stt.Usage) {
		bridge.SendTranscript(text)
	})
	bridge.OnSpeak(func(turnID, text string) {
		go func() {
			if turnID == "" {
				turnID = fmt.Sprintf("turn-%d", time.Now().UnixNano())
			}
			if _, err := orch.Speak(sessCtx, turnID, text); err != nil {
				slog.Warn("app: speak failed", "turn", turnID, "err", err)
			}
		}()
	})

	orch.Activate(sessCtx)

	sm.active = true
	sm.sess = sess
	sm.metrics.ActiveSessions.Add(ctx, 1)

	// Tear down automatically when the host disconnects.
	go func() {
		select {
		case <-bridge.Done():
		case <-sessCtx.Done():
			return
		}
		if err := sm.Stop(context.Background()); err != nil {
			slog.Debug("app: bridge-driven stop", "err", err)
		}
	}()

	slog.Info("app: session started",
		"platform", sm.cfg.Audio.Platform,
		"sample_rate", sm.cfg.Audio.SampleRate,
	)
	return sess, nil
}

// Stop tears the active session down: deactivates handsfree, closes the
// pipeline and orchestrator in reverse order, and closes the bridge.
//
// Returns an error if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return fmt.Errorf("app: no active session to stop")
	}
	sess := sm.sess

	sess.cancel()
	for i := len(sess.closers) - 1; i >= 0; i-- {
		if err := sess.closers[i](); err != nil {
			slog.Warn("app: closer error", "index", i, "err", err)
		}
	}
	if err := sess.bridge.Close(); err != nil {
		slog.Warn("app: bridge close error", "err", err)
	}

	sm.active = false
	sm.sess = nil
	sm.metrics.ActiveSessions.Add(ctx, -1)

	slog.Info("app: session stopped")
	return nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Active returns the running session, or nil.
func (sm *SessionManager) Active() *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sess
}
