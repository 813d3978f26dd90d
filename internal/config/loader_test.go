package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxkit/voxloop/internal/config"
	"github.com/voxkit/voxloop/pkg/audio/output"
)

const validYAML = `
server:
  listen_addr: ":8090"
  log_level: debug
providers:
  stt:
    endpoint: https://stt.example.com/v1/transcribe
    api_key: stt-key
    model: fast-stt
  tts:
    endpoint: https://tts.example.com/v1/speak
    api_key: tts-key
audio:
  platform: android
  sample_rate: 48000
  capture_rate: 16000
vad:
  volume_threshold: 12.5
  silence_ms: 1500
handsfree:
  settle_ms: 250
`

func TestLoadFromReaderParsesAllSections(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.STT.Model != "fast-stt" || cfg.Providers.STT.APIKey != "stt-key" {
		t.Errorf("stt provider = %+v", cfg.Providers.STT)
	}
	if cfg.Providers.TTS.Endpoint != "https://tts.example.com/v1/speak" {
		t.Errorf("tts endpoint = %q", cfg.Providers.TTS.Endpoint)
	}
	if cfg.Audio.Platform != output.PlatformAndroid {
		t.Errorf("platform = %q", cfg.Audio.Platform)
	}
	if cfg.VAD.VolumeThreshold != 12.5 || cfg.VAD.SilenceMs != 1500 {
		t.Errorf("vad = %+v", cfg.VAD)
	}
	if cfg.Handsfree.SettleMs != 250 {
		t.Errorf("settle_ms = %d", cfg.Handsfree.SettleMs)
	}
}

func TestLoadReadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxloop.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("sample_rate = %d", cfg.Audio.SampleRate)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	t.Parallel()

	in := `
server:
  listen_addr: ":8090"
  log_lvl: debug
`
	if _, err := config.LoadFromReader(strings.NewReader(in)); err == nil {
		t.Fatal("expected error for an unknown key")
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Audio.Platform = "toaster"
	cfg.Audio.SampleRate = -1
	cfg.VAD.SilenceMs = -5

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{"server.log_level", "audio.platform", "audio.sample_rate", "vad.silence_ms"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestValidateAcceptsEmptyConfig(t *testing.T) {
	t.Parallel()

	if err := config.Validate(&config.Config{}); err != nil {
		t.Errorf("Validate(empty) = %v, want nil", err)
	}
}

func TestSlogLevelMapping(t *testing.T) {
	t.Parallel()

	cases := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range cases {
		if got := in.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
