package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.Platform != "" && !cfg.Audio.Platform.IsValid() {
		errs = append(errs, fmt.Errorf("audio.platform %q is invalid; valid values: desktop, ios, android", cfg.Audio.Platform))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must not be negative", cfg.Audio.CaptureRate))
	}

	if cfg.VAD.VolumeThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.volume_threshold %.2f must not be negative", cfg.VAD.VolumeThreshold))
	}
	if cfg.VAD.SilenceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_ms %d must not be negative", cfg.VAD.SilenceMs))
	}
	if cfg.Handsfree.SettleMs < 0 {
		errs = append(errs, fmt.Errorf("handsfree.settle_ms %d must not be negative", cfg.Handsfree.SettleMs))
	}

	if cfg.Providers.STT.Endpoint == "" {
		slog.Warn("providers.stt.endpoint is empty; transcription will be unavailable")
	}
	if cfg.Providers.TTS.Endpoint == "" {
		slog.Warn("providers.tts.endpoint is empty; speech synthesis will be unavailable")
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured log level onto its slog equivalent.
// Unset or unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
