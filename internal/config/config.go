// Package config provides the configuration schema, loader, and validation
// for the voxloop engine.
package config

import "github.com/voxkit/voxloop/pkg/audio/output"

// LogLevel controls log verbosity for the voxloop server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxloop. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Handsfree HandsfreeConfig `yaml:"handsfree"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the bridge server listens on (e.g., ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the transcription and synthesis collaborators.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by both provider
// kinds.
type ProviderEntry struct {
	// Endpoint is the provider's HTTP endpoint URL.
	Endpoint string `yaml:"endpoint"`

	// APIKey is the bearer token sent with each request, if any.
	APIKey string `yaml:"api_key"`

	// Model selects a model within the provider (STT only).
	Model string `yaml:"model"`
}

// AudioConfig holds the audio graph parameters.
type AudioConfig struct {
	// Platform is the host family: desktop, ios, or android. Selects the
	// output routing strategy.
	Platform output.Platform `yaml:"platform"`

	// SampleRate is the playback graph rate in Hz. Default 48000.
	SampleRate int `yaml:"sample_rate"`

	// CaptureRate is the recording rate in Hz. Default 16000.
	CaptureRate int `yaml:"capture_rate"`
}

// VADConfig tunes the voice activity detector.
type VADConfig struct {
	// VolumeThreshold is the RMS speech threshold on the 8-bit deviation
	// scale. Default 10.
	VolumeThreshold float64 `yaml:"volume_threshold"`

	// SilenceMs is the quiet interval in milliseconds that ends a speech
	// segment. Default 2000.
	SilenceMs int `yaml:"silence_ms"`
}

// HandsfreeConfig tunes the conversational loop.
type HandsfreeConfig struct {
	// SettleMs is the debounce in milliseconds between playback complete
	// and VAD re-arm. Default 300.
	SettleMs int `yaml:"settle_ms"`
}
