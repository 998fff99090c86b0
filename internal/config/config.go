// Package config provides the configuration schema, loader, hot-reload
// watcher, and provider registry for the voxtap speech capture service.
package config

import "time"

// LogLevel controls log verbosity for the voxtap server.
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

// CaptureSource selects where the simulated receiver reads samples from.
type CaptureSource string

const (
	// SourceTone plays a scripted sine tone over a noise bed.
	SourceTone CaptureSource = "tone"

	// SourceSilence produces digital silence.
	SourceSilence CaptureSource = "silence"

	// SourceWAV replays a 16 kHz WAV file.
	SourceWAV CaptureSource = "wav"
)

// IsValid reports whether s is a recognised capture source.
func (s CaptureSource) IsValid() bool {
	switch s {
	case SourceTone, SourceSilence, SourceWAV:
		return true
	}
	return false
}

// Config is the root configuration structure for voxtap.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Fields absent from the file keep the values of [Default].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	VAD       VADConfig       `yaml:"vad"`
	Recording RecordingConfig `yaml:"recording"`
	Uploader  UploaderConfig  `yaml:"uploader"`
	STT       STTConfig       `yaml:"stt"`
	Display   DisplayConfig   `yaml:"display"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the status and metrics server
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without a restart.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CaptureConfig configures the audio receiver.
type CaptureConfig struct {
	// Source selects the sample source.
	Source CaptureSource `yaml:"source"`

	// WAVPath is the file replayed when Source is "wav".
	WAVPath string `yaml:"wav_path"`

	// Loop restarts the WAV file at its end instead of falling silent.
	Loop bool `yaml:"loop"`

	// Noise is the peak amplitude of the tone source noise bed in 24-bit units.
	Noise float64 `yaml:"noise"`

	// Seed makes the tone source noise reproducible.
	Seed uint64 `yaml:"seed"`
}

// VADConfig mirrors the adaptive detector parameters.
type VADConfig struct {
	// Engine selects the registered detector. Default: "adaptive".
	Engine string `yaml:"engine"`

	SmoothingAlpha          float64 `yaml:"smoothing_alpha"`
	ZCRMin                  int     `yaml:"zcr_min"`
	ZCRMax                  int     `yaml:"zcr_max"`
	CalibrationFrames       int     `yaml:"calibration_frames"`
	NoiseFloorAlpha         float64 `yaml:"noise_floor_alpha"`
	ThresholdRatio          float64 `yaml:"threshold_ratio"`
	InitialThreshold        float64 `yaml:"initial_threshold"`
	MinSpeechFrames         int     `yaml:"min_speech_frames"`
	AdaptAfterSilenceFrames int     `yaml:"adapt_after_silence_frames"`
}

// RecordingConfig holds the recorder policy.
type RecordingConfig struct {
	HangoverFrames int           `yaml:"hangover_frames"`
	MinDuration    time.Duration `yaml:"min_duration"`
	MaxDuration    time.Duration `yaml:"max_duration"`
	HighPass       bool          `yaml:"highpass"`
}

// UploaderConfig holds the upload stage timings.
type UploaderConfig struct {
	MinDuration time.Duration `yaml:"min_duration"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	DisplayHold time.Duration `yaml:"display_hold"`

	// DebugDir, when set, receives a copy of every uploaded WAV payload.
	DebugDir string `yaml:"debug_dir"`

	// Language is a BCP-47 tag passed to every STT provider as a recognition
	// hint. Each provider maps it onto its own model selection.
	Language string `yaml:"language"`
}

// STTConfig lists the recognition backends in failover order.
type STTConfig struct {
	Providers      []ProviderEntry      `yaml:"providers"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the per-provider breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the configuration block of one STT backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "baidu", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// SecretKey is the second credential of providers using a key pair.
	SecretKey string `yaml:"secret_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// DisplayConfig configures the status output.
type DisplayConfig struct {
	// Interval is the status polling period.
	Interval time.Duration `yaml:"interval"`

	// Log writes every status change to the structured log.
	Log bool `yaml:"log"`

	// Origins lists host patterns allowed to open the status websocket from
	// another origin (e.g., "dashboard.local:*"). Same-origin clients are
	// always accepted.
	Origins []string `yaml:"origins"`
}

// Default returns the configuration used for every field the YAML file does
// not set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			LogLevel:        LogInfo,
			ShutdownTimeout: 5 * time.Second,
		},
		Capture: CaptureConfig{
			Source: SourceTone,
			Loop:   true,
			Noise:  20_000,
			Seed:   1,
		},
		VAD: VADConfig{
			Engine:                  "adaptive",
			SmoothingAlpha:          0.3,
			ZCRMin:                  5,
			ZCRMax:                  500,
			CalibrationFrames:       50,
			NoiseFloorAlpha:         0.05,
			ThresholdRatio:          1.5,
			InitialThreshold:        5_000_000,
			MinSpeechFrames:         3,
			AdaptAfterSilenceFrames: 10,
		},
		Recording: RecordingConfig{
			HangoverFrames: 20,
			MinDuration:    300 * time.Millisecond,
			MaxDuration:    1500 * time.Millisecond,
			HighPass:       true,
		},
		Uploader: UploaderConfig{
			MinDuration: 500 * time.Millisecond,
			SettleDelay: 50 * time.Millisecond,
			DisplayHold: 500 * time.Millisecond,
		},
		STT: STTConfig{
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:  3,
				ResetTimeout: 30 * time.Second,
			},
		},
		Display: DisplayConfig{
			Interval: 500 * time.Millisecond,
			Log:      true,
		},
	}
}
