package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"baidu", "whisper"},
	"vad": {"adaptive"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
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

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", cfg.Server.ShutdownTimeout))
	}

	// Capture
	if !cfg.Capture.Source.IsValid() {
		errs = append(errs, fmt.Errorf("capture.source %q is invalid; valid values: tone, silence, wav", cfg.Capture.Source))
	}
	if cfg.Capture.Source == SourceWAV && cfg.Capture.WAVPath == "" {
		errs = append(errs, errors.New("capture.wav_path is required when source is wav"))
	}
	if cfg.Capture.Noise < 0 {
		errs = append(errs, fmt.Errorf("capture.noise must not be negative, got %g", cfg.Capture.Noise))
	}

	// Detector, recorder and uploader validate their own parameters.
	validateProviderName("vad", cfg.VAD.Engine)
	if err := cfg.VAD.Detector().Validate(); err != nil {
		errs = append(errs, prefixed("vad", err))
	}
	if err := cfg.Recording.Pipeline().Validate(); err != nil {
		errs = append(errs, prefixed("recording", err))
	}
	if err := cfg.Uploader.Upload().Validate(); err != nil {
		errs = append(errs, prefixed("uploader", err))
	}
	if cfg.Uploader.Language != "" {
		if _, err := language.Parse(cfg.Uploader.Language); err != nil {
			errs = append(errs, fmt.Errorf("uploader.language %q is not a BCP-47 tag; provider model ids belong in stt.providers[].options", cfg.Uploader.Language))
		}
	}

	// STT providers
	if len(cfg.STT.Providers) == 0 {
		slog.Warn("no stt providers configured; recordings will fail with ERR:-3")
	}
	seen := make(map[string]int, len(cfg.STT.Providers))
	for i, p := range cfg.STT.Providers {
		prefix := fmt.Sprintf("stt.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of stt.providers[%d]", prefix, p.Name, prev))
		}
		seen[p.Name] = i
		validateProviderName("stt", p.Name)

		switch p.Name {
		case "baidu":
			if p.APIKey == "" || p.SecretKey == "" {
				errs = append(errs, fmt.Errorf("%s: provider baidu requires api_key and secret_key", prefix))
			}
		case "whisper":
			if p.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s: provider whisper requires base_url", prefix))
			}
		}
	}
	if cfg.STT.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("stt.circuit_breaker.max_failures must not be negative, got %d", cfg.STT.CircuitBreaker.MaxFailures))
	}
	if cfg.STT.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("stt.circuit_breaker.reset_timeout must not be negative, got %s", cfg.STT.CircuitBreaker.ResetTimeout))
	}

	// Display
	if cfg.Display.Interval <= 0 {
		errs = append(errs, fmt.Errorf("display.interval must be positive, got %s", cfg.Display.Interval))
	}

	return errors.Join(errs...)
}

// prefixed puts section in front of every joined error in err.
func prefixed(section string, err error) error {
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return fmt.Errorf("%s: %w", section, err)
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, fmt.Errorf("%s: %w", section, e))
	}
	return errors.Join(out...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
