// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (noise floor, smoothing history, consecutive frame counters) so that multiple
// audio streams can be processed independently.
//
// VAD is synchronous by design: Process returns immediately with a [Decision],
// making it suitable for the real-time worker that gates the recorder.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
)

// Config holds the parameters for a VAD session. Energies are expressed as the
// mean square of samples rescaled to 16-bit range.
type Config struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// SmoothingAlpha is the weight of the newest frame in the energy
	// exponential moving average. Range: (0, 1]. Default: 0.3.
	SmoothingAlpha float64

	// ZCRMin and ZCRMax bound the zero crossings per frame accepted as speech.
	// Defaults: 5 and 500.
	ZCRMin int
	ZCRMax int

	// CalibrationFrames is the number of initial frames used to estimate the
	// noise floor. No speech is reported during calibration. Default: 50.
	CalibrationFrames int

	// NoiseFloorAlpha is the adaptation rate of the noise floor after
	// calibration. Range: (0, 1]. Default: 0.05.
	NoiseFloorAlpha float64

	// ThresholdRatio multiplies the noise floor to obtain the speech threshold.
	// Must be greater than 1. Default: 1.5.
	ThresholdRatio float64

	// InitialThreshold is the threshold reported before calibration completes.
	// Default: 5 000 000.
	InitialThreshold float64

	// MinSpeechFrames is the number of consecutive qualifying frames required
	// before speech is reported. Default: 3.
	MinSpeechFrames int

	// AdaptAfterSilenceFrames is the number of consecutive non-speech frames
	// that must be exceeded before the noise floor adapts. Default: 10.
	AdaptAfterSilenceFrames int
}

// DefaultConfig returns the detector defaults for 16 kHz, 512-sample frames.
func DefaultConfig() Config {
	return Config{
		SampleRate:              16000,
		SmoothingAlpha:          0.3,
		ZCRMin:                  5,
		ZCRMax:                  500,
		CalibrationFrames:       50,
		NoiseFloorAlpha:         0.05,
		ThresholdRatio:          1.5,
		InitialThreshold:        5_000_000,
		MinSpeechFrames:         3,
		AdaptAfterSilenceFrames: 10,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("smoothing_alpha must be in (0, 1], got %g", c.SmoothingAlpha))
	}
	if c.ZCRMin < 0 || c.ZCRMax < c.ZCRMin {
		errs = append(errs, fmt.Errorf("zcr range [%d, %d] is invalid", c.ZCRMin, c.ZCRMax))
	}
	if c.CalibrationFrames <= 0 {
		errs = append(errs, fmt.Errorf("calibration_frames must be positive, got %d", c.CalibrationFrames))
	}
	if c.NoiseFloorAlpha <= 0 || c.NoiseFloorAlpha > 1 {
		errs = append(errs, fmt.Errorf("noise_floor_alpha must be in (0, 1], got %g", c.NoiseFloorAlpha))
	}
	if c.ThresholdRatio <= 1 {
		errs = append(errs, fmt.Errorf("threshold_ratio must be greater than 1, got %g", c.ThresholdRatio))
	}
	if c.InitialThreshold < 0 {
		errs = append(errs, fmt.Errorf("initial_threshold must not be negative, got %g", c.InitialThreshold))
	}
	if c.MinSpeechFrames <= 0 {
		errs = append(errs, fmt.Errorf("min_speech_frames must be positive, got %d", c.MinSpeechFrames))
	}
	if c.AdaptAfterSilenceFrames < 0 {
		errs = append(errs, fmt.Errorf("adapt_after_silence_frames must not be negative, got %d", c.AdaptAfterSilenceFrames))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety.
type SessionHandle interface {
	// Process classifies one frame of 24-bit samples. It never fails: an empty
	// frame yields a non-speech decision and leaves the state untouched.
	//
	// This method is designed to be called synchronously in the audio pipeline loop;
	// it must not block.
	Process(samples []int32) Decision

	// Reset clears all accumulated detection state and re-enters calibration.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
