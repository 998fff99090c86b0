package config

import (
	"github.com/MrWong99/voxtap/internal/pipeline"
	"github.com/MrWong99/voxtap/internal/uploader"
	"github.com/MrWong99/voxtap/pkg/audio"
	"github.com/MrWong99/voxtap/pkg/provider/vad"
)

// Detector returns the detector parameters for 16 kHz capture.
func (c VADConfig) Detector() vad.Config {
	return vad.Config{
		SampleRate:              audio.SampleRate,
		SmoothingAlpha:          c.SmoothingAlpha,
		ZCRMin:                  c.ZCRMin,
		ZCRMax:                  c.ZCRMax,
		CalibrationFrames:       c.CalibrationFrames,
		NoiseFloorAlpha:         c.NoiseFloorAlpha,
		ThresholdRatio:          c.ThresholdRatio,
		InitialThreshold:        c.InitialThreshold,
		MinSpeechFrames:         c.MinSpeechFrames,
		AdaptAfterSilenceFrames: c.AdaptAfterSilenceFrames,
	}
}

// Pipeline returns the recorder policy.
func (c RecordingConfig) Pipeline() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.HangoverFrames = c.HangoverFrames
	cfg.MinDuration = c.MinDuration
	cfg.MaxDuration = c.MaxDuration
	cfg.HighPass = c.HighPass
	return cfg
}

// Upload returns the upload stage settings.
func (c UploaderConfig) Upload() uploader.Config {
	cfg := uploader.DefaultConfig()
	cfg.MinDuration = c.MinDuration
	cfg.SettleDelay = c.SettleDelay
	cfg.DisplayHold = c.DisplayHold
	cfg.DebugDir = c.DebugDir
	cfg.Language = c.Language
	return cfg
}
