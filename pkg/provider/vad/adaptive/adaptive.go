// Package adaptive implements a pure-Go voice activity detector that combines
// frame energy with zero-crossing rate and adapts its threshold to the
// background noise.
//
// The first [vad.Config.CalibrationFrames] frames estimate the noise floor and
// never report speech. Afterwards a frame qualifies when its smoothed energy
// exceeds floor × ratio and its zero-crossing count lies within the configured
// band; speech is confirmed once enough consecutive frames qualify. During long
// quiet stretches the floor follows the background slowly so the detector keeps
// working when the room gets louder or quieter.
package adaptive

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxtap/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// calibrationAlpha is the noise floor EMA weight used while calibrating.
const calibrationAlpha = 0.1

// energyShift rescales 24-bit samples before squaring so the int64 sum cannot
// overflow for any realistic frame length.
const energyShift = 8

// Engine creates adaptive detector sessions. The zero value is ready to use.
type Engine struct{}

// New returns an adaptive [Engine].
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	return NewSession(cfg)
}

// Session is the per-stream detector state. It is not safe for concurrent use;
// the pipeline worker is its only caller.
type Session struct {
	cfg vad.Config

	noiseFloor   float64
	threshold    float64
	smoothed     float64
	speechRun    int
	silenceRun   int
	calibrated   int
	isCalibrated bool
	closed       bool
}

// NewSession validates cfg and returns a session in calibration.
func NewSession(cfg vad.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("adaptive: %w", err)
	}
	s := &Session{cfg: cfg}
	s.Reset()
	return s, nil
}

// Process implements [vad.SessionHandle].
func (s *Session) Process(samples []int32) vad.Decision {
	if len(samples) == 0 || s.closed {
		return s.decision(0, 0, false)
	}

	energy := Energy(samples)
	zcr := ZeroCrossings(samples)
	a := s.cfg.SmoothingAlpha
	s.smoothed = s.smoothed*(1-a) + energy*a

	if !s.isCalibrated {
		s.calibrate(energy)
		return s.decision(energy, zcr, false)
	}

	qualifies := s.smoothed > s.threshold && zcr >= s.cfg.ZCRMin && zcr <= s.cfg.ZCRMax
	if qualifies {
		s.speechRun++
		s.silenceRun = 0
	} else {
		s.silenceRun++
		s.speechRun = 0
		if s.silenceRun > s.cfg.AdaptAfterSilenceFrames {
			s.adapt(energy)
		}
	}
	return s.decision(energy, zcr, s.speechRun >= s.cfg.MinSpeechFrames)
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.noiseFloor = s.cfg.InitialThreshold
	s.threshold = s.cfg.InitialThreshold
	s.smoothed = 0
	s.speechRun = 0
	s.silenceRun = 0
	s.calibrated = 0
	s.isCalibrated = false
}

// Close implements [vad.SessionHandle]. After Close every frame is reported as
// non-speech.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

func (s *Session) calibrate(energy float64) {
	s.calibrated++
	if s.calibrated == 1 {
		s.noiseFloor = energy
	} else {
		s.noiseFloor = s.noiseFloor*(1-calibrationAlpha) + energy*calibrationAlpha
	}
	if s.calibrated >= s.cfg.CalibrationFrames {
		s.isCalibrated = true
		s.threshold = s.noiseFloor * s.cfg.ThresholdRatio
		slog.Info("vad: calibration complete",
			"noise_floor", s.noiseFloor,
			"threshold", s.threshold,
		)
	}
}

// adapt moves the floor towards the current energy, but only for frames well
// below the threshold so speech tails never raise it.
func (s *Session) adapt(energy float64) {
	if energy >= s.threshold*0.5 {
		return
	}
	b := s.cfg.NoiseFloorAlpha
	s.noiseFloor = s.noiseFloor*(1-b) + energy*b
	s.threshold = s.noiseFloor * s.cfg.ThresholdRatio
}

func (s *Session) decision(energy float64, zcr int, speech bool) vad.Decision {
	return vad.Decision{
		Speech:     speech,
		Energy:     energy,
		Smoothed:   s.smoothed,
		ZCR:        zcr,
		Threshold:  s.threshold,
		NoiseFloor: s.noiseFloor,
		Calibrated: s.isCalibrated,
		Run:        s.speechRun,
	}
}

// Energy returns the mean square of the samples after rescaling them to 16-bit
// range. An empty frame has zero energy.
func Energy(samples []int32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, v := range samples {
		x := int64(v >> energyShift)
		sum += x * x
	}
	return float64(sum) / float64(len(samples))
}

// ZeroCrossings counts sign changes between adjacent samples. Zero counts as
// positive.
func ZeroCrossings(samples []int32) int {
	if len(samples) < 2 {
		return 0
	}
	n := 0
	prev := samples[0] >= 0
	for _, v := range samples[1:] {
		cur := v >= 0
		if cur != prev {
			n++
		}
		prev = cur
	}
	return n
}
