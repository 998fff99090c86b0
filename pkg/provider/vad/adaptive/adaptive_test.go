package adaptive_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voxtap/pkg/provider/vad"
	"github.com/MrWong99/voxtap/pkg/provider/vad/adaptive"
)

const frameLen = 512

// sine returns one frame of a sine wave continuing from sample offset start.
func sine(freq, amp float64, start int) []int32 {
	out := make([]int32, frameLen)
	for i := range out {
		out[i] = int32(amp * math.Sin(2*math.Pi*freq*float64(start+i)/16000))
	}
	return out
}

func newSession(t *testing.T) *adaptive.Session {
	t.Helper()
	s, err := adaptive.NewSession(vad.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

// calibrate feeds a full calibration period of quiet background.
func calibrate(t *testing.T, s *adaptive.Session, amp float64) vad.Decision {
	t.Helper()
	var d vad.Decision
	for i := 0; i < vad.DefaultConfig().CalibrationFrames; i++ {
		d = s.Process(sine(1000, amp, i*frameLen))
	}
	if !d.Calibrated {
		t.Fatal("session not calibrated after calibration period")
	}
	return d
}

func TestSession_NoSpeechDuringCalibration(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	n := vad.DefaultConfig().CalibrationFrames

	// Even a loud voice-like tone is never reported while calibrating.
	for i := 0; i < n; i++ {
		d := s.Process(sine(440, 2_000_000, i*frameLen))
		if d.Speech {
			t.Fatalf("frame %d: speech reported during calibration", i)
		}
		if d.Calibrated != (i == n-1) {
			t.Fatalf("frame %d: Calibrated = %v", i, d.Calibrated)
		}
	}
}

func TestSession_InitialThresholdBeforeCalibration(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	d := s.Process(sine(1000, 4096, 0))
	if d.Threshold != vad.DefaultConfig().InitialThreshold {
		t.Errorf("Threshold = %g, want %g", d.Threshold, vad.DefaultConfig().InitialThreshold)
	}
}

func TestSession_CalibrationSetsThresholdFromFloor(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	d := calibrate(t, s, 4096)
	want := d.NoiseFloor * vad.DefaultConfig().ThresholdRatio
	if math.Abs(d.Threshold-want) > 1e-9 {
		t.Errorf("Threshold = %g, want floor*ratio = %g", d.Threshold, want)
	}
	if d.NoiseFloor <= 0 {
		t.Errorf("NoiseFloor = %g, want positive", d.NoiseFloor)
	}
}

func TestSession_DetectsSpeechWithinMinSpeechFrames(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	calibrate(t, s, 4096)

	minFrames := vad.DefaultConfig().MinSpeechFrames
	for i := 1; i <= minFrames; i++ {
		d := s.Process(sine(440, 2_000_000, i*frameLen))
		if d.Run != i {
			t.Errorf("frame %d: Run = %d, want %d", i, d.Run, i)
		}
		if got, want := d.Speech, i >= minFrames; got != want {
			t.Fatalf("frame %d: Speech = %v, want %v", i, got, want)
		}
	}
}

func TestSession_ZCROutOfBandIsNotSpeech(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	calibrate(t, s, 4096)

	// Loud DC offset: huge energy, zero crossings.
	dc := make([]int32, frameLen)
	for i := range dc {
		dc[i] = 3_000_000
	}
	// Loud alternating signal: huge energy, crossings above the band.
	alt := make([]int32, frameLen)
	for i := range alt {
		if i%2 == 0 {
			alt[i] = 3_000_000
		} else {
			alt[i] = -3_000_000
		}
	}

	for i := 0; i < 10; i++ {
		if d := s.Process(dc); d.Speech || d.Run != 0 {
			t.Fatalf("dc frame %d: Speech=%v Run=%d", i, d.Speech, d.Run)
		}
	}
	for i := 0; i < 10; i++ {
		d := s.Process(alt)
		if d.ZCR != frameLen-1 {
			t.Fatalf("ZCR = %d, want %d", d.ZCR, frameLen-1)
		}
		if d.Speech || d.Run != 0 {
			t.Fatalf("alternating frame %d: Speech=%v Run=%d", i, d.Speech, d.Run)
		}
	}
}

func TestSession_NonQualifyingFrameResetsRun(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	calibrate(t, s, 4096)

	s.Process(sine(440, 2_000_000, 0))
	s.Process(sine(440, 2_000_000, frameLen))
	// Zero crossings out of band breaks the run even though energy is high.
	dc := make([]int32, frameLen)
	for i := range dc {
		dc[i] = 3_000_000
	}
	if d := s.Process(dc); d.Run != 0 {
		t.Fatalf("Run = %d after non-qualifying frame, want 0", d.Run)
	}
	if d := s.Process(sine(440, 2_000_000, 2*frameLen)); d.Speech {
		t.Error("speech reported one frame after the run was broken")
	}
}

func TestSession_NoiseFloorAdaptsAfterSustainedSilence(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	cal := calibrate(t, s, 4096)
	after := vad.DefaultConfig().AdaptAfterSilenceFrames

	var d vad.Decision
	for i := 1; i <= after; i++ {
		d = s.Process(sine(1000, 1024, i*frameLen))
	}
	if d.Threshold != cal.Threshold {
		t.Fatalf("threshold moved before %d silent frames: %g -> %g", after, cal.Threshold, d.Threshold)
	}

	d = s.Process(sine(1000, 1024, (after+1)*frameLen))
	if d.NoiseFloor >= cal.NoiseFloor {
		t.Errorf("NoiseFloor = %g, want below %g after adaptation", d.NoiseFloor, cal.NoiseFloor)
	}
	if math.Abs(d.Threshold-d.NoiseFloor*vad.DefaultConfig().ThresholdRatio) > 1e-9 {
		t.Errorf("threshold %g not recomputed from floor %g", d.Threshold, d.NoiseFloor)
	}
}

func TestSession_LoudNonSpeechDoesNotRaiseFloor(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	cal := calibrate(t, s, 4096)

	// Loud broadband hiss with out-of-band crossings: not speech, and above
	// half the threshold, so the floor must stay put.
	alt := make([]int32, frameLen)
	for i := range alt {
		if i%2 == 0 {
			alt[i] = 1 << 16
		} else {
			alt[i] = -(1 << 16)
		}
	}
	var d vad.Decision
	for i := 0; i < 40; i++ {
		d = s.Process(alt)
	}
	if d.NoiseFloor != cal.NoiseFloor {
		t.Errorf("NoiseFloor moved from %g to %g", cal.NoiseFloor, d.NoiseFloor)
	}
}

func TestSession_EmptyFrameLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	before := s.Process(sine(1000, 4096, 0))

	d := s.Process(nil)
	if d.Speech || d.Energy != 0 || d.ZCR != 0 {
		t.Errorf("empty frame decision = %+v", d)
	}
	if d.Smoothed != before.Smoothed || d.NoiseFloor != before.NoiseFloor {
		t.Error("empty frame changed detector state")
	}

	// The empty frame does not count towards calibration.
	n := vad.DefaultConfig().CalibrationFrames
	for i := 1; i < n-1; i++ {
		s.Process(sine(1000, 4096, i*frameLen))
	}
	if d := s.Process(sine(1000, 4096, 0)); !d.Calibrated {
		t.Error("calibration did not complete on the Nth non-empty frame")
	}
}

func TestSession_ResetReentersCalibration(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	calibrate(t, s, 4096)
	s.Reset()
	if d := s.Process(sine(440, 2_000_000, 0)); d.Calibrated || d.Speech {
		t.Errorf("after Reset: Calibrated=%v Speech=%v", d.Calibrated, d.Speech)
	}
}

func TestSession_SilenceNeverTriggers(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	zero := make([]int32, frameLen)
	for i := 0; i < 500; i++ {
		if d := s.Process(zero); d.Speech {
			t.Fatalf("frame %d: speech on digital silence", i)
		}
	}
}

func TestNewSession_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*vad.Config)
	}{
		{"alpha zero", func(c *vad.Config) { c.SmoothingAlpha = 0 }},
		{"ratio at one", func(c *vad.Config) { c.ThresholdRatio = 1 }},
		{"zcr inverted", func(c *vad.Config) { c.ZCRMin, c.ZCRMax = 10, 5 }},
		{"no calibration", func(c *vad.Config) { c.CalibrationFrames = 0 }},
		{"no min run", func(c *vad.Config) { c.MinSpeechFrames = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := vad.DefaultConfig()
			tc.mutate(&cfg)
			if _, err := adaptive.New().NewSession(cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestEnergy(t *testing.T) {
	t.Parallel()
	if got := adaptive.Energy(nil); got != 0 {
		t.Errorf("Energy(nil) = %g, want 0", got)
	}
	// 256>>8 = 1, -512>>8 = -2: mean of 1 and 4.
	if got := adaptive.Energy([]int32{256, -512}); got != 2.5 {
		t.Errorf("Energy = %g, want 2.5", got)
	}
}

func TestZeroCrossings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   []int32
		want int
	}{
		{nil, 0},
		{[]int32{5}, 0},
		{[]int32{1, -1, 1, -1}, 3},
		{[]int32{0, -1, 0}, 2},
		{[]int32{0, 0, 5}, 0},
	}
	for _, tc := range tests {
		if got := adaptive.ZeroCrossings(tc.in); got != tc.want {
			t.Errorf("ZeroCrossings(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
