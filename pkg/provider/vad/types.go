package vad

// Decision is the detector output for a single frame together with the
// detector state after the frame was applied.
type Decision struct {
	// Speech reports confirmed speech: enough consecutive qualifying frames.
	Speech bool

	// Energy is the raw mean-square energy of the frame.
	Energy float64

	// Smoothed is the smoothed energy after this frame.
	Smoothed float64

	// ZCR is the number of sign changes within the frame.
	ZCR int

	// Threshold is the current speech energy threshold.
	Threshold float64

	// NoiseFloor is the current noise floor estimate.
	NoiseFloor float64

	// Calibrated is false while the noise floor is still being estimated.
	Calibrated bool

	// Run is the number of consecutive qualifying frames so far.
	Run int
}
