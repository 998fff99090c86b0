package audio

import "math"

// Deinterleave extracts the left channel (even-indexed words) of an
// interleaved stereo wire buffer into dst, shifting each word right by shift
// bits. It returns the number of samples written, which is the smaller of
// len(src)/2 and len(dst).
func Deinterleave(dst, src []int32, shift uint) int {
	n := len(src) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = src[i*2] >> shift
	}
	return n
}

// Interleave packs mono samples into the wire format produced by the capture
// peripheral: each sample shifted left by shift bits on the left channel, with
// the right channel left at zero. dst must hold 2*len(src) words; the number of
// samples packed is returned.
func Interleave(dst, src []int32, shift uint) int {
	n := len(src)
	if 2*n > len(dst) {
		n = len(dst) / 2
	}
	for i := 0; i < n; i++ {
		dst[i*2] = src[i] << shift
		dst[i*2+1] = 0
	}
	return n
}

// To16 converts 24-bit working samples to 16-bit PCM by dropping the lowest
// eight bits and clamping to the int16 range. dst must be at least len(src)
// long; the number of converted samples is returned.
func To16(dst []int16, src []int32) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		s := src[i] >> 8
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		dst[i] = int16(s)
	}
	return n
}

// HighPass is a first-order DC-blocking filter y[n] = x[n] - x[n-1] + a*y[n-1].
// It keeps state across calls so consecutive frames are filtered seamlessly.
// Not safe for concurrent use.
type HighPass struct {
	alpha   float64
	prevIn  int32
	prevOut int32
}

// NewHighPass returns a filter with pole alpha (typically 0.95).
func NewHighPass(alpha float64) *HighPass {
	return &HighPass{alpha: alpha}
}

// Apply filters samples in place.
func (h *HighPass) Apply(samples []int32) {
	for i, x := range samples {
		y := x - h.prevIn + int32(h.alpha*float64(h.prevOut))
		h.prevIn = x
		h.prevOut = y
		samples[i] = y
	}
}

// Reset clears the filter history.
func (h *HighPass) Reset() {
	h.prevIn = 0
	h.prevOut = 0
}

// RMS returns the root-mean-square amplitude of samples. Returns 0 for an
// empty slice.
func RMS(samples []int32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute sample value.
func Peak(samples []int32) int32 {
	var peak int32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
