package audio

import "time"

// Capture format constants. The microphone delivers 24-bit samples left-justified
// in 32-bit words on an interleaved stereo bus; only the left channel carries data.
const (
	// SampleRate is the capture rate in Hz.
	SampleRate = 16000

	// FrameSize is the number of mono samples in one [Frame] (32 ms at 16 kHz).
	FrameSize = 512

	// BitWidth is the working sample width after the wire word is rescaled.
	BitWidth = 24

	// Channels is the number of channels carried by a [Frame].
	Channels = 1

	// DMAHalfWords is the number of interleaved words in one half of the
	// circular DMA buffer. One half yields exactly one [Frame].
	DMAHalfWords = 2 * FrameSize

	// WireShift converts a left-justified 32-bit wire word to a signed 24-bit sample.
	WireShift = 8
)

// Frame is one fixed-size block of mono samples flowing from the capture
// producer to the processing worker. Frames are written once by the producer
// and are immutable once queued.
type Frame struct {
	// Samples holds the signed 24-bit sample values. Only Samples[:Len] is valid.
	Samples [FrameSize]int32

	// Len is the number of valid samples.
	Len int

	// SampleRate in Hz.
	SampleRate int

	// Channels is always 1 for captured frames.
	Channels int

	// BitWidth is the significant bit width of each sample.
	BitWidth int

	// Timestamp marks when this frame was captured, relative to producer start.
	Timestamp time.Duration
}

// PCM returns the valid portion of the sample array. Returns nil for a nil frame.
func (f *Frame) PCM() []int32 {
	if f == nil {
		return nil
	}
	return f.Samples[:f.Len]
}

// Duration returns the playback duration of the frame.
func (f *Frame) Duration() time.Duration {
	if f == nil {
		return 0
	}
	return DurationOf(f.Len, f.SampleRate)
}

// DurationOf returns the duration of n mono samples at rate Hz. Returns 0 for a
// non-positive rate.
func DurationOf(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// SamplesFor returns the number of mono samples that fit in d at rate Hz.
func SamplesFor(d time.Duration, rate int) int {
	return int(d * time.Duration(rate) / time.Second)
}
