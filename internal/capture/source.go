package capture

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/MrWong99/voxtap/pkg/audio"
)

// SampleSource supplies mono samples in the 24-bit working range to a
// [Simulator]. Read always fills dst completely.
type SampleSource interface {
	Read(dst []int32)
}

// SilenceSource produces digital silence.
type SilenceSource struct{}

// Read implements [SampleSource].
func (SilenceSource) Read(dst []int32) {
	clear(dst)
}

// Segment is one step of a [ToneSource] script.
type Segment struct {
	// Duration of the segment.
	Duration time.Duration

	// Freq is the tone frequency in Hz. Zero produces only the noise bed.
	Freq float64

	// Amplitude is the tone peak amplitude in 24-bit units.
	Amplitude float64
}

// ToneSource plays a looping script of sine segments over a uniform noise bed.
// It is deterministic for a given seed.
type ToneSource struct {
	script []Segment
	noise  float64
	rng    *rand.Rand

	seg   int
	left  int
	phase float64
}

// DefaultScript is two seconds of background followed by a one second tone,
// repeated. It exercises calibration, a full recording and the hangover.
var DefaultScript = []Segment{
	{Duration: 2 * time.Second},
	{Duration: time.Second, Freq: 440, Amplitude: 2_000_000},
	{Duration: 2 * time.Second},
}

// NewToneSource returns a source playing script in a loop with a noise bed of
// the given peak amplitude.
func NewToneSource(script []Segment, noise float64, seed uint64) *ToneSource {
	if len(script) == 0 {
		script = DefaultScript
	}
	t := &ToneSource{
		script: script,
		noise:  noise,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	t.left = audio.SamplesFor(script[0].Duration, audio.SampleRate)
	return t
}

// Read implements [SampleSource].
func (t *ToneSource) Read(dst []int32) {
	for i := range dst {
		for t.left <= 0 {
			t.seg = (t.seg + 1) % len(t.script)
			t.left = audio.SamplesFor(t.script[t.seg].Duration, audio.SampleRate)
			t.phase = 0
		}
		seg := t.script[t.seg]
		v := 0.0
		if seg.Freq > 0 {
			v = seg.Amplitude * math.Sin(t.phase)
			t.phase += 2 * math.Pi * seg.Freq / audio.SampleRate
		}
		if t.noise > 0 {
			v += (t.rng.Float64()*2 - 1) * t.noise
		}
		dst[i] = int32(v)
		t.left--
	}
}

// WAVSource replays the first channel of a 16 kHz WAV file.
type WAVSource struct {
	samples []int32
	pos     int
	loop    bool
}

// NewWAVSource loads path. When loop is false the source produces silence
// after the file ends.
func NewWAVSource(path string, loop bool) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open wav %q: %w", path, err)
	}
	defer f.Close()

	samples, rate, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("capture: load wav %q: %w", path, err)
	}
	if rate != audio.SampleRate {
		return nil, fmt.Errorf("capture: wav %q has sample rate %d, want %d", path, rate, audio.SampleRate)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("capture: wav %q contains no samples", path)
	}
	return &WAVSource{samples: samples, loop: loop}, nil
}

// Read implements [SampleSource].
func (w *WAVSource) Read(dst []int32) {
	for i := range dst {
		if w.pos >= len(w.samples) {
			if !w.loop {
				clear(dst[i:])
				return
			}
			w.pos = 0
		}
		dst[i] = w.samples[w.pos]
		w.pos++
	}
}
