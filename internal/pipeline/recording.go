package pipeline

import (
	"sync"
	"time"

	"github.com/MrWong99/voxtap/pkg/audio"
)

// Recording is the single utterance buffer. Its storage is allocated once and
// reused for every utterance; the owner field decides who may touch it.
type Recording struct {
	samples    []int32
	n          int
	sampleRate int
	start      time.Duration
	end        time.Duration
	owner      Owner
	seq        uint64
}

func newRecording(capacity, rate int) Recording {
	return Recording{samples: make([]int32, capacity), sampleRate: rate}
}

// reset empties the buffer for a new utterance starting at ts.
func (r *Recording) reset(ts time.Duration) {
	r.n = 0
	r.start = ts
	r.end = ts
	r.seq++
}

// append copies the frame samples. It returns false without copying anything
// when the frame does not fit.
func (r *Recording) append(f *audio.Frame) bool {
	pcm := f.PCM()
	if r.n+len(pcm) > len(r.samples) {
		return false
	}
	r.n += copy(r.samples[r.n:], pcm)
	r.end = f.Timestamp + f.Duration()
	return true
}

func (r *Recording) duration() time.Duration {
	return audio.DurationOf(r.n, r.sampleRate)
}

// Lease is the consumer's exclusive, zero-copy view of a finished Recording.
// The view is valid until Release; the recorder cannot start a new utterance
// while a lease is outstanding.
type Lease struct {
	p    *Pipeline
	once sync.Once

	mu         sync.Mutex
	samples    []int32
	sampleRate int
	dur        time.Duration
	start      time.Duration
	end        time.Duration
	seq        uint64
}

// Samples returns the recorded samples. The slice aliases the pipeline buffer
// and must not be retained after Release. Returns nil once released.
func (l *Lease) Samples() []int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.samples
}

// SampleRate returns the sample rate of the recording in Hz.
func (l *Lease) SampleRate() int { return l.sampleRate }

// Duration returns the audio length derived from the sample count.
func (l *Lease) Duration() time.Duration { return l.dur }

// Span returns the capture timestamps of the first and past-the-last sample.
func (l *Lease) Span() (start, end time.Duration) { return l.start, l.end }

// Seq identifies the utterance. Every new recording gets a higher number.
func (l *Lease) Seq() uint64 { return l.seq }

// Release returns the buffer to the recorder. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.mu.Lock()
		l.samples = nil
		l.mu.Unlock()
		l.p.release(l)
	})
}
