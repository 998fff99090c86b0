package capture

import (
	"sync"
	"time"

	"github.com/MrWong99/voxtap/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Hardware = (*Simulator)(nil)

// SimOption is a functional option for [NewSimulator].
type SimOption func(*Simulator)

// WithPeriod overrides the interval between transfer completions. The default
// is the real duration of one frame (32 ms). Tests use shorter periods.
func WithPeriod(d time.Duration) SimOption {
	return func(s *Simulator) {
		if d > 0 {
			s.period = d
		}
	}
}

// Simulator is an [audio.Hardware] that emulates a circular DMA receive from a
// [SampleSource]. Callbacks are delivered from a single internal goroutine.
// Callbacks must not call Stop.
type Simulator struct {
	src    SampleSource
	period time.Duration

	mu    sync.Mutex
	armed bool
	done  chan struct{}
	fault chan audio.Code
	wg    sync.WaitGroup

	mono [audio.FrameSize]int32
}

// NewSimulator returns a stopped simulator reading from src.
func NewSimulator(src SampleSource, opts ...SimOption) *Simulator {
	s := &Simulator{
		src:    src,
		period: audio.DurationOf(audio.FrameSize, audio.SampleRate),
		fault:  make(chan audio.Code, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start implements [audio.Hardware]. Start and Stop must not be called
// concurrently with each other.
func (s *Simulator) Start(dma []int32, cb audio.Callbacks) error {
	if len(dma) < 2*audio.DMAHalfWords {
		return &audio.HardwareError{Code: audio.CodeFault, Op: "start"}
	}
	s.mu.Lock()
	armed := s.armed
	s.mu.Unlock()
	if armed {
		return &audio.HardwareError{Code: audio.CodeBusy, Op: "start"}
	}
	// A previous transfer may still be unwinding after a fault.
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(dma, cb, s.done)
	return nil
}

// Stop implements [audio.Hardware]. It returns after the callback goroutine has
// exited.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if s.armed {
		s.armed = false
		close(s.done)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// InjectFault makes the next transfer completion fail with code. The transfer
// is aborted as a real peripheral would.
func (s *Simulator) InjectFault(code audio.Code) {
	select {
	case s.fault <- code:
	default:
	}
}

func (s *Simulator) run(dma []int32, cb audio.Callbacks, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	half := 0
	for {
		select {
		case <-done:
			return
		case code := <-s.fault:
			s.abort()
			cb.TransferError(&audio.HardwareError{Code: code, Op: "transfer"})
			return
		case <-ticker.C:
		}

		s.src.Read(s.mono[:])
		off := half * audio.DMAHalfWords
		audio.Interleave(dma[off:off+audio.DMAHalfWords], s.mono[:], audio.WireShift)

		// Stop may have raced with the tick.
		select {
		case <-done:
			return
		default:
		}
		if half == 0 {
			cb.HalfTransfer()
		} else {
			cb.FullTransfer()
		}
		half ^= 1
	}
}

func (s *Simulator) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		s.armed = false
		close(s.done)
	}
}
