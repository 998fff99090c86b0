// Package capture turns DMA transfer completions into [audio.Frame] values.
//
// [Producer] implements [audio.Callbacks]. Each half or full transfer
// completion de-interleaves the left channel of the completed DMA half,
// rescales the wire words to 24-bit samples and publishes one frame into the
// [transport.Ring]. The callbacks never block: a full ring counts an overrun
// and drops the new data. Transfer errors are counted and the receiver is
// re-armed automatically while the producer is meant to be running.
//
// [Simulator] is a software [audio.Hardware] that fires the same callbacks at
// the real hardware cadence from a [SampleSource], so the whole pipeline runs
// without a microphone attached.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxtap/internal/observe"
	"github.com/MrWong99/voxtap/internal/transport"
	"github.com/MrWong99/voxtap/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Callbacks = (*Producer)(nil)

// Stats is a point-in-time view of the producer counters.
type Stats struct {
	// Frames is the number of frames published into the ring.
	Frames uint64 `json:"frames"`

	// Overruns is the number of frames dropped because the ring was full.
	Overruns uint64 `json:"overruns"`

	// DMAErrors is the number of transfer error callbacks received.
	DMAErrors uint64 `json:"dma_errors"`

	// Restarts is the number of successful automatic re-arms after an error.
	// A re-arm that needed several attempts counts once.
	Restarts uint64 `json:"restarts"`

	// Running reports whether reception is armed.
	Running bool `json:"running"`
}

// Option is a functional option for [NewProducer].
type Option func(*Producer)

// WithBackoff overrides [DefaultBackoff] for re-arming after transfer errors.
func WithBackoff(b Backoff) Option {
	return func(p *Producer) { p.backoff = b.withDefaults() }
}

// WithMetrics records frame, overrun and DMA error counters into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Producer) { p.metrics = m }
}

// Producer converts DMA completions into frames. Start and Stop may be called
// from any goroutine; the callbacks are invoked by the hardware.
type Producer struct {
	hw      audio.Hardware
	ring    *transport.Ring
	dma     []int32
	metrics *observe.Metrics
	epoch   time.Time

	// mu serialises Start, Stop and automatic restarts.
	mu       sync.Mutex
	running  atomic.Bool
	rearming atomic.Bool
	backoff  Backoff

	// generation counts successful Starts. Written under mu.
	generation atomic.Uint64

	frames    atomic.Uint64
	dmaErrors atomic.Uint64
	restarts  atomic.Uint64
}

// NewProducer creates a producer that receives from hw and publishes into ring.
// The DMA buffer is allocated here and owned by the producer.
func NewProducer(hw audio.Hardware, ring *transport.Ring, opts ...Option) *Producer {
	p := &Producer{
		hw:      hw,
		ring:    ring,
		dma:     make([]int32, 2*audio.DMAHalfWords),
		epoch:   time.Now(),
		backoff: DefaultBackoff,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start arms continuous circular reception. Starting a running producer is a
// no-op.
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return nil
	}
	// Callbacks may fire before hw.Start returns.
	p.running.Store(true)
	if err := p.hw.Start(p.dma, p); err != nil {
		p.running.Store(false)
		return fmt.Errorf("capture: start: %w", err)
	}
	p.generation.Add(1)
	slog.Debug("capture: reception armed")
	return nil
}

// Stop disarms reception. No frame is published after Stop returns. Stopping
// a stopped producer is a no-op.
func (p *Producer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)
	if err := p.hw.Stop(); err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	slog.Debug("capture: reception disarmed")
	return nil
}

// Running reports whether reception is armed.
func (p *Producer) Running() bool { return p.running.Load() }

// Stats returns the current counters.
func (p *Producer) Stats() Stats {
	return Stats{
		Frames:    p.frames.Load(),
		Overruns:  p.ring.Overruns(),
		DMAErrors: p.dmaErrors.Load(),
		Restarts:  p.restarts.Load(),
		Running:   p.running.Load(),
	}
}

// HalfTransfer implements [audio.Callbacks].
func (p *Producer) HalfTransfer() {
	p.publish(p.dma[:audio.DMAHalfWords])
}

// FullTransfer implements [audio.Callbacks].
func (p *Producer) FullTransfer() {
	p.publish(p.dma[audio.DMAHalfWords:])
}

// TransferError implements [audio.Callbacks]. The error is counted and, if
// the producer is still meant to be running, reception is re-armed on a
// separate goroutine so the hardware context returns immediately. Errors
// arriving while a re-arm is in progress are only counted.
func (p *Producer) TransferError(err *audio.HardwareError) {
	p.dmaErrors.Add(1)
	if p.metrics != nil {
		p.metrics.DMAErrors.Add(context.Background(), 1)
	}
	slog.Warn("capture: transfer error", "err", err)
	if p.running.Load() && p.rearming.CompareAndSwap(false, true) {
		go p.rearm(p.generation.Load())
	}
}

// publish extracts one frame from a completed DMA half. Runs in the hardware
// context: bounded time, no locks, no blocking.
func (p *Producer) publish(half []int32) {
	if !p.running.Load() {
		return
	}
	ts := time.Since(p.epoch)
	ok := p.ring.PushFunc(func(f *audio.Frame) {
		f.Len = audio.Deinterleave(f.Samples[:], half, audio.WireShift)
		f.SampleRate = audio.SampleRate
		f.Channels = audio.Channels
		f.BitWidth = audio.BitWidth
		f.Timestamp = ts
	})
	if !ok {
		if p.metrics != nil {
			p.metrics.FrameOverruns.Add(context.Background(), 1)
		}
		return
	}
	p.frames.Add(1)
	if p.metrics != nil {
		p.metrics.FramesCaptured.Add(context.Background(), 1)
	}
}
