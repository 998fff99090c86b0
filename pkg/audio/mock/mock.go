// Package mock provides an in-memory mock implementation of [audio.Hardware]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every Start and Stop call,
// exposes exported fields that the test can set to control return values, and
// lets the test drive DMA completion events synchronously.
//
// Typical usage:
//
//	hw := &mock.Hardware{}
//	p := capture.NewProducer(hw, ring)
//	_ = p.Start()
//	hw.FillHalf(0, samples) // write wire words into the first half
//	hw.FireHalf()           // deliver the half-transfer callback
package mock

import (
	"sync"

	"github.com/MrWong99/voxtap/pkg/audio"
)

// Hardware is a mock implementation of [audio.Hardware].
// Set the exported error fields before use; inspect the call counters after.
type Hardware struct {
	mu sync.Mutex

	// StartError is returned by Start when non-nil.
	StartError error

	// StopError is returned by Stop when non-nil.
	StopError error

	// StartCalls records how many times Start was called (including failures).
	StartCalls int

	// StopCalls records how many times Stop was called.
	StopCalls int

	armed bool
	dma   []int32
	cb    audio.Callbacks
}

// Compile-time interface assertion.
var _ audio.Hardware = (*Hardware)(nil)

// Start implements [audio.Hardware]. Records the call and arms the mock unless
// StartError is set.
func (h *Hardware) Start(dma []int32, cb audio.Callbacks) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StartCalls++
	if h.StartError != nil {
		return h.StartError
	}
	if h.armed {
		return &audio.HardwareError{Code: audio.CodeBusy, Op: "start"}
	}
	h.armed = true
	h.dma = dma
	h.cb = cb
	return nil
}

// Stop implements [audio.Hardware]. Records the call and disarms the mock.
func (h *Hardware) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StopCalls++
	h.armed = false
	return h.StopError
}

// Armed reports whether the mock is currently receiving.
func (h *Hardware) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.armed
}

// FillHalf packs mono samples into the wire format of DMA half 0 or 1.
func (h *Hardware) FillHalf(half int, mono []int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dma == nil {
		return
	}
	start := half * audio.DMAHalfWords
	audio.Interleave(h.dma[start:start+audio.DMAHalfWords], mono, audio.WireShift)
}

// FireHalf delivers the half-transfer callback if the mock is armed.
func (h *Hardware) FireHalf() {
	if cb := h.callbacks(); cb != nil {
		cb.HalfTransfer()
	}
}

// FireFull delivers the full-transfer callback if the mock is armed.
func (h *Hardware) FireFull() {
	if cb := h.callbacks(); cb != nil {
		cb.FullTransfer()
	}
}

// FireError disarms the mock, as a real peripheral aborts the transfer, and
// delivers the error callback.
func (h *Hardware) FireError(code audio.Code) {
	h.mu.Lock()
	cb := h.cb
	wasArmed := h.armed
	h.armed = false
	h.mu.Unlock()
	if wasArmed && cb != nil {
		cb.TransferError(&audio.HardwareError{Code: code, Op: "transfer"})
	}
}

// FireStale delivers a half-transfer callback regardless of the armed state,
// simulating a completion racing with Stop.
func (h *Hardware) FireStale() {
	h.mu.Lock()
	cb := h.cb
	h.mu.Unlock()
	if cb != nil {
		cb.HalfTransfer()
	}
}

func (h *Hardware) callbacks() audio.Callbacks {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.armed {
		return nil
	}
	return h.cb
}

// SetStartError changes StartError while the mock is in use. Thread-safe.
func (h *Hardware) SetStartError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StartError = err
}

// Starts returns StartCalls. Thread-safe.
func (h *Hardware) Starts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.StartCalls
}
