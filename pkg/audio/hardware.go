// Package audio defines the sample types, hardware abstraction and sample
// conversion helpers shared by every stage of the voxtap capture pipeline.
//
// The two primary abstractions are:
//
//   - [Hardware]: a circular DMA receiver that fills a caller-owned buffer and
//     reports half and full transfer completion through [Callbacks].
//   - [Frame]: one fixed-size block of mono samples produced from a completed
//     DMA half.
//
// Implementations of [Hardware] live outside this package: a simulated device
// in internal/capture and a scriptable fake in audio/mock. The interface is
// intentionally narrow so that a real serial audio peripheral can be driven
// through the same producer.
//
// This package lives under pkg/ because external code (board support packages)
// is expected to implement [Hardware].
package audio

import "fmt"

// Code enumerates the failure reasons a [Hardware] implementation may report.
type Code int

const (
	// CodeFault is a generic peripheral fault.
	CodeFault Code = iota + 1

	// CodeBusy means the peripheral is already armed by another owner.
	CodeBusy

	// CodeTimeout means the peripheral did not acknowledge in time.
	CodeTimeout

	// CodeNotReady means the peripheral has not been initialised.
	CodeNotReady

	// CodeOverrun means the peripheral lost data before the transfer completed.
	CodeOverrun
)

// String returns the human-readable name of the code.
func (c Code) String() string {
	switch c {
	case CodeFault:
		return "fault"
	case CodeBusy:
		return "busy"
	case CodeTimeout:
		return "timeout"
	case CodeNotReady:
		return "not-ready"
	case CodeOverrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// HardwareError is returned by [Hardware] methods and passed to
// [Callbacks.TransferError].
type HardwareError struct {
	Code Code
	Op   string
}

// Error implements the error interface.
func (e *HardwareError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("audio hardware: %s", e.Code)
	}
	return fmt.Sprintf("audio hardware: %s: %s", e.Op, e.Code)
}

// Is reports whether target is a *HardwareError with the same code.
func (e *HardwareError) Is(target error) bool {
	t, ok := target.(*HardwareError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// Callbacks receives transfer events from a [Hardware] implementation.
// Every method is invoked from the hardware's own execution context and must
// return in bounded time without blocking.
type Callbacks interface {
	// HalfTransfer is called when the first half of the DMA buffer is full.
	HalfTransfer()

	// FullTransfer is called when the second half of the DMA buffer is full.
	// Reception continues circularly into the first half.
	FullTransfer()

	// TransferError is called when the peripheral aborts a transfer. The
	// transfer is stopped; the receiver decides whether to re-arm it.
	TransferError(err *HardwareError)
}

// Hardware is a circular DMA receiver for an interleaved stereo serial audio
// bus carrying 32-bit words.
//
// Implementations must be safe for concurrent use.
type Hardware interface {
	// Start arms continuous reception into dma, which holds two halves of
	// [DMAHalfWords] words each. Completion events are delivered to cb until
	// Stop is called. Starting an already-armed receiver returns a
	// [HardwareError] with [CodeBusy].
	Start(dma []int32, cb Callbacks) error

	// Stop disarms reception. After Stop returns no further callbacks are
	// delivered. Calling Stop on a stopped receiver returns nil.
	Stop() error
}
