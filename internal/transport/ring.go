// Package transport provides the bounded frame queue between the capture
// producer and the processing worker.
//
// [Ring] is a fixed-depth single-producer, single-consumer queue. The producer
// side never blocks: when every slot is occupied the new frame is discarded and
// an overrun is counted. The consumer side blocks on a counting signal with an
// optional timeout and copies the slot out, because slot storage is reused by
// the producer as soon as the read index advances.
package transport

import (
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxtap/pkg/audio"
)

// Depth is the number of frame slots in a [Ring].
const Depth = 4

// Ring is a lock-free SPSC queue of [audio.Frame] slots.
//
// Exactly one goroutine (or callback context) may push and exactly one
// goroutine may pop. The counters are safe to read from anywhere.
type Ring struct {
	slots [Depth]audio.Frame

	write atomic.Uint64
	read  atomic.Uint64

	// signal holds one token per published, not yet consumed frame.
	signal chan struct{}

	pushed   atomic.Uint64
	overruns atomic.Uint64
}

// New returns an empty ring.
func New() *Ring {
	return &Ring{signal: make(chan struct{}, Depth)}
}

// PushFunc reserves the next free slot, lets fill write the frame directly into
// it and publishes it. It returns false and counts an overrun when the ring is
// full; fill is not called in that case. PushFunc never blocks.
func (r *Ring) PushFunc(fill func(*audio.Frame)) bool {
	w := r.write.Load()
	if w-r.read.Load() >= Depth {
		r.overruns.Add(1)
		return false
	}
	fill(&r.slots[w%Depth])
	r.write.Store(w + 1)
	r.pushed.Add(1)
	select {
	case r.signal <- struct{}{}:
	default:
		// Unreachable: outstanding tokens never exceed Depth.
	}
	return true
}

// Push copies f into the next free slot. See [Ring.PushFunc].
func (r *Ring) Push(f *audio.Frame) bool {
	return r.PushFunc(func(slot *audio.Frame) { *slot = *f })
}

// Pop waits up to timeout for a frame and copies it into dst. A negative
// timeout waits forever; zero polls. It returns false when no frame arrived in
// time, which is not an error.
func (r *Ring) Pop(dst *audio.Frame, timeout time.Duration) bool {
	switch {
	case timeout < 0:
		<-r.signal
	case timeout == 0:
		select {
		case <-r.signal:
		default:
			return false
		}
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-r.signal:
		case <-t.C:
			return false
		}
	}

	rd := r.read.Load()
	*dst = r.slots[rd%Depth]
	r.read.Store(rd + 1)
	return true
}

// Len returns the number of frames waiting to be popped.
func (r *Ring) Len() int {
	return int(r.write.Load() - r.read.Load())
}

// Pushed returns the number of frames accepted since creation.
func (r *Ring) Pushed() uint64 { return r.pushed.Load() }

// Overruns returns the number of frames discarded because the ring was full.
func (r *Ring) Overruns() uint64 { return r.overruns.Load() }
