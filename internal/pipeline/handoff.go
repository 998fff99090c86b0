package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxtap/pkg/provider/stt"
)

// feed marks the finished recording pending and wakes an idle consumer.
// A busy consumer re-checks readiness itself when it returns to Idle.
// Caller holds p.mu.
func (p *Pipeline) feed() {
	p.rec.owner = OwnerPending
	p.ready = true
	p.stats.Feeds++
	if p.consumer == ConsumerIdle {
		p.post()
	}
}

// post sends at most one outstanding notification. Caller holds p.mu.
func (p *Pipeline) post() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Notify returns the consumer wake-up channel. A receive means a recording may
// be ready; the consumer confirms with [Pipeline.Checkout].
func (p *Pipeline) Notify() <-chan struct{} { return p.notify }

// Checkout hands the pending recording to the consumer. It returns false when
// nothing is ready.
func (p *Pipeline) Checkout() (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready || p.rec.owner != OwnerPending {
		return nil, false
	}
	p.ready = false
	p.rec.owner = OwnerConsumer
	return &Lease{
		p:          p,
		samples:    p.rec.samples[:p.rec.n],
		sampleRate: p.rec.sampleRate,
		dur:        p.rec.duration(),
		start:      p.rec.start,
		end:        p.rec.end,
		seq:        p.rec.seq,
	}, true
}

func (p *Pipeline) release(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec.owner == OwnerConsumer && p.rec.seq == l.seq {
		p.rec.owner = OwnerRecorder
		p.rec.n = 0
	}
}

// SetConsumerState records what the consumer is doing. Returning to Idle with a
// recording ready re-posts the notification.
func (p *Pipeline) SetConsumerState(s ConsumerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumer = s
	if s == ConsumerIdle && p.ready {
		p.post()
	}
}

// Pause stops the frame producer and closes any open recording, so audio from
// before and after the pause is never joined. While paused no new recording
// starts. Pausing a paused pipeline is a no-op.
func (p *Pipeline) Pause() error {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return nil
	}
	p.paused = true
	var ev event
	if p.open {
		ev = p.finish(true)
	}
	p.mu.Unlock()
	p.report(ev)

	if p.capture == nil {
		return nil
	}
	if err := p.capture.Stop(); err != nil {
		return fmt.Errorf("pipeline: pause: %w", err)
	}
	slog.Debug("pipeline: capture paused")
	return nil
}

// Resume restarts the frame producer. Resuming a running pipeline is a no-op.
// If the producer fails to start the pipeline stays paused.
func (p *Pipeline) Resume() error {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.capture != nil {
		if err := p.capture.Start(); err != nil {
			return fmt.Errorf("pipeline: resume: %w", err)
		}
	}

	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	slog.Debug("pipeline: capture resumed")
	return nil
}

// SetResult stores the outcome of the last upload. A failure is shown as
// "ERR:<code>".
func (p *Pipeline) SetResult(text string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastText = fmt.Sprintf("ERR:%d", stt.ErrorCode(err))
		p.stats.UploadsFailed++
		return
	}
	p.lastText = text
	p.stats.UploadsOK++
}

// LastText returns the last transcript or error marker.
func (p *Pipeline) LastText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastText
}

// State returns a snapshot of both state machines.
func (p *Pipeline) State() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Recorder:   p.recorderState(),
		Consumer:   p.consumer,
		Owner:      p.rec.owner.String(),
		Ready:      p.ready,
		Paused:     p.paused,
		Calibrated: p.calibrated,
	}
}

// recorderState derives the recording-side state. Caller holds p.mu.
func (p *Pipeline) recorderState() RecorderState {
	switch {
	case p.open:
		return RecorderRecording
	case p.rec.owner != OwnerRecorder:
		return RecorderProcessing
	case p.run > 0:
		return RecorderDetecting
	default:
		return RecorderIdle
	}
}
