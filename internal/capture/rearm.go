package capture

import (
	"errors"
	"log/slog"
	"time"
)

var (
	errStopped   = errors.New("capture: producer stopped")
	errRestarted = errors.New("capture: producer restarted")
)

// Backoff controls how reception is re-armed after a transfer error.
// Zero fields take the values of [DefaultBackoff].
type Backoff struct {
	// MaxRetries is the number of Start attempts before giving up.
	MaxRetries int

	// Initial is the wait after the first failed attempt. It doubles on every
	// further failure up to Max.
	Initial time.Duration

	// Max caps the wait between attempts.
	Max time.Duration
}

// DefaultBackoff retries for a little over a second, roughly forty frames.
var DefaultBackoff = Backoff{
	MaxRetries: 8,
	Initial:    10 * time.Millisecond,
	Max:        500 * time.Millisecond,
}

func (b Backoff) withDefaults() Backoff {
	if b.MaxRetries <= 0 {
		b.MaxRetries = DefaultBackoff.MaxRetries
	}
	if b.Initial <= 0 {
		b.Initial = DefaultBackoff.Initial
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoff.Max
	}
	return b
}

// rearm restarts the aborted transfer with exponential backoff. gen is the
// Start generation the transfer belonged to. It gives up when the producer is
// stopped, when a Start armed reception meanwhile, or when every attempt
// failed. After giving up the producer reports not running and a later Start
// arms reception again.
func (p *Producer) rearm(gen uint64) {
	defer p.rearming.Store(false)

	wait := p.backoff.Initial
	for attempt := 1; attempt <= p.backoff.MaxRetries; attempt++ {
		done, err := p.tryRearm(gen)
		if done {
			if err == nil {
				p.restarts.Add(1)
				slog.Info("capture: reception re-armed after transfer error", "attempt", attempt)
			}
			return
		}

		slog.Warn("capture: re-arm failed",
			"attempt", attempt,
			"max_retries", p.backoff.MaxRetries,
			"backoff", wait,
			"err", err,
		)
		if attempt == p.backoff.MaxRetries {
			break
		}
		time.Sleep(wait)
		wait = min(wait*2, p.backoff.Max)
	}
	slog.Error("capture: giving up re-arming reception", "attempts", p.backoff.MaxRetries)

	p.mu.Lock()
	defer p.mu.Unlock()
	// A Start since the error owns the running flag now.
	if p.generation.Load() == gen {
		p.running.Store(false)
	}
}

// tryRearm makes one attempt. done is true when no further attempt is needed:
// reception is armed again (err nil), or the producer was stopped or
// restarted meanwhile.
func (p *Producer) tryRearm(gen uint64) (done bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() {
		return true, errStopped
	}
	if p.generation.Load() != gen {
		return true, errRestarted
	}
	// The peripheral aborted the transfer; make sure it is fully stopped
	// before re-arming.
	_ = p.hw.Stop()
	if err := p.hw.Start(p.dma, p); err != nil {
		return false, err
	}
	return true, nil
}
