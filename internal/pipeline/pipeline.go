// Package pipeline implements the recording state machine and the hand-off of
// finished recordings to the upload stage.
//
// A single [Pipeline] owns the one [Recording] buffer, the detector session and
// every piece of state shared between the processing worker, the upload
// consumer and the status display. All of that state is guarded by one mutex.
// The detector runs outside the lock; only the state transition that follows
// takes it.
//
// Ownership of the Recording buffer is explicit. The recorder writes it only
// while it owns it. A finished recording is marked pending and announced to the
// consumer; the consumer takes it with [Pipeline.Checkout] and returns it with
// [Lease.Release]. Newer speech withdraws a pending recording (latest wins), but
// never touches one that is checked out: that speech onset is skipped instead.
// The withdrawal happens at speech onset, before the new recording has reached
// the minimum duration. If the new speech is then discarded as too short,
// neither recording reaches the consumer: pending means "latest speech onset",
// not "most recent completed recording".
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxtap/internal/observe"
	"github.com/MrWong99/voxtap/internal/transport"
	"github.com/MrWong99/voxtap/pkg/audio"
	"github.com/MrWong99/voxtap/pkg/provider/vad"
)

// Defaults for [Config].
const (
	DefaultHangoverFrames = 20
	DefaultMinDuration    = 300 * time.Millisecond
	DefaultMaxDuration    = 1500 * time.Millisecond
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultHighPassAlpha  = 0.95
)

// Config holds the recorder policy.
type Config struct {
	// SampleRate of incoming frames in Hz.
	SampleRate int

	// HangoverFrames is the number of silent frames appended after speech
	// before the recording ends.
	HangoverFrames int

	// MinDuration rejects shorter recordings as noise.
	MinDuration time.Duration

	// MaxDuration sizes the Recording buffer. A recording that reaches it is
	// finalised immediately.
	MaxDuration time.Duration

	// HighPass enables the DC-blocking filter in front of the detector.
	HighPass bool

	// PollInterval bounds how long the worker waits for a frame before
	// checking for cancellation.
	PollInterval time.Duration
}

// DefaultConfig returns the recorder defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:     audio.SampleRate,
		HangoverFrames: DefaultHangoverFrames,
		MinDuration:    DefaultMinDuration,
		MaxDuration:    DefaultMaxDuration,
		HighPass:       true,
		PollInterval:   DefaultPollInterval,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.HangoverFrames < 0 {
		errs = append(errs, fmt.Errorf("hangover_frames must not be negative, got %d", c.HangoverFrames))
	}
	if c.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("min_duration must not be negative, got %s", c.MinDuration))
	}
	if c.SampleRate > 0 && audio.SamplesFor(c.MaxDuration, c.SampleRate) < audio.FrameSize {
		errs = append(errs, fmt.Errorf("max_duration %s is shorter than one frame", c.MaxDuration))
	}
	if c.MinDuration > c.MaxDuration {
		errs = append(errs, fmt.Errorf("min_duration %s exceeds max_duration %s", c.MinDuration, c.MaxDuration))
	}
	return errors.Join(errs...)
}

// Capture is the part of the frame producer the pipeline controls.
type Capture interface {
	Start() error
	Stop() error
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithCapture lets Pause and Resume stop and start the frame producer.
func WithCapture(c Capture) Option {
	return func(p *Pipeline) { p.capture = c }
}

// WithMetrics records detector and recorder outcomes into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline is the recording state machine plus the hand-off controller.
type Pipeline struct {
	cfg      Config
	ring     *transport.Ring
	detector vad.SessionHandle
	hp       *audio.HighPass
	capture  Capture
	metrics  *observe.Metrics

	notify chan struct{}

	// ctl serialises Pause and Resume so a returning Pause always means the
	// producer is stopped.
	ctl sync.Mutex

	mu         sync.Mutex
	rec        Recording
	open       bool
	hangover   int
	run        int
	calibrated bool
	paused     bool
	ready      bool
	consumer   ConsumerState
	lastText   string
	stats      Stats
	overrunRef uint64
}

// New creates a pipeline reading frames from ring and classifying them with
// detector. The Recording buffer is allocated here.
func New(cfg Config, ring *transport.Ring, detector vad.SessionHandle, opts ...Option) (*Pipeline, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if ring == nil || detector == nil {
		return nil, errors.New("pipeline: ring and detector are required")
	}
	p := &Pipeline{
		cfg:      cfg,
		ring:     ring,
		detector: detector,
		notify:   make(chan struct{}, 1),
		rec:      newRecording(audio.SamplesFor(cfg.MaxDuration, cfg.SampleRate), cfg.SampleRate),
	}
	if cfg.HighPass {
		p.hp = audio.NewHighPass(DefaultHighPassAlpha)
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run pops frames until ctx is cancelled. It is the only caller of
// [Pipeline.Process] and returns nil on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("pipeline: worker started",
		"hangover_frames", p.cfg.HangoverFrames,
		"min_duration", p.cfg.MinDuration,
		"max_duration", p.cfg.MaxDuration,
	)
	defer slog.Info("pipeline: worker stopped")

	var f audio.Frame
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !p.ring.Pop(&f, p.cfg.PollInterval) {
			continue
		}
		p.Process(&f)
	}
}

// Process runs one frame through the filter, the detector and the state
// machine. It must only be called from a single goroutine. f is filtered in
// place.
func (p *Pipeline) Process(f *audio.Frame) {
	pcm := f.PCM()
	if len(pcm) == 0 {
		return
	}
	if p.hp != nil {
		p.hp.Apply(pcm)
	}
	d := p.detector.Process(pcm)

	p.mu.Lock()
	ev := p.step(f, d)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordVADFrame(context.Background(), d.Speech)
	}
	p.report(ev)
}

// event describes a recorder transition to be logged outside the lock.
type event struct {
	outcome  string
	duration time.Duration
	samples  int
	started  bool
}

// step applies one classified frame. Caller holds p.mu.
func (p *Pipeline) step(f *audio.Frame, d vad.Decision) event {
	p.stats.observe(d)
	p.run = d.Run
	p.calibrated = d.Calibrated

	if !p.open {
		if !d.Speech || p.paused {
			return event{}
		}
		switch p.rec.owner {
		case OwnerConsumer:
			p.stats.BusySkips++
			return event{outcome: observe.OutcomeBusySkip}
		case OwnerPending:
			// Latest wins: the consumer has not taken the previous one yet.
			p.ready = false
			p.rec.owner = OwnerRecorder
			p.stats.Superseded++
			if p.metrics != nil {
				p.metrics.RecordRecording(context.Background(), observe.OutcomeSuperseded, p.rec.duration().Seconds())
			}
		}
		p.open = true
		p.hangover = p.cfg.HangoverFrames
		p.rec.reset(f.Timestamp)
		if !p.rec.append(f) {
			return p.finish(true)
		}
		return event{started: true}
	}

	if d.Speech {
		p.hangover = p.cfg.HangoverFrames
		if !p.rec.append(f) {
			return p.finish(true)
		}
		return event{}
	}
	if p.hangover > 0 {
		p.hangover--
		if !p.rec.append(f) {
			return p.finish(true)
		}
		return event{}
	}
	return p.finish(false)
}

// finish closes the open recording and either discards it or feeds it to the
// consumer. Caller holds p.mu.
func (p *Pipeline) finish(forced bool) event {
	p.open = false
	p.hangover = 0
	dur := p.rec.duration()
	ev := event{duration: dur, samples: p.rec.n}

	if dur < p.cfg.MinDuration {
		p.stats.DiscardedShort++
		p.rec.n = 0
		ev.outcome = observe.OutcomeDiscarded
		return ev
	}

	p.stats.SpeechSegments++
	p.stats.TotalSpeech += dur
	ev.outcome = observe.OutcomeCompleted
	if forced {
		p.stats.ForcedFinalize++
		ev.outcome = observe.OutcomeForced
	}
	p.feed()
	return ev
}

func (p *Pipeline) report(ev event) {
	if ev.started {
		slog.Debug("pipeline: speech detected, recording started")
	}
	if ev.outcome == "" {
		return
	}
	if p.metrics != nil {
		p.metrics.RecordRecording(context.Background(), ev.outcome, ev.duration.Seconds())
	}
	switch ev.outcome {
	case observe.OutcomeDiscarded:
		slog.Debug("pipeline: recording too short, discarded", "duration", ev.duration)
	case observe.OutcomeBusySkip:
		slog.Debug("pipeline: speech onset skipped, recording still checked out")
	default:
		slog.Info("pipeline: recording finished",
			"duration", ev.duration,
			"samples", ev.samples,
			"forced", ev.outcome == observe.OutcomeForced,
		)
	}
}
