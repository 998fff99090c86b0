// Package uploader is the consumer side of the recording hand-off.
//
// [Uploader] waits for the pipeline's ready notification, checks out the
// finished recording, encodes it as a 16-bit WAV payload, returns the buffer
// and sends the payload to an [stt.Provider]. Capture is paused for the whole
// network round trip and always resumed afterwards. The transcript, or an
// "ERR:<code>" marker, is held on the display for a short time before the
// consumer returns to idle and picks up whatever became ready meanwhile.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxtap/internal/observe"
	"github.com/MrWong99/voxtap/internal/pipeline"
	"github.com/MrWong99/voxtap/pkg/audio"
	"github.com/MrWong99/voxtap/pkg/provider/stt"
)

// Default timings.
const (
	DefaultMinDuration = 500 * time.Millisecond
	DefaultSettleDelay = 50 * time.Millisecond
	DefaultDisplayHold = 500 * time.Millisecond
	DefaultWindowSize  = 100
)

// Config controls the upload stage.
type Config struct {
	// MinDuration skips recordings shorter than this without uploading them.
	MinDuration time.Duration

	// SettleDelay is waited after pausing capture and before the upload.
	SettleDelay time.Duration

	// DisplayHold is how long a result stays in the Displaying or Error state.
	DisplayHold time.Duration

	// DebugDir, when set, receives a copy of every uploaded WAV payload.
	DebugDir string

	// Language is a BCP-47 tag passed to the provider as a recognition hint.
	Language string

	// WindowSize is the number of latency samples kept for percentiles.
	WindowSize int
}

// DefaultConfig returns the default upload timings.
func DefaultConfig() Config {
	return Config{
		MinDuration: DefaultMinDuration,
		SettleDelay: DefaultSettleDelay,
		DisplayHold: DefaultDisplayHold,
		WindowSize:  DefaultWindowSize,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("min_duration must not be negative, got %v", c.MinDuration))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle_delay must not be negative, got %v", c.SettleDelay))
	}
	if c.DisplayHold < 0 {
		errs = append(errs, fmt.Errorf("display_hold must not be negative, got %v", c.DisplayHold))
	}
	if c.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("window_size must not be negative, got %d", c.WindowSize))
	}
	return errors.Join(errs...)
}

// Source is the recording side of the hand-off. [*pipeline.Pipeline]
// implements it.
type Source interface {
	Notify() <-chan struct{}
	Checkout() (*pipeline.Lease, bool)
	SetConsumerState(pipeline.ConsumerState)
	Pause() error
	Resume() error
	SetResult(text string, err error)
}

// Compile-time interface assertion.
var _ Source = (*pipeline.Pipeline)(nil)

// Stats is a point-in-time view of the upload counters.
type Stats struct {
	Uploads  uint64             `json:"uploads"`
	Failures uint64             `json:"failures"`
	Skipped  uint64             `json:"skipped"`
	Latency  LatencyPercentiles `json:"latency"`

	// LastLevel is the loudness of the most recently encoded recording.
	LastLevel Level `json:"last_level"`
}

// Level is the loudness of a recording in 24-bit sample units, measured
// before the 16-bit conversion.
type Level struct {
	RMS  float64 `json:"rms"`
	Peak int32   `json:"peak"`
}

// Option is a functional option for [New].
type Option func(*Uploader)

// WithMetrics records upload latency and provider counters into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(u *Uploader) { u.metrics = m }
}

// Uploader drives the consumer state machine. Run must be called at most once.
type Uploader struct {
	cfg      Config
	src      Source
	provider stt.Provider
	metrics  *observe.Metrics
	window   *latencyWindow

	uploads  atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
	level    atomic.Pointer[Level]
}

// New creates an Uploader reading from src and transcribing with provider.
func New(cfg Config, src Source, provider stt.Provider, opts ...Option) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("uploader: %w", err)
	}
	if src == nil || provider == nil {
		return nil, errors.New("uploader: source and provider must not be nil")
	}
	if cfg.DebugDir != "" {
		if err := os.MkdirAll(cfg.DebugDir, 0o755); err != nil {
			return nil, fmt.Errorf("uploader: create debug dir: %w", err)
		}
	}
	u := &Uploader{
		cfg:      cfg,
		src:      src,
		provider: provider,
		window:   newLatencyWindow(cfg.WindowSize),
	}
	for _, o := range opts {
		o(u)
	}
	return u, nil
}

// Run processes recordings until ctx is cancelled. It always returns nil.
func (u *Uploader) Run(ctx context.Context) error {
	slog.Info("uploader: started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("uploader: stopped")
			return nil
		case <-u.src.Notify():
		}
		lease, ok := u.src.Checkout()
		if !ok {
			continue
		}
		u.handle(ctx, lease)
	}
}

// Stats returns the current counters and latency percentiles.
func (u *Uploader) Stats() Stats {
	st := Stats{
		Uploads:  u.uploads.Load(),
		Failures: u.failures.Load(),
		Skipped:  u.skipped.Load(),
		Latency:  u.window.percentiles(),
	}
	if lvl := u.level.Load(); lvl != nil {
		st.LastLevel = *lvl
	}
	return st
}

// handle runs one recording through Encoding, Uploading and Displaying. The
// consumer is back in Idle when it returns, which re-posts the notification if
// another recording became ready.
func (u *Uploader) handle(ctx context.Context, lease *pipeline.Lease) {
	defer u.src.SetConsumerState(pipeline.ConsumerIdle)
	u.src.SetConsumerState(pipeline.ConsumerEncoding)

	if d := lease.Duration(); d < u.cfg.MinDuration {
		lease.Release()
		u.skipped.Add(1)
		slog.Debug("uploader: recording too short to upload", "duration", d, "min", u.cfg.MinDuration)
		return
	}

	seq, rate, dur := lease.Seq(), lease.SampleRate(), lease.Duration()
	samples := lease.Samples()
	lvl := Level{RMS: audio.RMS(samples), Peak: audio.Peak(samples)}
	wav, err := audio.EncodeWAV(samples, rate)
	lease.Release()
	if err != nil {
		u.show(ctx, "", fmt.Errorf("uploader: encode: %w", err))
		return
	}
	u.level.Store(&lvl)

	ctx, span := observe.StartSpan(ctx, "uploader.transcribe",
		trace.WithAttributes(
			attribute.Int64("recording.seq", int64(seq)),
			attribute.Float64("recording.seconds", dur.Seconds()),
			attribute.Float64("recording.rms", lvl.RMS),
			attribute.Int("recording.peak", int(lvl.Peak)),
			attribute.Int("wav.bytes", len(wav)),
		),
	)
	u.dump(ctx, seq, wav)

	res, err := u.upload(ctx, wav, rate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("stt.provider", res.Provider))
	}
	span.End()

	u.show(ctx, res.Text, err)
}

// upload pauses capture, waits for the settle delay and transcribes. Capture
// is resumed before it returns.
func (u *Uploader) upload(ctx context.Context, wav []byte, rate int) (stt.Result, error) {
	log := observe.Logger(ctx)
	u.src.SetConsumerState(pipeline.ConsumerUploading)

	if err := u.src.Pause(); err != nil {
		log.Warn("uploader: pause capture failed", "err", err)
	}
	defer func() {
		if err := u.src.Resume(); err != nil {
			log.Error("uploader: resume capture failed", "err", err)
		}
	}()

	if !sleep(ctx, u.cfg.SettleDelay) {
		return stt.Result{}, ctx.Err()
	}

	if u.metrics != nil {
		u.metrics.UploaderBusy.Add(ctx, 1)
		defer u.metrics.UploaderBusy.Add(context.WithoutCancel(ctx), -1)
	}

	log.Info("uploader: uploading recording", "bytes", len(wav))
	start := time.Now()
	res, err := u.provider.Transcribe(ctx, wav, stt.Request{SampleRate: rate, Language: u.cfg.Language})
	elapsed := time.Since(start)
	u.window.add(elapsed)

	if u.metrics != nil {
		mctx := context.WithoutCancel(ctx)
		u.metrics.STTDuration.Record(mctx, elapsed.Seconds())
		name := res.Provider
		if name == "" {
			name = providerName(err)
		}
		status := "ok"
		if err != nil {
			status = "error"
			u.metrics.RecordProviderError(mctx, name, "stt")
		}
		u.metrics.RecordProviderRequest(mctx, name, "stt", status)
	}

	if err != nil {
		log.Warn("uploader: transcription failed", "err", err, "code", stt.ErrorCode(err), "latency", elapsed)
		return stt.Result{}, err
	}
	log.Info("uploader: transcription complete", "text", res.Text, "provider", res.Provider, "latency", elapsed)
	return res, nil
}

// show publishes the outcome and holds it for the display time.
func (u *Uploader) show(ctx context.Context, text string, err error) {
	u.src.SetResult(text, err)
	if err != nil {
		u.failures.Add(1)
		u.src.SetConsumerState(pipeline.ConsumerError)
	} else {
		u.uploads.Add(1)
		u.src.SetConsumerState(pipeline.ConsumerDisplaying)
	}
	sleep(ctx, u.cfg.DisplayHold)
}

// dump writes wav into the debug directory. The file is named after the
// recording sequence and the trace ID of the upload span, or a random UUID
// when tracing is disabled.
func (u *Uploader) dump(ctx context.Context, seq uint64, wav []byte) {
	if u.cfg.DebugDir == "" {
		return
	}
	id := observe.CorrelationID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	name := fmt.Sprintf("%06d-%s.wav", seq, id)
	path := filepath.Join(u.cfg.DebugDir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		observe.Logger(ctx).Warn("uploader: write debug wav failed", "path", path, "err", err)
		return
	}
	observe.Logger(ctx).Debug("uploader: debug wav written", "path", path)
}

func providerName(err error) string {
	var se *stt.Error
	if errors.As(err, &se) && se.Provider != "" {
		return se.Provider
	}
	return "stt"
}

// sleep waits for d or until ctx is done. It reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
