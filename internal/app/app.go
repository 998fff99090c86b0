// Package app wires all voxtap subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture, recording, upload and display loops,
// and Shutdown tears everything down in order.
//
// For testing, inject fakes via [Providers] and functional options
// (WithHardware, WithMetrics, etc.). When a field or option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtap/internal/capture"
	"github.com/MrWong99/voxtap/internal/config"
	"github.com/MrWong99/voxtap/internal/display"
	"github.com/MrWong99/voxtap/internal/health"
	"github.com/MrWong99/voxtap/internal/observe"
	"github.com/MrWong99/voxtap/internal/pipeline"
	"github.com/MrWong99/voxtap/internal/resilience"
	"github.com/MrWong99/voxtap/internal/transport"
	"github.com/MrWong99/voxtap/internal/uploader"
	"github.com/MrWong99/voxtap/pkg/audio"
	"github.com/MrWong99/voxtap/pkg/provider/stt"
	"github.com/MrWong99/voxtap/pkg/provider/vad"
	"github.com/MrWong99/voxtap/pkg/provider/vad/adaptive"
)

// NamedSTT is one recognition backend in failover order.
type NamedSTT struct {
	Name     string
	Provider stt.Provider
}

// Providers holds the provider instances built by main.go via the config
// registry. An empty STT list makes every upload fail with
// [stt.CodeUnavailable]. A nil VAD uses the adaptive engine.
type Providers struct {
	STT []NamedSTT
	VAD vad.Engine
}

// App owns all subsystem lifetimes and orchestrates the capture pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Optional collaborators set through options.
	hw       audio.Hardware
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	ring      *transport.Ring
	producer  *capture.Producer
	detector  vad.SessionHandle
	pipeline  *pipeline.Pipeline
	stt       stt.Provider
	fallback  *resilience.STTFallback
	uploader  *uploader.Uploader
	display   *display.Display
	logScreen *display.LogScreen
	hub       *display.Hub
	health    *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHardware replaces the simulated receiver built from the capture config.
func WithHardware(hw audio.Hardware) Option {
	return func(a *App) { a.hw = hw }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the handler built on
// lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing is started:
// reception is armed by Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Capture ──────────────────────────────────────────────────────
	if err := a.initCapture(); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 2. Detector + pipeline ──────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 3. Recognition ──────────────────────────────────────────────────
	a.initSTT()

	// ── 4. Uploader ─────────────────────────────────────────────────────
	up, err := uploader.New(cfg.Uploader.Upload(), a.pipeline, a.stt, uploader.WithMetrics(a.metrics))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: init uploader: %w", err)
	}
	a.uploader = up

	// ── 5. Display + health ─────────────────────────────────────────────
	a.initDisplay()
	a.initHealth()

	slog.InfoContext(ctx, "app initialised",
		"capture", cfg.Capture.Source,
		"vad", cfg.VAD.Engine,
		"stt", len(providers.STT),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCapture builds the ring, the receiver and the producer.
func (a *App) initCapture() error {
	a.ring = transport.New()
	if a.hw == nil {
		src, err := newSampleSource(a.cfg.Capture)
		if err != nil {
			return err
		}
		a.hw = capture.NewSimulator(src)
	}
	a.producer = capture.NewProducer(a.hw, a.ring, capture.WithMetrics(a.metrics))
	return nil
}

// newSampleSource builds the simulated microphone selected by cfg.
func newSampleSource(cfg config.CaptureConfig) (capture.SampleSource, error) {
	switch cfg.Source {
	case config.SourceSilence:
		return capture.SilenceSource{}, nil
	case config.SourceWAV:
		return capture.NewWAVSource(cfg.WAVPath, cfg.Loop)
	case config.SourceTone, "":
		return capture.NewToneSource(nil, cfg.Noise, cfg.Seed), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

// initPipeline opens the detector session and builds the recording pipeline.
func (a *App) initPipeline() error {
	engine := a.providers.VAD
	if engine == nil {
		engine = adaptive.New()
	}
	sess, err := engine.NewSession(a.cfg.VAD.Detector())
	if err != nil {
		return fmt.Errorf("open vad session: %w", err)
	}
	a.detector = sess
	a.closers = append(a.closers, sess.Close)

	p, err := pipeline.New(a.cfg.Recording.Pipeline(), a.ring, sess,
		pipeline.WithCapture(a.producer),
		pipeline.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

// initSTT chains the configured providers behind per-provider circuit
// breakers.
func (a *App) initSTT() {
	entries := a.providers.STT
	if len(entries) == 0 {
		slog.Warn("no stt provider available; every recording will fail")
		a.stt = unavailable{}
		return
	}
	cb := a.cfg.STT.CircuitBreaker
	fb := resilience.NewSTTFallback(entries[0].Provider, entries[0].Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
		},
	})
	for _, e := range entries[1:] {
		fb.AddFallback(e.Name, e.Provider)
	}
	a.fallback = fb
	a.stt = fb
}

// initDisplay builds the poller and its screens.
func (a *App) initDisplay() {
	a.hub = display.NewHub(
		display.WithHubMetrics(a.metrics),
		display.WithOriginPatterns(a.cfg.Display.Origins...),
	)
	a.logScreen = display.NewLogScreen(nil)
	a.logScreen.SetEnabled(a.cfg.Display.Log)

	a.display = display.New(a.pipeline,
		display.WithInterval(a.cfg.Display.Interval),
		display.WithScreen(a.logScreen),
		display.WithScreen(a.hub),
		display.WithSection("capture", func() any { return a.producer.Stats() }),
		display.WithSection("uploader", func() any { return a.uploader.Stats() }),
		display.WithSection("stt", func() any { return a.breakers() }),
	)
}

// initHealth registers the readiness checks.
func (a *App) initHealth() {
	a.health = health.New(
		health.CaptureRunning(a.producer.Running, func() bool { return a.pipeline.State().Paused }),
		health.Calibrated(func() bool { return a.pipeline.State().Calibrated }),
		health.Recognition(a.breakers),
	)
}

func (a *App) breakers() []resilience.Snapshot {
	if a.fallback == nil {
		return nil
	}
	return a.fallback.Breakers()
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the recording pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Producer returns the frame producer.
func (a *App) Producer() *capture.Producer { return a.producer }

// Uploader returns the upload stage.
func (a *App) Uploader() *uploader.Uploader { return a.uploader }

// Display returns the status poller.
func (a *App) Display() *display.Display { return a.display }

// Register adds the status, websocket and health routes to mux.
func (a *App) Register(mux *http.ServeMux) {
	a.display.Register(mux)
	a.hub.Register(mux)
	a.health.Register(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run arms reception and runs the worker, uploader and display loops until
// ctx is cancelled. Reception is disarmed before Run returns. It returns the
// first loop error, or ctx.Err() after a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	if err := a.producer.Start(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	defer func() {
		if err := a.producer.Stop(); err != nil {
			slog.Warn("app: stop capture", "err", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pipeline.Run(gctx) })
	g.Go(func() error { return a.uploader.Run(gctx) })
	g.Go(func() error { return a.display.Run(gctx) })

	slog.Info("app running")
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the parts of a reloaded configuration that can change
// while running. It is intended as the [config.Watcher] callback.
func (a *App) ApplyConfig(new *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("config reload: log level changed", "level", diff.NewLogLevel)
	}
	if diff.DisplayChanged {
		a.display.SetInterval(new.Display.Interval)
		a.logScreen.SetEnabled(new.Display.Log)
		slog.Info("config reload: display updated",
			"interval", new.Display.Interval,
			"log", new.Display.Log,
		)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config reload: changes take effect after restart", "sections", diff.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog level. Unknown levels map to
// info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Disarm reception first.
		if err := a.producer.Stop(); err != nil {
			slog.Warn("capture stop error", "err", err)
		}
		a.hub.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases what New acquired before it failed.
func (a *App) close() {
	for _, closer := range a.closers {
		_ = closer()
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// unavailable is the recognition backend used when none is configured.
type unavailable struct{}

func (unavailable) Transcribe(context.Context, []byte, stt.Request) (stt.Result, error) {
	return stt.Result{}, &stt.Error{
		Provider: "none",
		Code:     stt.CodeUnavailable,
		Message:  "no stt provider configured",
		Cause:    stt.ErrUnavailable,
	}
}
