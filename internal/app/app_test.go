package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxtap/internal/app"
	"github.com/MrWong99/voxtap/internal/config"
	"github.com/MrWong99/voxtap/internal/observe"
	"github.com/MrWong99/voxtap/pkg/audio"
	audiomock "github.com/MrWong99/voxtap/pkg/audio/mock"
	"github.com/MrWong99/voxtap/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxtap/pkg/provider/stt/mock"
	vadmock "github.com/MrWong99/voxtap/pkg/provider/vad/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// testConfig returns a config tuned for fast, deterministic tests.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Recording.HangoverFrames = 2
	cfg.Recording.HighPass = false
	cfg.Uploader.SettleDelay = time.Millisecond
	cfg.Uploader.DisplayHold = time.Millisecond
	cfg.Display.Interval = 10 * time.Millisecond
	cfg.Display.Log = false
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type harness struct {
	app  *app.App
	hw   *audiomock.Hardware
	sess *vadmock.Session
	sent int
}

func newHarness(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *harness {
	t.Helper()
	h := &harness{hw: &audiomock.Hardware{}, sess: &vadmock.Session{}}
	if providers == nil {
		providers = &app.Providers{}
	}
	providers.VAD = &vadmock.Engine{Session: h.sess}
	opts = append([]app.Option{app.WithHardware(h.hw), app.WithMetrics(testMetrics(t))}, opts...)

	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.app = a
	return h
}

// start runs the app until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.app.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	waitFor(t, "reception armed", h.hw.Armed)
}

// feed delivers n frames filled with v and waits until the worker processed
// each of them.
func (h *harness) feed(t *testing.T, n int, v int32) {
	t.Helper()
	mono := make([]int32, audio.FrameSize)
	for i := range mono {
		mono[i] = v
	}
	for range n {
		half := h.sent % 2
		h.hw.FillHalf(half, mono)
		if half == 0 {
			h.hw.FireHalf()
		} else {
			h.hw.FireFull()
		}
		h.sent++
		want := uint64(h.sent)
		waitFor(t, "frame processed", func() bool {
			return h.app.Pipeline().Stats().FramesProcessed >= want
		})
	}
}

// speak scripts speech frames followed by the silence that ends the
// recording, and feeds them.
func (h *harness) speak(t *testing.T, speech, hangover int) {
	t.Helper()
	script := make([]bool, speech+hangover+1)
	for i := range speech {
		script[i] = true
	}
	h.sess.SetScript(script, false)
	h.feed(t, len(script), 1<<12)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), nil)
	if h.app.Pipeline() == nil || h.app.Producer() == nil || h.app.Uploader() == nil || h.app.Display() == nil {
		t.Fatal("New left a subsystem nil")
	}
	if h.hw.Armed() {
		t.Error("New must not arm reception")
	}
}

func TestNew_UsesDetectorConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.VAD.CalibrationFrames = 7
	eng := &vadmock.Engine{}
	_, err := app.New(context.Background(), cfg, &app.Providers{VAD: eng},
		app.WithHardware(&audiomock.Hardware{}), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(eng.NewSessionCalls) != 1 {
		t.Fatalf("NewSession calls = %d, want 1", len(eng.NewSessionCalls))
	}
	if got := eng.NewSessionCalls[0].Cfg.CalibrationFrames; got != 7 {
		t.Errorf("CalibrationFrames = %d, want 7", got)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing wav file", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Capture.Source = config.SourceWAV
		cfg.Capture.WAVPath = filepath.Join(t.TempDir(), "missing.wav")
		_, err := app.New(context.Background(), cfg, &app.Providers{VAD: &vadmock.Engine{}}, app.WithMetrics(testMetrics(t)))
		if err == nil {
			t.Fatal("expected error for missing wav file")
		}
	})

	t.Run("vad session fails", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		_, err := app.New(context.Background(), testConfig(),
			&app.Providers{VAD: &vadmock.Engine{NewSessionErr: boom}},
			app.WithHardware(&audiomock.Hardware{}), app.WithMetrics(testMetrics(t)))
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want wrapping boom", err)
		}
	})

	t.Run("invalid recording config closes detector", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Recording.MaxDuration = 0
		sess := &vadmock.Session{}
		_, err := app.New(context.Background(), cfg,
			&app.Providers{VAD: &vadmock.Engine{Session: sess}},
			app.WithHardware(&audiomock.Hardware{}), app.WithMetrics(testMetrics(t)))
		if err == nil {
			t.Fatal("expected error for invalid recording config")
		}
		if sess.CloseCallCount != 1 {
			t.Errorf("detector Close calls = %d, want 1", sess.CloseCallCount)
		}
	})
}

// ─── Run ─────────────────────────────────────────────────────────────────────

func TestApp_RecordingIsTranscribed(t *testing.T) {
	t.Parallel()

	provider := &sttmock.Provider{Result: stt.Result{Text: "lights on", Provider: "mock"}}
	h := newHarness(t, testConfig(), &app.Providers{
		STT: []app.NamedSTT{{Name: "mock", Provider: provider}},
	})
	h.start(t)

	h.speak(t, 25, 2)

	waitFor(t, "transcript", func() bool { return h.app.Pipeline().LastText() == "lights on" })

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("Transcribe calls = %d, want 1", len(calls))
	}
	// 25 speech frames plus 2 hangover frames, 16-bit mono.
	if want := 44 + 27*audio.FrameSize*2; len(calls[0].WAV) != want {
		t.Errorf("payload = %d bytes, want %d", len(calls[0].WAV), want)
	}

	// Reception is re-armed after the upload.
	waitFor(t, "reception re-armed", h.hw.Armed)
	waitFor(t, "uploader stats", func() bool { return h.app.Uploader().Stats().Uploads == 1 })
	if h.hw.StopCalls < 1 || h.hw.StartCalls < 2 {
		t.Errorf("hardware Stop/Start = %d/%d, want capture paused and resumed", h.hw.StopCalls, h.hw.StartCalls)
	}
}

func TestApp_NoProviderShowsUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), nil)
	h.start(t)

	h.speak(t, 20, 2)

	want := "ERR:-3"
	waitFor(t, want, func() bool { return h.app.Pipeline().LastText() == want })
}

func TestApp_FailoverToSecondProvider(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: &stt.Error{Provider: "a", Code: stt.CodeTransport, Retryable: true}}
	secondary := &sttmock.Provider{Result: stt.Result{Text: "from b"}}
	h := newHarness(t, testConfig(), &app.Providers{
		STT: []app.NamedSTT{
			{Name: "a", Provider: primary},
			{Name: "b", Provider: secondary},
		},
	})
	h.start(t)

	h.speak(t, 20, 2)

	waitFor(t, "fallback transcript", func() bool { return h.app.Pipeline().LastText() == "from b" })
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls primary=%d secondary=%d, want 1/1", len(primary.Calls()), len(secondary.Calls()))
	}
}

func TestApp_RoutesServeStatusAndHealth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), nil)
	mux := http.NewServeMux()
	h.app.Register(mux)

	for _, path := range []string{"/status", "/healthz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	// Reception is not armed, which fails readiness. The missing provider
	// only degrades it.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz = %d, want 503", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"stt":"degraded: no provider configured"`) {
		t.Errorf("readyz body = %s, want stt degraded", body)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.app.Run(ctx) }()

	waitFor(t, "reception armed", h.hw.Armed)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
	if h.hw.Armed() {
		t.Error("reception still armed after Run returned")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := h.app.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if h.sess.CloseCallCount != 1 {
		t.Errorf("detector Close calls = %d, want 1", h.sess.CloseCallCount)
	}

	// Shutdown is idempotent.
	if err := h.app.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunFailsWhenHardwareFails(t *testing.T) {
	t.Parallel()

	hw := &audiomock.Hardware{StartError: &audio.HardwareError{Code: audio.CodeNotReady, Op: "start"}}
	a, err := app.New(context.Background(), testConfig(), &app.Providers{VAD: &vadmock.Engine{}},
		app.WithHardware(hw), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = a.Run(context.Background())
	var hwErr *audio.HardwareError
	if !errors.As(err, &hwErr) || hwErr.Code != audio.CodeNotReady {
		t.Fatalf("Run err = %v, want hardware not-ready error", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	h := newHarness(t, testConfig(), nil, app.WithLogLevel(&lv))

	old := testConfig()
	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Display.Interval = 20 * time.Millisecond
	next.Capture.Noise = 1

	h.app.ApplyConfig(next, config.Diff(old, next))
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}

	// No change leaves the level alone.
	lv.Set(slog.LevelWarn)
	h.app.ApplyConfig(next, config.Diff(next, next))
	if lv.Level() != slog.LevelWarn {
		t.Errorf("level = %v, want warn", lv.Level())
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
