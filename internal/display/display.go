// Package display publishes the pipeline status.
//
// [Display] polls the pipeline at a fixed interval, assembles a [Snapshot]
// and hands it to every registered [Screen]. [LogScreen] writes status
// changes to the structured log and [Hub] pushes every snapshot to websocket
// clients. [Display.Register] mounts the HTTP endpoints that serve the latest
// snapshot and reset the counters.
package display

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxtap/internal/pipeline"
)

// DefaultInterval is the status polling period.
const DefaultInterval = 500 * time.Millisecond

// Source is the part of the pipeline the display reads. [*pipeline.Pipeline]
// implements it.
type Source interface {
	State() pipeline.Status
	LastText() string
	Stats() pipeline.Stats
	ResetStats()
}

// Compile-time interface assertion.
var _ Source = (*pipeline.Pipeline)(nil)

// Snapshot is one rendered status.
type Snapshot struct {
	Time   time.Time       `json:"time"`
	Phase  string          `json:"phase"`
	Status pipeline.Status `json:"status"`
	Text   string          `json:"text"`
	Stats  pipeline.Stats  `json:"stats"`

	// Extra holds the values of the sections added with [WithSection].
	Extra map[string]any `json:"extra,omitempty"`
}

// Screen renders snapshots. Render is called from the polling goroutine and
// should not block for long.
type Screen interface {
	Render(ctx context.Context, s Snapshot) error
}

// Option is a functional option for [New].
type Option func(*Display)

// WithInterval overrides [DefaultInterval].
func WithInterval(d time.Duration) Option {
	return func(dp *Display) {
		if d > 0 {
			dp.interval = d
		}
	}
}

// WithScreen adds a screen.
func WithScreen(s Screen) Option {
	return func(dp *Display) { dp.screens = append(dp.screens, s) }
}

// WithSection adds a named value computed on every poll, such as uploader or
// capture counters.
func WithSection(name string, fn func() any) Option {
	return func(dp *Display) {
		dp.sections = append(dp.sections, section{name: name, fn: fn})
	}
}

type section struct {
	name string
	fn   func() any
}

// Display polls a [Source] and fans snapshots out to screens.
type Display struct {
	src      Source
	interval time.Duration
	screens  []Screen
	sections []section

	latest atomic.Pointer[Snapshot]
	reset  chan time.Duration

	// renderMu serialises screen rendering between Run and Refresh.
	renderMu sync.Mutex
}

// New creates a Display for src.
func New(src Source, opts ...Option) *Display {
	d := &Display{
		src:      src,
		interval: DefaultInterval,
		reset:    make(chan time.Duration, 1),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run polls until ctx is cancelled. It always returns nil.
func (d *Display) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case iv := <-d.reset:
			ticker.Reset(iv)
			slog.Info("display: polling interval changed", "interval", iv)
		case <-ticker.C:
			d.Refresh(ctx)
		}
	}
}

// SetInterval changes the polling period of a running display.
func (d *Display) SetInterval(iv time.Duration) {
	if iv <= 0 {
		return
	}
	select {
	case d.reset <- iv:
	default:
		// Replace a pending change that Run has not picked up yet.
		select {
		case <-d.reset:
		default:
		}
		d.reset <- iv
	}
}

// Refresh takes a snapshot now and renders it on every screen.
func (d *Display) Refresh(ctx context.Context) Snapshot {
	s := d.snapshot()
	d.latest.Store(&s)

	d.renderMu.Lock()
	defer d.renderMu.Unlock()
	for _, sc := range d.screens {
		if err := sc.Render(ctx, s); err != nil {
			slog.Warn("display: render failed", "err", err)
		}
	}
	return s
}

// Latest returns the most recent snapshot, taking one if none exists yet.
func (d *Display) Latest() Snapshot {
	if s := d.latest.Load(); s != nil {
		return *s
	}
	s := d.snapshot()
	return s
}

func (d *Display) snapshot() Snapshot {
	st := d.src.State()
	s := Snapshot{
		Time:   time.Now(),
		Phase:  st.Phase().String(),
		Status: st,
		Text:   d.src.LastText(),
		Stats:  d.src.Stats(),
	}
	if len(d.sections) > 0 {
		s.Extra = make(map[string]any, len(d.sections))
		for _, sec := range d.sections {
			s.Extra[sec.name] = sec.fn()
		}
	}
	return s
}

// Register adds the status routes to mux:
//
//   - GET /status returns the latest snapshot.
//   - POST /stats/reset clears the pipeline counters.
func (d *Display) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", d.handleStatus)
	mux.HandleFunc("POST /stats/reset", d.handleReset)
}

func (d *Display) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Latest())
}

func (d *Display) handleReset(w http.ResponseWriter, r *http.Request) {
	d.src.ResetStats()
	slog.Info("display: statistics reset", "remote", r.RemoteAddr)
	s := d.Refresh(r.Context())
	writeJSON(w, http.StatusOK, s)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("display: encode response failed", "err", err)
	}
}
