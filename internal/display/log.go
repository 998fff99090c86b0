package display

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// LogScreen writes a status line whenever the phase or the text changes. The
// periodic counters are not logged.
type LogScreen struct {
	log      *slog.Logger
	disabled atomic.Bool

	phase string
	text  string
	init  bool
}

// NewLogScreen returns a screen writing to l, or to the default logger when l
// is nil.
func NewLogScreen(l *slog.Logger) *LogScreen {
	if l == nil {
		l = slog.Default()
	}
	return &LogScreen{log: l}
}

// SetEnabled turns logging on or off. A re-enabled screen logs the next
// snapshot even if nothing changed.
func (s *LogScreen) SetEnabled(on bool) {
	s.disabled.Store(!on)
}

// Render implements [Screen].
func (s *LogScreen) Render(ctx context.Context, snap Snapshot) error {
	if s.disabled.Load() {
		s.init = false
		return nil
	}
	if s.init && snap.Phase == s.phase && snap.Text == s.text {
		return nil
	}
	s.init = true
	s.phase, s.text = snap.Phase, snap.Text
	s.log.InfoContext(ctx, "display: status",
		"phase", snap.Phase,
		"text", snap.Text,
		"calibrated", snap.Status.Calibrated,
		"segments", snap.Stats.SpeechSegments,
		"threshold", snap.Stats.Threshold,
	)
	return nil
}
