package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxtap/internal/resilience"
)

// CaptureRunning fails while the audio receiver is disarmed, unless the
// pipeline paused it on purpose for an upload.
func CaptureRunning(running, paused func() bool) Checker {
	return Checker{
		Name: "capture",
		Check: func(context.Context) error {
			if running() || paused() {
				return nil
			}
			return errors.New("audio reception is not armed")
		},
	}
}

// Calibrated fails until the detector has measured the noise floor.
func Calibrated(calibrated func() bool) Checker {
	return Checker{
		Name: "vad",
		Check: func(context.Context) error {
			if calibrated() {
				return nil
			}
			return errors.New("noise floor calibration in progress")
		},
	}
}

// Recognition degrades readiness when no provider is configured or every
// provider's circuit breaker is open.
func Recognition(breakers func() []resilience.Snapshot) Checker {
	return Checker{
		Name:     "stt",
		Degrades: true,
		Check: func(context.Context) error {
			snaps := breakers()
			if len(snaps) == 0 {
				return errors.New("no provider configured")
			}
			var open []string
			for _, s := range snaps {
				if s.State != resilience.StateOpen.String() {
					return nil
				}
				open = append(open, s.Name)
			}
			return fmt.Errorf("all providers unavailable: %s", strings.Join(open, ", "))
		},
	}
}
