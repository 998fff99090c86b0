package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxtap/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
//
// Errors caused by the request rather than the backend (context cancellation
// or a non-retryable rejection with a service-specific code) are returned
// straight away and do not count against the breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Stop == nil {
		cfg.Stop = requestFault
	}
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool { return !requestFault(err) }
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends wav to the first healthy provider, moving on to the next
// one when a provider fails. When no provider could even be tried the error
// wraps [stt.ErrUnavailable].
func (f *STTFallback) Transcribe(ctx context.Context, wav []byte, req stt.Request) (stt.Result, error) {
	res, err := ExecuteWithResult(f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, wav, req)
	})
	if err == nil {
		return res, nil
	}
	var se *stt.Error
	if errors.Is(err, ErrAllFailed) && !errors.As(err, &se) && errors.Is(err, ErrCircuitOpen) {
		return stt.Result{}, fmt.Errorf("%w: %w", stt.ErrUnavailable, err)
	}
	return stt.Result{}, err
}

// Breakers returns the breaker state of every provider in failover order.
func (f *STTFallback) Breakers() []Snapshot {
	return f.group.Snapshots()
}

// requestFault reports errors that another provider would not fix.
func requestFault(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, stt.ErrEmptyAudio) {
		return true
	}
	var se *stt.Error
	if errors.As(err, &se) {
		return se.Code > 0 && !se.Retryable
	}
	return false
}
