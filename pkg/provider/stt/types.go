package stt

import (
	"errors"
	"fmt"
	"time"
)

// Result is the transcript of one recording.
type Result struct {
	// Text is the transcribed speech content. Empty when nothing was recognised.
	Text string

	// Provider is the name of the backend that produced the result.
	Provider string

	// Latency is the round-trip time of the request.
	Latency time.Duration
}

// Diagnostic codes shared by every provider. Positive codes are passed
// through from the remote service.
const (
	// CodeTransport means the request could not be sent or no response arrived.
	CodeTransport = -1

	// CodeBadResponse means the response was empty or could not be parsed.
	CodeBadResponse = -2

	// CodeUnavailable means no provider could take the request.
	CodeUnavailable = -3
)

// Common errors for STT providers.
var (
	// ErrEmptyAudio is returned when the WAV payload is empty.
	ErrEmptyAudio = errors.New("stt: audio payload is empty")

	// ErrUnavailable is returned when every provider is unavailable.
	ErrUnavailable = errors.New("stt: no provider available")
)

// Error is a transcription failure with a numeric diagnostic code.
type Error struct {
	// Provider is the STT provider name.
	Provider string

	// Code is a shared code from this package or a provider-specific positive
	// code reported by the remote service.
	Code int

	// Message is a human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the request can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s transcription error [%d]: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same provider and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Provider == t.Provider && e.Code == t.Code
}

// ErrorCode extracts the diagnostic code from err. Errors that are not an
// [*Error] map to [CodeTransport]; [ErrUnavailable] maps to [CodeUnavailable].
func ErrorCode(err error) int {
	var se *Error
	switch {
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeTransport
	}
}
