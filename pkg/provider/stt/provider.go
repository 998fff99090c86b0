// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a remote batch transcription service (e.g., the Baidu
// short speech REST API or a whisper.cpp server) and exposes a uniform
// request/response interface: one finished recording encoded as a WAV payload
// goes in, one transcript comes out.
//
// Failures are reported as [*Error] values carrying a numeric diagnostic code so
// the status display can show "ERR:<code>" without knowing which backend failed.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Request describes the payload and recognition hints for one transcription.
type Request struct {
	// SampleRate is the audio sample rate in Hz of the WAV payload.
	SampleRate int

	// Language is a BCP-47 language tag such as "en" or "zh-CN". Each provider
	// maps it onto its own model selection and falls back to its configured
	// default when the tag is empty, malformed or unsupported. Provider
	// specific model ids never go here.
	Language string
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe sends one 16-bit mono WAV payload and returns its transcript.
	//
	// Returns an [*Error] when the service rejects the request or cannot be
	// reached. ctx cancellation aborts the request.
	Transcribe(ctx context.Context, wav []byte, req Request) (Result, error)
}
