// Package mock provides a test double for the stt.Provider interface.
//
// Provider returns a fixed Result or error and records every call, including a
// copy of the WAV payload, so tests can assert what the upload stage sent.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Result{Text: "hello"}}
//	res, _ := p.Transcribe(ctx, wav, stt.Request{SampleRate: 16000})
//	calls := p.Calls()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxtap/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// WAV is a copy of the payload passed to Transcribe.
	WAV []byte
	// Req is the request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Delay, if positive, makes Transcribe wait before answering. The wait is
	// aborted by ctx cancellation.
	Delay time.Duration

	// OnTranscribe, if set, is called at the start of every Transcribe call.
	OnTranscribe func()

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{WAV: append([]byte(nil), wav...), Req: req})
	res, err, delay, hook := p.Result, p.Err, p.Delay, p.OnTranscribe
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// SetResponse replaces the canned result and error.
func (p *Provider) SetResponse(res stt.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Result = res
	p.Err = err
}

// Calls returns a snapshot of the recorded calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}
