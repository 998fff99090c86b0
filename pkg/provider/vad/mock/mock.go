// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script a sequence of speech decisions and inspect the frames
// that were submitted for processing.
//
// Example:
//
//	sess := &mock.Session{Script: []bool{false, true, true, false}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/voxtap/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
//
// Each Process call consumes the next entry of Script. When Script is
// exhausted, Default is returned.
type Session struct {
	mu sync.Mutex

	// Script is the sequence of speech decisions returned by Process.
	Script []bool

	// Default is the speech decision once Script is exhausted.
	Default bool

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProcessCalls is the number of times Process was called.
	ProcessCalls int

	// Lengths records the length of every frame passed to Process.
	Lengths []int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Process records the call and returns the next scripted decision.
func (s *Session) Process(samples []int32) vad.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	speech := s.Default
	if s.ProcessCalls < len(s.Script) {
		speech = s.Script[s.ProcessCalls]
	}
	s.ProcessCalls++
	s.Lengths = append(s.Lengths, len(samples))
	return vad.Decision{Speech: speech, Calibrated: true}
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// SetScript replaces the remaining script and restarts it. Thread-safe.
func (s *Session) SetScript(script []bool, def bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Script = script
	s.Default = def
	s.ProcessCalls = 0
}

// Calls returns the number of Process calls so far. Thread-safe.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ProcessCalls
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
