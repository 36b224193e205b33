// Package mock provides in-memory mock implementations of the
// [streaming.Service] collaborator and its engines for use in unit tests.
//
// All mocks are safe for concurrent use. Engines handed out by [Service] are
// recorded so tests can emit events through them and assert on Close calls.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/groover/internal/streaming"
	"github.com/MrWong99/groover/pkg/audio"
)

// ─── Engine ───────────────────────────────────────────────────────────────────

// Engine is a mock implementation of [streaming.Engine] and
// [streaming.RemoteEngine].
type Engine struct {
	mu     sync.Mutex
	events chan streaming.Event
	closed bool

	// Remote reports whether the engine was opened as a remote engine.
	Remote bool

	// Mixer is the volume control handed to a remote engine.
	Mixer audio.VolumeControl

	// PlayPauseError is returned by [Engine.PlayPause].
	PlayPauseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// CallCountPlayPause records how many times PlayPause was called.
	CallCountPlayPause int
}

func newEngine(remote bool) *Engine {
	return &Engine{events: make(chan streaming.Event, 16), Remote: remote}
}

// Emit delivers ev on the engine's event channel. It is dropped if the engine
// is closed.
func (e *Engine) Emit(ev streaming.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.events <- ev
}

// Close implements [streaming.Engine]. Closes the event channel once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountClose++
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	return nil
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// PlayPause implements [streaming.RemoteEngine].
func (e *Engine) PlayPause(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountPlayPause++
	return e.PlayPauseError
}

// PlayPauseCount returns CallCountPlayPause under the lock.
func (e *Engine) PlayPauseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CallCountPlayPause
}

// ─── Service ──────────────────────────────────────────────────────────────────

// Handle is a mock [streaming.Handle].
type Handle string

// User implements [streaming.Handle].
func (h Handle) User() string { return string(h) }

// Service is a mock implementation of [streaming.Service].
type Service struct {
	mu sync.Mutex

	// AuthenticateError is returned by Authenticate.
	AuthenticateError error

	// OpenPlaybackError is returned by OpenPlayback.
	OpenPlaybackError error

	// OpenRemoteError is returned by OpenRemoteControl.
	OpenRemoteError error

	// AuthenticateCalls records the credentials of every Authenticate call.
	AuthenticateCalls []streaming.Credentials

	// Broadcast holds every broadcast engine opened, in order.
	Broadcast []*Engine

	// Remotes holds every remote engine opened, in order.
	Remotes []*Engine
}

// Authenticate implements [streaming.Service].
func (s *Service) Authenticate(_ context.Context, creds streaming.Credentials) (streaming.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AuthenticateCalls = append(s.AuthenticateCalls, creds)
	if s.AuthenticateError != nil {
		return nil, s.AuthenticateError
	}
	return Handle("test-user"), nil
}

// OpenPlayback implements [streaming.Service].
func (s *Service) OpenPlayback(_ context.Context, _ streaming.Handle, _ streaming.Sink) (streaming.Engine, <-chan streaming.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenPlaybackError != nil {
		return nil, nil, s.OpenPlaybackError
	}
	e := newEngine(false)
	s.Broadcast = append(s.Broadcast, e)
	return e, e.events, nil
}

// OpenRemoteControl implements [streaming.Service].
func (s *Service) OpenRemoteControl(_ context.Context, _ streaming.Handle, _ streaming.RemoteConfig, mixer audio.VolumeControl, _ streaming.Sink) (streaming.RemoteEngine, <-chan streaming.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenRemoteError != nil {
		return nil, nil, s.OpenRemoteError
	}
	e := newEngine(true)
	e.Mixer = mixer
	s.Remotes = append(s.Remotes, e)
	return e, e.events, nil
}

// BroadcastEngines returns a snapshot of Broadcast.
func (s *Service) BroadcastEngines() []*Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Engine(nil), s.Broadcast...)
}

// RemoteEngines returns a snapshot of Remotes.
func (s *Service) RemoteEngines() []*Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Engine(nil), s.Remotes...)
}

// Sink is a mock [streaming.Sink] that records written frames.
type Sink struct {
	mu sync.Mutex

	// WriteError is returned by WriteContext.
	WriteError error

	// Frames holds every frame written, in order.
	Frames []audio.Frame

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// WriteContext implements [streaming.Sink].
func (s *Sink) WriteContext(_ context.Context, f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	s.Frames = append(s.Frames, f)
	return nil
}

// Close records the call.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// FrameCount returns len(Frames) under the lock.
func (s *Sink) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Written returns a snapshot of Frames.
func (s *Sink) Written() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Frame(nil), s.Frames...)
}

// SetWriteError sets WriteError under the lock.
func (s *Sink) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WriteError = err
}
