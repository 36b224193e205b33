// Package streaming manages the music-streaming session that feeds the sample
// transport.
//
// A [Session] authenticates once against a [Service] and then keeps exactly one
// engine running: a broadcast engine that plays whatever the account plays, or
// a remote engine that additionally lets the voice channel control playback
// and volume. Events of whichever engine is active are merged into the single
// channel returned by [Session.Events].
package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/groover/internal/observe"
	"github.com/MrWong99/groover/pkg/audio"
)

// Sentinel errors.
var (
	// ErrRemoteDisabled is returned by [Session.PlayPause] when remote-control
	// mode is not enabled.
	ErrRemoteDisabled = errors.New("streaming: remote control disabled")

	// ErrSessionClosed is returned by operations on a closed [Session].
	ErrSessionClosed = errors.New("streaming: session closed")
)

// eventBuffer is the capacity of the merged event channel.
const eventBuffer = 32

// Credentials authenticate the session. AccessToken, when set, is used as-is;
// otherwise the service falls back to cached or interactively obtained tokens
// using the client credentials.
type Credentials struct {
	AccessToken  string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Handle is an authenticated streaming-service session.
type Handle interface {
	// User returns the display name or id of the authenticated account.
	User() string
}

// RemoteConfig configures the remote engine.
type RemoteConfig struct {
	// DeviceName restricts remote control to the device with this name. Empty
	// follows whichever device is active.
	DeviceName string
}

// Sink receives decoded audio. A returned error is fatal to the engine.
type Sink interface {
	WriteContext(ctx context.Context, f audio.Frame) error
}

// Engine is a running playback engine. Close stops it and closes its event
// channel.
type Engine interface {
	Close() error
}

// RemoteEngine is an engine that accepts playback commands.
type RemoteEngine interface {
	Engine
	PlayPause(ctx context.Context) error
}

// Service is the streaming-service collaborator.
type Service interface {
	Authenticate(ctx context.Context, creds Credentials) (Handle, error)
	OpenPlayback(ctx context.Context, h Handle, sink Sink) (Engine, <-chan Event, error)
	OpenRemoteControl(ctx context.Context, h Handle, cfg RemoteConfig, mixer audio.VolumeControl, sink Sink) (RemoteEngine, <-chan Event, error)
}

// Config holds the collaborators of a [Session].
type Config struct {
	Service     Service
	Credentials Credentials
	Remote      RemoteConfig

	// Sink receives decoded audio of every engine.
	Sink Sink

	// Mixer is handed to the remote engine as filter and volume control.
	Mixer audio.VolumeControl

	// Closer is closed by [Session.Close] after the engines stopped. Typically
	// the transport producer backing Sink.
	Closer interface{ Close() error }

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is the streaming session. All methods are safe for concurrent use.
type Session struct {
	cfg    Config
	handle Handle

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	broadcast Engine
	remote    RemoteEngine
	closed    bool
}

// New authenticates and starts the broadcast engine. Authentication errors are
// returned unchanged in the chain so callers can abort startup.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Service == nil || cfg.Sink == nil || cfg.Mixer == nil {
		return nil, errors.New("streaming: service, sink and mixer are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	h, err := cfg.Service.Authenticate(ctx, cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("streaming: authenticate: %w", err)
	}
	s := &Session{
		cfg:    cfg,
		handle: h,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openBroadcastLocked(ctx); err != nil {
		return nil, err
	}
	observe.Logger(ctx).Info("streaming: session started", "user", h.User())
	return s, nil
}

// Events returns the merged event channel. It is closed by [Session.Close].
func (s *Session) Events() <-chan Event { return s.events }

// User returns the authenticated account.
func (s *Session) User() string { return s.handle.User() }

// RemoteControlEnabled reports whether the remote engine is active.
func (s *Session) RemoteControlEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote != nil
}

// EnableRemoteControl replaces the broadcast engine with a remote engine.
// Calling it while already enabled first disables the active remote engine,
// so exactly one remote engine exists afterwards.
func (s *Session) EnableRemoteControl(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	if err := s.disableLocked(ctx); err != nil {
		return err
	}
	if s.broadcast != nil {
		if err := s.broadcast.Close(); err != nil {
			observe.Logger(ctx).Warn("streaming: closing broadcast engine failed", "err", err)
		}
		s.broadcast = nil
	}

	remote, evs, err := s.cfg.Service.OpenRemoteControl(ctx, s.handle, s.cfg.Remote, s.cfg.Mixer, s.cfg.Sink)
	if err != nil {
		if rerr := s.openBroadcastLocked(ctx); rerr != nil {
			observe.Logger(ctx).Error("streaming: reopening broadcast engine failed", "err", rerr)
		}
		return fmt.Errorf("streaming: open remote control: %w", err)
	}
	s.remote = remote
	s.forward(evs)
	s.cfg.Metrics.RemoteControl.Add(ctx, 1)
	observe.Logger(ctx).Info("streaming: remote control enabled")
	return nil
}

// DisableRemoteControl shuts the remote engine down and returns to broadcast
// mode. It is a no-op when remote control is not enabled.
func (s *Session) DisableRemoteControl(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.disableLocked(ctx)
}

func (s *Session) disableLocked(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	if err := s.remote.Close(); err != nil {
		observe.Logger(ctx).Warn("streaming: closing remote engine failed", "err", err)
	}
	s.remote = nil
	s.cfg.Metrics.RemoteControl.Add(ctx, -1)
	observe.Logger(ctx).Info("streaming: remote control disabled")
	return s.openBroadcastLocked(ctx)
}

// PlayPause toggles playback through the remote engine.
func (s *Session) PlayPause(ctx context.Context) error {
	s.mu.Lock()
	remote := s.remote
	s.mu.Unlock()
	if remote == nil {
		return ErrRemoteDisabled
	}
	if err := remote.PlayPause(ctx); err != nil {
		return fmt.Errorf("streaming: play/pause: %w", err)
	}
	return nil
}

// Close stops the active engine, closes the configured Closer and then the
// event channel. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var errs []error
	if s.remote != nil {
		errs = append(errs, s.remote.Close())
		s.remote = nil
	}
	if s.broadcast != nil {
		errs = append(errs, s.broadcast.Close())
		s.broadcast = nil
	}
	s.mu.Unlock()

	if s.cfg.Closer != nil {
		errs = append(errs, s.cfg.Closer.Close())
	}
	close(s.done)
	s.wg.Wait()
	close(s.events)
	return errors.Join(errs...)
}

func (s *Session) openBroadcastLocked(ctx context.Context) error {
	engine, evs, err := s.cfg.Service.OpenPlayback(ctx, s.handle, s.cfg.Sink)
	if err != nil {
		return fmt.Errorf("streaming: open playback: %w", err)
	}
	s.broadcast = engine
	s.forward(evs)
	return nil
}

// forward copies evs into the merged channel until evs closes or the session
// closes.
func (s *Session) forward(evs <-chan Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case ev, ok := <-evs:
				if !ok {
					return
				}
				s.cfg.Metrics.RecordStreamingEvent(context.Background(), ev.Kind.String())
				select {
				case s.events <- ev:
				case <-s.done:
					return
				}
			case <-s.done:
				return
			}
		}
	}()
}
