// Package groover implements the connection controller that owns at most one
// voice call at a time.
//
// A [Controller] moves between [Disconnected] and [Connected]. Connecting
// while connected first tears down the existing call, so a second Join for a
// different channel cleanly replaces the first. Operations are expected to be
// applied from a single goroutine (the control dispatcher); a mutex guards the
// state so that health checks may read it concurrently.
package groover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/groover/internal/observe"
	"github.com/MrWong99/groover/pkg/audio"
)

// ErrNotConnected is returned by [Controller.SetSource] when no call is active.
var ErrNotConnected = errors.New("groover: not connected")

// State is the connection state of a [Controller].
type State int

const (
	// Disconnected is the initial state: no call is held.
	Disconnected State = iota
	// Connected means a call is held and audio may be attached.
	Connected
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Controller is the connection state machine.
type Controller struct {
	platform audio.Platform
	metrics  *observe.Metrics

	mu    sync.Mutex
	call  audio.Call
	info  audio.ConnectionInfo
	state State
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics records connect attempts and active calls on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New returns a disconnected Controller that obtains calls from platform.
func New(platform audio.Platform, opts ...Option) *Controller {
	c := &Controller{platform: platform}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info returns the connection info of the active call and whether one exists.
func (c *Controller) Info() (audio.ConnectionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, c.state == Connected
}

// Connect joins the call described by info. An active call is torn down first;
// an error leaving it is logged and does not prevent the new connection. On
// failure the controller stays [Disconnected].
func (c *Controller) Connect(ctx context.Context, info audio.ConnectionInfo) error {
	if err := c.Disconnect(ctx); err != nil {
		observe.Logger(ctx).Warn("groover: leaving previous call failed", "err", err)
	}

	start := time.Now()
	call, err := c.platform.Connect(ctx, info)
	c.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordConnect(ctx, "error")
		return fmt.Errorf("groover: connect guild %s: %w", info.Guild(), err)
	}
	if err := call.SetBitrate(audio.BitrateAuto); err != nil {
		observe.Logger(ctx).Warn("groover: set bitrate failed", "err", err)
	}

	c.mu.Lock()
	c.call = call
	c.info = info
	c.state = Connected
	c.mu.Unlock()

	c.metrics.RecordConnect(ctx, "ok")
	c.metrics.ActiveCalls.Add(ctx, 1)
	observe.Logger(ctx).Info("groover: connected", "guild", info.Guild(), "user", info.User())
	return nil
}

// Disconnect leaves the active call. The controller is [Disconnected] when
// Disconnect returns, even if leaving failed. It is a no-op when already
// disconnected.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	call := c.call
	info := c.info
	wasConnected := c.state == Connected
	c.call = nil
	c.info = audio.ConnectionInfo{}
	c.state = Disconnected
	c.mu.Unlock()

	if !wasConnected {
		return nil
	}
	c.metrics.ActiveCalls.Add(ctx, -1)
	observe.Logger(ctx).Info("groover: disconnecting", "guild", info.Guild())
	if err := call.Leave(); err != nil {
		return fmt.Errorf("groover: leave guild %s: %w", info.Guild(), err)
	}
	return nil
}

// SetSource attaches r as the outgoing audio of the active call.
func (c *Controller) SetSource(r io.Reader) error {
	c.mu.Lock()
	call := c.call
	c.mu.Unlock()
	if call == nil {
		return ErrNotConnected
	}
	if err := call.AttachSource(r); err != nil {
		return fmt.Errorf("groover: attach source: %w", err)
	}
	return nil
}
