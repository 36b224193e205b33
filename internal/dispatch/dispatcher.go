// Package dispatch routes control input to the connection controller and the
// streaming session.
//
// A [Dispatcher] merges four inputs into one loop: control messages from the
// bus, slash commands, streaming events and voice presence changes. Each is
// applied to completion before the next is taken, so controller operations
// never overlap.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/groover/internal/bus"
	"github.com/MrWong99/groover/internal/discord"
	"github.com/MrWong99/groover/internal/observe"
	"github.com/MrWong99/groover/internal/streaming"
	"github.com/MrWong99/groover/pkg/audio"
)

// receiveRetryDelay is the pause after a failed receive before trying again.
const receiveRetryDelay = 250 * time.Millisecond

// Controller is the connection controller.
type Controller interface {
	Connect(ctx context.Context, info audio.ConnectionInfo) error
	Disconnect(ctx context.Context) error
	SetSource(r io.Reader) error
	Info() (audio.ConnectionInfo, bool)
}

// Session is the streaming session.
type Session interface {
	Events() <-chan streaming.Event
	PlayPause(ctx context.Context) error
	EnableRemoteControl(ctx context.Context) error
	DisableRemoteControl(ctx context.Context) error
}

// Source is the audio handed to every new call. Stale audio is drained before
// it is attached.
type Source interface {
	io.Reader
	Drain() int
}

// Config holds the collaborators of a [Dispatcher].
type Config struct {
	// Subscription delivers control messages. Required.
	Subscription bus.Subscription

	Controller Controller
	Session    Session
	Source     Source

	// Presence and Commands are optional.
	Presence <-chan discord.PresenceEvent
	Commands <-chan discord.Command

	// Home is joined when playback starts while disconnected. Its ChannelID
	// is normally zero so the platform follows the user. A zero GuildID
	// disables the rejoin.
	Home audio.ConnectionInfo

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Dispatcher is the control loop.
type Dispatcher struct {
	cfg Config
}

// New returns a Dispatcher. It does not start receiving until [Dispatcher.Run].
func New(cfg Config) (*Dispatcher, error) {
	var errs []error
	if cfg.Subscription == nil {
		errs = append(errs, errors.New("subscription is required"))
	}
	if cfg.Controller == nil {
		errs = append(errs, errors.New("controller is required"))
	}
	if cfg.Session == nil {
		errs = append(errs, errors.New("session is required"))
	}
	if cfg.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Dispatcher{cfg: cfg}, nil
}

// Run processes input until ctx is cancelled or the subscription closes.
// It returns nil on cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan bus.Message)
	recvDone := make(chan error, 1)
	go func() { recvDone <- d.receive(ctx, msgs) }()

	events := d.cfg.Session.Events()
	presence := d.cfg.Presence
	commands := d.cfg.Commands

	for {
		select {
		case <-ctx.Done():
			<-recvDone
			return nil

		case err := <-recvDone:
			if ctx.Err() != nil {
				return nil
			}
			return err

		case m := <-msgs:
			d.handleBus(ctx, m)

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			d.handleCommand(ctx, cmd)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.handleEvent(ctx, ev)

		case p, ok := <-presence:
			if !ok {
				presence = nil
				continue
			}
			d.handlePresence(ctx, p)
		}
	}
}

// receive pulls bus messages into out in order. It returns when ctx is done
// or the subscription closes.
func (d *Dispatcher) receive(ctx context.Context, out chan<- bus.Message) error {
	for {
		m, err := d.cfg.Subscription.Next(ctx)
		switch {
		case err == nil:
			select {
			case out <- m:
			case <-ctx.Done():
				return nil
			}
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, bus.ErrClosed):
			return fmt.Errorf("dispatch: receive: %w", err)
		default:
			observe.Logger(ctx).Warn("dispatch: receive failed", "err", err)
			select {
			case <-time.After(receiveRetryDelay):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// traced runs fn inside a span carrying a fresh correlation ID and records
// the outcome.
func (d *Dispatcher) traced(ctx context.Context, kind string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) {
	ctx = observe.WithCorrelationID(ctx, uuid.NewString())
	ctx, span := observe.StartSpan(ctx, "dispatch."+kind, trace.WithAttributes(attrs...))
	defer span.End()

	log := observe.Logger(ctx)
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("dispatch: handling failed", "kind", kind, "err", err)
	} else {
		log.Debug("dispatch: handled", "kind", kind)
	}
	d.cfg.Metrics.RecordControlMessage(ctx, kind, status)
}

func (d *Dispatcher) handleBus(ctx context.Context, m bus.Message) {
	msg, err := Decode(m.Data)
	if err != nil {
		observe.Logger(ctx).Warn("dispatch: dropping malformed message", "subject", m.Subject, "err", err)
		d.cfg.Metrics.RecordControlMessage(ctx, "malformed", "error")
		return
	}
	d.apply(ctx, msg, attribute.String("source", "bus"), attribute.String("subject", m.Subject))
}

func (d *Dispatcher) handleCommand(ctx context.Context, cmd discord.Command) {
	switch cmd.Kind {
	case discord.CommandJoin:
		d.apply(ctx, Join{Info: cmd.Info}, attribute.String("source", "slash"))
	case discord.CommandPausePlay:
		d.apply(ctx, PausePlay{}, attribute.String("source", "slash"))
	default:
		observe.Logger(ctx).Warn("dispatch: unknown command", "kind", cmd.Kind)
	}
}

// apply executes a control message.
func (d *Dispatcher) apply(ctx context.Context, msg Message, attrs ...attribute.KeyValue) {
	switch msg := msg.(type) {
	case Join:
		attrs = append(attrs, attribute.String("guild", msg.Info.Guild()))
		d.traced(ctx, msg.Type(), func(ctx context.Context) error {
			return d.join(ctx, msg.Info)
		}, attrs...)
	case PausePlay:
		d.traced(ctx, msg.Type(), d.cfg.Session.PlayPause, attrs...)
	}
}

// join connects and attaches the drained source to the new call.
func (d *Dispatcher) join(ctx context.Context, info audio.ConnectionInfo) error {
	if err := d.cfg.Controller.Connect(ctx, info); err != nil {
		return err
	}
	if n := d.cfg.Source.Drain(); n > 0 {
		observe.Logger(ctx).Debug("dispatch: dropped stale audio", "bytes", n)
	}
	if err := d.cfg.Controller.SetSource(d.cfg.Source); err != nil {
		return errors.Join(err, d.cfg.Controller.Disconnect(ctx))
	}
	return nil
}

func (d *Dispatcher) handleEvent(ctx context.Context, ev streaming.Event) {
	switch ev.Kind {
	case streaming.EventStarted:
		if _, connected := d.cfg.Controller.Info(); connected || d.cfg.Home.GuildID == 0 {
			observe.Logger(ctx).Debug("dispatch: streaming event", "event", ev.String())
			return
		}
		d.traced(ctx, "event."+ev.Kind.String(), func(ctx context.Context) error {
			return d.join(ctx, d.cfg.Home)
		}, attribute.String("event", ev.String()), attribute.String("guild", d.cfg.Home.Guild()))
	case streaming.EventStopped, streaming.EventFailed:
		d.traced(ctx, "event."+ev.Kind.String(), d.cfg.Controller.Disconnect,
			attribute.String("event", ev.String()))
	default:
		observe.Logger(ctx).Debug("dispatch: streaming event", "event", ev.String())
	}
}

func (d *Dispatcher) handlePresence(ctx context.Context, p discord.PresenceEvent) {
	kind := "presence." + p.Kind.String()
	attrs := []attribute.KeyValue{attribute.String("channel", p.ChannelID)}
	switch p.Kind {
	case discord.PresenceJoined:
		d.traced(ctx, kind, d.cfg.Session.EnableRemoteControl, attrs...)
	case discord.PresenceMoved:
		d.traced(ctx, kind, func(ctx context.Context) error {
			return d.follow(ctx, p.ChannelID)
		}, attrs...)
	case discord.PresenceLeft:
		d.traced(ctx, kind, func(ctx context.Context) error {
			return errors.Join(
				d.cfg.Session.DisableRemoteControl(ctx),
				d.cfg.Controller.Disconnect(ctx),
			)
		}, attrs...)
	}
}

// follow moves an active call to channelID. It is a no-op while disconnected.
func (d *Dispatcher) follow(ctx context.Context, channelID string) error {
	info, ok := d.cfg.Controller.Info()
	if !ok || info.Channel() == channelID {
		return nil
	}
	ch, err := strconv.ParseUint(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("dispatch: invalid channel id %q: %w", channelID, err)
	}
	info.ChannelID = ch
	return d.join(ctx, info)
}
