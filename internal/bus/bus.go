// Package bus receives control messages from a message bus.
//
// [Dial] selects the transport from the URL scheme: nats:// and tls:// connect
// to a NATS server, ws:// and wss:// to a WebSocket endpoint that streams one
// message per frame. Receives block until a message arrives; no transport
// polls.
package bus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/MrWong99/groover/internal/resilience"
)

// ErrClosed is returned by [Subscription.Next] after the subscription or its
// subscriber was closed.
var ErrClosed = errors.New("bus: closed")

// Message is a message received on a subject.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription delivers the messages of one subject in order.
type Subscription interface {
	// Next blocks until a message arrives, ctx is done or the subscription
	// is closed.
	Next(ctx context.Context) (Message, error)

	// Close ends the subscription. Pending Next calls return [ErrClosed].
	Close() error
}

// Subscriber is a connection to a message bus.
type Subscriber interface {
	// Subscribe starts receiving messages published on subject.
	Subscribe(ctx context.Context, subject string) (Subscription, error)

	// Connected reports whether the underlying connection is up.
	Connected() bool

	// Close closes the connection and all its subscriptions.
	Close() error
}

// Option configures [Dial].
type Option func(*options)

type options struct {
	name    string
	backoff resilience.Backoff
}

// WithName sets the client name announced to the server.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithBackoff sets the redial schedule of transports that reconnect
// themselves.
func WithBackoff(b resilience.Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// Dial connects to the bus at rawURL.
func Dial(ctx context.Context, rawURL string, opts ...Option) (Subscriber, error) {
	o := options{
		name:    "groover",
		backoff: resilience.Backoff{Name: "bus", Initial: 500 * time.Millisecond, Max: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bus: parse url: %w", err)
	}
	switch u.Scheme {
	case "nats", "tls":
		return dialNATS(ctx, rawURL, o)
	case "ws", "wss":
		return dialWebSocket(ctx, u, o)
	default:
		return nil, fmt.Errorf("bus: unsupported scheme %q", u.Scheme)
	}
}
