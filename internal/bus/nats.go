package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type natsSubscriber struct {
	nc *nats.Conn
}

func dialNATS(ctx context.Context, rawURL string, o options) (*natsSubscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(rawURL,
		nats.Name(o.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(o.backoff.Initial),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("bus: nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("bus: nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect nats: %w", err)
	}
	slog.Info("bus: connected", "transport", "nats", "url", nc.ConnectedUrl())
	return &natsSubscriber{nc: nc}, nil
}

func (s *natsSubscriber) Subscribe(_ context.Context, subject string) (Subscription, error) {
	sub, err := s.nc.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %q: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (s *natsSubscriber) Connected() bool { return s.nc.IsConnected() }

func (s *natsSubscriber) Close() error {
	s.nc.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Next(ctx context.Context) (Message, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	switch {
	case err == nil:
		return Message{Subject: msg.Subject, Data: msg.Data}, nil
	case ctx.Err() != nil:
		return Message{}, ctx.Err()
	case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
		return Message{}, ErrClosed
	default:
		return Message{}, fmt.Errorf("bus: next message: %w", err)
	}
}

func (s *natsSubscription) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("bus: unsubscribe: %w", err)
	}
	return nil
}
