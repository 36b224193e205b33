package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/groover/internal/resilience"
)

// wsReadLimit bounds a single control message.
const wsReadLimit = 64 << 10

// wsSubscriber opens one WebSocket per subscription. The subject is passed as
// the "subject" query parameter.
type wsSubscriber struct {
	base    *url.URL
	name    string
	backoff resilience.Backoff

	live atomic.Int32

	mu     sync.Mutex
	subs   map[*wsSubscription]struct{}
	closed bool
}

func dialWebSocket(_ context.Context, u *url.URL, o options) (*wsSubscriber, error) {
	return &wsSubscriber{
		base:    u,
		name:    o.name,
		backoff: o.backoff,
		subs:    make(map[*wsSubscription]struct{}),
	}, nil
}

func (s *wsSubscriber) endpoint(subject string) string {
	u := *s.base
	q := u.Query()
	q.Set("subject", subject)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *wsSubscriber) Subscribe(ctx context.Context, subject string) (Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	life, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{
		owner:   s,
		subject: subject,
		url:     s.endpoint(subject),
		life:    life,
		cancel:  cancel,
	}
	if err := sub.dial(ctx); err != nil {
		cancel()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.shutdown()
		return nil, ErrClosed
	}
	s.subs[sub] = struct{}{}
	return sub, nil
}

// Connected reports whether every subscription holds an open socket.
func (s *wsSubscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && int(s.live.Load()) == len(s.subs)
}

func (s *wsSubscriber) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()

	for sub := range subs {
		sub.shutdown()
	}
	return nil
}

func (s *wsSubscriber) remove(sub *wsSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

type wsSubscription struct {
	owner   *wsSubscriber
	subject string
	url     string

	life      context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscription) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPHeader: map[string][]string{"User-Agent": {s.owner.name}},
	})
	if err != nil {
		return fmt.Errorf("bus: dial websocket: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.life.Err() != nil {
		conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		return ErrClosed
	}
	s.conn = conn
	s.owner.live.Add(1)
	slog.Info("bus: connected", "transport", "websocket", "subject", s.subject)
	return nil
}

// drop forgets conn after a read failure.
func (s *wsSubscription) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	s.conn = nil
	s.owner.live.Add(-1)
	conn.CloseNow()
}

func (s *wsSubscription) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Next reads the next frame. A dropped connection is redialled with
// exponential backoff until it succeeds, ctx is done or the subscription is
// closed.
func (s *wsSubscription) Next(ctx context.Context) (Message, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.life, cancel)
	defer stop()

	for {
		if s.life.Err() != nil {
			return Message{}, ErrClosed
		}
		conn := s.current()
		if conn == nil {
			err := resilience.Retry(ctx, s.owner.backoff, s.dial)
			if err != nil {
				if s.life.Err() != nil || errors.Is(err, ErrClosed) {
					return Message{}, ErrClosed
				}
				return Message{}, err
			}
			continue
		}

		_, data, err := conn.Read(ctx)
		if err == nil {
			return Message{Subject: s.subject, Data: data}, nil
		}
		if s.life.Err() != nil {
			return Message{}, ErrClosed
		}
		if ctx.Err() != nil {
			// coder/websocket closes the connection when a read is
			// cancelled, so it cannot be reused.
			s.drop(conn)
			return Message{}, ctx.Err()
		}
		slog.Warn("bus: websocket dropped, redialling", "subject", s.subject, "err", err)
		s.drop(conn)
	}
}

func (s *wsSubscription) Close() error {
	s.shutdown()
	s.owner.remove(s)
	return nil
}

func (s *wsSubscription) shutdown() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		conn := s.conn
		if conn != nil {
			s.conn = nil
			s.owner.live.Add(-1)
		}
		s.mu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		}
	})
}
