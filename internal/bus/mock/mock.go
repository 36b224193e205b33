// Package mock provides an in-memory [bus.Subscriber] for unit tests.
//
// Messages published with [Subscriber.Publish] are delivered to every
// subscription of the subject in publish order.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/groover/internal/bus"
)

// Subscriber is a mock [bus.Subscriber].
type Subscriber struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	closed bool

	// SubscribeError is returned by Subscribe.
	SubscribeError error

	// Disconnected makes Connected report false.
	Disconnected bool
}

var _ bus.Subscriber = (*Subscriber)(nil)

// Subscribe implements [bus.Subscriber].
func (s *Subscriber) Subscribe(_ context.Context, subject string) (bus.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubscribeError != nil {
		return nil, s.SubscribeError
	}
	if s.closed {
		return nil, bus.ErrClosed
	}
	if s.subs == nil {
		s.subs = make(map[string][]*Subscription)
	}
	sub := &Subscription{
		subject: subject,
		ch:      make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	s.subs[subject] = append(s.subs[subject], sub)
	return sub, nil
}

// Publish delivers data to every subscription of subject.
func (s *Subscriber) Publish(subject string, data []byte) {
	s.mu.Lock()
	subs := append([]*Subscription(nil), s.subs[subject]...)
	s.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.ch <- data:
		case <-sub.done:
		}
	}
}

// Subscriptions returns how many subscriptions subject has had.
func (s *Subscriber) Subscriptions(subject string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[subject])
}

// Connected implements [bus.Subscriber].
func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.Disconnected
}

// Close implements [bus.Subscriber].
func (s *Subscriber) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.closed = true
	s.mu.Unlock()
	for _, list := range subs {
		for _, sub := range list {
			_ = sub.Close()
		}
	}
	return nil
}

// Subscription is a mock [bus.Subscription].
type Subscription struct {
	subject   string
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Next implements [bus.Subscription]. Buffered messages are delivered before
// a close is reported.
func (s *Subscription) Next(ctx context.Context) (bus.Message, error) {
	select {
	case data := <-s.ch:
		return bus.Message{Subject: s.subject, Data: data}, nil
	default:
	}
	select {
	case data := <-s.ch:
		return bus.Message{Subject: s.subject, Data: data}, nil
	case <-s.done:
		return bus.Message{}, bus.ErrClosed
	case <-ctx.Done():
		return bus.Message{}, ctx.Err()
	}
}

// Close implements [bus.Subscription].
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
