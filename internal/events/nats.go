package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriptionBuffer is how many undelivered messages a Subscription holds
// before it starts dropping.
const subscriptionBuffer = 64

// connect dials NATS with reconnects enabled forever. Caller options are
// applied after the defaults.
func connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name("flowcanvas"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes JSON-encoded events with the topic as subject.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}

// NATSSubscriber hands out Subscriptions on a single reconnecting
// connection.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to url. Extra options such as reconnect
// handlers are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe registers interest in topic and returns once the server has
// acknowledged it.
func (s *NATSSubscriber) Subscribe(topic string) (*Subscription, error) {
	sub := &Subscription{ch: make(chan Message, subscriptionBuffer)}
	ns, err := s.conn.Subscribe(topic, sub.deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	sub.sub = ns
	if err := s.conn.Flush(); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}
	return sub, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

// Subscription delivers messages on C until Close. Messages that arrive
// while the buffer is full are dropped and counted.
type Subscription struct {
	sub     *nats.Subscription
	ch      chan Message
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Message { return s.ch }

// Dropped reports how many messages were discarded on a full buffer.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- Message{Topic: msg.Subject, Data: msg.Data}:
	default:
		s.dropped.Add(1)
	}
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}
