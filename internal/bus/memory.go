// ABOUTME: In-process Bus with fan-out subscriptions, capped lists and hashes.
// ABOUTME: Used by tests and single-node deployments that run without NATS.

package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

type memorySub struct {
	ch chan []byte
}

// Memory is an in-process Bus. Delivery is asynchronous and non-blocking:
// messages are dropped for subscribers whose buffers are full.
type Memory struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*memorySub // topic -> subID -> sub
	lists       map[string][]string
	hashes      map[string]map[string]string
	closed      bool
	logger      *slog.Logger
}

// NewMemory creates an in-process bus. Pass nil logger for default.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		subscribers: make(map[string]map[string]*memorySub),
		lists:       make(map[string][]string),
		hashes:      make(map[string]map[string]string),
		logger:      logger.With("component", "bus", "driver", "memory"),
	}
}

// Publish implements Bus.
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	subs := m.subscribers[topic]
	targets := make([]*memorySub, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block.
	for _, s := range targets {
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
			m.logger.Debug("dropped message for slow subscriber", "topic", topic)
		}
	}
	m.mu.RUnlock()
	return nil
}

// Subscribe implements Bus. The subscription is removed when ctx is done.
func (m *Memory) Subscribe(ctx context.Context, topic string, handler Handler) error {
	subID := uuid.New().String()
	sub := &memorySub{ch: make(chan []byte, subscriberBufferSize)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.subscribers[topic]; !ok {
		m.subscribers[topic] = make(map[string]*memorySub)
	}
	m.subscribers[topic][subID] = sub
	m.mu.Unlock()

	m.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		for payload := range sub.ch {
			handler(ctx, payload)
		}
	}()

	go func() {
		<-ctx.Done()
		m.unsubscribe(topic, subID)
	}()

	return nil
}

// unsubscribe removes a subscription and closes its channel.
func (m *Memory) unsubscribe(topic, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.subscribers[topic]
	if !ok {
		return
	}
	sub, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(sub.ch)

	if len(subs) == 0 {
		delete(m.subscribers, topic)
	}
}

// PushCapped implements Bus.
func (m *Memory) PushCapped(ctx context.Context, key, value string, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.lists[key] = pushCapped(m.lists[key], value, max)
	return nil
}

// History implements Bus.
func (m *Memory) History(ctx context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.lists[key]
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

// SetField implements Bus.
func (m *Memory) SetField(ctx context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

// Field implements Bus.
func (m *Memory) Field(ctx context.Context, key, field string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.hashes[key][field]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// Ping implements Bus.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close shuts down the bus and closes all subscriptions.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subs := range m.subscribers {
		for subID, sub := range subs {
			close(sub.ch)
			delete(subs, subID)
		}
		delete(m.subscribers, topic)
	}
	m.logger.Debug("bus closed")
	return nil
}

// pushCapped prepends value and trims the list to max entries.
func pushCapped(list []string, value string, max int) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, value)
	out = append(out, list...)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
