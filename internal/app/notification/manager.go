// Package notification provides the notification manager for broadcasting
// player updates to subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// SendTimeout bounds a single stream send.
const SendTimeout = 500 * time.Millisecond

// Notification is a sequenced message delivered to subscribers.
type Notification[T any] struct {
	Type       string `json:"type"`
	SequenceNo uint64 `json:"sequence_no"`
	Payload    T      `json:"payload"`
}

// Stream represents a notification stream for a subscriber.
type Stream[T any] interface {
	Send(*Notification[T]) error
}

// subscription represents a subscriber's subscription.
type subscription[T any] struct {
	id     string
	stream Stream[T]
}

// Manager manages notification subscriptions and broadcasting.
type Manager[T any] struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription[T]
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager[T any]() *Manager[T] {
	return &Manager[T]{
		subscriptions: make(map[string]*subscription[T]),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager[T]) Subscribe(stream Stream[T]) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription[T]{
		id:     id,
		stream: stream,
	}
	zlog.Debug().Msgf("notification: subscribed: id=%s", id)
	return id
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager[T]) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Unsubscribe removes a subscription.
func (m *Manager[T]) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast sends a notification to all subscribers.
// Each stream send runs in its own goroutine with a timeout; a subscriber
// whose send fails is dropped.
func (m *Manager[T]) Broadcast(typ string, payload T) {
	n := &Notification[T]{
		Type:       typ,
		SequenceNo: m.NextSequenceNo(),
		Payload:    payload,
	}

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription[T], 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription[T]) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification: send failed, dropping subscriber: id=%s err=%v", s.id, err)
					m.Unsubscribe(s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: id=%s seq=%d", s.id, n.SequenceNo)
			}
		}(sub)
	}

	// Wait for all sends to complete or timeout
	wg.Wait()
}

// Send sends a notification to a specific subscriber.
func (m *Manager[T]) Send(subscriptionID, typ string, payload T) error {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	return sub.stream.Send(&Notification[T]{
		Type:       typ,
		SequenceNo: m.NextSequenceNo(),
		Payload:    payload,
	})
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager[T]) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription[T])
}
