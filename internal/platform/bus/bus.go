// Package bus carries wallet events between services with at-least-once
// delivery. Consumers are expected to dedupe on Message.ID.
package bus

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("bus closed")

type Message struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	EventType  string `json:"eventType"`
	RoutingKey string `json:"routingKey"`
	// Key orders messages of one entity on partitioned transports.
	Key     string            `json:"key,omitempty"`
	Payload []byte            `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Publisher returns nil only once the transport has accepted the message.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Handler func(ctx context.Context, msg Message) error

// Memory is an in-process bus for local runs and tests. Publish delivers to
// every subscriber synchronously and fails if any of them fails.
type Memory struct {
	mu       sync.Mutex
	log      []Message
	handlers []Handler
	closed   bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Subscribe(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.log = append(m.log, msg)
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Messages returns everything published so far, duplicates included.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.log...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
