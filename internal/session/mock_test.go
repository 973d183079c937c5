package session

import (
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
)

const testKey = "c2VjcmV0LWtleS1mb3ItdGVzdHM="

type published struct {
	topic   string
	payload []byte
}

// MockConn is a test double for the hub transport.
type MockConn struct {
	mu           sync.Mutex
	published    []published
	handlers     map[string]mqtt.MessageHandler
	onDisconnect func(error)
	closed       bool

	PublishErr   error
	SubscribeErr error

	// Responder, if set, is called after each successful publish and
	// may simulate hub replies.
	Responder func(m *MockConn, topic string, payload []byte)
}

func NewMockConn() *MockConn {
	return &MockConn{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockConn) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	if m.PublishErr != nil {
		m.mu.Unlock()
		return m.PublishErr
	}
	m.published = append(m.published, published{topic: topic, payload: append([]byte(nil), payload...)})
	responder := m.Responder
	m.mu.Unlock()

	if responder != nil {
		responder(m, topic, payload)
	}
	return nil
}

func (m *MockConn) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubscribeErr != nil {
		return m.SubscribeErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *MockConn) SetOnDisconnect(callback func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = callback
}

func (m *MockConn) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SimulateMessage delivers an inbound message to the handler whose
// filter matches topic. Only trailing '#' filters are supported.
func (m *MockConn) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range m.handlers {
		if filter == topic || (strings.HasSuffix(filter, "#") && strings.HasPrefix(topic, strings.TrimSuffix(filter, "#"))) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		return nil
	}
	return handler(topic, payload)
}

// SimulateDisconnect fires the connection-lost callback.
func (m *MockConn) SimulateDisconnect(err error) {
	m.mu.Lock()
	cb := m.onDisconnect
	m.closed = true
	m.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (m *MockConn) Published() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

func (m *MockConn) Subscribed(filter string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[filter]
	return ok
}

// ridOf extracts the $rid query value from a request topic.
func ridOf(topic string) string {
	_, query, _ := strings.Cut(topic, "?")
	for _, kv := range strings.Split(query, "&") {
		if v, ok := strings.CutPrefix(kv, "$rid="); ok {
			return v
		}
	}
	return ""
}
