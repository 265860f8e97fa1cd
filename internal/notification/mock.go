package notification

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MockSender records notifications for tests
type MockSender struct {
	mu       sync.RWMutex
	sent     []*Notification
	failures int
	failAll  bool
	calls    int
}

func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) Send(_ context.Context, n *Notification) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failAll {
		return "", errors.New("mock send failure")
	}
	if m.failures > 0 {
		m.failures--
		return "", errors.New("mock transient failure")
	}

	copied := *n
	m.sent = append(m.sent, &copied)
	if n.MessageID != "" {
		return n.MessageID, nil
	}
	return "mock-" + uuid.New().String(), nil
}

// SetFailOnSend makes every Send fail
func (m *MockSender) SetFailOnSend(fail bool) {
	m.mu.Lock()
	m.failAll = fail
	m.mu.Unlock()
}

// FailNext makes the next n Sends fail
func (m *MockSender) FailNext(n int) {
	m.mu.Lock()
	m.failures = n
	m.mu.Unlock()
}

// Calls returns the number of Send calls, failed ones included
func (m *MockSender) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// GetSentNotifications returns delivered notifications in order
func (m *MockSender) GetSentNotifications() []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
