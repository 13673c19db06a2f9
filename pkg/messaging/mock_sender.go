package messaging

import "sync"

// MockEventSender records events in memory for testing.
type MockEventSender struct {
	mu     sync.Mutex
	events []*OrderEvent
}

// NewMockEventSender creates a new MockEventSender.
func NewMockEventSender() *MockEventSender {
	return &MockEventSender{}
}

// SendOrderEvent records the event.
func (m *MockEventSender) SendOrderEvent(event *OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *MockEventSender) Events() []*OrderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*OrderEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Close does nothing.
func (m *MockEventSender) Close() error {
	return nil
}

// Ensure MockEventSender implements EventSender
var _ EventSender = (*MockEventSender)(nil)
