package messaging

import "time"

// EventSender defines an interface for publishing order events
// This helps decouple the connector from specific implementations
// like Kafka in the stream package
type EventSender interface {
	SendOrderEvent(event *OrderEvent) error
}

// EventType classifies an order lifecycle event
type EventType string

// Event types
const (
	EventSubmitted    EventType = "SUBMITTED"
	EventFailed       EventType = "FAILED"
	EventCanceled     EventType = "CANCELED"
	EventBatchFlushed EventType = "BATCH_FLUSHED"
)

// OrderEvent represents one order lifecycle transition published to
// downstream consumers.
type OrderEvent struct {
	Type      EventType `json:"type"`
	OrderID   string    `json:"order_id,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	Error     string    `json:"error,omitempty"`
	Batched   bool      `json:"batched"`
	BatchSize int       `json:"batch_size,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
