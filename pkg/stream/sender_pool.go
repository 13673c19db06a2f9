package stream

import (
	"fmt"
	"sync"

	"github.com/erain9/batchingo/pkg/messaging"
)

var (
	senderPool   chan messaging.EventSender
	poolInitOnce sync.Once
	maxPoolSize  = 32
)

// initSenderPool initializes the sender pool
func initSenderPool() {
	poolInitOnce.Do(func() {
		senderPool = make(chan messaging.EventSender, maxPoolSize)
		// Pre-populate the entire pool
		for i := 0; i < maxPoolSize; i++ {
			sender, err := NewStreamEventSender()
			if err != nil {
				fmt.Printf("Error creating sender: %v\n", err)
				continue
			}
			if sender != nil {
				senderPool <- sender
			}
		}
	})
}

// GetSender gets a sender from the pool
func GetSender() messaging.EventSender {
	initSenderPool()

	select {
	case sender := <-senderPool:
		return sender
	default:
		fmt.Printf("Warning: sender pool is empty\n")
		return nil
	}
}

// ReturnSender returns a sender to the pool
func ReturnSender(sender messaging.EventSender) {
	if sender == nil {
		return
	}

	select {
	case senderPool <- sender:
		// Successfully returned to pool
	default:
		fmt.Printf("Warning: sender pool is full\n")
		if closer, ok := sender.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
}

// SendEvent publishes an event using a pooled sender
func SendEvent(event *messaging.OrderEvent) error {
	sender := GetSender()
	if sender == nil {
		return fmt.Errorf("failed to get event sender from pool")
	}

	if err := sender.SendOrderEvent(event); err != nil {
		fmt.Printf("Error sending event: %v\n", err)
		// Connection may be broken; do not return this sender to the pool
		if closer, ok := sender.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return err
	}

	ReturnSender(sender)
	return nil
}

// PooledEventSender is an EventSender that borrows a producer from the
// pool for every publish, so one slow broker connection never serializes
// all event traffic.
type PooledEventSender struct{}

// NewPooledEventSender verifies the broker is reachable and returns a
// pool-backed sender. The pool itself fills lazily on first use.
func NewPooledEventSender() (*PooledEventSender, error) {
	probe, err := NewStreamEventSender()
	if err != nil {
		return nil, err
	}
	_ = probe.Close()
	return &PooledEventSender{}, nil
}

// SendOrderEvent publishes the event through a pooled producer
func (p *PooledEventSender) SendOrderEvent(event *messaging.OrderEvent) error {
	return SendEvent(event)
}

// Close drains and closes every pooled producer
func (p *PooledEventSender) Close() error {
	if senderPool == nil {
		return nil
	}
	for {
		select {
		case sender := <-senderPool:
			if closer, ok := sender.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		default:
			return nil
		}
	}
}

var _ messaging.EventSender = (*PooledEventSender)(nil)
