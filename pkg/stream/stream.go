// Package stream publishes order events through Kafka using sarama.
// It is the durable event pipeline; the lighter kafka-go sender in
// pkg/messaging/kafka serves fire-and-forget setups.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/erain9/batchingo/pkg/messaging"
)

const maxRetry = 5

var (
	brokerList = "localhost:9092"
	topic      = "order-events"
)

// SetBrokerList overrides the default Kafka broker address
func SetBrokerList(brokers string) {
	brokerList = brokers
}

// SetTopic overrides the default Kafka topic
func SetTopic(t string) {
	topic = t
}

// newSyncProducer is swapped out in tests
var newSyncProducer = sarama.NewSyncProducer

// StreamEventSender implements the EventSender interface
// for sending order events to Kafka
type StreamEventSender struct {
	producer sarama.SyncProducer
}

// NewStreamEventSender creates a sender backed by a sync producer
func NewStreamEventSender() (*StreamEventSender, error) {
	config := sarama.NewConfig()
	config.Producer.Retry.Max = maxRetry
	config.Producer.Return.Successes = true

	producer, err := newSyncProducer([]string{brokerList}, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &StreamEventSender{producer: producer}, nil
}

// SendOrderEvent publishes the order event to the Kafka topic
func (s *StreamEventSender) SendOrderEvent(event *messaging.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send event to Kafka: %w", err)
	}

	return nil
}

// Close closes the underlying producer
func (s *StreamEventSender) Close() error {
	return s.producer.Close()
}

// Ensure StreamEventSender implements EventSender
var _ messaging.EventSender = (*StreamEventSender)(nil)

// StreamEventConsumer consumes order events from Kafka
type StreamEventConsumer struct {
	consumer sarama.Consumer
	done     chan struct{}
}

// NewStreamEventConsumer connects a consumer to the broker
func NewStreamEventConsumer() (*StreamEventConsumer, error) {
	consumer, err := sarama.NewConsumer([]string{brokerList}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &StreamEventConsumer{
		consumer: consumer,
		done:     make(chan struct{}),
	}, nil
}

// ConsumeOrderEvents reads events from the topic and hands each one to
// the handler. It blocks until Close is called.
func (c *StreamEventConsumer) ConsumeOrderEvents(handler func(*messaging.OrderEvent) error) error {
	partitionConsumer, err := c.consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	for {
		select {
		case msg, ok := <-partitionConsumer.Messages():
			if !ok {
				return nil
			}
			var event messaging.OrderEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal order event: %w", err)
			}
			if err := handler(&event); err != nil {
				return err
			}
		case cerr, ok := <-partitionConsumer.Errors():
			if !ok {
				return nil
			}
			return cerr
		case <-c.done:
			return nil
		}
	}
}

// Close stops consumption and closes the consumer
func (c *StreamEventConsumer) Close() error {
	close(c.done)
	return c.consumer.Close()
}
