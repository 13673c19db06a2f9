package kafka

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/erain9/batchingo/pkg/messaging"
	"github.com/erain9/batchingo/pkg/stream"
)

// SetupConsumer initializes and starts the Kafka consumer for processing order events
func SetupConsumer(ctx context.Context, logger zerolog.Logger) (*stream.StreamEventConsumer, error) {
	consumer, err := stream.NewStreamEventConsumer()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create Kafka consumer - continuing without Kafka support")
		return nil, err
	}

	// Start Kafka consumer in a goroutine
	go func() {
		logger.Info().Msg("Starting Kafka consumer")
		err := consumer.ConsumeOrderEvents(func(event *messaging.OrderEvent) error {
			logger.Info().
				Str("type", string(event.Type)).
				Str("order_id", event.OrderID).
				Str("symbol", event.Symbol).
				Str("ref", event.Ref).
				Bool("batched", event.Batched).
				Int("batch_size", event.BatchSize).
				Str("reason", event.Reason).
				Msg("Received order event")
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Msg("Kafka consumer error")
		}
	}()

	return consumer, nil
}
