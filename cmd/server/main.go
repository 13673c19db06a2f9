package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.uber.org/zap"

	"github.com/erain9/batchingo/config"
	"github.com/erain9/batchingo/pkg/backend/evm"
	"github.com/erain9/batchingo/pkg/backend/rest"
	"github.com/erain9/batchingo/pkg/connector"
	"github.com/erain9/batchingo/pkg/gateway"
	"github.com/erain9/batchingo/pkg/logging"
	"github.com/erain9/batchingo/pkg/messaging"
	"github.com/erain9/batchingo/pkg/messaging/kafka"
	"github.com/erain9/batchingo/pkg/otel"
	"github.com/erain9/batchingo/pkg/state"
	"github.com/erain9/batchingo/pkg/stream"
)

func main() {
	// Environment file is optional; real deployments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Setup(logging.Config{
		Level:  cfg.Server.LogLevel,
		Pretty: cfg.Server.LogFormat == "pretty",
		File:   cfg.Server.LogFile,
	})
	logger := zlog.Logger

	connCfg, err := connector.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load connector configuration")
	}
	cfg.ApplyDispatcher(connCfg)

	if cfg.Otel.Enabled {
		cleanup, err := otel.Init(otel.Config{
			ServiceName:      otel.ServiceGateway,
			ServiceVersion:   "1.0.0",
			Endpoint:         cfg.Otel.CollectorURL,
			CollectorEnabled: true,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
		}
		defer cleanup()

		if err := otel.StartRuntimeMetrics(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start runtime metrics collection")
		}
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize state store")
	}

	events := buildEventSender(cfg, logger)

	manager := gateway.NewManager(gateway.ManagerOptions{
		Store:  store,
		Events: events,
		Logger: slog.Default(),
	})

	ctx := logger.WithContext(context.Background())
	info, err := createConnector(ctx, cfg, connCfg, manager, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create connector")
	}
	logger.Info().
		Str("account", info.Account).
		Str("driver", info.Driver).
		Bool("batching", info.Batching).
		Msg("Connector running")

	// Optional consumer that pretty prints published events during development.
	if cfg.Kafka.Enabled {
		if consumer, err := kafka.SetupConsumer(ctx, logger); err == nil && consumer != nil {
			defer consumer.Close()
		}
	}

	app := gateway.NewApp(manager)
	go func() {
		logger.Info().Str("addr", cfg.Server.HTTPAddr).Msg("Starting HTTP server")
		if err := app.Listen(cfg.Server.HTTPAddr); err != nil {
			logger.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Connector shutdown error")
	}
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("State store close error")
	}

	logger.Info().Msg("Server shutdown complete")
}

func buildStore(cfg *config.Config, logger zerolog.Logger) (state.Store, error) {
	if !cfg.Redis.Enabled {
		return state.NewMemoryStore(), nil
	}

	state.SetDefaultRedisOptions(&state.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	zapLogger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis state store")
	return state.NewRedisStore(state.GetRedisClient(), "batchingo", zapLogger), nil
}

func buildEventSender(cfg *config.Config, logger zerolog.Logger) messaging.EventSender {
	if !cfg.Kafka.Enabled {
		return nil
	}
	var (
		sender messaging.EventSender
		err    error
	)
	if cfg.Kafka.Driver == "kafka-go" {
		sender, err = kafka.NewKafkaEventSender(cfg.Kafka.BrokerAddr, cfg.Kafka.Topic)
	} else {
		sender, err = stream.NewPooledEventSender()
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Kafka unavailable, events disabled")
		return nil
	}
	logger.Info().
		Str("broker", cfg.Kafka.BrokerAddr).
		Str("driver", cfg.Kafka.Driver).
		Msg("Publishing order events to Kafka")
	return sender
}

func createConnector(ctx context.Context, cfg *config.Config, connCfg *connector.Config, manager *gateway.Manager, logger zerolog.Logger) (*gateway.ConnectorInfo, error) {
	switch cfg.Backend.Driver {
	case "evm":
		return manager.CreateEVMConnector(ctx, connCfg, evm.Config{
			Domain:     connCfg.Domain,
			PrivateKey: cfg.Backend.PrivateKey,
			RPCURL:     cfg.Backend.RPCURL,
		}, logger)
	case "rest":
		return manager.CreateRESTConnector(ctx, connCfg, rest.Config{
			Domain:  connCfg.Domain,
			BaseURL: cfg.Backend.BaseURL,
			APIKey:  cfg.Backend.APIKey,
			Timeout: connCfg.RequestTimeout,
		}, logger)
	default:
		return manager.CreateMemoryConnector(ctx, connCfg)
	}
}
