// Package config loads the order-gateway daemon configuration from
// command line flags and an optional YAML file. Connector-level knobs
// come from the environment (pkg/connector.LoadConfig); this file covers
// the process-level surface.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/erain9/batchingo/pkg/backend/standard"
	"github.com/erain9/batchingo/pkg/connector"
	"github.com/erain9/batchingo/pkg/stream"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		HTTPAddr  string `yaml:"http_addr"`
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"server"`

	// Dispatcher overrides the env-provided batching knobs when a field
	// is set in the YAML file. Zero values leave the env config alone.
	// Durations are strings ("250ms", "1s") since yaml.v3 has no native
	// duration decoding.
	Dispatcher struct {
		BatchSizeThreshold  int    `yaml:"batch_size_threshold"`
		BatchTimeout        string `yaml:"batch_timeout"`
		MaxQueueCapacity    int    `yaml:"max_queue_capacity"`
		DispatchTimeout     string `yaml:"dispatch_timeout"`
		Enabled             *bool  `yaml:"enabled"`
		DispatchConcurrency int    `yaml:"dispatch_concurrency"`
		FallbackConcurrency int    `yaml:"fallback_concurrency"`
	} `yaml:"dispatcher"`

	Backend struct {
		Driver     string `yaml:"driver"` // memory, evm, rest
		Domain     string `yaml:"domain"` // mainnet, testnet
		RPCURL     string `yaml:"rpc_url"`
		BaseURL    string `yaml:"base_url"`
		PrivateKey string `yaml:"private_key"`
		APIKey     string `yaml:"api_key"`
	} `yaml:"backend"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled    bool   `yaml:"enabled"`
		BrokerAddr string `yaml:"broker_addr"`
		Topic      string `yaml:"topic"`
		// Driver selects the producer: "sarama" (pooled, retrying) or
		// "kafka-go" (single fire-and-forget writer).
		Driver string `yaml:"driver"`
	} `yaml:"kafka"`

	Otel struct {
		Enabled      bool   `yaml:"enabled"`
		CollectorURL string `yaml:"collector_url"`
	} `yaml:"otel"`
}

// Default configuration values
var (
	configFile = flag.String("config", "", "Path to config file (YAML)")
	httpPort   = flag.Int("http_port", 8080, "The HTTP server port")
	logLevel   = flag.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log_format", "pretty", "Log format: json, pretty")
	driver     = flag.String("backend", "memory", "Backend driver: memory, evm, rest")
)

// LoadConfig loads the configuration from command line flags and optionally from a config file
func LoadConfig() (*Config, error) {
	flag.Parse()

	// Create default configuration
	config := &Config{}
	config.Server.HTTPAddr = fmt.Sprintf(":%d", *httpPort)
	config.Server.LogLevel = *logLevel
	config.Server.LogFormat = *logFormat
	config.Backend.Driver = *driver
	config.Redis.Addr = "localhost:6379"
	config.Kafka.BrokerAddr = "localhost:9092"
	config.Kafka.Topic = "order-events"
	config.Kafka.Driver = "sarama"
	config.Otel.CollectorURL = "localhost:4317"

	// Load configuration from file if specified
	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(yamlFile, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// Override Kafka configuration in package variables
		stream.SetBrokerList(config.Kafka.BrokerAddr)
		stream.SetTopic(config.Kafka.Topic)

		log.Printf("Loaded configuration from %s", *configFile)
	}

	switch config.Backend.Driver {
	case "memory", "evm", "rest":
	default:
		return nil, fmt.Errorf("unknown backend driver %q", config.Backend.Driver)
	}
	switch config.Backend.Domain {
	case "", "mainnet", "testnet":
	default:
		return nil, fmt.Errorf("unknown domain %q", config.Backend.Domain)
	}
	switch config.Kafka.Driver {
	case "", "sarama", "kafka-go":
	default:
		return nil, fmt.Errorf("unknown kafka driver %q", config.Kafka.Driver)
	}
	for name, raw := range map[string]string{
		"batch_timeout":    config.Dispatcher.BatchTimeout,
		"dispatch_timeout": config.Dispatcher.DispatchTimeout,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
	}

	return config, nil
}

// ApplyDispatcher folds the YAML dispatcher overrides onto a connector
// configuration. Unset fields keep the connector's own values.
func (c *Config) ApplyDispatcher(conn *connector.Config) {
	if c.Dispatcher.BatchSizeThreshold > 0 {
		conn.BatchSize = c.Dispatcher.BatchSizeThreshold
	}
	if d, err := time.ParseDuration(c.Dispatcher.BatchTimeout); err == nil && d > 0 {
		conn.BatchWindow = d
	}
	if c.Dispatcher.MaxQueueCapacity > 0 {
		conn.MaxPending = c.Dispatcher.MaxQueueCapacity
	}
	if d, err := time.ParseDuration(c.Dispatcher.DispatchTimeout); err == nil && d > 0 {
		conn.DispatchTimeout = d
	}
	if c.Dispatcher.Enabled != nil {
		conn.BatchingEnabled = *c.Dispatcher.Enabled
	}
	if c.Dispatcher.DispatchConcurrency > 0 {
		conn.Workers = c.Dispatcher.DispatchConcurrency
	}
	if c.Dispatcher.FallbackConcurrency > 0 {
		conn.FallbackLimit = c.Dispatcher.FallbackConcurrency
	}
	if c.Backend.Domain != "" {
		// Validated in LoadConfig, so the parse cannot fail here.
		if domain, err := standard.ParseDomain(c.Backend.Domain); err == nil {
			conn.Domain = domain
		}
	}
}
