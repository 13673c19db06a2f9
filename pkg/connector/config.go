package connector

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/erain9/batchingo/pkg/backend/standard"
)

// Config holds all configuration for the exchange connector
type Config struct {
	// Deployment settings
	Domain  standard.Domain
	Account string

	// Trading settings
	Symbols         []string // e.g., ["STT-USDC"]
	MinOrderSize    string   // Decimal string for precise quantity
	MaxOrderSize    string
	SlippagePercent float64 // market-to-limit conversion buffer

	// Batching parameters
	BatchingEnabled bool
	BatchSize       int
	BatchWindow     time.Duration
	MaxPending      int
	DispatchTimeout time.Duration
	Workers         int
	FallbackLimit   int

	// Polling intervals
	BookInterval    time.Duration
	BalanceInterval time.Duration
	StatusInterval  time.Duration
	RulesInterval   time.Duration

	// Request settings
	RequestTimeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("STANDARD_DOMAIN", string(standard.DefaultDomain))
	v.SetDefault("ACCOUNT_ADDRESS", "")
	v.SetDefault("TRADING_SYMBOLS", "SOMI-USDC")
	v.SetDefault("MIN_ORDER_SIZE", standard.MinOrderSize)
	v.SetDefault("MAX_ORDER_SIZE", standard.MaxOrderSize)
	v.SetDefault("SLIPPAGE_PERCENT", 0.3)
	v.SetDefault("BATCHING_ENABLED", true)
	v.SetDefault("BATCH_SIZE", 10)
	v.SetDefault("BATCH_WINDOW_MS", 200)
	v.SetDefault("MAX_PENDING", 1000)
	v.SetDefault("DISPATCH_TIMEOUT_SECONDS", 30)
	v.SetDefault("DISPATCH_WORKERS", 1)
	v.SetDefault("FALLBACK_LIMIT", 4)
	v.SetDefault("BOOK_INTERVAL_SECONDS", int(standard.OrderBookInterval.Seconds()))
	v.SetDefault("BALANCE_INTERVAL_SECONDS", int(standard.BalancesInterval.Seconds()))
	v.SetDefault("STATUS_INTERVAL_SECONDS", int(standard.OrderStatusInterval.Seconds()))
	v.SetDefault("RULES_INTERVAL_SECONDS", int(standard.TradingRulesInterval.Seconds()))
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 5)

	// Allow environment variables
	v.AutomaticEnv()

	domain, err := standard.ParseDomain(v.GetString("STANDARD_DOMAIN"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Domain:          domain,
		Account:         v.GetString("ACCOUNT_ADDRESS"),
		Symbols:         splitSymbols(v.GetString("TRADING_SYMBOLS")),
		MinOrderSize:    v.GetString("MIN_ORDER_SIZE"),
		MaxOrderSize:    v.GetString("MAX_ORDER_SIZE"),
		SlippagePercent: v.GetFloat64("SLIPPAGE_PERCENT"),
		BatchingEnabled: v.GetBool("BATCHING_ENABLED"),
		BatchSize:       v.GetInt("BATCH_SIZE"),
		BatchWindow:     time.Duration(v.GetInt("BATCH_WINDOW_MS")) * time.Millisecond,
		MaxPending:      v.GetInt("MAX_PENDING"),
		DispatchTimeout: time.Duration(v.GetInt("DISPATCH_TIMEOUT_SECONDS")) * time.Second,
		Workers:         v.GetInt("DISPATCH_WORKERS"),
		FallbackLimit:   v.GetInt("FALLBACK_LIMIT"),
		BookInterval:    time.Duration(v.GetInt("BOOK_INTERVAL_SECONDS")) * time.Second,
		BalanceInterval: time.Duration(v.GetInt("BALANCE_INTERVAL_SECONDS")) * time.Second,
		StatusInterval:  time.Duration(v.GetInt("STATUS_INTERVAL_SECONDS")) * time.Second,
		RulesInterval:   time.Duration(v.GetInt("RULES_INTERVAL_SECONDS")) * time.Second,
		RequestTimeout:  time.Duration(v.GetInt("REQUEST_TIMEOUT_SECONDS")) * time.Second,
	}

	// Validate configuration
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("TRADING_SYMBOLS must not be empty")
	}
	for _, symbol := range cfg.Symbols {
		if _, _, err := standard.SplitPair(symbol); err != nil {
			return err
		}
	}
	if cfg.MinOrderSize == "" {
		return fmt.Errorf("MIN_ORDER_SIZE must not be empty")
	}
	if cfg.MaxOrderSize == "" {
		return fmt.Errorf("MAX_ORDER_SIZE must not be empty")
	}
	if cfg.SlippagePercent < 0 {
		return fmt.Errorf("SLIPPAGE_PERCENT must not be negative")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if cfg.BatchWindow <= 0 {
		return fmt.Errorf("BATCH_WINDOW_MS must be positive")
	}
	if cfg.MaxPending <= 0 {
		return fmt.Errorf("MAX_PENDING must be positive")
	}
	if cfg.DispatchTimeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT_SECONDS must be positive")
	}
	if cfg.BalanceInterval <= 0 || cfg.StatusInterval <= 0 || cfg.RulesInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	return nil
}
