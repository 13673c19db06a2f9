package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/batchingo/config"
	"github.com/erain9/batchingo/pkg/backend/standard"
	"github.com/erain9/batchingo/pkg/connector"
	"github.com/erain9/batchingo/pkg/gateway"
	"github.com/erain9/batchingo/pkg/state"
)

func TestBuildStoreDefaultsToMemory(t *testing.T) {
	cfg := &config.Config{}

	store, err := buildStore(cfg, zerolog.Nop())
	require.NoError(t, err)
	_, ok := store.(*state.MemoryStore)
	assert.True(t, ok)
}

func TestBuildEventSenderDisabled(t *testing.T) {
	cfg := &config.Config{}
	assert.Nil(t, buildEventSender(cfg, zerolog.Nop()))
}

func TestCreateConnectorMemoryDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Backend.Driver = "memory"

	connCfg := &connector.Config{
		Domain:          standard.Testnet,
		Account:         "0x00000000000000000000000000000000000000aa",
		Symbols:         []string{"STT-USDC"},
		MinOrderSize:    "0.01",
		MaxOrderSize:    "1000",
		BatchingEnabled: true,
		BatchSize:       2,
		BatchWindow:     50 * time.Millisecond,
		MaxPending:      16,
		DispatchTimeout: time.Second,
		Workers:         1,
		FallbackLimit:   4,
		BookInterval:    time.Hour,
		BalanceInterval: time.Hour,
		StatusInterval:  time.Hour,
		RulesInterval:   time.Hour,
		RequestTimeout:  time.Second,
	}

	manager := gateway.NewManager(gateway.ManagerOptions{})
	ctx := context.Background()
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Close(shutdownCtx)
	})

	info, err := createConnector(ctx, cfg, connCfg, manager, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "memory", info.Driver)
	assert.True(t, info.Batching)
}
