// Package gateway exposes the connector over HTTP: a manager holding
// one connector per account, a fiber API, and a typed client.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/erain9/batchingo/pkg/backend/evm"
	"github.com/erain9/batchingo/pkg/backend/memory"
	"github.com/erain9/batchingo/pkg/backend/rest"
	"github.com/erain9/batchingo/pkg/connector"
	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/logging"
	"github.com/erain9/batchingo/pkg/messaging"
	"github.com/erain9/batchingo/pkg/state"
)

var (
	// ErrConnectorExists is returned when an account already has a connector
	ErrConnectorExists = errors.New("connector for this account already exists")

	// ErrConnectorNotFound is returned when an account has no connector
	ErrConnectorNotFound = errors.New("connector not found")
)

// ConnectorInfo contains metadata about a running connector
type ConnectorInfo struct {
	Account   string    `json:"account"`
	Driver    string    `json:"driver"`
	Symbols   []string  `json:"symbols"`
	Batching  bool      `json:"batching"`
	CreatedAt time.Time `json:"created_at"`
}

// ManagerOptions carries the shared collaborators every connector built
// by the manager uses. Zero values fall back to in-memory state and no
// event publishing.
type ManagerOptions struct {
	Store  state.Store
	Events messaging.EventSender
	Logger *slog.Logger
}

// Manager owns one connector per account and their lifecycles
type Manager struct {
	mu         sync.RWMutex
	connectors map[string]*connector.Connector
	info       map[string]*ConnectorInfo
	opts       ManagerOptions
}

// NewManager creates an empty connector manager
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		connectors: make(map[string]*connector.Connector),
		info:       make(map[string]*ConnectorInfo),
		opts:       opts,
	}
}

// CreateMemoryConnector starts a connector over the in-memory venue
// simulator. Used by examples and tests.
func (m *Manager) CreateMemoryConnector(ctx context.Context, cfg *connector.Config) (*ConnectorInfo, error) {
	return m.CreateMemoryConnectorWithBackend(ctx, cfg, memory.NewBackend())
}

// CreateMemoryConnectorWithBackend is CreateMemoryConnector with a
// caller-supplied simulator, letting tests steer venue behavior.
func (m *Manager) CreateMemoryConnectorWithBackend(ctx context.Context, cfg *connector.Config, backend *memory.Backend) (*ConnectorInfo, error) {
	return m.create(ctx, cfg, "memory", backend)
}

// CreateEVMConnector dials the configured chain and starts a connector
// that submits orders as exchange-contract transactions.
func (m *Manager) CreateEVMConnector(ctx context.Context, cfg *connector.Config, nodeCfg evm.Config, logger zerolog.Logger) (*ConnectorInfo, error) {
	client, err := evm.Dial(ctx, nodeCfg, logger)
	if err != nil {
		return nil, err
	}
	return m.create(ctx, cfg, "evm", client)
}

// CreateRESTConnector starts a connector over the indexer REST API
func (m *Manager) CreateRESTConnector(ctx context.Context, cfg *connector.Config, restCfg rest.Config, logger zerolog.Logger) (*ConnectorInfo, error) {
	client, err := rest.NewClient(restCfg, logger)
	if err != nil {
		return nil, err
	}
	return m.create(ctx, cfg, "rest", client)
}

func (m *Manager) create(ctx context.Context, cfg *connector.Config, driver string, backend core.OrderSubmitter) (*ConnectorInfo, error) {
	logger := logging.FromContext(ctx).With().Str("account", cfg.Account).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.connectors[cfg.Account]; exists {
		logger.Error().Msg("Connector already exists")
		return nil, ErrConnectorExists
	}

	conn, err := connector.New(cfg, backend, m.opts.Store, m.opts.Events, m.opts.Logger)
	if err != nil {
		return nil, err
	}
	if err := conn.Start(ctx); err != nil {
		return nil, err
	}

	m.connectors[cfg.Account] = conn
	info := &ConnectorInfo{
		Account:   cfg.Account,
		Driver:    driver,
		Symbols:   cfg.Symbols,
		Batching:  cfg.BatchingEnabled,
		CreatedAt: time.Now(),
	}
	m.info[cfg.Account] = info

	logger.Info().Str("driver", driver).Msg("Created new connector")
	return info, nil
}

// Connector retrieves a running connector by account
func (m *Manager) Connector(account string) (*connector.Connector, *ConnectorInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, exists := m.connectors[account]
	if !exists {
		return nil, nil, ErrConnectorNotFound
	}
	return conn, m.info[account], nil
}

// First returns any running connector. Single-account deployments use
// it so callers do not have to repeat the account on every request.
func (m *Manager) First() (*connector.Connector, *ConnectorInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for account, conn := range m.connectors {
		return conn, m.info[account], nil
	}
	return nil, nil, ErrConnectorNotFound
}

// RemoveConnector stops and removes an account's connector
func (m *Manager) RemoveConnector(ctx context.Context, account string) error {
	logger := logging.FromContext(ctx).With().Str("account", account).Logger()

	m.mu.Lock()
	conn, exists := m.connectors[account]
	if exists {
		delete(m.connectors, account)
		delete(m.info, account)
	}
	m.mu.Unlock()

	if !exists {
		logger.Debug().Msg("Connector not found")
		return ErrConnectorNotFound
	}

	if err := conn.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Connector stop failed")
		return err
	}
	logger.Info().Msg("Removed connector")
	return nil
}

// List returns information about all running connectors
func (m *Manager) List() []*ConnectorInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ConnectorInfo, 0, len(m.info))
	for _, info := range m.info {
		result = append(result, info)
	}
	return result
}

// Close stops every connector. The context bounds the total shutdown.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	connectors := m.connectors
	m.connectors = make(map[string]*connector.Connector)
	m.info = make(map[string]*ConnectorInfo)
	m.mu.Unlock()

	logger := logging.FromContext(ctx)

	var lastErr error
	for account, conn := range connectors {
		if err := conn.Stop(ctx); err != nil {
			logger.Error().
				Err(err).
				Str("account", account).
				Msg("Connector stop failed during shutdown")
			lastErr = err
		}
	}
	return lastErr
}
