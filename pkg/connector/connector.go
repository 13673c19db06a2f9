// Package connector ties the batching dispatcher to a Standard exchange
// backend: it validates and prices incoming orders, persists their
// lifecycle, keeps balances and statuses fresh, and publishes events.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/erain9/batchingo/pkg/backend/standard"
	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/dispatch"
	"github.com/erain9/batchingo/pkg/marketdata"
	"github.com/erain9/batchingo/pkg/messaging"
	"github.com/erain9/batchingo/pkg/otel"
	"github.com/erain9/batchingo/pkg/perf"
	"github.com/erain9/batchingo/pkg/state"
)

// RefSeparator joins a submission reference and an order ID into the
// exchange order ID handed back to callers.
const RefSeparator = ":"

// TradingRules captures per-symbol order constraints
type TradingRules struct {
	Symbol       string
	MinOrderSize fpdecimal.Decimal
	MaxOrderSize fpdecimal.Decimal
	TradingFee   fpdecimal.Decimal
}

// Connector is the order entry point for one account. It owns the
// dispatcher, the state store, and the polling loops.
type Connector struct {
	cfg        *Config
	logger     *slog.Logger
	backend    core.OrderSubmitter
	canceler   core.OrderCanceler // nil when the backend cannot cancel
	statuses   StatusSource       // nil when the backend cannot report status
	balances   BalanceSource      // nil when the backend cannot report balances
	dispatcher *dispatch.Dispatcher
	store      state.Store
	poller     *marketdata.Poller
	tracker    *perf.Tracker
	reporter   *perf.Reporter
	events     messaging.EventSender // nil disables event publishing

	rulesMu sync.RWMutex
	rules   map[string]TradingRules

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New creates a connector over the backend. Optional backend
// capabilities (cancel, status, balances, order book) are detected here
// by type assertion, the same way the dispatcher detects batch support.
func New(cfg *Config, backend core.OrderSubmitter, store state.Store, events messaging.EventSender, logger *slog.Logger) (*Connector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", core.ErrInvalidArgument)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", core.ErrInvalidArgument)
	}
	if store == nil {
		store = state.NewMemoryStore()
	}

	d, err := dispatch.New(backend, dispatch.Options{
		SizeThreshold:   cfg.BatchSize,
		Timeout:         cfg.BatchWindow,
		Capacity:        cfg.MaxPending,
		DispatchTimeout: cfg.DispatchTimeout,
		Workers:         cfg.Workers,
		FallbackLimit:   cfg.FallbackLimit,
		Enabled:         cfg.BatchingEnabled,
		Logger:          zlog.Logger,
		Observer:        otel.NewDispatchObserver(),
	})
	if err != nil {
		return nil, err
	}

	c := &Connector{
		cfg:        cfg,
		logger:     logger.With("component", "Connector"),
		backend:    backend,
		dispatcher: d,
		store:      store,
		tracker:    d.Tracker(),
		events:     events,
		rules:      make(map[string]TradingRules),
		stopCh:     make(chan struct{}),
	}
	c.canceler, _ = backend.(core.OrderCanceler)
	c.statuses, _ = backend.(StatusSource)
	c.balances, _ = backend.(BalanceSource)

	if source, ok := backend.(marketdata.BookSource); ok {
		c.poller = marketdata.NewPoller(source, cfg.Symbols, cfg.BookInterval, zlog.Logger)
	}
	c.reporter = perf.NewReporter(c.tracker, 5*time.Minute, zlog.Logger)

	if err := c.refreshRules(); err != nil {
		return nil, err
	}
	return c, nil
}

// Start launches the dispatcher, book poller, and polling loops
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("connector already started")
	}
	c.started = true

	c.logger.Info("Starting connector",
		"domain", string(c.cfg.Domain),
		"symbols", strings.Join(c.cfg.Symbols, ","),
		"batching", c.cfg.BatchingEnabled)

	if err := c.dispatcher.Start(); err != nil {
		return err
	}
	if c.poller != nil {
		if err := c.poller.Start(ctx); err != nil {
			c.logger.Error("Book poller failed to start", "error", err)
		}
	}
	if err := c.reporter.Start(); err != nil {
		c.logger.Error("Performance reporter failed to start", "error", err)
	}

	c.wg.Add(3)
	go c.balanceLoop(ctx)
	go c.statusLoop(ctx)
	go c.rulesLoop(ctx)

	return nil
}

// Stop gracefully shuts down the connector. Queued orders are flushed by
// the dispatcher before it stops.
func (c *Connector) Stop(ctx context.Context) error {
	c.logger.Info("Stopping connector")

	close(c.stopCh)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for connector loops to stop: %w", ctx.Err())
	}

	if c.poller != nil {
		c.poller.Stop()
	}
	c.reporter.Stop()

	if err := c.dispatcher.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop dispatcher: %w", err)
	}

	c.logger.Info("Connector stopped successfully")
	return nil
}

// SubmitOrder validates, prices, and submits one order through the
// batching dispatcher. It blocks until the request's batch is dispatched
// and returns the exchange order ID "<ref>:<orderID>".
func (c *Connector) SubmitOrder(ctx context.Context, req *core.OrderRequest) (string, error) {
	span := c.tracker.StartSpan("connector.submit_order")
	defer span.End()

	if err := c.validateOrder(req); err != nil {
		return "", err
	}

	ctx, traceSpan := otel.StartDispatchSpan(ctx, otel.SpanSubmitOrder,
		attribute.String(otel.AttributeOrderID, req.ID()),
		attribute.String(otel.AttributeOrderSymbol, req.Symbol()),
		attribute.String(otel.AttributeOrderSide, req.Side().String()),
	)
	if traceSpan != nil {
		defer traceSpan.End()
	}

	req, err := c.priceMarketOrder(req)
	if err != nil {
		return "", err
	}

	rec := state.NewOrderRecord(req)
	rec.Batched = c.dispatcher.Batched()
	if err := c.store.SaveOrder(ctx, rec); err != nil {
		if errors.Is(err, state.ErrDuplicateOrder) {
			return "", fmt.Errorf("%w: %s", core.ErrDuplicateRequest, req.ID())
		}
		return "", err
	}

	handle, err := c.dispatcher.Submit(ctx, req)
	if err != nil {
		c.failOrder(ctx, req, err)
		return "", err
	}

	ref, err := handle.Wait(ctx)
	if err != nil {
		if errors.Is(err, core.ErrRequestCanceled) {
			// CancelOrder already records the cancellation and emits the event.
			_ = c.store.SetStatus(ctx, req.ID(), core.StatusCanceled)
		} else {
			c.failOrder(ctx, req, err)
		}
		return "", err
	}

	if err := c.store.BindRef(ctx, req.ID(), ref); err != nil {
		c.logger.Error("Failed to bind submission ref", "order_id", req.ID(), "error", err)
	}
	if err := c.store.SetStatus(ctx, req.ID(), core.StatusSubmitted); err != nil {
		c.logger.Error("Failed to update order status", "order_id", req.ID(), "error", err)
	}
	if err := c.store.AddPendingTx(ctx, ref, []string{req.ID()}); err != nil {
		c.logger.Error("Failed to record pending tx", "ref", ref, "error", err)
	}

	c.emit(&messaging.OrderEvent{
		Type:    messaging.EventSubmitted,
		OrderID: req.ID(),
		Symbol:  req.Symbol(),
		Ref:     ref,
		Batched: c.dispatcher.Batched(),
		At:      time.Now(),
	})

	c.logger.Debug("Order submitted",
		"order_id", req.ID(),
		"symbol", req.Symbol(),
		"ref", ref)
	return ref + RefSeparator + req.ID(), nil
}

// CancelOrder cancels an order by its exchange ID ("<ref>:<orderID>") or
// bare order ID. An order still waiting in the batch queue is removed
// locally; a submitted order is canceled on the venue.
func (c *Connector) CancelOrder(ctx context.Context, symbol, exchangeID string) error {
	span := c.tracker.StartSpan("connector.cancel_order")
	defer span.End()

	ctx, traceSpan := otel.StartDispatchSpan(ctx, otel.SpanCancelOrder,
		attribute.String(otel.AttributeOrderSymbol, symbol),
	)
	if traceSpan != nil {
		defer traceSpan.End()
	}

	ref, orderID := SplitExchangeID(exchangeID)

	// Still queued: cancel locally before it reaches the chain.
	if c.dispatcher.Cancel(orderID) {
		_ = c.store.SetStatus(ctx, orderID, core.StatusCanceled)
		c.emit(&messaging.OrderEvent{
			Type:    messaging.EventCanceled,
			OrderID: orderID,
			Symbol:  symbol,
			At:      time.Now(),
		})
		c.logger.Debug("Order canceled before dispatch", "order_id", orderID)
		return nil
	}

	rec, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrUnknownOrder, orderID)
	}
	if rec.Status.Terminal() {
		// Nothing to do; cancellation of a settled order is a no-op.
		return nil
	}
	if ref == "" {
		ref = rec.Ref
	}
	if ref == "" {
		return fmt.Errorf("%w: order %s has no submission reference yet", core.ErrUnknownOrder, orderID)
	}

	if c.canceler == nil {
		return core.ErrCancelUnsupported
	}
	if err := c.canceler.CancelOrder(ctx, symbol, ref); err != nil {
		return err
	}

	if err := c.store.SetStatus(ctx, orderID, core.StatusCanceled); err != nil {
		c.logger.Error("Failed to mark order canceled", "order_id", orderID, "error", err)
	}
	c.emit(&messaging.OrderEvent{
		Type:    messaging.EventCanceled,
		OrderID: orderID,
		Symbol:  symbol,
		Ref:     ref,
		At:      time.Now(),
	})
	return nil
}

// CancelAll cancels every non-terminal order of the configured account
func (c *Connector) CancelAll(ctx context.Context) error {
	open, err := c.store.OpenOrders(ctx, c.cfg.Account)
	if err != nil {
		return err
	}

	var lastErr error
	for _, rec := range open {
		if err := c.CancelOrder(ctx, rec.Symbol, rec.ID); err != nil {
			c.logger.Error("Failed to cancel order",
				"order_id", rec.ID,
				"error", err)
			lastErr = err
			// Continue canceling other orders even if one fails
		}
	}
	return lastErr
}

// OrderStatus returns the current status of an order, refreshing from
// the venue when the backend supports status queries.
func (c *Connector) OrderStatus(ctx context.Context, exchangeID string) (core.OrderStatus, error) {
	_, orderID := SplitExchangeID(exchangeID)

	rec, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", core.ErrUnknownOrder, orderID)
	}

	if rec.Status.Terminal() || c.statuses == nil || rec.Ref == "" {
		return rec.Status, nil
	}

	status, err := c.statuses.RefStatus(ctx, rec.Ref)
	if err != nil {
		c.logger.Warn("Status refresh failed, returning cached status",
			"order_id", orderID, "error", err)
		return rec.Status, nil
	}
	if status != rec.Status {
		if err := c.store.SetStatus(ctx, orderID, status); err != nil {
			c.logger.Error("Failed to persist refreshed status", "order_id", orderID, "error", err)
		}
	}
	return status, nil
}

// Balances returns the account's balances from the cache, falling back
// to a live query when nothing has been cached yet.
func (c *Connector) Balances(ctx context.Context) (map[string]fpdecimal.Decimal, error) {
	cached, err := c.store.Balances(ctx, c.cfg.Account)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}
	if c.balances == nil {
		return map[string]fpdecimal.Decimal{}, nil
	}

	live, err := c.balances.Balances(ctx, c.cfg.Account)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetBalances(ctx, c.cfg.Account, live); err != nil {
		c.logger.Error("Failed to cache balances", "error", err)
	}
	return live, nil
}

// Book returns the latest polled order book for a symbol
func (c *Connector) Book(symbol string) *marketdata.Book {
	if c.poller == nil {
		return nil
	}
	return c.poller.Book(symbol)
}

// Rules returns the trading rules for a symbol
func (c *Connector) Rules(symbol string) (TradingRules, bool) {
	c.rulesMu.RLock()
	defer c.rulesMu.RUnlock()
	rules, ok := c.rules[symbol]
	return rules, ok
}

// Pending reports how many requests are waiting in the batch queue
func (c *Connector) Pending() int {
	return c.dispatcher.Pending()
}

// PerformanceReport returns per-operation latency summaries
func (c *Connector) PerformanceReport() []perf.Summary {
	return c.tracker.Summarize()
}

// RecentSpans returns the most recent timing spans
func (c *Connector) RecentSpans() []perf.SpanRecord {
	return c.tracker.RecentSpans()
}

// SplitExchangeID breaks "<ref>:<orderID>" into its parts. A bare order
// ID yields an empty ref.
func SplitExchangeID(exchangeID string) (ref, orderID string) {
	if i := strings.LastIndex(exchangeID, RefSeparator); i >= 0 {
		return exchangeID[:i], exchangeID[i+1:]
	}
	return "", exchangeID
}

func (c *Connector) validateOrder(req *core.OrderRequest) error {
	rules, ok := c.Rules(req.Symbol())
	if !ok {
		return fmt.Errorf("%w: symbol %q is not configured", core.ErrInvalidArgument, req.Symbol())
	}
	if req.Quantity().LessThan(rules.MinOrderSize) {
		return fmt.Errorf("%w: %s below minimum %s", core.ErrInvalidQuantity,
			req.Quantity(), rules.MinOrderSize)
	}
	if req.Quantity().GreaterThan(rules.MaxOrderSize) {
		return fmt.Errorf("%w: %s above maximum %s", core.ErrInvalidQuantity,
			req.Quantity(), rules.MaxOrderSize)
	}
	return nil
}

// priceMarketOrder converts a market order into an aggressive limit
// order using the current book plus a slippage buffer. Without a book
// the order passes through unchanged.
func (c *Connector) priceMarketOrder(req *core.OrderRequest) (*core.OrderRequest, error) {
	if !req.IsMarket() || c.poller == nil {
		return req, nil
	}
	book := c.poller.Book(req.Symbol())
	if book == nil {
		return req, nil
	}

	price, ok := book.PriceForQuantity(req.Side(), req.Quantity())
	if !ok {
		c.logger.Warn("Book too thin to price market order, passing through",
			"order_id", req.ID(), "symbol", req.Symbol())
		return req, nil
	}

	buffer := c.cfg.SlippagePercent / 100
	if req.Side() == core.Buy {
		price = price.Mul(fpdecimal.FromFloat(1 + buffer))
	} else {
		price = price.Mul(fpdecimal.FromFloat(1 - buffer))
	}

	limit, err := core.NewLimitRequest(req.ID(), req.Symbol(), req.Side(), req.Quantity(), price, req.Account())
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Market order priced as limit",
		"order_id", req.ID(),
		"symbol", req.Symbol(),
		"price", price.String())
	return limit, nil
}

func (c *Connector) failOrder(ctx context.Context, req *core.OrderRequest, cause error) {
	if err := c.store.SetStatus(ctx, req.ID(), core.StatusFailed); err != nil {
		c.logger.Error("Failed to mark order failed", "order_id", req.ID(), "error", err)
	}
	c.emit(&messaging.OrderEvent{
		Type:    messaging.EventFailed,
		OrderID: req.ID(),
		Symbol:  req.Symbol(),
		Error:   cause.Error(),
		At:      time.Now(),
	})
}

func (c *Connector) emit(event *messaging.OrderEvent) {
	if c.events == nil {
		return
	}
	if err := c.events.SendOrderEvent(event); err != nil {
		c.logger.Warn("Failed to publish order event",
			"type", string(event.Type),
			"order_id", event.OrderID,
			"error", err)
	}
}

func (c *Connector) balanceLoop(ctx context.Context) {
	defer c.wg.Done()
	if c.balances == nil {
		return
	}

	c.refreshBalances(ctx)

	ticker := time.NewTicker(c.cfg.BalanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refreshBalances(ctx)
		}
	}
}

func (c *Connector) refreshBalances(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	balances, err := c.balances.Balances(reqCtx, c.cfg.Account)
	if err != nil {
		c.logger.Error("Failed to refresh balances", "error", err)
		return
	}
	// An empty result usually means the venue has not seen the account
	// yet. Leave the cache unset so reads fall back to a live query.
	if len(balances) == 0 {
		return
	}
	if err := c.store.SetBalances(ctx, c.cfg.Account, balances); err != nil {
		c.logger.Error("Failed to cache balances", "error", err)
	}
}

func (c *Connector) statusLoop(ctx context.Context) {
	defer c.wg.Done()
	if c.statuses == nil {
		return
	}

	ticker := time.NewTicker(c.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refreshStatuses(ctx)
		}
	}
}

// refreshStatuses walks the account's open orders and reconciles their
// statuses with the venue.
func (c *Connector) refreshStatuses(ctx context.Context) {
	open, err := c.store.OpenOrders(ctx, c.cfg.Account)
	if err != nil {
		c.logger.Error("Failed to list open orders", "error", err)
		return
	}

	for _, rec := range open {
		if rec.Ref == "" {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		status, err := c.statuses.RefStatus(reqCtx, rec.Ref)
		cancel()
		if err != nil {
			c.logger.Warn("Status poll failed", "order_id", rec.ID, "error", err)
			continue
		}
		if status == rec.Status {
			continue
		}
		if err := c.store.SetStatus(ctx, rec.ID, status); err != nil {
			c.logger.Error("Failed to persist polled status", "order_id", rec.ID, "error", err)
			continue
		}
		if status.Terminal() {
			if _, err := c.store.TakePendingTx(ctx, rec.Ref); err != nil && !errors.Is(err, state.ErrNotFound) {
				c.logger.Warn("Failed to clear pending tx", "ref", rec.Ref, "error", err)
			}
		}
		c.logger.Debug("Order status updated",
			"order_id", rec.ID,
			"status", string(status))
	}
}

func (c *Connector) rulesLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.RulesInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.refreshRules(); err != nil {
				c.logger.Error("Failed to refresh trading rules", "error", err)
			}
		}
	}
}

// refreshRules rebuilds per-symbol trading rules from the deployment's
// published limits.
func (c *Connector) refreshRules() error {
	minSize, err := fpdecimal.FromString(c.cfg.MinOrderSize)
	if err != nil {
		return fmt.Errorf("invalid min order size %q: %w", c.cfg.MinOrderSize, err)
	}
	maxSize, err := fpdecimal.FromString(c.cfg.MaxOrderSize)
	if err != nil {
		return fmt.Errorf("invalid max order size %q: %w", c.cfg.MaxOrderSize, err)
	}
	fee, err := fpdecimal.FromString(standard.DefaultTradingFee)
	if err != nil {
		return fmt.Errorf("invalid trading fee: %w", err)
	}

	rules := make(map[string]TradingRules, len(c.cfg.Symbols))
	for _, symbol := range c.cfg.Symbols {
		rules[symbol] = TradingRules{
			Symbol:       symbol,
			MinOrderSize: minSize,
			MaxOrderSize: maxSize,
			TradingFee:   fee,
		}
	}

	c.rulesMu.Lock()
	c.rules = rules
	c.rulesMu.Unlock()
	return nil
}
