package integration

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/batchingo/pkg/backend/memory"
	"github.com/erain9/batchingo/pkg/connector"
	"github.com/erain9/batchingo/pkg/gateway"
	"github.com/erain9/batchingo/pkg/marketdata"
	"github.com/erain9/batchingo/pkg/messaging"
	"github.com/erain9/batchingo/pkg/backend/standard"
)

const integrationAccount = "0xIntegrationTrader"

func integrationConfig() *connector.Config {
	return &connector.Config{
		Domain:          standard.Testnet,
		Account:         integrationAccount,
		Symbols:         []string{"STT-USDC", "SOMI-USDC"},
		MinOrderSize:    "0.01",
		MaxOrderSize:    "100000",
		SlippagePercent: 1.0,
		BatchingEnabled: true,
		BatchSize:       2,
		BatchWindow:     100 * time.Millisecond,
		MaxPending:      256,
		DispatchTimeout: 5 * time.Second,
		Workers:         2,
		FallbackLimit:   4,
		BookInterval:    10 * time.Millisecond,
		BalanceInterval: time.Hour,
		StatusInterval:  time.Hour,
		RulesInterval:   time.Hour,
		RequestTimeout:  5 * time.Second,
	}
}

// setupGateway starts a full HTTP gateway on a loopback listener and
// returns a client pointed at it.
func setupGateway(tb testing.TB) (*gateway.Client, *memory.Backend, *messaging.MockEventSender, func()) {
	tb.Helper()

	backend := memory.NewBackend()
	events := messaging.NewMockEventSender()

	manager := gateway.NewManager(gateway.ManagerOptions{Events: events})
	_, err := manager.CreateMemoryConnectorWithBackend(context.Background(), integrationConfig(), backend)
	require.NoError(tb, err)

	app := gateway.NewApp(manager)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)

	go func() {
		if err := app.Listener(ln); err != nil {
			tb.Logf("gateway server stopped: %v", err)
		}
	}()

	baseURL := fmt.Sprintf("http://%s", ln.Addr().String())
	client := gateway.NewClient(baseURL, integrationAccount, 10*time.Second)

	// Wait for the listener to accept requests
	require.Eventually(tb, func() bool {
		_, err := client.Health(context.Background())
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "gateway did not become reachable")

	teardown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.ShutdownWithContext(ctx)
		_ = manager.Close(ctx)
	}
	return client, backend, events, teardown
}

func TestGateway_SubmitLimitOrder(t *testing.T) {
	client, backend, events, teardown := setupGateway(t)
	defer teardown()

	ctx := context.Background()

	resp, err := client.SubmitOrder(ctx, &gateway.SubmitOrderRequest{
		OrderID:  "itest-limit-1",
		Symbol:   "STT-USDC",
		Side:     "BUY",
		Type:     "LIMIT",
		Quantity: "10",
		Price:    "0.55",
	})
	require.NoError(t, err)
	assert.Equal(t, "itest-limit-1", resp.OrderID)
	assert.True(t, resp.Batched)
	assert.Contains(t, resp.ExchangeID, ":itest-limit-1")

	status, err := client.OrderStatus(ctx, resp.ExchangeID)
	require.NoError(t, err)
	// The memory venue accepts straight into the book, so the live
	// status refresh reports the order open.
	assert.Equal(t, "OPEN", status.Status)

	require.Equal(t, 1, backend.SubmissionCount())

	var submitted int
	for _, ev := range events.Events() {
		if ev.Type == messaging.EventSubmitted {
			submitted++
		}
	}
	assert.Equal(t, 1, submitted)
}

func TestGateway_BatchCoalescing(t *testing.T) {
	client, backend, _, teardown := setupGateway(t)
	defer teardown()

	ctx := context.Background()

	// Two orders inside one batch window go out as a single call.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = client.SubmitOrder(ctx, &gateway.SubmitOrderRequest{
				OrderID:  fmt.Sprintf("itest-batch-%d", n),
				Symbol:   "STT-USDC",
				Side:     "BUY",
				Type:     "LIMIT",
				Quantity: "5",
				Price:    "0.50",
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, backend.SubmissionCount(), "expected both orders in one venue call")

	journal := backend.Journal()
	require.Len(t, journal, 2)
	for _, sub := range journal {
		assert.True(t, sub.Batched)
		assert.Equal(t, 2, sub.BatchSize)
	}
}

func TestGateway_DuplicateOrderRejected(t *testing.T) {
	client, _, _, teardown := setupGateway(t)
	defer teardown()

	ctx := context.Background()

	req := &gateway.SubmitOrderRequest{
		OrderID:  "itest-dup-1",
		Symbol:   "STT-USDC",
		Side:     "SELL",
		Type:     "LIMIT",
		Quantity: "1",
		Price:    "0.60",
	}
	_, err := client.SubmitOrder(ctx, req)
	require.NoError(t, err)

	_, err = client.SubmitOrder(ctx, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestGateway_CancelSubmittedOrder(t *testing.T) {
	client, backend, _, teardown := setupGateway(t)
	defer teardown()

	ctx := context.Background()

	resp, err := client.SubmitOrder(ctx, &gateway.SubmitOrderRequest{
		OrderID:  "itest-cancel-1",
		Symbol:   "STT-USDC",
		Side:     "BUY",
		Type:     "LIMIT",
		Quantity: "3",
		Price:    "0.40",
	})
	require.NoError(t, err)

	err = client.CancelOrder(ctx, "STT-USDC", resp.ExchangeID)
	require.NoError(t, err)

	status, err := client.OrderStatus(ctx, resp.ExchangeID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", status.Status)

	ref := resp.ExchangeID[:strings.LastIndex(resp.ExchangeID, ":")]
	st, err := backend.RefStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", string(st))
}

func TestGateway_MarketOrderPricedFromBook(t *testing.T) {
	client, backend, _, teardown := setupGateway(t)
	defer teardown()

	ctx := context.Background()

	backend.SetBook("STT-USDC", marketdata.Snapshot{
		Symbol: "STT-USDC",
		Bids:   []marketdata.Level{{Price: dec(t, "99"), Quantity: dec(t, "1000")}},
		Asks:   []marketdata.Level{{Price: dec(t, "100"), Quantity: dec(t, "1000")}},
		At:     time.Now(),
	})

	// Wait for the poller to pick up the snapshot.
	require.Eventually(t, func() bool {
		book, err := client.Book(ctx, "STT-USDC")
		return err == nil && len(book.Asks) > 0
	}, 5*time.Second, 20*time.Millisecond)

	_, err := client.SubmitOrder(ctx, &gateway.SubmitOrderRequest{
		OrderID:  "itest-market-1",
		Symbol:   "STT-USDC",
		Side:     "BUY",
		Type:     "MARKET",
		Quantity: "10",
	})
	require.NoError(t, err)

	journal := backend.Journal()
	require.Len(t, journal, 1)
	// Ask 100 with a 1% slippage buffer.
	assert.Equal(t, "101.000", journal[0].Price.String())
}

func TestGateway_BalancesEndpoint(t *testing.T) {
	client, backend, _, teardown := setupGateway(t)
	defer teardown()

	backend.SetBalance(integrationAccount, "USDC", dec(t, "2500.75"))
	backend.SetBalance(integrationAccount, "STT", dec(t, "120"))

	resp, err := client.Balances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, integrationAccount, resp.Account)
	assert.Equal(t, "2500.750", resp.Balances["USDC"])
	assert.Equal(t, "120.000", resp.Balances["STT"])
}

func TestGateway_FallbackAfterBatchFailure(t *testing.T) {
	client, backend, _, teardown := setupGateway(t)
	defer teardown()

	ctx := context.Background()

	// The batch call fails once; orders are then retried one by one.
	backend.FailNextBatches(1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = client.SubmitOrder(ctx, &gateway.SubmitOrderRequest{
				OrderID:  fmt.Sprintf("itest-fallback-%d", n),
				Symbol:   "STT-USDC",
				Side:     "SELL",
				Type:     "LIMIT",
				Quantity: "2",
				Price:    "0.65",
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	journal := backend.Journal()
	require.Len(t, journal, 2)
	for _, sub := range journal {
		assert.False(t, sub.Batched, "fallback submissions go out individually")
	}
}

func TestGateway_HealthAndPerf(t *testing.T) {
	client, _, _, teardown := setupGateway(t)
	defer teardown()

	ctx := context.Background()

	_, err := client.SubmitOrder(ctx, &gateway.SubmitOrderRequest{
		OrderID:  "itest-perf-1",
		Symbol:   "STT-USDC",
		Side:     "BUY",
		Type:     "LIMIT",
		Quantity: "1",
		Price:    "0.50",
	})
	require.NoError(t, err)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Connectors)

	summaries, err := client.Performance(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(summaries))
	for _, s := range summaries {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "connector.submit_order")
}

func dec(tb testing.TB, s string) fpdecimal.Decimal {
	tb.Helper()
	d, err := fpdecimal.FromString(s)
	require.NoError(tb, err)
	return d
}
