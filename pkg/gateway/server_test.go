package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/batchingo/pkg/backend/standard"
	"github.com/erain9/batchingo/pkg/connector"
)

const testAccount = "0x00000000000000000000000000000000000000aa"

func testConnectorConfig() *connector.Config {
	return &connector.Config{
		Domain:          standard.Testnet,
		Account:         testAccount,
		Symbols:         []string{"STT-USDC"},
		MinOrderSize:    "0.01",
		MaxOrderSize:    "1000",
		SlippagePercent: 1,
		BatchingEnabled: true,
		BatchSize:       2,
		BatchWindow:     30 * time.Millisecond,
		MaxPending:      64,
		DispatchTimeout: 5 * time.Second,
		Workers:         1,
		FallbackLimit:   4,
		BookInterval:    10 * time.Millisecond,
		BalanceInterval: time.Hour,
		StatusInterval:  time.Hour,
		RulesInterval:   time.Hour,
		RequestTimeout:  time.Second,
	}
}

func newTestApp(t *testing.T) (*fiber.App, *Manager) {
	t.Helper()

	manager := NewManager(ManagerOptions{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	_, err := manager.CreateMemoryConnector(context.Background(), testConnectorConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Close(ctx)
	})

	return NewApp(manager), manager
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

func TestSubmitOrderEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	resp, raw := doJSON(t, app, http.MethodPost, "/api/orders", SubmitOrderRequest{
		OrderID:  "http-1",
		Symbol:   "STT-USDC",
		Side:     "BUY",
		Type:     "LIMIT",
		Quantity: "1",
		Price:    "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var out SubmitOrderResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "http-1", out.OrderID)
	assert.NotEmpty(t, out.ExchangeID)
	assert.True(t, out.Batched)
}

func TestSubmitOrderGeneratesID(t *testing.T) {
	app, _ := newTestApp(t)

	resp, raw := doJSON(t, app, http.MethodPost, "/api/orders", SubmitOrderRequest{
		Symbol:   "STT-USDC",
		Side:     "SELL",
		Type:     "LIMIT",
		Quantity: "1",
		Price:    "99",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var out SubmitOrderResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.NotEmpty(t, out.OrderID)
}

func TestSubmitOrderValidationErrors(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		name string
		req  SubmitOrderRequest
		want int
	}{
		{"bad side", SubmitOrderRequest{Symbol: "STT-USDC", Side: "HOLD", Type: "LIMIT", Quantity: "1", Price: "100"}, http.StatusBadRequest},
		{"bad type", SubmitOrderRequest{Symbol: "STT-USDC", Side: "BUY", Type: "STOP", Quantity: "1", Price: "100"}, http.StatusBadRequest},
		{"bad quantity", SubmitOrderRequest{Symbol: "STT-USDC", Side: "BUY", Type: "LIMIT", Quantity: "lots", Price: "100"}, http.StatusBadRequest},
		{"below minimum", SubmitOrderRequest{Symbol: "STT-USDC", Side: "BUY", Type: "LIMIT", Quantity: "0.001", Price: "100"}, http.StatusBadRequest},
		{"unknown symbol", SubmitOrderRequest{Symbol: "WBTC-USDC", Side: "BUY", Type: "LIMIT", Quantity: "1", Price: "100"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doJSON(t, app, http.MethodPost, "/api/orders", tt.req)
			assert.Equal(t, tt.want, resp.StatusCode, string(raw))
		})
	}
}

func TestSubmitOrderDuplicateConflict(t *testing.T) {
	app, _ := newTestApp(t)

	req := SubmitOrderRequest{
		OrderID: "dup-http", Symbol: "STT-USDC", Side: "BUY",
		Type: "LIMIT", Quantity: "1", Price: "100",
	}
	resp, _ := doJSON(t, app, http.MethodPost, "/api/orders", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/orders", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelAndStatusEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	resp, raw := doJSON(t, app, http.MethodPost, "/api/orders", SubmitOrderRequest{
		OrderID: "lifecycle", Symbol: "STT-USDC", Side: "BUY",
		Type: "LIMIT", Quantity: "1", Price: "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var submitted SubmitOrderResponse
	require.NoError(t, json.Unmarshal(raw, &submitted))

	resp, raw = doJSON(t, app, http.MethodGet, "/api/orders/"+submitted.ExchangeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status OrderStatusResponse
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.Equal(t, "OPEN", status.Status)

	resp, _ = doJSON(t, app, http.MethodDelete, "/api/orders/"+submitted.ExchangeID+"?symbol=STT-USDC", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw = doJSON(t, app, http.MethodGet, "/api/orders/"+submitted.ExchangeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.Equal(t, "CANCELED", status.Status)
}

func TestStatusUnknownOrder(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/api/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBalancesEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	resp, raw := doJSON(t, app, http.MethodGet, "/api/balances", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out BalancesResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, testAccount, out.Account)
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	resp, raw := doJSON(t, app, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out HealthResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, 1, out.Connectors)
}

func TestPerfEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/orders", SubmitOrderRequest{
		OrderID: "perf-1", Symbol: "STT-USDC", Side: "BUY",
		Type: "LIMIT", Quantity: "1", Price: "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := doJSON(t, app, http.MethodGet, "/api/perf", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "connector.submit_order")

	resp, _ = doJSON(t, app, http.MethodGet, "/api/perf/spans", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
