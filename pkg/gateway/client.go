package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/erain9/batchingo/pkg/perf"
)

// Client is a typed HTTP client for the gateway API, used by the CLI
// and the load generator.
type Client struct {
	baseURL string
	account string
	httpc   *http.Client
}

// NewClient creates a gateway client. The account is attached to every
// request; leave it empty on single-connector gateways.
func NewClient(baseURL, account string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		account: account,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// SubmitOrder posts an order and returns the submit response
func (c *Client) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	if req.Account == "" {
		req.Account = c.account
	}
	var resp SubmitOrderResponse
	if err := c.do(ctx, http.MethodPost, "/api/orders", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder cancels an order by its exchange ID
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeID string) error {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	return c.do(ctx, http.MethodDelete, "/api/orders/"+url.PathEscape(exchangeID), q, nil, nil)
}

// OrderStatus fetches an order's current status
func (c *Client) OrderStatus(ctx context.Context, exchangeID string) (*OrderStatusResponse, error) {
	var resp OrderStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(exchangeID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balances fetches the account's balances
func (c *Client) Balances(ctx context.Context) (*BalancesResponse, error) {
	var resp BalancesResponse
	if err := c.do(ctx, http.MethodGet, "/api/balances", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Book fetches the latest order book snapshot for a symbol
func (c *Client) Book(ctx context.Context, symbol string) (*BookResponse, error) {
	var resp BookResponse
	if err := c.do(ctx, http.MethodGet, "/api/book/"+url.PathEscape(symbol), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Performance fetches per-operation latency summaries
func (c *Client) Performance(ctx context.Context) ([]perf.Summary, error) {
	var resp []perf.Summary
	if err := c.do(ctx, http.MethodGet, "/api/perf", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RecentSpans fetches the most recent raw timing spans
func (c *Client) RecentSpans(ctx context.Context) ([]perf.SpanRecord, error) {
	var resp []perf.SpanRecord
	if err := c.do(ctx, http.MethodGet, "/api/perf/spans", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health fetches the gateway health report
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if query == nil {
		query = url.Values{}
	}
	if c.account != "" && query.Get("account") == "" {
		query.Set("account", c.account)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
