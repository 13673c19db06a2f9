// Package rest talks to the Standard indexer REST API. The indexer accepts
// one order per request and has no batch endpoint, so this backend
// deliberately implements only single-order submission; the dispatcher
// detects the missing batch capability and falls back per item.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/erain9/batchingo/pkg/backend/standard"
	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/marketdata"
)

// ErrRateLimited reports that the indexer rejected a request with HTTP 429.
var ErrRateLimited = errors.New("indexer rate limit exceeded")

// ErrUnauthorized reports a rejected or missing API key.
var ErrUnauthorized = errors.New("indexer rejected credentials")

const defaultTimeout = 30 * time.Second

// Config selects the indexer deployment and credentials
type Config struct {
	Domain  standard.Domain
	BaseURL string // overrides the domain default when set
	APIKey  string
	Timeout time.Duration
}

// Client is the REST client for the Standard indexer API. Every request
// passes through a per-endpoint rate limiter sized from the published
// request budgets.
type Client struct {
	baseURL    string
	apiKey     string
	domain     standard.Domain
	httpClient *http.Client
	limiters   map[string]*rate.Limiter
	logger     zerolog.Logger
}

// The indexer has no batch endpoint, so *Client intentionally does not
// satisfy core.BatchSubmitter.
var (
	_ core.OrderSubmitter   = (*Client)(nil)
	_ core.OrderCanceler    = (*Client)(nil)
	_ marketdata.BookSource = (*Client)(nil)
)

// NewClient creates an indexer client for a domain
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	domainCfg, err := standard.Lookup(cfg.Domain)
	if err != nil {
		return nil, err
	}

	baseURL := domainCfg.APIURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limiters := make(map[string]*rate.Limiter, len(standard.RateLimits))
	for _, rl := range standard.RateLimits {
		limiters[rl.ID] = rate.NewLimiter(rate.Limit(rl.Limit), rl.Limit)
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		domain:     cfg.Domain,
		httpClient: &http.Client{Timeout: timeout},
		limiters:   limiters,
		logger:     logger.With().Str("component", "rest").Str("domain", string(cfg.Domain)).Logger(),
	}, nil
}

type orderPayload struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
	Price    string `json:"price,omitempty"`
	Account  string `json:"account"`
}

type orderResult struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
}

// SubmitOrder posts one order and returns the indexer's reference
func (c *Client) SubmitOrder(ctx context.Context, req *core.OrderRequest) (string, error) {
	payload := orderPayload{
		ID:       req.ID(),
		Symbol:   req.Symbol(),
		Side:     req.Side().String(),
		Type:     string(req.Kind()),
		Quantity: req.Quantity().String(),
		Account:  req.Account(),
	}
	if req.IsLimit() {
		payload.Price = req.Price().String()
	}

	body, err := c.do(ctx, standard.EndpointPostOrder, http.MethodPost, standard.PathOrders, payload)
	if err != nil {
		return "", fmt.Errorf("post order %s: %w", req.ID(), err)
	}

	var result orderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode order result: %w", err)
	}
	if result.Ref == "" {
		return "", fmt.Errorf("%w: indexer returned no order reference", core.ErrSubmissionFailed)
	}

	c.logger.Debug().Str("order", req.ID()).Str("ref", result.Ref).Msg("Order posted")
	return result.Ref, nil
}

// CancelOrder asks the indexer to cancel an order by its reference
func (c *Client) CancelOrder(ctx context.Context, symbol, ref string) error {
	path := fmt.Sprintf(standard.PathOrderByID, ref)
	if _, err := c.do(ctx, standard.EndpointCancelOrder, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("cancel order %s on %s: %w", ref, symbol, err)
	}
	return nil
}

// RefStatus fetches the current status of a submitted order
func (c *Client) RefStatus(ctx context.Context, ref string) (core.OrderStatus, error) {
	path := fmt.Sprintf(standard.PathOrderByID, ref)
	body, err := c.do(ctx, standard.EndpointDefault, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("fetch order %s: %w", ref, err)
	}

	var result orderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode order status: %w", err)
	}
	return core.OrderStatus(result.Status), nil
}

type tickLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type ticksResponse struct {
	Bids []tickLevel `json:"bids"`
	Asks []tickLevel `json:"asks"`
}

// BookSnapshot fetches order book ticks for a trading pair
func (c *Client) BookSnapshot(ctx context.Context, symbol string) (marketdata.Snapshot, error) {
	base, quote, err := standard.SplitPair(symbol)
	if err != nil {
		return marketdata.Snapshot{}, err
	}

	path := fmt.Sprintf(standard.PathOrderBookTicks, base, quote, standard.OrderBookDepth)
	body, err := c.do(ctx, standard.EndpointOrderBook, http.MethodGet, path, nil)
	if err != nil {
		return marketdata.Snapshot{}, fmt.Errorf("fetch book %s: %w", symbol, err)
	}

	var ticks ticksResponse
	if err := json.Unmarshal(body, &ticks); err != nil {
		return marketdata.Snapshot{}, fmt.Errorf("decode book %s: %w", symbol, err)
	}

	snap := marketdata.Snapshot{Symbol: symbol, At: time.Now()}
	if snap.Bids, err = parseLevels(ticks.Bids); err != nil {
		return marketdata.Snapshot{}, fmt.Errorf("book %s bids: %w", symbol, err)
	}
	if snap.Asks, err = parseLevels(ticks.Asks); err != nil {
		return marketdata.Snapshot{}, fmt.Errorf("book %s asks: %w", symbol, err)
	}
	return snap, nil
}

func parseLevels(ticks []tickLevel) ([]marketdata.Level, error) {
	levels := make([]marketdata.Level, 0, len(ticks))
	for _, tick := range ticks {
		price, err := fpdecimal.FromString(tick.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", tick.Price, err)
		}
		qty, err := fpdecimal.FromString(tick.Quantity)
		if err != nil {
			return nil, fmt.Errorf("quantity %q: %w", tick.Quantity, err)
		}
		levels = append(levels, marketdata.Level{Price: price, Quantity: qty})
	}
	return levels, nil
}

type balanceEntry struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// Balances fetches token balances for an account
func (c *Client) Balances(ctx context.Context, account string) (map[string]fpdecimal.Decimal, error) {
	if !core.ValidAddress(account) {
		return nil, fmt.Errorf("%w: account %q", core.ErrInvalidArgument, account)
	}

	path := fmt.Sprintf(standard.PathBalance, account)
	body, err := c.do(ctx, standard.EndpointAccountInfo, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch balances for %s: %w", account, err)
	}

	var entries []balanceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}

	out := make(map[string]fpdecimal.Decimal, len(entries))
	for _, entry := range entries {
		amount, err := fpdecimal.FromString(entry.Amount)
		if err != nil {
			return nil, fmt.Errorf("balance %s amount %q: %w", entry.Symbol, entry.Amount, err)
		}
		out[entry.Symbol] = amount
	}
	return out, nil
}

// do waits on the endpoint's rate limiter, sends the request, and returns
// the raw response body.
func (c *Client) do(ctx context.Context, endpoint, method, path string, body any) ([]byte, error) {
	limiter, ok := c.limiters[endpoint]
	if !ok {
		limiter = c.limiters[standard.EndpointDefault]
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx status codes onto domain errors
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", core.ErrUnknownOrder, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", core.ErrInvalidArgument, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", core.ErrSubmissionFailed, statusCode, msg)
	}
}
