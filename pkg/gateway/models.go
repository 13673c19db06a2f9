package gateway

// SubmitOrderRequest is the POST /api/orders payload. Quantity and
// price travel as decimal strings so precision survives the wire.
type SubmitOrderRequest struct {
	OrderID  string `json:"order_id,omitempty"`
	Account  string `json:"account,omitempty"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
	Price    string `json:"price,omitempty"`
}

// SubmitOrderResponse reports a submitted order
type SubmitOrderResponse struct {
	OrderID    string `json:"order_id"`
	ExchangeID string `json:"exchange_id"`
	Batched    bool   `json:"batched"`
}

// CancelOrderResponse reports a cancellation
type CancelOrderResponse struct {
	ExchangeID string `json:"exchange_id"`
	Canceled   bool   `json:"canceled"`
}

// OrderStatusResponse reports an order's current status
type OrderStatusResponse struct {
	ExchangeID string `json:"exchange_id"`
	Status     string `json:"status"`
}

// BalancesResponse maps token symbols to balance decimal strings
type BalancesResponse struct {
	Account  string            `json:"account"`
	Balances map[string]string `json:"balances"`
}

// BookLevel is one price level of a book snapshot
type BookLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// BookResponse is a point-in-time order book view
type BookResponse struct {
	Symbol   string      `json:"symbol"`
	Bids     []BookLevel `json:"bids"`
	Asks     []BookLevel `json:"asks"`
	MidPrice string      `json:"mid_price,omitempty"`
}

// HealthResponse is the /healthz payload
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connectors    int    `json:"connectors"`
	Pending       int    `json:"pending"`
}

// ErrorResponse carries an error message to the caller
type ErrorResponse struct {
	Error string `json:"error"`
}
