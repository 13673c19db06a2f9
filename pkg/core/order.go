package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nikolaydubina/fpdecimal"
)

// Side represents buy or sell side of the order
type Side int

// Order sides
const (
	Sell Side = iota
	Buy
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSide converts a string into a Side
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, ErrInvalidArgument
	}
}

// OrderKind represents how the order executes
type OrderKind string

// Order kinds
const (
	KindLimit  OrderKind = "LIMIT"
	KindMarket OrderKind = "MARKET"
)

// ParseOrderKind converts a string into an OrderKind
func ParseOrderKind(s string) (OrderKind, error) {
	switch OrderKind(strings.ToUpper(s)) {
	case KindLimit:
		return KindLimit, nil
	case KindMarket:
		return KindMarket, nil
	default:
		return "", ErrInvalidArgument
	}
}

// OrderRequest is a pending order submission owned by the batch queue
// until it is drained into a Batch and dispatched to the backend.
type OrderRequest struct {
	id         string
	symbol     string
	side       Side
	kind       OrderKind
	quantity   fpdecimal.Decimal
	price      fpdecimal.Decimal
	account    string
	enqueuedAt time.Time
}

// NewLimitRequest creates a priced order request
func NewLimitRequest(id, symbol string, side Side, quantity, price fpdecimal.Decimal, account string) (*OrderRequest, error) {
	if id == "" || symbol == "" {
		return nil, ErrInvalidArgument
	}

	if quantity.LessThanOrEqual(fpdecimal.Zero) {
		return nil, ErrInvalidQuantity
	}

	if price.LessThanOrEqual(fpdecimal.Zero) {
		return nil, ErrInvalidPrice
	}

	return &OrderRequest{
		id:       id,
		symbol:   symbol,
		side:     side,
		kind:     KindLimit,
		quantity: quantity,
		price:    price,
		account:  account,
	}, nil
}

// NewMarketRequest creates an order request executed at the prevailing price.
// Market requests carry no price; the backend or connector resolves one.
func NewMarketRequest(id, symbol string, side Side, quantity fpdecimal.Decimal, account string) (*OrderRequest, error) {
	if id == "" || symbol == "" {
		return nil, ErrInvalidArgument
	}

	if quantity.LessThanOrEqual(fpdecimal.Zero) {
		return nil, ErrInvalidQuantity
	}

	return &OrderRequest{
		id:       id,
		symbol:   symbol,
		side:     side,
		kind:     KindMarket,
		quantity: quantity,
		price:    fpdecimal.Zero,
		account:  account,
	}, nil
}

// ID returns the client-assigned request identifier
func (r *OrderRequest) ID() string {
	return r.id
}

// Symbol returns the trading pair identifier
func (r *OrderRequest) Symbol() string {
	return r.symbol
}

// Side returns side of the request
func (r *OrderRequest) Side() Side {
	return r.side
}

// Kind returns kind of the request
func (r *OrderRequest) Kind() OrderKind {
	return r.kind
}

// Quantity returns quantity field copy
func (r *OrderRequest) Quantity() fpdecimal.Decimal {
	return r.quantity
}

// Price returns price field copy; zero for market requests
func (r *OrderRequest) Price() fpdecimal.Decimal {
	return r.price
}

// SetPrice replaces the request price. Used when a market request is
// converted to a priced order from the current book.
func (r *OrderRequest) SetPrice(price fpdecimal.Decimal) {
	r.price = price
}

// Account returns the submitting account address
func (r *OrderRequest) Account() string {
	return r.account
}

// EnqueuedAt returns the time the request entered the queue
func (r *OrderRequest) EnqueuedAt() time.Time {
	return r.enqueuedAt
}

// SetEnqueuedAt stamps the request with its queue-entry time
func (r *OrderRequest) SetEnqueuedAt(t time.Time) {
	r.enqueuedAt = t
}

// IsMarket returns true if the request is MARKET
func (r *OrderRequest) IsMarket() bool {
	return r.kind == KindMarket
}

// IsLimit returns true if the request is LIMIT
func (r *OrderRequest) IsLimit() bool {
	return r.kind == KindLimit
}

// MarshalJSON implements custom JSON marshaling for OrderRequest
func (r *OrderRequest) MarshalJSON() ([]byte, error) {
	type requestJSON struct {
		ID         string    `json:"id"`
		Symbol     string    `json:"symbol"`
		Side       string    `json:"side"`
		Kind       OrderKind `json:"kind"`
		Quantity   string    `json:"quantity"`
		Price      string    `json:"price"`
		Account    string    `json:"account"`
		EnqueuedAt int64     `json:"enqueuedAt"`
	}

	return json.Marshal(requestJSON{
		ID:         r.id,
		Symbol:     r.symbol,
		Side:       r.side.String(),
		Kind:       r.kind,
		Quantity:   r.quantity.String(),
		Price:      r.price.String(),
		Account:    r.account,
		EnqueuedAt: r.enqueuedAt.UnixMilli(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for OrderRequest
func (r *OrderRequest) UnmarshalJSON(data []byte) error {
	type requestJSON struct {
		ID         string    `json:"id"`
		Symbol     string    `json:"symbol"`
		Side       string    `json:"side"`
		Kind       OrderKind `json:"kind"`
		Quantity   string    `json:"quantity"`
		Price      string    `json:"price"`
		Account    string    `json:"account"`
		EnqueuedAt int64     `json:"enqueuedAt"`
	}

	var rj requestJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}

	side, err := ParseSide(rj.Side)
	if err != nil {
		return err
	}

	r.id = rj.ID
	r.symbol = rj.Symbol
	r.side = side
	r.kind = rj.Kind
	r.account = rj.Account

	r.quantity, err = fpdecimal.FromString(rj.Quantity)
	if err != nil {
		r.quantity = fpdecimal.Zero
	}

	r.price, err = fpdecimal.FromString(rj.Price)
	if err != nil {
		r.price = fpdecimal.Zero
	}

	if rj.EnqueuedAt > 0 {
		r.enqueuedAt = time.UnixMilli(rj.EnqueuedAt)
	}

	return nil
}

// String implements Stringer interface
func (r *OrderRequest) String() string {
	j, _ := r.MarshalJSON()
	return string(j)
}
