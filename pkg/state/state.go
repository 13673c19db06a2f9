// Package state persists order lifecycle records so crash recovery and
// status polling can reconcile in-flight submissions with the chain.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/batchingo/pkg/core"
)

// Errors
var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateOrder = errors.New("order record already exists")
)

// OrderRecord is the persisted view of one order request
type OrderRecord struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Side      string           `json:"side"`
	Kind      core.OrderKind   `json:"kind"`
	Quantity  string           `json:"quantity"`
	Price     string           `json:"price,omitempty"`
	Account   string           `json:"account"`
	Status    core.OrderStatus `json:"status"`
	Ref       string           `json:"ref,omitempty"`
	Batched   bool             `json:"batched"`
	BatchSize int              `json:"batch_size,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewOrderRecord builds a record from a request in its initial state
func NewOrderRecord(req *core.OrderRequest) *OrderRecord {
	now := time.Now()
	rec := &OrderRecord{
		ID:        req.ID(),
		Symbol:    req.Symbol(),
		Side:      req.Side().String(),
		Kind:      req.Kind(),
		Quantity:  req.Quantity().String(),
		Account:   req.Account(),
		Status:    core.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.IsLimit() {
		rec.Price = req.Price().String()
	}
	return rec
}

// Clone returns an independent copy of the record
func (r *OrderRecord) Clone() *OrderRecord {
	cp := *r
	return &cp
}

// Store persists order records, submission bindings, and cached balances.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveOrder stores a new record, failing with ErrDuplicateOrder when
	// the ID is already present.
	SaveOrder(ctx context.Context, rec *OrderRecord) error

	// GetOrder fetches a record by order ID
	GetOrder(ctx context.Context, id string) (*OrderRecord, error)

	// UpdateOrder replaces an existing record
	UpdateOrder(ctx context.Context, rec *OrderRecord) error

	// SetStatus transitions an order's status
	SetStatus(ctx context.Context, id string, status core.OrderStatus) error

	// BindRef attaches a submission reference to an order and indexes it
	BindRef(ctx context.Context, id, ref string) error

	// OrderByRef resolves a submission reference back to its record
	OrderByRef(ctx context.Context, ref string) (*OrderRecord, error)

	// OpenOrders lists an account's records in non-terminal states
	OpenOrders(ctx context.Context, account string) ([]*OrderRecord, error)

	// DeleteOrder removes a record and its reference bindings
	DeleteOrder(ctx context.Context, id string) error

	// AddPendingTx marks a submission reference as awaiting confirmation
	AddPendingTx(ctx context.Context, ref string, orderIDs []string) error

	// TakePendingTx removes a pending reference and returns its order IDs
	TakePendingTx(ctx context.Context, ref string) ([]string, error)

	// PendingTxs lists submission references still awaiting confirmation
	PendingTxs(ctx context.Context) ([]string, error)

	// SetBalances caches an account's token balances
	SetBalances(ctx context.Context, account string, balances map[string]fpdecimal.Decimal) error

	// Balances returns an account's cached balances, ErrNotFound when
	// nothing has been cached yet.
	Balances(ctx context.Context, account string) (map[string]fpdecimal.Decimal, error)

	// Close releases the store's resources
	Close() error
}
