package core

import "context"

// OrderSubmitter is the required backend capability: submit one order and
// return its submission reference (a transaction hash or exchange ref).
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req *OrderRequest) (string, error)
}

// BatchSubmitter is the optional backend capability of submitting a whole
// batch in one call. References come back in request order or not at all.
// A backend that lacks it is a normal configuration; the dispatcher checks
// for it once with a type assertion and routes around its absence.
type BatchSubmitter interface {
	SubmitOrders(ctx context.Context, reqs []*OrderRequest) ([]string, error)
}

// OrderCanceler is the optional backend capability of canceling a
// submitted order. Best effort: a DEX backend may not be able to stop
// on-chain execution.
type OrderCanceler interface {
	CancelOrder(ctx context.Context, symbol, ref string) error
}
