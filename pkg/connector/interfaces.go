package connector

import (
	"context"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/batchingo/pkg/core"
)

// StatusSource defines the interface for querying the status of a
// submission reference on the venue
type StatusSource interface {
	// RefStatus returns the venue-side status for a submission reference
	RefStatus(ctx context.Context, ref string) (core.OrderStatus, error)
}

// BalanceSource defines the interface for reading account balances from
// the venue
type BalanceSource interface {
	// Balances returns token balances for an account
	Balances(ctx context.Context, account string) (map[string]fpdecimal.Decimal, error)
}
