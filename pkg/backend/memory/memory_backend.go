// Package memory provides a simulated order-submission backend. It
// implements every capability the dispatcher knows about, journals each
// submission for inspection, and injects failures and latency on demand,
// which makes it the backend of choice for tests, examples, and load runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/marketdata"
)

// Submission is one journaled backend call entry
type Submission struct {
	Ref       string
	RequestID string
	Symbol    string
	Side      core.Side
	Kind      core.OrderKind
	Quantity  fpdecimal.Decimal
	Price     fpdecimal.Decimal
	Batched   bool
	BatchSize int
	At        time.Time
}

type orderRecord struct {
	requestID string
	symbol    string
	status    core.OrderStatus
}

// Backend is an in-memory exchange simulator
type Backend struct {
	sync.RWMutex
	seq         uint64
	journal     []Submission
	orders      map[string]*orderRecord
	balances    map[string]map[string]fpdecimal.Decimal
	books       map[string]marketdata.Snapshot
	latency     time.Duration
	failBatches int
	shortBatch  bool
	failIDs     map[string]error
}

// Capability assertions
var (
	_ core.OrderSubmitter   = (*Backend)(nil)
	_ core.BatchSubmitter   = (*Backend)(nil)
	_ core.OrderCanceler    = (*Backend)(nil)
	_ marketdata.BookSource = (*Backend)(nil)
)

// NewBackend creates an empty simulator
func NewBackend() *Backend {
	return &Backend{
		orders:   make(map[string]*orderRecord),
		balances: make(map[string]map[string]fpdecimal.Decimal),
		books:    make(map[string]marketdata.Snapshot),
		failIDs:  make(map[string]error),
	}
}

// SetLatency makes every submission call sleep for d before answering
func (b *Backend) SetLatency(d time.Duration) {
	b.Lock()
	defer b.Unlock()
	b.latency = d
}

// FailNextBatches makes the next n batched calls fail wholesale
func (b *Backend) FailNextBatches(n int) {
	b.Lock()
	defer b.Unlock()
	b.failBatches = n
}

// ShortchangeNextBatch makes the next batched call return one reference
// fewer than requested, simulating a malformed backend response.
func (b *Backend) ShortchangeNextBatch() {
	b.Lock()
	defer b.Unlock()
	b.shortBatch = true
}

// FailOrder makes individual submission of the given request ID fail
func (b *Backend) FailOrder(requestID string, err error) {
	b.Lock()
	defer b.Unlock()
	b.failIDs[requestID] = err
}

// SetBalance sets one account's balance for a token
func (b *Backend) SetBalance(account, token string, amount fpdecimal.Decimal) {
	b.Lock()
	defer b.Unlock()

	if b.balances[account] == nil {
		b.balances[account] = make(map[string]fpdecimal.Decimal)
	}
	b.balances[account][token] = amount
}

// SetBook installs the snapshot served for a symbol
func (b *Backend) SetBook(symbol string, snap marketdata.Snapshot) {
	b.Lock()
	defer b.Unlock()
	snap.Symbol = symbol
	b.books[symbol] = snap
}

func (b *Backend) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SubmitOrder submits one order and returns its deterministic reference
func (b *Backend) SubmitOrder(ctx context.Context, req *core.OrderRequest) (string, error) {
	b.RLock()
	latency := b.latency
	b.RUnlock()
	if err := b.sleep(ctx, latency); err != nil {
		return "", err
	}

	b.Lock()
	defer b.Unlock()

	if err, ok := b.failIDs[req.ID()]; ok {
		return "", err
	}
	return b.acceptLocked(req, false, 1), nil
}

// SubmitOrders submits a whole batch in one call, returning references in
// request order
func (b *Backend) SubmitOrders(ctx context.Context, reqs []*core.OrderRequest) ([]string, error) {
	b.RLock()
	latency := b.latency
	b.RUnlock()
	if err := b.sleep(ctx, latency); err != nil {
		return nil, err
	}

	b.Lock()
	defer b.Unlock()

	if b.failBatches > 0 {
		b.failBatches--
		return nil, fmt.Errorf("%w: batch rejected by simulator", core.ErrBatchDispatch)
	}

	refs := make([]string, 0, len(reqs))
	for _, req := range reqs {
		refs = append(refs, b.acceptLocked(req, true, len(reqs)))
	}

	if b.shortBatch && len(refs) > 0 {
		b.shortBatch = false
		refs = refs[:len(refs)-1]
	}

	return refs, nil
}

func (b *Backend) acceptLocked(req *core.OrderRequest, batched bool, batchSize int) string {
	b.seq++
	ref := fmt.Sprintf("0x%016x", b.seq)

	b.orders[ref] = &orderRecord{
		requestID: req.ID(),
		symbol:    req.Symbol(),
		status:    core.StatusOpen,
	}
	b.journal = append(b.journal, Submission{
		Ref:       ref,
		RequestID: req.ID(),
		Symbol:    req.Symbol(),
		Side:      req.Side(),
		Kind:      req.Kind(),
		Quantity:  req.Quantity(),
		Price:     req.Price(),
		Batched:   batched,
		BatchSize: batchSize,
		At:        time.Now(),
	})

	return ref
}

// CancelOrder marks a submitted order canceled
func (b *Backend) CancelOrder(_ context.Context, _ string, ref string) error {
	b.Lock()
	defer b.Unlock()

	rec, ok := b.orders[ref]
	if !ok {
		return core.ErrUnknownOrder
	}
	if rec.status.Terminal() {
		return nil
	}
	rec.status = core.StatusCanceled
	return nil
}

// RefStatus returns the status of a submitted order by its reference
func (b *Backend) RefStatus(_ context.Context, ref string) (core.OrderStatus, error) {
	b.RLock()
	defer b.RUnlock()

	rec, ok := b.orders[ref]
	if !ok {
		return "", core.ErrUnknownOrder
	}
	return rec.status, nil
}

// SetRefStatus overrides an order's status, for driving status-loop tests
func (b *Backend) SetRefStatus(ref string, status core.OrderStatus) error {
	b.Lock()
	defer b.Unlock()

	rec, ok := b.orders[ref]
	if !ok {
		return core.ErrUnknownOrder
	}
	rec.status = status
	return nil
}

// Balances returns one account's token balances
func (b *Backend) Balances(_ context.Context, account string) (map[string]fpdecimal.Decimal, error) {
	b.RLock()
	defer b.RUnlock()

	out := make(map[string]fpdecimal.Decimal, len(b.balances[account]))
	for token, amount := range b.balances[account] {
		out[token] = amount
	}
	return out, nil
}

// BookSnapshot serves the configured snapshot for a symbol
func (b *Backend) BookSnapshot(_ context.Context, symbol string) (marketdata.Snapshot, error) {
	b.RLock()
	defer b.RUnlock()

	snap, ok := b.books[symbol]
	if !ok {
		return marketdata.Snapshot{}, fmt.Errorf("no book for symbol %q", symbol)
	}
	snap.At = time.Now()
	return snap, nil
}

// Journal returns a copy of all journaled submissions in call order
func (b *Backend) Journal() []Submission {
	b.RLock()
	defer b.RUnlock()

	out := make([]Submission, len(b.journal))
	copy(out, b.journal)
	return out
}

// SubmissionCount returns how many orders the simulator accepted
func (b *Backend) SubmissionCount() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.journal)
}

// Reset clears the journal, orders, and injected failures
func (b *Backend) Reset() {
	b.Lock()
	defer b.Unlock()

	b.seq = 0
	b.journal = nil
	b.orders = make(map[string]*orderRecord)
	b.failBatches = 0
	b.shortBatch = false
	b.failIDs = make(map[string]error)
}
