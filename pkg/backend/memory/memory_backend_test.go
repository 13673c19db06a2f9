package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/marketdata"
)

func limitReq(t *testing.T, id string, side core.Side, qty, price float64) *core.OrderRequest {
	t.Helper()
	req, err := core.NewLimitRequest(id, "STT-USDC", side, fpdecimal.FromFloat(qty), fpdecimal.FromFloat(price), "0xacc")
	require.NoError(t, err)
	return req
}

func TestSubmitOrder(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()

	ref, err := b.SubmitOrder(ctx, limitReq(t, "ord-1", core.Buy, 10, 100))
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000001", ref)

	ref2, err := b.SubmitOrder(ctx, limitReq(t, "ord-2", core.Sell, 5, 101))
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000002", ref2)

	journal := b.Journal()
	require.Len(t, journal, 2)
	assert.Equal(t, "ord-1", journal[0].RequestID)
	assert.False(t, journal[0].Batched)
	assert.Equal(t, 1, journal[0].BatchSize)

	status, err := b.RefStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, core.StatusOpen, status)
}

func TestSubmitOrders(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()

	reqs := []*core.OrderRequest{
		limitReq(t, "a", core.Buy, 1, 100),
		limitReq(t, "b", core.Sell, 2, 101),
		limitReq(t, "c", core.Buy, 3, 99),
	}

	refs, err := b.SubmitOrders(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	journal := b.Journal()
	require.Len(t, journal, 3)
	for i, sub := range journal {
		assert.Equal(t, reqs[i].ID(), sub.RequestID, "journal preserves request order")
		assert.True(t, sub.Batched)
		assert.Equal(t, 3, sub.BatchSize)
		assert.Equal(t, refs[i], sub.Ref)
	}
}

func TestFailNextBatches(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	b.FailNextBatches(2)

	reqs := []*core.OrderRequest{limitReq(t, "a", core.Buy, 1, 100)}

	_, err := b.SubmitOrders(ctx, reqs)
	assert.ErrorIs(t, err, core.ErrBatchDispatch)
	_, err = b.SubmitOrders(ctx, reqs)
	assert.Error(t, err)

	refs, err := b.SubmitOrders(ctx, reqs)
	require.NoError(t, err, "third batch goes through")
	assert.Len(t, refs, 1)
}

func TestShortchangeNextBatch(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	b.ShortchangeNextBatch()

	refs, err := b.SubmitOrders(ctx, []*core.OrderRequest{
		limitReq(t, "a", core.Buy, 1, 100),
		limitReq(t, "b", core.Sell, 1, 101),
	})
	require.NoError(t, err)
	assert.Len(t, refs, 1, "one reference withheld")

	// Next batch is whole again
	refs, err = b.SubmitOrders(ctx, []*core.OrderRequest{limitReq(t, "c", core.Buy, 1, 100)})
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestFailOrder(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	injected := errors.New("insufficient balance")
	b.FailOrder("bad", injected)

	_, err := b.SubmitOrder(ctx, limitReq(t, "bad", core.Buy, 1, 100))
	assert.ErrorIs(t, err, injected)

	// Only affects individual submission of that ID
	ref, err := b.SubmitOrder(ctx, limitReq(t, "good", core.Buy, 1, 100))
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
}

func TestCancelOrder(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()

	ref, err := b.SubmitOrder(ctx, limitReq(t, "a", core.Buy, 1, 100))
	require.NoError(t, err)

	require.NoError(t, b.CancelOrder(ctx, "STT-USDC", ref))
	status, err := b.RefStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCanceled, status)

	// Canceling a terminal order is a no-op
	require.NoError(t, b.CancelOrder(ctx, "STT-USDC", ref))

	assert.ErrorIs(t, b.CancelOrder(ctx, "STT-USDC", "0xmissing"), core.ErrUnknownOrder)
}

func TestSetRefStatus(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()

	ref, err := b.SubmitOrder(ctx, limitReq(t, "a", core.Buy, 1, 100))
	require.NoError(t, err)

	require.NoError(t, b.SetRefStatus(ref, core.StatusFilled))
	status, err := b.RefStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFilled, status)

	assert.ErrorIs(t, b.SetRefStatus("0xmissing", core.StatusFilled), core.ErrUnknownOrder)
}

func TestLatencyHonorsContext(t *testing.T) {
	b := NewBackend()
	b.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.SubmitOrder(ctx, limitReq(t, "slow", core.Buy, 1, 100))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, b.SubmissionCount())
}

func TestBalances(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()

	b.SetBalance("0xacc", "STT", fpdecimal.FromFloat(100.0))
	b.SetBalance("0xacc", "USDC", fpdecimal.FromFloat(2500.0))

	balances, err := b.Balances(ctx, "0xacc")
	require.NoError(t, err)
	assert.Equal(t, fpdecimal.FromFloat(100.0), balances["STT"])
	assert.Equal(t, fpdecimal.FromFloat(2500.0), balances["USDC"])

	empty, err := b.Balances(ctx, "0xother")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBookSnapshot(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()

	_, err := b.BookSnapshot(ctx, "STT-USDC")
	assert.Error(t, err, "unconfigured symbol")

	b.SetBook("STT-USDC", marketdata.Snapshot{
		Bids: []marketdata.Level{{Price: fpdecimal.FromFloat(99.0), Quantity: fpdecimal.FromFloat(10.0)}},
		Asks: []marketdata.Level{{Price: fpdecimal.FromFloat(101.0), Quantity: fpdecimal.FromFloat(10.0)}},
	})

	snap, err := b.BookSnapshot(ctx, "STT-USDC")
	require.NoError(t, err)
	assert.Equal(t, "STT-USDC", snap.Symbol)
	require.Len(t, snap.Bids, 1)
	assert.False(t, snap.At.IsZero())
}

func TestReset(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()

	_, err := b.SubmitOrder(ctx, limitReq(t, "a", core.Buy, 1, 100))
	require.NoError(t, err)
	b.FailNextBatches(5)

	b.Reset()

	assert.Equal(t, 0, b.SubmissionCount())
	ref, err := b.SubmitOrder(ctx, limitReq(t, "a", core.Buy, 1, 100))
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000001", ref, "sequence restarts after reset")
}
