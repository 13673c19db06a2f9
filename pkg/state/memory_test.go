package state

import (
	"context"
	"testing"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/batchingo/pkg/core"
)

const testAccount = "0x1111111111111111111111111111111111111111"

func testRecord(t *testing.T, id string) *OrderRecord {
	t.Helper()
	req, err := core.NewLimitRequest(id, "STT-USDC", core.Buy,
		fpdecimal.FromFloat(1.0), fpdecimal.FromFloat(0.5), testAccount)
	require.NoError(t, err)
	return NewOrderRecord(req)
}

func TestNewOrderRecord(t *testing.T) {
	rec := testRecord(t, "o1")

	assert.Equal(t, "o1", rec.ID)
	assert.Equal(t, "STT-USDC", rec.Symbol)
	assert.Equal(t, "BUY", rec.Side)
	assert.Equal(t, core.KindLimit, rec.Kind)
	assert.Equal(t, "1.000", rec.Quantity)
	assert.Equal(t, "0.500", rec.Price)
	assert.Equal(t, core.StatusPending, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestMemoryStoreSaveGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := testRecord(t, "o1")
	require.NoError(t, store.SaveOrder(ctx, rec))

	got, err := store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Status, got.Status)

	// Duplicate save rejected.
	assert.ErrorIs(t, store.SaveOrder(ctx, testRecord(t, "o1")), ErrDuplicateOrder)

	// Returned record is a copy.
	got.Status = core.StatusFilled
	again, err := store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, again.Status)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSetStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveOrder(ctx, testRecord(t, "o1")))
	require.NoError(t, store.SetStatus(ctx, "o1", core.StatusOpen))

	got, err := store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOpen, got.Status)

	assert.ErrorIs(t, store.SetStatus(ctx, "nope", core.StatusOpen), ErrNotFound)
}

func TestMemoryStoreBindRef(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveOrder(ctx, testRecord(t, "o1")))
	require.NoError(t, store.BindRef(ctx, "o1", "0xabc"))

	got, err := store.OrderByRef(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, "0xabc", got.Ref)

	_, err = store.OrderByRef(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreOpenOrders(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveOrder(ctx, testRecord(t, "o1")))
	require.NoError(t, store.SaveOrder(ctx, testRecord(t, "o2")))
	require.NoError(t, store.SaveOrder(ctx, testRecord(t, "o3")))
	require.NoError(t, store.SetStatus(ctx, "o2", core.StatusFilled))

	open, err := store.OpenOrders(ctx, testAccount)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	open, err = store.OpenOrders(ctx, "0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMemoryStoreDeleteOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveOrder(ctx, testRecord(t, "o1")))
	require.NoError(t, store.BindRef(ctx, "o1", "0xabc"))
	require.NoError(t, store.DeleteOrder(ctx, "o1"))

	_, err := store.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.OrderByRef(ctx, "0xabc")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.DeleteOrder(ctx, "o1"), ErrNotFound)
}

func TestMemoryStorePendingTx(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.AddPendingTx(ctx, "0xtx1", []string{"o1", "o2"}))
	require.NoError(t, store.AddPendingTx(ctx, "0xtx2", []string{"o3"}))

	refs, err := store.PendingTxs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0xtx1", "0xtx2"}, refs)

	ids, err := store.TakePendingTx(ctx, "0xtx1")
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, ids)

	_, err = store.TakePendingTx(ctx, "0xtx1")
	assert.ErrorIs(t, err, ErrNotFound)

	refs, err = store.PendingTxs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xtx2"}, refs)
}

func TestMemoryStoreBalances(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Balances(ctx, testAccount)
	assert.ErrorIs(t, err, ErrNotFound)

	balances := map[string]fpdecimal.Decimal{
		"STT":  fpdecimal.FromFloat(10.5),
		"USDC": fpdecimal.FromFloat(1000.0),
	}
	require.NoError(t, store.SetBalances(ctx, testAccount, balances))

	got, err := store.Balances(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, fpdecimal.FromFloat(10.5), got["STT"])
	assert.Equal(t, fpdecimal.FromFloat(1000.0), got["USDC"])

	// Returned map is a copy.
	got["STT"] = fpdecimal.Zero
	again, err := store.Balances(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, fpdecimal.FromFloat(10.5), again["STT"])
}
