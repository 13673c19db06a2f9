package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/batchingo/pkg/core"
)

func makeRequest(t *testing.T, id string) *core.OrderRequest {
	t.Helper()
	account, err := core.RandomAddress()
	require.NoError(t, err)
	req, err := core.NewLimitRequest(id, "STT-USDC", core.Buy,
		fpdecimal.FromFloat(1.5), fpdecimal.FromFloat(10.0), account)
	require.NoError(t, err)
	return req
}

func TestQueueEnqueuePositions(t *testing.T) {
	q := NewQueue(10)

	for i := 1; i <= 3; i++ {
		h, pos, err := q.Enqueue(makeRequest(t, fmt.Sprintf("req-%d", i)))
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.Equal(t, i, pos.Count)
		assert.Equal(t, uint64(0), pos.Gen)
	}
	assert.Equal(t, 3, q.Len())
}

func TestQueueEnqueueStampsTime(t *testing.T) {
	q := NewQueue(10)
	req := makeRequest(t, "req-1")
	require.True(t, req.EnqueuedAt().IsZero())

	before := time.Now()
	_, _, err := q.Enqueue(req)
	require.NoError(t, err)

	assert.False(t, req.EnqueuedAt().Before(before))
}

func TestQueueDuplicate(t *testing.T) {
	q := NewQueue(10)

	_, _, err := q.Enqueue(makeRequest(t, "req-1"))
	require.NoError(t, err)

	_, _, err = q.Enqueue(makeRequest(t, "req-1"))
	assert.ErrorIs(t, err, core.ErrDuplicateRequest)

	// Identifiers are unique among pending requests only; after a drain
	// the identifier may be reused.
	batch, _ := q.Drain(0, core.FlushSize)
	require.NotNil(t, batch)

	_, _, err = q.Enqueue(makeRequest(t, "req-1"))
	assert.NoError(t, err)
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(2)

	_, _, err := q.Enqueue(makeRequest(t, "req-1"))
	require.NoError(t, err)
	_, _, err = q.Enqueue(makeRequest(t, "req-2"))
	require.NoError(t, err)

	_, _, err = q.Enqueue(makeRequest(t, "req-3"))
	assert.ErrorIs(t, err, core.ErrQueueFull)

	// Draining frees capacity.
	q.Drain(0, core.FlushSize)
	_, _, err = q.Enqueue(makeRequest(t, "req-3"))
	assert.NoError(t, err)
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(10)
	q.Close()

	_, _, err := q.Enqueue(makeRequest(t, "req-1"))
	assert.ErrorIs(t, err, core.ErrQueueClosed)
	assert.True(t, q.Closed())
}

func TestQueueDrainOrderAndAlignment(t *testing.T) {
	q := NewQueue(10)

	ids := []string{"req-1", "req-2", "req-3"}
	for _, id := range ids {
		_, _, err := q.Enqueue(makeRequest(t, id))
		require.NoError(t, err)
	}

	batch, handles := q.Drain(0, core.FlushTimeout)
	require.NotNil(t, batch)
	assert.Equal(t, ids, batch.RequestIDs())
	assert.Equal(t, core.FlushTimeout, batch.Reason())

	require.Len(t, handles, 3)
	for i, h := range handles {
		assert.Equal(t, ids[i], h.ID())
	}

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, uint64(1), q.Gen())
}

func TestQueueDrainStaleGen(t *testing.T) {
	q := NewQueue(10)
	_, _, err := q.Enqueue(makeRequest(t, "req-1"))
	require.NoError(t, err)

	batch, handles := q.Drain(7, core.FlushTimeout)
	assert.Nil(t, batch)
	assert.Nil(t, handles)
	assert.Equal(t, 1, q.Len(), "stale drain must not touch the queue")

	batch, _ = q.Drain(0, core.FlushSize)
	require.NotNil(t, batch)

	// The old generation is gone for good.
	_, _, err = q.Enqueue(makeRequest(t, "req-2"))
	require.NoError(t, err)
	batch, _ = q.Drain(0, core.FlushTimeout)
	assert.Nil(t, batch)
	assert.Equal(t, 1, q.Len())
}

func TestQueueDrainEmpty(t *testing.T) {
	q := NewQueue(10)

	batch, handles := q.Drain(0, core.FlushTimeout)
	assert.Nil(t, batch)
	assert.Nil(t, handles)
	assert.Equal(t, uint64(0), q.Gen(), "empty drain must not end the window")
}

func TestQueueDrainAll(t *testing.T) {
	q := NewQueue(10)
	_, _, err := q.Enqueue(makeRequest(t, "req-1"))
	require.NoError(t, err)

	// DrainAll ignores the generation check.
	batch, handles := q.DrainAll(core.FlushShutdown)
	require.NotNil(t, batch)
	assert.Equal(t, 1, batch.Len())
	assert.Len(t, handles, 1)
	assert.Equal(t, core.FlushShutdown, batch.Reason())

	batch, _ = q.DrainAll(core.FlushShutdown)
	assert.Nil(t, batch)
}

func TestQueueCancelPending(t *testing.T) {
	q := NewQueue(10)

	var handles []*Handle
	for _, id := range []string{"req-1", "req-2", "req-3"} {
		h, _, err := q.Enqueue(makeRequest(t, id))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	require.True(t, q.Cancel("req-2"))

	_, err := handles[1].Wait(context.Background())
	assert.ErrorIs(t, err, core.ErrRequestCanceled)

	// The survivors keep their relative order.
	batch, _ := q.Drain(0, core.FlushSize)
	require.NotNil(t, batch)
	assert.Equal(t, []string{"req-1", "req-3"}, batch.RequestIDs())

	assert.False(t, q.Cancel("req-2"))
	assert.False(t, q.Cancel("never-seen"))
}

func TestQueueCancelAfterDrainIneffective(t *testing.T) {
	q := NewQueue(10)
	h, _, err := q.Enqueue(makeRequest(t, "req-1"))
	require.NoError(t, err)

	batch, _ := q.Drain(0, core.FlushSize)
	require.NotNil(t, batch)

	assert.False(t, q.Cancel("req-1"), "a drained request is in flight")
	assert.False(t, h.Resolved())
}

func TestQueueCancelToEmptyEndsWindow(t *testing.T) {
	q := NewQueue(10)

	_, _, err := q.Enqueue(makeRequest(t, "req-1"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), q.Gen())

	require.True(t, q.Cancel("req-1"))
	assert.Equal(t, uint64(1), q.Gen(), "emptying the queue ends the window")

	// A timer armed for generation 0 can no longer drain anything.
	_, pos, err := q.Enqueue(makeRequest(t, "req-2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pos.Gen)

	batch, _ := q.Drain(0, core.FlushTimeout)
	assert.Nil(t, batch)
	assert.Equal(t, 1, q.Len())
}

func TestQueueConcurrentEnqueueDrain(t *testing.T) {
	q := NewQueue(DefaultCapacity)

	const producers = 8
	const perProducer = 50

	// Every batch holds at least one request, so this can never fill.
	drained := make(chan []string, producers*perProducer+1)
	stop := make(chan struct{})
	var drainWg sync.WaitGroup
	drainWg.Add(1)
	go func() {
		defer drainWg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if batch, _ := q.DrainAll(core.FlushSize); batch != nil {
				drained <- batch.RequestIDs()
			}
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := fmt.Sprintf("req-%d-%d", p, i)
				_, _, err := q.Enqueue(makeRequest(t, id))
				if err != nil {
					t.Errorf("enqueue %s: %v", id, err)
				}
			}
		}(p)
	}
	wg.Wait()

	if batch, _ := q.DrainAll(core.FlushShutdown); batch != nil {
		drained <- batch.RequestIDs()
	}
	close(stop)
	drainWg.Wait()
	close(drained)

	seen := make(map[string]int)
	for ids := range drained {
		for _, id := range ids {
			seen[id]++
		}
	}

	assert.Len(t, seen, producers*perProducer, "every request drained")
	for id, n := range seen {
		if n != 1 {
			t.Errorf("request %s drained %d times", id, n)
		}
	}
}
