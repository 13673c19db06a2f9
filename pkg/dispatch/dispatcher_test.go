package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/batchingo/pkg/core"
)

// fakeBackend submits orders one at a time and records the order in which
// it saw them. Failures are injected per request identifier.
type fakeBackend struct {
	mu      sync.Mutex
	single  []string
	failIDs map[string]error
	delay   time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failIDs: make(map[string]error)}
}

func (b *fakeBackend) SubmitOrder(ctx context.Context, req *core.OrderRequest) (string, error) {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.single = append(b.single, req.ID())
	if err, ok := b.failIDs[req.ID()]; ok {
		return "", err
	}
	return "tx-" + req.ID(), nil
}

func (b *fakeBackend) singleCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.single))
	copy(out, b.single)
	return out
}

// fakeBatchBackend adds the batched-submission capability on top of
// fakeBackend.
type fakeBatchBackend struct {
	fakeBackend
	batches  [][]string
	batchErr error
	badCount bool
}

func newFakeBatchBackend() *fakeBatchBackend {
	return &fakeBatchBackend{fakeBackend: fakeBackend{failIDs: make(map[string]error)}}
}

func (b *fakeBatchBackend) SubmitOrders(ctx context.Context, reqs []*core.OrderRequest) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID()
	}
	b.batches = append(b.batches, ids)

	if b.batchErr != nil {
		return nil, b.batchErr
	}

	refs := make([]string, len(reqs))
	for i, r := range reqs {
		refs[i] = "batch-" + r.ID()
	}
	if b.badCount && len(refs) > 0 {
		refs = refs[:len(refs)-1]
	}
	return refs, nil
}

func (b *fakeBatchBackend) batchCalls() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]string, len(b.batches))
	for i, ids := range b.batches {
		out[i] = append([]string(nil), ids...)
	}
	return out
}

func newTestDispatcher(t *testing.T, backend core.OrderSubmitter, mut func(*Options)) *Dispatcher {
	t.Helper()

	opts := DefaultOptions()
	opts.Logger = zerolog.Nop()
	if mut != nil {
		mut(&opts)
	}

	d, err := New(backend, opts)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})

	return d
}

func mustSubmit(t *testing.T, d *Dispatcher, id string) *Handle {
	t.Helper()
	h, err := d.Submit(context.Background(), makeRequest(t, id))
	require.NoError(t, err)
	return h
}

func awaitHandle(t *testing.T, h *Handle) (string, error) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("handle %s never resolved", h.ID())
	}
	return h.Wait(context.Background())
}

func TestNewNilBackend(t *testing.T) {
	_, err := New(nil, DefaultOptions())
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestLifecycleErrors(t *testing.T) {
	backend := newFakeBackend()
	opts := DefaultOptions()
	opts.Logger = zerolog.Nop()

	d, err := New(backend, opts)
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), makeRequest(t, "req-1"))
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, d.Start())
	assert.ErrorIs(t, d.Start(), ErrAlreadyStarted)

	ctx := context.Background()
	require.NoError(t, d.Stop(ctx))
	require.NoError(t, d.Stop(ctx), "stop is idempotent")

	_, err = d.Submit(ctx, makeRequest(t, "req-1"))
	assert.ErrorIs(t, err, core.ErrQueueClosed)
}

func TestBatchBySize(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 3
		o.Timeout = 5 * time.Second
	})
	require.True(t, d.Batched())

	ids := []string{"req-1", "req-2", "req-3"}
	handles := make([]*Handle, len(ids))
	for i, id := range ids {
		handles[i] = mustSubmit(t, d, id)
	}

	for i, h := range handles {
		ref, err := awaitHandle(t, h)
		require.NoError(t, err)
		assert.Equal(t, "batch-"+ids[i], ref, "each caller gets its own reference")
	}

	// One batched call carrying all three in arrival order, well before
	// the timeout could have fired.
	assert.Equal(t, [][]string{ids}, backend.batchCalls())
	assert.Empty(t, backend.singleCalls())
	assert.Equal(t, 0, d.Pending())
}

func TestBatchByTimeout(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 5
		o.Timeout = 100 * time.Millisecond
	})

	h1 := mustSubmit(t, d, "req-1")
	h2 := mustSubmit(t, d, "req-2")

	ref, err := awaitHandle(t, h1)
	require.NoError(t, err)
	assert.Equal(t, "batch-req-1", ref)
	ref, err = awaitHandle(t, h2)
	require.NoError(t, err)
	assert.Equal(t, "batch-req-2", ref)

	assert.Equal(t, [][]string{{"req-1", "req-2"}}, backend.batchCalls(),
		"timeout cuts the partial window")
}

func TestFallbackOnBatchFailure(t *testing.T) {
	backend := newFakeBatchBackend()
	backend.batchErr = errors.New("rpc unavailable")
	wantErr := errors.New("insufficient balance")
	backend.failIDs["req-2"] = wantErr

	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 3
		o.Timeout = 5 * time.Second
	})

	h1 := mustSubmit(t, d, "req-1")
	h2 := mustSubmit(t, d, "req-2")
	h3 := mustSubmit(t, d, "req-3")

	ref, err := awaitHandle(t, h1)
	require.NoError(t, err)
	assert.Equal(t, "tx-req-1", ref)

	_, err = awaitHandle(t, h2)
	assert.ErrorIs(t, err, wantErr, "the failing request gets its own error")

	ref, err = awaitHandle(t, h3)
	require.NoError(t, err, "one bad order must not fail its batch-mates")
	assert.Equal(t, "tx-req-3", ref)

	require.Len(t, backend.batchCalls(), 1, "primary path attempted once")
	assert.Equal(t, []string{"req-1", "req-2", "req-3"}, backend.singleCalls(),
		"every request reaches the fallback path")
}

func TestFallbackOnMalformedBatchResult(t *testing.T) {
	backend := newFakeBatchBackend()
	backend.badCount = true

	var buf bytes.Buffer
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 3
		o.Timeout = 5 * time.Second
		o.Logger = zerolog.New(&buf)
	})

	handles := []*Handle{
		mustSubmit(t, d, "req-1"),
		mustSubmit(t, d, "req-2"),
		mustSubmit(t, d, "req-3"),
	}

	for i, h := range handles {
		ref, err := awaitHandle(t, h)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("tx-req-%d", i+1), ref,
			"mismatched refs are never guessed at; fallback resubmits")
	}

	assert.Len(t, backend.singleCalls(), 3)
	assert.Contains(t, buf.String(), "mismatched reference count")
}

func TestNoBatchCapability(t *testing.T) {
	backend := newFakeBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 2
		o.Timeout = 5 * time.Second
	})
	require.False(t, d.Batched())

	h1 := mustSubmit(t, d, "req-1")
	h2 := mustSubmit(t, d, "req-2")

	ref, err := awaitHandle(t, h1)
	require.NoError(t, err)
	assert.Equal(t, "tx-req-1", ref)
	ref, err = awaitHandle(t, h2)
	require.NoError(t, err)
	assert.Equal(t, "tx-req-2", ref)

	assert.Equal(t, []string{"req-1", "req-2"}, backend.singleCalls())
}

func TestDisabledMode(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.Enabled = false
		o.Timeout = time.Second
	})

	start := time.Now()
	h := mustSubmit(t, d, "req-1")
	ref, err := awaitHandle(t, h)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "tx-req-1", ref)
	assert.Less(t, elapsed, 500*time.Millisecond,
		"disabled mode must not wait out the window timeout")
	assert.Equal(t, 0, d.Pending())
	assert.Empty(t, backend.batchCalls())
}

func TestDuplicateRequestID(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 10
		o.Timeout = time.Minute
	})

	mustSubmit(t, d, "req-1")
	_, err := d.Submit(context.Background(), makeRequest(t, "req-1"))
	assert.ErrorIs(t, err, core.ErrDuplicateRequest)
}

func TestQueueCapacityRejection(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 100
		o.Timeout = time.Minute
		o.Capacity = 2
	})

	mustSubmit(t, d, "req-1")
	mustSubmit(t, d, "req-2")
	_, err := d.Submit(context.Background(), makeRequest(t, "req-3"))
	assert.ErrorIs(t, err, core.ErrQueueFull)
}

func TestCancelPendingRequest(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 10
		o.Timeout = time.Minute
	})

	h1 := mustSubmit(t, d, "req-1")
	mustSubmit(t, d, "req-2")

	require.True(t, d.Cancel("req-1"))
	_, err := awaitHandle(t, h1)
	assert.ErrorIs(t, err, core.ErrRequestCanceled)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.Equal(t, [][]string{{"req-2"}}, backend.batchCalls(),
		"a canceled request never reaches the backend")
}

func TestCancelInFlightIneffective(t *testing.T) {
	backend := newFakeBatchBackend()
	backend.delay = 100 * time.Millisecond
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 1
	})

	h := mustSubmit(t, d, "req-1")
	require.Eventually(t, func() bool {
		return d.Pending() == 0
	}, time.Second, time.Millisecond, "request drained into a batch")

	assert.False(t, d.Cancel("req-1"), "drained requests are in flight")

	ref, err := awaitHandle(t, h)
	require.NoError(t, err)
	assert.Equal(t, "batch-req-1", ref)
}

func TestStaleTimerCannotCutNextWindow(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 10
		o.Timeout = 100 * time.Millisecond
	})

	h1 := mustSubmit(t, d, "req-1")
	require.True(t, d.Cancel("req-1"))
	_, err := awaitHandle(t, h1)
	require.ErrorIs(t, err, core.ErrRequestCanceled)

	// The first window's timer is still ticking. The next request starts
	// a fresh window and must get its full timeout.
	time.Sleep(40 * time.Millisecond)
	start := time.Now()
	h2 := mustSubmit(t, d, "req-2")

	ref, err := awaitHandle(t, h2)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, "batch-req-2", ref)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond,
		"the stale timer must not flush the new window early")
	assert.Equal(t, [][]string{{"req-2"}}, backend.batchCalls())
}

func TestEmptyWindowTimerDispatchesNothing(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 10
		o.Timeout = 50 * time.Millisecond
	})

	mustSubmit(t, d, "req-1")
	require.True(t, d.Cancel("req-1"))

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, backend.batchCalls())
	assert.Empty(t, backend.singleCalls())
}

func TestShutdownFlushesPending(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 10
		o.Timeout = time.Minute
	})

	h1 := mustSubmit(t, d, "req-1")
	h2 := mustSubmit(t, d, "req-2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	ref, err := awaitHandle(t, h1)
	require.NoError(t, err)
	assert.Equal(t, "batch-req-1", ref)
	ref, err = awaitHandle(t, h2)
	require.NoError(t, err)
	assert.Equal(t, "batch-req-2", ref)

	assert.Equal(t, [][]string{{"req-1", "req-2"}}, backend.batchCalls())
}

func TestTimerCallbackAfterStopIsRefused(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 10
		o.Timeout = time.Minute
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	// A timer callback that lost the race against shutdown lands here;
	// it must neither dispatch nor touch the in-flight accounting.
	d.flushWindow(0, core.FlushTimeout)

	assert.Empty(t, backend.batchCalls())
	assert.Empty(t, backend.singleCalls())
}

func TestBatchOrderPreservedAcrossWindows(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 2
		o.Timeout = time.Minute
	})

	var handles []*Handle
	for i := 1; i <= 4; i++ {
		handles = append(handles, mustSubmit(t, d, fmt.Sprintf("req-%d", i)))
	}
	for _, h := range handles {
		_, err := awaitHandle(t, h)
		require.NoError(t, err)
	}

	assert.Equal(t, [][]string{{"req-1", "req-2"}, {"req-3", "req-4"}},
		backend.batchCalls(), "batches are dispatched in the order they were cut")
}

func TestConcurrentSubmissions(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 5
		o.Timeout = 50 * time.Millisecond
	})

	const producers = 8
	const perProducer = 5

	var mu sync.Mutex
	handles := make(map[string]*Handle)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := fmt.Sprintf("req-%d-%d", p, i)
				h, err := d.Submit(context.Background(), makeRequest(t, id))
				if err != nil {
					t.Errorf("submit %s: %v", id, err)
					return
				}
				mu.Lock()
				handles[id] = h
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	require.Len(t, handles, producers*perProducer)
	for id, h := range handles {
		ref, err := awaitHandle(t, h)
		require.NoError(t, err)
		assert.Equal(t, "batch-"+id, ref, "caller %s received a stranger's result", id)
	}

	seen := make(map[string]int)
	for _, ids := range backend.batchCalls() {
		for _, id := range ids {
			seen[id]++
		}
	}
	assert.Len(t, seen, producers*perProducer, "no request lost")
	for id, n := range seen {
		if n != 1 {
			t.Errorf("request %s dispatched %d times", id, n)
		}
	}
}

func TestDispatchTimeoutBoundsBackendCall(t *testing.T) {
	backend := newFakeBackend()
	backend.delay = 300 * time.Millisecond
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 1
		o.DispatchTimeout = 50 * time.Millisecond
	})

	h := mustSubmit(t, d, "req-1")
	_, err := awaitHandle(t, h)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPerformanceSpansRecorded(t *testing.T) {
	backend := newFakeBatchBackend()
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 2
		o.Timeout = time.Minute
	})

	h1 := mustSubmit(t, d, "req-1")
	h2 := mustSubmit(t, d, "req-2")
	_, err := awaitHandle(t, h1)
	require.NoError(t, err)
	_, err = awaitHandle(t, h2)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		names := make(map[string]bool)
		for _, s := range d.Tracker().Summarize() {
			names[s.Name] = true
		}
		return names["flush.drain"] && names["dispatch.batch"] && names["queue.wait"]
	}, time.Second, 5*time.Millisecond)
}

type countingObserver struct {
	mu      sync.Mutex
	batches int
	items   int
}

func (o *countingObserver) BatchDispatched(batch *core.Batch, outcome *core.DispatchOutcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches++
	o.items += len(outcome.Items)
}

func TestObserverNotified(t *testing.T) {
	backend := newFakeBatchBackend()
	obs := &countingObserver{}
	d := newTestDispatcher(t, backend, func(o *Options) {
		o.SizeThreshold = 2
		o.Timeout = time.Minute
		o.Observer = obs
	})

	h1 := mustSubmit(t, d, "req-1")
	h2 := mustSubmit(t, d, "req-2")
	_, err := awaitHandle(t, h1)
	require.NoError(t, err)
	_, err = awaitHandle(t, h2)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.batches == 1 && obs.items == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRouterIdentityGuard(t *testing.T) {
	// Hand the router an outcome whose identities do not line up and
	// make sure no handle hangs or receives a stranger's result.
	var buf bytes.Buffer
	r := NewRouter(zerolog.New(&buf))

	batch := core.NewBatch([]*core.OrderRequest{makeRequest(t, "req-1")}, core.FlushSize)
	handles := []*Handle{newHandle("req-1")}
	outcome := &core.DispatchOutcome{Items: []core.ItemOutcome{{RequestID: "req-9", Ref: "batch-req-9"}}}

	r.Route(batch, handles, outcome)

	require.True(t, handles[0].Resolved())
	_, err := handles[0].Wait(context.Background())
	assert.ErrorIs(t, err, core.ErrMalformedBatchResult)
	assert.True(t, strings.Contains(buf.String(), "identity mismatch"))
}
