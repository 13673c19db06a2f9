package dispatch

import (
	"sync"
	"time"

	"github.com/erain9/batchingo/pkg/core"
)

// DefaultCapacity bounds the pending collection when the caller does not
// configure one
const DefaultCapacity = 1000

// Position describes where an admitted request landed: its one-based count
// within the current window and the window's generation. The window
// controller uses it to decide whether to arm a timer or cut the batch.
type Position struct {
	Count int
	Gen   uint64
}

type pendingItem struct {
	req    *core.OrderRequest
	handle *Handle
}

// Queue is the holding area for requests awaiting dispatch. All mutation
// goes through one mutex; enqueue, drain, and cancel are mutually
// exclusive, so no request is ever lost or drained twice.
//
// Each drain ends a window and increments the generation counter. Flush
// triggers carry the generation they observed, and Drain refuses stale
// generations, which is what makes the timeout-vs-size and cancel-vs-drain
// races safe: whichever trigger runs first wins, the loser becomes a no-op.
type Queue struct {
	mu       sync.Mutex
	items    []pendingItem
	index    map[string]struct{}
	capacity int
	closed   bool
	gen      uint64
}

// NewQueue creates a queue bounded to capacity pending requests.
// Non-positive capacities fall back to DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]pendingItem, 0, capacity),
		index:    make(map[string]struct{}),
		capacity: capacity,
	}
}

// Enqueue admits a request in arrival order, stamps its enqueue time, and
// returns the caller's completion handle together with the request's
// position in the current window. Rejections are synchronous:
// ErrDuplicateRequest for an identifier already pending, ErrQueueFull past
// capacity, ErrQueueClosed after Close.
func (q *Queue) Enqueue(req *core.OrderRequest) (*Handle, Position, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, Position{}, core.ErrQueueClosed
	}
	if _, dup := q.index[req.ID()]; dup {
		return nil, Position{}, core.ErrDuplicateRequest
	}
	if len(q.items) >= q.capacity {
		return nil, Position{}, core.ErrQueueFull
	}

	req.SetEnqueuedAt(time.Now())
	handle := newHandle(req.ID())
	q.items = append(q.items, pendingItem{req: req, handle: handle})
	q.index[req.ID()] = struct{}{}

	return handle, Position{Count: len(q.items), Gen: q.gen}, nil
}

// Drain atomically removes all pending requests and returns them as a
// batch, with the completion handles aligned to the batch's request order.
// A stale generation or an empty queue returns (nil, nil); neither is
// dispatched.
func (q *Queue) Drain(gen uint64, reason core.FlushReason) (*core.Batch, []*Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen != q.gen || len(q.items) == 0 {
		return nil, nil
	}
	return q.takeLocked(reason)
}

// DrainAll removes every pending request regardless of generation. Used at
// shutdown to give queued requests a final dispatch.
func (q *Queue) DrainAll(reason core.FlushReason) (*core.Batch, []*Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, nil
	}
	return q.takeLocked(reason)
}

func (q *Queue) takeLocked(reason core.FlushReason) (*core.Batch, []*Handle) {
	reqs := make([]*core.OrderRequest, len(q.items))
	handles := make([]*Handle, len(q.items))
	for i, item := range q.items {
		reqs[i] = item.req
		handles[i] = item.handle
	}

	q.items = q.items[:0]
	q.index = make(map[string]struct{})
	q.gen++

	return core.NewBatch(reqs, reason), handles
}

// Cancel removes a pending request and resolves its handle with
// ErrRequestCanceled, leaving the remaining requests in order. It returns
// false when the identifier is not pending, which after a concurrent drain
// means the request is already in flight and cancellation is ineffective.
// Emptying the queue ends the current window, so a timer armed for it can
// never cut requests that arrive later.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()

	if _, ok := q.index[id]; !ok {
		q.mu.Unlock()
		return false
	}

	var handle *Handle
	for i, item := range q.items {
		if item.req.ID() == id {
			handle = item.handle
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.index, id)
	if len(q.items) == 0 {
		q.gen++
	}
	q.mu.Unlock()

	handle.resolve("", core.ErrRequestCanceled)
	return true
}

// Close rejects all future enqueues with ErrQueueClosed. Pending requests
// stay queued for a final DrainAll.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Closed reports whether Close has been called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of pending requests
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Gen returns the current window generation
func (q *Queue) Gen() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}
