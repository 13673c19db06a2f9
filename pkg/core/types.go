package core

import (
	"encoding/json"
	"time"
)

// FlushReason records which trigger cut a batch
type FlushReason string

// Flush reasons
const (
	FlushSize     FlushReason = "SIZE"
	FlushTimeout  FlushReason = "TIMEOUT"
	FlushShutdown FlushReason = "SHUTDOWN"
)

// OrderStatus represents the lifecycle state of a submitted order
type OrderStatus string

// Order statuses
const (
	StatusPending         OrderStatus = "PENDING"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusFailed          OrderStatus = "FAILED"
)

// Terminal reports whether the status can no longer change
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// Batch is an ordered snapshot of requests drained from the queue.
// Immutable once cut; consumed exactly once by the dispatcher.
type Batch struct {
	requests []*OrderRequest
	cutAt    time.Time
	reason   FlushReason
}

// NewBatch cuts a batch from the given requests, preserving their order
func NewBatch(requests []*OrderRequest, reason FlushReason) *Batch {
	return &Batch{
		requests: requests,
		cutAt:    time.Now(),
		reason:   reason,
	}
}

// Requests returns the batch contents in arrival order
func (b *Batch) Requests() []*OrderRequest {
	return b.requests
}

// Len returns the number of requests in the batch
func (b *Batch) Len() int {
	return len(b.requests)
}

// IsEmpty returns true when the batch holds no requests
func (b *Batch) IsEmpty() bool {
	return len(b.requests) == 0
}

// CutAt returns the time the batch was drained
func (b *Batch) CutAt() time.Time {
	return b.cutAt
}

// Reason returns the trigger that cut the batch
func (b *Batch) Reason() FlushReason {
	return b.reason
}

// RequestIDs returns the request identifiers in batch order
func (b *Batch) RequestIDs() []string {
	ids := make([]string, len(b.requests))
	for i, r := range b.requests {
		ids[i] = r.ID()
	}
	return ids
}

// ItemOutcome is the terminal result for one request of a batch
type ItemOutcome struct {
	RequestID string
	Ref       string
	Err       error
}

// Succeeded reports whether the request received a submission reference
func (o ItemOutcome) Succeeded() bool {
	return o.Err == nil
}

// MarshalJSON implements Marshaler interface
func (o ItemOutcome) MarshalJSON() ([]byte, error) {
	errMsg := ""
	if o.Err != nil {
		errMsg = o.Err.Error()
	}

	return json.Marshal(struct {
		RequestID string `json:"requestID"`
		Ref       string `json:"ref,omitempty"`
		Error     string `json:"error,omitempty"`
	}{
		RequestID: o.RequestID,
		Ref:       o.Ref,
		Error:     errMsg,
	})
}

// DispatchOutcome answers a Batch: one ItemOutcome per request, in batch
// order. Fallback marks that the per-item path produced the outcomes and
// BatchErr then carries the primary-path failure.
type DispatchOutcome struct {
	Fallback bool
	BatchErr error
	Items    []ItemOutcome
}

// NewBatchedOutcome builds the outcome of a successful batched call. A
// reference count that does not match the batch is a protocol violation
// reported as ErrMalformedBatchResult, never guessed around.
func NewBatchedOutcome(batch *Batch, refs []string) (*DispatchOutcome, error) {
	if len(refs) != batch.Len() {
		return nil, ErrMalformedBatchResult
	}

	items := make([]ItemOutcome, batch.Len())
	for i, req := range batch.Requests() {
		items[i] = ItemOutcome{RequestID: req.ID(), Ref: refs[i]}
	}

	return &DispatchOutcome{Items: items}, nil
}

// NewFallbackOutcome builds the outcome of a per-item fallback pass
func NewFallbackOutcome(batchErr error, items []ItemOutcome) *DispatchOutcome {
	return &DispatchOutcome{
		Fallback: true,
		BatchErr: batchErr,
		Items:    items,
	}
}

// Succeeded returns how many requests received a reference
func (d *DispatchOutcome) Succeeded() int {
	n := 0
	for _, item := range d.Items {
		if item.Succeeded() {
			n++
		}
	}
	return n
}

// Failed returns how many requests ended with an error
func (d *DispatchOutcome) Failed() int {
	return len(d.Items) - d.Succeeded()
}
