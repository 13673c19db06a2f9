package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/batchingo/pkg/core"
)

// MemoryStore keeps all records in process memory. It is the default
// store and the one tests use.
type MemoryStore struct {
	sync.RWMutex
	orders   map[string]*OrderRecord
	byRef    map[string]string   // ref -> order ID
	pending  map[string][]string // tx ref -> order IDs
	balances map[string]map[string]fpdecimal.Decimal
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*OrderRecord),
		byRef:    make(map[string]string),
		pending:  make(map[string][]string),
		balances: make(map[string]map[string]fpdecimal.Decimal),
	}
}

// SaveOrder stores a new record
func (s *MemoryStore) SaveOrder(_ context.Context, rec *OrderRecord) error {
	s.Lock()
	defer s.Unlock()

	if _, exists := s.orders[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, rec.ID)
	}
	s.orders[rec.ID] = rec.Clone()
	if rec.Ref != "" {
		s.byRef[rec.Ref] = rec.ID
	}
	return nil
}

// GetOrder fetches a record by ID
func (s *MemoryStore) GetOrder(_ context.Context, id string) (*OrderRecord, error) {
	s.RLock()
	defer s.RUnlock()

	rec, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// UpdateOrder replaces an existing record
func (s *MemoryStore) UpdateOrder(_ context.Context, rec *OrderRecord) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.orders[rec.ID]; !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, rec.ID)
	}
	cp := rec.Clone()
	cp.UpdatedAt = time.Now()
	s.orders[rec.ID] = cp
	if cp.Ref != "" {
		s.byRef[cp.Ref] = cp.ID
	}
	return nil
}

// SetStatus transitions an order's status
func (s *MemoryStore) SetStatus(_ context.Context, id string, status core.OrderStatus) error {
	s.Lock()
	defer s.Unlock()

	rec, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	return nil
}

// BindRef attaches a submission reference to an order
func (s *MemoryStore) BindRef(_ context.Context, id, ref string) error {
	s.Lock()
	defer s.Unlock()

	rec, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	rec.Ref = ref
	rec.UpdatedAt = time.Now()
	s.byRef[ref] = id
	return nil
}

// OrderByRef resolves a submission reference to its record
func (s *MemoryStore) OrderByRef(_ context.Context, ref string) (*OrderRecord, error) {
	s.RLock()
	defer s.RUnlock()

	id, ok := s.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("%w: ref %s", ErrNotFound, ref)
	}
	rec, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// OpenOrders lists an account's non-terminal records
func (s *MemoryStore) OpenOrders(_ context.Context, account string) ([]*OrderRecord, error) {
	s.RLock()
	defer s.RUnlock()

	var out []*OrderRecord
	for _, rec := range s.orders {
		if rec.Account == account && !rec.Status.Terminal() {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// DeleteOrder removes a record and its reference binding
func (s *MemoryStore) DeleteOrder(_ context.Context, id string) error {
	s.Lock()
	defer s.Unlock()

	rec, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if rec.Ref != "" {
		delete(s.byRef, rec.Ref)
	}
	delete(s.orders, id)
	return nil
}

// AddPendingTx marks a submission reference as awaiting confirmation
func (s *MemoryStore) AddPendingTx(_ context.Context, ref string, orderIDs []string) error {
	s.Lock()
	defer s.Unlock()

	ids := make([]string, len(orderIDs))
	copy(ids, orderIDs)
	s.pending[ref] = ids
	return nil
}

// TakePendingTx removes a pending reference, returning its order IDs
func (s *MemoryStore) TakePendingTx(_ context.Context, ref string) ([]string, error) {
	s.Lock()
	defer s.Unlock()

	ids, ok := s.pending[ref]
	if !ok {
		return nil, fmt.Errorf("%w: pending tx %s", ErrNotFound, ref)
	}
	delete(s.pending, ref)
	return ids, nil
}

// PendingTxs lists references still awaiting confirmation
func (s *MemoryStore) PendingTxs(_ context.Context) ([]string, error) {
	s.RLock()
	defer s.RUnlock()

	out := make([]string, 0, len(s.pending))
	for ref := range s.pending {
		out = append(out, ref)
	}
	return out, nil
}

// SetBalances caches an account's balances
func (s *MemoryStore) SetBalances(_ context.Context, account string, balances map[string]fpdecimal.Decimal) error {
	s.Lock()
	defer s.Unlock()

	cp := make(map[string]fpdecimal.Decimal, len(balances))
	for sym, amount := range balances {
		cp[sym] = amount
	}
	s.balances[account] = cp
	return nil
}

// Balances returns cached balances for an account
func (s *MemoryStore) Balances(_ context.Context, account string) (map[string]fpdecimal.Decimal, error) {
	s.RLock()
	defer s.RUnlock()

	cached, ok := s.balances[account]
	if !ok {
		return nil, fmt.Errorf("%w: balances for %s", ErrNotFound, account)
	}
	out := make(map[string]fpdecimal.Decimal, len(cached))
	for sym, amount := range cached {
		out[sym] = amount
	}
	return out, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
