// Package store implements IVXP's OrderStore and DeliverableStore:
// in-memory, mutex-guarded repositories for order state and finished
// deliverables.
package store

import (
	"sync"
	"time"

	"github.com/ivxp-protocol/ivxp-go"
)

// OrderStore persists Order records and enforces the lifecycle transition
// graph (ivxp.CanTransition) on every status update.
type OrderStore interface {
	Create(order ivxp.Order) error
	Get(orderID string) (ivxp.Order, error)
	UpdateStatus(orderID string, newStatus ivxp.OrderStatus, mutate func(*ivxp.Order)) error
	TxHashUsed(txHash string) bool
	MarkTxHashUsed(txHash string)
}

// MemoryOrderStore is an in-process OrderStore backed by a map. One mutex
// per store (not per order) guards the whole map; callers needing
// read-modify-write semantics should use UpdateStatus, which holds the lock
// for the full validate-then-mutate sequence.
type MemoryOrderStore struct {
	mu      sync.Mutex
	orders  map[string]ivxp.Order
	txHashes map[string]struct{}
}

// NewMemoryOrderStore returns an empty MemoryOrderStore.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders:   make(map[string]ivxp.Order),
		txHashes: make(map[string]struct{}),
	}
}

// Create inserts a brand-new order. It is an error to create an order ID
// that already exists.
func (s *MemoryOrderStore) Create(order ivxp.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.OrderID]; exists {
		return ivxp.New(ivxp.ErrOrderIDMismatch, "order already exists: "+order.OrderID)
	}
	s.orders[order.OrderID] = order
	return nil
}

// Get returns a copy of the order identified by orderID.
func (s *MemoryOrderStore) Get(orderID string) (ivxp.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return ivxp.Order{}, ivxp.New(ivxp.ErrOrderNotFound, "order not found: "+orderID)
	}
	return order, nil
}

// UpdateStatus validates newStatus is reachable from the order's current
// status, applies mutate to a copy of the stored order, stamps its status,
// and persists the result atomically. mutate may set additional fields
// (TxHash, ContentHash, ConfirmedAt) alongside the status transition.
func (s *MemoryOrderStore) UpdateStatus(orderID string, newStatus ivxp.OrderStatus, mutate func(*ivxp.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return ivxp.New(ivxp.ErrOrderNotFound, "order not found: "+orderID)
	}
	if !ivxp.CanTransition(order.Status, newStatus) {
		return ivxp.New(ivxp.ErrInvalidOrderStatus, "illegal transition from "+string(order.Status)+" to "+string(newStatus)).
			WithDetails(map[string]interface{}{"from": order.Status, "to": newStatus})
	}

	order.Status = newStatus
	if mutate != nil {
		mutate(&order)
	}
	s.orders[orderID] = order
	return nil
}

// TxHashUsed reports whether txHash has already been consumed by a prior
// payment, guarding against replay.
func (s *MemoryOrderStore) TxHashUsed(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, used := s.txHashes[txHash]
	return used
}

// MarkTxHashUsed records txHash as consumed.
func (s *MemoryOrderStore) MarkTxHashUsed(txHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txHashes[txHash] = struct{}{}
}

// DeliverableStore persists finished Deliverable content. Inserts are
// write-once: a deliverable is produced exactly once per order.
type DeliverableStore interface {
	Insert(deliverable ivxp.Deliverable) error
	Get(orderID string) (ivxp.Deliverable, error)
}

// MemoryDeliverableStore is an in-process DeliverableStore backed by a map.
type MemoryDeliverableStore struct {
	mu           sync.Mutex
	deliverables map[string]ivxp.Deliverable
}

// NewMemoryDeliverableStore returns an empty MemoryDeliverableStore.
func NewMemoryDeliverableStore() *MemoryDeliverableStore {
	return &MemoryDeliverableStore{deliverables: make(map[string]ivxp.Deliverable)}
}

// Insert stores deliverable, rejecting a second insert for the same order.
func (s *MemoryDeliverableStore) Insert(deliverable ivxp.Deliverable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deliverables[deliverable.OrderID]; exists {
		return ivxp.New(ivxp.ErrDeliverableAlreadyExists, "deliverable already recorded for order: "+deliverable.OrderID)
	}
	if deliverable.CreatedAt.IsZero() {
		deliverable.CreatedAt = time.Now().UTC()
	}
	s.deliverables[deliverable.OrderID] = deliverable
	return nil
}

// Get returns the deliverable recorded for orderID, or
// ivxp.ErrDeliverableNotReady if none has been produced yet.
func (s *MemoryDeliverableStore) Get(orderID string) (ivxp.Deliverable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliverables[orderID]
	if !ok {
		return ivxp.Deliverable{}, ivxp.New(ivxp.ErrDeliverableNotReady, "deliverable not ready for order: "+orderID)
	}
	return d, nil
}
