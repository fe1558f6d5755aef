package invoice

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu       sync.RWMutex
	storage  map[string]Invoice
	byPeriod map[string]string
}

// NewMemoryRepository constructs an in-memory repository for tests and
// development mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		storage:  make(map[string]Invoice),
		byPeriod: make(map[string]string),
	}
}

func periodKey(nodeID, period string) string {
	return nodeID + "|" + period
}

func (r *memoryRepository) Create(_ context.Context, inv Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := periodKey(inv.NodeID, inv.Period)
	if _, exists := r.byPeriod[key]; exists {
		return ErrInvoiceExists
	}
	r.storage[inv.ID] = inv.clone()
	r.byPeriod[key] = inv.ID
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.storage[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv.clone(), nil
}

func (r *memoryRepository) GetByPeriod(_ context.Context, nodeID, period string) (Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPeriod[periodKey(nodeID, period)]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return r.storage[id].clone(), nil
}

func (r *memoryRepository) ListByNode(_ context.Context, nodeID string) ([]Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Invoice
	for _, inv := range r.storage {
		if inv.NodeID == nodeID {
			out = append(out, inv.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func (r *memoryRepository) MarkPaid(_ context.Context, inv Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.storage[inv.ID]
	if !ok {
		return ErrInvoiceNotFound
	}
	if stored.Status == StatusPaid {
		return ErrAlreadyPaid
	}
	stored.Status = StatusPaid
	stored.PaidAt = inv.PaidAt
	r.storage[inv.ID] = stored.clone()
	return nil
}
