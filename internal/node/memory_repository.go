package node

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Node
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Node)}
}

func (r *memoryRepository) Create(_ context.Context, n Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[n.ID]; exists {
		return ErrNodeExists
	}
	r.storage[n.ID] = n
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.storage[id]
	if !ok {
		return Node{}, ErrNodeNotFound
	}
	return n, nil
}

func (r *memoryRepository) List(_ context.Context) ([]Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.storage))
	for _, n := range r.storage {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
