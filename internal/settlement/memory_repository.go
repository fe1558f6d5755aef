package settlement

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Transaction
	byPayer map[string][]string
}

// NewMemoryRepository constructs an in-memory repository for tests and
// development mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		storage: make(map[string]Transaction),
		byPayer: make(map[string][]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, tx Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[tx.ID]; exists {
		return ErrTransactionExists
	}
	r.storage[tx.ID] = tx.clone()
	seen := make(map[string]bool, len(tx.Payers))
	for _, p := range tx.Payers {
		if seen[p.AccountID] {
			continue
		}
		seen[p.AccountID] = true
		r.byPayer[p.AccountID] = append(r.byPayer[p.AccountID], tx.ID)
	}
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.storage[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx.clone(), nil
}

func (r *memoryRepository) Claim(_ context.Context, id string) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.storage[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	if tx.Status != StatusPending {
		return tx.clone(), claimError(tx)
	}
	tx.Status = StatusSettling
	r.storage[id] = tx
	return tx.clone(), nil
}

func (r *memoryRepository) Update(_ context.Context, tx Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.storage[tx.ID]
	if !ok {
		return ErrTransactionNotFound
	}
	if stored.Status != StatusSettling {
		return claimError(stored)
	}
	r.storage[tx.ID] = tx.clone()
	return nil
}

func (r *memoryRepository) ListByPayer(_ context.Context, accountID string) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transaction, 0, len(r.byPayer[accountID]))
	for _, id := range r.byPayer[accountID] {
		out = append(out, r.storage[id].clone())
	}
	sortTransactions(out)
	return out, nil
}

func (r *memoryRepository) ListSettledByPayer(_ context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Transaction
	for _, id := range r.byPayer[accountID] {
		tx := r.storage[id]
		if tx.Status != StatusSettled || tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		out = append(out, tx.clone())
	}
	sortTransactions(out)
	return out, nil
}

func sortTransactions(txs []Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].ID < txs[j].ID
	})
}
