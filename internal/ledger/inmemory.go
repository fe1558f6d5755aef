package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type inMemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	entries  map[string][]Entry
	now      func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development mode.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		accounts: make(map[string]*Account),
		entries:  make(map[string][]Entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *inMemoryLedger) GetOrCreate(_ context.Context, accountID string, kind AccountKind) (Account, error) {
	if accountID == "" {
		return Account{}, fmt.Errorf("%w: empty account id", ErrUnknownAccount)
	}
	if !kind.Valid() {
		return Account{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if acct, exists := l.accounts[accountID]; exists {
		if acct.Kind != kind {
			return Account{}, kindMismatch(*acct, kind)
		}
		return *acct, nil
	}

	now := l.now()
	acct := &Account{ID: accountID, Kind: kind, CreatedAt: now, UpdatedAt: now}
	l.accounts[accountID] = acct
	return *acct, nil
}

func (l *inMemoryLedger) Account(_ context.Context, accountID string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, exists := l.accounts[accountID]
	if !exists {
		return Account{}, unknownAccount(accountID)
	}
	return *acct, nil
}

func (l *inMemoryLedger) CreditRegular(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error) {
	return l.single(ctx, accountID, amount, func(acct *Account, now time.Time) (Entry, error) {
		return credit(acct, BalanceRegular, amount, purpose, referenceFrom(ctx), now)
	})
}

func (l *inMemoryLedger) CreditEscrow(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error) {
	return l.single(ctx, accountID, amount, func(acct *Account, now time.Time) (Entry, error) {
		return credit(acct, BalanceEscrow, amount, purpose, referenceFrom(ctx), now)
	})
}

func (l *inMemoryLedger) DebitRegular(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error) {
	return l.single(ctx, accountID, amount, func(acct *Account, now time.Time) (Entry, error) {
		return debit(acct, BalanceRegular, amount, purpose, referenceFrom(ctx), now)
	})
}

func (l *inMemoryLedger) DebitEscrow(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error) {
	if err := validateEscrowPurpose(purpose); err != nil {
		return Entry{}, err
	}
	return l.single(ctx, accountID, amount, func(acct *Account, now time.Time) (Entry, error) {
		return debit(acct, BalanceEscrow, amount, purpose, referenceFrom(ctx), now)
	})
}

func (l *inMemoryLedger) PayFeeSmart(ctx context.Context, accountID string, amount int64) ([]Entry, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, exists := l.accounts[accountID]
	if !exists {
		return nil, unknownAccount(accountID)
	}

	// Work on a copy so a rejected call cannot leave a half-applied account.
	next := *acct
	entries, err := payFee(&next, amount, referenceFrom(ctx), l.now())
	if err != nil {
		return nil, err
	}
	*acct = next
	l.entries[accountID] = append(l.entries[accountID], entries...)
	return entries, nil
}

func (l *inMemoryLedger) Entries(_ context.Context, accountID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, exists := l.accounts[accountID]; !exists {
		return nil, unknownAccount(accountID)
	}
	out := make([]Entry, len(l.entries[accountID]))
	copy(out, l.entries[accountID])
	return out, nil
}

// single runs one validate-compute-mutate-append step under the ledger lock.
func (l *inMemoryLedger) single(_ context.Context, accountID string, amount int64, fn func(*Account, time.Time) (Entry, error)) (Entry, error) {
	if err := validateAmount(amount); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, exists := l.accounts[accountID]
	if !exists {
		return Entry{}, unknownAccount(accountID)
	}

	next := *acct
	entry, err := fn(&next, l.now())
	if err != nil {
		return Entry{}, err
	}
	*acct = next
	l.entries[accountID] = append(l.entries[accountID], entry)
	return entry, nil
}
