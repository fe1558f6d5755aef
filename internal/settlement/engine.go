// Package settlement bills verification events to the participating parties'
// ledger accounts.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sovra/wallet-ledger/internal/events"
	"github.com/sovra/wallet-ledger/internal/ids"
	"github.com/sovra/wallet-ledger/internal/ledger"
	"github.com/sovra/wallet-ledger/internal/pricing"
)

// Options tunes engine behaviour.
type Options struct {
	// Compensate reverses debits already taken from earlier payers when a
	// later payer cannot pay. When false, partial debits stay in place and the
	// failed transaction is left for reconciliation.
	Compensate bool
	Publisher  events.Publisher
	Logger     *slog.Logger
	Now        func() time.Time
}

// Engine creates and settles transactions. Its lock only guards the set of
// in-flight settlements and is never held across ledger calls.
type Engine struct {
	repo       Repository
	ledger     ledger.Ledger
	pricing    *pricing.Table
	publisher  events.Publisher
	logger     *slog.Logger
	now        func() time.Time
	compensate bool

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewEngine wires an engine.
func NewEngine(repo Repository, led ledger.Ledger, table *pricing.Table, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		repo:       repo,
		ledger:     led,
		pricing:    table,
		publisher:  opts.Publisher,
		logger:     logger,
		now:        now,
		compensate: opts.Compensate,
		inFlight:   make(map[string]struct{}),
	}
}

// CreateInput describes a verification event to bill.
type CreateInput struct {
	VerificationID string
	EventType      string
	PartyA         string
	PartyB         string
}

func (in CreateInput) party(role pricing.Role) string {
	if role == pricing.RoleA {
		return strings.TrimSpace(in.PartyA)
	}
	return strings.TrimSpace(in.PartyB)
}

// CreateTransaction prices the event and records a pending transaction.
func (e *Engine) CreateTransaction(ctx context.Context, in CreateInput) (Transaction, error) {
	if strings.TrimSpace(in.VerificationID) == "" {
		return Transaction{}, fmt.Errorf("%w: verification id is required", ErrInvalidInput)
	}
	rule, err := e.pricing.Lookup(in.EventType)
	if err != nil {
		return Transaction{}, err
	}

	for _, share := range rule.Shares {
		if in.party(share.Role) == "" {
			return Transaction{}, fmt.Errorf("%w: %s requires %s", ErrMissingParty, rule.EventType, share.Role)
		}
	}
	if len(rule.Shares) > 1 && in.party(pricing.RoleA) == in.party(pricing.RoleB) {
		return Transaction{}, fmt.Errorf("%w: party_a and party_b must be different accounts", ErrInvalidInput)
	}

	payers := make([]Payer, 0, len(rule.Shares))
	for _, alloc := range pricing.Allocate(rule, rule.BaseAmount) {
		accountID := in.party(alloc.Role)
		acct, err := e.ledger.Account(ctx, accountID)
		if err != nil {
			return Transaction{}, err
		}
		payers = append(payers, Payer{
			AccountID:   accountID,
			Role:        alloc.Role,
			AccountKind: acct.Kind,
			Amount:      alloc.Amount,
			BasisPoints: alloc.BasisPoints,
		})
	}

	tx := Transaction{
		ID:             ids.NewTransactionID(),
		VerificationID: in.VerificationID,
		EventType:      rule.EventType,
		TotalAmount:    rule.BaseAmount,
		Payers:         payers,
		Status:         StatusPending,
		CreatedAt:      e.now(),
	}
	if err := e.repo.Create(ctx, tx); err != nil {
		return Transaction{}, err
	}
	e.logger.InfoContext(ctx, "settlement transaction created", "transaction_id", tx.ID, "event_type", tx.EventType, "total", tx.TotalAmount)
	return tx, nil
}

// Settle claims a pending transaction and charges every payer in order. On
// the first failure the transaction is marked failed and returned alongside
// the payer's error.
func (e *Engine) Settle(ctx context.Context, transactionID string) (Transaction, error) {
	if err := e.acquire(transactionID); err != nil {
		return Transaction{}, err
	}
	defer e.release(transactionID)

	tx, err := e.repo.Claim(ctx, transactionID)
	if err != nil {
		return tx, err
	}

	refCtx := ledger.WithReference(ctx, tx.ID)
	var taken []ledger.Entry
	for _, p := range tx.Payers {
		// Small fees can floor a share to zero; there is nothing to debit.
		if p.Amount == 0 {
			continue
		}
		entries, payErr := e.ledger.PayFeeSmart(refCtx, p.AccountID, p.Amount)
		if payErr != nil {
			return e.fail(ctx, tx, p, taken, payErr)
		}
		taken = append(taken, entries...)
	}

	settledAt := e.now()
	tx.Status = StatusSettled
	tx.SettledAt = &settledAt
	if err := e.repo.Update(ctx, tx); err != nil {
		// The transaction stays settling so a retry cannot charge again.
		e.logger.ErrorContext(ctx, "settled transaction not recorded", "transaction_id", tx.ID, "entries", len(taken), "error", err)
		return Transaction{}, err
	}

	e.logger.InfoContext(ctx, "settlement completed", "transaction_id", tx.ID, "payers", len(tx.Payers), "total", tx.TotalAmount)
	events.Emit(ctx, e.publisher, e.logger, events.KindSettlementSettled, tx.ID, tx)
	return tx, nil
}

func (e *Engine) fail(ctx context.Context, tx Transaction, payer Payer, taken []ledger.Entry, cause error) (Transaction, error) {
	tx.Status = StatusFailed
	tx.FailureReason = fmt.Sprintf("payer %s (%s): %v", payer.AccountID, payer.Role, cause)

	if e.compensate {
		tx.Compensated = true
		refCtx := ledger.WithReference(ctx, tx.ID)
		for i := len(taken) - 1; i >= 0; i-- {
			if err := e.reverse(refCtx, taken[i]); err != nil {
				tx.Compensated = false
				e.logger.ErrorContext(ctx, "fee reversal failed", "transaction_id", tx.ID, "account_id", taken[i].AccountID, "entry_id", taken[i].ID, "error", err)
			}
		}
	} else if len(taken) > 0 {
		e.logger.WarnContext(ctx, "settlement failed with partial debits", "transaction_id", tx.ID, "entries", len(taken))
	}

	if err := e.repo.Update(ctx, tx); err != nil {
		return Transaction{}, errors.Join(cause, err)
	}

	e.logger.WarnContext(ctx, "settlement failed", "transaction_id", tx.ID, "reason", tx.FailureReason, "compensated", tx.Compensated)
	events.Emit(ctx, e.publisher, e.logger, events.KindSettlementFailed, tx.ID, tx)
	return tx, fmt.Errorf("settle %s: %w", tx.ID, cause)
}

// reverse credits back a fee debit to the balance it came from.
func (e *Engine) reverse(ctx context.Context, entry ledger.Entry) error {
	var err error
	if entry.BalanceKind == ledger.BalanceEscrow {
		_, err = e.ledger.CreditEscrow(ctx, entry.AccountID, entry.Amount, ledger.PurposeFeeReversal)
	} else {
		_, err = e.ledger.CreditRegular(ctx, entry.AccountID, entry.Amount, ledger.PurposeFeeReversal)
	}
	return err
}

func (e *Engine) acquire(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return fmt.Errorf("%w: %s", ErrSettlementInProgress, id)
	}
	e.inFlight[id] = struct{}{}
	return nil
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

// Transaction returns a stored transaction.
func (e *Engine) Transaction(ctx context.Context, id string) (Transaction, error) {
	return e.repo.Get(ctx, id)
}

// TransactionsForParty lists every transaction billed to accountID.
func (e *Engine) TransactionsForParty(ctx context.Context, accountID string) ([]Transaction, error) {
	return e.repo.ListByPayer(ctx, accountID)
}

// SettledForPayer lists settled transactions billed to accountID created in [from, to).
func (e *Engine) SettledForPayer(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	return e.repo.ListSettledByPayer(ctx, accountID, from, to)
}

// Pricing exposes the engine's pricing table.
func (e *Engine) Pricing() *pricing.Table {
	return e.pricing
}
