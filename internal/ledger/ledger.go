package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sovra/wallet-ledger/internal/ids"
)

var (
	// ErrUnknownAccount is returned when an operation targets an account that was never created.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrKindMismatch indicates GetOrCreate was called with a kind different from the stored account.
	ErrKindMismatch = errors.New("account kind mismatch")

	// ErrInvalidKind rejects account kinds other than individual and enterprise.
	ErrInvalidKind = errors.New("invalid account kind")

	// ErrNotEnterprise guards escrow operations on individual accounts.
	ErrNotEnterprise = errors.New("escrow requires an enterprise account")

	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds occurs when the relevant balance cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPurposeNotAllowed enforces the anti-dumping rule: escrow only leaves as fee payment.
	ErrPurposeNotAllowed = errors.New("purpose not allowed for escrow debit")
)

// AccountKind distinguishes end users from corporate entities.
type AccountKind string

const (
	KindIndividual AccountKind = "individual"
	KindEnterprise AccountKind = "enterprise"
)

// Valid reports whether k is a known kind.
func (k AccountKind) Valid() bool {
	return k == KindIndividual || k == KindEnterprise
}

// BalanceKind names one of the two sub-balances of an account.
type BalanceKind string

const (
	BalanceRegular BalanceKind = "regular"
	BalanceEscrow  BalanceKind = "escrow"
	// BalanceTotal is only used in BalanceError for combined checks.
	BalanceTotal BalanceKind = "total"
)

// Direction of a ledger entry.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Well-known entry purposes.
const (
	PurposeFeePayment         = "fee-payment"
	PurposeFeeReversal        = "fee-reversal"
	PurposeFiatPurchase       = "fiat-purchase"
	PurposeWithdrawal         = "withdrawal"
	PurposeWithdrawalReversal = "withdrawal-reversal"
)

// Account is a value holder with a freely usable regular balance and, for
// enterprises, an escrow balance restricted to fee payment.
type Account struct {
	ID             string      `json:"account_id"`
	Kind           AccountKind `json:"account_kind"`
	RegularBalance int64       `json:"regular_balance"`
	EscrowBalance  int64       `json:"escrow_balance"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Total is the sum of both sub-balances.
func (a Account) Total() int64 {
	return a.RegularBalance + a.EscrowBalance
}

func (a Account) balance(kind BalanceKind) int64 {
	if kind == BalanceEscrow {
		return a.EscrowBalance
	}
	return a.RegularBalance
}

// Entry is the immutable record of a single balance mutation.
type Entry struct {
	ID            string      `json:"entry_id"`
	AccountID     string      `json:"account_id"`
	Direction     Direction   `json:"direction"`
	BalanceKind   BalanceKind `json:"balance_kind"`
	Amount        int64       `json:"amount"`
	BalanceBefore int64       `json:"balance_before"`
	BalanceAfter  int64       `json:"balance_after"`
	Purpose       string      `json:"purpose"`
	Reference     string      `json:"reference,omitempty"`
	CreatedAt     time.Time   `json:"timestamp"`
}

// BalanceError carries the numbers behind an insufficient-funds rejection.
type BalanceError struct {
	AccountID string
	Balance   BalanceKind
	Available int64
	Required  int64
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance on account %s: have %d, need %d", e.Balance, e.AccountID, e.Available, e.Required)
}

// Unwrap lets errors.Is match ErrInsufficientFunds.
func (e *BalanceError) Unwrap() error { return ErrInsufficientFunds }

// Ledger defines the contract implemented by ledger backends (in-memory and Postgres).
// Every mutating call is atomic per account and appends exactly one entry per
// balance touched.
type Ledger interface {
	GetOrCreate(ctx context.Context, accountID string, kind AccountKind) (Account, error)
	Account(ctx context.Context, accountID string) (Account, error)
	CreditRegular(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error)
	CreditEscrow(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error)
	DebitRegular(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error)
	DebitEscrow(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error)
	PayFeeSmart(ctx context.Context, accountID string, amount int64) ([]Entry, error)
	Entries(ctx context.Context, accountID string) ([]Entry, error)
}

type referenceKey struct{}

// WithReference tags entries written under ctx with ref (a settlement
// transaction or funding reference).
func WithReference(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, referenceKey{}, ref)
}

func referenceFrom(ctx context.Context) string {
	ref, _ := ctx.Value(referenceKey{}).(string)
	return ref
}

// credit applies a credit to acct in place and returns the resulting entry.
func credit(acct *Account, kind BalanceKind, amount int64, purpose, ref string, now time.Time) (Entry, error) {
	if kind == BalanceEscrow && acct.Kind != KindEnterprise {
		return Entry{}, fmt.Errorf("%w: account %s is %s", ErrNotEnterprise, acct.ID, acct.Kind)
	}
	// Balances and their total must stay within int64.
	if headroom := math.MaxInt64 - acct.Total(); amount > headroom {
		return Entry{}, fmt.Errorf("%w: crediting %d to %s balance of account %s exceeds the ledger range (total %d, headroom %d)",
			ErrInvalidAmount, amount, kind, acct.ID, acct.Total(), headroom)
	}
	return apply(acct, DirectionCredit, kind, amount, purpose, ref, now), nil
}

// debit applies a debit to acct in place, enforcing escrow restrictions.
func debit(acct *Account, kind BalanceKind, amount int64, purpose, ref string, now time.Time) (Entry, error) {
	if kind == BalanceEscrow {
		if acct.Kind != KindEnterprise {
			return Entry{}, fmt.Errorf("%w: account %s is %s", ErrNotEnterprise, acct.ID, acct.Kind)
		}
	}
	if have := acct.balance(kind); have < amount {
		return Entry{}, &BalanceError{AccountID: acct.ID, Balance: kind, Available: have, Required: amount}
	}
	return apply(acct, DirectionDebit, kind, amount, purpose, ref, now), nil
}

// payFee drains escrow first for enterprises, then regular. The combined
// balance is checked up front so a failure leaves acct untouched.
func payFee(acct *Account, amount int64, ref string, now time.Time) ([]Entry, error) {
	if acct.Total() < amount {
		return nil, &BalanceError{AccountID: acct.ID, Balance: BalanceTotal, Available: acct.Total(), Required: amount}
	}

	entries := make([]Entry, 0, 2)
	remaining := amount
	if acct.Kind == KindEnterprise && acct.EscrowBalance > 0 {
		fromEscrow := min(acct.EscrowBalance, remaining)
		entries = append(entries, apply(acct, DirectionDebit, BalanceEscrow, fromEscrow, PurposeFeePayment, ref, now))
		remaining -= fromEscrow
	}
	if remaining > 0 {
		entries = append(entries, apply(acct, DirectionDebit, BalanceRegular, remaining, PurposeFeePayment, ref, now))
	}
	return entries, nil
}

func apply(acct *Account, dir Direction, kind BalanceKind, amount int64, purpose, ref string, now time.Time) Entry {
	before := acct.balance(kind)
	after := before + amount
	if dir == DirectionDebit {
		after = before - amount
	}
	if kind == BalanceEscrow {
		acct.EscrowBalance = after
	} else {
		acct.RegularBalance = after
	}
	acct.UpdatedAt = now

	return Entry{
		ID:            ids.NewEntryID(),
		AccountID:     acct.ID,
		Direction:     dir,
		BalanceKind:   kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Purpose:       purpose,
		Reference:     ref,
		CreatedAt:     now,
	}
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return nil
}

func validateEscrowPurpose(purpose string) error {
	if purpose != PurposeFeePayment {
		return fmt.Errorf("%w: escrow may only be debited for %q, got %q", ErrPurposeNotAllowed, PurposeFeePayment, purpose)
	}
	return nil
}

func unknownAccount(accountID string) error {
	return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
}

func kindMismatch(acct Account, requested AccountKind) error {
	return fmt.Errorf("%w: account %s is %s, requested %s", ErrKindMismatch, acct.ID, acct.Kind, requested)
}
