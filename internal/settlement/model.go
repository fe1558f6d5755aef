package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/sovra/wallet-ledger/internal/ledger"
	"github.com/sovra/wallet-ledger/internal/pricing"
)

var (
	ErrMissingParty         = errors.New("required party missing")
	ErrInvalidInput         = errors.New("invalid settlement input")
	ErrAlreadySettled       = errors.New("transaction already settled")
	ErrSettlementInProgress = errors.New("settlement already in progress")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrTransactionExists    = errors.New("transaction already exists")
)

// Status is the lifecycle state of a settlement transaction.
type Status string

const (
	StatusPending Status = "pending"
	// StatusSettling marks a transaction claimed by a settler; payers may be
	// partially debited until it moves on.
	StatusSettling Status = "settling"
	StatusSettled  Status = "settled"
	StatusFailed   Status = "failed"
)

// Payer is one account's allocated share of a transaction.
type Payer struct {
	AccountID   string             `json:"account_id"`
	Role        pricing.Role       `json:"role"`
	AccountKind ledger.AccountKind `json:"account_kind"`
	Amount      int64              `json:"amount"`
	BasisPoints int64              `json:"basis_points"`
}

// Transaction bills one verification event to its payers.
type Transaction struct {
	ID             string     `json:"transaction_id"`
	VerificationID string     `json:"verification_id"`
	EventType      string     `json:"event_type"`
	TotalAmount    int64      `json:"total_amount"`
	Payers         []Payer    `json:"payers"`
	Status         Status     `json:"status"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	Compensated    bool       `json:"compensated"`
	CreatedAt      time.Time  `json:"created_at"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
}

// PayersFor returns the allocations billed to accountID, in payer order.
func (t Transaction) PayersFor(accountID string) []Payer {
	var out []Payer
	for _, p := range t.Payers {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out
}

func (t Transaction) clone() Transaction {
	t.Payers = append([]Payer(nil), t.Payers...)
	if t.SettledAt != nil {
		at := *t.SettledAt
		t.SettledAt = &at
	}
	return t
}

// claimError explains why tx cannot be claimed for settlement, or why an
// outcome cannot be recorded for it.
func claimError(tx Transaction) error {
	if tx.Status == StatusPending {
		return fmt.Errorf("%w: %s was never claimed", ErrInvalidInput, tx.ID)
	}
	if tx.Status == StatusSettling {
		return fmt.Errorf("%w: %s", ErrSettlementInProgress, tx.ID)
	}
	return fmt.Errorf("%w: %s is %s", ErrAlreadySettled, tx.ID, tx.Status)
}
