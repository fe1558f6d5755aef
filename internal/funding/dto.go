package funding

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sovra/wallet-ledger/internal/ledger"
)

// PurchaseRequest captures a fiat purchase submitted over HTTP.
type PurchaseRequest struct {
	AccountKind string          `json:"account_kind"`
	Currency    string          `json:"currency"`
	FiatAmount  decimal.Decimal `json:"fiat_amount"`
	Method      string          `json:"method"`
	Source      string          `json:"source"`
}

// WithdrawRequest captures a withdrawal submitted over HTTP.
type WithdrawRequest struct {
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
}

// PurchaseResponse is the API view of a credited purchase.
type PurchaseResponse struct {
	AccountID      string             `json:"account_id"`
	CreditedAmount int64              `json:"credited_amount"`
	BalanceKind    ledger.BalanceKind `json:"balance_kind"`
	RegularBalance int64              `json:"regular_balance"`
	EscrowBalance  int64              `json:"escrow_balance"`
	UnitsPerFiat   decimal.Decimal    `json:"units_per_fiat"`
	Reference      string             `json:"reference"`
	EntryID        string             `json:"entry_id"`
	CompletedAt    time.Time          `json:"completed_at"`
}

// WithdrawResponse is the API view of a withdrawal.
type WithdrawResponse struct {
	AccountID      string    `json:"account_id"`
	Amount         int64     `json:"amount"`
	RegularBalance int64     `json:"regular_balance"`
	EscrowBalance  int64     `json:"escrow_balance"`
	Reference      string    `json:"reference"`
	EntryID        string    `json:"entry_id"`
	CompletedAt    time.Time `json:"completed_at"`
}
