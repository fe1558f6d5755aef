package wallet

import (
	"time"

	"github.com/sovra/wallet-ledger/internal/ledger"
)

// Balance is the public view of an account's sub-balances.
type Balance struct {
	AccountID string             `json:"account_id"`
	Kind      ledger.AccountKind `json:"account_kind"`
	Regular   int64              `json:"regular_balance"`
	Escrow    int64              `json:"escrow_balance"`
	Total     int64              `json:"total_balance"`
	AsOf      time.Time          `json:"as_of"`
}

// BalanceOf converts a ledger account into its balance view.
func BalanceOf(acct ledger.Account) Balance {
	return Balance{
		AccountID: acct.ID,
		Kind:      acct.Kind,
		Regular:   acct.RegularBalance,
		Escrow:    acct.EscrowBalance,
		Total:     acct.Total(),
		AsOf:      acct.UpdatedAt,
	}
}
