// Package wallet exposes ledger accounts to API clients.
package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/sovra/wallet-ledger/internal/ledger"
)

// Service exposes account operations backed by the ledger.
type Service struct {
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(ledger ledger.Ledger) *Service {
	return &Service{ledger: ledger}
}

// OpenInput captures data required to open an account.
type OpenInput struct {
	AccountID string
	Kind      ledger.AccountKind
}

// Open returns the account, creating it with zero balances when missing.
func (s *Service) Open(ctx context.Context, input OpenInput) (Balance, error) {
	id := strings.TrimSpace(input.AccountID)
	if id == "" {
		return Balance{}, fmt.Errorf("%w: account_id is required", ledger.ErrUnknownAccount)
	}
	kind := input.Kind
	if kind == "" {
		kind = ledger.KindIndividual
	}
	acct, err := s.ledger.GetOrCreate(ctx, id, kind)
	if err != nil {
		return Balance{}, err
	}
	return BalanceOf(acct), nil
}

// Balance returns the current balances of an account.
func (s *Service) Balance(ctx context.Context, accountID string) (Balance, error) {
	acct, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return BalanceOf(acct), nil
}

// Entries returns the account's audit trail, oldest first.
func (s *Service) Entries(ctx context.Context, accountID string) ([]ledger.Entry, error) {
	return s.ledger.Entries(ctx, accountID)
}
