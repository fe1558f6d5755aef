// Package funding is the boundary where fiat enters and leaves the ledger:
// purchases credit accounts after a processor charge, withdrawals debit the
// regular balance and push a payout.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sovra/wallet-ledger/internal/events"
	"github.com/sovra/wallet-ledger/internal/ledger"
)

// ErrEscrowNotWithdrawable rejects enterprise withdrawals that would need escrow funds.
var ErrEscrowNotWithdrawable = errors.New("escrow balance cannot be withdrawn")

var maxUnits = decimal.NewFromInt(math.MaxInt64)

// Service coordinates purchases and withdrawals using the ledger, a rate
// oracle and the payment processor connector.
type Service struct {
	ledger    ledger.Ledger
	processor Processor
	rates     RateOracle
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService prepares a funding service. A nil processor approves everything.
func NewService(ledgerBackend ledger.Ledger, processor Processor, rates RateOracle, publisher events.Publisher, logger *slog.Logger) (*Service, error) {
	if rates == nil {
		return nil, fmt.Errorf("rate oracle is required")
	}
	if processor == nil {
		processor = StaticProcessor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledgerBackend, processor: processor, rates: rates, publisher: publisher, logger: logger}, nil
}

// PurchaseInput captures a fiat purchase of ledger units.
type PurchaseInput struct {
	AccountID   string
	AccountKind ledger.AccountKind
	Currency    string
	FiatAmount  decimal.Decimal
	Method      string
	Source      string
}

// PurchaseResult describes the credited outcome of a purchase.
type PurchaseResult struct {
	Entry          ledger.Entry
	CreditedAmount int64
	BalanceKind    ledger.BalanceKind
	Account        ledger.Account
	Rate           Rate
	Reference      string
	CompletedAt    time.Time
}

// Purchase converts fiat into units at the oracle rate, charges the buyer and
// credits the account. Enterprise purchases land in escrow, individual ones in
// the regular balance.
func (s *Service) Purchase(ctx context.Context, input PurchaseInput) (PurchaseResult, error) {
	if !input.FiatAmount.IsPositive() {
		return PurchaseResult{}, fmt.Errorf("%w: fiat amount %s", ledger.ErrInvalidAmount, input.FiatAmount)
	}
	if err := validateMethod(input.Method, input.Source); err != nil {
		return PurchaseResult{}, err
	}
	kind := input.AccountKind
	if kind == "" {
		kind = ledger.KindIndividual
	}

	rate, err := s.rates.Rate(ctx, input.Currency)
	if err != nil {
		return PurchaseResult{}, err
	}
	units, err := toUnits(input.FiatAmount, rate.UnitsPerFiat)
	if err != nil {
		return PurchaseResult{}, err
	}

	if _, err := s.ledger.GetOrCreate(ctx, input.AccountID, kind); err != nil {
		return PurchaseResult{}, err
	}

	decision, err := s.processor.Charge(ctx, Charge{
		Method:   input.Method,
		Source:   input.Source,
		Currency: rate.Currency,
		Amount:   input.FiatAmount,
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	if !decision.Approved() {
		return PurchaseResult{}, fmt.Errorf("%w: charge %s", ErrPaymentDeclined, decision.Reference)
	}

	refCtx := ledger.WithReference(ctx, decision.Reference)
	balanceKind := ledger.BalanceRegular
	var entry ledger.Entry
	if kind == ledger.KindEnterprise {
		balanceKind = ledger.BalanceEscrow
		entry, err = s.ledger.CreditEscrow(refCtx, input.AccountID, units, ledger.PurposeFiatPurchase)
	} else {
		entry, err = s.ledger.CreditRegular(refCtx, input.AccountID, units, ledger.PurposeFiatPurchase)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "charge captured but credit failed", "account_id", input.AccountID, "reference", decision.Reference, "units", units, "error", err)
		return PurchaseResult{}, err
	}

	acct, err := s.ledger.Account(ctx, input.AccountID)
	if err != nil {
		return PurchaseResult{}, err
	}

	result := PurchaseResult{
		Entry:          entry,
		CreditedAmount: units,
		BalanceKind:    balanceKind,
		Account:        acct,
		Rate:           rate,
		Reference:      decision.Reference,
		CompletedAt:    time.Now().UTC(),
	}
	s.logger.InfoContext(ctx, "purchase credited", "account_id", acct.ID, "units", units, "balance", balanceKind, "reference", decision.Reference)
	events.Emit(ctx, s.publisher, s.logger, events.KindFundsPurchased, acct.ID, result)
	return result, nil
}

// toUnits returns floor(fiat × rate) as an int64.
func toUnits(fiat, rate decimal.Decimal) (int64, error) {
	units := fiat.Mul(rate).Floor()
	if !units.IsPositive() {
		return 0, fmt.Errorf("%w: %s at rate %s buys no units", ledger.ErrInvalidAmount, fiat, rate)
	}
	if units.GreaterThan(maxUnits) {
		return 0, fmt.Errorf("%w: %s units exceeds the ledger range", ledger.ErrInvalidAmount, units)
	}
	return units.IntPart(), nil
}

// WithdrawInput captures a withdrawal request.
type WithdrawInput struct {
	AccountID   string
	Amount      int64
	Destination string
}

// WithdrawResult describes the outcome of a withdrawal.
type WithdrawResult struct {
	Entry       ledger.Entry
	Account     ledger.Account
	Reference   string
	CompletedAt time.Time
}

// Withdraw debits the regular balance and pays the amount out. Enterprise
// escrow never leaves through this path. A declined payout is credited back.
func (s *Service) Withdraw(ctx context.Context, input WithdrawInput) (WithdrawResult, error) {
	if input.Amount <= 0 {
		return WithdrawResult{}, fmt.Errorf("%w: got %d", ledger.ErrInvalidAmount, input.Amount)
	}
	if input.Destination == "" {
		return WithdrawResult{}, fmt.Errorf("destination is required")
	}

	acct, err := s.ledger.Account(ctx, input.AccountID)
	if err != nil {
		return WithdrawResult{}, err
	}
	if acct.Kind == ledger.KindEnterprise && input.Amount > acct.RegularBalance {
		return WithdrawResult{}, fmt.Errorf("%w: %w", ErrEscrowNotWithdrawable, &ledger.BalanceError{
			AccountID: acct.ID,
			Balance:   ledger.BalanceRegular,
			Available: acct.RegularBalance,
			Required:  input.Amount,
		})
	}

	reference := uuid.NewString()
	refCtx := ledger.WithReference(ctx, reference)
	entry, err := s.ledger.DebitRegular(refCtx, input.AccountID, input.Amount, ledger.PurposeWithdrawal)
	if err != nil {
		return WithdrawResult{}, err
	}

	decision, payErr := s.processor.Payout(ctx, Payout{AccountID: input.AccountID, Destination: input.Destination, Amount: input.Amount})
	if payErr == nil && !decision.Approved() {
		payErr = fmt.Errorf("%w: payout %s", ErrPaymentDeclined, decision.Reference)
	}
	if payErr != nil {
		if _, err := s.ledger.CreditRegular(refCtx, input.AccountID, input.Amount, ledger.PurposeWithdrawalReversal); err != nil {
			s.logger.ErrorContext(ctx, "withdrawal reversal failed", "account_id", input.AccountID, "reference", reference, "amount", input.Amount, "error", err)
			return WithdrawResult{}, errors.Join(payErr, err)
		}
		return WithdrawResult{}, payErr
	}

	acct, err = s.ledger.Account(ctx, input.AccountID)
	if err != nil {
		return WithdrawResult{}, err
	}
	result := WithdrawResult{Entry: entry, Account: acct, Reference: reference, CompletedAt: time.Now().UTC()}
	s.logger.InfoContext(ctx, "withdrawal paid out", "account_id", acct.ID, "amount", input.Amount, "reference", reference, "payout_reference", decision.Reference)
	events.Emit(ctx, s.publisher, s.logger, events.KindFundsWithdrawn, acct.ID, result)
	return result, nil
}
