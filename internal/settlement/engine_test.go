package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovra/wallet-ledger/internal/events"
	"github.com/sovra/wallet-ledger/internal/ledger"
	"github.com/sovra/wallet-ledger/internal/logging"
	"github.com/sovra/wallet-ledger/internal/pricing"
)

const (
	feeA = 1_000_000
	feeB = 10_000_000
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	ledger ledger.Ledger
	engine *Engine
	events *capturePublisher
}

func newFixture(t *testing.T, compensate bool) fixture {
	t.Helper()
	table, err := pricing.NewTable(pricing.Defaults(feeA, feeB)...)
	require.NoError(t, err)
	led := ledger.NewInMemory()
	pub := &capturePublisher{}
	engine := NewEngine(NewMemoryRepository(), led, table, Options{
		Compensate: compensate,
		Publisher:  pub,
		Logger:     logging.Discard(),
	})
	return fixture{ledger: led, engine: engine, events: pub}
}

func (f fixture) account(t *testing.T, id string, kind ledger.AccountKind, regular, escrow int64) {
	t.Helper()
	_, err := f.ledger.GetOrCreate(context.Background(), id, kind)
	require.NoError(t, err)
	ledger.SeedBalances(f.ledger, id, regular, escrow)
}

func (f fixture) balances(t *testing.T, id string) (int64, int64) {
	t.Helper()
	acct, err := f.ledger.Account(context.Background(), id)
	require.NoError(t, err)
	return acct.RegularBalance, acct.EscrowBalance
}

func TestDualSettlementSplitsExactly(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.account(t, "traveller", ledger.KindIndividual, 5_000_000, 0)
	f.account(t, "airline", ledger.KindEnterprise, 1_000_000, 20_000_000)

	tx, err := f.engine.CreateTransaction(ctx, CreateInput{VerificationID: "v-1", EventType: pricing.EventDual, PartyA: "traveller", PartyB: "airline"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tx.Status)
	require.Len(t, tx.Payers, 2)
	assert.Equal(t, int64(2_200_000), tx.Payers[0].Amount)
	assert.Equal(t, int64(8_800_000), tx.Payers[1].Amount)
	assert.Equal(t, ledger.KindEnterprise, tx.Payers[1].AccountKind)
	assert.Equal(t, tx.TotalAmount, tx.Payers[0].Amount+tx.Payers[1].Amount)

	settled, err := f.engine.Settle(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, settled.Status)
	require.NotNil(t, settled.SettledAt)

	regular, escrow := f.balances(t, "traveller")
	assert.Equal(t, int64(2_800_000), regular)
	assert.Zero(t, escrow)

	regular, escrow = f.balances(t, "airline")
	assert.Equal(t, int64(1_000_000), regular, "escrow covers the whole share")
	assert.Equal(t, int64(11_200_000), escrow)

	entries, err := f.ledger.Entries(ctx, "airline")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, tx.ID, entries[0].Reference)
	assert.Equal(t, ledger.BalanceEscrow, entries[0].BalanceKind)

	assert.Equal(t, []string{events.KindSettlementSettled}, f.events.kinds())
}

func TestCreateTransactionValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.account(t, "traveller", ledger.KindIndividual, 0, 0)

	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"missing verification", CreateInput{EventType: pricing.EventSingleA, PartyA: "traveller"}, ErrInvalidInput},
		{"unknown event", CreateInput{VerificationID: "v", EventType: "triple", PartyA: "traveller"}, pricing.ErrUnknownEventType},
		{"single-A without party A", CreateInput{VerificationID: "v", EventType: pricing.EventSingleA, PartyB: "traveller"}, ErrMissingParty},
		{"dual without party B", CreateInput{VerificationID: "v", EventType: pricing.EventDual, PartyA: "traveller"}, ErrMissingParty},
		{"dual with same account twice", CreateInput{VerificationID: "v", EventType: pricing.EventDual, PartyA: "traveller", PartyB: "traveller"}, ErrInvalidInput},
		{"unknown payer account", CreateInput{VerificationID: "v", EventType: pricing.EventSingleB, PartyB: "ghost"}, ledger.ErrUnknownAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateTransaction(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	txs, err := f.engine.TransactionsForParty(ctx, "traveller")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSingleEventIgnoresUnusedParty(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.account(t, "traveller", ledger.KindIndividual, feeA, 0)

	tx, err := f.engine.CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: pricing.EventSingleA, PartyA: "traveller", PartyB: "not-billed"})
	require.NoError(t, err)
	require.Len(t, tx.Payers, 1)
	assert.Equal(t, pricing.RoleA, tx.Payers[0].Role)
	assert.Equal(t, int64(feeA), tx.Payers[0].Amount)
}

func TestSettleTwiceIsRejected(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.account(t, "traveller", ledger.KindIndividual, 3_000_000, 0)

	tx, err := f.engine.CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: pricing.EventSingleA, PartyA: "traveller"})
	require.NoError(t, err)
	_, err = f.engine.Settle(ctx, tx.ID)
	require.NoError(t, err)

	_, err = f.engine.Settle(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	regular, _ := f.balances(t, "traveller")
	assert.Equal(t, int64(2_000_000), regular)

	_, err = f.engine.Settle(ctx, "stx_missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestSettleFailureCompensatesEarlierPayers(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.account(t, "traveller", ledger.KindIndividual, 3_000_000, 0)
	f.account(t, "airline", ledger.KindEnterprise, 100_000, 600_000)

	tx, err := f.engine.CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: pricing.EventDual, PartyA: "traveller", PartyB: "airline"})
	require.NoError(t, err)

	failed, err := f.engine.Settle(ctx, tx.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	var balErr *ledger.BalanceError
	require.True(t, errors.As(err, &balErr))
	assert.Equal(t, int64(700_000), balErr.Available)
	assert.Equal(t, int64(8_800_000), balErr.Required)

	assert.Equal(t, StatusFailed, failed.Status)
	assert.True(t, failed.Compensated)
	assert.Contains(t, failed.FailureReason, "airline")

	regular, _ := f.balances(t, "traveller")
	assert.Equal(t, int64(3_000_000), regular, "party A refunded")
	regular, escrow := f.balances(t, "airline")
	assert.Equal(t, int64(100_000), regular)
	assert.Equal(t, int64(600_000), escrow)

	entries, err := f.ledger.Entries(ctx, "traveller")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.PurposeFeePayment, entries[0].Purpose)
	assert.Equal(t, ledger.PurposeFeeReversal, entries[1].Purpose)
	assert.Equal(t, ledger.DirectionCredit, entries[1].Direction)
	assert.Equal(t, tx.ID, entries[1].Reference)

	stored, err := f.engine.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)

	_, err = f.engine.Settle(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.Equal(t, []string{events.KindSettlementFailed}, f.events.kinds())
}

func TestCompensationRestoresEscrowToEscrow(t *testing.T) {
	table, err := pricing.NewTable(pricing.Rule{EventType: "gate", BaseAmount: 1_000_000, Shares: []pricing.Share{
		{Role: pricing.RoleB, BasisPoints: 5_000},
		{Role: pricing.RoleA, BasisPoints: 5_000},
	}})
	require.NoError(t, err)
	led := ledger.NewInMemory()
	engine := NewEngine(NewMemoryRepository(), led, table, Options{Compensate: true, Logger: logging.Discard()})
	ctx := context.Background()

	_, err = led.GetOrCreate(ctx, "airport", ledger.KindEnterprise)
	require.NoError(t, err)
	ledger.SeedBalances(led, "airport", 200_000, 400_000)
	_, err = led.GetOrCreate(ctx, "broke", ledger.KindIndividual)
	require.NoError(t, err)

	tx, err := engine.CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: "gate", PartyA: "broke", PartyB: "airport"})
	require.NoError(t, err)
	_, err = engine.Settle(ctx, tx.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	acct, err := led.Account(ctx, "airport")
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), acct.RegularBalance)
	assert.Equal(t, int64(400_000), acct.EscrowBalance)

	entries, err := led.Entries(ctx, "airport")
	require.NoError(t, err)
	require.Len(t, entries, 4, "escrow and regular debits plus their reversals")
	assert.Equal(t, ledger.BalanceRegular, entries[2].BalanceKind, "reversed newest first")
	assert.Equal(t, ledger.BalanceEscrow, entries[3].BalanceKind)
}

func TestLegacyModeLeavesPartialDebits(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.account(t, "traveller", ledger.KindIndividual, 3_000_000, 0)
	f.account(t, "airline", ledger.KindEnterprise, 0, 0)

	tx, err := f.engine.CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: pricing.EventDual, PartyA: "traveller", PartyB: "airline"})
	require.NoError(t, err)

	failed, err := f.engine.Settle(ctx, tx.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.False(t, failed.Compensated)

	regular, _ := f.balances(t, "traveller")
	assert.Equal(t, int64(800_000), regular)
}

func TestEscrowShortfallLeavesAccountUntouched(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.account(t, "airport", ledger.KindEnterprise, 0, 600_000)

	tx, err := f.engine.CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: pricing.EventSingleA, PartyA: "airport"})
	require.NoError(t, err)
	_, err = f.engine.Settle(ctx, tx.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	regular, escrow := f.balances(t, "airport")
	assert.Zero(t, regular)
	assert.Equal(t, int64(600_000), escrow)
	entries, err := f.ledger.Entries(ctx, "airport")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentSettleOfSameTransaction(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.account(t, "traveller", ledger.KindIndividual, 50_000_000, 0)

	tx, err := f.engine.CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: pricing.EventSingleA, PartyA: "traveller"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Settle(ctx, tx.ID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadySettled) && !errors.Is(err, ErrSettlementInProgress) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	regular, _ := f.balances(t, "traveller")
	assert.Equal(t, int64(50_000_000-feeA), regular)
}

func TestConcurrentSettlementsConserveValue(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.account(t, "airline", ledger.KindEnterprise, 5_000_000, 100_000_000)

	const n = 20
	txIDs := make([]string, n)
	for i := range txIDs {
		tx, err := f.engine.CreateTransaction(ctx, CreateInput{VerificationID: fmt.Sprintf("v-%d", i), EventType: pricing.EventSingleB, PartyB: "airline"})
		require.NoError(t, err)
		txIDs[i] = tx.ID
	}

	var wg sync.WaitGroup
	for _, id := range txIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = f.engine.Settle(ctx, id)
		}(id)
	}
	wg.Wait()

	txs, err := f.engine.TransactionsForParty(ctx, "airline")
	require.NoError(t, err)
	require.Len(t, txs, n)
	var settled, failed int64
	for _, tx := range txs {
		switch tx.Status {
		case StatusSettled:
			settled++
		case StatusFailed:
			failed++
		default:
			t.Fatalf("transaction %s left %s", tx.ID, tx.Status)
		}
	}
	assert.Equal(t, int64(10), settled)
	assert.Equal(t, int64(10), failed)

	regular, escrow := f.balances(t, "airline")
	assert.Equal(t, int64(105_000_000)-settled*feeB, regular+escrow)
	assert.Equal(t, int64(5_000_000), regular+escrow)
}

func TestSettledForPayerRange(t *testing.T) {
	table, err := pricing.NewTable(pricing.Defaults(feeA, feeB)...)
	require.NoError(t, err)
	led := ledger.NewInMemory()
	clock := time.Date(2026, time.September, 30, 23, 0, 0, 0, time.UTC)
	engine := NewEngine(NewMemoryRepository(), led, table, Options{
		Compensate: true,
		Logger:     logging.Discard(),
		Now:        func() time.Time { return clock },
	})
	ctx := context.Background()
	_, err = led.GetOrCreate(ctx, "airline", ledger.KindEnterprise)
	require.NoError(t, err)
	ledger.SeedBalances(led, "airline", 0, 100_000_000)

	settle := func(at time.Time, id string) Transaction {
		clock = at
		tx, err := engine.CreateTransaction(ctx, CreateInput{VerificationID: id, EventType: pricing.EventSingleB, PartyB: "airline"})
		require.NoError(t, err)
		tx, err = engine.Settle(ctx, tx.ID)
		require.NoError(t, err)
		return tx
	}

	settle(time.Date(2026, time.September, 30, 23, 59, 59, 0, time.UTC), "sep")
	oct1 := settle(time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC), "oct-1")
	oct2 := settle(time.Date(2026, time.October, 31, 23, 59, 59, 0, time.UTC), "oct-2")
	settle(time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC), "nov")

	clock = time.Date(2026, time.October, 15, 0, 0, 0, 0, time.UTC)
	_, err = engine.CreateTransaction(ctx, CreateInput{VerificationID: "pending", EventType: pricing.EventSingleB, PartyB: "airline"})
	require.NoError(t, err)

	got, err := engine.SettledForPayer(ctx, "airline",
		time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, oct1.ID, got[0].ID)
	assert.Equal(t, oct2.ID, got[1].ID)
}

func TestSettleSkipsZeroShares(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.engine.Pricing().Set(pricing.Rule{EventType: pricing.EventDual, BaseAmount: 4, Shares: []pricing.Share{
		{Role: pricing.RoleA, BasisPoints: 2_000},
		{Role: pricing.RoleB, BasisPoints: 8_000},
	}}))
	f.account(t, "traveller", ledger.KindIndividual, 1_000, 0)
	f.account(t, "airline", ledger.KindEnterprise, 0, 1_000)

	tx, err := f.engine.CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: pricing.EventDual, PartyA: "traveller", PartyB: "airline"})
	require.NoError(t, err)
	require.Len(t, tx.Payers, 2)
	assert.Zero(t, tx.Payers[0].Amount)
	assert.Equal(t, int64(4), tx.Payers[1].Amount)

	settled, err := f.engine.Settle(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, settled.Status)

	regular, _ := f.balances(t, "traveller")
	assert.Equal(t, int64(1_000), regular)
	_, escrow := f.balances(t, "airline")
	assert.Equal(t, int64(996), escrow)

	entries, err := f.ledger.Entries(ctx, "traveller")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryRepositoryClaimIsOnceOnly(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	tx := Transaction{ID: "stx_1", VerificationID: "v", EventType: pricing.EventSingleA, Status: StatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, tx))

	// Outcomes can only be recorded for a claimed transaction.
	tx.Status = StatusSettled
	assert.ErrorIs(t, repo.Update(ctx, tx), ErrInvalidInput)

	claimed, err := repo.Claim(ctx, "stx_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSettling, claimed.Status)

	again, err := repo.Claim(ctx, "stx_1")
	assert.ErrorIs(t, err, ErrSettlementInProgress)
	assert.Equal(t, StatusSettling, again.Status)

	require.NoError(t, repo.Update(ctx, tx))
	_, err = repo.Claim(ctx, "stx_1")
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.ErrorIs(t, repo.Update(ctx, tx), ErrAlreadySettled)

	_, err = repo.Claim(ctx, "stx_missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

// failingUpdates stores everything but refuses to record outcomes.
type failingUpdates struct {
	Repository
}

func (failingUpdates) Update(context.Context, Transaction) error {
	return errors.New("database unavailable")
}

func TestSettleRetryAfterLostUpdateDoesNotChargeAgain(t *testing.T) {
	table, err := pricing.NewTable(pricing.Defaults(feeA, feeB)...)
	require.NoError(t, err)
	led := ledger.NewInMemory()
	repo := failingUpdates{Repository: NewMemoryRepository()}
	engine := NewEngine(repo, led, table, Options{Compensate: true, Logger: logging.Discard()})
	ctx := context.Background()

	_, err = led.GetOrCreate(ctx, "traveller", ledger.KindIndividual)
	require.NoError(t, err)
	ledger.SeedBalances(led, "traveller", 5_000_000, 0)

	tx, err := engine.CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: pricing.EventSingleA, PartyA: "traveller"})
	require.NoError(t, err)

	_, err = engine.Settle(ctx, tx.ID)
	require.Error(t, err)

	_, err = engine.Settle(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrSettlementInProgress)

	acct, err := led.Account(ctx, "traveller")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000-feeA), acct.RegularBalance)
}

func TestEnginesSharingStorageSettleOnce(t *testing.T) {
	table, err := pricing.NewTable(pricing.Defaults(feeA, feeB)...)
	require.NoError(t, err)
	led := ledger.NewInMemory()
	repo := NewMemoryRepository()
	ctx := context.Background()
	_, err = led.GetOrCreate(ctx, "traveller", ledger.KindIndividual)
	require.NoError(t, err)
	ledger.SeedBalances(led, "traveller", 50_000_000, 0)

	replicas := []*Engine{
		NewEngine(repo, led, table, Options{Compensate: true, Logger: logging.Discard()}),
		NewEngine(repo, led, table, Options{Compensate: true, Logger: logging.Discard()}),
	}
	tx, err := replicas[0].CreateTransaction(ctx, CreateInput{VerificationID: "v", EventType: pricing.EventSingleA, PartyA: "traveller"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			if _, err := e.Settle(ctx, tx.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(replicas[i%2])
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	acct, err := led.Account(ctx, "traveller")
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000-feeA), acct.RegularBalance)
}
