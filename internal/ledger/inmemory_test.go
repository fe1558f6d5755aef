package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
)

func newAccount(t *testing.T, l Ledger, id string, kind AccountKind) {
	t.Helper()
	if _, err := l.GetOrCreate(context.Background(), id, kind); err != nil {
		t.Fatalf("create account %s: %v", id, err)
	}
}

func mustAccount(t *testing.T, l Ledger, id string) Account {
	t.Helper()
	acct, err := l.Account(context.Background(), id)
	if err != nil {
		t.Fatalf("account %s: %v", id, err)
	}
	return acct
}

func TestInMemoryLedger_GetOrCreateIsIdempotent(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	first, err := l.GetOrCreate(ctx, "lagos-airport", KindEnterprise)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.CreditEscrow(ctx, "lagos-airport", 500, PurposeFiatPurchase); err != nil {
		t.Fatalf("credit escrow: %v", err)
	}

	again, err := l.GetOrCreate(ctx, "lagos-airport", KindEnterprise)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if again.EscrowBalance != 500 || again.CreatedAt != first.CreatedAt {
		t.Fatalf("expected existing account, got %+v", again)
	}

	if _, err := l.GetOrCreate(ctx, "lagos-airport", KindIndividual); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
	if _, err := l.GetOrCreate(ctx, "x", AccountKind("robot")); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
}

func TestInMemoryLedger_CreditValidation(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newAccount(t, l, "ada", KindIndividual)

	if _, err := l.CreditRegular(ctx, "nobody", 10, PurposeFiatPurchase); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected unknown account, got %v", err)
	}
	if _, err := l.CreditRegular(ctx, "ada", 0, PurposeFiatPurchase); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := l.CreditRegular(ctx, "ada", -5, PurposeFiatPurchase); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for negative, got %v", err)
	}
	if _, err := l.CreditEscrow(ctx, "ada", 10, PurposeFiatPurchase); !errors.Is(err, ErrNotEnterprise) {
		t.Fatalf("expected not enterprise, got %v", err)
	}

	entry, err := l.CreditRegular(ctx, "ada", 1_500, PurposeFiatPurchase)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if entry.BalanceBefore != 0 || entry.BalanceAfter != 1_500 || entry.Direction != DirectionCredit || entry.BalanceKind != BalanceRegular {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if mustAccount(t, l, "ada").EscrowBalance != 0 {
		t.Fatal("individual escrow must stay zero")
	}
}

func TestInMemoryLedger_WithdrawalScenario(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newAccount(t, l, "ada", KindIndividual)
	if _, err := l.CreditRegular(ctx, "ada", 500_000, PurposeFiatPurchase); err != nil {
		t.Fatalf("credit: %v", err)
	}

	entry, err := l.DebitRegular(ctx, "ada", 500_000, PurposeWithdrawal)
	if err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if entry.BalanceAfter != 0 {
		t.Fatalf("expected zero balance after, got %d", entry.BalanceAfter)
	}

	_, err = l.DebitRegular(ctx, "ada", 1, PurposeWithdrawal)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	var balErr *BalanceError
	if !errors.As(err, &balErr) || balErr.Available != 0 || balErr.Required != 1 {
		t.Fatalf("expected numeric context, got %v", err)
	}
}

func TestInMemoryLedger_AntiDumping(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newAccount(t, l, "dxb", KindEnterprise)
	ledgerImpl := l.(*inMemoryLedger)
	SeedBalances(l, "dxb", 0, 1_000)

	for _, purpose := range []string{PurposeWithdrawal, "transfer", "", PurposeFiatPurchase} {
		if _, err := l.DebitEscrow(ctx, "dxb", 100, purpose); !errors.Is(err, ErrPurposeNotAllowed) {
			t.Fatalf("purpose %q: expected purpose not allowed, got %v", purpose, err)
		}
	}
	if got := ledgerImpl.accounts["dxb"].EscrowBalance; got != 1_000 {
		t.Fatalf("escrow changed by rejected debits: %d", got)
	}

	entry, err := l.DebitEscrow(ctx, "dxb", 400, PurposeFeePayment)
	if err != nil {
		t.Fatalf("fee debit: %v", err)
	}
	if entry.BalanceKind != BalanceEscrow || entry.BalanceAfter != 600 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	if _, err := l.DebitEscrow(ctx, "dxb", 601, PurposeFeePayment); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient escrow, got %v", err)
	}

	newAccount(t, l, "ada", KindIndividual)
	if _, err := l.DebitEscrow(ctx, "ada", 1, PurposeFeePayment); !errors.Is(err, ErrNotEnterprise) {
		t.Fatalf("expected not enterprise, got %v", err)
	}
}

func TestInMemoryLedger_PayFeeSmartOrdering(t *testing.T) {
	const escrow, regular = int64(600_000), int64(400_000)
	tests := []struct {
		name        string
		amount      int64
		wantEscrow  int64
		wantRegular int64
		wantEntries int
		wantErr     error
	}{
		{name: "within escrow", amount: 250_000, wantEscrow: 350_000, wantRegular: regular, wantEntries: 1},
		{name: "exactly escrow", amount: escrow, wantEscrow: 0, wantRegular: regular, wantEntries: 1},
		{name: "spills into regular", amount: 700_000, wantEscrow: 0, wantRegular: 300_000, wantEntries: 2},
		{name: "exactly total", amount: escrow + regular, wantEscrow: 0, wantRegular: 0, wantEntries: 2},
		{name: "over total", amount: escrow + regular + 1, wantEscrow: escrow, wantRegular: regular, wantErr: ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewInMemory()
			newAccount(t, l, "jfk", KindEnterprise)
			SeedBalances(l, "jfk", regular, escrow)

			entries, err := l.PayFeeSmart(context.Background(), "jfk", tt.amount)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("pay fee: %v", err)
			}
			if len(entries) != tt.wantEntries {
				t.Fatalf("expected %d entries, got %d", tt.wantEntries, len(entries))
			}
			if len(entries) > 0 && entries[0].BalanceKind != BalanceEscrow {
				t.Fatalf("escrow must be drained first, got %s", entries[0].BalanceKind)
			}
			acct := mustAccount(t, l, "jfk")
			if acct.EscrowBalance != tt.wantEscrow || acct.RegularBalance != tt.wantRegular {
				t.Fatalf("unexpected balances escrow=%d regular=%d", acct.EscrowBalance, acct.RegularBalance)
			}
		})
	}
}

func TestInMemoryLedger_PayFeeSmartRejectsWithoutMutation(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newAccount(t, l, "ams", KindEnterprise)
	if _, err := l.CreditEscrow(ctx, "ams", 600_000, PurposeFiatPurchase); err != nil {
		t.Fatalf("credit escrow: %v", err)
	}

	if _, err := l.PayFeeSmart(ctx, "ams", 1_000_000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	acct := mustAccount(t, l, "ams")
	if acct.EscrowBalance != 600_000 || acct.RegularBalance != 0 {
		t.Fatalf("balances changed: escrow=%d regular=%d", acct.EscrowBalance, acct.RegularBalance)
	}
	entries, _ := l.Entries(ctx, "ams")
	if len(entries) != 1 {
		t.Fatalf("expected only the funding entry, got %d", len(entries))
	}
}

func TestInMemoryLedger_PayFeeSmartIndividualUsesRegular(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newAccount(t, l, "ada", KindIndividual)
	SeedBalances(l, "ada", 2_000, 0)

	entries, err := l.PayFeeSmart(WithReference(ctx, "stx_test"), "ada", 1_500)
	if err != nil {
		t.Fatalf("pay fee: %v", err)
	}
	if len(entries) != 1 || entries[0].BalanceKind != BalanceRegular || entries[0].Purpose != PurposeFeePayment {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Reference != "stx_test" {
		t.Fatalf("expected reference to be recorded, got %q", entries[0].Reference)
	}
}

// Random operation sequences must keep every entry consistent with the
// account it was applied to and never leave a negative sub-balance.
func TestInMemoryLedger_ConservationUnderRandomOperations(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newAccount(t, l, "ent", KindEnterprise)
	rng := rand.New(rand.NewSource(42))

	var expectedTotal int64
	for i := 0; i < 2_000; i++ {
		amount := rng.Int63n(5_000) + 1
		var (
			entries []Entry
			err     error
			entry   Entry
		)
		switch rng.Intn(5) {
		case 0:
			entry, err = l.CreditRegular(ctx, "ent", amount, PurposeFiatPurchase)
			entries = []Entry{entry}
		case 1:
			entry, err = l.CreditEscrow(ctx, "ent", amount, PurposeFiatPurchase)
			entries = []Entry{entry}
		case 2:
			entry, err = l.DebitRegular(ctx, "ent", amount, PurposeWithdrawal)
			entries = []Entry{entry}
		case 3:
			entry, err = l.DebitEscrow(ctx, "ent", amount, PurposeFeePayment)
			entries = []Entry{entry}
		case 4:
			entries, err = l.PayFeeSmart(ctx, "ent", amount)
		}
		if err != nil {
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Fatalf("step %d: unexpected error %v", i, err)
			}
			continue
		}
		for _, e := range entries {
			if e.Direction == DirectionCredit {
				expectedTotal += e.Amount
			} else {
				expectedTotal -= e.Amount
			}
		}

		acct := mustAccount(t, l, "ent")
		if acct.RegularBalance < 0 || acct.EscrowBalance < 0 {
			t.Fatalf("step %d: negative balance %+v", i, acct)
		}
		if acct.Total() != expectedTotal || acct.RegularBalance+acct.EscrowBalance != expectedTotal {
			t.Fatalf("step %d: total %d, expected %d", i, acct.Total(), expectedTotal)
		}
	}
}

func TestInMemoryLedger_ConcurrentFees(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newAccount(t, l, "hub", KindEnterprise)
	SeedBalances(l, "hub", 50_000, 50_000)

	const workers = 40
	const amount = int64(3_000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries, err := l.PayFeeSmart(WithReference(ctx, fmt.Sprintf("tx-%d", i)), "hub", amount)
			if err != nil {
				if !errors.Is(err, ErrInsufficientFunds) {
					t.Errorf("fee %d failed: %v", i, err)
				}
				return
			}
			mu.Lock()
			for _, e := range entries {
				charged += e.Amount
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	acct := mustAccount(t, l, "hub")
	if acct.Total()+charged != 100_000 {
		t.Fatalf("ledger not balanced after concurrency, total=%d charged=%d", acct.Total(), charged)
	}
	if charged != 33*amount {
		t.Fatalf("expected 33 successful fees, charged %d", charged)
	}
}

func TestInMemoryLedger_EntriesAuditTrail(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newAccount(t, l, "cdg", KindEnterprise)
	_, _ = l.CreditEscrow(ctx, "cdg", 300, PurposeFiatPurchase)
	_, _ = l.CreditRegular(ctx, "cdg", 200, PurposeFiatPurchase)
	_, _ = l.PayFeeSmart(ctx, "cdg", 450)

	entries, err := l.Entries(ctx, "cdg")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	last := entries[3]
	if last.BalanceKind != BalanceRegular || last.Amount != 150 || last.BalanceBefore != 200 || last.BalanceAfter != 50 {
		t.Fatalf("unexpected final entry %+v", last)
	}
	if _, err := l.Entries(ctx, "ghost"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected unknown account, got %v", err)
	}
}

func TestInMemoryLedger_CreditRejectsOverflow(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newAccount(t, l, "ada", KindIndividual)
	newAccount(t, l, "lhr", KindEnterprise)

	if _, err := l.CreditRegular(ctx, "ada", math.MaxInt64, PurposeFiatPurchase); err != nil {
		t.Fatalf("credit up to the limit: %v", err)
	}
	if _, err := l.CreditRegular(ctx, "ada", 1, PurposeFiatPurchase); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount past the limit, got %v", err)
	}
	if got := mustAccount(t, l, "ada").RegularBalance; got != math.MaxInt64 {
		t.Fatalf("balance must be untouched, got %d", got)
	}

	// Escrow and regular share one total.
	if _, err := l.CreditRegular(ctx, "lhr", math.MaxInt64-10, PurposeFiatPurchase); err != nil {
		t.Fatalf("credit regular: %v", err)
	}
	if _, err := l.CreditEscrow(ctx, "lhr", 11, PurposeFiatPurchase); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount when the total would overflow, got %v", err)
	}
	if _, err := l.CreditEscrow(ctx, "lhr", 10, PurposeFiatPurchase); err != nil {
		t.Fatalf("credit escrow to the limit: %v", err)
	}
	acct := mustAccount(t, l, "lhr")
	if acct.EscrowBalance != 10 || acct.Total() != math.MaxInt64 {
		t.Fatalf("unexpected balances %+v", acct)
	}
}
