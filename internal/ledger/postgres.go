package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger keeps balances on the account row and appends every mutation
// to ledger_entries inside the same database transaction.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

var _ Ledger = (*PostgresLedger)(nil)

const accountColumns = `id, kind, regular_balance, escrow_balance, created_at, updated_at`

// GetOrCreate inserts the account if missing and verifies the stored kind.
func (l *PostgresLedger) GetOrCreate(ctx context.Context, accountID string, kind AccountKind) (Account, error) {
	if accountID == "" {
		return Account{}, fmt.Errorf("%w: empty account id", ErrUnknownAccount)
	}
	if !kind.Valid() {
		return Account{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	now := time.Now().UTC()
	if _, err := l.db.Exec(ctx, `INSERT INTO ledger_accounts (id, kind, regular_balance, escrow_balance, created_at, updated_at)
        VALUES ($1, $2, 0, 0, $3, $3) ON CONFLICT (id) DO NOTHING`, accountID, string(kind), now); err != nil {
		return Account{}, err
	}

	acct, err := scanAccount(l.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1`, accountID))
	if err != nil {
		return Account{}, err
	}
	if acct.Kind != kind {
		return Account{}, kindMismatch(acct, kind)
	}
	return acct, nil
}

// Account returns the current balances for accountID.
func (l *PostgresLedger) Account(ctx context.Context, accountID string) (Account, error) {
	acct, err := scanAccount(l.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, unknownAccount(accountID)
	}
	return acct, err
}

// CreditRegular adds amount to the regular balance.
func (l *PostgresLedger) CreditRegular(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error) {
	return l.single(ctx, accountID, amount, func(acct *Account, now time.Time) (Entry, error) {
		return credit(acct, BalanceRegular, amount, purpose, referenceFrom(ctx), now)
	})
}

// CreditEscrow adds amount to the escrow balance of an enterprise account.
func (l *PostgresLedger) CreditEscrow(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error) {
	return l.single(ctx, accountID, amount, func(acct *Account, now time.Time) (Entry, error) {
		return credit(acct, BalanceEscrow, amount, purpose, referenceFrom(ctx), now)
	})
}

// DebitRegular removes amount from the regular balance.
func (l *PostgresLedger) DebitRegular(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error) {
	return l.single(ctx, accountID, amount, func(acct *Account, now time.Time) (Entry, error) {
		return debit(acct, BalanceRegular, amount, purpose, referenceFrom(ctx), now)
	})
}

// DebitEscrow removes amount from escrow; only fee payment is accepted.
func (l *PostgresLedger) DebitEscrow(ctx context.Context, accountID string, amount int64, purpose string) (Entry, error) {
	if err := validateEscrowPurpose(purpose); err != nil {
		return Entry{}, err
	}
	return l.single(ctx, accountID, amount, func(acct *Account, now time.Time) (Entry, error) {
		return debit(acct, BalanceEscrow, amount, purpose, referenceFrom(ctx), now)
	})
}

// PayFeeSmart charges a fee against escrow first, then regular.
func (l *PostgresLedger) PayFeeSmart(ctx context.Context, accountID string, amount int64) ([]Entry, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	return l.mutate(ctx, accountID, func(acct *Account, now time.Time) ([]Entry, error) {
		return payFee(acct, amount, referenceFrom(ctx), now)
	})
}

// Entries lists the audit trail of accountID, oldest first.
func (l *PostgresLedger) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	if _, err := l.Account(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := l.db.Query(ctx, `SELECT id, account_id, direction, balance_kind, amount, balance_before, balance_after, purpose, reference, created_at
        FROM ledger_entries WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			direction string
			kind      string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &direction, &kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.Purpose, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Direction = Direction(direction)
		e.BalanceKind = BalanceKind(kind)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) single(ctx context.Context, accountID string, amount int64, fn func(*Account, time.Time) (Entry, error)) (Entry, error) {
	if err := validateAmount(amount); err != nil {
		return Entry{}, err
	}
	entries, err := l.mutate(ctx, accountID, func(acct *Account, now time.Time) ([]Entry, error) {
		entry, err := fn(acct, now)
		if err != nil {
			return nil, err
		}
		return []Entry{entry}, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// mutate locks the account row, applies fn and persists the new balances and
// entries atomically.
func (l *PostgresLedger) mutate(ctx context.Context, accountID string, fn func(*Account, time.Time) ([]Entry, error)) ([]Entry, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	acct, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1 FOR UPDATE`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, unknownAccount(accountID)
		}
		return nil, err
	}

	entries, err := fn(&acct, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE ledger_accounts SET regular_balance = $1, escrow_balance = $2, updated_at = $3 WHERE id = $4`,
		acct.RegularBalance, acct.EscrowBalance, acct.UpdatedAt, acct.ID); err != nil {
		return nil, err
	}

	for _, e := range entries {
		if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, account_id, direction, balance_kind, amount, balance_before, balance_after, purpose, reference, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.AccountID, string(e.Direction), string(e.BalanceKind), e.Amount, e.BalanceBefore, e.BalanceAfter, e.Purpose, e.Reference, e.CreatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct Account
		kind string
	)
	if err := row.Scan(&acct.ID, &kind, &acct.RegularBalance, &acct.EscrowBalance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return Account{}, err
	}
	acct.Kind = AccountKind(kind)
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return acct, nil
}
