package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sovra/wallet-ledger/internal/ledger"
	"github.com/sovra/wallet-ledger/internal/pricing"
)

// Repository persists settlement transactions. List calls return transactions
// ordered by creation time, then ID.
type Repository interface {
	Create(ctx context.Context, tx Transaction) error
	Get(ctx context.Context, id string) (Transaction, error)
	// Claim moves a pending transaction to settling and returns it. Only one
	// caller can claim a transaction; the others get ErrSettlementInProgress
	// or ErrAlreadySettled along with the stored transaction.
	Claim(ctx context.Context, id string) (Transaction, error)
	// Update records the outcome of a claimed (settling) transaction.
	Update(ctx context.Context, tx Transaction) error
	ListByPayer(ctx context.Context, accountID string) ([]Transaction, error)
	// ListSettledByPayer returns settled transactions billed to accountID
	// created in [from, to).
	ListSettledByPayer(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error)
}

// PostgresRepository stores transactions in settlement_transactions and their
// allocations in settlement_payers.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

const transactionColumns = `t.id, t.verification_id, t.event_type, t.total_amount, t.status, t.failure_reason, t.compensated, t.created_at, t.settled_at`

// Create inserts the transaction and its payers atomically.
func (r *PostgresRepository) Create(ctx context.Context, tx Transaction) error {
	dbTx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx) // nolint:errcheck

	_, err = dbTx.Exec(ctx, `INSERT INTO settlement_transactions (id, verification_id, event_type, total_amount, status, failure_reason, compensated, created_at, settled_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, tx.VerificationID, tx.EventType, tx.TotalAmount, string(tx.Status), tx.FailureReason, tx.Compensated, tx.CreatedAt.UTC(), tx.SettledAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTransactionExists
		}
		return err
	}

	for i, p := range tx.Payers {
		if _, err := dbTx.Exec(ctx, `INSERT INTO settlement_payers (transaction_id, position, account_id, role, account_kind, amount, basis_points)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			tx.ID, i, p.AccountID, string(p.Role), string(p.AccountKind), p.Amount, p.BasisPoints); err != nil {
			return err
		}
	}
	return dbTx.Commit(ctx)
}

// Get loads a transaction with its payers.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Transaction, error) {
	txs, err := r.query(ctx, `SELECT `+transactionColumns+` FROM settlement_transactions t WHERE t.id = $1`, id)
	if err != nil {
		return Transaction{}, err
	}
	if len(txs) == 0 {
		return Transaction{}, ErrTransactionNotFound
	}
	return txs[0], nil
}

// Claim flips pending to settling in a single conditional update, so
// replicas sharing the database cannot settle the same transaction twice.
func (r *PostgresRepository) Claim(ctx context.Context, id string) (Transaction, error) {
	tag, err := r.db.Exec(ctx, `UPDATE settlement_transactions SET status = $1 WHERE id = $2 AND status = $3`,
		string(StatusSettling), id, string(StatusPending))
	if err != nil {
		return Transaction{}, err
	}
	tx, err := r.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tag.RowsAffected() == 0 {
		return tx, claimError(tx)
	}
	return tx, nil
}

// Update persists the outcome of a claimed transaction. Payers are immutable
// once created.
func (r *PostgresRepository) Update(ctx context.Context, tx Transaction) error {
	tag, err := r.db.Exec(ctx, `UPDATE settlement_transactions SET status = $1, failure_reason = $2, compensated = $3, settled_at = $4
        WHERE id = $5 AND status = $6`,
		string(tx.Status), tx.FailureReason, tx.Compensated, tx.SettledAt, tx.ID, string(StatusSettling))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		stored, err := r.Get(ctx, tx.ID)
		if err != nil {
			return err
		}
		return claimError(stored)
	}
	return nil
}

// ListByPayer returns every transaction billed to accountID.
func (r *PostgresRepository) ListByPayer(ctx context.Context, accountID string) ([]Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+` FROM settlement_transactions t
        WHERE EXISTS (SELECT 1 FROM settlement_payers p WHERE p.transaction_id = t.id AND p.account_id = $1)
        ORDER BY t.created_at, t.id`, accountID)
}

// ListSettledByPayer returns settled transactions billed to accountID in [from, to).
func (r *PostgresRepository) ListSettledByPayer(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+` FROM settlement_transactions t
        WHERE t.status = $2 AND t.created_at >= $3 AND t.created_at < $4
          AND EXISTS (SELECT 1 FROM settlement_payers p WHERE p.transaction_id = t.id AND p.account_id = $1)
        ORDER BY t.created_at, t.id`, accountID, string(StatusSettled), from.UTC(), to.UTC())
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	txs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return txs, nil
	}

	index := make(map[string]int, len(txs))
	ids := make([]string, len(txs))
	for i, tx := range txs {
		index[tx.ID] = i
		ids[i] = tx.ID
	}

	payerRows, err := r.db.Query(ctx, `SELECT transaction_id, account_id, role, account_kind, amount, basis_points
        FROM settlement_payers WHERE transaction_id = ANY($1) ORDER BY transaction_id, position`, ids)
	if err != nil {
		return nil, err
	}
	defer payerRows.Close()
	for payerRows.Next() {
		var (
			txID, role, kind string
			p                Payer
		)
		if err := payerRows.Scan(&txID, &p.AccountID, &role, &kind, &p.Amount, &p.BasisPoints); err != nil {
			return nil, err
		}
		p.Role = pricing.Role(role)
		p.AccountKind = ledger.AccountKind(kind)
		i := index[txID]
		txs[i].Payers = append(txs[i].Payers, p)
	}
	return txs, payerRows.Err()
}

func scanTransaction(row pgx.CollectableRow) (Transaction, error) {
	var (
		tx        Transaction
		status    string
		settledAt *time.Time
	)
	if err := row.Scan(&tx.ID, &tx.VerificationID, &tx.EventType, &tx.TotalAmount, &status, &tx.FailureReason, &tx.Compensated, &tx.CreatedAt, &settledAt); err != nil {
		return Transaction{}, err
	}
	tx.Status = Status(status)
	tx.CreatedAt = tx.CreatedAt.UTC()
	if settledAt != nil {
		at := settledAt.UTC()
		tx.SettledAt = &at
	}
	return tx, nil
}
