package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists invoices, unique per (node, period).
type Repository interface {
	// Create fails with ErrInvoiceExists when the node already has an
	// invoice for the period.
	Create(ctx context.Context, inv Invoice) error
	Get(ctx context.Context, id string) (Invoice, error)
	GetByPeriod(ctx context.Context, nodeID, period string) (Invoice, error)
	ListByNode(ctx context.Context, nodeID string) ([]Invoice, error)
	// MarkPaid moves a finalized invoice to paid, stamping inv.PaidAt.
	MarkPaid(ctx context.Context, inv Invoice) error
}

// PostgresRepository stores invoices in the invoices table with line items
// and breakdown as JSONB.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

const invoiceColumns = `id, node_id, period, period_start, period_end, line_items, event_breakdown, total_amount, status, due_date, generated_at, paid_at`

// Create inserts a new invoice.
func (r *PostgresRepository) Create(ctx context.Context, inv Invoice) error {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	breakdown, err := json.Marshal(inv.EventBreakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inv.ID, inv.NodeID, inv.Period, inv.PeriodStart, inv.PeriodEnd, items, breakdown,
		inv.TotalAmount, string(inv.Status), inv.DueDate, inv.GeneratedAt, inv.PaidAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrInvoiceExists
	}
	return err
}

// Get fetches an invoice by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Invoice, error) {
	return r.one(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

// GetByPeriod fetches the invoice of nodeID for period.
func (r *PostgresRepository) GetByPeriod(ctx context.Context, nodeID, period string) (Invoice, error) {
	return r.one(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE node_id = $1 AND period = $2`, nodeID, period)
}

// ListByNode returns every invoice of nodeID ordered by period.
func (r *PostgresRepository) ListByNode(ctx context.Context, nodeID string) ([]Invoice, error) {
	rows, err := r.db.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE node_id = $1 ORDER BY period`, nodeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Invoice, error) {
		return scanInvoice(row)
	})
}

// MarkPaid flips a finalized invoice to paid; only a finalized row is updated.
func (r *PostgresRepository) MarkPaid(ctx context.Context, inv Invoice) error {
	tag, err := r.db.Exec(ctx, `UPDATE invoices SET status = $1, paid_at = $2 WHERE id = $3 AND status = $4`,
		string(StatusPaid), inv.PaidAt, inv.ID, string(StatusFinalized))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, inv.ID); err != nil {
			return err
		}
		return ErrAlreadyPaid
	}
	return nil
}

func (r *PostgresRepository) one(ctx context.Context, sql string, args ...any) (Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, err
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv       Invoice
		items     []byte
		breakdown []byte
		status    string
		paidAt    *time.Time
	)
	if err := row.Scan(&inv.ID, &inv.NodeID, &inv.Period, &inv.PeriodStart, &inv.PeriodEnd, &items, &breakdown,
		&inv.TotalAmount, &status, &inv.DueDate, &inv.GeneratedAt, &paidAt); err != nil {
		return Invoice{}, err
	}
	if err := json.Unmarshal(items, &inv.LineItems); err != nil {
		return Invoice{}, fmt.Errorf("decode line items: %w", err)
	}
	if err := json.Unmarshal(breakdown, &inv.EventBreakdown); err != nil {
		return Invoice{}, fmt.Errorf("decode breakdown: %w", err)
	}
	inv.Status = Status(status)
	inv.PeriodStart = inv.PeriodStart.UTC()
	inv.PeriodEnd = inv.PeriodEnd.UTC()
	inv.DueDate = inv.DueDate.UTC()
	inv.GeneratedAt = inv.GeneratedAt.UTC()
	if paidAt != nil {
		at := paidAt.UTC()
		inv.PaidAt = &at
	}
	return inv, nil
}
