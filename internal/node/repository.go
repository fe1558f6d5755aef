package node

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists corporate node metadata.
type Repository interface {
	Create(ctx context.Context, n Node) error
	Get(ctx context.Context, id string) (Node, error)
	List(ctx context.Context) ([]Node, error)
}

// PostgresRepository stores nodes in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a node record.
func (r *PostgresRepository) Create(ctx context.Context, n Node) error {
	_, err := r.db.Exec(ctx, `INSERT INTO corporate_nodes (id, name, kind, region_code, account_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, n.ID, n.Name, string(n.Kind), n.RegionCode, n.AccountID, n.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrNodeExists
	}
	return err
}

// Get fetches a node by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Node, error) {
	n, err := scanNode(r.db.QueryRow(ctx, `SELECT id, name, kind, region_code, account_id, created_at
        FROM corporate_nodes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Node{}, ErrNodeNotFound
	}
	return n, err
}

// List returns all nodes ordered by ID.
func (r *PostgresRepository) List(ctx context.Context) ([]Node, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, kind, region_code, account_id, created_at
        FROM corporate_nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Node, error) {
		return scanNode(row)
	})
}

func scanNode(row pgx.Row) (Node, error) {
	var (
		n    Node
		kind string
	)
	if err := row.Scan(&n.ID, &n.Name, &kind, &n.RegionCode, &n.AccountID, &n.CreatedAt); err != nil {
		return Node{}, err
	}
	n.Kind = Kind(kind)
	n.CreatedAt = n.CreatedAt.UTC()
	return n, nil
}
