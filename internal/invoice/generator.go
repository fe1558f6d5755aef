// Package invoice produces the monthly billing summary of a corporate node's
// settled verification fees.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sovra/wallet-ledger/internal/events"
	"github.com/sovra/wallet-ledger/internal/ids"
	"github.com/sovra/wallet-ledger/internal/node"
	"github.com/sovra/wallet-ledger/internal/settlement"
)

// DefaultDueDays is the payment term counted from the end of the period.
const DefaultDueDays = 15

// NodeDirectory resolves registered nodes.
type NodeDirectory interface {
	Get(ctx context.Context, id string) (node.Node, error)
}

// SettledSource lists settled transactions billed to an account.
type SettledSource interface {
	SettledForPayer(ctx context.Context, accountID string, from, to time.Time) ([]settlement.Transaction, error)
}

// Options tunes the generator.
type Options struct {
	DueDays   int
	Publisher events.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Generator builds and stores invoices. Generation for a (node, period) is
// frozen at the first call.
type Generator struct {
	repo      Repository
	nodes     NodeDirectory
	settled   SettledSource
	dueDays   int
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewGenerator wires a generator.
func NewGenerator(repo Repository, nodes NodeDirectory, settled SettledSource, opts Options) *Generator {
	g := &Generator{
		repo:      repo,
		nodes:     nodes,
		settled:   settled,
		dueDays:   opts.DueDays,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if g.dueDays <= 0 {
		g.dueDays = DefaultDueDays
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = func() time.Time { return time.Now().UTC() }
	}
	return g
}

// Generate returns the invoice of nodeID for period, building it on the
// first call. Later calls return the stored invoice unchanged.
func (g *Generator) Generate(ctx context.Context, nodeID string, period Period) (Invoice, error) {
	n, err := g.nodes.Get(ctx, nodeID)
	if err != nil {
		return Invoice{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	existing, err := g.repo.GetByPeriod(ctx, n.ID, period.String())
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrInvoiceNotFound) {
		return Invoice{}, err
	}

	txs, err := g.settled.SettledForPayer(ctx, n.AccountID, period.Start(), period.End())
	if err != nil {
		return Invoice{}, fmt.Errorf("load settled transactions: %w", err)
	}

	inv := build(n, period, txs, g.dueDays, g.now())
	if err := g.repo.Create(ctx, inv); err != nil {
		if errors.Is(err, ErrInvoiceExists) {
			return g.repo.GetByPeriod(ctx, n.ID, period.String())
		}
		return Invoice{}, err
	}

	g.logger.InfoContext(ctx, "invoice generated", "invoice_id", inv.ID, "node_id", n.ID, "period", inv.Period, "items", len(inv.LineItems), "total", inv.TotalAmount)
	events.Emit(ctx, g.publisher, g.logger, events.KindInvoiceGenerated, inv.ID, inv)
	return inv, nil
}

func build(n node.Node, period Period, txs []settlement.Transaction, dueDays int, now time.Time) Invoice {
	inv := Invoice{
		ID:             ids.NewInvoiceID(),
		NodeID:         n.ID,
		Period:         period.String(),
		PeriodStart:    period.Start(),
		PeriodEnd:      period.End(),
		LineItems:      []LineItem{},
		EventBreakdown: map[string]Breakdown{},
		Status:         StatusFinalized,
		DueDate:        period.End().AddDate(0, 0, dueDays),
		GeneratedAt:    now,
	}
	for _, tx := range txs {
		for _, p := range tx.PayersFor(n.AccountID) {
			inv.LineItems = append(inv.LineItems, LineItem{
				TransactionID:  tx.ID,
				VerificationID: tx.VerificationID,
				EventType:      tx.EventType,
				Role:           string(p.Role),
				Amount:         p.Amount,
				BasisPoints:    p.BasisPoints,
				OccurredAt:     tx.CreatedAt,
			})
			b := inv.EventBreakdown[tx.EventType]
			b.Count++
			b.Total += p.Amount
			inv.EventBreakdown[tx.EventType] = b
			inv.TotalAmount += p.Amount
		}
	}
	return inv
}

// MarkPaid records payment of an invoice. Paid invoices cannot be paid again.
func (g *Generator) MarkPaid(ctx context.Context, invoiceID string) (Invoice, error) {
	inv, err := g.repo.Get(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status == StatusPaid {
		return inv, fmt.Errorf("%w: %s", ErrAlreadyPaid, inv.ID)
	}

	paidAt := g.now()
	inv.Status = StatusPaid
	inv.PaidAt = &paidAt
	if err := g.repo.MarkPaid(ctx, inv); err != nil {
		return Invoice{}, err
	}

	g.logger.InfoContext(ctx, "invoice paid", "invoice_id", inv.ID, "node_id", inv.NodeID, "total", inv.TotalAmount)
	events.Emit(ctx, g.publisher, g.logger, events.KindInvoicePaid, inv.ID, inv)
	return inv, nil
}

// Invoice returns the stored invoice of nodeID for period.
func (g *Generator) Invoice(ctx context.Context, nodeID string, period Period) (Invoice, error) {
	return g.repo.GetByPeriod(ctx, nodeID, period.String())
}

// InvoicesForNode lists a node's invoices ordered by period.
func (g *Generator) InvoicesForNode(ctx context.Context, nodeID string) ([]Invoice, error) {
	if _, err := g.nodes.Get(ctx, nodeID); err != nil {
		return nil, err
	}
	return g.repo.ListByNode(ctx, nodeID)
}

// Node resolves a node for rendering.
func (g *Generator) Node(ctx context.Context, nodeID string) (node.Node, error) {
	return g.nodes.Get(ctx, nodeID)
}
