package invoice

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvoiceExists   = errors.New("invoice already exists")
	ErrAlreadyPaid     = errors.New("invoice already paid")
	ErrInvalidPeriod   = errors.New("invalid billing period")
)

// Status of an invoice. Invoices are born finalized and may only move to paid.
type Status string

const (
	StatusFinalized Status = "finalized"
	StatusPaid      Status = "paid"
)

// Period is a UTC calendar month.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q, want YYYY-MM", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// Start is the first instant of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant after the period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// LineItem is one settled allocation billed to the node.
type LineItem struct {
	TransactionID  string    `json:"transaction_id"`
	VerificationID string    `json:"verification_id"`
	EventType      string    `json:"event_type"`
	Role           string    `json:"role"`
	Amount         int64     `json:"amount"`
	BasisPoints    int64     `json:"basis_points"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Breakdown aggregates line items of one event type.
type Breakdown struct {
	Count int   `json:"count"`
	Total int64 `json:"total"`
}

// Invoice is the frozen monthly summary for one node.
type Invoice struct {
	ID             string               `json:"invoice_id"`
	NodeID         string               `json:"node_id"`
	Period         string               `json:"period"`
	PeriodStart    time.Time            `json:"period_start"`
	PeriodEnd      time.Time            `json:"period_end"`
	LineItems      []LineItem           `json:"line_items"`
	EventBreakdown map[string]Breakdown `json:"event_breakdown"`
	TotalAmount    int64                `json:"total_amount"`
	Status         Status               `json:"status"`
	DueDate        time.Time            `json:"due_date"`
	GeneratedAt    time.Time            `json:"generated_at"`
	PaidAt         *time.Time           `json:"paid_at,omitempty"`
}

func (inv Invoice) clone() Invoice {
	inv.LineItems = append([]LineItem(nil), inv.LineItems...)
	breakdown := make(map[string]Breakdown, len(inv.EventBreakdown))
	for k, v := range inv.EventBreakdown {
		breakdown[k] = v
	}
	inv.EventBreakdown = breakdown
	if inv.PaidAt != nil {
		at := *inv.PaidAt
		inv.PaidAt = &at
	}
	return inv
}
