// Package events publishes settlement and invoice lifecycle events to
// downstream systems.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event kinds.
const (
	KindSettlementSettled = "settlement.settled"
	KindSettlementFailed  = "settlement.failed"
	KindInvoiceGenerated  = "invoice.generated"
	KindInvoicePaid       = "invoice.paid"
	KindFundsPurchased    = "funding.purchased"
	KindFundsWithdrawn    = "funding.withdrawn"
)

// Event describes something that already happened in the ledger.
type Event struct {
	Kind       string    `json:"kind"`
	Subject    string    `json:"subject"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a logging publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event kind and subject.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.InfoContext(ctx, "event", "kind", event.Kind, "subject", event.Subject)
	return nil
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

// Publish delivers to all publishers even when some fail.
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit stamps and publishes an event on a best-effort basis: failures are
// logged and never returned.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, kind, subject string, payload any) {
	if p == nil {
		return
	}
	event := Event{Kind: kind, Subject: subject, Payload: payload, OccurredAt: time.Now().UTC()}
	if err := p.Publish(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "publish event failed", "kind", kind, "subject", subject, "error", err)
	}
}
