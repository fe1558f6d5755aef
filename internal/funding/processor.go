package funding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrPaymentDeclined is returned when the external processor refuses a charge or payout.
var ErrPaymentDeclined = errors.New("payment declined")

// Decision statuses.
const (
	StatusApproved = "approved"
	StatusDeclined = "declined"
)

// Payment methods accepted for purchases.
const (
	MethodCard        = "card"
	MethodMobileMoney = "mobile_money"
	MethodBank        = "bank_transfer"
)

// Processor represents a connector to an external fiat payment processor.
type Processor interface {
	Charge(ctx context.Context, charge Charge) (Decision, error)
	Payout(ctx context.Context, payout Payout) (Decision, error)
}

// Decision captures the processor's response.
type Decision struct {
	Reference string
	Status    string
}

// Approved reports whether the processor accepted the request.
func (d Decision) Approved() bool {
	return d.Status == StatusApproved
}

// Charge pulls fiat from the buyer.
type Charge struct {
	Method   string
	Source   string
	Currency string
	Amount   decimal.Decimal
}

// Payout pushes withdrawn value to an external destination.
type Payout struct {
	AccountID   string
	Destination string
	Amount      int64
}

// StaticProcessor approves every request with a synthetic reference.
type StaticProcessor struct{}

// Charge approves the charge.
func (StaticProcessor) Charge(_ context.Context, _ Charge) (Decision, error) {
	return Decision{Reference: uuid.NewString(), Status: StatusApproved}, nil
}

// Payout approves the payout.
func (StaticProcessor) Payout(_ context.Context, _ Payout) (Decision, error) {
	return Decision{Reference: uuid.NewString(), Status: StatusApproved}, nil
}

func validateMethod(method, source string) error {
	switch method {
	case MethodCard:
		return validateCardNumber(source)
	case MethodMobileMoney, MethodBank:
		if strings.TrimSpace(source) == "" {
			return fmt.Errorf("%s source is required", method)
		}
		return nil
	default:
		return fmt.Errorf("unsupported payment method %q", method)
	}
}

func validateCardNumber(card string) error {
	digits := strings.ReplaceAll(card, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return fmt.Errorf("card number must be between 12 and 19 digits")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("card number must be numeric")
		}
	}
	return nil
}
