// Package httpx holds the JSON error shape shared by the HTTP handlers.
package httpx

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/ledger"
)

// Error writes {"error": ...} with status, merged with any extra fields.
// Balance failures also carry the account, balance kind and the available
// and required amounts.
func Error(c *fiber.Ctx, status int, err error, extra ...fiber.Map) error {
	body := fiber.Map{"error": err.Error()}
	for _, m := range extra {
		for k, v := range m {
			body[k] = v
		}
	}
	var balErr *ledger.BalanceError
	if errors.As(err, &balErr) {
		body["account_id"] = balErr.AccountID
		body["balance"] = balErr.Balance
		body["available"] = balErr.Available
		body["required"] = balErr.Required
	}
	return c.Status(status).JSON(body)
}

// LedgerStatus maps ledger sentinel errors to HTTP statuses. ok is false for
// errors the ledger does not own.
func LedgerStatus(err error) (status int, ok bool) {
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		return http.StatusNotFound, true
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, ledger.ErrKindMismatch):
		return http.StatusConflict, true
	case errors.Is(err, ledger.ErrInvalidKind), errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, true
	case errors.Is(err, ledger.ErrNotEnterprise), errors.Is(err, ledger.ErrPurposeNotAllowed):
		return http.StatusUnprocessableEntity, true
	default:
		return 0, false
	}
}

// ErrorHandler renders errors escaping handlers as JSON, keeping the status
// of *fiber.Error values.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
