package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/httpx"
	"github.com/sovra/wallet-ledger/internal/ledger"
)

// Handler exposes HTTP endpoints for purchase and withdrawal flows.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Purchase credits an account from a fiat payment.
func (h *Handler) Purchase(c *fiber.Ctx) error {
	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Purchase(c.UserContext(), PurchaseInput{
		AccountID:   c.Params("id"),
		AccountKind: ledger.AccountKind(req.AccountKind),
		Currency:    req.Currency,
		FiatAmount:  req.FiatAmount,
		Method:      req.Method,
		Source:      req.Source,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(http.StatusCreated).JSON(PurchaseResponse{
		AccountID:      result.Account.ID,
		CreditedAmount: result.CreditedAmount,
		BalanceKind:    result.BalanceKind,
		RegularBalance: result.Account.RegularBalance,
		EscrowBalance:  result.Account.EscrowBalance,
		UnitsPerFiat:   result.Rate.UnitsPerFiat,
		Reference:      result.Reference,
		EntryID:        result.Entry.ID,
		CompletedAt:    result.CompletedAt,
	})
}

// Withdraw pays out from the regular balance.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		AccountID:   c.Params("id"),
		Amount:      req.Amount,
		Destination: req.Destination,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(http.StatusCreated).JSON(WithdrawResponse{
		AccountID:      result.Account.ID,
		Amount:         result.Entry.Amount,
		RegularBalance: result.Account.RegularBalance,
		EscrowBalance:  result.Account.EscrowBalance,
		Reference:      result.Reference,
		EntryID:        result.Entry.ID,
		CompletedAt:    result.CompletedAt,
	})
}

func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrEscrowNotWithdrawable):
		return httpx.Error(c, http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrPaymentDeclined):
		return httpx.Error(c, http.StatusPaymentRequired, err)
	case errors.Is(err, ErrUnsupportedCurrency):
		return httpx.Error(c, http.StatusBadRequest, err)
	}
	if status, ok := httpx.LedgerStatus(err); ok {
		return httpx.Error(c, status, err)
	}
	return httpx.Error(c, http.StatusBadRequest, err)
}
