package wallet

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/httpx"
	"github.com/sovra/wallet-ledger/internal/ledger"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	AccountID string `json:"account_id"`
	Kind      string `json:"kind"`
}

// Open provisions (or returns) an account.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.AccountID == "" {
		return fiber.NewError(http.StatusBadRequest, "account_id is required")
	}
	balance, err := h.service.Open(c.UserContext(), OpenInput{AccountID: req.AccountID, Kind: ledger.AccountKind(req.Kind)})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(balance)
}

// Balance returns the account balances.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(balance)
}

// Entries returns the account's ledger entries.
func (h *Handler) Entries(c *fiber.Ctx) error {
	entries, err := h.service.Entries(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return c.JSON(fiber.Map{"account_id": c.Params("id"), "entries": entries})
}

func writeError(c *fiber.Ctx, err error) error {
	if status, ok := httpx.LedgerStatus(err); ok {
		return httpx.Error(c, status, err)
	}
	return fiber.NewError(http.StatusInternalServerError, err.Error())
}
