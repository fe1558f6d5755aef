package settlement

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/httpx"
	"github.com/sovra/wallet-ledger/internal/ids"
	"github.com/sovra/wallet-ledger/internal/pricing"
)

// Handler exposes verification event billing and pricing endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a settlement handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type eventRequest struct {
	VerificationID string `json:"verification_id"`
	EventType      string `json:"event_type"`
	PartyA         string `json:"party_a"`
	PartyB         string `json:"party_b"`
	Settle         *bool  `json:"settle"`
}

// RecordEvent creates a transaction for a verification event and, unless
// settle is false, settles it immediately.
func (h *Handler) RecordEvent(c *fiber.Ctx) error {
	var req eventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	tx, err := h.engine.CreateTransaction(c.UserContext(), CreateInput{
		VerificationID: req.VerificationID,
		EventType:      req.EventType,
		PartyA:         req.PartyA,
		PartyB:         req.PartyB,
	})
	if err != nil {
		return writeError(c, err)
	}
	if req.Settle != nil && !*req.Settle {
		return c.Status(http.StatusCreated).JSON(tx)
	}

	settled, err := h.engine.Settle(c.UserContext(), tx.ID)
	if err != nil {
		return writeSettleError(c, settled, err)
	}
	return c.Status(http.StatusCreated).JSON(settled)
}

// Settle settles a pending transaction.
func (h *Handler) Settle(c *fiber.Ctx) error {
	id, err := transactionID(c)
	if err != nil {
		return writeError(c, err)
	}
	tx, err := h.engine.Settle(c.UserContext(), id)
	if err != nil {
		return writeSettleError(c, tx, err)
	}
	return c.Status(http.StatusOK).JSON(tx)
}

// Get returns a transaction by ID.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := transactionID(c)
	if err != nil {
		return writeError(c, err)
	}
	tx, err := h.engine.Transaction(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(tx)
}

// ListForAccount returns every transaction billed to an account.
func (h *Handler) ListForAccount(c *fiber.Ctx) error {
	txs, err := h.engine.TransactionsForParty(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"account_id": c.Params("id"), "transactions": txs})
}

// ListPricing returns the active pricing rules.
func (h *Handler) ListPricing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"rules": h.engine.Pricing().Rules()})
}

type ruleRequest struct {
	BaseAmount int64           `json:"base_amount"`
	Shares     []pricing.Share `json:"shares"`
}

// PutPricing adds or replaces the rule for an event type.
func (h *Handler) PutPricing(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rule := pricing.Rule{EventType: c.Params("eventType"), BaseAmount: req.BaseAmount, Shares: req.Shares}
	if err := h.engine.Pricing().Set(rule); err != nil {
		return httpx.Error(c, http.StatusBadRequest, err)
	}
	return c.JSON(rule)
}

// transactionID reads the :id parameter; anything that is not a transaction
// identifier cannot exist.
func transactionID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if !ids.HasPrefix(id, ids.PrefixTransaction) {
		return "", fmt.Errorf("%w: %q", ErrTransactionNotFound, id)
	}
	return id, nil
}

// writeSettleError reports a failed settlement with the failed transaction
// attached so callers can see the recorded outcome.
func writeSettleError(c *fiber.Ctx, tx Transaction, err error) error {
	if tx.Status != StatusFailed || errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrSettlementInProgress) {
		return writeError(c, err)
	}
	status, _ := httpx.LedgerStatus(err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return httpx.Error(c, status, err, fiber.Map{"transaction": tx})
}

func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrMissingParty), errors.Is(err, ErrInvalidInput), errors.Is(err, pricing.ErrUnknownEventType):
		return httpx.Error(c, http.StatusBadRequest, err)
	case errors.Is(err, ErrTransactionNotFound):
		return httpx.Error(c, http.StatusNotFound, err)
	case errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrSettlementInProgress), errors.Is(err, ErrTransactionExists):
		return httpx.Error(c, http.StatusConflict, err)
	}
	if status, ok := httpx.LedgerStatus(err); ok {
		return httpx.Error(c, status, err)
	}
	return fiber.NewError(http.StatusInternalServerError, err.Error())
}
