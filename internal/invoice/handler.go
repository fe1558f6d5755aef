package invoice

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/httpx"
	"github.com/sovra/wallet-ledger/internal/ids"
	"github.com/sovra/wallet-ledger/internal/node"
)

// Handler exposes invoice endpoints.
type Handler struct {
	generator *Generator
}

// NewHandler constructs an invoice handler.
func NewHandler(generator *Generator) *Handler {
	return &Handler{generator: generator}
}

// Generate builds (or returns the frozen) invoice for a node and period.
func (h *Handler) Generate(c *fiber.Ctx) error {
	period, err := ParsePeriod(c.Params("period"))
	if err != nil {
		return writeError(c, err)
	}
	inv, err := h.generator.Generate(c.UserContext(), c.Params("id"), period)
	if err != nil {
		return writeError(c, err)
	}
	return h.respond(c, http.StatusOK, inv)
}

// Get returns an existing invoice. ?format=text renders the summary.
func (h *Handler) Get(c *fiber.Ctx) error {
	period, err := ParsePeriod(c.Params("period"))
	if err != nil {
		return writeError(c, err)
	}
	inv, err := h.generator.Invoice(c.UserContext(), c.Params("id"), period)
	if err != nil {
		return writeError(c, err)
	}
	return h.respond(c, http.StatusOK, inv)
}

// List returns all invoices of a node.
func (h *Handler) List(c *fiber.Ctx) error {
	invoices, err := h.generator.InvoicesForNode(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"node_id": c.Params("id"), "invoices": invoices})
}

// Pay marks an invoice paid.
func (h *Handler) Pay(c *fiber.Ctx) error {
	id := c.Params("id")
	if !ids.HasPrefix(id, ids.PrefixInvoice) {
		return writeError(c, fmt.Errorf("%w: %q", ErrInvoiceNotFound, id))
	}
	inv, err := h.generator.MarkPaid(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(inv)
}

func (h *Handler) respond(c *fiber.Ctx, status int, inv Invoice) error {
	if c.Query("format") != "text" {
		return c.Status(status).JSON(inv)
	}
	n, err := h.generator.Node(c.UserContext(), inv.NodeID)
	if err != nil {
		return writeError(c, err)
	}
	var buf bytes.Buffer
	if err := Render(&buf, inv, n); err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(status).Send(buf.Bytes())
}

func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidPeriod):
		return httpx.Error(c, http.StatusBadRequest, err)
	case errors.Is(err, ErrInvoiceNotFound), errors.Is(err, node.ErrNodeNotFound):
		return httpx.Error(c, http.StatusNotFound, err)
	case errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrInvoiceExists):
		return httpx.Error(c, http.StatusConflict, err)
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
