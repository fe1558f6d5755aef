package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/wallet"
)

// RegisterWalletRoutes wires account and balance endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/accounts", h.Open)
	r.Get("/accounts/:id", h.Balance)
	r.Get("/accounts/:id/entries", h.Entries)
}
