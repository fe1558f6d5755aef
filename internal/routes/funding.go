package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/funding"
)

// RegisterFundingRoutes wires fiat purchase and withdrawal endpoints behind
// their rate limiters.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, purchaseLimit, withdrawLimit fiber.Handler) {
	r.Post("/accounts/:id/purchase", purchaseLimit, h.Purchase)
	r.Post("/accounts/:id/withdraw", withdrawLimit, h.Withdraw)
}
