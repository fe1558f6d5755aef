package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/settlement"
)

// RegisterSettlementRoutes wires verification events, transactions and pricing.
func RegisterSettlementRoutes(r fiber.Router, h *settlement.Handler) {
	r.Post("/events", h.RecordEvent)
	r.Post("/transactions/:id/settle", h.Settle)
	r.Get("/transactions/:id", h.Get)
	r.Get("/accounts/:id/transactions", h.ListForAccount)
	r.Get("/pricing", h.ListPricing)
	r.Put("/pricing/:eventType", h.PutPricing)
}
