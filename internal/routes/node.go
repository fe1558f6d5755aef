package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/invoice"
	"github.com/sovra/wallet-ledger/internal/node"
)

// RegisterNodeRoutes wires corporate node registration.
func RegisterNodeRoutes(r fiber.Router, h *node.Handler) {
	r.Post("/nodes", h.Register)
	r.Get("/nodes", h.List)
	r.Get("/nodes/:id", h.Get)
}

// RegisterInvoiceRoutes wires monthly invoicing.
func RegisterInvoiceRoutes(r fiber.Router, h *invoice.Handler) {
	r.Post("/nodes/:id/invoices/:period", h.Generate)
	r.Get("/nodes/:id/invoices/:period", h.Get)
	r.Get("/nodes/:id/invoices", h.List)
	r.Post("/invoices/:id/pay", h.Pay)
}
