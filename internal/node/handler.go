package node

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sovra/wallet-ledger/internal/httpx"
)

// Handler exposes node HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a node HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	ID         string `json:"node_id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	RegionCode string `json:"region_code"`
}

// Register creates a node and its enterprise account.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	n, err := h.service.Register(c.UserContext(), RegisterInput{
		ID:         req.ID,
		Name:       req.Name,
		Kind:       Kind(req.Kind),
		RegionCode: req.RegionCode,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(n)
}

// Get returns a node.
func (h *Handler) Get(c *fiber.Ctx) error {
	n, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(n)
}

// List returns all nodes.
func (h *Handler) List(c *fiber.Ctx) error {
	nodes, err := h.service.List(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"nodes": nodes})
}

func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidNode):
		return httpx.Error(c, http.StatusBadRequest, err)
	case errors.Is(err, ErrNodeNotFound):
		return httpx.Error(c, http.StatusNotFound, err)
	case errors.Is(err, ErrNodeExists):
		return httpx.Error(c, http.StatusConflict, err)
	}
	if status, ok := httpx.LedgerStatus(err); ok {
		return httpx.Error(c, status, err)
	}
	return fiber.NewError(http.StatusInternalServerError, err.Error())
}
