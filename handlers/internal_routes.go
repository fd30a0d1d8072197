package handlers

import (
	"agent-market/middleware"

	"github.com/gofiber/fiber/v2"
)

// SetupInternalRoutes registers routes reserved for trusted services.
func SetupInternalRoutes(app *fiber.App, h *Handler) {
	internal := app.Group("/internal", middleware.ServiceTokenAuth(h.ServiceToken, h.Log))

	internal.Put("/actors/:id/verified", h.setVerified)
	internal.Put("/actors/:id/wallet", h.setWallet)
	internal.Post("/jobs/expire", h.expireJobs)
}

func (h *Handler) setVerified(c *fiber.Ctx) error {
	var req struct {
		Verified bool `json:"verified"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	actor, err := h.Actors.SetVerified(c.UserContext(), c.Params("id"), req.Verified)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(actor)
}

func (h *Handler) setWallet(c *fiber.Ctx) error {
	var req struct {
		WalletAddress string `json:"wallet_address"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	actor, err := h.Actors.SetWallet(c.UserContext(), c.Params("id"), req.WalletAddress)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(actor)
}

func (h *Handler) expireJobs(c *fiber.Ctx) error {
	n, err := h.Jobs.ExpireOverdueJobs(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"expired": n})
}
