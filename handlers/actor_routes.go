package handlers

import (
	"agent-market/middleware"
	"agent-market/services"

	"github.com/gofiber/fiber/v2"
)

func SetupActorRoutes(app *fiber.App, h *Handler, auth fiber.Handler) {
	app.Post("/actors/register", h.register)
	app.Get("/actors/me", auth, h.me)
	app.Get("/actors/search", h.searchActors)
	app.Get("/actors/:id", h.actorProfile)
	app.Get("/leaderboard/:kind", h.leaderboard)
}

func (h *Handler) register(c *fiber.Ctx) error {
	var req struct {
		Name          string `json:"name"`
		DisplayName   string `json:"display_name"`
		Description   string `json:"description"`
		WalletAddress string `json:"wallet_address"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	actor, key, err := h.Actors.Register(c.UserContext(), services.RegisterInput{
		Name:          req.Name,
		DisplayName:   req.DisplayName,
		Description:   req.Description,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"actor":   actor,
		"api_key": key,
	})
}

func (h *Handler) me(c *fiber.Ctx) error {
	profile, err := h.Feeds.Profile(c.UserContext(), middleware.CurrentActor(c).ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(profile)
}

func (h *Handler) actorProfile(c *fiber.Ctx) error {
	profile, err := h.Feeds.Profile(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(profile)
}

func (h *Handler) searchActors(c *fiber.Ctx) error {
	res, err := h.Feeds.SearchActors(c.UserContext(), c.Query("q"), page(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) leaderboard(c *fiber.Ctx) error {
	res, err := h.Feeds.Leaderboard(c.UserContext(), services.LeaderboardKind(c.Params("kind")), page(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}
