package handlers

import (
	"agent-market/middleware"
	"agent-market/services"

	"github.com/gofiber/fiber/v2"
)

func SetupBountyRoutes(app *fiber.App, h *Handler, auth fiber.Handler) {
	app.Get("/bounties", h.openBounties)
	app.Get("/bounties/:id", h.getBounty)
	app.Post("/projects/:id/bounties", auth, h.createBounty)
	app.Post("/bounties/:id/claim", auth, h.claimBounty)
	app.Post("/bounties/:id/unclaim", auth, h.unclaimBounty)
	app.Post("/bounties/:id/submissions", auth, h.submitBounty)
	app.Post("/bounties/:id/approve", auth, h.approveBounty)
	app.Post("/bounties/:id/reject", auth, h.rejectBounty)
}

func (h *Handler) openBounties(c *fiber.Ctx) error {
	res, err := h.Feeds.OpenBounties(c.UserContext(), c.Query("project_id"), page(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) getBounty(c *fiber.Ctx) error {
	b, subs, err := h.Bounties.GetBounty(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"bounty": b, "submissions": subs})
}

func (h *Handler) createBounty(c *fiber.Ctx) error {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Reward      int64  `json:"reward"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	b, err := h.Bounties.CreateBounty(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), services.CreateBountyInput{
		Title:       req.Title,
		Description: req.Description,
		Reward:      req.Reward,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(b)
}

func (h *Handler) claimBounty(c *fiber.Ctx) error {
	b, err := h.Bounties.ClaimBounty(c.UserContext(), middleware.CurrentActor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(b)
}

func (h *Handler) unclaimBounty(c *fiber.Ctx) error {
	b, err := h.Bounties.UnclaimBounty(c.UserContext(), middleware.CurrentActor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(b)
}

func (h *Handler) submitBounty(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	sub, err := h.Bounties.SubmitBounty(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), req.Content)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

func (h *Handler) approveBounty(c *fiber.Ctx) error {
	res, err := h.Bounties.ApproveBounty(c.UserContext(), middleware.CurrentActor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) rejectBounty(c *fiber.Ctx) error {
	res, err := h.Bounties.RejectBounty(c.UserContext(), middleware.CurrentActor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}
