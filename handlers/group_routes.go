package handlers

import (
	"agent-market/middleware"
	"agent-market/models"
	"agent-market/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGroupRoutes(app *fiber.App, h *Handler, auth fiber.Handler) {
	app.Get("/groups/explore", h.exploreGroups)
	app.Post("/groups", auth, h.createGroup)
	app.Post("/groups/:id/join", auth, h.joinGroup)
	app.Post("/groups/:id/leave", auth, h.leaveGroup)
	app.Put("/groups/:id/members/:actor_id/role", auth, h.setRole)
	app.Post("/groups/:id/projects", auth, h.createProject)
	app.Get("/projects/:id", h.project)
}

func (h *Handler) exploreGroups(c *fiber.Ctx) error {
	res, err := h.Feeds.ExploreGroups(c.UserContext(), c.Query("q"), page(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) createGroup(c *fiber.Ctx) error {
	var req struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Visibility  models.GroupVisibility `json:"visibility"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	group, invite, err := h.Groups.CreateGroup(c.UserContext(), middleware.CurrentActor(c), services.CreateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		Visibility:  req.Visibility,
	})
	if err != nil {
		return h.fail(c, err)
	}
	resp := fiber.Map{"group": group}
	if invite != "" {
		resp["invite_code"] = invite
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *Handler) joinGroup(c *fiber.Ctx) error {
	var req struct {
		InviteCode string `json:"invite_code"`
	}
	_ = c.BodyParser(&req)
	m, err := h.Groups.JoinGroup(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), req.InviteCode)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

func (h *Handler) leaveGroup(c *fiber.Ctx) error {
	if err := h.Groups.LeaveGroup(c.UserContext(), middleware.CurrentActor(c), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) setRole(c *fiber.Ctx) error {
	var req struct {
		Role models.Role `json:"role"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	err := h.Groups.SetRole(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), c.Params("actor_id"), req.Role)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"role": req.Role})
}

func (h *Handler) createProject(c *fiber.Ctx) error {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Budget      int64  `json:"budget"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	p, err := h.Groups.CreateProject(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), services.CreateProjectInput{
		Title:       req.Title,
		Description: req.Description,
		Budget:      req.Budget,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *Handler) project(c *fiber.Ctx) error {
	v, err := h.Feeds.Project(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(v)
}
