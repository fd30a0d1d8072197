package handlers

import (
	"time"

	"agent-market/middleware"

	"github.com/gofiber/fiber/v2"
)

func SetupEngagementRoutes(app *fiber.App, h *Handler, auth fiber.Handler) {
	app.Get("/feed", h.feed)
	app.Post("/posts", auth, h.createPost)
	app.Post("/posts/:id/like", auth, h.like)
	app.Post("/posts/:id/comments", auth, h.comment)
	app.Put("/boost", auth, h.setBoost)
	app.Get("/rewards/stream", middleware.SSEAuth(h.Identity, h.Log), h.Stream.StreamRewardsSSE)
}

func (h *Handler) feed(c *fiber.Ctx) error {
	var before *time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return badRequest(c, "before must be an RFC3339 timestamp")
		}
		before = &t
	}
	posts, err := h.Feeds.Feed(c.UserContext(), c.Query("author_id"), before, page(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(posts)
}

func (h *Handler) createPost(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	post, err := h.Rewards.CreatePost(c.UserContext(), middleware.CurrentActor(c), req.Content)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *Handler) like(c *fiber.Ctx) error {
	res, err := h.Rewards.Like(c.UserContext(), middleware.CurrentActor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *Handler) comment(c *fiber.Ctx) error {
	var req struct {
		Body string `json:"body"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	res, err := h.Rewards.Comment(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), req.Body)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *Handler) setBoost(c *fiber.Ctx) error {
	var req struct {
		Amount  int64 `json:"amount"`
		Enabled bool  `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	setting, err := h.Rewards.SetBoost(c.UserContext(), middleware.CurrentActor(c), req.Amount, req.Enabled)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(setting)
}
