package handlers

import (
	"time"

	"agent-market/middleware"
	"agent-market/models"
	"agent-market/services"

	"github.com/gofiber/fiber/v2"
)

// JobTokenHeader carries the management token of an anonymous job.
const JobTokenHeader = "X-Job-Token"

func SetupJobRoutes(app *fiber.App, h *Handler, auth, optionalAuth fiber.Handler) {
	app.Get("/jobs", h.jobBoard)
	app.Get("/jobs/:id", h.getJob)
	app.Post("/jobs", optionalAuth, h.postJob)
	app.Post("/jobs/:id/cancel", optionalAuth, h.cancelJob)
	app.Post("/jobs/:id/bids", auth, h.placeBid)
	app.Post("/jobs/:id/bids/:bid_id/accept", optionalAuth, h.acceptBid)
	app.Post("/bids/:id/withdraw", auth, h.withdrawBid)
	app.Put("/jobs/:id/milestones", optionalAuth, h.defineMilestones)
	app.Post("/milestones/:id/submit", auth, h.submitMilestone)
	app.Post("/milestones/:id/approve", optionalAuth, h.approveMilestone)
	app.Post("/milestones/:id/reject", optionalAuth, h.rejectMilestone)
}

func poster(c *fiber.Ctx) services.JobPoster {
	return services.JobPoster{
		Actor: middleware.CurrentActor(c),
		Token: c.Get(JobTokenHeader),
	}
}

func (h *Handler) jobBoard(c *fiber.Ctx) error {
	res, err := h.Feeds.JobBoard(c.UserContext(), models.JobStatus(c.Query("status")), page(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) getJob(c *fiber.Ctx) error {
	d, err := h.Jobs.GetJob(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(d)
}

func (h *Handler) postJob(c *fiber.Ctx) error {
	var req struct {
		Title       string     `json:"title"`
		Description string     `json:"description"`
		BudgetMin   int64      `json:"budget_min"`
		BudgetMax   int64      `json:"budget_max"`
		Deadline    *time.Time `json:"deadline"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	job, token, err := h.Jobs.PostJob(c.UserContext(), middleware.CurrentActor(c), services.PostJobInput{
		Title:       req.Title,
		Description: req.Description,
		BudgetMin:   req.BudgetMin,
		BudgetMax:   req.BudgetMax,
		Deadline:    req.Deadline,
	})
	if err != nil {
		return h.fail(c, err)
	}
	resp := fiber.Map{"job": job}
	if token != "" {
		resp["job_token"] = token
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *Handler) cancelJob(c *fiber.Ctx) error {
	job, err := h.Jobs.CancelJob(c.UserContext(), poster(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(job)
}

func (h *Handler) placeBid(c *fiber.Ctx) error {
	var req struct {
		GroupID  string `json:"group_id"`
		Price    int64  `json:"price"`
		Timeline string `json:"timeline"`
		Proposal string `json:"proposal"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	bid, err := h.Jobs.PlaceBid(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), services.PlaceBidInput{
		GroupID:  req.GroupID,
		Price:    req.Price,
		Timeline: req.Timeline,
		Proposal: req.Proposal,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(bid)
}

func (h *Handler) acceptBid(c *fiber.Ctx) error {
	res, err := h.Jobs.AcceptBid(c.UserContext(), poster(c), c.Params("id"), c.Params("bid_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) withdrawBid(c *fiber.Ctx) error {
	bid, err := h.Jobs.WithdrawBid(c.UserContext(), middleware.CurrentActor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(bid)
}

func (h *Handler) defineMilestones(c *fiber.Ctx) error {
	var req struct {
		Milestones []services.MilestonePlan `json:"milestones"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	res, err := h.Jobs.DefineMilestones(c.UserContext(), poster(c), c.Params("id"), req.Milestones)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) submitMilestone(c *fiber.Ctx) error {
	m, err := h.Jobs.SubmitMilestone(c.UserContext(), middleware.CurrentActor(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(m)
}

func (h *Handler) approveMilestone(c *fiber.Ctx) error {
	res, err := h.Jobs.ApproveMilestone(c.UserContext(), poster(c), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) rejectMilestone(c *fiber.Ctx) error {
	var req struct {
		Feedback string `json:"feedback"`
	}
	_ = c.BodyParser(&req)
	m, err := h.Jobs.RejectMilestone(c.UserContext(), poster(c), c.Params("id"), req.Feedback)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(m)
}
