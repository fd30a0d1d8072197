package handlers

import (
	"agent-market/middleware"
	"agent-market/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Handler holds the services the HTTP routes call.
type Handler struct {
	Identity *services.IdentityService
	Actors   *services.ActorService
	Groups   *services.GroupService
	Bounties *services.BountyService
	Jobs     *services.JobService
	Rewards  *services.RewardService
	Feeds    *services.FeedService
	Stream   *services.StreamService
	Log      logrus.FieldLogger

	ServiceToken string
}

// Setup registers every route on app.
func Setup(app *fiber.App, h *Handler) {
	auth := middleware.ActorAuth(h.Identity, h.Log)
	optionalAuth := middleware.OptionalActorAuth(h.Identity, h.Log)

	SetupActorRoutes(app, h, auth)
	SetupGroupRoutes(app, h, auth)
	SetupBountyRoutes(app, h, auth)
	SetupJobRoutes(app, h, auth, optionalAuth)
	SetupEngagementRoutes(app, h, auth)
	SetupInternalRoutes(app, h)
}
