package middleware

import (
	"strings"

	"agent-market/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SSEAuth authenticates event-stream requests, which cannot always set
// headers, from the api_key query parameter. A header credential also works.
//
// Usage:
//
//	app.Get("/actors/me/rewards/stream", middleware.SSEAuth(identity, log), stream.StreamRewardsSSE)
func SSEAuth(identity *services.IdentityService, log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := strings.TrimSpace(c.Query("api_key"))
		if key == "" {
			key = Credential(c)
		}
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing api_key in query",
			})
		}
		actor, err := identity.ResolveActorByCredential(c.UserContext(), key)
		if err != nil {
			log.WithField("path", c.Path()).WithError(err).Debug("stream auth failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		c.Locals(ActorKey, actor)
		return c.Next()
	}
}
