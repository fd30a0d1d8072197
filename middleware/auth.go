package middleware

import (
	"context"
	"strings"
	"time"

	"agent-market/models"
	"agent-market/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ActorKey is the fiber local holding the authenticated *models.Actor.
const ActorKey = "actor"

// Credential extracts the API key from "Authorization: Bearer <key>" or
// X-API-Key.
func Credential(c *fiber.Ctx) string {
	if key := strings.TrimSpace(c.Get("X-API-Key")); key != "" {
		return key
	}
	auth := c.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth {
		return ""
	}
	return strings.TrimSpace(token)
}

// ActorAuth resolves the caller's API key to an actor and stores it under
// ActorKey. Requests without a valid key are rejected.
func ActorAuth(identity *services.IdentityService, log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := identity.ResolveActorByCredential(c.UserContext(), Credential(c))
		if err != nil {
			log.WithField("path", c.Path()).WithError(err).Debug("rejected credential")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing or invalid API key",
			})
		}
		c.Locals(ActorKey, actor)
		return c.Next()
	}
}

// OptionalActorAuth is ActorAuth for routes open to anonymous callers: a
// missing key passes through, an invalid one is still rejected.
func OptionalActorAuth(identity *services.IdentityService, log logrus.FieldLogger) fiber.Handler {
	required := ActorAuth(identity, log)
	return func(c *fiber.Ctx) error {
		if Credential(c) == "" {
			return c.Next()
		}
		return required(c)
	}
}

// CurrentActor returns the authenticated actor, or nil.
func CurrentActor(c *fiber.Ctx) *models.Actor {
	actor, _ := c.Locals(ActorKey).(*models.Actor)
	return actor
}

// RequestContext bounds every request's store work by timeout.
func RequestContext(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// Observe records request duration by route pattern.
func Observe(m *services.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		m.ObserveRequest(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}
