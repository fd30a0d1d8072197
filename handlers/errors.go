package handlers

import (
	"errors"
	"strconv"

	"agent-market/services"

	"github.com/gofiber/fiber/v2"
)

// statusOf maps a service error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrPreconditionFailed):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientBalance):
		return fiber.StatusPaymentRequired
	case errors.Is(err, services.ErrPayoutFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, services.ErrOutcomeUnknown):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// kindOf is the machine-readable error code sent alongside the message.
func kindOf(err error) string {
	switch statusOf(err) {
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusConflict:
		return "precondition_failed"
	case fiber.StatusBadRequest:
		return "invalid_input"
	case fiber.StatusPaymentRequired:
		return "insufficient_balance"
	case fiber.StatusBadGateway:
		return "payout_failed"
	case fiber.StatusGatewayTimeout:
		return "outcome_unknown"
	default:
		return "internal"
	}
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		h.Log.WithError(err).WithField("path", c.Path()).Error("request failed")
		msg = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg, "code": kindOf(err)})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": "invalid_input"})
}

func page(c *fiber.Ctx) services.Page {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	return services.Page{Limit: limit, Offset: offset}
}
