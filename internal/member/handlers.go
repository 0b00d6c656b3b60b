package member

import (
	"backend-caravan/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/:id/join", authMiddleware, func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		userName, _ := c.Locals("user_name").(string)
		if err := svc.Join(c.Context(), c.Params("id"), userID, userName); err != nil {
			return apperr.HTTPError(err)
		}
		return c.SendStatus(fiber.StatusCreated)
	})

	r.Post("/:id/leave", authMiddleware, func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if err := svc.Leave(c.Context(), c.Params("id"), userID); err != nil {
			return apperr.HTTPError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Delete("/:id/members/:userID", authMiddleware, func(c *fiber.Ctx) error {
		callerID, _ := c.Locals("user_id").(string)
		if err := svc.Kick(c.Context(), c.Params("id"), c.Params("userID"), callerID); err != nil {
			return apperr.HTTPError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/:id/members", func(c *fiber.Ctx) error {
		participants, err := svc.List(c.Context(), c.Params("id"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		if participants == nil {
			participants = []Participant{}
		}
		return c.JSON(participants)
	})

	r.Patch("/:id/telemetry", authMiddleware, func(c *fiber.Ctx) error {
		var req TelemetryUpdate
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		userID, _ := c.Locals("user_id").(string)
		p, err := svc.UpdateTelemetry(c.Context(), c.Params("id"), userID, req)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(p)
	})
}
