package presence

import (
	"backend-caravan/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/:id/presence/online", authMiddleware, func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if err := svc.MarkOnline(c.Context(), c.Params("id"), userID); err != nil {
			return apperr.HTTPError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/presence/offline", authMiddleware, func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if err := svc.MarkOffline(c.Context(), c.Params("id"), userID); err != nil {
			return apperr.HTTPError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
