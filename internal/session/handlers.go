package session

import (
	"context"

	"backend-caravan/internal/apperr"
	"backend-caravan/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
)

// Directions is the routing collaborator; display only, never consulted by
// directory logic.
type Directions interface {
	GetRoute(ctx context.Context, start, end geo.Point) ([]geo.Point, error)
}

func RegisterRoutes(r fiber.Router, svc *Service, directions Directions, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Session
			HostParticipates bool `json:"host_participates"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Title == "" {
			return fiber.NewError(fiber.StatusBadRequest, "title required")
		}

		req.Session.HostID, _ = c.Locals("user_id").(string)
		req.Session.HostName, _ = c.Locals("user_name").(string)

		created, err := svc.Create(c.Context(), req.Session, req.HostParticipates)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"session":   created,
			"join_link": svc.ShareLink(created.JoinCode),
		})
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		sessions, err := svc.ListForUser(c.Context(), userID)
		if err != nil {
			return apperr.HTTPError(err)
		}
		if sessions == nil {
			sessions = []Session{}
		}
		return c.JSON(sessions)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		sess, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(sess)
	})

	r.Put("/:id", authMiddleware, func(c *fiber.Ctx) error {
		var req Session
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.ID = c.Params("id")
		userID, _ := c.Locals("user_id").(string)

		updated, err := svc.Update(c.Context(), req, userID)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(updated)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if err := svc.Stop(c.Context(), c.Params("id"), userID); err != nil {
			return apperr.HTTPError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/pause", authMiddleware, setStatusHandler(svc, StatusPaused))
	r.Post("/:id/resume", authMiddleware, setStatusHandler(svc, StatusLive))

	r.Get("/:id/route", func(c *fiber.Ctx) error {
		sess, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		if sess.StartLat == 0 && sess.StartLng == 0 && sess.EndLat == 0 && sess.EndLng == 0 {
			return fiber.NewError(fiber.StatusNotFound, "route endpoints not set")
		}
		if directions == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "directions unavailable")
		}
		waypoints, err := directions.GetRoute(c.Context(),
			geo.Point{Lat: sess.StartLat, Lng: sess.StartLng},
			geo.Point{Lat: sess.EndLat, Lng: sess.EndLng})
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.JSON(waypoints)
	})
}

func setStatusHandler(svc *Service, status string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		sess, err := svc.SetStatus(c.Context(), c.Params("id"), userID, status)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(sess)
	}
}

// RegisterJoinRoutes serves the shareable join link: /join/<code>, case
// insensitive on entry.
func RegisterJoinRoutes(r fiber.Router, svc *Service) {
	r.Get("/:code", func(c *fiber.Ctx) error {
		ref := ParseJoinRef(c.Params("code"))
		sess, err := svc.Resolve(c.Context(), ref)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(fiber.Map{
			"session_id":         sess.ID,
			"title":              sess.Title,
			"host_name":          sess.HostName,
			"status":             sess.Status,
			"from_location":      sess.FromLocation,
			"to_location":        sess.ToLocation,
			"is_sharing_allowed": sess.IsSharingAllowed,
		})
	})
}
