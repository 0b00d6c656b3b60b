package server

import (
	"context"

	"backend-caravan/internal/auth"
	"backend-caravan/internal/config"
	"backend-caravan/internal/member"
	"backend-caravan/internal/presence"
	"backend-caravan/internal/route"
	"backend-caravan/internal/session"
	"backend-caravan/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	memberSvc := member.NewService(s.DB, s.Stream)
	sessionSvc := session.NewService(s.DB, s.Redis, s.Stream, s.Cfg.PublicBaseURL)
	sessionSvc.SetJoiner(hostJoiner{members: memberSvc})
	presenceSvc := presence.NewService(s.DB, s.Stream)
	directions := route.NewClient(s.Cfg.DirectionsURL)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB))

	sessions := s.App.Group("/sessions")
	session.RegisterRoutes(sessions, sessionSvc, directions, jwtMiddleware)
	member.RegisterRoutes(sessions, memberSvc, jwtMiddleware)
	presence.RegisterRoutes(sessions, presenceSvc, jwtMiddleware)

	session.RegisterJoinRoutes(s.App.Group("/join"), sessionSvc)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, presenceSvc.Connected, presenceSvc.Disconnected)
}

// hostJoiner lets the session directory join and remove the host's own
// participant record without importing membership logic.
type hostJoiner struct {
	members *member.Service
}

func (j hostJoiner) Join(ctx context.Context, sessionID, userID, name string) error {
	return j.members.Join(ctx, sessionID, userID, name)
}

func (j hostJoiner) Leave(ctx context.Context, sessionID, userID string) error {
	return j.members.Leave(ctx, sessionID, userID)
}
