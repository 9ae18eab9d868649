package server

import (
	"fmt"

	"github.com/KLayOnStudio/dojogo-sub000/internal/auth"
	"github.com/KLayOnStudio/dojogo-sub000/internal/blob"
	"github.com/KLayOnStudio/dojogo-sub000/internal/config"
	"github.com/KLayOnStudio/dojogo-sub000/internal/ingest"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App   *fiber.App
	Cfg   config.Config
	DB    *pgxpool.Pool
	Redis *redis.Client
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) (*Server, error) {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:   app,
		Cfg:   cfg,
		DB:    db,
		Redis: redisClient,
	}

	if err := registerRoutes(s); err != nil {
		return nil, err
	}
	return s, nil
}

func registerRoutes(s *Server) error {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	store, err := blob.NewFSStore(s.Cfg.BlobDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	tokens := auth.NewCapabilityService(s.Cfg.JWTSecret, s.Cfg.BlobContainer, s.Cfg.APIBaseURL, s.Cfg.TokenTTL)

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	ingest.RegisterRoutes(s.App.Group("/imu"), ingest.NewService(s.DB, store, tokens, s.Redis), jwtMiddleware)
	blob.RegisterRoutes(s.App.Group("/blob"), store, tokens, s.Cfg.BlobContainer)
	return nil
}
