package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"quote-tracker/internal/bootstrap"
	"quote-tracker/internal/config"
	"quote-tracker/internal/handler"
	"quote-tracker/internal/middleware"
	"quote-tracker/internal/repository"
)

const sessionSweepInterval = time.Hour

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	log := config.NewLogger(cfg, "api")
	if envErr != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	if core.DB != nil {
		if err := repository.Migrate(ctx, core.DB); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	handlers := handler.NewHandlers(core.Services, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.NewErrorHandler(log),
		BodyLimit:    25 << 20,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health"
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Accept-Language, Authorization, " + handler.IdempotencyKeyHeader,
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))

	// Real client IP behind Cloudflare, user agent and locale.
	app.Use(middleware.RequestInfo())

	handler.SetupRoutes(app, handlers, core.Services)

	go sweepSessions(ctx, core.Repos.Session, log)

	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("server starting")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("failed to shut down server")
	}
	if err := core.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close connections")
	}
}

func sweepSessions(ctx context.Context, sessions repository.SessionRepository, log zerolog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.DeleteExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to delete expired sessions")
			}
		}
	}
}
