package http

import (
	"time"

	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/http/handlers"
	"github.com/freelance-escrow/backend/internal/metrics"
	"github.com/freelance-escrow/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SetupRouter registers every route. rdb may be nil (rate limiting off) and
// so may wsHub and rec.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	rec *metrics.Recorder,
	authHandler *handlers.AuthHandler,
	escrowHandler *handlers.EscrowHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if rec != nil {
		app.Get("/metrics", adaptor.HTTPHandler(rec.Handler()))
	}

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Auth (public)
	api.Post("/auth/ton-proof/payload", authHandler.GeneratePayload)
	api.Post("/auth/ton-proof", authHandler.TonProofLogin)

	// Escrows: reads are public, writes need a signer
	requireSigner := middleware.AuthMiddleware(cfg, log)

	api.Get("/escrows/count", escrowHandler.CountEscrows)
	api.Get("/escrows/:id", escrowHandler.GetEscrow)
	api.Get("/escrows/:id/events", escrowHandler.GetEscrowEvents)
	api.Post("/escrows", requireSigner, escrowHandler.CreateEscrow)
	api.Post("/escrows/:id/approve", requireSigner, escrowHandler.ApproveCompletion)
	api.Post("/escrows/:id/refund", requireSigner, escrowHandler.RefundEscrow)

	// WebSocket
	if wsHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(wsHub.HandleWS))
	}
}
