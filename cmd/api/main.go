package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/freelance-escrow/backend/internal/auth"
	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/db"
	"github.com/freelance-escrow/backend/internal/events"
	apphttp "github.com/freelance-escrow/backend/internal/http"
	"github.com/freelance-escrow/backend/internal/http/handlers"
	"github.com/freelance-escrow/backend/internal/metrics"
	"github.com/freelance-escrow/backend/internal/repositories"
	"github.com/freelance-escrow/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var (
		store   repositories.AgreementStore
		auditor services.Auditor
	)
	if cfg.UsesPostgres() {
		pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			log.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()

		if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}

		store = repositories.NewEscrowRepo(pool)
		auditor = repositories.NewAuditRepo(pool)
	} else {
		store = repositories.NewMemoryStore()
	}

	// Redis: required with postgres, optional for the in-memory backend
	var (
		rdb        *redis.Client
		publisher  events.Publisher
		subscriber events.Subscriber
		payloads   repositories.ProofPayloads
	)
	rdb, err := db.NewRedisClient(ctx, cfg, log)
	switch {
	case err == nil:
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
		subscriber = events.NewRedisSubscriber(rdb, log)
		payloads = repositories.NewProofPayloadRepo(rdb)
	case cfg.UsesPostgres():
		log.Fatal("failed to connect to redis", zap.Error(err))
	default:
		log.Warn("redis unavailable, using in-process events and nonces", zap.Error(err))
		rdb = nil
		broker := events.NewBroker()
		publisher, subscriber = broker, broker
		payloads = repositories.NewMemoryProofPayloads()
	}

	rec := metrics.NewRecorder()

	// Services
	escrowService := services.NewEscrowService(store, auth.SignerAuthenticator{}, publisher, auditor, rec, cfg, log)
	sessionService := services.NewSessionService(payloads, cfg, log)

	if n, err := escrowService.EscrowCount(ctx); err == nil {
		rec.SetCreated(n)
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(sessionService, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to escrow events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, rec, authHandler, escrowHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("store_backend", cfg.StoreBackend),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
