package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crashd/internal/archive"
	"crashd/internal/cache"
	"crashd/internal/database"
	"crashd/internal/game"
	"crashd/internal/ledger"
)

type FiberServer struct {
	*fiber.App

	db     database.Service
	cache  cache.Service
	cfg    game.Config
	gw     ledger.Gateway
	hub    *game.Hub
	engine *game.Engine
}

func New() *FiberServer {
	cfg := game.DefaultConfig()

	// Postgres backs the ledger when available; otherwise an in-process
	// ledger keeps the engine playable for local runs.
	db := database.New()
	openingBalance := openingBalanceFromEnv()

	var gw ledger.Gateway
	if db != nil {
		gw = ledger.NewPostgres(db.Pool(), openingBalance)
	} else {
		log.Println("[SERVER] No database, using in-memory ledger")
		gw = ledger.NewMemory(openingBalance)
	}

	redisService := cache.New()

	var sinks []game.RoundSink
	if db != nil {
		sinks = append(sinks, archive.NewPostgres(db.Pool()))
	}
	if redisService != nil {
		sinks = append(sinks, redisService)
	}

	hub := game.NewHub(cfg.SubscriberBuffer)
	engine := game.NewEngine(cfg, hub, gw, game.NewSeedChain(), sinks...)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashd",
			AppName:       "crashd",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:     db,
		cache:  redisService,
		cfg:    cfg,
		gw:     gw,
		hub:    hub,
		engine: engine,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	log.Println("[SERVER] Crash engine ready")

	return server
}

// Shutdown gracefully stops the engine and closes connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.engine != nil {
		s.engine.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}
