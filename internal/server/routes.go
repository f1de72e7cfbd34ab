package server

import (
	"os"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type,X-Player-ID,X-Admin-Token",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	crash := api.Group("/crash")
	crash.Get("/state", s.stateHandler)
	crash.Post("/bet", s.placeBetHandler)
	crash.Post("/cashout", s.cashoutHandler)
	crash.Get("/verify", s.verifyHandler)
	crash.Get("/history", s.historyHandler)
	crash.Post("/rotate", s.rotateHandler)

	api.Get("/wallet/:playerId", s.getBalanceHandler)
	api.Post("/wallet/:playerId", s.setBalanceHandler)

	s.App.Get("/ws", websocket.New(s.streamHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"status":      "running",
			"subscribers": s.hub.SubscriberCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

// playerID resolves the caller identity. The engine trusts this opaque id;
// authenticating it is the identity provider's job, upstream of us.
func playerID(c *fiber.Ctx) string {
	if id := c.Get("X-Player-ID"); id != "" {
		return id
	}
	return c.Query("player_id")
}

func openingBalanceFromEnv() float64 {
	if val := os.Getenv("CRASH_OPENING_BALANCE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return 100.0
}
