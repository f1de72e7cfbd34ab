package server

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"crashd/internal/game"
	"crashd/internal/ledger"
)

type betBody struct {
	PlayerID    string  `json:"player_id"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout"`
}

// stateHandler returns the current round snapshot, with the caller's bet
// attached when a player id is supplied.
func (s *FiberServer) stateHandler(c *fiber.Ctx) error {
	return c.JSON(s.engine.State(playerID(c)))
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var body betBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	pid := playerID(c)
	if pid == "" {
		pid = body.PlayerID
	}
	if pid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Player ID is required"})
	}

	receipt, err := s.engine.PlaceBet(c.Context(), pid, body.Amount, body.AutoCashout)
	if err != nil {
		return gameError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(receipt)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var body struct {
		PlayerID string `json:"player_id"`
	}
	c.BodyParser(&body) // body optional, header identity is enough

	pid := playerID(c)
	if pid == "" {
		pid = body.PlayerID
	}
	if pid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Player ID is required"})
	}

	settlement, err := s.engine.Cashout(c.Context(), pid)
	if err != nil {
		return gameError(c, err)
	}
	return c.JSON(settlement)
}

// verifyHandler recomputes a crash point from a revealed server seed so
// anyone can audit a past round.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	serverSeed := c.Query("server_seed")
	clientSeed := c.Query("client_seed")
	nonce, err := strconv.ParseInt(c.Query("nonce"), 10, 64)
	if serverSeed == "" || clientSeed == "" || err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "server_seed, client_seed and nonce are required",
		})
	}

	multiplier := game.CrashPoint(serverSeed, clientSeed, nonce, s.cfg.HouseEdge, s.cfg.MaxMultiplier)
	resp := fiber.Map{
		"server_seed_hash": game.HashCommitment(serverSeed),
		"client_seed":      clientSeed,
		"nonce":            nonce,
		"multiplier":       multiplier,
	}
	if claimed := c.Query("claimed"); claimed != "" {
		cv, err := strconv.ParseFloat(claimed, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "claimed must be a number",
			})
		}
		resp["valid"] = game.Verify(serverSeed, clientSeed, nonce, s.cfg.HouseEdge, s.cfg.MaxMultiplier, cv)
	}
	return c.JSON(resp)
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	if s.cache == nil {
		return c.JSON([]game.RoundRecord{})
	}
	limit := int64(c.QueryInt("limit", 20))
	rounds, err := s.cache.RecentRounds(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load history"})
	}
	return c.JSON(rounds)
}

// rotateHandler retires the seed epoch, revealing the previous seed. Guarded
// by the admin token; not a player-facing operation.
func (s *FiberServer) rotateHandler(c *fiber.Ctx) error {
	token := adminTokenFromEnv()
	if token == "" || c.Get("X-Admin-Token") != token {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return c.JSON(s.engine.RotateSeeds())
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	pid := c.Params("playerId")
	balance, err := s.gw.Balance(c.Context(), pid)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read balance"})
	}
	return c.JSON(fiber.Map{"player_id": pid, "balance": balance})
}

type balanceSetter interface {
	SetBalance(ctx context.Context, playerID string, balance float64) error
}

// setBalanceHandler pins a wallet balance, for testing and admin use.
func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	setter, ok := s.gw.(balanceSetter)
	if !ok {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "Ledger does not support balance writes"})
	}
	pid := c.Params("playerId")
	if err := setter.SetBalance(c.Context(), pid, body.Balance); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to set balance"})
	}
	return c.JSON(fiber.Map{"player_id": pid, "balance": body.Balance})
}

// gameError maps engine errors onto HTTP statuses: validation rejects are
// 422, phase conflicts 409, a failed debit 400.
func gameError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case game.IsValidationError(err):
		status = fiber.StatusUnprocessableEntity
	case game.IsPhaseConflict(err):
		status = fiber.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func adminTokenFromEnv() string {
	return os.Getenv("ADMIN_TOKEN")
}
