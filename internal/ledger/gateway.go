// Package ledger is the durable accounting boundary of the crash engine.
// Every stake debit and payout credit goes through Gateway.Apply with a
// deterministic idempotency key, so retries never double-apply.
package ledger

import (
	"context"
	"errors"
	"time"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Result is the outcome of applying (or re-applying) one ledger entry.
type Result struct {
	NewBalance     float64 `json:"balance"`
	AlreadyApplied bool    `json:"already_applied"`
}

// Entry is one append-only ledger row.
type Entry struct {
	PlayerID       string    `json:"player_id"`
	Amount         float64   `json:"amount"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key"`
	BalanceAfter   float64   `json:"balance_after"`
	CreatedAt      time.Time `json:"created_at"`
}

// Gateway applies signed amounts to player balances.
//
// Applying the same idempotency key twice has the effect of applying it
// once; the second call observes the first call's result. A negative amount
// that would drive the balance below zero fails with ErrInsufficientFunds
// and leaves no trace.
type Gateway interface {
	Apply(ctx context.Context, playerID string, amount float64, reason, idempotencyKey string) (Result, error)
	Balance(ctx context.Context, playerID string) (float64, error)
}
