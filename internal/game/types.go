package game

import (
	"time"
)

type Phase string

const (
	PhaseBetting Phase = "BETTING"
	PhaseRunning Phase = "RUNNING"
	PhaseCrashed Phase = "CRASHED"
)

// Bet is one player's stake in the current round. A bet is mutated exactly
// once: by manual cashout, by the auto-cashout pass, or by crash settlement.
type Bet struct {
	PlayerID    string    `json:"player_id"`
	Amount      float64   `json:"amount"`
	AutoCashout float64   `json:"auto_cashout,omitempty"` // 0 = none
	PlacedAt    time.Time `json:"placed_at"`

	Settled           bool    `json:"settled"`
	SettledMultiplier float64 `json:"settled_multiplier,omitempty"`
	Payout            float64 `json:"payout"`

	// pending marks a bet whose stake debit has not confirmed yet. Pending
	// bets are excluded from every settlement path: no payout may be issued
	// before the stake is captured.
	pending bool
}

// BetReceipt is returned to a player whose bet was accepted.
type BetReceipt struct {
	RoundID string  `json:"round_id"`
	Amount  float64 `json:"amount"`
	Balance float64 `json:"balance"`
}

// Settlement is the terminal result of one bet. Repeated cashout calls after
// settlement return the same Settlement.
type Settlement struct {
	PlayerID   string  `json:"player_id"`
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
	Balance    float64 `json:"balance,omitempty"`
}

// StateSnapshot is the consistent view served to status queries and to new
// subscribers. The crash point is never part of it.
type StateSnapshot struct {
	RoundID    string    `json:"round_id"`
	Phase      Phase     `json:"phase"`
	Multiplier float64   `json:"multiplier"`
	Commitment string    `json:"commitment"`
	MinBet     float64   `json:"min_bet"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	YourBet    *Bet      `json:"your_bet,omitempty"`
}

// RoundRecord is the append-only audit record emitted once per completed
// round to the configured sinks.
type RoundRecord struct {
	RoundID    string      `json:"round_id"`
	CrashPoint float64     `json:"crash_point"`
	Commitment string      `json:"commitment"`
	ClientSeed string      `json:"client_seed"`
	Nonce      int64       `json:"nonce"`
	Signature  string      `json:"signature"`
	StartedAt  time.Time   `json:"started_at"`
	CrashedAt  time.Time   `json:"crashed_at"`
	Bets       []BetRecord `json:"bets"`
}

type BetRecord struct {
	PlayerID          string  `json:"player_id"`
	Amount            float64 `json:"amount"`
	Status            string  `json:"status"` // CASHED or LOST
	SettledMultiplier float64 `json:"settled_multiplier,omitempty"`
	Payout            float64 `json:"payout"`
}

const (
	BetStatusCashed = "CASHED"
	BetStatusLost   = "LOST"
)
