package game

// Event is one item on the push stream. Data marshals to the wire as-is.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	EvtState         = "state"          // snapshot for a fresh subscriber
	EvtBettingOpen   = "betting_open"   // new round accepting bets
	EvtRoundStart    = "round_start"    // BETTING -> RUNNING
	EvtTick          = "tick"           // multiplier update
	EvtPlayerBet     = "player_bet"     // a bet was accepted
	EvtPlayerCashout = "player_cashout" // a bet settled with a payout
	EvtCrash         = "crash"          // round over, commitment republished
)

type TickData struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
}

type RoundStartData struct {
	RoundID    string  `json:"round_id"`
	Commitment string  `json:"commitment"`
	Nonce      int64   `json:"nonce"`
	ClientSeed string  `json:"client_seed"`
	MinBet     float64 `json:"min_bet"`
}

type BettingOpenData struct {
	RoundID    string  `json:"round_id"`
	Commitment string  `json:"commitment"`
	MinBet     float64 `json:"min_bet"`
}

type PlayerBetData struct {
	RoundID  string  `json:"round_id"`
	PlayerID string  `json:"player_id"`
	Amount   float64 `json:"amount"`
}

type PlayerCashoutData struct {
	RoundID    string  `json:"round_id"`
	PlayerID   string  `json:"player_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
}

type CrashData struct {
	RoundID    string  `json:"round_id"`
	CrashPoint float64 `json:"crash_point"`
	Commitment string  `json:"commitment"`
	Nonce      int64   `json:"nonce"`
	Signature  string  `json:"signature"`
}
