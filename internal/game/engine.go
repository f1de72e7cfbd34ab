package game

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"crashd/internal/ledger"
)

// RoundSink receives the append-only record of each completed round. Sink
// failures are logged and never affect round progression.
type RoundSink interface {
	SaveRound(ctx context.Context, rec RoundRecord) error
}

// round is the per-cycle state object: constructed fresh at BETTING, guarded
// by the engine mutex, discarded wholesale at reset.
type round struct {
	id         string
	phase      Phase
	clientSeed string
	commitment string
	nonce      int64
	crashPoint float64
	signature  string
	multiplier float64
	startedAt  time.Time
	armed      bool // first accepted bet arrived, round goroutine launched
	bets       map[string]*Bet
}

// Engine owns the authoritative round state: phase, multiplier and the bet
// map, all serialized through one mutex. The tick loop runs on its own
// goroutine, started lazily by the first accepted bet of each round.
type Engine struct {
	cfg    Config
	hub    *Hub
	ledger ledger.Gateway
	seeds  *SeedChain
	sinks  []RoundSink
	ctx    context.Context

	mu    sync.Mutex
	round *round
	stop  chan struct{}
}

func NewEngine(cfg Config, hub *Hub, gw ledger.Gateway, seeds *SeedChain, sinks ...RoundSink) *Engine {
	e := &Engine{
		cfg:    cfg,
		hub:    hub,
		ledger: gw,
		seeds:  seeds,
		sinks:  sinks,
		ctx:    context.Background(),
		stop:   make(chan struct{}),
	}
	e.round = e.newRound()
	return e
}

func (e *Engine) newRound() *round {
	return &round{
		id:         uuid.NewString(),
		phase:      PhaseBetting,
		clientSeed: GenerateSeed(),
		commitment: e.seeds.Commitment(),
		multiplier: MIN_MULTIPLIER,
		bets:       make(map[string]*Bet),
	}
}

// Stop tears the engine down. In-flight rounds are abandoned, not settled.
func (e *Engine) Stop() {
	close(e.stop)
	log.Println("[GAME] Engine stopped")
}

// StakeKey and PayoutKey derive the ledger idempotency keys for one
// (round, player) pair, so transport-level retries are safe.
func StakeKey(roundID, playerID string) string {
	return fmt.Sprintf("crash:%s:%s:stake", roundID, playerID)
}

func PayoutKey(roundID, playerID string) string {
	return fmt.Sprintf("crash:%s:%s:payout", roundID, playerID)
}

// PlaceBet validates and records a bet, debits the stake through the ledger
// and, if this is the first accepted bet of the round, launches the round
// goroutine. The ledger call happens outside the engine lock; on debit
// failure the registry entry is rolled back.
func (e *Engine) PlaceBet(ctx context.Context, playerID string, amount, autoCashout float64) (BetReceipt, error) {
	if amount < e.cfg.MinBet {
		return BetReceipt{}, ErrAmountTooLow
	}
	if amount > e.cfg.MaxBet {
		return BetReceipt{}, ErrAmountTooHigh
	}
	if autoCashout != 0 && autoCashout <= 1.0 {
		return BetReceipt{}, ErrInvalidAutoCashout
	}

	e.mu.Lock()
	r := e.round
	if r.phase != PhaseBetting {
		e.mu.Unlock()
		return BetReceipt{}, ErrNotAcceptingBets
	}
	if _, dup := r.bets[playerID]; dup {
		e.mu.Unlock()
		return BetReceipt{}, ErrDuplicateBet
	}
	r.bets[playerID] = &Bet{
		PlayerID:    playerID,
		Amount:      amount,
		AutoCashout: autoCashout,
		PlacedAt:    time.Now(),
		pending:     true,
	}
	roundID := r.id
	e.mu.Unlock()

	res, err := e.ledger.Apply(ctx, playerID, -amount, "crash_bet", StakeKey(roundID, playerID))
	if err != nil {
		e.mu.Lock()
		if e.round.id == roundID {
			delete(e.round.bets, playerID)
		}
		e.mu.Unlock()
		return BetReceipt{}, err
	}

	e.mu.Lock()
	first := false
	if e.round.id == roundID {
		if b, ok := e.round.bets[playerID]; ok {
			b.pending = false
		}
		if !e.round.armed {
			e.round.armed = true
			first = true
		}
	} else {
		// The round ended while the debit was in flight. The stake stands as
		// a loss; the bet never entered a settlement pass.
		log.Printf("[LEDGER] Stake for player %s confirmed after round %s ended", playerID, roundID)
	}
	e.mu.Unlock()

	if first {
		go e.runRound(roundID)
	}

	e.hub.Publish(Event{Type: EvtPlayerBet, Data: PlayerBetData{
		RoundID:  roundID,
		PlayerID: playerID,
		Amount:   amount,
	}})
	log.Printf("[BET] Player %s staked %.2f on round %s", playerID, amount, roundID)

	return BetReceipt{RoundID: roundID, Amount: amount, Balance: res.NewBalance}, nil
}

// Cashout settles the caller's bet at the multiplier current at this
// instant. A repeat call after settlement returns the first settlement; the
// payout credit is keyed so the ledger applies it exactly once.
func (e *Engine) Cashout(ctx context.Context, playerID string) (Settlement, error) {
	e.mu.Lock()
	r := e.round
	if r.phase != PhaseRunning {
		e.mu.Unlock()
		return Settlement{}, ErrNoActiveRound
	}
	b, ok := r.bets[playerID]
	if !ok || b.pending {
		// A pending bet's stake is not captured yet; nothing may pay out.
		e.mu.Unlock()
		return Settlement{}, ErrNoOpenBet
	}
	already := b.Settled
	if !already {
		b.Settled = true
		b.SettledMultiplier = r.multiplier
		b.Payout = round2(b.Amount * r.multiplier)
	}
	settlement := Settlement{
		PlayerID:   playerID,
		RoundID:    r.id,
		Multiplier: b.SettledMultiplier,
		Payout:     b.Payout,
	}
	e.mu.Unlock()

	settlement.Balance = e.credit(ctx, settlement)

	if !already {
		e.hub.Publish(Event{Type: EvtPlayerCashout, Data: PlayerCashoutData{
			RoundID:    settlement.RoundID,
			PlayerID:   playerID,
			Multiplier: settlement.Multiplier,
			Payout:     settlement.Payout,
		}})
	}
	return settlement, nil
}

// credit applies a payout through the ledger. A failed credit after a
// settled bet is an accounting break: logged loudly, never surfaced to the
// player as an error.
func (e *Engine) credit(ctx context.Context, s Settlement) float64 {
	res, err := e.ledger.Apply(ctx, s.PlayerID, s.Payout, "crash_win", PayoutKey(s.RoundID, s.PlayerID))
	if err != nil {
		log.Printf("[LEDGER] ALERT: payout credit failed for player %s round %s amount %.2f: %v",
			s.PlayerID, s.RoundID, s.Payout, err)
		return 0
	}
	if !res.AlreadyApplied {
		log.Printf("[CASHOUT] Player %s settled at %.2fx (payout %.2f)", s.PlayerID, s.Multiplier, s.Payout)
	}
	return res.NewBalance
}

// State returns a consistent snapshot for status queries. playerID may be
// empty for anonymous viewers.
func (e *Engine) State(playerID string) StateSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round
	snap := StateSnapshot{
		RoundID:    r.id,
		Phase:      r.phase,
		Multiplier: r.multiplier,
		Commitment: r.commitment,
		MinBet:     e.cfg.MinBet,
		StartedAt:  r.startedAt,
	}
	if b, ok := r.bets[playerID]; ok {
		betCopy := *b
		snap.YourBet = &betCopy
	}
	return snap
}

// Subscribe registers a viewer on the broadcast hub, seeding it with the
// caller's current-state snapshot.
func (e *Engine) Subscribe(playerID string) *Subscription {
	return e.hub.Subscribe(Event{Type: EvtState, Data: e.State(playerID)})
}

// RotateSeeds retires the current seed epoch: reveals the old seed, commits
// to a new one and resets the nonce. The new commitment governs the next
// round to start.
func (e *Engine) RotateSeeds() Rotation {
	rot := e.seeds.Rotate()
	log.Printf("[FAIR] Seed rotated, new commitment %s...", rot.NewHash[:16])
	e.hub.Publish(Event{Type: "seed_rotation", Data: rot})
	return rot
}

// runRound drives one round from its first bet to the reset into the next
// BETTING phase. It is the only writer of phase transitions.
func (e *Engine) runRound(roundID string) {
	// Keep betting open a moment so other players can join the round.
	select {
	case <-time.After(e.cfg.BettingWindow):
	case <-e.stop:
		return
	}

	start, ok := e.beginRun(roundID, time.Now())
	if !ok {
		return
	}
	e.hub.Publish(Event{Type: EvtRoundStart, Data: start})
	log.Printf("[GAME] Round %s running (commitment %s..., nonce %d)", roundID, start.Commitment[:16], start.Nonce)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			if crashed := e.advance(now); crashed {
				e.finishRound(roundID)
				return
			}
		}
	}
}

// beginRun performs the BETTING->RUNNING transition: the crash point is
// fixed here, consuming the epoch's next nonce, and startedAt anchors the
// multiplier schedule to the wall clock. The draw carries the commitment and
// signature of the epoch that produced it, so a rotation racing this call
// cannot pair the round with a foreign commitment.
func (e *Engine) beginRun(roundID string, now time.Time) (RoundStartData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round
	if r.id != roundID || r.phase != PhaseBetting {
		return RoundStartData{}, false
	}
	draw := e.seeds.Next(r.clientSeed, e.cfg.HouseEdge, e.cfg.MaxMultiplier)
	r.nonce = draw.Nonce
	r.crashPoint = draw.CrashPoint
	r.commitment = draw.Commitment
	r.signature = draw.Signature
	r.phase = PhaseRunning
	r.multiplier = MIN_MULTIPLIER
	r.startedAt = now

	return RoundStartData{
		RoundID:    r.id,
		Commitment: r.commitment,
		Nonce:      r.nonce,
		ClientSeed: r.clientSeed,
		MinBet:     e.cfg.MinBet,
	}, true
}

// advance is one tick: recompute the multiplier from elapsed wall-clock
// time, run the auto-cashout pass, then check the crash condition. Ledger
// credits and broadcasts happen after the lock is released.
func (e *Engine) advance(now time.Time) bool {
	e.mu.Lock()
	r := e.round
	if r.phase != PhaseRunning {
		e.mu.Unlock()
		return false
	}

	elapsed := now.Sub(r.startedAt).Seconds()
	m := round2(math.Exp(e.cfg.GrowthRate * elapsed))
	crashed := m >= r.crashPoint
	if crashed {
		m = r.crashPoint
	}
	r.multiplier = m

	// Auto-cashouts settle at the player's target value, never at the tick
	// value that overshot it.
	var auto []Settlement
	for pid, b := range r.bets {
		if b.Settled || b.pending || b.AutoCashout <= 0 || m < b.AutoCashout {
			continue
		}
		b.Settled = true
		b.SettledMultiplier = b.AutoCashout
		b.Payout = round2(b.Amount * b.AutoCashout)
		auto = append(auto, Settlement{
			PlayerID:   pid,
			RoundID:    r.id,
			Multiplier: b.SettledMultiplier,
			Payout:     b.Payout,
		})
	}

	var crash CrashData
	if crashed {
		// Everyone still in loses the full stake at this instant. Pending
		// bets stay untouched: their stake may yet fail to capture.
		for _, b := range r.bets {
			if !b.Settled && !b.pending {
				b.Settled = true
				b.Payout = 0
			}
		}
		r.phase = PhaseCrashed
		crash = CrashData{
			RoundID:    r.id,
			CrashPoint: r.crashPoint,
			Commitment: r.commitment,
			Nonce:      r.nonce,
			Signature:  r.signature,
		}
	}
	tick := TickData{RoundID: r.id, Multiplier: m}
	e.mu.Unlock()

	for _, s := range auto {
		s.Balance = e.credit(e.ctx, s)
		e.hub.Publish(Event{Type: EvtPlayerCashout, Data: PlayerCashoutData{
			RoundID:    s.RoundID,
			PlayerID:   s.PlayerID,
			Multiplier: s.Multiplier,
			Payout:     s.Payout,
		}})
	}

	if crashed {
		e.hub.Publish(Event{Type: EvtCrash, Data: crash})
		log.Printf("[GAME] Round %s crashed at %.2fx", crash.RoundID, crash.CrashPoint)
		return true
	}

	e.hub.Publish(Event{Type: EvtTick, Data: tick})
	return false
}

// finishRound archives the completed round, waits out the intermission and
// reopens betting with a fresh round.
func (e *Engine) finishRound(roundID string) {
	rec := e.roundRecord(roundID)
	if rec != nil {
		for _, sink := range e.sinks {
			if err := sink.SaveRound(e.ctx, *rec); err != nil {
				log.Printf("[GAME] Round sink failed for %s: %v", roundID, err)
			}
		}
	}

	select {
	case <-time.After(e.cfg.Intermission):
	case <-e.stop:
		return
	}

	e.mu.Lock()
	e.round = e.newRound()
	reopened := BettingOpenData{
		RoundID:    e.round.id,
		Commitment: e.round.commitment,
		MinBet:     e.cfg.MinBet,
	}
	e.mu.Unlock()

	e.hub.Publish(Event{Type: EvtBettingOpen, Data: reopened})
	log.Printf("[GAME] Betting reopened, round %s", reopened.RoundID)
}

func (e *Engine) roundRecord(roundID string) *RoundRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round
	if r.id != roundID || r.phase != PhaseCrashed {
		return nil
	}
	rec := &RoundRecord{
		RoundID:    r.id,
		CrashPoint: r.crashPoint,
		Commitment: r.commitment,
		ClientSeed: r.clientSeed,
		Nonce:      r.nonce,
		Signature:  r.signature,
		StartedAt:  r.startedAt,
		CrashedAt:  time.Now(),
	}
	for _, b := range r.bets {
		if b.pending {
			// No confirmed stake, no audit row.
			continue
		}
		status := BetStatusLost
		if b.Payout > 0 {
			status = BetStatusCashed
		}
		rec.Bets = append(rec.Bets, BetRecord{
			PlayerID:          b.PlayerID,
			Amount:            b.Amount,
			Status:            status,
			SettledMultiplier: b.SettledMultiplier,
			Payout:            b.Payout,
		})
	}
	return rec
}
