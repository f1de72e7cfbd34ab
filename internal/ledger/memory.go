package ledger

import (
	"context"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-process Gateway. It backs tests and DB-less
// deployments; semantics match the Postgres implementation.
type Memory struct {
	mu             sync.Mutex
	openingBalance float64
	balances       map[string]float64
	entries        map[string]Entry // by idempotency key
}

// NewMemory returns a Memory gateway. Players that have never been seen get
// openingBalance on first touch.
func NewMemory(openingBalance float64) *Memory {
	return &Memory{
		openingBalance: openingBalance,
		balances:       make(map[string]float64),
		entries:        make(map[string]Entry),
	}
}

func (m *Memory) Apply(ctx context.Context, playerID string, amount float64, reason, idempotencyKey string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.entries[idempotencyKey]; ok {
		return Result{NewBalance: prior.BalanceAfter, AlreadyApplied: true}, nil
	}

	balance, ok := m.balances[playerID]
	if !ok {
		balance = m.openingBalance
	}
	if amount < 0 && balance+amount < 0 {
		return Result{}, ErrInsufficientFunds
	}

	balance += amount
	m.balances[playerID] = balance
	m.entries[idempotencyKey] = Entry{
		PlayerID:       playerID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		BalanceAfter:   balance,
		CreatedAt:      time.Now(),
	}
	return Result{NewBalance: balance}, nil
}

func (m *Memory) Balance(ctx context.Context, playerID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if balance, ok := m.balances[playerID]; ok {
		return balance, nil
	}
	return m.openingBalance, nil
}

// SetBalance pins a player's balance, for admin and test setup.
func (m *Memory) SetBalance(ctx context.Context, playerID string, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] = balance
	return nil
}

// Entries returns the audit trail for one player. Order is not guaranteed;
// callers sort if they need it.
func (m *Memory) Entries(playerID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.PlayerID == playerID {
			out = append(out, e)
		}
	}
	return out
}
