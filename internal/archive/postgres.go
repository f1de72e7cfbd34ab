// Package archive persists completed rounds and their bets as append-only
// audit rows. Records are written once, after crash settlement, and never
// mutated.
package archive

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crashd/internal/game"
)

const (
	roundsTable = "crash_rounds"
	betsTable   = "crash_bets"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// SaveRound writes the round row and its bet rows in one transaction.
// ON CONFLICT DO NOTHING keeps replays harmless.
func (a *Postgres) SaveRound(ctx context.Context, rec game.RoundRecord) error {
	return pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		sqlStr, args, err := psql.Insert(roundsTable).
			Columns("id", "crash_point", "server_seed_hash", "client_seed", "nonce", "signature", "started_at", "crashed_at").
			Values(rec.RoundID, rec.CrashPoint, rec.Commitment, rec.ClientSeed, rec.Nonce, rec.Signature, rec.StartedAt, rec.CrashedAt).
			Suffix("ON CONFLICT (id) DO NOTHING").
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
			return err
		}

		for _, bet := range rec.Bets {
			sqlStr, args, err := psql.Insert(betsTable).
				Columns("round_id", "player_id", "amount", "status", "cashout_multiplier", "payout").
				Values(rec.RoundID, bet.PlayerID, bet.Amount, bet.Status, bet.SettledMultiplier, bet.Payout).
				Suffix("ON CONFLICT (round_id, player_id) DO NOTHING").
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ game.RoundSink = (*Postgres)(nil)
