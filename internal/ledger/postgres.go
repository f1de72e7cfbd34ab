package ledger

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	walletsTable    = "wallets"
	entriesTable    = "ledger_entries"
	colPlayerID     = "player_id"
	colBalance      = "balance"
	colAmount       = "amount"
	colReason       = "reason"
	colIdemKey      = "idempotency_key"
	colBalanceAfter = "balance_after"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres is the durable Gateway: wallets row-locked per player, entries
// unique per idempotency key.
type Postgres struct {
	pool           *pgxpool.Pool
	openingBalance float64
}

func NewPostgres(pool *pgxpool.Pool, openingBalance float64) *Postgres {
	return &Postgres{pool: pool, openingBalance: openingBalance}
}

func (p *Postgres) Apply(ctx context.Context, playerID string, amount float64, reason, idempotencyKey string) (Result, error) {
	var res Result

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		// Replay? Return the original outcome.
		sqlStr, args, err := psql.Select(colBalanceAfter).
			From(entriesTable).
			Where(sq.Eq{colIdemKey: idempotencyKey}).
			ToSql()
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, sqlStr, args...).Scan(&res.NewBalance)
		if err == nil {
			res.AlreadyApplied = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		balance, err := p.lockWallet(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if amount < 0 && balance+amount < 0 {
			return ErrInsufficientFunds
		}
		balance += amount

		sqlStr, args, err = psql.Update(walletsTable).
			Set(colBalance, balance).
			Where(sq.Eq{colPlayerID: playerID}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
			return err
		}

		sqlStr, args, err = psql.Insert(entriesTable).
			Columns(colPlayerID, colAmount, colReason, colIdemKey, colBalanceAfter).
			Values(playerID, amount, reason, idempotencyKey, balance).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
			return err
		}

		res.NewBalance = balance
		return nil
	})
	if isUniqueViolation(err) {
		// Lost a race against a concurrent apply of the same key; the
		// winner's outcome is ours.
		sqlStr, args, sqlErr := psql.Select(colBalanceAfter).
			From(entriesTable).
			Where(sq.Eq{colIdemKey: idempotencyKey}).
			ToSql()
		if sqlErr != nil {
			return Result{}, sqlErr
		}
		if scanErr := p.pool.QueryRow(ctx, sqlStr, args...).Scan(&res.NewBalance); scanErr == nil {
			return Result{NewBalance: res.NewBalance, AlreadyApplied: true}, nil
		}
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// lockWallet selects the player's wallet FOR UPDATE, creating it with the
// opening balance on first touch.
func (p *Postgres) lockWallet(ctx context.Context, tx pgx.Tx, playerID string) (float64, error) {
	sqlStr, args, err := psql.Select(colBalance).
		From(walletsTable).
		Where(sq.Eq{colPlayerID: playerID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return 0, err
	}

	var balance float64
	err = tx.QueryRow(ctx, sqlStr, args...).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		sqlStr, args, err = psql.Insert(walletsTable).
			Columns(colPlayerID, colBalance).
			Values(playerID, p.openingBalance).
			ToSql()
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
			return 0, err
		}
		return p.openingBalance, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *Postgres) Balance(ctx context.Context, playerID string) (float64, error) {
	sqlStr, args, err := psql.Select(colBalance).
		From(walletsTable).
		Where(sq.Eq{colPlayerID: playerID}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var balance float64
	err = p.pool.QueryRow(ctx, sqlStr, args...).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return p.openingBalance, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// SetBalance pins a player's balance, for admin tooling.
func (p *Postgres) SetBalance(ctx context.Context, playerID string, balance float64) error {
	sqlStr, args, err := psql.Insert(walletsTable).
		Columns(colPlayerID, colBalance).
		Values(playerID, balance).
		Suffix("ON CONFLICT (" + colPlayerID + ") DO UPDATE SET " + colBalance + " = EXCLUDED." + colBalance).
		ToSql()
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, sqlStr, args...)
	return err
}

var _ Gateway = (*Postgres)(nil)
var _ Gateway = (*Memory)(nil)
