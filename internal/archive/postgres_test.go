package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"crashd/internal/database"
	"crashd/internal/game"
)

var testPool *pgxpool.Pool

func mustStartPostgresContainer() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbContainer, err := postgres.Run(
		ctx,
		"postgres:latest",
		postgres.WithDatabase("crashdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	dbHost, err := dbContainer.Host(context.Background())
	if err != nil {
		return dbContainer.Terminate, err
	}
	dbPort, err := dbContainer.MappedPort(context.Background(), "5432/tcp")
	if err != nil {
		return dbContainer.Terminate, err
	}

	connStr := fmt.Sprintf("postgres://user:password@%s:%s/crashdb?sslmode=disable", dbHost, dbPort.Port())

	migrationDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return dbContainer.Terminate, err
	}
	defer migrationDB.Close()
	if err := database.RunMigrations(migrationDB, "../../migrations"); err != nil {
		return dbContainer.Terminate, err
	}

	testPool, err = pgxpool.New(context.Background(), connStr)
	return dbContainer.Terminate, err
}

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		os.Exit(0)
	}

	teardown, err := mustStartPostgresContainer()
	if err != nil {
		os.Exit(0)
	}

	code := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	if teardown != nil {
		teardown(context.Background())
	}

	os.Exit(code)
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func sampleRound(id string) game.RoundRecord {
	started := time.Now().Add(-12 * time.Second).UTC().Truncate(time.Millisecond)
	return game.RoundRecord{
		RoundID:    id,
		CrashPoint: 2.37,
		Commitment: "deadbeef",
		ClientSeed: "client",
		Nonce:      7,
		Signature:  "cafe",
		StartedAt:  started,
		CrashedAt:  started.Add(12 * time.Second),
		Bets: []game.BetRecord{
			{PlayerID: "a1", Amount: 10, Status: game.BetStatusCashed, SettledMultiplier: 2.0, Payout: 20},
			{PlayerID: "a2", Amount: 15, Status: game.BetStatusLost, Payout: 0},
		},
	}
}

func TestSaveRound(t *testing.T) {
	a := NewPostgres(testPool)
	ctx := context.Background()

	rec := sampleRound("arch-r1")
	if err := a.SaveRound(ctx, rec); err != nil {
		t.Fatalf("SaveRound failed: %v", err)
	}

	var crashPoint float64
	var nonce int64
	err := testPool.QueryRow(ctx,
		"SELECT crash_point, nonce FROM crash_rounds WHERE id = $1", rec.RoundID,
	).Scan(&crashPoint, &nonce)
	if err != nil {
		t.Fatalf("round row missing: %v", err)
	}
	if crashPoint != 2.37 || nonce != 7 {
		t.Errorf("round row = (%v, %v), want (2.37, 7)", crashPoint, nonce)
	}

	var betCount int
	err = testPool.QueryRow(ctx,
		"SELECT COUNT(*) FROM crash_bets WHERE round_id = $1", rec.RoundID,
	).Scan(&betCount)
	if err != nil {
		t.Fatalf("could not count bet rows: %v", err)
	}
	if betCount != 2 {
		t.Errorf("bet rows = %d, want 2", betCount)
	}

	var status string
	var payout float64
	err = testPool.QueryRow(ctx,
		"SELECT status, payout FROM crash_bets WHERE round_id = $1 AND player_id = $2",
		rec.RoundID, "a1",
	).Scan(&status, &payout)
	if err != nil {
		t.Fatalf("cashed bet row missing: %v", err)
	}
	if status != game.BetStatusCashed || payout != 20 {
		t.Errorf("cashed bet row = (%s, %v), want (%s, 20)", status, payout, game.BetStatusCashed)
	}
}

func TestSaveRound_ReplayIsHarmless(t *testing.T) {
	a := NewPostgres(testPool)
	ctx := context.Background()

	rec := sampleRound("arch-r2")
	for i := 0; i < 3; i++ {
		if err := a.SaveRound(ctx, rec); err != nil {
			t.Fatalf("SaveRound replay %d failed: %v", i, err)
		}
	}

	var roundCount int
	if err := testPool.QueryRow(ctx,
		"SELECT COUNT(*) FROM crash_rounds WHERE id = $1", rec.RoundID,
	).Scan(&roundCount); err != nil {
		t.Fatalf("could not count round rows: %v", err)
	}
	if roundCount != 1 {
		t.Errorf("round rows = %d, want 1", roundCount)
	}

	var betCount int
	if err := testPool.QueryRow(ctx,
		"SELECT COUNT(*) FROM crash_bets WHERE round_id = $1", rec.RoundID,
	).Scan(&betCount); err != nil {
		t.Fatalf("could not count bet rows: %v", err)
	}
	if betCount != 2 {
		t.Errorf("bet rows = %d, want 2", betCount)
	}
}
