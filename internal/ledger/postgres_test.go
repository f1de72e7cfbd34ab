package ledger

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

// TestMain starts one shared container for the Postgres gateway tests. The
// in-memory gateway tests run regardless; the Postgres ones skip via
// requirePool when no container could be started.
func TestMain(m *testing.M) {
	var teardown func(context.Context, ...testcontainers.TerminateOption) error

	wantIntegration := os.Getenv("SKIP_INTEGRATION") == "" &&
		(os.Getenv("CI") != "" || isDockerAvailable())
	if wantIntegration {
		var err error
		teardown, err = mustStartPostgresContainer()
		if err != nil {
			testPool = nil
		}
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

func requirePool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testPool == nil {
		t.Skip("Postgres not available, skipping gateway integration test")
	}
	return testPool
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

func TestPostgres_ApplyCreditAndDebit(t *testing.T) {
	gw := NewPostgres(requirePool(t), 100)
	ctx := context.Background()

	res, err := gw.Apply(ctx, "pg-p1", -30, "crash_bet", "pg:r1:pg-p1:stake")
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if res.AlreadyApplied {
		t.Error("fresh debit reported as already applied")
	}
	if res.NewBalance != 70 {
		t.Errorf("balance after debit = %v, want 70", res.NewBalance)
	}

	res, err = gw.Apply(ctx, "pg-p1", 60, "crash_win", "pg:r1:pg-p1:payout")
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if res.NewBalance != 130 {
		t.Errorf("balance after credit = %v, want 130", res.NewBalance)
	}

	balance, err := gw.Balance(ctx, "pg-p1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 130 {
		t.Errorf("Balance = %v, want 130", balance)
	}
}

func TestPostgres_IdempotencyKeyAppliesOnce(t *testing.T) {
	gw := NewPostgres(requirePool(t), 100)
	ctx := context.Background()

	first, err := gw.Apply(ctx, "pg-p2", -25, "crash_bet", "pg:r2:pg-p2:stake")
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		replay, err := gw.Apply(ctx, "pg-p2", -25, "crash_bet", "pg:r2:pg-p2:stake")
		if err != nil {
			t.Fatalf("replay %d failed: %v", i, err)
		}
		if !replay.AlreadyApplied {
			t.Errorf("replay %d not flagged as already applied", i)
		}
		if replay.NewBalance != first.NewBalance {
			t.Errorf("replay %d balance = %v, want %v", i, replay.NewBalance, first.NewBalance)
		}
	}

	balance, _ := gw.Balance(ctx, "pg-p2")
	if balance != 75 {
		t.Errorf("balance = %v, want 75 after one effective debit", balance)
	}
}

func TestPostgres_InsufficientFunds(t *testing.T) {
	gw := NewPostgres(requirePool(t), 100)
	ctx := context.Background()

	_, err := gw.Apply(ctx, "pg-p3", -500, "crash_bet", "pg:r3:pg-p3:stake")
	if err != ErrInsufficientFunds {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	// The failed debit must not burn the key or touch the wallet
	res, err := gw.Apply(ctx, "pg-p3", -50, "crash_bet", "pg:r3:pg-p3:stake")
	if err != nil {
		t.Fatalf("retry at a coverable amount failed: %v", err)
	}
	if res.AlreadyApplied {
		t.Error("rejected apply burned the idempotency key")
	}
	if res.NewBalance != 50 {
		t.Errorf("balance = %v, want 50", res.NewBalance)
	}
}

func TestPostgres_OpeningBalanceOnFirstTouch(t *testing.T) {
	gw := NewPostgres(requirePool(t), 100)

	balance, err := gw.Balance(context.Background(), "pg-never-seen")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 100 {
		t.Errorf("unknown player balance = %v, want opening balance 100", balance)
	}
}

func TestPostgres_ConcurrentSameKey(t *testing.T) {
	gw := NewPostgres(requirePool(t), 100)
	ctx := context.Background()

	const workers = 8
	results := make(chan Result, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		go func() {
			res, err := gw.Apply(ctx, "pg-p4", 7, "crash_win", "pg:r4:pg-p4:payout")
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}

	applied := 0
	for i := 0; i < workers; i++ {
		select {
		case err := <-errs:
			t.Fatalf("concurrent apply failed: %v", err)
		case res := <-results:
			if !res.AlreadyApplied {
				applied++
			}
			if res.NewBalance != 107 {
				t.Errorf("balance = %v, want 107", res.NewBalance)
			}
		}
	}
	if applied != 1 {
		t.Errorf("%d applies took effect, want exactly 1", applied)
	}
}

func TestPostgres_SetBalance(t *testing.T) {
	gw := NewPostgres(requirePool(t), 100)
	ctx := context.Background()

	if err := gw.SetBalance(ctx, "pg-p5", 42); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}
	balance, _ := gw.Balance(ctx, "pg-p5")
	if balance != 42 {
		t.Errorf("balance = %v, want 42", balance)
	}

	// Upsert path
	if err := gw.SetBalance(ctx, "pg-p5", 84); err != nil {
		t.Fatalf("second SetBalance failed: %v", err)
	}
	balance, _ = gw.Balance(ctx, "pg-p5")
	if balance != 84 {
		t.Errorf("balance = %v, want 84", balance)
	}
}
