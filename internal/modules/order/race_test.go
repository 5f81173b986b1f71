// README: Concurrency tests for order state transitions against PostgreSQL (run with -race).
package order

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dropoff/internal/clock"
	"dropoff/internal/modules/incentive"
	"dropoff/internal/modules/pricing"
	"dropoff/internal/modules/rider"
	"dropoff/internal/types"
)

type pgEnv struct {
	svc    *Service
	riders *rider.Store
	clock  *clock.Manual
}

func TestPGConcurrentAssignSameOrder(t *testing.T) {
	env := setupPGEnv(t)
	ctx := context.Background()
	o := env.create(t)

	const attempts = 8
	for i := 0; i < attempts; i++ {
		env.addRider(t, types.ID(fmt.Sprintf("pg_r%d", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		riderID := types.ID(fmt.Sprintf("pg_r%d", i))
		wg.Add(1)
		go func(rid types.ID) {
			defer wg.Done()
			_, err := env.svc.AssignRider(ctx, AssignCommand{OrderID: o.ID, RiderID: rid})
			errs <- err
		}(riderID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConcurrentModification) && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
	got, err := env.svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != StatusAssigned || got.RiderID == nil {
		t.Fatalf("unexpected final order: status %s rider %v", got.Status, got.RiderID)
	}
}

func TestPGConcurrentAssignVsCancel(t *testing.T) {
	env := setupPGEnv(t)
	ctx := context.Background()
	o := env.create(t)
	env.addRider(t, "pg_r1")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := env.svc.AssignRider(ctx, AssignCommand{OrderID: o.ID, RiderID: "pg_r1"})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := env.svc.Cancel(ctx, CancelCommand{OrderID: o.ID, Reason: "user_cancel"})
		errs <- err
	}()
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConcurrentModification) && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	got, _ := env.svc.Get(ctx, o.ID)
	switch success {
	case 2:
		// assign landed first, then cancel
		if got.Status != StatusCancelled {
			t.Fatalf("expected cancelled after assign+cancel, got %s", got.Status)
		}
	case 1:
		if got.Status != StatusAssigned && got.Status != StatusCancelled {
			t.Fatalf("unexpected final status: %s", got.Status)
		}
	default:
		t.Fatalf("expected 1 or 2 successes, got %d", success)
	}
}

func TestPGSweepIsIdempotent(t *testing.T) {
	env := setupPGEnv(t)
	ctx := context.Background()
	expired := env.create(t)
	env.clock.Advance(48 * time.Hour)
	fresh := env.create(t)
	env.clock.Advance(24 * time.Hour)

	sw := NewSweeper(env.svc, SweepConfig{MaxAge: 48 * time.Hour, Concurrency: 4}, nil, nil)
	first, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	second, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if first.Cancelled != 1 || second.Cancelled != 0 {
		t.Fatalf("cancelled %d then %d, want 1 then 0", first.Cancelled, second.Cancelled)
	}

	got, _ := env.svc.Get(ctx, expired.ID)
	if got.Status != StatusCancelled || got.CancellationReason != ReasonPaymentTimeout {
		t.Fatalf("unexpected expired order: %+v", got)
	}
	got, _ = env.svc.Get(ctx, fresh.ID)
	if got.Status != StatusPending {
		t.Fatalf("fresh order touched: %s", got.Status)
	}
}

func (e *pgEnv) create(t *testing.T) *Order {
	t.Helper()
	pickup := accraCentre
	o, err := e.svc.Create(context.Background(), CreateCommand{
		UserID: "pg_user",
		QuoteCommand: QuoteCommand{
			Type:     pricing.TypeDelivery,
			Pickup:   &pickup,
			Delivery: osu,
			Package:  pricing.Package{WeightKg: 1, Fragile: true},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (e *pgEnv) addRider(t *testing.T, id types.ID) {
	t.Helper()
	now := e.clock.Now()
	err := e.riders.Create(context.Background(), &rider.Rider{
		ID:         id,
		Name:       "Rider " + string(id),
		Status:     rider.StatusOnline,
		Incentives: rider.IncentiveState{Tier: rider.TierBronze},
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("create rider: %v", err)
	}
}

func setupPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	db := setupTestDB(t)
	clk := clock.NewManual(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	riders := rider.NewStore(db)
	engine, err := incentive.NewEngine(incentive.DefaultRules())
	if err != nil {
		t.Fatalf("incentive engine: %v", err)
	}
	svc := NewService(Deps{
		Repo:       NewStore(db),
		Riders:     riders,
		Incentives: incentive.NewService(riders, engine, clk, nil),
		Clock:      clk,
		Hub:        testHub,
	})
	return &pgEnv{svc: svc, riders: riders, clock: clk}
}

func TestPGRiderSaveKeepsCallerTimestamp(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := rider.NewStore(db)

	created := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	r := &rider.Rider{
		ID: "r-ts", Name: "Ama", Status: rider.StatusOnline,
		Incentives: rider.IncentiveState{Tier: rider.TierBronze},
		CreatedAt:  created, UpdatedAt: created,
	}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	r.UpdatedAt = created.Add(time.Hour)
	if err := store.Save(ctx, r, r.Version); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Get(ctx, "r-ts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UpdatedAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, created.Add(time.Hour))
	}
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DROPOFF_TEST_DSN")
	if dsn == "" {
		t.Skip("DROPOFF_TEST_DSN not set; skipping DB-backed race tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_state_events, orders, riders"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return db
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}

	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
