package rider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dropoff/internal/clock"
	"dropoff/internal/types"
)

type fakeIndex struct {
	mu      sync.Mutex
	points  map[types.ID]types.Point
	removed []types.ID
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: make(map[types.ID]types.Point)}
}

func (f *fakeIndex) Upsert(_ context.Context, id types.ID, p types.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[id] = p
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.points, id)
	f.removed = append(f.removed, id)
	return nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *fakeIndex) {
	t.Helper()
	store := NewMemoryStore()
	index := newFakeIndex()
	clk := clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	return NewService(store, index, clk, nil), store, index
}

func TestRegister(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	r, err := svc.Register(ctx, RegisterCommand{Name: " Kofi ", Phone: "0240000000"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if r.Name != "Kofi" || r.Status != StatusOffline || r.Incentives.Tier != TierBronze {
		t.Fatalf("unexpected rider: %+v", r)
	}
	if r.Location != nil {
		t.Fatalf("new rider must have unknown location, got %v", r.Location)
	}

	if _, err := svc.Register(ctx, RegisterCommand{Name: "  "}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestStatusAndLocationSyncIndex(t *testing.T) {
	svc, _, index := newTestService(t)
	ctx := context.Background()

	r, err := svc.Register(ctx, RegisterCommand{Name: "Ama"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.SetStatus(ctx, r.ID, StatusOnline); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, ok := index.points[r.ID]; ok {
		t.Fatalf("rider without a position must not be indexed")
	}

	p := types.Point{Lat: 5.6, Lng: -0.18}
	updated, err := svc.UpdateLocation(ctx, r.ID, p)
	if err != nil {
		t.Fatalf("update location: %v", err)
	}
	if updated.Location == nil || *updated.Location != p || updated.LocationUpdatedAt == nil {
		t.Fatalf("location not recorded: %+v", updated)
	}
	if index.points[r.ID] != p {
		t.Fatalf("expected rider indexed at %v", p)
	}

	if _, err := svc.SetStatus(ctx, r.ID, StatusBusy); err != nil {
		t.Fatalf("set busy: %v", err)
	}
	if _, ok := index.points[r.ID]; ok {
		t.Fatalf("busy rider must leave the index")
	}

	if _, err := svc.SetStatus(ctx, r.ID, Status("SLEEPING")); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
	if _, err := svc.SetStatus(ctx, "missing", StatusOnline); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_VersionGuard(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Rider{ID: "r1", Status: StatusOnline}); err != nil {
		t.Fatalf("create: %v", err)
	}

	a, _ := store.Get(ctx, "r1")
	b, _ := store.Get(ctx, "r1")

	a.Incentives.CurrentPoints = 10
	if err := store.Save(ctx, a, a.Version); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if a.Version != 1 {
		t.Fatalf("version = %d, want 1", a.Version)
	}
	b.Incentives.CurrentPoints = 20
	if err := store.Save(ctx, b, b.Version); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("stale save err = %v, want ErrConcurrentModification", err)
	}

	got, _ := store.Get(ctx, "r1")
	if got.Incentives.CurrentPoints != 10 {
		t.Fatalf("stale write leaked: %d", got.Incentives.CurrentPoints)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Rider{ID: "r1"})

	got, _ := store.Get(ctx, "r1")
	got.Incentives.BonusHistory = append(got.Incentives.BonusHistory, LedgerEntry{Points: 5})
	got.Name = "changed"

	again, _ := store.Get(ctx, "r1")
	if again.Name != "" || len(again.Incentives.BonusHistory) != 0 {
		t.Fatalf("store state mutated through a returned rider: %+v", again)
	}
}
