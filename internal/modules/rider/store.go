// README: Rider store backed by PostgreSQL with a version column for optimistic updates.
package rider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dropoff/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, r *Rider) error {
	history, achievements, err := marshalIncentives(r.Incentives)
	if err != nil {
		return err
	}
	lat, lng := pointArgs(r.Location)
	_, err = s.db.Exec(ctx, `
		INSERT INTO riders (
			id, name, phone, status, location_lat, location_lng, location_updated_at,
			current_points, lifetime_points, tier, bonus_history, achievements,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		string(r.ID), r.Name, r.Phone, string(r.Status), lat, lng, r.LocationUpdatedAt,
		r.Incentives.CurrentPoints, r.Incentives.LifetimePoints, string(r.Incentives.Tier),
		history, achievements,
		r.Version, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Rider, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, phone, status, location_lat, location_lng, location_updated_at,
		       current_points, lifetime_points, tier, bonus_history, achievements,
		       version, created_at, updated_at
		FROM riders
		WHERE id = $1`, string(id),
	)

	var r Rider
	var lat, lng *float64
	var history, achievements []byte
	err := row.Scan(
		&r.ID, &r.Name, &r.Phone, &r.Status, &lat, &lng, &r.LocationUpdatedAt,
		&r.Incentives.CurrentPoints, &r.Incentives.LifetimePoints, &r.Incentives.Tier,
		&history, &achievements,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		r.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	if err := json.Unmarshal(history, &r.Incentives.BonusHistory); err != nil {
		return nil, fmt.Errorf("decode bonus history: %w", err)
	}
	if err := json.Unmarshal(achievements, &r.Incentives.Achievements); err != nil {
		return nil, fmt.Errorf("decode achievements: %w", err)
	}
	return &r, nil
}

// Save writes the whole row in one statement guarded by the version.
// UpdatedAt is stored as the caller set it.
func (s *Store) Save(ctx context.Context, r *Rider, expectedVersion int) error {
	history, achievements, err := marshalIncentives(r.Incentives)
	if err != nil {
		return err
	}
	lat, lng := pointArgs(r.Location)
	tag, err := s.db.Exec(ctx, `
		UPDATE riders
		SET name = $1,
		    phone = $2,
		    status = $3,
		    location_lat = $4,
		    location_lng = $5,
		    location_updated_at = $6,
		    current_points = $7,
		    lifetime_points = $8,
		    tier = $9,
		    bonus_history = $10,
		    achievements = $11,
		    updated_at = $12,
		    version = version + 1
		WHERE id = $13 AND version = $14`,
		r.Name, r.Phone, string(r.Status), lat, lng, r.LocationUpdatedAt,
		r.Incentives.CurrentPoints, r.Incentives.LifetimePoints, string(r.Incentives.Tier),
		history, achievements, r.UpdatedAt,
		string(r.ID), expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		r.Version = expectedVersion + 1
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM riders WHERE id = $1)`, string(r.ID)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConcurrentModification
}

func marshalIncentives(st IncentiveState) (history, achievements []byte, err error) {
	h := st.BonusHistory
	if h == nil {
		h = []LedgerEntry{}
	}
	a := st.Achievements
	if a == nil {
		a = []Achievement{}
	}
	if history, err = json.Marshal(h); err != nil {
		return nil, nil, fmt.Errorf("encode bonus history: %w", err)
	}
	if achievements, err = json.Marshal(a); err != nil {
		return nil, nil, fmt.Errorf("encode achievements: %w", err)
	}
	return history, achievements, nil
}

func pointArgs(p *types.Point) (lat, lng *float64) {
	if p == nil {
		return nil, nil
	}
	la, ln := p.Lat, p.Lng
	return &la, &ln
}
