// README: Order store backed by PostgreSQL; every write is guarded by the version column.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

const orderColumns = `
	id, type, user_id, status, payment_status, processing_status,
	pickup_lat, pickup_lng, delivery_lat, delivery_lng,
	package, rider_id, fees,
	created_at, assigned_at, confirmed_at, shopping_at, purchased_at,
	picked_up_at, in_transit_at, delivered_at, cancelled_at,
	cancellation_reason, payment_reference, version`

func (s *Store) Create(ctx context.Context, o *Order) error {
	pkg, fees, err := marshalDetails(o)
	if err != nil {
		return err
	}
	ts := o.Timestamps
	_, err = s.db.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22,
			$23, $24, $25
		)`,
		string(o.ID), string(o.Type), string(o.UserID), string(o.Status), string(o.PaymentStatus), string(o.ProcessingStatus),
		o.Pickup.Lat, o.Pickup.Lng, o.Delivery.Lat, o.Delivery.Lng,
		pkg, toStringPtr(o.RiderID), fees,
		ts.Created, ts.Assigned, ts.Confirmed, ts.Shopping, ts.Purchased,
		ts.PickedUp, ts.InTransit, ts.Delivered, ts.Cancelled,
		o.CancellationReason, o.PaymentReference, o.Version,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))

	var o Order
	var riderID *string
	var pkg, fees []byte
	ts := &o.Timestamps
	err := row.Scan(
		&o.ID, &o.Type, &o.UserID, &o.Status, &o.PaymentStatus, &o.ProcessingStatus,
		&o.Pickup.Lat, &o.Pickup.Lng, &o.Delivery.Lat, &o.Delivery.Lng,
		&pkg, &riderID, &fees,
		&ts.Created, &ts.Assigned, &ts.Confirmed, &ts.Shopping, &ts.Purchased,
		&ts.PickedUp, &ts.InTransit, &ts.Delivered, &ts.Cancelled,
		&o.CancellationReason, &o.PaymentReference, &o.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if riderID != nil {
		r := types.ID(*riderID)
		o.RiderID = &r
	}
	if err := json.Unmarshal(pkg, &o.Package); err != nil {
		return nil, fmt.Errorf("decode package: %w", err)
	}
	if err := json.Unmarshal(fees, &o.Fees); err != nil {
		return nil, fmt.Errorf("decode fees: %w", err)
	}
	return &o, nil
}

// Save writes the mutable columns in one statement. Location, type and
// owner never change after creation.
func (s *Store) Save(ctx context.Context, o *Order, expectedVersion int) error {
	pkg, fees, err := marshalDetails(o)
	if err != nil {
		return err
	}
	ts := o.Timestamps
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    processing_status = $3,
		    package = $4,
		    rider_id = $5,
		    fees = $6,
		    assigned_at = $7,
		    confirmed_at = $8,
		    shopping_at = $9,
		    purchased_at = $10,
		    picked_up_at = $11,
		    in_transit_at = $12,
		    delivered_at = $13,
		    cancelled_at = $14,
		    cancellation_reason = $15,
		    payment_reference = $16,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $17 AND version = $18`,
		string(o.Status), string(o.PaymentStatus), string(o.ProcessingStatus),
		pkg, toStringPtr(o.RiderID), fees,
		ts.Assigned, ts.Confirmed, ts.Shopping, ts.Purchased,
		ts.PickedUp, ts.InTransit, ts.Delivered, ts.Cancelled,
		o.CancellationReason, o.PaymentReference,
		string(o.ID), expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		o.Version = expectedVersion + 1
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, string(o.ID)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConcurrentModification
}

func (s *Store) FindExpiredUnpaid(ctx context.Context, cutoff time.Time, after *ExpiredRef, limit int) ([]ExpiredRef, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	var afterAt *time.Time
	var afterID *string
	if after != nil {
		afterAt = &after.CreatedAt
		id := string(after.ID)
		afterID = &id
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, created_at FROM orders
		WHERE payment_status = 'PENDING_PAYMENT'
		  AND status NOT IN ('CANCELLED', 'DELIVERED')
		  AND created_at < $1
		  AND ($2::timestamptz IS NULL OR (created_at, id) > ($2::timestamptz, $3::text))
		ORDER BY created_at, id
		LIMIT $4`, cutoff, afterAt, afterID, lim,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []ExpiredRef
	for rows.Next() {
		var (
			id        string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &createdAt); err != nil {
			return nil, err
		}
		refs = append(refs, ExpiredRef{ID: types.ID(id), CreatedAt: createdAt})
	}
	return refs, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.Reason,
		e.CreatedAt,
	).Scan(&e.ID)
}

func marshalDetails(o *Order) (pkg, fees []byte, err error) {
	if pkg, err = json.Marshal(o.Package); err != nil {
		return nil, nil, fmt.Errorf("encode package: %w", err)
	}
	if fees, err = json.Marshal(o.Fees); err != nil {
		return nil, nil, fmt.Errorf("encode fees: %w", err)
	}
	return pkg, fees, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
