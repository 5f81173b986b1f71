// README: Order service implements the lifecycle state machine on top of a versioned repository.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dropoff/internal/clock"
	"dropoff/internal/modules/incentive"
	"dropoff/internal/modules/location"
	"dropoff/internal/modules/pricing"
	"dropoff/internal/modules/rider"
	"dropoff/internal/observability"
	"dropoff/internal/types"
)

var (
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrRiderUnavailable       = errors.New("rider unavailable")
	ErrConcurrentModification = errors.New("order was modified concurrently")
	ErrNotFound               = errors.New("order not found")
	ErrBadRequest             = errors.New("bad request")
	ErrForbidden              = errors.New("not permitted")
)

// DefaultMaxUnpaidAge is how long an order may wait for payment.
const DefaultMaxUnpaidAge = 48 * time.Hour

// Lifecycle event types published to the notifier.
const (
	EventCreated       = "ORDER_CREATED"
	EventAssigned      = "ORDER_ASSIGNED"
	EventStatusUpdated = "ORDER_STATUS_UPDATED"
	EventDelivered     = "ORDER_DELIVERED"
	EventCancelled     = "ORDER_CANCELLED"
	EventPayment       = "PAYMENT_UPDATED"
	EventPointsAwarded = "POINTS_AWARDED"
)

// Notifier is fire-and-forget; Publish must not block.
type Notifier interface {
	Publish(topic string, payload any)
}

type Riders interface {
	Get(ctx context.Context, id types.ID) (*rider.Rider, error)
}

type Incentives interface {
	AwardDelivery(ctx context.Context, riderID, orderID types.ID, facts incentive.DeliveryFacts) (*rider.Rider, incentive.Award, error)
	AwardRating(ctx context.Context, riderID, orderID types.ID, rating int) (*rider.Rider, int, error)
	TierBonus(base float64, tier rider.Tier) incentive.Bonus
}

type ETA interface {
	Estimate(ctx context.Context, from, to types.Point) (location.Estimate, error)
}

func OrderTopic(id types.ID) string { return "order_" + string(id) }
func RiderTopic(id types.ID) string { return "rider_" + string(id) }

type Deps struct {
	Repo       Repository
	Pricing    *pricing.Service
	Riders     Riders
	Incentives Incentives
	Notifier   Notifier
	ETA        ETA
	Clock      clock.Clock
	Log        *zap.Logger
	// Hub is the pickup point for errands.
	Hub          types.Point
	MaxUnpaidAge time.Duration
}

type Service struct {
	repo       Repository
	pricing    *pricing.Service
	riders     Riders
	incentives Incentives
	notifier   Notifier
	eta        ETA
	clock      clock.Clock
	log        *zap.Logger
	hub        types.Point
	maxAge     time.Duration
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:       d.Repo,
		pricing:    d.Pricing,
		riders:     d.Riders,
		incentives: d.Incentives,
		notifier:   d.Notifier,
		eta:        d.ETA,
		clock:      d.Clock,
		log:        d.Log,
		hub:        d.Hub,
		maxAge:     d.MaxUnpaidAge,
	}
	if s.pricing == nil {
		s.pricing = pricing.NewService(pricing.DefaultConfig())
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxUnpaidAge
	}
	return s
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, any) {}

func (s *Service) MaxUnpaidAge() time.Duration { return s.maxAge }

type QuoteCommand struct {
	Type pricing.OrderType
	// Pickup is ignored for errands, which start at the hub.
	Pickup   *types.Point
	Delivery types.Point
	Package  pricing.Package
}

type Quote struct {
	Type   pricing.OrderType `json:"type"`
	Pickup types.Point       `json:"pickupLocation"`
	Fees   pricing.Breakdown `json:"feeBreakdown"`
}

// Quote prices an order without storing it.
func (s *Service) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	pickup, err := s.pickupFor(cmd.Type, cmd.Pickup)
	if err != nil {
		observability.FeeQuotesTotal.WithLabelValues(string(cmd.Type), "invalid").Inc()
		return Quote{}, err
	}
	km, err := location.DistanceKm(pickup, cmd.Delivery)
	if err != nil {
		observability.FeeQuotesTotal.WithLabelValues(string(cmd.Type), "invalid").Inc()
		return Quote{}, err
	}
	fees, err := s.pricing.Compute(km, cmd.Package, cmd.Type)
	if err != nil {
		observability.FeeQuotesTotal.WithLabelValues(string(cmd.Type), outcome(err)).Inc()
		return Quote{}, err
	}
	observability.FeeQuotesTotal.WithLabelValues(string(cmd.Type), "ok").Inc()
	return Quote{Type: cmd.Type, Pickup: pickup, Fees: fees}, nil
}

func outcome(err error) string {
	if errors.Is(err, pricing.ErrDistanceExceeded) {
		return "distance_exceeded"
	}
	return "invalid"
}

func (s *Service) pickupFor(t pricing.OrderType, pickup *types.Point) (types.Point, error) {
	if t == pricing.TypeErrand {
		return s.hub, nil
	}
	if pickup == nil {
		return types.Point{}, fmt.Errorf("%w: pickup location is required for %s orders", ErrBadRequest, t)
	}
	return *pickup, nil
}

type CreateCommand struct {
	UserID types.ID
	QuoteCommand
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.UserID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrBadRequest)
	}
	q, err := s.Quote(ctx, cmd.QuoteCommand)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	o := &Order{
		ID:               types.NewID(),
		Type:             cmd.Type,
		UserID:           cmd.UserID,
		Status:           StatusPending,
		PaymentStatus:    PaymentPending,
		ProcessingStatus: ProcessingPendingConfirmation,
		Pickup:           q.Pickup,
		Delivery:         cmd.Delivery,
		Package:          cmd.Package,
		Fees:             q.Fees,
		Timestamps:       Timestamps{Created: now},
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, o, StatusNone, ActorUser, &cmd.UserID, "", now)
	s.notifier.Publish(OrderTopic(o.ID), map[string]any{
		"type":    EventCreated,
		"orderId": o.ID,
		"total":   o.Fees.Total,
	})
	s.log.Info("order created",
		zap.String("order_id", string(o.ID)),
		zap.String("type", string(o.Type)),
		zap.Float64("total", o.Fees.Total),
	)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

type AssignCommand struct {
	OrderID types.ID
	RiderID types.ID
}

// AssignRider sets the rider exactly once. Errands move to CONFIRMED, all
// other types to ASSIGNED.
func (s *Service) AssignRider(ctx context.Context, cmd AssignCommand) (*Order, error) {
	if cmd.RiderID == "" {
		return nil, fmt.Errorf("%w: rider is required", ErrBadRequest)
	}
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot assign a rider to a %s order", ErrInvalidTransition, o.Status)
	}
	if o.RiderID != nil {
		return nil, fmt.Errorf("%w: rider already assigned", ErrInvalidTransition)
	}
	if s.riders == nil {
		return nil, fmt.Errorf("%w: no rider directory configured", ErrRiderUnavailable)
	}
	r, err := s.riders.Get(ctx, cmd.RiderID)
	if errors.Is(err, rider.ErrNotFound) {
		return nil, fmt.Errorf("%w: rider %s not found", ErrRiderUnavailable, cmd.RiderID)
	}
	if err != nil {
		return nil, err
	}
	if !r.Available() {
		return nil, fmt.Errorf("%w: rider %s is %s", ErrRiderUnavailable, r.ID, r.Status)
	}

	to, _ := forward(o.Type, StatusPending)
	now := s.clock.Now()
	from := o.Status
	riderID := r.ID
	o.RiderID = &riderID
	o.Status = to
	o.Timestamps.mark(to, now)
	if err := s.commit(ctx, o, from, ActorAdmin, nil, "", now); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"type":    EventAssigned,
		"orderId": o.ID,
		"riderId": riderID,
		"status":  o.Status,
	}
	s.notifier.Publish(OrderTopic(o.ID), payload)
	s.notifier.Publish(RiderTopic(riderID), payload)
	return o, nil
}

type AdvanceCommand struct {
	OrderID types.ID
	To      Status
	ActorID *types.ID
}

// Advance moves the order one step along its forward sequence. Assignment
// and cancellation have their own operations.
func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	switch cmd.To {
	case StatusDelivered:
		return s.MarkDelivered(ctx, DeliverCommand{OrderID: cmd.OrderID, ActorID: cmd.ActorID})
	case StatusCancelled:
		return nil, fmt.Errorf("%w: use cancel", ErrBadRequest)
	}
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusPending {
		return nil, fmt.Errorf("%w: a pending order needs a rider first", ErrInvalidTransition)
	}
	if !CanTransition(o.Type, o.Status, cmd.To) {
		return nil, fmt.Errorf("%w: %s to %s for %s orders", ErrInvalidTransition, o.Status, cmd.To, o.Type)
	}

	now := s.clock.Now()
	from := o.Status
	o.Status = cmd.To
	o.Timestamps.mark(cmd.To, now)
	if err := s.commit(ctx, o, from, ActorRider, cmd.ActorID, "", now); err != nil {
		return nil, err
	}
	s.notifier.Publish(OrderTopic(o.ID), map[string]any{
		"type":    EventStatusUpdated,
		"orderId": o.ID,
		"status":  o.Status,
	})
	return o, nil
}

type DeliverCommand struct {
	OrderID types.ID
	ActorID *types.ID
}

// MarkDelivered completes the order, then credits the rider and amends the
// fee breakdown with the tier bonus. The order stays delivered when the
// incentive step fails; the delivered order is returned with the error.
func (s *Service) MarkDelivered(ctx context.Context, cmd DeliverCommand) (*Order, error) {
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Type, o.Status, StatusDelivered) {
		return nil, fmt.Errorf("%w: %s to %s for %s orders", ErrInvalidTransition, o.Status, StatusDelivered, o.Type)
	}

	now := s.clock.Now()
	from := o.Status
	o.Status = StatusDelivered
	o.ProcessingStatus = ProcessingCompleted
	o.Timestamps.mark(StatusDelivered, now)
	if err := s.commit(ctx, o, from, ActorRider, cmd.ActorID, "", now); err != nil {
		return nil, err
	}
	s.notifier.Publish(OrderTopic(o.ID), map[string]any{
		"type":    EventDelivered,
		"orderId": o.ID,
	})

	if o.RiderID == nil || s.incentives == nil {
		return o, nil
	}
	r, award, err := s.incentives.AwardDelivery(ctx, *o.RiderID, o.ID, incentive.DeliveryFacts{
		Express:     o.Package.Express,
		DeliveredAt: now,
	})
	if err != nil {
		return o, fmt.Errorf("order %s delivered, awarding rider points: %w", o.ID, err)
	}
	bonus := s.incentives.TierBonus(o.Fees.RiderFee, r.Incentives.Tier)
	if bonus.Amount > 0 {
		amended, err := s.amendBonus(ctx, o, bonus)
		if err != nil {
			return o, fmt.Errorf("order %s delivered, applying tier bonus: %w", cmd.OrderID, err)
		}
		o = amended
	}
	s.notifier.Publish(RiderTopic(r.ID), map[string]any{
		"type":      EventPointsAwarded,
		"orderId":   o.ID,
		"points":    award.Points,
		"reasons":   award.Reasons,
		"tier":      r.Incentives.Tier,
		"tierBonus": bonus.Amount,
	})
	return o, nil
}

const amendAttempts = 3

// amendBonus only touches the two bonus fields, so a concurrent writer
// is handled by re-reading and reapplying.
func (s *Service) amendBonus(ctx context.Context, o *Order, bonus incentive.Bonus) (*Order, error) {
	o = o.Clone()
	for attempt := 1; ; attempt++ {
		o.Fees.TierBonus = bonus.Amount
		o.Fees.RiderFeeWithBonus = bonus.Total
		err := s.repo.Save(ctx, o, o.Version)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrConcurrentModification) || attempt >= amendAttempts {
			return nil, err
		}
		if o, err = s.repo.Get(ctx, o.ID); err != nil {
			return nil, err
		}
	}
}

type CancelCommand struct {
	OrderID   types.ID
	Reason    string
	ActorType string
	ActorID   *types.ID
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, fmt.Errorf("%w: order is already %s", ErrInvalidTransition, o.Status)
	}
	actor := cmd.ActorType
	if actor == "" {
		actor = ActorUser
	}
	now := s.clock.Now()
	if err := s.cancel(ctx, o, cmd.Reason, actor, cmd.ActorID, now); err != nil {
		return nil, err
	}
	s.notifier.Publish(OrderTopic(o.ID), map[string]any{
		"type":    EventCancelled,
		"orderId": o.ID,
		"reason":  cmd.Reason,
	})
	return o, nil
}

// ForceCancelIfExpired cancels an unpaid order older than maxAge. It reports
// false without error when the order is not eligible.
func (s *Service) ForceCancelIfExpired(ctx context.Context, id types.ID, maxAge time.Duration) (bool, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	now := s.clock.Now()
	if !o.ExpiredUnpaid(now, maxAge) {
		return false, nil
	}
	o.ProcessingStatus = ProcessingCancelled
	if err := s.cancel(ctx, o, ReasonPaymentTimeout, ActorSystem, nil, now); err != nil {
		return false, err
	}
	s.notifier.Publish(OrderTopic(o.ID), map[string]any{
		"type":    EventCancelled,
		"orderId": o.ID,
		"reason":  "Payment timeout",
	})
	return true, nil
}

func (s *Service) cancel(ctx context.Context, o *Order, reason, actor string, actorID *types.ID, now time.Time) error {
	from := o.Status
	o.Status = StatusCancelled
	o.CancellationReason = reason
	o.Timestamps.mark(StatusCancelled, now)
	return s.commit(ctx, o, from, actor, actorID, reason, now)
}

type RateCommand struct {
	OrderID types.ID
	RiderID types.ID
	Rating  int
	// UserID, when set, must be the customer who placed the order.
	UserID types.ID
}

// RateDelivery passes a customer rating to the incentive ledger once the
// order is delivered, and only for the rider who delivered it.
func (s *Service) RateDelivery(ctx context.Context, cmd RateCommand) (*rider.Rider, int, error) {
	if s.incentives == nil {
		return nil, 0, fmt.Errorf("%w: ratings are not enabled", ErrBadRequest)
	}
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, 0, err
	}
	if cmd.UserID != "" && o.UserID != cmd.UserID {
		return nil, 0, fmt.Errorf("%w: order %s belongs to another customer", ErrForbidden, o.ID)
	}
	if o.Status != StatusDelivered {
		return nil, 0, fmt.Errorf("%w: order %s is %s, only delivered orders can be rated", ErrInvalidTransition, o.ID, o.Status)
	}
	if o.RiderID == nil || *o.RiderID != cmd.RiderID {
		return nil, 0, fmt.Errorf("%w: order %s was not delivered by rider %s", ErrBadRequest, o.ID, cmd.RiderID)
	}
	return s.incentives.AwardRating(ctx, cmd.RiderID, o.ID, cmd.Rating)
}

type PaymentCommand struct {
	OrderID   types.ID
	Status    PaymentStatus
	Reference string
}

// UpdatePayment records a result reported by the payment collaborator.
func (s *Service) UpdatePayment(ctx context.Context, cmd PaymentCommand) (*Order, error) {
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !canPay(o.PaymentStatus, cmd.Status) {
		return nil, fmt.Errorf("%w: payment %s to %s", ErrInvalidTransition, o.PaymentStatus, cmd.Status)
	}
	if cmd.Status == PaymentPaid && o.Status == StatusCancelled {
		return nil, fmt.Errorf("%w: order is cancelled", ErrInvalidTransition)
	}

	o.PaymentStatus = cmd.Status
	if cmd.Reference != "" {
		o.PaymentReference = cmd.Reference
	}
	if cmd.Status == PaymentPaid && o.ProcessingStatus == ProcessingPendingConfirmation {
		o.ProcessingStatus = ProcessingProcessing
	}
	if err := s.save(ctx, o); err != nil {
		return nil, err
	}
	s.notifier.Publish(OrderTopic(o.ID), map[string]any{
		"type":          EventPayment,
		"orderId":       o.ID,
		"paymentStatus": o.PaymentStatus,
	})
	return o, nil
}

type Expiry struct {
	OrderID       types.ID      `json:"orderId"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	WillExpire    bool          `json:"willExpire"`
	Expired       bool          `json:"expired"`
	// RemainingSeconds is zero once the deadline has passed.
	RemainingSeconds int64 `json:"remainingSeconds"`
}

func (s *Service) ExpiryInfo(ctx context.Context, id types.ID) (Expiry, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Expiry{}, err
	}
	now := s.clock.Now()
	e := Expiry{
		OrderID:       o.ID,
		PaymentStatus: o.PaymentStatus,
		Status:        o.Status,
		CreatedAt:     o.Timestamps.Created,
		ExpiresAt:     o.Timestamps.Created.Add(s.maxAge),
		WillExpire:    o.PaymentStatus == PaymentPending && !o.Status.Terminal(),
		Expired:       o.ExpiredUnpaid(now, s.maxAge),
	}
	if rem := e.ExpiresAt.Sub(now); e.WillExpire && rem > 0 {
		e.RemainingSeconds = int64(rem / time.Second)
	}
	return e, nil
}

type TrackedRider struct {
	ID                types.ID     `json:"id"`
	Name              string       `json:"name"`
	Phone             string       `json:"phone"`
	Location          *types.Point `json:"location"`
	LocationUpdatedAt *time.Time   `json:"locationUpdatedAt,omitempty"`
}

type Tracking struct {
	OrderID    types.ID           `json:"orderId"`
	Type       pricing.OrderType  `json:"type"`
	Status     Status             `json:"status"`
	Progress   int                `json:"progress"`
	Timestamps Timestamps         `json:"timestamps"`
	Pickup     types.Point        `json:"pickupLocation"`
	Delivery   types.Point        `json:"deliveryLocation"`
	Rider      *TrackedRider      `json:"rider,omitempty"`
	ETA        *location.Estimate `json:"eta,omitempty"`
}

// Track reports progress and, when the rider position is known, the time
// to the next stop.
func (s *Service) Track(ctx context.Context, id types.ID) (Tracking, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tracking{}, err
	}
	tr := Tracking{
		OrderID:    o.ID,
		Type:       o.Type,
		Status:     o.Status,
		Progress:   progressByStatus[o.Status],
		Timestamps: o.Timestamps,
		Pickup:     o.Pickup,
		Delivery:   o.Delivery,
	}
	if o.RiderID == nil || s.riders == nil {
		return tr, nil
	}
	r, err := s.riders.Get(ctx, *o.RiderID)
	if err != nil {
		return Tracking{}, err
	}
	tr.Rider = &TrackedRider{
		ID:                r.ID,
		Name:              r.Name,
		Phone:             r.Phone,
		Location:          r.Location,
		LocationUpdatedAt: r.LocationUpdatedAt,
	}
	if r.Location == nil || o.Status.Terminal() || s.eta == nil {
		return tr, nil
	}
	target := o.Pickup
	switch o.Status {
	case StatusPickedUp, StatusPurchased, StatusInTransit:
		target = o.Delivery
	}
	est, err := s.eta.Estimate(ctx, *r.Location, target)
	if err != nil {
		s.log.Warn("eta estimate failed", zap.String("order_id", string(o.ID)), zap.Error(err))
		return tr, nil
	}
	tr.ETA = &est
	return tr, nil
}

// commit persists a status change and records it in the event log.
func (s *Service) commit(ctx context.Context, o *Order, from Status, actor string, actorID *types.ID, reason string, now time.Time) error {
	if err := s.save(ctx, o); err != nil {
		return err
	}
	observability.OrderTransitionsTotal.WithLabelValues(string(from), string(o.Status)).Inc()
	s.recordEvent(ctx, o, from, actor, actorID, reason, now)
	return nil
}

func (s *Service) save(ctx context.Context, o *Order) error {
	err := s.repo.Save(ctx, o, o.Version)
	if errors.Is(err, ErrConcurrentModification) {
		observability.OrderConflictsTotal.Inc()
	}
	return err
}

// recordEvent is best effort; the order row is the source of truth.
func (s *Service) recordEvent(ctx context.Context, o *Order, from Status, actor string, actorID *types.ID, reason string, now time.Time) {
	err := s.repo.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   o.Status,
		ActorType:  actor,
		ActorID:    actorID,
		Reason:     reason,
		CreatedAt:  now,
	})
	if err != nil {
		s.log.Warn("append order event failed",
			zap.String("order_id", string(o.ID)),
			zap.String("to", string(o.Status)),
			zap.Error(err),
		)
	}
}
