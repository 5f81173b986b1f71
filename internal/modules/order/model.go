// README: Order aggregate, status axes and the per-type transition table.
package order

import (
	"time"

	"dropoff/internal/modules/pricing"
	"dropoff/internal/types"
)

type Status string

const (
	StatusNone      Status = ""
	StatusPending   Status = "PENDING"
	StatusAssigned  Status = "ASSIGNED"
	StatusPickedUp  Status = "PICKED_UP"
	StatusInTransit Status = "IN_TRANSIT"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"

	// Errand only.
	StatusConfirmed Status = "CONFIRMED"
	StatusShopping  Status = "SHOPPING"
	StatusPurchased Status = "PURCHASED"
)

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING_PAYMENT"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// ProcessingStatus is the business-side substate, independent of Status.
type ProcessingStatus string

const (
	ProcessingPendingConfirmation ProcessingStatus = "PENDING_CONFIRMATION"
	ProcessingProcessing          ProcessingStatus = "PROCESSING"
	ProcessingReadyForPickup      ProcessingStatus = "READY_FOR_PICKUP"
	ProcessingCompleted           ProcessingStatus = "COMPLETED"
	ProcessingCancelled           ProcessingStatus = "CANCELLED"
)

// ReasonPaymentTimeout is recorded on orders cancelled by the unpaid sweep.
const ReasonPaymentTimeout = "Payment timeout - Order expired"

type Timestamps struct {
	Created   time.Time  `json:"created"`
	Assigned  *time.Time `json:"assigned,omitempty"`
	Confirmed *time.Time `json:"confirmed,omitempty"`
	Shopping  *time.Time `json:"shopping,omitempty"`
	Purchased *time.Time `json:"purchased,omitempty"`
	PickedUp  *time.Time `json:"pickedUp,omitempty"`
	InTransit *time.Time `json:"inTransit,omitempty"`
	Delivered *time.Time `json:"delivered,omitempty"`
	Cancelled *time.Time `json:"cancelled,omitempty"`
}

func (ts *Timestamps) mark(s Status, at time.Time) {
	t := at
	switch s {
	case StatusPending:
		ts.Created = at
	case StatusAssigned:
		ts.Assigned = &t
	case StatusConfirmed:
		ts.Confirmed = &t
	case StatusShopping:
		ts.Shopping = &t
	case StatusPurchased:
		ts.Purchased = &t
	case StatusPickedUp:
		ts.PickedUp = &t
	case StatusInTransit:
		ts.InTransit = &t
	case StatusDelivered:
		ts.Delivered = &t
	case StatusCancelled:
		ts.Cancelled = &t
	}
}

type Order struct {
	ID                 types.ID          `json:"id"`
	Type               pricing.OrderType `json:"type"`
	UserID             types.ID          `json:"userId"`
	Status             Status            `json:"status"`
	PaymentStatus      PaymentStatus     `json:"paymentStatus"`
	ProcessingStatus   ProcessingStatus  `json:"processingStatus"`
	Pickup             types.Point       `json:"pickupLocation"`
	Delivery           types.Point       `json:"deliveryLocation"`
	Package            pricing.Package   `json:"packageDetails"`
	RiderID            *types.ID         `json:"riderId,omitempty"`
	Fees               pricing.Breakdown `json:"feeBreakdown"`
	Timestamps         Timestamps        `json:"timestamps"`
	CancellationReason string            `json:"cancellationReason,omitempty"`
	PaymentReference   string            `json:"paymentReference,omitempty"`
	Version            int               `json:"version"`
}

// ExpiredUnpaid reports whether the order is eligible for forced
// cancellation at now.
func (o *Order) ExpiredUnpaid(now time.Time, maxAge time.Duration) bool {
	return o.PaymentStatus == PaymentPending &&
		!o.Status.Terminal() &&
		now.Sub(o.Timestamps.Created) > maxAge
}

func (o *Order) Clone() *Order {
	c := *o
	if o.RiderID != nil {
		id := *o.RiderID
		c.RiderID = &id
	}
	c.Package.Items = append([]pricing.Item(nil), o.Package.Items...)
	ts := &c.Timestamps
	for _, p := range []**time.Time{&ts.Assigned, &ts.Confirmed, &ts.Shopping, &ts.Purchased, &ts.PickedUp, &ts.InTransit, &ts.Delivered, &ts.Cancelled} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &c
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	Reason     string
	CreatedAt  time.Time
}

const (
	ActorUser   = "user"
	ActorRider  = "rider"
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

var courierFlow = map[Status][]Status{
	StatusPending:   {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusDelivered, StatusCancelled},
}

// AllowedTransitions represents the order state flow per order type as code.
// DELIVERED and CANCELLED have no outgoing edges.
var AllowedTransitions = map[pricing.OrderType]map[Status][]Status{
	pricing.TypeDelivery: courierFlow,
	pricing.TypeShopping: courierFlow,
	pricing.TypeErrand: {
		StatusPending:   {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusShopping, StatusCancelled},
		StatusShopping:  {StatusPurchased, StatusCancelled},
		StatusPurchased: {StatusInTransit, StatusCancelled},
		StatusInTransit: {StatusDelivered, StatusCancelled},
	},
}

func CanTransition(t pricing.OrderType, from, to Status) bool {
	next, ok := AllowedTransitions[t][from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// forward returns the single non-cancel successor of from.
func forward(t pricing.OrderType, from Status) (Status, bool) {
	for _, s := range AllowedTransitions[t][from] {
		if s != StatusCancelled {
			return s, true
		}
	}
	return StatusNone, false
}

var progressByStatus = map[Status]int{
	StatusPending:   0,
	StatusAssigned:  25,
	StatusConfirmed: 25,
	StatusPickedUp:  50,
	StatusShopping:  50,
	StatusPurchased: 60,
	StatusInTransit: 75,
	StatusDelivered: 100,
	StatusCancelled: 0,
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentFailed:  {PaymentPaid},
	PaymentPaid:    {PaymentRefunded},
}

func canPay(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
