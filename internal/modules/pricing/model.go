// README: Fee schedules, package attributes and the fee breakdown value.
package pricing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput     = errors.New("invalid fee input")
	ErrDistanceExceeded = errors.New("distance exceeds service area")
)

type OrderType string

const (
	TypeDelivery OrderType = "DELIVERY"
	TypeShopping OrderType = "SHOPPING"
	TypeErrand   OrderType = "ERRAND"
)

// ParseOrderType accepts any casing.
func ParseOrderType(s string) (OrderType, error) {
	t := OrderType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeDelivery, TypeShopping, TypeErrand:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown order type %q", ErrInvalidInput, s)
}

type Item struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type Package struct {
	WeightKg float64 `json:"weight"`
	Fragile  bool    `json:"fragile"`
	Express  bool    `json:"express"`
	Items    []Item  `json:"items,omitempty"`
}

// Breakdown is stored on the order. Only TierBonus and RiderFeeWithBonus
// change after creation.
type Breakdown struct {
	BaseFee            float64 `json:"baseFee"`
	DistanceFee        float64 `json:"distanceFee"`
	PackageFee         float64 `json:"packageFee"`
	TransactionFee     float64 `json:"transactionFee"`
	Distance           float64 `json:"distance"`
	Subtotal           float64 `json:"subtotal"`
	Total              float64 `json:"total"`
	PlatformCommission float64 `json:"platformCommission"`
	RiderFee           float64 `json:"riderFee"`
	TierBonus          float64 `json:"tierBonus"`
	RiderFeeWithBonus  float64 `json:"riderFeeWithBonus"`
	ItemsTotal         float64 `json:"itemsTotal,omitempty"`
	FlatRate           bool    `json:"flatRate,omitempty"`
}

// DeliverySchedule prices DELIVERY and SHOPPING orders.
type DeliverySchedule struct {
	BaseFee        float64 `yaml:"baseFee"`
	PerKm          float64 `yaml:"perKm"`
	MinFee         float64 `yaml:"minFee"`
	MaxFee         float64 `yaml:"maxFee"`
	TransactionPct float64 `yaml:"transactionPct"`
}

// ErrandSchedule prices ERRAND orders: a flat service fee plus a clamped
// per-km fee measured from the hub.
type ErrandSchedule struct {
	ServiceFee float64 `yaml:"serviceFee"`
	PerKm      float64 `yaml:"perKm"`
	MinFee     float64 `yaml:"minFee"`
	MaxFee     float64 `yaml:"maxFee"`
}

type Surcharges struct {
	Express         float64 `yaml:"express"`
	Fragile         float64 `yaml:"fragile"`
	FreeWeightKg    float64 `yaml:"freeWeightKg"`
	OverweightPerKg float64 `yaml:"overweightPerKg"`
}

type Config struct {
	Delivery              DeliverySchedule      `yaml:"delivery"`
	Errand                ErrandSchedule        `yaml:"errand"`
	Surcharges            Surcharges            `yaml:"surcharges"`
	PlatformCommissionPct float64               `yaml:"platformCommissionPct"`
	RiderFeePct           float64               `yaml:"riderFeePct"`
	MaxDistanceKm         map[OrderType]float64 `yaml:"maxDistanceKm"`
}

func DefaultConfig() Config {
	return Config{
		Delivery: DeliverySchedule{
			BaseFee:        15,
			PerKm:          3,
			MinFee:         15,
			MaxFee:         100,
			TransactionPct: 0.025,
		},
		Errand: ErrandSchedule{
			ServiceFee: 30,
			PerKm:      2.5,
			MinFee:     15,
			MaxFee:     100,
		},
		Surcharges: Surcharges{
			Express:         15,
			Fragile:         10,
			FreeWeightKg:    5,
			OverweightPerKg: 2,
		},
		PlatformCommissionPct: 0.20,
		RiderFeePct:           0.80,
		MaxDistanceKm: map[OrderType]float64{
			TypeDelivery: 50,
			TypeShopping: 50,
			TypeErrand:   50,
		},
	}
}

// Validate reports every inconsistent tunable at once.
func (c Config) Validate() error {
	var errs []error
	if c.Delivery.MinFee < 0 || c.Delivery.MinFee > c.Delivery.MaxFee {
		errs = append(errs, fmt.Errorf("delivery fee bounds [%v, %v] are invalid", c.Delivery.MinFee, c.Delivery.MaxFee))
	}
	if c.Errand.MinFee < 0 || c.Errand.MinFee > c.Errand.MaxFee {
		errs = append(errs, fmt.Errorf("errand fee bounds [%v, %v] are invalid", c.Errand.MinFee, c.Errand.MaxFee))
	}
	if c.Delivery.PerKm < 0 || c.Errand.PerKm < 0 {
		errs = append(errs, errors.New("per-km rates must not be negative"))
	}
	if c.Delivery.TransactionPct < 0 || c.Delivery.TransactionPct > 1 {
		errs = append(errs, fmt.Errorf("transaction pct %v must be within [0, 1]", c.Delivery.TransactionPct))
	}
	if sum := c.PlatformCommissionPct + c.RiderFeePct; sum < 0.9999 || sum > 1.0001 {
		errs = append(errs, fmt.Errorf("commission split must add up to 1, got %v", sum))
	}
	for _, t := range []OrderType{TypeDelivery, TypeShopping, TypeErrand} {
		if c.MaxDistanceKm[t] <= 0 {
			errs = append(errs, fmt.Errorf("max distance for %s must be positive", t))
		}
	}
	return errors.Join(errs...)
}
