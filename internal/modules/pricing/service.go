// README: Fee engine; pure and safe for concurrent use.
package pricing

import (
	"fmt"
	"math"

	"dropoff/internal/types"
)

type Service struct {
	cfg Config
}

func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// MaxDistanceKm is the service-area ceiling for the order type.
func (s *Service) MaxDistanceKm(t OrderType) float64 {
	return s.cfg.MaxDistanceKm[t]
}

// Compute returns the fee breakdown for an order. Beyond the distance
// ceiling DELIVERY and ERRAND are rejected while SHOPPING switches to the
// flat schedule.
func (s *Service) Compute(distanceKm float64, pkg Package, t OrderType) (Breakdown, error) {
	if err := validate(distanceKm, pkg, t); err != nil {
		return Breakdown{}, err
	}
	if distanceKm > s.cfg.MaxDistanceKm[t] {
		if t == TypeShopping {
			return s.flatShopping(distanceKm, pkg), nil
		}
		return Breakdown{}, fmt.Errorf("%w: %.1f km is beyond the %.0f km limit for %s",
			ErrDistanceExceeded, distanceKm, s.cfg.MaxDistanceKm[t], t)
	}
	if t == TypeErrand {
		return s.errand(distanceKm, pkg), nil
	}
	return s.delivery(distanceKm, pkg), nil
}

// Split divides a total between the platform and the rider.
func (s *Service) Split(total float64) (platform, rider float64) {
	return types.RoundMoney(total * s.cfg.PlatformCommissionPct), types.RoundMoney(total * s.cfg.RiderFeePct)
}

func (s *Service) delivery(distanceKm float64, pkg Package) Breakdown {
	sc := s.cfg.Delivery
	distanceFee := distanceKm * sc.PerKm
	packageFee := s.packageFee(pkg)
	subtotal := sc.BaseFee + distanceFee + packageFee
	transactionFee := subtotal * sc.TransactionPct
	total := clamp(subtotal+transactionFee, sc.MinFee, sc.MaxFee)

	return s.finish(Breakdown{
		BaseFee:        sc.BaseFee,
		DistanceFee:    distanceFee,
		PackageFee:     packageFee,
		TransactionFee: transactionFee,
		Distance:       distanceKm,
		Subtotal:       subtotal,
		Total:          total,
		ItemsTotal:     itemsTotal(pkg.Items),
	})
}

func (s *Service) errand(distanceKm float64, pkg Package) Breakdown {
	sc := s.cfg.Errand
	distanceFee := clamp(distanceKm*sc.PerKm, sc.MinFee, sc.MaxFee)
	packageFee := s.packageFee(pkg)
	subtotal := distanceFee + packageFee
	total := clamp(subtotal+sc.ServiceFee, sc.MinFee, sc.MaxFee)

	return s.finish(Breakdown{
		DistanceFee:    distanceFee,
		PackageFee:     packageFee,
		TransactionFee: sc.ServiceFee,
		Distance:       distanceKm,
		Subtotal:       subtotal,
		Total:          total,
		ItemsTotal:     itemsTotal(pkg.Items),
	})
}

// flatShopping has no distance component and no clamp. The transaction
// fee is recorded but not added to the total.
func (s *Service) flatShopping(distanceKm float64, pkg Package) Breakdown {
	base := s.cfg.Delivery.BaseFee
	var packageFee float64
	if pkg.Fragile {
		packageFee = s.cfg.Surcharges.Fragile
	}
	items := itemsTotal(pkg.Items)
	total := items + base + packageFee

	return s.finish(Breakdown{
		BaseFee:        base,
		PackageFee:     packageFee,
		TransactionFee: total * s.cfg.Delivery.TransactionPct,
		Distance:       distanceKm,
		Subtotal:       base + packageFee,
		Total:          total,
		ItemsTotal:     items,
		FlatRate:       true,
	})
}

func (s *Service) packageFee(pkg Package) float64 {
	sc := s.cfg.Surcharges
	var fee float64
	if pkg.Express {
		fee += sc.Express
	}
	if pkg.Fragile {
		fee += sc.Fragile
	}
	if pkg.WeightKg > sc.FreeWeightKg {
		fee += (pkg.WeightKg - sc.FreeWeightKg) * sc.OverweightPerKg
	}
	return fee
}

// finish rounds every field and applies the commission split to the
// rounded total.
func (s *Service) finish(b Breakdown) Breakdown {
	b.BaseFee = types.RoundMoney(b.BaseFee)
	b.DistanceFee = types.RoundMoney(b.DistanceFee)
	b.PackageFee = types.RoundMoney(b.PackageFee)
	b.TransactionFee = types.RoundMoney(b.TransactionFee)
	b.Subtotal = types.RoundMoney(b.Subtotal)
	b.Total = types.RoundMoney(b.Total)
	b.ItemsTotal = types.RoundMoney(b.ItemsTotal)
	b.Distance = types.RoundKm(b.Distance)
	b.PlatformCommission, b.RiderFee = s.Split(b.Total)
	b.TierBonus = 0
	b.RiderFeeWithBonus = b.RiderFee
	return b
}

func validate(distanceKm float64, pkg Package, t OrderType) error {
	switch t {
	case TypeDelivery, TypeShopping, TypeErrand:
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidInput, t)
	}
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return fmt.Errorf("%w: distance %v", ErrInvalidInput, distanceKm)
	}
	if math.IsNaN(pkg.WeightKg) || math.IsInf(pkg.WeightKg, 0) || pkg.WeightKg < 0 {
		return fmt.Errorf("%w: weight %v", ErrInvalidInput, pkg.WeightKg)
	}
	for i, it := range pkg.Items {
		if it.Quantity < 0 || it.Price < 0 || math.IsNaN(it.Price) || math.IsInf(it.Price, 0) {
			return fmt.Errorf("%w: item %d has quantity %d and price %v", ErrInvalidInput, i, it.Quantity, it.Price)
		}
	}
	return nil
}

func itemsTotal(items []Item) float64 {
	var sum float64
	for _, it := range items {
		sum += float64(it.Quantity) * it.Price
	}
	return sum
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
