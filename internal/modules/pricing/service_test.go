package pricing

import (
	"errors"
	"math"
	"testing"
)

func TestService_ComputeScenarios(t *testing.T) {
	s := NewService(DefaultConfig())

	tests := []struct {
		name string
		dist float64
		pkg  Package
		typ  OrderType
		want Breakdown
	}{
		{
			name: "plain delivery 10km",
			dist: 10,
			pkg:  Package{WeightKg: 2},
			typ:  TypeDelivery,
			want: Breakdown{
				BaseFee: 15, DistanceFee: 30, PackageFee: 0, Subtotal: 45,
				TransactionFee: 1.13, Total: 46.13, Distance: 10,
				PlatformCommission: 9.23, RiderFee: 36.9, RiderFeeWithBonus: 36.9,
			},
		},
		{
			name: "express fragile overweight 5km",
			dist: 5,
			pkg:  Package{WeightKg: 8, Fragile: true, Express: true},
			typ:  TypeDelivery,
			// 15 express + 10 fragile + 2*3 overweight
			want: Breakdown{
				BaseFee: 15, DistanceFee: 15, PackageFee: 31, Subtotal: 61,
				TransactionFee: 1.53, Total: 62.53, Distance: 5,
				PlatformCommission: 12.51, RiderFee: 50.02, RiderFeeWithBonus: 50.02,
			},
		},
		{
			name: "zero distance stays above the floor",
			dist: 0,
			pkg:  Package{},
			typ:  TypeDelivery,
			want: Breakdown{
				BaseFee: 15, Subtotal: 15, TransactionFee: 0.38, Total: 15.38,
				PlatformCommission: 3.08, RiderFee: 12.3, RiderFeeWithBonus: 12.3,
			},
		},
		{
			name: "long delivery clamps to max",
			dist: 40,
			pkg:  Package{Express: true},
			typ:  TypeDelivery,
			// 15 + 120 + 15 = 150, + 3.75 => clamp 100
			want: Breakdown{
				BaseFee: 15, DistanceFee: 120, PackageFee: 15, Subtotal: 150,
				TransactionFee: 3.75, Total: 100, Distance: 40,
				PlatformCommission: 20, RiderFee: 80, RiderFeeWithBonus: 80,
			},
		},
		{
			name: "errand short distance hits distance floor",
			dist: 2,
			pkg:  Package{},
			typ:  TypeErrand,
			// clamp(5, 15, 100) = 15, + 30 service fee
			want: Breakdown{
				DistanceFee: 15, Subtotal: 15, TransactionFee: 30, Total: 45, Distance: 2,
				PlatformCommission: 9, RiderFee: 36, RiderFeeWithBonus: 36,
			},
		},
		{
			name: "errand 20km fragile",
			dist: 20,
			pkg:  Package{Fragile: true},
			typ:  TypeErrand,
			// 50 + 10 + 30 = 90
			want: Breakdown{
				DistanceFee: 50, PackageFee: 10, Subtotal: 60, TransactionFee: 30, Total: 90, Distance: 20,
				PlatformCommission: 18, RiderFee: 72, RiderFeeWithBonus: 72,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Compute(tt.dist, tt.pkg, tt.typ)
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compute() =\n %+v\nwant\n %+v", got, tt.want)
			}
		})
	}
}

func TestService_DistanceExceeded(t *testing.T) {
	s := NewService(DefaultConfig())
	pkg := Package{
		Fragile: true,
		Items:   []Item{{Name: "rice", Quantity: 2, Price: 40}, {Name: "oil", Quantity: 1, Price: 25.5}},
	}

	for _, typ := range []OrderType{TypeErrand, TypeDelivery} {
		if _, err := s.Compute(60, pkg, typ); !errors.Is(err, ErrDistanceExceeded) {
			t.Errorf("%s at 60km: err = %v, want ErrDistanceExceeded", typ, err)
		}
	}

	got, err := s.Compute(60, pkg, TypeShopping)
	if err != nil {
		t.Fatalf("shopping at 60km: %v", err)
	}
	want := Breakdown{
		BaseFee:            15,
		PackageFee:         10,
		TransactionFee:     3.26, // 130.5 * 0.025, not added
		Distance:           60,
		Subtotal:           25,
		Total:              130.5,
		ItemsTotal:         105.5,
		FlatRate:           true,
		PlatformCommission: 26.1,
		RiderFee:           104.4,
		RiderFeeWithBonus:  104.4,
	}
	if got != want {
		t.Errorf("flat shopping =\n %+v\nwant\n %+v", got, want)
	}
}

func TestService_ShoppingOverrideCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDistanceKm[TypeShopping] = 100
	s := NewService(cfg)

	got, err := s.Compute(60, Package{}, TypeShopping)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got.FlatRate || got.DistanceFee != 180 || got.Total != 100 {
		t.Fatalf("expected per-km pricing clamped to max, got %+v", got)
	}
}

func TestService_InvalidInput(t *testing.T) {
	s := NewService(DefaultConfig())
	cases := []struct {
		name string
		dist float64
		pkg  Package
		typ  OrderType
	}{
		{"negative distance", -1, Package{}, TypeDelivery},
		{"nan distance", math.NaN(), Package{}, TypeDelivery},
		{"negative weight", 3, Package{WeightKg: -2}, TypeDelivery},
		{"unknown type", 3, Package{}, OrderType("PARCEL")},
		{"empty type", 3, Package{}, ""},
		{"negative item price", 3, Package{Items: []Item{{Quantity: 1, Price: -4}}}, TypeShopping},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Compute(tc.dist, tc.pkg, tc.typ)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if got != (Breakdown{}) {
				t.Fatalf("expected zero breakdown on error, got %+v", got)
			}
		})
	}
}

func TestService_BoundsAndSplit(t *testing.T) {
	s := NewService(DefaultConfig())
	cfg := DefaultConfig()
	weights := []float64{0, 4.9, 5, 7.5, 30}
	for _, typ := range []OrderType{TypeDelivery, TypeErrand} {
		for d := 0.0; d <= 50; d += 0.7 {
			for _, w := range weights {
				for _, flags := range [][2]bool{{false, false}, {true, false}, {false, true}, {true, true}} {
					pkg := Package{WeightKg: w, Fragile: flags[0], Express: flags[1]}
					b, err := s.Compute(d, pkg, typ)
					if err != nil {
						t.Fatalf("compute(%v, %+v, %s): %v", d, pkg, typ, err)
					}
					if b.Total < cfg.Delivery.MinFee || b.Total > cfg.Delivery.MaxFee {
						t.Fatalf("total %v out of bounds for d=%v pkg=%+v type=%s", b.Total, d, pkg, typ)
					}
					if diff := math.Abs(b.PlatformCommission + b.RiderFee - b.Total); diff > 0.01+1e-9 {
						t.Fatalf("split %v + %v != %v", b.PlatformCommission, b.RiderFee, b.Total)
					}
					if b.RiderFeeWithBonus != b.RiderFee || b.TierBonus != 0 {
						t.Fatalf("bonus fields must default to riderFee/0, got %+v", b)
					}
				}
			}
		}
	}
}

func TestParseOrderType(t *testing.T) {
	if got, err := ParseOrderType(" errand "); err != nil || got != TypeErrand {
		t.Fatalf("ParseOrderType = %q, %v", got, err)
	}
	if _, err := ParseOrderType("parcel"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Delivery.MinFee = 200
	cfg.RiderFeePct = 0.5
	delete(cfg.MaxDistanceKm, TypeErrand)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation errors")
	}
}
