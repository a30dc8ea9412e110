// Package sizing_test provides tests for position sizing.
package sizing_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/sizing"
)

func TestForexSizingExample(t *testing.T) {
	sizer := sizing.NewSizer(zap.NewNop())

	result := sizer.Calculate(sizing.Request{
		Symbol:      "EURUSD",
		Entry:       1.1000,
		Stop:        1.0950,
		AccountSize: 10000,
		RiskPercent: 2,
	})

	if !result.IsValid {
		t.Fatalf("Expected valid result, warnings: %v", result.Warnings)
	}
	if result.StopPips != 50 {
		t.Errorf("stopPips = %v, want 50", result.StopPips)
	}
	if !result.RiskAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("riskAmount = %s, want 200", result.RiskAmount)
	}
	if !result.Lots.Equal(decimal.NewFromFloat(0.40)) {
		t.Errorf("lots = %s, want 0.40", result.Lots)
	}
	if !result.Units.Equal(decimal.NewFromInt(40000)) {
		t.Errorf("units = %s, want 40000", result.Units)
	}
}

func TestJPYPairIsApproximate(t *testing.T) {
	sizer := sizing.NewSizer(zap.NewNop())

	result := sizer.Calculate(sizing.Request{
		Symbol:      "USDJPY",
		Entry:       150.00,
		Stop:        149.50,
		AccountSize: 10000,
		RiskPercent: 1,
	})
	if !result.IsValid {
		t.Fatalf("Expected valid result, warnings: %v", result.Warnings)
	}
	if !result.IsApproximate {
		t.Error("JPY pip value is approximate; flag must be set")
	}
	if result.StopPips != 50 {
		t.Errorf("stopPips = %v, want 50", result.StopPips)
	}
}

func TestCryptoCappedByPositionValue(t *testing.T) {
	sizer := sizing.NewSizer(zap.NewNop())

	// A tight stop on BTC would size far beyond 10% of the account.
	result := sizer.Calculate(sizing.Request{
		Symbol:      "BTCUSD",
		Entry:       50000,
		Stop:        49900,
		AccountSize: 10000,
		RiskPercent: 2,
	})
	if !result.IsValid {
		t.Fatalf("Expected valid result, warnings: %v", result.Warnings)
	}

	units, _ := result.Units.Float64()
	maxUnits := 0.10 * 10000 / 50000
	if units > maxUnits+1e-9 {
		t.Errorf("units %v exceed the position-value cap %v", units, maxUnits)
	}
}

func TestMinimumLotFloor(t *testing.T) {
	sizer := sizing.NewSizer(zap.NewNop())

	result := sizer.Calculate(sizing.Request{
		Symbol:      "EURUSD",
		Entry:       1.1000,
		Stop:        1.0000, // 1000-pip stop forces a microscopic size
		AccountSize: 100,
		RiskPercent: 0.5,
	})
	if !result.IsValid {
		t.Fatalf("Expected valid result, warnings: %v", result.Warnings)
	}
	if result.Lots.LessThan(decimal.NewFromFloat(0.01)) {
		t.Errorf("lots %s below the 0.01 floor", result.Lots)
	}
	if len(result.Warnings) == 0 {
		t.Error("Expected the minimum-lot floor warning")
	}
}

func TestInvalidInputs(t *testing.T) {
	sizer := sizing.NewSizer(zap.NewNop())

	cases := []sizing.Request{
		{Symbol: "EURUSD", Entry: 0, Stop: 1.09, AccountSize: 10000, RiskPercent: 2},
		{Symbol: "EURUSD", Entry: 1.1, Stop: 1.1, AccountSize: 10000, RiskPercent: 2},
		{Symbol: "EURUSD", Entry: 1.1, Stop: 1.09, AccountSize: -5, RiskPercent: 2},
		{Symbol: "EURUSD", Entry: math.NaN(), Stop: 1.09, AccountSize: 10000, RiskPercent: 2},
		{Symbol: "EURUSD", Entry: 1.1, Stop: 1.09, AccountSize: 10000, RiskPercent: 0},
	}
	for i, req := range cases {
		if result := sizer.Calculate(req); result.IsValid {
			t.Errorf("case %d: expected invalid result", i)
		}
	}
}
