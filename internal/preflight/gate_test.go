// Package preflight_test provides tests for the signal quality gate.
package preflight_test

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/internal/preflight"
	"github.com/quantarc/signal-engine/pkg/types"
)

func series(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func testBundle(n int) *indicators.Bundle {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      1.1, High: 1.102, Low: 1.098, Close: 1.101, Volume: 100,
		}
	}

	trendBars := make([]types.Bar, 60)
	trendEMA := make([]float64, 60)
	for i := range trendBars {
		price := 1.05 + 0.001*float64(i)
		trendBars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * 4 * time.Hour),
			Open:      price, High: price + 0.002, Low: price - 0.002, Close: price + 0.02, Volume: 100,
		}
		trendEMA[i] = price
	}

	return &indicators.Bundle{
		Symbol:             "EURUSD",
		Style:              types.StyleIntraday,
		EntryTimeframe:     types.TimeframeH1,
		Bars:               bars,
		RSI:                series(n, 50),
		ATR:                series(n, 0.002),
		TrendBars:          trendBars,
		TrendEMA200:        trendEMA,
		TrendADX:           series(60, 32),
		TrendTimeframeUsed: types.TimeframeH4,
	}
}

func newGate() *preflight.Gate {
	return preflight.NewGate(zap.NewNop(), gates.NewVolatilityGate(zap.NewNop(), gates.DefaultVolatilityConfig()))
}

func TestRunPasses(t *testing.T) {
	gate := newGate()
	result := gate.Run(testBundle(120), preflight.Requirements{
		MinBars:        100,
		RequiredSeries: []string{indicators.SeriesRSI, indicators.SeriesATR},
		Type:           gates.TypeMeanReversion,
	})
	if !result.Passed {
		t.Fatalf("Expected pass, got rejection: %s", result.RejectionReason)
	}
	if result.Trend == nil {
		t.Fatal("Expected trend analysis")
	}
	if result.Trend.Direction != types.DirectionLong {
		t.Errorf("Expected bullish trend read, got %s", result.Trend.Direction)
	}
	if result.Trend.Strength != preflight.TrendStrong {
		t.Errorf("Expected strong trend at ADX 32, got %s", result.Trend.Strength)
	}
}

func TestRunRejectsInsufficientBars(t *testing.T) {
	gate := newGate()
	result := gate.Run(testBundle(50), preflight.Requirements{
		MinBars: 100,
		Type:    gates.TypeMomentum,
	})
	if result.Passed {
		t.Error("Expected rejection for insufficient bars")
	}
}

func TestRunRejectsUndefinedTail(t *testing.T) {
	bundle := testBundle(120)
	bundle.RSI[len(bundle.RSI)-2] = math.NaN()

	gate := newGate()
	result := gate.Run(bundle, preflight.Requirements{
		MinBars:        100,
		RequiredSeries: []string{indicators.SeriesRSI},
		Type:           gates.TypeMomentum,
	})
	if result.Passed {
		t.Error("Expected rejection for undefined tail values")
	}
}

func TestRunRejectsMisalignedSeries(t *testing.T) {
	bundle := testBundle(120)
	bundle.RSI = bundle.RSI[:100]

	gate := newGate()
	result := gate.Run(bundle, preflight.Requirements{
		MinBars: 50,
		Type:    gates.TypeMomentum,
	})
	if result.Passed {
		t.Error("Expected rejection for misaligned series")
	}
}

func TestAdjustForDirectionAligned(t *testing.T) {
	gate := newGate()
	result := gate.Run(testBundle(120), preflight.Requirements{
		MinBars: 100,
		Type:    gates.TypeTrend,
	})

	adjusted, allowed := result.AdjustForDirection(60, types.DirectionLong, gates.TypeTrend)
	if !allowed || adjusted != 70 {
		t.Errorf("Aligned direction: expected (70, true), got (%d, %v)", adjusted, allowed)
	}
}

func TestAdjustForDirectionCounterTrend(t *testing.T) {
	gate := newGate()
	result := gate.Run(testBundle(120), preflight.Requirements{
		MinBars: 100,
		Type:    gates.TypeTrend,
	})

	// Trend/momentum: counter-trend is rejected outright.
	if _, allowed := result.AdjustForDirection(80, types.DirectionShort, gates.TypeTrend); allowed {
		t.Error("Counter-trend must reject for trend strategies")
	}
	if _, allowed := result.AdjustForDirection(80, types.DirectionShort, gates.TypeMomentum); allowed {
		t.Error("Counter-trend must reject for momentum strategies")
	}

	// Mean reversion: counter-trend halves confidence unless a strong
	// trend in an expansion regime rejects it.
	adjusted, allowed := result.AdjustForDirection(80, types.DirectionShort, gates.TypeMeanReversion)
	if allowed && adjusted != 40 {
		t.Errorf("Counter-trend MR should halve confidence, got %d", adjusted)
	}
}

func TestAnalyzeTrendNoTrendSet(t *testing.T) {
	bundle := testBundle(120)
	bundle.TrendBars = nil
	if preflight.AnalyzeTrend(bundle) != nil {
		t.Error("Expected nil analysis without trend bars")
	}
}
