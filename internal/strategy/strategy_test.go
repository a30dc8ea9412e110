// Package strategy_test provides tests for the strategy kernel and the
// built-in strategies.
package strategy_test

import (
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/decision"
	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/internal/preflight"
	"github.com/quantarc/signal-engine/internal/sizing"
	"github.com/quantarc/signal-engine/internal/strategy"
	"github.com/quantarc/signal-engine/pkg/types"
)

func newKernel() (*preflight.Gate, *decision.Builder) {
	logger := zap.NewNop()
	gate := preflight.NewGate(logger, gates.NewVolatilityGate(logger, gates.DefaultVolatilityConfig()))
	builder := decision.NewBuilder(logger, sizing.NewSizer(logger))
	return gate, builder
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// reversionBundle builds the E1 fixture: 250 H1 bars for EURUSD where the
// signal bar tags the lower Bollinger band with a bullish rejection candle,
// RSI 32, and a rising H4 trend above its EMA-200.
func reversionBundle(trendUp bool) *indicators.Bundle {
	const n = 250
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      1.1000, High: 1.1012, Low: 1.0990, Close: 1.1005, Volume: 1000,
		}
	}

	// Signal bar: low tags the lower band, long lower wick, small body.
	signal := &bars[n-2]
	signal.Open = 1.0940
	signal.Close = 1.0955
	signal.High = 1.0958
	signal.Low = 1.0920

	// Entry bar: the forming bar whose open is the entry price.
	bars[n-1].Open = 1.0950
	bars[n-1].High = 1.0960
	bars[n-1].Low = 1.0945
	bars[n-1].Close = 1.0952

	rsi := flat(n, 50)
	rsi[n-2] = 32

	trendBars := make([]types.Bar, 250)
	trendEMA := make([]float64, 250)
	for i := range trendBars {
		var price, ema float64
		if trendUp {
			ema = 1.05 + 0.0005*float64(i)
			price = ema + 0.01
		} else {
			ema = 1.20 - 0.0005*float64(i)
			price = ema - 0.01
		}
		trendBars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * 4 * time.Hour),
			Open:      price, High: price + 0.002, Low: price - 0.002, Close: price, Volume: 100,
		}
		trendEMA[i] = ema
	}

	return &indicators.Bundle{
		Symbol:             "EURUSD",
		Style:              types.StyleIntraday,
		EntryTimeframe:     types.TimeframeH1,
		Bars:               bars,
		RSI:                rsi,
		ATR:                flat(n, 0.0020),
		BBUpper:            flat(n, 1.1080),
		BBMiddle:           flat(n, 1.1000),
		BBLower:            flat(n, 1.0920),
		TrendBars:          trendBars,
		TrendEMA200:        trendEMA,
		TrendADX:           flat(250, 32),
		TrendTimeframeUsed: types.TimeframeH4,
	}
}

func TestBollingerMRLongSignal(t *testing.T) {
	gate, builder := newKernel()
	strat := strategy.NewBollingerMR(zap.NewNop(), gate, builder)

	d := strat.Analyze(reversionBundle(true), types.DefaultUserSettings())
	if d == nil {
		t.Fatal("Expected a decision")
	}

	if d.Direction != types.DirectionLong {
		t.Errorf("Expected long, got %s", d.Direction)
	}
	if d.Confidence < 75 {
		t.Errorf("Expected confidence >= 75, got %d", d.Confidence)
	}
	if d.Grade != types.GradeA {
		t.Errorf("Expected grade A, got %s", d.Grade)
	}
	if d.Entry.Price != 1.0950 {
		t.Errorf("Entry should be the forming bar open, got %v", d.Entry.Price)
	}
	if d.StopLoss.Price > 1.0920 {
		t.Errorf("Stop %v should sit at or below the signal bar low", d.StopLoss.Price)
	}
	if d.TakeProfit.Price != 1.1000 {
		t.Errorf("Expected take profit at the middle band, got %v", d.TakeProfit.Price)
	}
	if d.TakeProfit.RR < 1.5 {
		t.Errorf("Expected RR >= 1.5, got %v", d.TakeProfit.RR)
	}
	if d.TakeProfitSource != "middle_band" {
		t.Errorf("Expected middle_band source, got %s", d.TakeProfitSource)
	}
}

func TestBollingerMRStrongCounterTrendSuppressed(t *testing.T) {
	gate, builder := newKernel()
	strat := strategy.NewBollingerMR(zap.NewNop(), gate, builder)

	// Same setup but the H4 trend is strongly bearish: the long gets its
	// confidence halved below the emission floor (or rejected outright).
	if d := strat.Analyze(reversionBundle(false), types.DefaultUserSettings()); d != nil {
		t.Errorf("Expected nil decision against a strong counter-trend, got confidence %d", d.Confidence)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	gate, builder := newKernel()
	strat := strategy.NewBollingerMR(zap.NewNop(), gate, builder)
	settings := types.DefaultUserSettings()

	a := strat.Analyze(reversionBundle(true), settings)
	b := strat.Analyze(reversionBundle(true), settings)
	if a == nil || b == nil {
		t.Fatal("Expected decisions from both runs")
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("Two runs over the same inputs must yield identical decisions")
	}
}

func TestOrderValidityInvariant(t *testing.T) {
	gate, builder := newKernel()
	settings := types.DefaultUserSettings()

	for _, strat := range []strategy.Strategy{
		strategy.NewBollingerMR(zap.NewNop(), gate, builder),
		strategy.NewCCIReversion(zap.NewNop(), gate, builder),
	} {
		d := strat.Analyze(reversionBundle(true), settings)
		if d == nil {
			continue
		}
		switch d.Direction {
		case types.DirectionLong:
			if !(d.StopLoss.Price < d.Entry.Price && d.Entry.Price < d.TakeProfit.Price) {
				t.Errorf("%s: long order invalid: SL %v entry %v TP %v",
					strat.Meta().ID, d.StopLoss.Price, d.Entry.Price, d.TakeProfit.Price)
			}
		case types.DirectionShort:
			if !(d.TakeProfit.Price < d.Entry.Price && d.Entry.Price < d.StopLoss.Price) {
				t.Errorf("%s: short order invalid: SL %v entry %v TP %v",
					strat.Meta().ID, d.StopLoss.Price, d.Entry.Price, d.TakeProfit.Price)
			}
		}
	}
}

func TestStochTieYieldsNoTrade(t *testing.T) {
	gate, builder := newKernel()
	strat := strategy.NewStochMomentum(zap.NewNop(), gate, builder)

	// Neutral oscillators: only the shared ADX confirmation fires on both
	// sides, producing a tie.
	bundle := reversionBundle(true)
	n := len(bundle.Bars)
	bundle.StochK = flat(n, 50)
	bundle.StochD = flat(n, 50)
	bundle.Williams = flat(n, -50)
	bundle.OBV = flat(n, 1000)
	bundle.ADX = flat(n, 25)

	if d := strat.Analyze(bundle, types.DefaultUserSettings()); d != nil {
		t.Errorf("Expected no-trade on tied confirmations, got %s %s", d.Direction, d.Grade)
	}
}

func TestRegistryLookupAndStyleFilter(t *testing.T) {
	gate, builder := newKernel()
	registry := strategy.DefaultRegistry(zap.NewNop(), gate, builder)

	if len(registry.List()) != 5 {
		t.Fatalf("Expected 5 built-in strategies, got %d", len(registry.List()))
	}
	if _, ok := registry.Get("bollinger-mr"); !ok {
		t.Error("bollinger-mr missing from registry")
	}

	for _, st := range registry.ByStyle(types.StyleSwing) {
		if st.Meta().Style != types.StyleSwing {
			t.Errorf("%s returned by swing filter with style %s", st.Meta().ID, st.Meta().Style)
		}
	}
}

func TestRequiredIndicatorUnion(t *testing.T) {
	gate, builder := newKernel()
	registry := strategy.DefaultRegistry(zap.NewNop(), gate, builder)

	union := registry.RequiredIndicators([]string{"bollinger-mr"})
	if !union[indicators.SeriesBBLower] || !union[indicators.SeriesRSI] {
		t.Error("Union missing bollinger-mr requirements")
	}
	if union[indicators.SeriesMACD] {
		t.Error("Union should not include indicators no selected strategy needs")
	}
}

func TestMetaDeclaresContract(t *testing.T) {
	gate, builder := newKernel()
	for _, st := range strategy.DefaultRegistry(zap.NewNop(), gate, builder).List() {
		meta := st.Meta()
		if meta.ID == "" || meta.Name == "" || meta.MinBars <= 0 || len(meta.RequiredIndicators) == 0 {
			t.Errorf("Incomplete meta for %+v", meta)
		}
		if meta.Style != types.StyleIntraday && meta.Style != types.StyleSwing {
			t.Errorf("%s: invalid style %s", meta.ID, meta.Style)
		}
	}
}
