// Package indicators assembles the per-symbol indicator bundle strategies
// consume: entry-timeframe bars plus the aligned indicator suite, and the
// higher-timeframe trend series with D1 fallback.
package indicators

import (
	"math"

	"github.com/quantarc/signal-engine/pkg/types"
)

// Indicator series names used for strategy requirements and batch ids.
const (
	SeriesEMA8     = "ema8"
	SeriesEMA20    = "ema20"
	SeriesEMA21    = "ema21"
	SeriesEMA50    = "ema50"
	SeriesEMA55    = "ema55"
	SeriesEMA200   = "ema200"
	SeriesSMA20    = "sma20"
	SeriesRSI      = "rsi"
	SeriesStochK   = "stoch_k"
	SeriesStochD   = "stoch_d"
	SeriesWilliams = "willr"
	SeriesCCI      = "cci"
	SeriesBBUpper  = "bb_upper"
	SeriesBBMiddle = "bb_middle"
	SeriesBBLower  = "bb_lower"
	SeriesATR      = "atr"
	SeriesADX      = "adx"
	SeriesMACD     = "macd"
	SeriesMACDSig  = "macd_signal"
	SeriesMACDHist = "macd_hist"
	SeriesOBV      = "obv"
)

// Bundle is the per-symbol aggregate of entry-timeframe bars and indicators
// plus the higher-timeframe trend series. All scalar series are aligned to
// Bars: length matches, warmup positions hold NaN.
type Bundle struct {
	Symbol         string
	Style          types.TradeStyle
	EntryTimeframe types.Timeframe

	Bars []types.Bar

	EMA8     []float64
	EMA20    []float64
	EMA21    []float64
	EMA50    []float64
	EMA55    []float64
	EMA200   []float64
	SMA20    []float64
	RSI      []float64
	StochK   []float64
	StochD   []float64
	Williams []float64
	CCI      []float64
	BBUpper  []float64
	BBMiddle []float64
	BBLower  []float64
	ATR      []float64
	ADX      []float64
	MACD     []float64
	MACDSig  []float64
	MACDHist []float64
	OBV      []float64

	TrendBars          []types.Bar
	TrendEMA200        []float64
	TrendADX           []float64
	TrendTimeframeUsed types.Timeframe
	TrendFallbackUsed  bool

	Errors []string
}

// Series returns the named scalar series, or nil for unknown names.
func (b *Bundle) Series(name string) []float64 {
	switch name {
	case SeriesEMA8:
		return b.EMA8
	case SeriesEMA20:
		return b.EMA20
	case SeriesEMA21:
		return b.EMA21
	case SeriesEMA50:
		return b.EMA50
	case SeriesEMA55:
		return b.EMA55
	case SeriesEMA200:
		return b.EMA200
	case SeriesSMA20:
		return b.SMA20
	case SeriesRSI:
		return b.RSI
	case SeriesStochK:
		return b.StochK
	case SeriesStochD:
		return b.StochD
	case SeriesWilliams:
		return b.Williams
	case SeriesCCI:
		return b.CCI
	case SeriesBBUpper:
		return b.BBUpper
	case SeriesBBMiddle:
		return b.BBMiddle
	case SeriesBBLower:
		return b.BBLower
	case SeriesATR:
		return b.ATR
	case SeriesADX:
		return b.ADX
	case SeriesMACD:
		return b.MACD
	case SeriesMACDSig:
		return b.MACDSig
	case SeriesMACDHist:
		return b.MACDHist
	case SeriesOBV:
		return b.OBV
	}
	return nil
}

// scalarSeries lists every aligned series for invariant checks.
func (b *Bundle) scalarSeries() map[string][]float64 {
	return map[string][]float64{
		SeriesEMA8:     b.EMA8,
		SeriesEMA20:    b.EMA20,
		SeriesEMA21:    b.EMA21,
		SeriesEMA50:    b.EMA50,
		SeriesEMA55:    b.EMA55,
		SeriesEMA200:   b.EMA200,
		SeriesSMA20:    b.SMA20,
		SeriesRSI:      b.RSI,
		SeriesStochK:   b.StochK,
		SeriesStochD:   b.StochD,
		SeriesWilliams: b.Williams,
		SeriesCCI:      b.CCI,
		SeriesBBUpper:  b.BBUpper,
		SeriesBBMiddle: b.BBMiddle,
		SeriesBBLower:  b.BBLower,
		SeriesATR:      b.ATR,
		SeriesADX:      b.ADX,
		SeriesMACD:     b.MACD,
		SeriesMACDSig:  b.MACDSig,
		SeriesMACDHist: b.MACDHist,
		SeriesOBV:      b.OBV,
	}
}

// CheckAlignment verifies that every populated scalar series matches the bar
// count. It returns the names of misaligned series.
func (b *Bundle) CheckAlignment() []string {
	var bad []string
	for name, series := range b.scalarSeries() {
		if series != nil && len(series) != len(b.Bars) {
			bad = append(bad, name)
		}
	}
	return bad
}

// HasTrend reports whether the higher-timeframe trend series are usable.
func (b *Bundle) HasTrend() bool {
	return len(b.TrendBars) > 0 && len(b.TrendEMA200) == len(b.TrendBars) && len(b.TrendADX) == len(b.TrendBars)
}

// IsDefined reports whether a series value is usable (not a warmup marker).
func IsDefined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LastDefined returns the last n values of the series when all of them are
// defined, or false when any is a warmup marker or the series is too short.
func LastDefined(series []float64, n int) ([]float64, bool) {
	if len(series) < n {
		return nil, false
	}
	tail := series[len(series)-n:]
	for _, v := range tail {
		if !IsDefined(v) {
			return nil, false
		}
	}
	return tail, true
}
