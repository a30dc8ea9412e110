package indicators

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/marketdata"
	"github.com/quantarc/signal-engine/pkg/types"
)

// Bar depths fetched per assembly.
const (
	entryBarCount = 500
	trendBarCount = 250
)

// indicatorSpec describes how one series is fetched and extracted.
type indicatorSpec struct {
	name     string            // internal series name
	endpoint string            // provider endpoint (path without slash)
	params   map[string]string // indicator query params
	field    string            // provider response field
}

// entrySpecs is the full entry-timeframe indicator suite.
var entrySpecs = []indicatorSpec{
	{SeriesEMA8, "ema", map[string]string{"time_period": "8"}, "ema"},
	{SeriesEMA20, "ema", map[string]string{"time_period": "20"}, "ema"},
	{SeriesEMA21, "ema", map[string]string{"time_period": "21"}, "ema"},
	{SeriesEMA50, "ema", map[string]string{"time_period": "50"}, "ema"},
	{SeriesEMA55, "ema", map[string]string{"time_period": "55"}, "ema"},
	{SeriesEMA200, "ema", map[string]string{"time_period": "200"}, "ema"},
	{SeriesSMA20, "sma", map[string]string{"time_period": "20"}, "sma"},
	{SeriesRSI, "rsi", map[string]string{"time_period": "14"}, "rsi"},
	{SeriesStochK, "stoch", nil, "slow_k"},
	{SeriesStochD, "stoch", nil, "slow_d"},
	{SeriesWilliams, "willr", map[string]string{"time_period": "14"}, "willr"},
	{SeriesCCI, "cci", map[string]string{"time_period": "20"}, "cci"},
	{SeriesBBUpper, "bbands", map[string]string{"time_period": "20", "sd": "2"}, "upper_band"},
	{SeriesBBMiddle, "bbands", map[string]string{"time_period": "20", "sd": "2"}, "middle_band"},
	{SeriesBBLower, "bbands", map[string]string{"time_period": "20", "sd": "2"}, "lower_band"},
	{SeriesATR, "atr", map[string]string{"time_period": "14"}, "atr"},
	{SeriesADX, "adx", map[string]string{"time_period": "14"}, "adx"},
	{SeriesMACD, "macd", nil, "macd"},
	{SeriesMACDSig, "macd", nil, "macd_signal"},
	{SeriesMACDHist, "macd", nil, "macd_hist"},
	{SeriesOBV, "obv", nil, "obv"},
}

// DataSource is the slice of the market-data client the assembler needs.
type DataSource interface {
	GetTimeSeries(ctx context.Context, symbol string, tf types.Timeframe, outputSize int) ([]types.Bar, error)
	GetIndicator(ctx context.Context, symbol string, tf types.Timeframe, indicator string, params map[string]string, outputSize int) ([]marketdata.SeriesValue, error)
}

// Assembler builds IndicatorBundles. Bars and series it produces are owned
// by the caller for the duration of one scan iteration.
type Assembler struct {
	logger *zap.Logger
	source DataSource
}

// NewAssembler creates an assembler over a data source.
func NewAssembler(logger *zap.Logger, source DataSource) *Assembler {
	return &Assembler{logger: logger, source: source}
}

// EntryTimeframe returns the entry interval for a style.
func EntryTimeframe(style types.TradeStyle) types.Timeframe {
	if style == types.StyleSwing {
		return types.TimeframeH4
	}
	return types.TimeframeH1
}

// TrendTimeframe returns the preferred trend interval for a style.
func TrendTimeframe(style types.TradeStyle) types.Timeframe {
	if style == types.StyleSwing {
		return types.TimeframeD1
	}
	return types.TimeframeH4
}

// Assemble fetches and aligns the full bundle for one symbol. Per-indicator
// errors accumulate in Bundle.Errors without aborting assembly; only a bar
// fetch failure is fatal.
func (a *Assembler) Assemble(ctx context.Context, symbol string, style types.TradeStyle) (*Bundle, error) {
	entryTF := EntryTimeframe(style)
	bundle := &Bundle{
		Symbol:         symbol,
		Style:          style,
		EntryTimeframe: entryTF,
	}

	bars, err := a.source.GetTimeSeries(ctx, symbol, entryTF, entryBarCount)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s bars: %w", symbol, entryTF, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("fetch %s %s bars: empty series", symbol, entryTF)
	}
	bundle.Bars = bars

	for _, spec := range entrySpecs {
		series, err := a.source.GetIndicator(ctx, symbol, entryTF, spec.endpoint, spec.params, entryBarCount)
		if err != nil {
			bundle.Errors = append(bundle.Errors, fmt.Sprintf("%s: %v", spec.name, err))
			a.logger.Warn("indicator fetch failed",
				zap.String("symbol", symbol),
				zap.String("indicator", spec.name),
				zap.Error(err),
			)
			continue
		}
		assignSeries(bundle, spec.name, alignScalar(bars, series, spec.field))
	}

	a.assembleTrend(ctx, bundle)
	return bundle, nil
}

// assembleTrend fetches the higher-timeframe trend set, retrying on D1 when
// any piece of the preferred H4 set fails.
func (a *Assembler) assembleTrend(ctx context.Context, bundle *Bundle) {
	preferred := TrendTimeframe(bundle.Style)

	if a.tryTrend(ctx, bundle, preferred) {
		bundle.TrendTimeframeUsed = preferred
		return
	}

	if preferred == types.TimeframeH4 {
		if a.tryTrend(ctx, bundle, types.TimeframeD1) {
			bundle.TrendTimeframeUsed = types.TimeframeD1
			bundle.TrendFallbackUsed = true
			a.logger.Info("trend timeframe fell back to D1", zap.String("symbol", bundle.Symbol))
			return
		}
	}

	bundle.Errors = append(bundle.Errors, "trend: all trend timeframes failed")
}

// tryTrend fetches bars, EMA-200 and ADX on one timeframe. All three must
// succeed for the set to be usable.
func (a *Assembler) tryTrend(ctx context.Context, bundle *Bundle, tf types.Timeframe) bool {
	bars, err := a.source.GetTimeSeries(ctx, bundle.Symbol, tf, trendBarCount)
	if err != nil || len(bars) == 0 {
		a.trendError(bundle, tf, "bars", err)
		return false
	}

	ema, err := a.source.GetIndicator(ctx, bundle.Symbol, tf, "ema", map[string]string{"time_period": "200"}, trendBarCount)
	if err != nil {
		a.trendError(bundle, tf, "ema200", err)
		return false
	}

	adx, err := a.source.GetIndicator(ctx, bundle.Symbol, tf, "adx", map[string]string{"time_period": "14"}, trendBarCount)
	if err != nil {
		a.trendError(bundle, tf, "adx", err)
		return false
	}

	bundle.TrendBars = bars
	bundle.TrendEMA200 = alignScalar(bars, ema, "ema")
	bundle.TrendADX = alignScalar(bars, adx, "adx")
	return true
}

func (a *Assembler) trendError(bundle *Bundle, tf types.Timeframe, part string, err error) {
	msg := fmt.Sprintf("trend %s %s failed", tf, part)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	bundle.Errors = append(bundle.Errors, msg)
}

// alignScalar aligns an indicator response to the bar series by timestamp.
// Positions with no sample (warmup) hold NaN, never zero.
func alignScalar(bars []types.Bar, series []marketdata.SeriesValue, field string) []float64 {
	byTime := make(map[time.Time]float64, len(series))
	for _, sv := range series {
		if v, ok := sv.Values[field]; ok {
			byTime[sv.Timestamp] = v
		}
	}

	aligned := make([]float64, len(bars))
	for i, bar := range bars {
		if v, ok := byTime[bar.Timestamp]; ok {
			aligned[i] = v
		} else {
			aligned[i] = math.NaN()
		}
	}
	return aligned
}

func assignSeries(b *Bundle, name string, series []float64) {
	switch name {
	case SeriesEMA8:
		b.EMA8 = series
	case SeriesEMA20:
		b.EMA20 = series
	case SeriesEMA21:
		b.EMA21 = series
	case SeriesEMA50:
		b.EMA50 = series
	case SeriesEMA55:
		b.EMA55 = series
	case SeriesEMA200:
		b.EMA200 = series
	case SeriesSMA20:
		b.SMA20 = series
	case SeriesRSI:
		b.RSI = series
	case SeriesStochK:
		b.StochK = series
	case SeriesStochD:
		b.StochD = series
	case SeriesWilliams:
		b.Williams = series
	case SeriesCCI:
		b.CCI = series
	case SeriesBBUpper:
		b.BBUpper = series
	case SeriesBBMiddle:
		b.BBMiddle = series
	case SeriesBBLower:
		b.BBLower = series
	case SeriesATR:
		b.ATR = series
	case SeriesADX:
		b.ADX = series
	case SeriesMACD:
		b.MACD = series
	case SeriesMACDSig:
		b.MACDSig = series
	case SeriesMACDHist:
		b.MACDHist = series
	case SeriesOBV:
		b.OBV = series
	}
}
