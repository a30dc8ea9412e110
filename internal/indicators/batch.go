package indicators

import (
	"context"
	"fmt"

	"github.com/quantarc/signal-engine/internal/marketdata"
	"github.com/quantarc/signal-engine/pkg/types"
)

// batchGroup is one provider call shared by the series it yields.
type batchGroup struct {
	key      string            // indicator segment of the batch requestId
	endpoint string
	params   map[string]string
	fields   map[string]string // series name -> response field
}

var entryGroups = []batchGroup{
	{"ohlcv", "time_series", nil, nil},
	{"ema8", "ema", map[string]string{"time_period": "8"}, map[string]string{SeriesEMA8: "ema"}},
	{"ema20", "ema", map[string]string{"time_period": "20"}, map[string]string{SeriesEMA20: "ema"}},
	{"ema21", "ema", map[string]string{"time_period": "21"}, map[string]string{SeriesEMA21: "ema"}},
	{"ema50", "ema", map[string]string{"time_period": "50"}, map[string]string{SeriesEMA50: "ema"}},
	{"ema55", "ema", map[string]string{"time_period": "55"}, map[string]string{SeriesEMA55: "ema"}},
	{"ema200", "ema", map[string]string{"time_period": "200"}, map[string]string{SeriesEMA200: "ema"}},
	{"sma20", "sma", map[string]string{"time_period": "20"}, map[string]string{SeriesSMA20: "sma"}},
	{"rsi", "rsi", map[string]string{"time_period": "14"}, map[string]string{SeriesRSI: "rsi"}},
	{"stoch", "stoch", nil, map[string]string{SeriesStochK: "slow_k", SeriesStochD: "slow_d"}},
	{"willr", "willr", map[string]string{"time_period": "14"}, map[string]string{SeriesWilliams: "willr"}},
	{"cci", "cci", map[string]string{"time_period": "20"}, map[string]string{SeriesCCI: "cci"}},
	{"bbands", "bbands", map[string]string{"time_period": "20", "sd": "2"}, map[string]string{
		SeriesBBUpper:  "upper_band",
		SeriesBBMiddle: "middle_band",
		SeriesBBLower:  "lower_band",
	}},
	{"atr", "atr", map[string]string{"time_period": "14"}, map[string]string{SeriesATR: "atr"}},
	{"adx", "adx", map[string]string{"time_period": "14"}, map[string]string{SeriesADX: "adx"}},
	{"macd", "macd", nil, map[string]string{
		SeriesMACD:     "macd",
		SeriesMACDSig:  "macd_signal",
		SeriesMACDHist: "macd_hist",
	}},
	{"obv", "obv", nil, map[string]string{SeriesOBV: "obv"}},
}

var trendGroups = []batchGroup{
	{"trend_ohlcv", "time_series", nil, nil},
	{"trend_ema200", "ema", map[string]string{"time_period": "200"}, map[string]string{SeriesEMA200: "ema"}},
	{"trend_adx", "adx", map[string]string{"time_period": "14"}, map[string]string{SeriesADX: "adx"}},
}

// BatchRequests builds the one-shot batch request map covering every symbol
// in the scan, restricted to the indicator groups in required (nil means
// the full suite).
func BatchRequests(client *marketdata.Client, symbols []string, style types.TradeStyle, required map[string]bool) map[string]marketdata.BatchRequest {
	entryTF := EntryTimeframe(style)
	trendTF := TrendTimeframe(style)

	requests := make(map[string]marketdata.BatchRequest)
	for _, symbol := range symbols {
		for _, group := range entryGroups {
			if required != nil && group.key != "ohlcv" && !groupRequired(group, required) {
				continue
			}
			id := marketdata.BatchRequestID(symbol, group.key, entryTF)
			requests[id] = marketdata.BatchRequest{
				URL: client.BatchURL(symbol, entryTF, group.endpoint, group.params, entryBarCount),
			}
		}
		for _, group := range trendGroups {
			id := marketdata.BatchRequestID(symbol, group.key, trendTF)
			requests[id] = marketdata.BatchRequest{
				URL: client.BatchURL(symbol, trendTF, group.endpoint, group.params, trendBarCount),
			}
		}
	}
	return requests
}

func groupRequired(group batchGroup, required map[string]bool) bool {
	for series := range group.fields {
		if required[series] {
			return true
		}
	}
	return false
}

// AssembleFromResults builds a bundle for one symbol out of a completed
// batch. Missing or failed entry bars are fatal for the symbol; failed
// indicator groups accumulate in Errors. A failed preferred-trend set falls
// back to direct D1 fetches through source.
func (a *Assembler) AssembleFromResults(ctx context.Context, symbol string, style types.TradeStyle, results map[string]*marketdata.BatchResult) (*Bundle, error) {
	entryTF := EntryTimeframe(style)
	trendTF := TrendTimeframe(style)

	bundle := &Bundle{
		Symbol:         symbol,
		Style:          style,
		EntryTimeframe: entryTF,
	}

	barsResult := results[marketdata.BatchRequestID(symbol, "ohlcv", entryTF)]
	if barsResult == nil || barsResult.Err != nil || len(barsResult.Bars) == 0 {
		return nil, fmt.Errorf("batch bars missing for %s %s", symbol, entryTF)
	}
	bundle.Bars = barsResult.Bars

	for _, group := range entryGroups {
		if group.key == "ohlcv" {
			continue
		}
		result := results[marketdata.BatchRequestID(symbol, group.key, entryTF)]
		if result == nil {
			continue // pruned from the fetch set
		}
		if result.Err != nil {
			bundle.Errors = append(bundle.Errors, fmt.Sprintf("%s: %v", group.key, result.Err))
			continue
		}
		for seriesName, field := range group.fields {
			assignSeries(bundle, seriesName, alignScalarBatch(bundle.Bars, result.Series, field))
		}
	}

	a.assembleTrendFromResults(ctx, bundle, trendTF, results)
	return bundle, nil
}

func (a *Assembler) assembleTrendFromResults(ctx context.Context, bundle *Bundle, trendTF types.Timeframe, results map[string]*marketdata.BatchResult) {
	barsResult := results[marketdata.BatchRequestID(bundle.Symbol, "trend_ohlcv", trendTF)]
	emaResult := results[marketdata.BatchRequestID(bundle.Symbol, "trend_ema200", trendTF)]
	adxResult := results[marketdata.BatchRequestID(bundle.Symbol, "trend_adx", trendTF)]

	ok := barsResult != nil && barsResult.Err == nil && len(barsResult.Bars) > 0 &&
		emaResult != nil && emaResult.Err == nil &&
		adxResult != nil && adxResult.Err == nil

	if ok {
		bundle.TrendBars = barsResult.Bars
		bundle.TrendEMA200 = alignScalarBatch(barsResult.Bars, emaResult.Series, "ema")
		bundle.TrendADX = alignScalarBatch(barsResult.Bars, adxResult.Series, "adx")
		bundle.TrendTimeframeUsed = trendTF
		return
	}

	if trendTF == types.TimeframeH4 && a.tryTrend(ctx, bundle, types.TimeframeD1) {
		bundle.TrendTimeframeUsed = types.TimeframeD1
		bundle.TrendFallbackUsed = true
		return
	}

	bundle.Errors = append(bundle.Errors, fmt.Sprintf("trend %s unavailable in batch", trendTF))
}

func alignScalarBatch(bars []types.Bar, series []marketdata.SeriesValue, field string) []float64 {
	return alignScalar(bars, series, field)
}
