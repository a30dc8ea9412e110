// Package preflight validates a bundle before a strategy is allowed to
// score it: bar depth, ATR finiteness, required-series alignment, the
// higher-timeframe trend read, and the volatility regime.
package preflight

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/pkg/types"
)

// finiteTail is the minimum number of trailing values every required series
// must have defined.
const finiteTail = 5

// TrendStrength grades the higher-timeframe trend.
type TrendStrength string

const (
	TrendStrong   TrendStrength = "strong"
	TrendModerate TrendStrength = "moderate"
	TrendWeak     TrendStrength = "weak"
)

// TrendAnalysis is the higher-timeframe trend read.
type TrendAnalysis struct {
	Direction types.Direction `json:"direction"`
	Strength  TrendStrength   `json:"strength"`
	Timeframe types.Timeframe `json:"timeframe"`
	Fallback  bool            `json:"fallback"`
	ADX       float64         `json:"adx"`
	EMASlope  float64         `json:"emaSlope"`
}

// Requirements declares what a strategy needs from the bundle.
type Requirements struct {
	MinBars        int
	RequiredSeries []string
	Type           gates.StrategyType
}

// Result is the pre-flight verdict. The trend read's effect on confidence is
// applied later through AdjustForDirection once the strategy knows its
// candidate direction.
type Result struct {
	Passed          bool
	Strong          bool // strong trend read backing the pass
	Trend           *TrendAnalysis
	Volatility      *gates.Assessment
	RejectionReason string
}

// Gate runs pre-flight validation. Run is pure over the bundle.
type Gate struct {
	logger     *zap.Logger
	volatility *gates.VolatilityGate
}

// NewGate creates the pre-flight gate.
func NewGate(logger *zap.Logger, volatility *gates.VolatilityGate) *Gate {
	return &Gate{logger: logger, volatility: volatility}
}

// Run validates the bundle against a strategy's requirements.
func (g *Gate) Run(bundle *indicators.Bundle, req Requirements) Result {
	if len(bundle.Bars) < req.MinBars {
		return reject(fmt.Sprintf("insufficient bars: %d < %d", len(bundle.Bars), req.MinBars))
	}

	if misaligned := bundle.CheckAlignment(); len(misaligned) > 0 {
		return reject(fmt.Sprintf("misaligned series: %v", misaligned))
	}

	signalIdx := len(bundle.Bars) - 2
	if len(bundle.ATR) != len(bundle.Bars) {
		return reject("atr series missing")
	}
	atr := bundle.ATR[signalIdx]
	if !indicators.IsDefined(atr) || atr <= 0 {
		return reject("atr undefined or non-positive at signal bar")
	}

	for _, name := range req.RequiredSeries {
		series := bundle.Series(name)
		if series == nil {
			return reject(fmt.Sprintf("required series %s missing", name))
		}
		if _, ok := indicators.LastDefined(series, finiteTail); !ok {
			return reject(fmt.Sprintf("required series %s has undefined tail", name))
		}
	}

	assessment, err := g.volatility.Assess(bundle)
	if err != nil {
		return reject(err.Error())
	}
	if allowed, reason := g.volatility.Allows(assessment, req.Type); !allowed {
		return reject(reason)
	}

	result := Result{Passed: true, Volatility: assessment}

	if req.Type == gates.TypeTrend || req.Type == gates.TypeMomentum || req.Type == gates.TypeMeanReversion {
		trend := AnalyzeTrend(bundle)
		if trend == nil {
			return reject("trend analysis unavailable")
		}
		result.Trend = trend
		result.Strong = trend.Strength == TrendStrong && trend.Direction != types.DirectionNone
	}

	return result
}

// AdjustForDirection folds the trend read into a candidate direction's
// confidence. For trend/momentum strategies counter-trend signals are
// rejected outright; for mean-reversion counter-trend halves confidence and
// strong counter-trend rejects.
func (r Result) AdjustForDirection(confidence int, direction types.Direction, st gates.StrategyType) (int, bool) {
	if r.Trend == nil || r.Trend.Direction == types.DirectionNone {
		return confidence, true
	}

	if r.Trend.Direction == direction {
		return confidence + 10, true
	}

	switch st {
	case gates.TypeTrend, gates.TypeMomentum:
		return 0, false
	case gates.TypeMeanReversion:
		if r.Trend.Strength == TrendStrong && r.Volatility != nil && r.Volatility.Regime == gates.RegimeExpansion {
			return 0, false
		}
		return confidence / 2, true
	}
	return confidence, true
}

func reject(reason string) Result {
	return Result{Passed: false, RejectionReason: reason}
}

// AnalyzeTrend infers direction from the trend timeframe's EMA-200 slope,
// price location and ADX. Returns nil when the trend set is unusable.
func AnalyzeTrend(bundle *indicators.Bundle) *TrendAnalysis {
	if !bundle.HasTrend() {
		return nil
	}

	bars := bundle.TrendBars
	ema := bundle.TrendEMA200
	adx := bundle.TrendADX

	last := len(bars) - 1
	if last < 10 {
		return nil
	}

	emaNow := ema[last]
	emaThen := ema[last-10]
	adxNow := adx[last]
	if !indicators.IsDefined(emaNow) || !indicators.IsDefined(emaThen) || !indicators.IsDefined(adxNow) {
		return nil
	}

	slope := (emaNow - emaThen) / 10
	price := bars[last].Close

	analysis := &TrendAnalysis{
		Timeframe: bundle.TrendTimeframeUsed,
		Fallback:  bundle.TrendFallbackUsed,
		ADX:       adxNow,
		EMASlope:  slope,
	}

	switch {
	case price > emaNow && slope > 0:
		analysis.Direction = types.DirectionLong
	case price < emaNow && slope < 0:
		analysis.Direction = types.DirectionShort
	default:
		analysis.Direction = types.DirectionNone
	}

	switch {
	case adxNow >= 30:
		analysis.Strength = TrendStrong
	case adxNow >= 20:
		analysis.Strength = TrendModerate
	default:
		analysis.Strength = TrendWeak
	}

	return analysis
}
