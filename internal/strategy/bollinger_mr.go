package strategy

import (
	"math"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/decision"
	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/internal/preflight"
	"github.com/quantarc/signal-engine/pkg/types"
)

// Bollinger-MR confidence weights.
const (
	bbTouchPoints      = 25
	bbRejectionPoints  = 20
	bbRSIExtremePoints = 15
	bbFavorableRR      = 10
)

// BollingerMR fades Bollinger band touches back toward the middle band.
type BollingerMR struct {
	logger  *zap.Logger
	gate    *preflight.Gate
	builder *decision.Builder

	rsiOversold   float64
	rsiOverbought float64
	minRRToMiddle float64
	atrStopMult   float64
	swingLookback int
}

// NewBollingerMR creates the Bollinger mean-reversion strategy.
func NewBollingerMR(logger *zap.Logger, gate *preflight.Gate, builder *decision.Builder) *BollingerMR {
	return &BollingerMR{
		logger:        logger,
		gate:          gate,
		builder:       builder,
		rsiOversold:   35,
		rsiOverbought: 65,
		minRRToMiddle: 1.5,
		atrStopMult:   1.0,
		swingLookback: 5,
	}
}

// Meta implements Strategy.
func (s *BollingerMR) Meta() Meta {
	return Meta{
		ID:             "bollinger-mr",
		Name:           "Bollinger Mean Reversion",
		Description:    "Fades closes at the outer Bollinger bands with rejection-candle and RSI confirmation",
		Style:          types.StyleIntraday,
		Type:           gates.TypeMeanReversion,
		WinRate:        0.62,
		AvgRR:          1.6,
		SignalsPerWeek: 4,
		RequiredIndicators: []string{
			indicators.SeriesBBUpper, indicators.SeriesBBMiddle, indicators.SeriesBBLower,
			indicators.SeriesRSI, indicators.SeriesATR,
		},
		TrendTimeframe: types.TimeframeH4,
		EntryTimeframe: types.TimeframeH1,
		MinBars:        60,
		Version:        "1.2.0",
	}
}

// Analyze implements Strategy.
func (s *BollingerMR) Analyze(bundle *indicators.Bundle, settings types.UserSettings) *types.Decision {
	meta := s.Meta()
	pre := s.gate.Run(bundle, preflight.Requirements{
		MinBars:        meta.MinBars,
		RequiredSeries: meta.RequiredIndicators,
		Type:           meta.Type,
	})
	if !pre.Passed {
		return nil
	}

	idx := signalIndex(bundle)
	bar := bundle.Bars[idx]
	entry := entryPrice(bundle)

	lower, okL := at(bundle.BBLower, idx)
	middle, okM := at(bundle.BBMiddle, idx)
	upper, okU := at(bundle.BBUpper, idx)
	rsi, okR := at(bundle.RSI, idx)
	atr, okA := at(bundle.ATR, idx)
	if !okL || !okM || !okU || !okR || !okA {
		return nil
	}

	var direction types.Direction
	confidence := 0
	var triggers []string
	var reasons []types.ReasonCode

	switch {
	case bar.Low <= lower:
		direction = types.DirectionLong
		confidence += bbTouchPoints
		triggers = append(triggers, "signal bar touched lower Bollinger band")
		reasons = append(reasons, types.ReasonBBTouch)

		if isBullishRejection(bar) {
			confidence += bbRejectionPoints
			triggers = append(triggers, "bullish rejection candle at the band")
			reasons = append(reasons, types.ReasonRejectionCandle)
		}
		if rsi <= s.rsiOversold {
			confidence += bbRSIExtremePoints
			triggers = append(triggers, "RSI oversold")
			reasons = append(reasons, types.ReasonRSIExtreme)
		}

	case bar.High >= upper:
		direction = types.DirectionShort
		confidence += bbTouchPoints
		triggers = append(triggers, "signal bar touched upper Bollinger band")
		reasons = append(reasons, types.ReasonBBTouch)

		if isBearishRejection(bar) {
			confidence += bbRejectionPoints
			triggers = append(triggers, "bearish rejection candle at the band")
			reasons = append(reasons, types.ReasonRejectionCandle)
		}
		if rsi >= s.rsiOverbought {
			confidence += bbRSIExtremePoints
			triggers = append(triggers, "RSI overbought")
			reasons = append(reasons, types.ReasonRSIExtreme)
		}

	default:
		return nil
	}

	stop := decision.StopFromSwing(direction, bundle.Bars[:idx+1], entry, atr, s.atrStopMult, s.swingLookback)
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return nil
	}

	// Target the middle band when it offers enough reward, otherwise fall
	// back to the builder's RR target.
	takeProfit := 0.0
	tpSource := ""
	if rrToMiddle := math.Abs(middle-entry) / risk; rrToMiddle >= s.minRRToMiddle {
		takeProfit = middle
		tpSource = "middle_band"
		confidence += bbFavorableRR
		triggers = append(triggers, "favorable reward to the middle band")
		reasons = append(reasons, types.ReasonFavorableRR)
	}

	adjusted, allowed := pre.AdjustForDirection(confidence, direction, gates.TypeMeanReversion)
	if !allowed {
		return nil
	}
	trendAligned := pre.Trend != nil && pre.Trend.Direction == direction
	if trendAligned {
		reasons = append(reasons, types.ReasonTrendAligned)
	} else if pre.Trend != nil && pre.Trend.Direction != types.DirectionNone {
		reasons = append(reasons, types.ReasonCounterTrend)
	}

	return s.builder.Build(decision.Input{
		Symbol:          bundle.Symbol,
		StrategyID:      meta.ID,
		StrategyName:    meta.Name,
		Style:           meta.Style,
		Direction:       direction,
		Entry:           entry,
		StopLoss:        stop,
		TakeProfit:      takeProfit,
		TPSource:        tpSource,
		Confidence:      adjusted,
		RRTarget:        meta.AvgRR,
		Triggers:        triggers,
		ReasonCodes:     reasons,
		PreflightStrong: pre.Strong,
		TrendAligned:    trendAligned,
		Volatility:      pre.Volatility,
		Settings:        settings,
		Now:             bundle.Bars[len(bundle.Bars)-1].Timestamp,
	})
}
