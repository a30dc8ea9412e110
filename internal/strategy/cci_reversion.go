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

// CCI-reversion confidence weights.
const (
	cciExtremePoints   = 25
	cciRejectionPoints = 20
	cciWillRPoints     = 15
	cciBandPoints      = 10
	cciFavorableRR     = 10
)

// CCIReversion fades CCI extremes on the swing timeframe when the channel
// turns back, with Williams %R and Bollinger proximity confirmation.
type CCIReversion struct {
	logger  *zap.Logger
	gate    *preflight.Gate
	builder *decision.Builder

	extreme       float64
	minRRToMiddle float64
}

// NewCCIReversion creates the CCI reversion strategy.
func NewCCIReversion(logger *zap.Logger, gate *preflight.Gate, builder *decision.Builder) *CCIReversion {
	return &CCIReversion{
		logger:        logger,
		gate:          gate,
		builder:       builder,
		extreme:       100,
		minRRToMiddle: 1.5,
	}
}

// Meta implements Strategy.
func (s *CCIReversion) Meta() Meta {
	return Meta{
		ID:             "cci-reversion",
		Name:           "CCI Reversion",
		Description:    "Fades CCI extremes on the swing timeframe as the channel turns back",
		Style:          types.StyleSwing,
		Type:           gates.TypeMeanReversion,
		WinRate:        0.58,
		AvgRR:          1.8,
		SignalsPerWeek: 2,
		RequiredIndicators: []string{
			indicators.SeriesCCI, indicators.SeriesWilliams,
			indicators.SeriesBBUpper, indicators.SeriesBBMiddle, indicators.SeriesBBLower,
			indicators.SeriesATR,
		},
		TrendTimeframe: types.TimeframeD1,
		EntryTimeframe: types.TimeframeH4,
		MinBars:        60,
		Version:        "1.0.0",
	}
}

// Analyze implements Strategy.
func (s *CCIReversion) Analyze(bundle *indicators.Bundle, settings types.UserSettings) *types.Decision {
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

	cci, okC := at(bundle.CCI, idx)
	prevCCI, okP := at(bundle.CCI, idx-1)
	willr, okW := at(bundle.Williams, idx)
	lower, okL := at(bundle.BBLower, idx)
	middle, okM := at(bundle.BBMiddle, idx)
	upper, okU := at(bundle.BBUpper, idx)
	atr, okA := at(bundle.ATR, idx)
	if !okC || !okP || !okW || !okL || !okM || !okU || !okA {
		return nil
	}

	var direction types.Direction
	confidence := 0
	var triggers []string
	var reasons []types.ReasonCode

	switch {
	case cci < -s.extreme && cci > prevCCI:
		direction = types.DirectionLong
		confidence += cciExtremePoints
		triggers = append(triggers, "CCI turning up from an oversold extreme")
		reasons = append(reasons, types.ReasonCCIExtreme)

		if isBullishRejection(bar) {
			confidence += cciRejectionPoints
			triggers = append(triggers, "bullish rejection candle")
			reasons = append(reasons, types.ReasonRejectionCandle)
		}
		if willr < -80 {
			confidence += cciWillRPoints
			triggers = append(triggers, "Williams %R oversold")
			reasons = append(reasons, types.ReasonWilliamsRExtreme)
		}
		if bar.Low <= lower+(middle-lower)*0.2 {
			confidence += cciBandPoints
			triggers = append(triggers, "price stretched to the lower band")
			reasons = append(reasons, types.ReasonBBTouch)
		}

	case cci > s.extreme && cci < prevCCI:
		direction = types.DirectionShort
		confidence += cciExtremePoints
		triggers = append(triggers, "CCI turning down from an overbought extreme")
		reasons = append(reasons, types.ReasonCCIExtreme)

		if isBearishRejection(bar) {
			confidence += cciRejectionPoints
			triggers = append(triggers, "bearish rejection candle")
			reasons = append(reasons, types.ReasonRejectionCandle)
		}
		if willr > -20 {
			confidence += cciWillRPoints
			triggers = append(triggers, "Williams %R overbought")
			reasons = append(reasons, types.ReasonWilliamsRExtreme)
		}
		if bar.High >= upper-(upper-middle)*0.2 {
			confidence += cciBandPoints
			triggers = append(triggers, "price stretched to the upper band")
			reasons = append(reasons, types.ReasonBBTouch)
		}

	default:
		return nil
	}

	stop := decision.StopFromSwing(direction, bundle.Bars[:idx+1], entry, atr, 1.0, 6)
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return nil
	}

	takeProfit := 0.0
	tpSource := ""
	if rrToMiddle := math.Abs(middle-entry) / risk; rrToMiddle >= s.minRRToMiddle {
		takeProfit = middle
		tpSource = "middle_band"
		confidence += cciFavorableRR
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
