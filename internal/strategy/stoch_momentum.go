package strategy

import (
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/decision"
	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/internal/preflight"
	"github.com/quantarc/signal-engine/pkg/types"
)

// Stoch-momentum confidence weights.
const (
	stochCrossPoints   = 25
	stochRSIPoints     = 20
	stochWillRPoints   = 15
	stochOBVPoints     = 10
	stochADXPoints     = 10
)

// StochMomentum trades stochastic crosses out of extreme zones with RSI,
// Williams %R, OBV and ADX confirmation. When both sides could fire, the
// side with strictly more confirmations wins; a tie yields no trade.
type StochMomentum struct {
	logger  *zap.Logger
	gate    *preflight.Gate
	builder *decision.Builder

	oversold   float64
	overbought float64
	minADX     float64
}

// NewStochMomentum creates the stochastic momentum strategy.
func NewStochMomentum(logger *zap.Logger, gate *preflight.Gate, builder *decision.Builder) *StochMomentum {
	return &StochMomentum{
		logger:     logger,
		gate:       gate,
		builder:    builder,
		oversold:   20,
		overbought: 80,
		minADX:     20,
	}
}

// Meta implements Strategy.
func (s *StochMomentum) Meta() Meta {
	return Meta{
		ID:             "stoch-momentum",
		Name:           "Stochastic Momentum",
		Description:    "Trades stochastic crosses out of extremes with multi-oscillator confirmation",
		Style:          types.StyleIntraday,
		Type:           gates.TypeMomentum,
		WinRate:        0.55,
		AvgRR:          2.0,
		SignalsPerWeek: 6,
		RequiredIndicators: []string{
			indicators.SeriesStochK, indicators.SeriesStochD, indicators.SeriesRSI,
			indicators.SeriesWilliams, indicators.SeriesOBV, indicators.SeriesADX,
			indicators.SeriesATR,
		},
		TrendTimeframe: types.TimeframeH4,
		EntryTimeframe: types.TimeframeH1,
		MinBars:        80,
		Version:        "1.1.0",
	}
}

type sideScore struct {
	points        int
	confirmations int
	triggers      []string
	reasons       []types.ReasonCode
}

func (sc *sideScore) add(points int, trigger string, reason types.ReasonCode) {
	sc.points += points
	sc.confirmations++
	sc.triggers = append(sc.triggers, trigger)
	sc.reasons = append(sc.reasons, reason)
}

// Analyze implements Strategy.
func (s *StochMomentum) Analyze(bundle *indicators.Bundle, settings types.UserSettings) *types.Decision {
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
	entry := entryPrice(bundle)

	_, okK := at(bundle.StochK, idx)
	_, okD := at(bundle.StochD, idx)
	rsi, okR := at(bundle.RSI, idx)
	willr, okW := at(bundle.Williams, idx)
	adx, okX := at(bundle.ADX, idx)
	atr, okA := at(bundle.ATR, idx)
	if !okK || !okD || !okR || !okW || !okX || !okA {
		return nil
	}

	long := &sideScore{}
	short := &sideScore{}

	if crossedAbove(bundle.StochK, bundle.StochD, idx) && bundle.StochD[idx] < s.oversold+10 {
		long.add(stochCrossPoints, "stochastic crossed up out of the oversold zone", types.ReasonStochCross)
	}
	if crossedBelow(bundle.StochK, bundle.StochD, idx) && bundle.StochD[idx] > s.overbought-10 {
		short.add(stochCrossPoints, "stochastic crossed down out of the overbought zone", types.ReasonStochCross)
	}

	if rsi > 50 && rising(bundle.RSI, idx, 3) {
		long.add(stochRSIPoints, "RSI rising through the midline", types.ReasonRSIExtreme)
	}
	if rsi < 50 && falling(bundle.RSI, idx, 3) {
		short.add(stochRSIPoints, "RSI falling through the midline", types.ReasonRSIExtreme)
	}

	if willr > -80 && rising(bundle.Williams, idx, 2) {
		long.add(stochWillRPoints, "Williams %R recovering from oversold", types.ReasonWilliamsRExtreme)
	}
	if willr < -20 && falling(bundle.Williams, idx, 2) {
		short.add(stochWillRPoints, "Williams %R rolling over from overbought", types.ReasonWilliamsRExtreme)
	}

	if rising(bundle.OBV, idx, 3) {
		long.add(stochOBVPoints, "OBV confirming accumulation", types.ReasonOBVConfirmation)
	}
	if falling(bundle.OBV, idx, 3) {
		short.add(stochOBVPoints, "OBV confirming distribution", types.ReasonOBVConfirmation)
	}

	if adx >= s.minADX {
		long.add(stochADXPoints, "ADX shows tradeable strength", types.ReasonADXStrength)
		short.add(stochADXPoints, "ADX shows tradeable strength", types.ReasonADXStrength)
	}

	// Strictly more confirmations wins; a tie is no trade.
	var direction types.Direction
	var winner *sideScore
	switch {
	case long.confirmations > short.confirmations:
		direction, winner = types.DirectionLong, long
	case short.confirmations > long.confirmations:
		direction, winner = types.DirectionShort, short
	default:
		return nil
	}

	adjusted, allowed := pre.AdjustForDirection(winner.points, direction, gates.TypeMomentum)
	if !allowed {
		return nil
	}
	trendAligned := pre.Trend != nil && pre.Trend.Direction == direction

	stop := decision.StopFromSwing(direction, bundle.Bars[:idx+1], entry, atr, 1.2, 8)

	reasons := winner.reasons
	if trendAligned {
		reasons = append(reasons, types.ReasonTrendAligned)
	}

	return s.builder.Build(decision.Input{
		Symbol:          bundle.Symbol,
		StrategyID:      meta.ID,
		StrategyName:    meta.Name,
		Style:           meta.Style,
		Direction:       direction,
		Entry:           entry,
		StopLoss:        stop,
		Confidence:      adjusted,
		RRTarget:        meta.AvgRR,
		Triggers:        winner.triggers,
		ReasonCodes:     reasons,
		PreflightStrong: pre.Strong,
		TrendAligned:    trendAligned,
		Volatility:      pre.Volatility,
		Settings:        settings,
		Now:             bundle.Bars[len(bundle.Bars)-1].Timestamp,
	})
}
