package strategy

import (
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/decision"
	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/internal/preflight"
	"github.com/quantarc/signal-engine/pkg/types"
)

// MACD-momentum confidence weights.
const (
	macdCrossPoints  = 25
	macdHistPoints   = 15
	macdEMAPoints    = 15
	macdVolumePoints = 10
	macdRSIPoints    = 10
)

// MACDMomentum trades MACD signal-line crosses on the entry timeframe with
// histogram, EMA-20, volume and RSI confirmation.
type MACDMomentum struct {
	logger  *zap.Logger
	gate    *preflight.Gate
	builder *decision.Builder

	volumeSurgeMult float64
}

// NewMACDMomentum creates the MACD momentum strategy.
func NewMACDMomentum(logger *zap.Logger, gate *preflight.Gate, builder *decision.Builder) *MACDMomentum {
	return &MACDMomentum{logger: logger, gate: gate, builder: builder, volumeSurgeMult: 1.5}
}

// Meta implements Strategy.
func (s *MACDMomentum) Meta() Meta {
	return Meta{
		ID:             "macd-momentum",
		Name:           "MACD Momentum",
		Description:    "Trades MACD signal-line crosses with histogram and volume confirmation",
		Style:          types.StyleIntraday,
		Type:           gates.TypeMomentum,
		WinRate:        0.52,
		AvgRR:          2.2,
		SignalsPerWeek: 5,
		RequiredIndicators: []string{
			indicators.SeriesMACD, indicators.SeriesMACDSig, indicators.SeriesMACDHist,
			indicators.SeriesEMA20, indicators.SeriesRSI, indicators.SeriesATR,
		},
		TrendTimeframe: types.TimeframeH4,
		EntryTimeframe: types.TimeframeH1,
		MinBars:        80,
		Version:        "1.0.2",
	}
}

// Analyze implements Strategy.
func (s *MACDMomentum) Analyze(bundle *indicators.Bundle, settings types.UserSettings) *types.Decision {
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

	macd, okM := at(bundle.MACD, idx)
	ema20, okE := at(bundle.EMA20, idx)
	rsi, okR := at(bundle.RSI, idx)
	atr, okA := at(bundle.ATR, idx)
	if !okM || !okE || !okR || !okA {
		return nil
	}

	var direction types.Direction
	confidence := 0
	var triggers []string
	var reasons []types.ReasonCode

	switch {
	// A cross below the zero line catches momentum turns early.
	case crossedAbove(bundle.MACD, bundle.MACDSig, idx) && macd < 0:
		direction = types.DirectionLong
		confidence += macdCrossPoints
		triggers = append(triggers, "MACD crossed above signal below zero")
		reasons = append(reasons, types.ReasonMACDCross)

		if rising(bundle.MACDHist, idx, 2) {
			confidence += macdHistPoints
			triggers = append(triggers, "MACD histogram expanding")
			reasons = append(reasons, types.ReasonMACDHistogram)
		}
		if bar.Close > ema20 {
			confidence += macdEMAPoints
			triggers = append(triggers, "price reclaimed EMA 20")
			reasons = append(reasons, types.ReasonEMACross)
		}
		if rsi >= 45 && rsi <= 65 {
			confidence += macdRSIPoints
			triggers = append(triggers, "RSI in the momentum band")
			reasons = append(reasons, types.ReasonRSIExtreme)
		}

	case crossedBelow(bundle.MACD, bundle.MACDSig, idx) && macd > 0:
		direction = types.DirectionShort
		confidence += macdCrossPoints
		triggers = append(triggers, "MACD crossed below signal above zero")
		reasons = append(reasons, types.ReasonMACDCross)

		if falling(bundle.MACDHist, idx, 2) {
			confidence += macdHistPoints
			triggers = append(triggers, "MACD histogram contracting")
			reasons = append(reasons, types.ReasonMACDHistogram)
		}
		if bar.Close < ema20 {
			confidence += macdEMAPoints
			triggers = append(triggers, "price lost EMA 20")
			reasons = append(reasons, types.ReasonEMACross)
		}
		if rsi >= 35 && rsi <= 55 {
			confidence += macdRSIPoints
			triggers = append(triggers, "RSI in the momentum band")
			reasons = append(reasons, types.ReasonRSIExtreme)
		}

	default:
		return nil
	}

	if surge, ok := volumeSurge(bundle.Bars, idx, s.volumeSurgeMult); ok && surge {
		confidence += macdVolumePoints
		triggers = append(triggers, "volume surge on the signal bar")
		reasons = append(reasons, types.ReasonVolumeSurge)
	}

	adjusted, allowed := pre.AdjustForDirection(confidence, direction, gates.TypeMomentum)
	if !allowed {
		return nil
	}
	trendAligned := pre.Trend != nil && pre.Trend.Direction == direction
	if trendAligned {
		reasons = append(reasons, types.ReasonTrendAligned)
	}

	stop := decision.StopFromSwing(direction, bundle.Bars[:idx+1], entry, atr, 1.2, 8)

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
		Triggers:        triggers,
		ReasonCodes:     reasons,
		PreflightStrong: pre.Strong,
		TrendAligned:    trendAligned,
		Volatility:      pre.Volatility,
		Settings:        settings,
		Now:             bundle.Bars[len(bundle.Bars)-1].Timestamp,
	})
}

// volumeSurge reports whether the bar's volume exceeds mult times the
// trailing 20-bar average. Zero-volume series (some forex feeds) report
// not-ok so the bonus is simply skipped.
func volumeSurge(bars []types.Bar, idx int, mult float64) (bool, bool) {
	if idx < 21 {
		return false, false
	}
	sum := 0.0
	for i := idx - 20; i < idx; i++ {
		sum += bars[i].Volume
	}
	avg := sum / 20
	if avg == 0 {
		return false, false
	}
	return bars[idx].Volume >= avg*mult, true
}
