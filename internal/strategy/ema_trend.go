package strategy

import (
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/decision"
	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/internal/preflight"
	"github.com/quantarc/signal-engine/pkg/types"
)

// EMA-trend confidence weights.
const (
	emaCrossPoints    = 25
	emaStackPoints    = 20
	emaMACDPoints     = 15
	emaADXPoints      = 15
	emaPullbackPoints = 10
)

// EMATrend rides swing trends on fast/slow EMA crosses backed by the
// 50/200 stack, MACD histogram and ADX.
type EMATrend struct {
	logger  *zap.Logger
	gate    *preflight.Gate
	builder *decision.Builder

	minADX float64
}

// NewEMATrend creates the EMA trend-following strategy.
func NewEMATrend(logger *zap.Logger, gate *preflight.Gate, builder *decision.Builder) *EMATrend {
	return &EMATrend{logger: logger, gate: gate, builder: builder, minADX: 25}
}

// Meta implements Strategy.
func (s *EMATrend) Meta() Meta {
	return Meta{
		ID:             "ema-trend",
		Name:           "EMA Trend Rider",
		Description:    "Swing trend entries on EMA 8/21 crosses aligned with the 50/200 stack",
		Style:          types.StyleSwing,
		Type:           gates.TypeTrend,
		WinRate:        0.48,
		AvgRR:          2.6,
		SignalsPerWeek: 2,
		RequiredIndicators: []string{
			indicators.SeriesEMA8, indicators.SeriesEMA21, indicators.SeriesEMA50,
			indicators.SeriesEMA200, indicators.SeriesMACDHist, indicators.SeriesADX,
			indicators.SeriesATR,
		},
		TrendTimeframe: types.TimeframeD1,
		EntryTimeframe: types.TimeframeH4,
		MinBars:        210,
		Version:        "1.3.1",
	}
}

// Analyze implements Strategy.
func (s *EMATrend) Analyze(bundle *indicators.Bundle, settings types.UserSettings) *types.Decision {
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

	ema21, ok21 := at(bundle.EMA21, idx)
	ema50, ok50 := at(bundle.EMA50, idx)
	ema200, ok200 := at(bundle.EMA200, idx)
	macdHist, okH := at(bundle.MACDHist, idx)
	adx, okX := at(bundle.ADX, idx)
	atr, okA := at(bundle.ATR, idx)
	if !ok21 || !ok50 || !ok200 || !okH || !okX || !okA {
		return nil
	}

	var direction types.Direction
	confidence := 0
	var triggers []string
	var reasons []types.ReasonCode

	switch {
	case crossedAbove(bundle.EMA8, bundle.EMA21, idx):
		direction = types.DirectionLong
		confidence += emaCrossPoints
		triggers = append(triggers, "EMA 8 crossed above EMA 21")
		reasons = append(reasons, types.ReasonEMACross)

		if bar.Close > ema50 && ema50 > ema200 {
			confidence += emaStackPoints
			triggers = append(triggers, "price above a bullish 50/200 stack")
			reasons = append(reasons, types.ReasonEMAStack)
		}
		if macdHist > 0 {
			confidence += emaMACDPoints
			triggers = append(triggers, "MACD histogram positive")
			reasons = append(reasons, types.ReasonMACDHistogram)
		}
		if bar.Low <= ema21 {
			confidence += emaPullbackPoints
			triggers = append(triggers, "entry off a pullback into EMA 21")
			reasons = append(reasons, types.ReasonEMACross)
		}

	case crossedBelow(bundle.EMA8, bundle.EMA21, idx):
		direction = types.DirectionShort
		confidence += emaCrossPoints
		triggers = append(triggers, "EMA 8 crossed below EMA 21")
		reasons = append(reasons, types.ReasonEMACross)

		if bar.Close < ema50 && ema50 < ema200 {
			confidence += emaStackPoints
			triggers = append(triggers, "price below a bearish 50/200 stack")
			reasons = append(reasons, types.ReasonEMAStack)
		}
		if macdHist < 0 {
			confidence += emaMACDPoints
			triggers = append(triggers, "MACD histogram negative")
			reasons = append(reasons, types.ReasonMACDHistogram)
		}
		if bar.High >= ema21 {
			confidence += emaPullbackPoints
			triggers = append(triggers, "entry off a pullback into EMA 21")
			reasons = append(reasons, types.ReasonEMACross)
		}

	default:
		return nil
	}

	if adx >= s.minADX {
		confidence += emaADXPoints
		triggers = append(triggers, "ADX confirms a trending market")
		reasons = append(reasons, types.ReasonADXStrength)
	}

	adjusted, allowed := pre.AdjustForDirection(confidence, direction, gates.TypeTrend)
	if !allowed {
		return nil
	}
	trendAligned := pre.Trend != nil && pre.Trend.Direction == direction
	if trendAligned {
		reasons = append(reasons, types.ReasonTrendAligned)
	}

	stop := decision.StopFromSwing(direction, bundle.Bars[:idx+1], entry, atr, 1.5, 10)

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
