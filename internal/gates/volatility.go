// Package gates provides the volatility-regime and cooldown gates applied
// to strategy decisions.
package gates

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/pkg/types"
)

// VolatilityLevel classifies the ATR ratio against its trailing average.
type VolatilityLevel string

const (
	VolExtremeLow VolatilityLevel = "extreme-low"
	VolLow        VolatilityLevel = "low"
	VolNormal     VolatilityLevel = "normal"
	VolHigh       VolatilityLevel = "high"
	VolExtreme    VolatilityLevel = "extreme"
)

// Regime classifies the ATR percentile over the trailing window.
type Regime string

const (
	RegimeCompression Regime = "compression"
	RegimeNormal      Regime = "normal"
	RegimeExpansion   Regime = "expansion"
)

// StrategyType groups strategies by how regimes treat them.
type StrategyType string

const (
	TypeTrend         StrategyType = "trend"
	TypeMomentum      StrategyType = "momentum"
	TypeMeanReversion StrategyType = "mean-reversion"
)

// Assessment is the volatility gate's verdict for one bundle.
type Assessment struct {
	ATR            float64         `json:"atr"`
	ATRAverage     float64         `json:"atrAverage"`
	Ratio          float64         `json:"ratio"`
	Level          VolatilityLevel `json:"level"`
	Percentile     float64         `json:"percentile"`
	Regime         Regime          `json:"regime"`
	RRMultiplier   float64         `json:"rrMultiplier"`
	StopMultiplier float64         `json:"stopMultiplier"`
}

// VolatilityConfig holds the ratio thresholds (forex baseline) and the
// per-asset-class threshold multipliers.
type VolatilityConfig struct {
	ExtremeLowRatio float64
	LowRatio        float64
	HighRatio       float64
	ExtremeRatio    float64
	AveragePeriod   int
	PercentileSpan  int
	ClassMultiplier map[types.AssetClass]float64
	MRBlockPct      float64 // percentile at or above which mean-reversion is vetoed
}

// DefaultVolatilityConfig returns the baseline thresholds.
func DefaultVolatilityConfig() VolatilityConfig {
	return VolatilityConfig{
		ExtremeLowRatio: 0.15,
		LowRatio:        0.30,
		HighRatio:       2.0,
		ExtremeRatio:    3.0,
		AveragePeriod:   20,
		PercentileSpan:  100,
		ClassMultiplier: map[types.AssetClass]float64{
			types.AssetCrypto: 1.5,
			types.AssetMetal:  1.2,
			types.AssetIndex:  1.2,
			types.AssetEnergy: 1.3,
		},
		MRBlockPct: 90,
	}
}

// VolatilityGate computes the ATR-based regime for a bundle. Assess is a
// pure function of the bundle's ATR series.
type VolatilityGate struct {
	logger *zap.Logger
	cfg    VolatilityConfig
}

// NewVolatilityGate creates the gate.
func NewVolatilityGate(logger *zap.Logger, cfg VolatilityConfig) *VolatilityGate {
	if cfg.AveragePeriod <= 0 {
		cfg = DefaultVolatilityConfig()
	}
	return &VolatilityGate{logger: logger, cfg: cfg}
}

// Assess classifies volatility at the signal bar.
func (g *VolatilityGate) Assess(bundle *indicators.Bundle) (*Assessment, error) {
	if len(bundle.ATR) != len(bundle.Bars) || len(bundle.Bars) < 3 {
		return nil, fmt.Errorf("atr series unavailable for %s", bundle.Symbol)
	}

	signalIdx := len(bundle.Bars) - 2
	atr := bundle.ATR[signalIdx]
	if !indicators.IsDefined(atr) || atr <= 0 {
		return nil, fmt.Errorf("atr undefined at signal bar for %s", bundle.Symbol)
	}

	avg := trailingAverage(bundle.ATR[:signalIdx], g.cfg.AveragePeriod)
	if avg <= 0 {
		return nil, fmt.Errorf("atr trailing average unavailable for %s", bundle.Symbol)
	}

	mult := 1.0
	if spec, ok := types.LookupInstrument(bundle.Symbol); ok {
		if m, ok := g.cfg.ClassMultiplier[spec.Class]; ok {
			mult = m
		}
	}

	ratio := atr / avg
	assessment := &Assessment{
		ATR:        atr,
		ATRAverage: avg,
		Ratio:      ratio,
		Level:      g.classifyRatio(ratio, mult),
		Percentile: percentileOf(bundle.ATR[:signalIdx+1], atr, g.cfg.PercentileSpan),
	}

	switch {
	case assessment.Percentile <= 25:
		assessment.Regime = RegimeCompression
	case assessment.Percentile >= 75:
		assessment.Regime = RegimeExpansion
	default:
		assessment.Regime = RegimeNormal
	}

	assessment.RRMultiplier, assessment.StopMultiplier = regimeMultipliers(assessment.Regime)
	return assessment, nil
}

// Allows applies the regime rules to a strategy type. It returns false with
// a reason when the decision must be blocked.
func (g *VolatilityGate) Allows(assessment *Assessment, st StrategyType) (bool, string) {
	if assessment.Level == VolExtreme || assessment.Level == VolExtremeLow {
		return false, fmt.Sprintf("volatility %s (ratio %.2f)", assessment.Level, assessment.Ratio)
	}
	if st == TypeMeanReversion && assessment.Percentile >= g.cfg.MRBlockPct {
		return false, fmt.Sprintf("mean-reversion blocked at %.0fth ATR percentile", assessment.Percentile)
	}
	return true, ""
}

func (g *VolatilityGate) classifyRatio(ratio, mult float64) VolatilityLevel {
	switch {
	case ratio < g.cfg.ExtremeLowRatio*mult:
		return VolExtremeLow
	case ratio < g.cfg.LowRatio*mult:
		return VolLow
	case ratio > g.cfg.ExtremeRatio*mult:
		return VolExtreme
	case ratio > g.cfg.HighRatio*mult:
		return VolHigh
	}
	return VolNormal
}

// regimeMultipliers returns the RR and stop adjustments for a regime.
// Compression tightens targets; expansion widens stops.
func regimeMultipliers(regime Regime) (rr, stop float64) {
	switch regime {
	case RegimeCompression:
		return 0.8, 0.9
	case RegimeExpansion:
		return 1.1, 1.25
	}
	return 1.0, 1.0
}

// trailingAverage averages the last n defined values of series.
func trailingAverage(series []float64, n int) float64 {
	sum := 0.0
	count := 0
	for i := len(series) - 1; i >= 0 && count < n; i-- {
		if !indicators.IsDefined(series[i]) {
			continue
		}
		sum += series[i]
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// percentileOf returns the percentile rank of value within the last span
// defined values of series.
func percentileOf(series []float64, value float64, span int) float64 {
	window := make([]float64, 0, span)
	for i := len(series) - 1; i >= 0 && len(window) < span; i-- {
		if indicators.IsDefined(series[i]) {
			window = append(window, series[i])
		}
	}
	if len(window) == 0 {
		return 50
	}
	sort.Float64s(window)
	below := 0
	for _, v := range window {
		if v < value {
			below++
		}
	}
	return 100 * float64(below) / float64(len(window))
}
