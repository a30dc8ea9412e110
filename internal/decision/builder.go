// Package decision turns a strategy's raw levels into a fully-annotated,
// validated Decision: grade, tiered exits, validity window and sizing.
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/sizing"
	"github.com/quantarc/signal-engine/pkg/types"
)

// Validity and optimal-entry windows per style.
const (
	IntradayValidity = 60 * time.Minute
	IntradayOptimal  = 30 * time.Minute
	SwingValidity    = 240 * time.Minute
	SwingOptimal     = 120 * time.Minute
)

// Grade thresholds. Grades are monotonic in confidence for a fixed
// pre-flight outcome.
const (
	thresholdAPlus = 85
	thresholdA     = 75
	thresholdBPlus = 65
	thresholdB     = 55
	thresholdC     = 50
)

// Input is everything the builder needs for one decision.
type Input struct {
	Symbol       string
	StrategyID   string
	StrategyName string
	Style        types.TradeStyle
	Direction    types.Direction
	Entry        float64
	StopLoss     float64
	TakeProfit   float64 // 0 means derive from the RR target
	TPSource     string  // set when TakeProfit is provided
	Confidence   int
	RRTarget     float64 // defaults to 2.0
	Triggers     []string
	ReasonCodes  []types.ReasonCode
	Warnings     []string

	PreflightStrong bool
	TrendAligned    bool
	Volatility      *gates.Assessment

	Settings types.UserSettings
	Now      time.Time
}

// Builder assembles decisions.
type Builder struct {
	logger *zap.Logger
	sizer  *sizing.Sizer
}

// NewBuilder creates a decision builder.
func NewBuilder(logger *zap.Logger, sizer *sizing.Sizer) *Builder {
	return &Builder{logger: logger, sizer: sizer}
}

// GradeFor maps confidence to a grade. A+ additionally requires a strong
// pre-flight and higher-timeframe alignment.
func GradeFor(confidence int, preflightStrong, trendAligned bool) types.Grade {
	switch {
	case confidence >= thresholdAPlus && preflightStrong && trendAligned:
		return types.GradeAPlus
	case confidence >= thresholdA:
		return types.GradeA
	case confidence >= thresholdBPlus:
		return types.GradeBPlus
	case confidence >= thresholdB:
		return types.GradeB
	case confidence >= thresholdC:
		return types.GradeC
	}
	return types.GradeNoTrade
}

// Build validates the order levels and assembles the decision. It returns
// nil when the order geometry is invalid or the grade is no-trade with
// confidence below the emission floor.
func (b *Builder) Build(in Input) *types.Decision {
	if in.Confidence < thresholdC {
		return nil
	}

	risk := math.Abs(in.Entry - in.StopLoss)
	if risk == 0 || math.IsNaN(risk) || math.IsInf(risk, 0) {
		return nil
	}

	rrTarget := in.RRTarget
	if rrTarget <= 0 {
		rrTarget = 2.0
	}
	if in.Volatility != nil {
		rrTarget *= in.Volatility.RRMultiplier
	}

	takeProfit := in.TakeProfit
	tpSource := in.TPSource
	if takeProfit == 0 {
		takeProfit = projectPrice(in.Direction, in.Entry, risk*rrTarget)
		tpSource = "rr_target"
	}
	if tpSource == "" {
		tpSource = "structure"
	}

	if !validOrder(in.Direction, in.Entry, in.StopLoss, takeProfit) {
		b.logger.Debug("invalid order geometry",
			zap.String("symbol", in.Symbol),
			zap.String("strategy", in.StrategyID),
			zap.Float64("entry", in.Entry),
			zap.Float64("stop", in.StopLoss),
			zap.Float64("tp", takeProfit),
		)
		return nil
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	spec, _ := types.InstrumentOrDefault(in.Symbol)
	confidence := clamp(in.Confidence, 0, 100)
	grade := GradeFor(confidence, in.PreflightStrong, in.TrendAligned)
	if grade == types.GradeNoTrade {
		return nil
	}

	validity, optimal := windowsFor(in.Style)

	// Deterministic id: analyze() runs must be reproducible for the same
	// bundle and settings.
	idSeed := fmt.Sprintf("%s|%s|%s|%d", in.Symbol, in.StrategyID, in.Direction, now.UnixNano())

	d := &types.Decision{
		ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(idSeed)).String(),
		Symbol:       in.Symbol,
		StrategyID:   in.StrategyID,
		StrategyName: in.StrategyName,
		Timestamp:    now,
		Direction:    in.Direction,
		Grade:        grade,
		Confidence:   confidence,

		Entry:      level(spec, in.Entry, in.Entry, risk),
		StopLoss:   level(spec, in.StopLoss, in.Entry, risk),
		TakeProfit: level(spec, takeProfit, in.Entry, risk),

		TakeProfitSource: tpSource,

		FirstDetected:      now,
		ValidUntil:         now.Add(validity),
		OptimalEntryWindow: now.Add(optimal),
		State:              types.SignalStateOptimal,

		Style:       in.Style,
		Triggers:    in.Triggers,
		ReasonCodes: in.ReasonCodes,
		Warnings:    in.Warnings,
	}

	d.TieredExits, d.BreakEvenTrigger, d.Trailing, d.Instructions = buildExitPlan(in.Direction, in.Entry, risk, spec)

	d.Position = b.sizer.Calculate(sizing.Request{
		Symbol:             in.Symbol,
		Entry:              in.Entry,
		Stop:               in.StopLoss,
		AccountSize:        in.Settings.AccountSize,
		RiskPercent:        in.Settings.RiskPercent,
		MaxPositionPercent: in.Settings.MaxPositionPercent,
	})
	d.Warnings = append(d.Warnings, d.Position.Warnings...)

	return d
}

// Refresh recomputes the freshness state of a decision at a point in time.
func Refresh(d *types.Decision, now time.Time) types.SignalState {
	switch {
	case now.After(d.ValidUntil):
		return types.SignalStateExpired
	case now.After(d.OptimalEntryWindow):
		return types.SignalStateDegrading
	}
	return types.SignalStateOptimal
}

// StopFromSwing combines the nearest swing extreme of the last lookback
// bars with an ATR offset: long stops sit at min(swingLow, entry-atr*mult).
func StopFromSwing(direction types.Direction, bars []types.Bar, entry, atr, atrMult float64, lookback int) float64 {
	if lookback > len(bars) {
		lookback = len(bars)
	}
	window := bars[len(bars)-lookback:]

	if direction == types.DirectionLong {
		swingLow := window[0].Low
		for _, bar := range window {
			if bar.Low < swingLow {
				swingLow = bar.Low
			}
		}
		return math.Min(swingLow, entry-atr*atrMult)
	}

	swingHigh := window[0].High
	for _, bar := range window {
		if bar.High > swingHigh {
			swingHigh = bar.High
		}
	}
	return math.Max(swingHigh, entry+atr*atrMult)
}

func buildExitPlan(direction types.Direction, entry, risk float64, spec types.InstrumentSpec) ([]types.TieredExit, float64, types.TrailingStop, []string) {
	tp1 := projectPrice(direction, entry, risk)
	tp2 := projectPrice(direction, entry, 2*risk)
	runner := projectPrice(direction, entry, 3*risk)

	exits := []types.TieredExit{
		{Label: "TP1", Price: tp1, RR: 1.0, Percent: 50, Action: "close 50% and move stop to breakeven"},
		{Label: "TP2", Price: tp2, RR: 2.0, Percent: 50, Action: "close 50% of remainder"},
		{Label: "runner", Price: runner, RR: 3.0, Percent: 100, Action: "trail stop 0.5R behind price"},
	}

	trailing := types.TrailingStop{Enabled: true, DistanceR: 0.5, ActivateAt: tp1}

	instructions := []string{
		fmt.Sprintf("At %s (1.0R) close 50%% and move stop to breakeven %s", spec.FormatPrice(tp1), spec.FormatPrice(entry)),
		fmt.Sprintf("At %s (2.0R) close 50%% of the remainder", spec.FormatPrice(tp2)),
		fmt.Sprintf("Let the runner work toward %s (3.0R) with a 0.5R trailing stop", spec.FormatPrice(runner)),
	}

	return exits, tp1, trailing, instructions
}

func level(spec types.InstrumentSpec, price, entry, risk float64) types.PriceLevel {
	rr := 0.0
	if risk > 0 {
		rr = math.Abs(price-entry) / risk
	}
	return types.PriceLevel{
		Price:     price,
		Formatted: spec.FormatPrice(price),
		Pips:      spec.Pips(math.Abs(price - entry)),
		RR:        rr,
	}
}

func projectPrice(direction types.Direction, entry, distance float64) float64 {
	if direction == types.DirectionLong {
		return entry + distance
	}
	return entry - distance
}

func validOrder(direction types.Direction, entry, stop, tp float64) bool {
	for _, v := range []float64{entry, stop, tp} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if direction == types.DirectionLong {
		return stop < entry && entry < tp
	}
	if direction == types.DirectionShort {
		return tp < entry && entry < stop
	}
	return false
}

func windowsFor(style types.TradeStyle) (validity, optimal time.Duration) {
	if style == types.StyleSwing {
		return SwingValidity, SwingOptimal
	}
	return IntradayValidity, IntradayOptimal
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
