// Package types provides shared type definitions for the signal engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the trade direction of a signal.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = "none"
)

// Opposite returns the flipped direction. DirectionNone flips to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	}
	return DirectionNone
}

// Grade is the discrete quality label assigned to a decision.
type Grade string

const (
	GradeAPlus   Grade = "A+"
	GradeA       Grade = "A"
	GradeBPlus   Grade = "B+"
	GradeB       Grade = "B"
	GradeC       Grade = "C"
	GradeNoTrade Grade = "no-trade"
)

var gradeRank = map[Grade]int{
	GradeNoTrade: 0,
	GradeC:       1,
	GradeB:       2,
	GradeBPlus:   3,
	GradeA:       4,
	GradeAPlus:   5,
}

// Rank returns the deterministic ordering of a grade
// (no-trade < C < B < B+ < A < A+). Unknown grades rank lowest.
func (g Grade) Rank() int {
	return gradeRank[g]
}

// IsTradeable reports whether the grade represents an actionable signal.
func (g Grade) IsTradeable() bool {
	return g.Rank() > gradeRank[GradeNoTrade]
}

// TradeStyle selects the timeframe profile a strategy trades on.
type TradeStyle string

const (
	StyleIntraday TradeStyle = "intraday"
	StyleSwing    TradeStyle = "swing"
)

// Timeframe represents a chart timeframe.
type Timeframe string

const (
	TimeframeH1 Timeframe = "H1"
	TimeframeH4 Timeframe = "H4"
	TimeframeD1 Timeframe = "D1"
)

// Bar is a single OHLCV price sample. Sequences are ordered oldest-first.
// Invariant: Low <= Open, Close <= High and Volume >= 0.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IsDegenerate reports whether the bar has no range (high == low).
// Wick and rejection logic must be skipped for such bars.
func (b Bar) IsDegenerate() bool {
	return b.High == b.Low
}

// ReasonCode is a closed enum of machine-readable decision annotations.
type ReasonCode string

const (
	ReasonBBTouch           ReasonCode = "bb_touch"
	ReasonRejectionCandle   ReasonCode = "rejection_candle"
	ReasonRSIExtreme        ReasonCode = "rsi_extreme"
	ReasonStochCross        ReasonCode = "stoch_cross"
	ReasonEMACross          ReasonCode = "ema_cross"
	ReasonEMAStack          ReasonCode = "ema_stack"
	ReasonMACDCross         ReasonCode = "macd_cross"
	ReasonMACDHistogram     ReasonCode = "macd_histogram"
	ReasonCCIExtreme        ReasonCode = "cci_extreme"
	ReasonWilliamsRExtreme  ReasonCode = "williams_r_extreme"
	ReasonOBVConfirmation   ReasonCode = "obv_confirmation"
	ReasonADXStrength       ReasonCode = "adx_strength"
	ReasonTrendAligned      ReasonCode = "trend_aligned"
	ReasonCounterTrend      ReasonCode = "counter_trend"
	ReasonFavorableRR       ReasonCode = "favorable_rr"
	ReasonVolumeSurge       ReasonCode = "volume_surge"
	ReasonVolatilityBlocked ReasonCode = "volatility_blocked"
	ReasonCooldownBlocked   ReasonCode = "cooldown_blocked"
	ReasonRegimeAdjusted    ReasonCode = "regime_adjusted"
	ReasonSessionAdjusted   ReasonCode = "session_adjusted"
)

// SignalState tracks the freshness of a decision inside its validity window.
type SignalState string

const (
	SignalStateOptimal   SignalState = "optimal"
	SignalStateDegrading SignalState = "degrading"
	SignalStateExpired   SignalState = "expired"
)

// PriceLevel is a price with its human formatting, pip distance from entry
// and risk multiple.
type PriceLevel struct {
	Price     float64 `json:"price"`
	Formatted string  `json:"formatted"`
	Pips      float64 `json:"pips"`
	RR        float64 `json:"rr"`
}

// TieredExit describes one leg of the staged exit plan.
type TieredExit struct {
	Label   string  `json:"label"` // "TP1", "TP2", "runner"
	Price   float64 `json:"price"`
	RR      float64 `json:"rr"`
	Percent int     `json:"percent"` // portion of position to close
	Action  string  `json:"action"`
}

// TrailingStop describes the runner's trailing stop, active once TP1 fills.
type TrailingStop struct {
	Enabled    bool    `json:"enabled"`
	DistanceR  float64 `json:"distanceR"`
	ActivateAt float64 `json:"activateAt"`
}

// PositionSize is the computed sizing for a decision.
type PositionSize struct {
	Lots          decimal.Decimal `json:"lots"`
	Units         decimal.Decimal `json:"units"`
	RiskAmount    decimal.Decimal `json:"riskAmount"`
	StopPips      float64         `json:"stopPips"`
	IsApproximate bool            `json:"isApproximate"`
	IsValid       bool            `json:"isValid"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// Gating records which post-decision gates fired.
type Gating struct {
	CooldownBlocked   bool   `json:"cooldownBlocked"`
	VolatilityBlocked bool   `json:"volatilityBlocked"`
	BlockReason       string `json:"blockReason,omitempty"`
}

// Decision is the immutable result of running one strategy against one
// symbol's indicator bundle.
type Decision struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	StrategyID   string     `json:"strategyId"`
	StrategyName string     `json:"strategyName"`
	Timestamp    time.Time  `json:"timestamp"`
	Direction    Direction  `json:"direction"`
	Grade        Grade      `json:"grade"`
	Confidence   int        `json:"confidence"` // 0-100

	Entry      PriceLevel `json:"entry"`
	StopLoss   PriceLevel `json:"stopLoss"`
	TakeProfit PriceLevel `json:"takeProfit"`

	TakeProfitSource string       `json:"takeProfitSource"`
	Position         PositionSize `json:"position"`
	TieredExits      []TieredExit `json:"tieredExits"`
	BreakEvenTrigger float64      `json:"breakEvenTrigger"`
	Trailing         TrailingStop `json:"trailing"`
	Instructions     []string     `json:"instructions"`

	FirstDetected      time.Time   `json:"firstDetected"`
	ValidUntil         time.Time   `json:"validUntil"`
	OptimalEntryWindow time.Time   `json:"optimalEntryWindow"`
	State              SignalState `json:"state"`

	Style       TradeStyle   `json:"style"`
	Triggers    []string     `json:"triggers"`
	ReasonCodes []ReasonCode `json:"reasonCodes"`
	Warnings    []string     `json:"warnings,omitempty"`
	Gating      Gating       `json:"gating"`
}

// DetectionStatus is the lifecycle state of a detection record.
type DetectionStatus string

const (
	DetectionCoolingDown DetectionStatus = "cooling_down"
	DetectionEligible    DetectionStatus = "eligible"
	DetectionExecuted    DetectionStatus = "executed"
	DetectionDismissed   DetectionStatus = "dismissed"
	DetectionExpired     DetectionStatus = "expired"
	DetectionInvalidated DetectionStatus = "invalidated"
)

// IsTerminal reports whether the status admits no further transitions.
func (s DetectionStatus) IsTerminal() bool {
	switch s {
	case DetectionExecuted, DetectionDismissed, DetectionExpired, DetectionInvalidated:
		return true
	}
	return false
}

// Detection is the persistent lifecycle record for a
// (strategyId, symbol, direction) key.
type Detection struct {
	ID              string          `json:"id"`
	StrategyID      string          `json:"strategyId"`
	Symbol          string          `json:"symbol"`
	Direction       Direction       `json:"direction"`
	Status          DetectionStatus `json:"status"`
	Grade           Grade           `json:"grade"`
	Confidence      int             `json:"confidence"`
	Entry           float64         `json:"entry"`
	StopLoss        float64         `json:"stopLoss"`
	TakeProfit      float64         `json:"takeProfit"`
	FirstDetectedAt time.Time       `json:"firstDetectedAt"`
	LastDetectedAt  time.Time       `json:"lastDetectedAt"`
	DetectionCount  int             `json:"detectionCount"`
	CooldownEndsAt  time.Time       `json:"cooldownEndsAt"`
	ValidUntil      time.Time       `json:"validUntil"`
	Notes           string          `json:"notes,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// UserSettings carries the per-user inputs a strategy run needs.
type UserSettings struct {
	AccountSize        float64    `json:"accountSize"`
	RiskPercent        float64    `json:"riskPercent"`
	MaxPositionPercent float64    `json:"maxPositionPercent"`
	Style              TradeStyle `json:"style"`
}

// DefaultUserSettings returns conservative sizing defaults.
func DefaultUserSettings() UserSettings {
	return UserSettings{
		AccountSize:        10000,
		RiskPercent:        2,
		MaxPositionPercent: 10,
		Style:              StyleIntraday,
	}
}
