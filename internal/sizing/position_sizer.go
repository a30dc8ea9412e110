// Package sizing computes risk-based position sizes from account settings
// and the decision's entry/stop distance.
package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/pkg/types"
)

// Sizing floors and caps.
const (
	MinLots            = 0.01
	DefaultMaxPosPct   = 10.0
	WideStopWarningPct = 10.0
)

// Request contains the sizing inputs.
type Request struct {
	Symbol             string  `json:"symbol"`
	Entry              float64 `json:"entry"`
	Stop               float64 `json:"stop"`
	AccountSize        float64 `json:"accountSize"`
	RiskPercent        float64 `json:"riskPercent"`
	MaxPositionPercent float64 `json:"maxPositionPercent"`
}

// Sizer calculates position sizes per instrument pip conventions.
type Sizer struct {
	logger *zap.Logger
}

// NewSizer creates a position sizer.
func NewSizer(logger *zap.Logger) *Sizer {
	return &Sizer{logger: logger}
}

// Calculate produces the position size for a request. Invalid inputs yield
// an invalid result with the violation recorded, never a panic.
func (s *Sizer) Calculate(req Request) types.PositionSize {
	result := types.PositionSize{}

	if err := validate(req); err != nil {
		result.Warnings = append(result.Warnings, err.Error())
		return result
	}
	maxPosPct := req.MaxPositionPercent
	if maxPosPct <= 0 {
		maxPosPct = DefaultMaxPosPct
	}

	spec, known := types.InstrumentOrDefault(req.Symbol)
	result.IsApproximate = !known || spec.Class == types.AssetJPYForex

	stopDistance := math.Abs(req.Entry - req.Stop)
	stopPips := spec.Pips(stopDistance)
	if stopPips <= 0 {
		result.Warnings = append(result.Warnings, "stop distance rounds to zero pips")
		return result
	}

	riskAmount := req.AccountSize * req.RiskPercent / 100
	lots := riskAmount / (stopPips * spec.PipValuePerLot)

	var units float64
	switch spec.Class {
	case types.AssetCrypto:
		units = lots * spec.ContractSize
		// Spot-style assets are bought outright; cap by position value.
		maxUnits := maxPosPct / 100 * req.AccountSize / req.Entry
		if units > maxUnits {
			units = maxUnits
			lots = units / spec.ContractSize
			result.Warnings = append(result.Warnings, "position capped by max position percent")
		}
	default:
		if lots < MinLots {
			lots = MinLots
			result.Warnings = append(result.Warnings, "position floored at minimum lot")
		}
		lots = math.Round(lots*100) / 100
		units = math.Floor(lots * spec.ContractSize)
	}

	if stopDistance/req.Entry*100 > WideStopWarningPct {
		result.Warnings = append(result.Warnings, fmt.Sprintf("stop is %.1f%% from entry", stopDistance/req.Entry*100))
	}

	result.Lots = decimal.NewFromFloat(lots).Round(2)
	result.Units = decimal.NewFromFloat(units)
	result.RiskAmount = decimal.NewFromFloat(riskAmount).Round(2)
	result.StopPips = stopPips
	result.IsValid = true
	return result
}

func validate(req Request) error {
	values := map[string]float64{
		"entry":       req.Entry,
		"stop":        req.Stop,
		"accountSize": req.AccountSize,
		"riskPercent": req.RiskPercent,
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("invalid %s: %v", name, v)
		}
	}
	if req.Entry == req.Stop {
		return fmt.Errorf("entry equals stop")
	}
	return nil
}
