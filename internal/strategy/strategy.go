// Package strategy provides the uniform strategy contract, the process-wide
// registry and the strategy implementations.
package strategy

import (
	"sort"

	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/pkg/types"
)

// Meta describes a strategy for registry listings and fetch pruning.
type Meta struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Description        string             `json:"description"`
	Style              types.TradeStyle   `json:"style"`
	Type               gates.StrategyType `json:"type"`
	WinRate            float64            `json:"winRate"`
	AvgRR              float64            `json:"avgRR"`
	SignalsPerWeek     float64            `json:"signalsPerWeek"`
	RequiredIndicators []string           `json:"requiredIndicators"`
	TrendTimeframe     types.Timeframe    `json:"trendTimeframe"`
	EntryTimeframe     types.Timeframe    `json:"entryTimeframe"`
	MinBars            int                `json:"minBars"`
	Version            string             `json:"version"`
}

// Strategy is the contract every strategy implements. Analyze is pure over
// (bundle, settings): no I/O, no clock reads, no shared mutable state.
// It returns nil when no tradeable decision exists.
type Strategy interface {
	Meta() Meta
	Analyze(bundle *indicators.Bundle, settings types.UserSettings) *types.Decision
}

// Registry is the immutable strategyId -> strategy map, built once at
// startup.
type Registry struct {
	strategies map[string]Strategy
	order      []string
}

// NewRegistry builds a registry. Later duplicates of an id are ignored.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		id := s.Meta().ID
		if _, exists := r.strategies[id]; exists {
			continue
		}
		r.strategies[id] = s
		r.order = append(r.order, id)
	}
	return r
}

// Get returns a strategy by id.
func (r *Registry) Get(id string) (Strategy, bool) {
	s, ok := r.strategies[id]
	return s, ok
}

// List returns all strategies in registration order.
func (r *Registry) List() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.strategies[id])
	}
	return out
}

// IDs returns all registered strategy ids.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ByStyle returns strategies trading the given style.
func (r *Registry) ByStyle(style types.TradeStyle) []Strategy {
	var out []Strategy
	for _, id := range r.order {
		if r.strategies[id].Meta().Style == style {
			out = append(out, r.strategies[id])
		}
	}
	return out
}

// RequiredIndicators returns the union of required indicator series across
// the given strategy ids (all strategies when ids is empty). The scanner
// uses it to prune batch fetches.
func (r *Registry) RequiredIndicators(ids []string) map[string]bool {
	if len(ids) == 0 {
		ids = r.order
	}
	union := make(map[string]bool)
	for _, id := range ids {
		s, ok := r.strategies[id]
		if !ok {
			continue
		}
		for _, name := range s.Meta().RequiredIndicators {
			union[name] = true
		}
	}
	return union
}

// SortedRequiredIndicators is RequiredIndicators with deterministic order.
func (r *Registry) SortedRequiredIndicators(ids []string) []string {
	union := r.RequiredIndicators(ids)
	out := make([]string, 0, len(union))
	for name := range union {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Shared evaluation helpers. Strategies evaluate triggers on the signal bar
// (bars[len-2]) and enter on the forming bar's open (bars[len-1]).

// signalIndex returns the closed signal bar index, or -1 when the series is
// too short.
func signalIndex(bundle *indicators.Bundle) int {
	if len(bundle.Bars) < 3 {
		return -1
	}
	return len(bundle.Bars) - 2
}

// entryPrice returns the forming bar's open.
func entryPrice(bundle *indicators.Bundle) float64 {
	return bundle.Bars[len(bundle.Bars)-1].Open
}

// bodySize returns the candle body height.
func bodySize(bar types.Bar) float64 {
	if bar.Close >= bar.Open {
		return bar.Close - bar.Open
	}
	return bar.Open - bar.Close
}

// lowerWick returns the distance from the body bottom to the low.
func lowerWick(bar types.Bar) float64 {
	bottom := bar.Open
	if bar.Close < bottom {
		bottom = bar.Close
	}
	return bottom - bar.Low
}

// upperWick returns the distance from the high to the body top.
func upperWick(bar types.Bar) float64 {
	top := bar.Open
	if bar.Close > top {
		top = bar.Close
	}
	return bar.High - top
}

// isBullishRejection reports a long lower wick relative to the body.
// Degenerate bars never qualify.
func isBullishRejection(bar types.Bar) bool {
	if bar.IsDegenerate() {
		return false
	}
	body := bodySize(bar)
	if body == 0 {
		return lowerWick(bar) > 0 && lowerWick(bar) > upperWick(bar)
	}
	return lowerWick(bar) >= body*0.6
}

// isBearishRejection reports a long upper wick relative to the body.
func isBearishRejection(bar types.Bar) bool {
	if bar.IsDegenerate() {
		return false
	}
	body := bodySize(bar)
	if body == 0 {
		return upperWick(bar) > 0 && upperWick(bar) > lowerWick(bar)
	}
	return upperWick(bar) >= body*0.6
}

// crossedAbove reports a crossed above b at index i.
func crossedAbove(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	if !indicators.IsDefined(a[i-1]) || !indicators.IsDefined(b[i-1]) ||
		!indicators.IsDefined(a[i]) || !indicators.IsDefined(b[i]) {
		return false
	}
	return a[i-1] <= b[i-1] && a[i] > b[i]
}

// crossedBelow reports a crossed below b at index i.
func crossedBelow(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	if !indicators.IsDefined(a[i-1]) || !indicators.IsDefined(b[i-1]) ||
		!indicators.IsDefined(a[i]) || !indicators.IsDefined(b[i]) {
		return false
	}
	return a[i-1] >= b[i-1] && a[i] < b[i]
}

// rising reports strictly increasing defined values over the last n samples
// ending at i.
func rising(series []float64, i, n int) bool {
	if i-n+1 < 0 {
		return false
	}
	for j := i - n + 2; j <= i; j++ {
		if !indicators.IsDefined(series[j-1]) || !indicators.IsDefined(series[j]) {
			return false
		}
		if series[j] <= series[j-1] {
			return false
		}
	}
	return true
}

// falling reports strictly decreasing defined values over the last n
// samples ending at i.
func falling(series []float64, i, n int) bool {
	if i-n+1 < 0 {
		return false
	}
	for j := i - n + 2; j <= i; j++ {
		if !indicators.IsDefined(series[j-1]) || !indicators.IsDefined(series[j]) {
			return false
		}
		if series[j] >= series[j-1] {
			return false
		}
	}
	return true
}

// at returns series[i] when defined, else (0, false).
func at(series []float64, i int) (float64, bool) {
	if i < 0 || i >= len(series) || !indicators.IsDefined(series[i]) {
		return 0, false
	}
	return series[i], true
}
