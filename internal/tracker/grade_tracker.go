// Package tracker keeps the last grade and direction per (symbol,
// strategy) and emits upgrade events when quality improves.
package tracker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/pkg/types"
)

// recentUpgradeCap bounds the queryable ring buffer.
const recentUpgradeCap = 50

// UpgradeKind classifies why an upgrade event fired.
type UpgradeKind string

const (
	UpgradeNewSignal        UpgradeKind = "new-signal"
	UpgradeGradeImprovement UpgradeKind = "grade-improvement"
	UpgradeDirectionFlip    UpgradeKind = "direction-flip"
)

// State is the tracked snapshot for one (symbol, strategy) key.
type State struct {
	Grade     types.Grade     `json:"grade"`
	Direction types.Direction `json:"direction"`
	Timestamp time.Time       `json:"timestamp"`
}

// UpgradeEvent is delivered to handlers when a key improves.
type UpgradeEvent struct {
	Kind          UpgradeKind     `json:"kind"`
	Symbol        string          `json:"symbol"`
	StrategyID    string          `json:"strategyId"`
	StrategyName  string          `json:"strategyName"`
	Grade         types.Grade     `json:"grade"`
	PreviousGrade types.Grade     `json:"previousGrade"`
	Direction     types.Direction `json:"direction"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Handler receives upgrade events after state commit.
type Handler func(UpgradeEvent)

type key struct {
	symbol     string
	strategyID string
}

// GradeTracker is a mutable singleton; updates per key are serialized
// under one mutex, and handlers run after the state is committed.
type GradeTracker struct {
	logger *zap.Logger

	mu       sync.Mutex
	states   map[key]State
	recent   []UpgradeEvent
	handlers []Handler
}

// New creates an empty tracker.
func New(logger *zap.Logger) *GradeTracker {
	return &GradeTracker{
		logger: logger,
		states: make(map[key]State),
	}
}

// OnUpgrade registers a handler. Registration happens at startup, before
// the scanner runs.
func (t *GradeTracker) OnUpgrade(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// Update records the latest grade/direction for a key and emits an upgrade
// event when warranted. It returns the event, or nil when nothing changed
// for the better.
func (t *GradeTracker) Update(symbol, strategyID, strategyName string, grade types.Grade, direction types.Direction) *UpgradeEvent {
	k := key{symbol: symbol, strategyID: strategyID}
	now := time.Now()

	t.mu.Lock()
	prev, existed := t.states[k]
	t.states[k] = State{Grade: grade, Direction: direction, Timestamp: now}

	var kind UpgradeKind
	switch {
	case (!existed || prev.Grade == types.GradeNoTrade) && grade.IsTradeable():
		kind = UpgradeNewSignal
	case existed && prev.Grade.IsTradeable() && direction != prev.Direction && grade.IsTradeable():
		kind = UpgradeDirectionFlip
	case existed && direction == prev.Direction && grade.Rank() > prev.Grade.Rank():
		kind = UpgradeGradeImprovement
	default:
		t.mu.Unlock()
		return nil
	}

	event := UpgradeEvent{
		Kind:          kind,
		Symbol:        symbol,
		StrategyID:    strategyID,
		StrategyName:  strategyName,
		Grade:         grade,
		PreviousGrade: prev.Grade,
		Direction:     direction,
		Timestamp:     now,
	}

	t.recent = append(t.recent, event)
	if len(t.recent) > recentUpgradeCap {
		t.recent = t.recent[len(t.recent)-recentUpgradeCap:]
	}
	handlers := make([]Handler, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}

	t.logger.Debug("grade upgrade",
		zap.String("symbol", symbol),
		zap.String("strategy", strategyID),
		zap.String("kind", string(kind)),
		zap.String("grade", string(grade)),
	)
	return &event
}

// Get returns the tracked state for a key.
func (t *GradeTracker) Get(symbol, strategyID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key{symbol: symbol, strategyID: strategyID}]
	return s, ok
}

// RecentUpgrades returns the buffered upgrade events, newest last.
func (t *GradeTracker) RecentUpgrades() []UpgradeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UpgradeEvent, len(t.recent))
	copy(out, t.recent)
	return out
}

// IsNewSignal reports whether the key has no tracked trade-grade state in
// this direction, i.e. emitting it now would be a fresh signal.
func (t *GradeTracker) IsNewSignal(symbol, strategyID string, direction types.Direction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.states[key{symbol: symbol, strategyID: strategyID}]
	if !ok || prev.Grade == types.GradeNoTrade {
		return true
	}
	return prev.Direction != direction
}
