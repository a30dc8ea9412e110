// Package tracker_test provides tests for the grade tracker.
package tracker_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/tracker"
	"github.com/quantarc/signal-engine/pkg/types"
)

func TestNewSignalEvent(t *testing.T) {
	trk := tracker.New(zap.NewNop())

	event := trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeB, types.DirectionLong)
	if event == nil || event.Kind != tracker.UpgradeNewSignal {
		t.Fatalf("Expected new-signal event, got %+v", event)
	}
}

func TestGradeImprovementEvent(t *testing.T) {
	trk := tracker.New(zap.NewNop())

	trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeB, types.DirectionLong)
	event := trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeA, types.DirectionLong)
	if event == nil || event.Kind != tracker.UpgradeGradeImprovement {
		t.Fatalf("Expected grade-improvement event, got %+v", event)
	}
	if event.PreviousGrade != types.GradeB {
		t.Errorf("Expected previous grade B, got %s", event.PreviousGrade)
	}
}

func TestDirectionFlipEvent(t *testing.T) {
	trk := tracker.New(zap.NewNop())

	trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeA, types.DirectionLong)
	event := trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeB, types.DirectionShort)
	if event == nil || event.Kind != tracker.UpgradeDirectionFlip {
		t.Fatalf("Expected direction-flip event, got %+v", event)
	}
}

func TestNoEventOnSameOrLowerGrade(t *testing.T) {
	trk := tracker.New(zap.NewNop())

	trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeA, types.DirectionLong)
	if event := trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeA, types.DirectionLong); event != nil {
		t.Errorf("Expected no event for same grade, got %+v", event)
	}
	if event := trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeB, types.DirectionLong); event != nil {
		t.Errorf("Expected no event for lower grade, got %+v", event)
	}
}

func TestHandlersRunAfterCommit(t *testing.T) {
	trk := tracker.New(zap.NewNop())

	var seen []tracker.UpgradeEvent
	trk.OnUpgrade(func(e tracker.UpgradeEvent) {
		// State must already reflect the update when the handler runs.
		state, ok := trk.Get(e.Symbol, e.StrategyID)
		if !ok || state.Grade != e.Grade {
			t.Errorf("Handler observed uncommitted state: %+v", state)
		}
		seen = append(seen, e)
	})

	trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeA, types.DirectionLong)
	if len(seen) != 1 {
		t.Fatalf("Expected 1 handled event, got %d", len(seen))
	}
}

func TestRecentUpgradesRingBuffer(t *testing.T) {
	trk := tracker.New(zap.NewNop())

	// Alternate directions on trade grades so every update emits an event.
	dir := types.DirectionLong
	for i := 0; i < 60; i++ {
		trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeA, dir)
		dir = dir.Opposite()
	}

	recent := trk.RecentUpgrades()
	if len(recent) != 50 {
		t.Errorf("Expected ring buffer capped at 50, got %d", len(recent))
	}
}

func TestIsNewSignal(t *testing.T) {
	trk := tracker.New(zap.NewNop())

	if !trk.IsNewSignal("EURUSD", "bollinger-mr", types.DirectionLong) {
		t.Error("Untracked key must be a new signal")
	}

	trk.Update("EURUSD", "bollinger-mr", "Bollinger MR", types.GradeA, types.DirectionLong)
	if trk.IsNewSignal("EURUSD", "bollinger-mr", types.DirectionLong) {
		t.Error("Tracked same-direction key is not new")
	}
	if !trk.IsNewSignal("EURUSD", "bollinger-mr", types.DirectionShort) {
		t.Error("Flipped direction counts as new")
	}
}
