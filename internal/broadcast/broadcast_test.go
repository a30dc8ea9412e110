// Package broadcast_test provides tests for the broadcaster and the alert
// subscriber.
package broadcast_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/broadcast"
	"github.com/quantarc/signal-engine/internal/tracker"
	"github.com/quantarc/signal-engine/pkg/types"
)

func signalDecision(grade types.Grade, direction types.Direction) *types.Decision {
	return &types.Decision{
		ID:         "dec-1",
		Symbol:     "EURUSD",
		StrategyID: "bollinger-mr",
		Direction:  direction,
		Grade:      grade,
		ValidUntil: time.Now().Add(time.Hour),
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	b := broadcast.New(zap.NewNop(), 8)
	defer b.Close()

	sub := b.Subscribe()
	b.PublishSignal(signalDecision(types.GradeA, types.DirectionLong))

	select {
	case event := <-sub.C:
		if event.Type != broadcast.EventSignal || event.Decision == nil {
			t.Errorf("Unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("Event never arrived")
	}

	if b.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", b.SubscriberCount())
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	b := broadcast.New(zap.NewNop(), 1)
	defer b.Close()

	sub := b.Subscribe()

	// Fill the buffer, then overflow it.
	b.PublishSignal(signalDecision(types.GradeA, types.DirectionLong))
	b.PublishSignal(signalDecision(types.GradeA, types.DirectionLong))

	if b.SubscriberCount() != 0 {
		t.Errorf("Expected eviction, still %d subscribers", b.SubscriberCount())
	}

	// The evicted channel is closed after its buffered event drains.
	<-sub.C
	if _, ok := <-sub.C; ok {
		t.Error("Expected closed channel after eviction")
	}

	stats := b.GetStats()
	if stats.Evicted != 1 || stats.Dropped != 1 {
		t.Errorf("Stats wrong: %+v", stats)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := broadcast.New(zap.NewNop(), 8)
	defer b.Close()

	sub := b.Subscribe()
	sub.Close()

	if b.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", b.SubscriberCount())
	}
	b.PublishError("scanner", "boom", "")
}

// recordingSink captures forwarded alerts.
type recordingSink struct {
	mu    sync.Mutex
	sends []*types.Decision
}

func (r *recordingSink) Send(_ context.Context, d *types.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, d)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func waitForCount(t *testing.T, sink *recordingSink, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d alerts, got %d", want, sink.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAlertSubscriberForwardsHighGradesOnce(t *testing.T) {
	b := broadcast.New(zap.NewNop(), 16)
	defer b.Close()

	sink := &recordingSink{}
	alerts := broadcast.NewAlertSubscriber(zap.NewNop(), b, sink)
	alerts.Start(context.Background())
	defer alerts.Stop()

	// Grade B never reaches the sink.
	b.PublishSignal(signalDecision(types.GradeB, types.DirectionLong))
	// First grade A goes out; the duplicate is suppressed.
	b.PublishSignal(signalDecision(types.GradeA, types.DirectionLong))
	b.PublishSignal(signalDecision(types.GradeA, types.DirectionLong))

	waitForCount(t, sink, 1)
	time.Sleep(50 * time.Millisecond)
	if sink.count() != 1 {
		t.Errorf("Expected exactly 1 alert, got %d", sink.count())
	}
}

func TestAlertSubscriberAllowsUpgradeAndFlip(t *testing.T) {
	b := broadcast.New(zap.NewNop(), 16)
	defer b.Close()

	sink := &recordingSink{}
	alerts := broadcast.NewAlertSubscriber(zap.NewNop(), b, sink)
	alerts.Start(context.Background())
	defer alerts.Stop()

	b.PublishSignal(signalDecision(types.GradeA, types.DirectionLong))
	waitForCount(t, sink, 1)

	// Strict grade improvement passes the dedup cache.
	b.PublishSignal(signalDecision(types.GradeAPlus, types.DirectionLong))
	waitForCount(t, sink, 2)

	// A direction flip lands on its own key.
	b.PublishSignal(signalDecision(types.GradeA, types.DirectionShort))
	waitForCount(t, sink, 3)
}

// TestUpgradeEventsCarryDecision drives the production upgrade path: the
// grade tracker produces the event and PublishUpgrade must ship it with
// the full decision payload so alert and live subscribers see levels and
// sizing, and the grade-improvement dedup bypass can actually fire.
func TestUpgradeEventsCarryDecision(t *testing.T) {
	b := broadcast.New(zap.NewNop(), 16)
	defer b.Close()

	sink := &recordingSink{}
	alerts := broadcast.NewAlertSubscriber(zap.NewNop(), b, sink)
	alerts.Start(context.Background())
	defer alerts.Stop()

	live := b.Subscribe()
	defer live.Close()

	trk := tracker.New(zap.NewNop())

	// First detection: a new signal at grade A.
	first := signalDecision(types.GradeA, types.DirectionLong)
	trk.Update(first.Symbol, first.StrategyID, "Bollinger MR", first.Grade, first.Direction)
	b.PublishSignal(first)
	waitForCount(t, sink, 1)
	<-live.C

	// Same key improves to A+: the tracker emits a grade-improvement
	// event and the broadcast carries the triggering decision.
	improved := signalDecision(types.GradeAPlus, types.DirectionLong)
	upgrade := trk.Update(improved.Symbol, improved.StrategyID, "Bollinger MR", improved.Grade, improved.Direction)
	if upgrade == nil || upgrade.Kind != tracker.UpgradeGradeImprovement {
		t.Fatalf("Expected grade-improvement event, got %+v", upgrade)
	}
	b.PublishUpgrade(improved, *upgrade)

	select {
	case event := <-live.C:
		if event.Type != broadcast.EventUpgrade {
			t.Errorf("Expected upgrade event, got %s", event.Type)
		}
		if event.Upgrade == nil || event.Upgrade.Kind != tracker.UpgradeGradeImprovement {
			t.Errorf("Upgrade context missing: %+v", event.Upgrade)
		}
		if event.Decision == nil {
			t.Fatal("Upgrade event must carry the full decision payload")
		}
		if event.Decision.Grade != types.GradeAPlus || event.Decision.Direction != types.DirectionLong {
			t.Errorf("Wrong decision attached: %+v", event.Decision)
		}
	case <-time.After(time.Second):
		t.Fatal("Upgrade event never reached the live subscriber")
	}

	// The strictly-improved grade bypasses the alert suppression cache.
	waitForCount(t, sink, 2)
	sink.mu.Lock()
	last := sink.sends[len(sink.sends)-1]
	sink.mu.Unlock()
	if last.Grade != types.GradeAPlus {
		t.Errorf("Expected the improved decision alerted, got grade %s", last.Grade)
	}
}
