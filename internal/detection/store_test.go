// Package detection_test provides tests for the detection lifecycle store.
package detection_test

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/detection"
	"github.com/quantarc/signal-engine/pkg/types"
)

// memPersister records saves for assertions.
type memPersister struct {
	mu    sync.Mutex
	saves []*types.Detection
}

func (m *memPersister) SaveDetection(d *types.Detection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, d)
	return nil
}

func newStore(t *testing.T) (*detection.Store, *memPersister) {
	t.Helper()
	p := &memPersister{}
	cfg := detection.Config{
		Cooldown:      time.Hour,
		SweepInterval: time.Hour, // sweeps are driven manually in tests
		MinGrade:      types.GradeB,
	}
	return detection.NewStore(zap.NewNop(), cfg, p), p
}

func makeDecision(grade types.Grade, direction types.Direction) *types.Decision {
	return &types.Decision{
		ID:         "dec-1",
		Symbol:     "EURUSD",
		StrategyID: "bollinger-mr",
		Direction:  direction,
		Grade:      grade,
		Confidence: 78,
		Entry:      types.PriceLevel{Price: 1.1000},
		StopLoss:   types.PriceLevel{Price: 1.0950},
		TakeProfit: types.PriceLevel{Price: 1.1100},
		ValidUntil: time.Now().Add(4 * time.Hour),
	}
}

func TestFirstDetectionEntersCoolingDown(t *testing.T) {
	store, persister := newStore(t)

	det := store.Record(makeDecision(types.GradeA, types.DirectionLong))
	if det == nil {
		t.Fatal("Expected a detection")
	}
	if det.Status != types.DetectionCoolingDown {
		t.Errorf("Expected cooling_down, got %s", det.Status)
	}
	if det.DetectionCount != 1 {
		t.Errorf("Expected count 1, got %d", det.DetectionCount)
	}
	if len(persister.saves) != 1 {
		t.Errorf("Expected 1 persisted save, got %d", len(persister.saves))
	}
}

func TestRedetectionIncrementsAndUpgrades(t *testing.T) {
	store, _ := newStore(t)

	first := store.Record(makeDecision(types.GradeB, types.DirectionLong))
	second := store.Record(makeDecision(types.GradeA, types.DirectionLong))

	if second.ID != first.ID {
		t.Fatal("Redetection must land on the same record")
	}
	if second.DetectionCount != 2 {
		t.Errorf("Expected detectionCount 2, got %d", second.DetectionCount)
	}
	if second.Grade != types.GradeA {
		t.Errorf("Expected grade upgraded to A, got %s", second.Grade)
	}
	if second.Status != types.DetectionCoolingDown {
		t.Errorf("Status must remain cooling_down, got %s", second.Status)
	}

	// A later, worse decision never downgrades the record.
	third := store.Record(makeDecision(types.GradeB, types.DirectionLong))
	if third.Grade != types.GradeA {
		t.Errorf("Grade must not downgrade, got %s", third.Grade)
	}
}

func TestBelowMinGradeNotPersisted(t *testing.T) {
	store, persister := newStore(t)

	if det := store.Record(makeDecision(types.GradeC, types.DirectionLong)); det != nil {
		t.Error("Grade C must not enter the store at MinGrade B")
	}
	if len(persister.saves) != 0 {
		t.Errorf("Expected no persisted saves, got %d", len(persister.saves))
	}
}

func TestNoDuplicateActivePerKey(t *testing.T) {
	store, _ := newStore(t)

	store.Record(makeDecision(types.GradeA, types.DirectionLong))
	store.Record(makeDecision(types.GradeA, types.DirectionLong))

	active := store.Query(detection.Filter{Status: types.DetectionCoolingDown})
	if len(active) != 1 {
		t.Errorf("Expected exactly one active detection per key, got %d", len(active))
	}
}

func TestOppositeDirectionInvalidates(t *testing.T) {
	store, _ := newStore(t)

	long := store.Record(makeDecision(types.GradeA, types.DirectionLong))
	store.Record(makeDecision(types.GradeA, types.DirectionShort))

	got, ok := store.Get(long.ID)
	if !ok {
		t.Fatal("Long detection disappeared")
	}
	if got.Status != types.DetectionInvalidated {
		t.Errorf("Expected invalidated, got %s", got.Status)
	}

	active := store.Query(detection.Filter{Status: types.DetectionCoolingDown})
	if len(active) != 1 || active[0].Direction != types.DirectionShort {
		t.Errorf("Expected one active short detection, got %+v", active)
	}
}

func TestSweepPromotesToEligible(t *testing.T) {
	store, _ := newStore(t)

	det := store.Record(makeDecision(types.GradeA, types.DirectionLong))

	if promoted, _ := store.Sweep(time.Now()); promoted != 0 {
		t.Errorf("Nothing should promote before cooldown ends, promoted %d", promoted)
	}

	promoted, _ := store.Sweep(time.Now().Add(2 * time.Hour))
	if promoted != 1 {
		t.Fatalf("Expected 1 promotion, got %d", promoted)
	}

	got, _ := store.Get(det.ID)
	if got.Status != types.DetectionEligible {
		t.Errorf("Expected eligible, got %s", got.Status)
	}
}

func TestSweepExpiresPastValidity(t *testing.T) {
	store, _ := newStore(t)

	det := store.Record(makeDecision(types.GradeA, types.DirectionLong))

	_, expired := store.Sweep(time.Now().Add(5 * time.Hour))
	if expired != 1 {
		t.Fatalf("Expected 1 expiry, got %d", expired)
	}

	got, _ := store.Get(det.ID)
	if got.Status != types.DetectionExpired {
		t.Errorf("Expected expired, got %s", got.Status)
	}
}

func TestExecuteAndDismiss(t *testing.T) {
	store, _ := newStore(t)

	det := store.Record(makeDecision(types.GradeA, types.DirectionLong))

	executed, err := store.Execute(det.ID, "took it at market")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if executed.Status != types.DetectionExecuted || executed.Notes == "" {
		t.Errorf("Execute result wrong: %+v", executed)
	}

	// Terminal records admit no further transitions.
	if _, err := store.Dismiss(det.ID, ""); err == nil {
		t.Error("Expected error dismissing a terminal detection")
	}

	if _, err := store.Execute("missing", ""); err != detection.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTerminalKeyCanBeReDetected(t *testing.T) {
	store, _ := newStore(t)

	det := store.Record(makeDecision(types.GradeA, types.DirectionLong))
	store.Dismiss(det.ID, "not interested")

	fresh := store.Record(makeDecision(types.GradeA, types.DirectionLong))
	if fresh.ID == det.ID {
		t.Error("A terminal record must not be resurrected; expected a fresh detection")
	}
	if fresh.Status != types.DetectionCoolingDown {
		t.Errorf("Fresh detection must start cooling_down, got %s", fresh.Status)
	}
}

func TestQueryFiltersAndSummary(t *testing.T) {
	store, _ := newStore(t)

	store.Record(makeDecision(types.GradeA, types.DirectionLong))

	d2 := makeDecision(types.GradeBPlus, types.DirectionLong)
	d2.Symbol = "GBPUSD"
	d2.StrategyID = "ema-trend"
	store.Record(d2)

	if got := store.Query(detection.Filter{Symbol: "GBPUSD"}); len(got) != 1 {
		t.Errorf("Symbol filter: expected 1, got %d", len(got))
	}
	if got := store.Query(detection.Filter{StrategyID: "bollinger-mr"}); len(got) != 1 {
		t.Errorf("Strategy filter: expected 1, got %d", len(got))
	}
	if got := store.Query(detection.Filter{MinGrade: types.GradeA}); len(got) != 1 {
		t.Errorf("Grade filter: expected 1, got %d", len(got))
	}
	if got := store.Query(detection.Filter{Limit: 1}); len(got) != 1 {
		t.Errorf("Limit: expected 1, got %d", len(got))
	}

	summary := store.Summarize()
	if summary.Total != 2 {
		t.Errorf("Summary total = %d, want 2", summary.Total)
	}
	if summary.ByStatus[types.DetectionCoolingDown] != 2 {
		t.Errorf("Summary by status wrong: %+v", summary.ByStatus)
	}
	if summary.ByStrategy["ema-trend"] != 1 {
		t.Errorf("Summary by strategy wrong: %+v", summary.ByStrategy)
	}
}

func TestRestoreRebuildsActiveIndex(t *testing.T) {
	store, _ := newStore(t)
	store.Restore([]*types.Detection{
		{
			ID:         "restored-1",
			StrategyID: "bollinger-mr",
			Symbol:     "EURUSD",
			Direction:  types.DirectionLong,
			Status:     types.DetectionCoolingDown,
			Grade:      types.GradeA,
			ValidUntil: time.Now().Add(time.Hour),
		},
	})

	// The restored active record blocks a duplicate.
	det := store.Record(makeDecision(types.GradeA, types.DirectionLong))
	if det.ID != "restored-1" {
		t.Errorf("Expected redetection onto restored record, got %s", det.ID)
	}
}
