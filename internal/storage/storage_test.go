// Package storage_test provides tests for the file fallback store and the
// backend facade.
package storage_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/storage"
	"github.com/quantarc/signal-engine/pkg/types"
)

func decisionFixture(id string) *types.Decision {
	return &types.Decision{
		ID:         id,
		Symbol:     "EURUSD",
		StrategyID: "bollinger-mr",
		Direction:  types.DirectionLong,
		Grade:      types.GradeA,
		Confidence: 80,
		Entry:      types.PriceLevel{Price: 1.1, Formatted: "1.10000"},
		ValidUntil: time.Now().Add(time.Hour),
	}
}

func detectionFixture(id string) *types.Detection {
	return &types.Detection{
		ID:         id,
		StrategyID: "bollinger-mr",
		Symbol:     "EURUSD",
		Direction:  types.DirectionLong,
		Status:     types.DetectionCoolingDown,
		Grade:      types.GradeA,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewFileStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := fs.SaveSignal(decisionFixture("sig-1")); err != nil {
		t.Fatalf("SaveSignal failed: %v", err)
	}
	if err := fs.SaveDetection(detectionFixture("det-1")); err != nil {
		t.Fatalf("SaveDetection failed: %v", err)
	}

	cooldowns := map[gates.CooldownKey]gates.CooldownEntry{
		{Symbol: "EURUSD", Style: types.StyleIntraday, Direction: types.DirectionLong}: {
			Grade:     types.GradeA,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(4 * time.Hour),
		},
	}
	if err := fs.SaveCooldowns(cooldowns); err != nil {
		t.Fatalf("SaveCooldowns failed: %v", err)
	}

	// No temp files linger after atomic writes.
	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" && !entry.IsDir() {
			t.Errorf("Leftover non-json file: %s", entry.Name())
		}
	}

	// A fresh store sees the persisted state.
	reloaded, err := storage.NewFileStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	dets, err := reloaded.LoadDetections()
	if err != nil || len(dets) != 1 || dets[0].ID != "det-1" {
		t.Errorf("LoadDetections = %v, %v", dets, err)
	}

	loaded, err := reloaded.LoadCooldowns()
	if err != nil || len(loaded) != 1 {
		t.Errorf("LoadCooldowns = %v, %v", loaded, err)
	}
	if reloaded.SignalCount() != 1 {
		t.Errorf("Expected 1 loaded signal, got %d", reloaded.SignalCount())
	}
}

func TestFileStoreSkipsExpiredCooldownsOnLoad(t *testing.T) {
	dir := t.TempDir()
	fs, _ := storage.NewFileStore(zap.NewNop(), dir)

	fs.SaveCooldowns(map[gates.CooldownKey]gates.CooldownEntry{
		{Symbol: "EURUSD", Style: types.StyleIntraday, Direction: types.DirectionLong}: {
			Grade:     types.GradeA,
			CreatedAt: time.Now().Add(-10 * time.Hour),
			ExpiresAt: time.Now().Add(-6 * time.Hour),
		},
	})

	loaded, err := fs.LoadCooldowns()
	if err != nil {
		t.Fatalf("LoadCooldowns failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("Expired entries must not load, got %d", len(loaded))
	}
}

func TestFileStoreCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "signals.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs, err := storage.NewFileStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Corrupt file must not abort startup: %v", err)
	}
	if fs.SignalCount() != 0 {
		t.Errorf("Expected empty signals, got %d", fs.SignalCount())
	}
}

// failingBackend always errors, standing in for a lost database.
type failingBackend struct{}

func (failingBackend) SaveSignal(*types.Decision) error       { return errors.New("db down") }
func (failingBackend) SaveDetection(*types.Detection) error   { return errors.New("db down") }
func (failingBackend) LoadDetections() ([]*types.Detection, error) {
	return nil, errors.New("db down")
}
func (failingBackend) SaveCooldowns(map[gates.CooldownKey]gates.CooldownEntry) error {
	return errors.New("db down")
}
func (failingBackend) LoadCooldowns() (map[gates.CooldownKey]gates.CooldownEntry, error) {
	return nil, errors.New("db down")
}
func (failingBackend) RecordAlert(*types.Decision) error { return errors.New("db down") }

func TestFacadeFallsBackToFileStore(t *testing.T) {
	fs, _ := storage.NewFileStore(zap.NewNop(), t.TempDir())
	store := storage.New(zap.NewNop(), failingBackend{}, fs)

	if err := store.SaveSignal(decisionFixture("sig-1")); err != nil {
		t.Fatalf("Fallback write failed: %v", err)
	}
	if err := store.SaveDetection(detectionFixture("det-1")); err != nil {
		t.Fatalf("Fallback detection write failed: %v", err)
	}

	dets, err := store.LoadDetections()
	if err != nil || len(dets) != 1 {
		t.Errorf("Fallback load = %v, %v", dets, err)
	}
}

func TestFacadeWithoutDatabase(t *testing.T) {
	fs, _ := storage.NewFileStore(zap.NewNop(), t.TempDir())
	store := storage.New(zap.NewNop(), nil, fs)

	if store.UsingDatabase() {
		t.Error("No primary configured; UsingDatabase must be false")
	}
	if err := store.SaveSignal(decisionFixture("sig-1")); err != nil {
		t.Errorf("File-only write failed: %v", err)
	}
}
