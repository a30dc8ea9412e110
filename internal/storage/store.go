package storage

import (
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/pkg/types"
)

// Backend is the operation set both backends implement.
type Backend interface {
	SaveSignal(d *types.Decision) error
	SaveDetection(d *types.Detection) error
	LoadDetections() ([]*types.Detection, error)
	SaveCooldowns(entries map[gates.CooldownKey]gates.CooldownEntry) error
	LoadCooldowns() (map[gates.CooldownKey]gates.CooldownEntry, error)
	RecordAlert(d *types.Decision) error
}

// Store prefers the relational backend and falls back to the file store
// per operation. A double failure is logged and the caller continues;
// signal emission never depends on persistence succeeding.
type Store struct {
	logger   *zap.Logger
	primary  Backend // nil when the database is not configured
	fallback Backend
}

// New builds the facade. primary may be nil.
func New(logger *zap.Logger, primary, fallback Backend) *Store {
	return &Store{logger: logger, primary: primary, fallback: fallback}
}

// UsingDatabase reports whether the relational backend is active.
func (s *Store) UsingDatabase() bool { return s.primary != nil }

func (s *Store) write(op string, fn func(Backend) error) error {
	if s.primary != nil {
		if err := fn(s.primary); err == nil {
			return nil
		} else {
			s.logger.Warn("relational write failed, using file fallback",
				zap.String("op", op),
				zap.Error(err),
			)
		}
	}
	if err := fn(s.fallback); err != nil {
		s.logger.Error("file fallback write failed",
			zap.String("op", op),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// SaveSignal persists an emitted decision.
func (s *Store) SaveSignal(d *types.Decision) error {
	return s.write("save_signal", func(b Backend) error { return b.SaveSignal(d) })
}

// SaveDetection persists a lifecycle record. Implements detection.Persister.
func (s *Store) SaveDetection(d *types.Detection) error {
	return s.write("save_detection", func(b Backend) error { return b.SaveDetection(d) })
}

// LoadDetections reads lifecycle records for the startup restore pass.
func (s *Store) LoadDetections() ([]*types.Detection, error) {
	if s.primary != nil {
		if dets, err := s.primary.LoadDetections(); err == nil {
			return dets, nil
		} else {
			s.logger.Warn("relational detection load failed, using file fallback", zap.Error(err))
		}
	}
	return s.fallback.LoadDetections()
}

// SaveCooldowns persists the cooldown snapshot.
func (s *Store) SaveCooldowns(entries map[gates.CooldownKey]gates.CooldownEntry) error {
	return s.write("save_cooldowns", func(b Backend) error { return b.SaveCooldowns(entries) })
}

// LoadCooldowns reads the cooldown snapshot for the startup restore pass.
func (s *Store) LoadCooldowns() (map[gates.CooldownKey]gates.CooldownEntry, error) {
	if s.primary != nil {
		if entries, err := s.primary.LoadCooldowns(); err == nil {
			return entries, nil
		} else {
			s.logger.Warn("relational cooldown load failed, using file fallback", zap.Error(err))
		}
	}
	return s.fallback.LoadCooldowns()
}

// RecordAlert appends to alert history.
func (s *Store) RecordAlert(d *types.Decision) error {
	return s.write("record_alert", func(b Backend) error { return b.RecordAlert(d) })
}
