package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/pkg/types"
)

// PostgresStore is the relational backend.
type PostgresStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewPostgresStore connects, pools and migrates the schema.
func NewPostgresStore(logger *zap.Logger, dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&SignalRecord{}, &DetectionRecord{}, &CooldownRecord{}, &AlertRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("postgres store ready")
	return &PostgresStore{logger: logger, db: db}, nil
}

// SaveSignal upserts an emitted decision.
func (s *PostgresStore) SaveSignal(d *types.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	record := SignalRecord{
		ID:           d.ID,
		Symbol:       d.Symbol,
		StrategyID:   d.StrategyID,
		StrategyName: d.StrategyName,
		Direction:    string(d.Direction),
		Grade:        string(d.Grade),
		Confidence:   d.Confidence,
		Entry:        d.Entry.Price,
		StopLoss:     d.StopLoss.Price,
		TakeProfit:   d.TakeProfit.Price,
		Style:        string(d.Style),
		Payload:      string(payload),
		DetectedAt:   d.FirstDetected,
		ValidUntil:   d.ValidUntil,
		CreatedAt:    time.Now(),
	}
	return s.db.Save(&record).Error
}

// SaveDetection upserts a lifecycle record.
func (s *PostgresStore) SaveDetection(d *types.Detection) error {
	record := DetectionRecord{
		ID:              d.ID,
		StrategyID:      d.StrategyID,
		Symbol:          d.Symbol,
		Direction:       string(d.Direction),
		Status:          string(d.Status),
		Grade:           string(d.Grade),
		Confidence:      d.Confidence,
		Entry:           d.Entry,
		StopLoss:        d.StopLoss,
		TakeProfit:      d.TakeProfit,
		FirstDetectedAt: d.FirstDetectedAt,
		LastDetectedAt:  d.LastDetectedAt,
		DetectionCount:  d.DetectionCount,
		CooldownEndsAt:  d.CooldownEndsAt,
		ValidUntil:      d.ValidUntil,
		Notes:           d.Notes,
		UpdatedAt:       d.UpdatedAt,
	}
	return s.db.Save(&record).Error
}

// LoadDetections returns every persisted detection.
func (s *PostgresStore) LoadDetections() ([]*types.Detection, error) {
	var records []DetectionRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]*types.Detection, 0, len(records))
	for _, r := range records {
		out = append(out, &types.Detection{
			ID:              r.ID,
			StrategyID:      r.StrategyID,
			Symbol:          r.Symbol,
			Direction:       types.Direction(r.Direction),
			Status:          types.DetectionStatus(r.Status),
			Grade:           types.Grade(r.Grade),
			Confidence:      r.Confidence,
			Entry:           r.Entry,
			StopLoss:        r.StopLoss,
			TakeProfit:      r.TakeProfit,
			FirstDetectedAt: r.FirstDetectedAt,
			LastDetectedAt:  r.LastDetectedAt,
			DetectionCount:  r.DetectionCount,
			CooldownEndsAt:  r.CooldownEndsAt,
			ValidUntil:      r.ValidUntil,
			Notes:           r.Notes,
			UpdatedAt:       r.UpdatedAt,
		})
	}
	return out, nil
}

// SaveCooldowns replaces the persisted cooldown set with the snapshot.
func (s *PostgresStore) SaveCooldowns(entries map[gates.CooldownKey]gates.CooldownEntry) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&CooldownRecord{}).Error; err != nil {
			return err
		}
		for k, v := range entries {
			record := CooldownRecord{
				Symbol:    k.Symbol,
				Style:     string(k.Style),
				Direction: string(k.Direction),
				Grade:     string(v.Grade),
				CreatedAt: v.CreatedAt,
				ExpiresAt: v.ExpiresAt,
			}
			if err := tx.Save(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadCooldowns returns the persisted, unexpired cooldown entries.
func (s *PostgresStore) LoadCooldowns() (map[gates.CooldownKey]gates.CooldownEntry, error) {
	var records []CooldownRecord
	if err := s.db.Where("expires_at > ?", time.Now()).Find(&records).Error; err != nil {
		return nil, err
	}

	out := make(map[gates.CooldownKey]gates.CooldownEntry, len(records))
	for _, r := range records {
		key := gates.CooldownKey{
			Symbol:    r.Symbol,
			Style:     types.TradeStyle(r.Style),
			Direction: types.Direction(r.Direction),
		}
		out[key] = gates.CooldownEntry{
			Grade:     types.Grade(r.Grade),
			CreatedAt: r.CreatedAt,
			ExpiresAt: r.ExpiresAt,
		}
	}
	return out, nil
}

// RecordAlert appends a row to alert history.
func (s *PostgresStore) RecordAlert(d *types.Decision) error {
	record := AlertRecord{
		Symbol:     d.Symbol,
		StrategyID: d.StrategyID,
		Direction:  string(d.Direction),
		Grade:      string(d.Grade),
		SentAt:     time.Now(),
	}
	return s.db.Create(&record).Error
}
