// Package storage persists signals, detections and cooldowns. A relational
// backend (Postgres) is preferred; a JSON-file store is the fallback when
// the database is unavailable or not configured.
package storage

import (
	"time"
)

// SignalRecord is the relational row for an emitted decision.
type SignalRecord struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Symbol       string    `gorm:"size:16;index"`
	StrategyID   string    `gorm:"size:64;index"`
	StrategyName string    `gorm:"size:128"`
	Direction    string    `gorm:"size:8"`
	Grade        string    `gorm:"size:8;index"`
	Confidence   int
	Entry        float64
	StopLoss     float64
	TakeProfit   float64
	Style        string `gorm:"size:16"`
	Payload      string `gorm:"type:text"` // full decision JSON
	DetectedAt   time.Time
	ValidUntil   time.Time
	CreatedAt    time.Time
}

// TableName implements gorm's table naming.
func (SignalRecord) TableName() string { return "signals" }

// DetectionRecord is the relational row for a lifecycle record.
type DetectionRecord struct {
	ID              string `gorm:"primaryKey;size:64"`
	StrategyID      string `gorm:"size:64;index:idx_detection_key"`
	Symbol          string `gorm:"size:16;index:idx_detection_key"`
	Direction       string `gorm:"size:8;index:idx_detection_key"`
	Status          string `gorm:"size:16;index"`
	Grade           string `gorm:"size:8"`
	Confidence      int
	Entry           float64
	StopLoss        float64
	TakeProfit      float64
	FirstDetectedAt time.Time
	LastDetectedAt  time.Time
	DetectionCount  int
	CooldownEndsAt  time.Time
	ValidUntil      time.Time
	Notes           string `gorm:"type:text"`
	UpdatedAt       time.Time
}

// TableName implements gorm's table naming.
func (DetectionRecord) TableName() string { return "detections" }

// CooldownRecord is the relational row for an active cooldown entry.
type CooldownRecord struct {
	Symbol    string `gorm:"primaryKey;size:16"`
	Style     string `gorm:"primaryKey;size:16"`
	Direction string `gorm:"primaryKey;size:8"`
	Grade     string `gorm:"size:8"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

// TableName implements gorm's table naming.
func (CooldownRecord) TableName() string { return "cooldowns" }

// AlertRecord is the relational row for a forwarded alert.
type AlertRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Symbol     string `gorm:"size:16;index"`
	StrategyID string `gorm:"size:64"`
	Direction  string `gorm:"size:8"`
	Grade      string `gorm:"size:8"`
	SentAt     time.Time
}

// TableName implements gorm's table naming.
func (AlertRecord) TableName() string { return "alert_history" }
