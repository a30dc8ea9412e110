// Package detection owns the lifecycle state machine for emitted trade
// ideas: cooling_down -> eligible -> executed/dismissed/expired/invalidated.
package detection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/pkg/types"
)

// Defaults.
const (
	DefaultCooldown      = 60 * time.Minute
	DefaultSweepInterval = 60 * time.Second
	DefaultMinGrade      = types.GradeB
)

// ErrNotFound is returned for unknown detection ids.
var ErrNotFound = fmt.Errorf("detection not found")

// Persister durably stores detection records. Failures are logged and do
// not block the in-memory lifecycle.
type Persister interface {
	SaveDetection(d *types.Detection) error
}

// Config configures the store.
type Config struct {
	Cooldown      time.Duration
	SweepInterval time.Duration
	MinGrade      types.Grade
}

// DefaultConfig returns store defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:      DefaultCooldown,
		SweepInterval: DefaultSweepInterval,
		MinGrade:      DefaultMinGrade,
	}
}

type activeKey struct {
	strategyID string
	symbol     string
	direction  types.Direction
}

// Store is the mutable singleton holding detection records. At most one
// active (non-terminal) detection exists per (strategyId, symbol,
// direction); reads and transitions for a key are serialized under one
// mutex.
type Store struct {
	logger    *zap.Logger
	cfg       Config
	persister Persister

	mu      sync.Mutex
	byID    map[string]*types.Detection
	active  map[activeKey]string // key -> detection id
	stopped chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStore creates a detection store. persister may be nil in tests.
func NewStore(logger *zap.Logger, cfg Config, persister Persister) *Store {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MinGrade == "" {
		cfg.MinGrade = DefaultMinGrade
	}
	return &Store{
		logger:    logger,
		cfg:       cfg,
		persister: persister,
		byID:      make(map[string]*types.Detection),
		active:    make(map[activeKey]string),
	}
}

// Start launches the periodic cooling_down -> eligible / expiry sweep.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = make(chan struct{})
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(s.stopped)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(time.Now())
			}
		}
	}()
}

// Stop cancels the sweep worker and waits for it to drain.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}

// Record dispatches a decision into the lifecycle. Decisions below the
// configured minimum grade are processed upstream but never persisted as
// detections. An opposite-direction active detection on the same
// (strategyId, symbol) is invalidated first.
func (s *Store) Record(d *types.Decision) *types.Detection {
	if d.Grade.Rank() < s.cfg.MinGrade.Rank() {
		return nil
	}

	now := time.Now()
	key := activeKey{strategyID: d.StrategyID, symbol: d.Symbol, direction: d.Direction}
	opposite := activeKey{strategyID: d.StrategyID, symbol: d.Symbol, direction: d.Direction.Opposite()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if oppID, ok := s.active[opposite]; ok {
		s.transitionLocked(s.byID[oppID], types.DetectionInvalidated, now, "opposite-direction signal arrived")
	}

	if id, ok := s.active[key]; ok {
		det := s.byID[id]
		det.LastDetectedAt = now
		det.DetectionCount++
		if d.Grade.Rank() > det.Grade.Rank() {
			det.Grade = d.Grade
		}
		if d.Confidence > det.Confidence {
			det.Confidence = d.Confidence
		}
		det.UpdatedAt = now
		s.persist(det)
		return copyDetection(det)
	}

	det := &types.Detection{
		ID:              uuid.NewString(),
		StrategyID:      d.StrategyID,
		Symbol:          d.Symbol,
		Direction:       d.Direction,
		Status:          types.DetectionCoolingDown,
		Grade:           d.Grade,
		Confidence:      d.Confidence,
		Entry:           d.Entry.Price,
		StopLoss:        d.StopLoss.Price,
		TakeProfit:      d.TakeProfit.Price,
		FirstDetectedAt: now,
		LastDetectedAt:  now,
		DetectionCount:  1,
		CooldownEndsAt:  now.Add(s.cfg.Cooldown),
		ValidUntil:      d.ValidUntil,
		UpdatedAt:       now,
	}
	s.byID[det.ID] = det
	s.active[key] = det.ID
	s.persist(det)
	return copyDetection(det)
}

// Sweep promotes cooled-down detections to eligible and expires detections
// past their validity window.
func (s *Store) Sweep(now time.Time) (promoted, expired int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.active {
		det := s.byID[id]
		if !det.ValidUntil.IsZero() && now.After(det.ValidUntil) {
			s.transitionLocked(det, types.DetectionExpired, now, "")
			expired++
			continue
		}
		if det.Status == types.DetectionCoolingDown && !now.Before(det.CooldownEndsAt) {
			det.Status = types.DetectionEligible
			det.UpdatedAt = now
			s.persist(det)
			promoted++
		}
	}
	return promoted, expired
}

// Execute marks a detection as taken by the user.
func (s *Store) Execute(id, notes string) (*types.Detection, error) {
	return s.terminate(id, types.DetectionExecuted, notes)
}

// Dismiss marks a detection as rejected by the user.
func (s *Store) Dismiss(id, notes string) (*types.Detection, error) {
	return s.terminate(id, types.DetectionDismissed, notes)
}

// Invalidate marks a detection invalid because market conditions changed.
func (s *Store) Invalidate(id, reason string) (*types.Detection, error) {
	return s.terminate(id, types.DetectionInvalidated, reason)
}

func (s *Store) terminate(id string, status types.DetectionStatus, notes string) (*types.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	det, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if det.Status.IsTerminal() {
		return nil, fmt.Errorf("detection %s already terminal (%s)", id, det.Status)
	}
	s.transitionLocked(det, status, time.Now(), notes)
	return copyDetection(det), nil
}

// transitionLocked moves an active detection to a terminal status and
// releases its active slot. Callers hold s.mu.
func (s *Store) transitionLocked(det *types.Detection, status types.DetectionStatus, now time.Time, notes string) {
	det.Status = status
	det.UpdatedAt = now
	if notes != "" {
		det.Notes = notes
	}
	delete(s.active, activeKey{strategyID: det.StrategyID, symbol: det.Symbol, direction: det.Direction})
	s.persist(det)
}

func (s *Store) persist(det *types.Detection) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveDetection(copyDetection(det)); err != nil {
		s.logger.Error("detection persist failed",
			zap.String("id", det.ID),
			zap.Error(err),
		)
	}
}

// Filter selects detections for Query.
type Filter struct {
	Status     types.DetectionStatus
	StrategyID string
	Symbol     string
	MinGrade   types.Grade
	Limit      int
	Offset     int
}

// Query returns matching detections ordered by last detection time,
// newest first.
func (s *Store) Query(f Filter) []*types.Detection {
	s.mu.Lock()
	matched := make([]*types.Detection, 0, len(s.byID))
	for _, det := range s.byID {
		if f.Status != "" && det.Status != f.Status {
			continue
		}
		if f.StrategyID != "" && det.StrategyID != f.StrategyID {
			continue
		}
		if f.Symbol != "" && det.Symbol != f.Symbol {
			continue
		}
		if f.MinGrade != "" && det.Grade.Rank() < f.MinGrade.Rank() {
			continue
		}
		matched = append(matched, copyDetection(det))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastDetectedAt.After(matched[j].LastDetectedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched
}

// Get returns one detection by id.
func (s *Store) Get(id string) (*types.Detection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	det, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return copyDetection(det), true
}

// Summary aggregates totals by status and by strategy.
type Summary struct {
	Total      int                           `json:"total"`
	ByStatus   map[types.DetectionStatus]int `json:"byStatus"`
	ByStrategy map[string]int                `json:"byStrategy"`
}

// Summarize returns counts by status and strategy.
func (s *Store) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{
		ByStatus:   make(map[types.DetectionStatus]int),
		ByStrategy: make(map[string]int),
	}
	for _, det := range s.byID {
		summary.Total++
		summary.ByStatus[det.Status]++
		summary.ByStrategy[det.StrategyID]++
	}
	return summary
}

// Restore loads persisted detections into memory at startup.
func (s *Store) Restore(dets []*types.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, det := range dets {
		copied := copyDetection(det)
		s.byID[copied.ID] = copied
		if !copied.Status.IsTerminal() {
			s.active[activeKey{strategyID: copied.StrategyID, symbol: copied.Symbol, direction: copied.Direction}] = copied.ID
		}
	}
}

func copyDetection(det *types.Detection) *types.Detection {
	copied := *det
	return &copied
}
