// Package scanner runs the periodic fleet-wide scan: one batched market
// data fetch, bounded-parallel strategy evaluation, then dispatch through
// the gates, tracker, detection store and broadcaster.
package scanner

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/broadcast"
	"github.com/quantarc/signal-engine/internal/cache"
	"github.com/quantarc/signal-engine/internal/detection"
	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/internal/marketdata"
	"github.com/quantarc/signal-engine/internal/metrics"
	"github.com/quantarc/signal-engine/internal/storage"
	"github.com/quantarc/signal-engine/internal/strategy"
	"github.com/quantarc/signal-engine/internal/tracker"
	"github.com/quantarc/signal-engine/pkg/types"
)

// Config is the scan configuration snapshotted at each tick.
type Config struct {
	Symbols     []string
	StrategyIDs []string // empty means every registered strategy
	MinGrade    types.Grade
	Interval    time.Duration
	Workers     int
	Settings    types.UserSettings
}

// DefaultConfig returns scanner defaults.
func DefaultConfig() Config {
	return Config{
		MinGrade: types.GradeB,
		Interval: 5 * time.Minute,
		Workers:  runtime.NumCPU(),
		Settings: types.DefaultUserSettings(),
	}
}

// Status summarizes the last completed tick.
type Status struct {
	ScannedAt      time.Time     `json:"scannedAt"`
	Duration       time.Duration `json:"duration"`
	SymbolsScanned int           `json:"symbolsScanned"`
	SignalsFound   int           `json:"signalsFound"`
	NewSignals     int           `json:"newSignals"`
	Errors         []string      `json:"errors,omitempty"`
	Running        bool          `json:"running"`
}

// Scanner is the auto-scan scheduler. Start and Stop are idempotent; Stop
// cancels the tick and drains in-flight work.
type Scanner struct {
	logger    *zap.Logger
	client    *marketdata.Client
	ttlCache  *cache.Cache
	assembler *indicators.Assembler
	registry  *strategy.Registry
	cooldown  *gates.CooldownGate
	trk       *tracker.GradeTracker
	store     *detection.Store
	persist   *storage.Store
	bcast     *broadcast.Broadcaster
	metrics   *metrics.Metrics

	mu      sync.Mutex
	cfg     Config
	status  Status
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New wires the scanner.
func New(
	logger *zap.Logger,
	cfg Config,
	client *marketdata.Client,
	ttlCache *cache.Cache,
	assembler *indicators.Assembler,
	registry *strategy.Registry,
	cooldown *gates.CooldownGate,
	trk *tracker.GradeTracker,
	store *detection.Store,
	persist *storage.Store,
	bcast *broadcast.Broadcaster,
	m *metrics.Metrics,
) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MinGrade == "" {
		cfg.MinGrade = DefaultConfig().MinGrade
	}

	return &Scanner{
		logger:    logger,
		cfg:       cfg,
		client:    client,
		ttlCache:  ttlCache,
		assembler: assembler,
		registry:  registry,
		cooldown:  cooldown,
		trk:       trk,
		store:     store,
		persist:   persist,
		bcast:     bcast,
		metrics:   m,
	}
}

// Start launches the periodic scan loop. Calling Start on a running
// scanner is a no-op.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	interval := s.cfg.Interval
	s.mu.Unlock()

	s.logger.Info("auto-scanner started", zap.Duration("interval", interval))

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.Scan(ctx) // first pass immediately

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Scan(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight work to drain. Calling
// Stop on a stopped scanner is a no-op.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("auto-scanner stopped")
}

// UpdateConfig swaps the configuration used by subsequent ticks.
func (s *Scanner) UpdateConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Interval <= 0 {
		cfg.Interval = s.cfg.Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = s.cfg.Workers
	}
	if cfg.MinGrade == "" {
		cfg.MinGrade = s.cfg.MinGrade
	}
	s.cfg = cfg
}

// Status returns the last-scan summary.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.status
	status.Running = s.running
	return status
}

// Scan executes one tick against a config snapshot. All (symbol, strategy)
// evaluations within the tick share the market-data snapshot fetched here.
func (s *Scanner) Scan(ctx context.Context) Status {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	start := time.Now()
	status := Status{ScannedAt: start}

	enabled := s.enabledStrategies(cfg)
	byStyle := make(map[types.TradeStyle][]strategy.Strategy)
	for _, st := range enabled {
		byStyle[st.Meta().Style] = append(byStyle[st.Meta().Style], st)
	}

	for style, stratList := range byStyle {
		if ctx.Err() != nil {
			break
		}
		s.scanStyle(ctx, cfg, style, stratList, &status)
	}

	status.Duration = time.Since(start)

	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ScanTicks.Inc()
		s.metrics.ScanDuration.Observe(status.Duration.Seconds())
		s.metrics.SymbolsScanned.Add(float64(status.SymbolsScanned))
		s.metrics.NewSignals.Add(float64(status.NewSignals))
		s.metrics.ScanErrors.Add(float64(len(status.Errors)))
	}

	s.logger.Info("scan tick complete",
		zap.Int("symbols", status.SymbolsScanned),
		zap.Int("signals", status.SignalsFound),
		zap.Int("new_signals", status.NewSignals),
		zap.Int("errors", len(status.Errors)),
		zap.Duration("duration", status.Duration),
	)
	return status
}

func (s *Scanner) enabledStrategies(cfg Config) []strategy.Strategy {
	if len(cfg.StrategyIDs) == 0 {
		return s.registry.List()
	}
	var out []strategy.Strategy
	for _, id := range cfg.StrategyIDs {
		if st, ok := s.registry.Get(id); ok {
			out = append(out, st)
		}
	}
	return out
}

// cachedOutcome memoizes one (symbol, strategy) evaluation. A nil decision
// is a no-trade outcome.
type cachedOutcome struct {
	decision *types.Decision
}

func decisionKey(symbol string, style types.TradeStyle, strategyID string) string {
	return cache.Key(symbol, indicators.EntryTimeframe(style), "decision:"+strategyID, nil, "")
}

// scanStyle performs the batched fetch and evaluation for one style group.
// Symbols whose every (symbol, strategy) outcome is still cached incur no
// upstream calls.
func (s *Scanner) scanStyle(ctx context.Context, cfg Config, style types.TradeStyle, stratList []strategy.Strategy, status *Status) {
	ids := make([]string, 0, len(stratList))
	for _, st := range stratList {
		ids = append(ids, st.Meta().ID)
	}
	required := s.registry.RequiredIndicators(ids)

	var fetchSymbols []string
	var cachedDecisions []*types.Decision
	for _, symbol := range cfg.Symbols {
		allCached := true
		var fromCache []*types.Decision
		for _, st := range stratList {
			value, ok := s.ttlCache.Get(decisionKey(symbol, style, st.Meta().ID))
			if !ok {
				allCached = false
				break
			}
			if outcome := value.(cachedOutcome); outcome.decision != nil {
				fromCache = append(fromCache, outcome.decision)
			}
		}
		if allCached {
			status.SymbolsScanned++
			cachedDecisions = append(cachedDecisions, fromCache...)
			continue
		}
		fetchSymbols = append(fetchSymbols, symbol)
	}

	type job struct {
		bundle *indicators.Bundle
		strat  strategy.Strategy
	}
	jobs := make([]job, 0, len(fetchSymbols)*len(stratList))

	var results map[string]*marketdata.BatchResult
	if len(fetchSymbols) > 0 {
		requests := indicators.BatchRequests(s.client, fetchSymbols, style, required)
		results = s.client.GetBatch(ctx, requests)
	}

	for _, symbol := range fetchSymbols {
		if ctx.Err() != nil {
			return
		}
		bundle, err := s.assembler.AssembleFromResults(ctx, symbol, style, results)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("%s: %v", symbol, err))
			s.logger.Warn("symbol skipped: incomplete market data",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			continue
		}
		status.SymbolsScanned++
		for _, st := range stratList {
			jobs = append(jobs, job{bundle: bundle, strat: st})
		}
	}

	// Bounded-parallel evaluation; Analyze is pure CPU and never suspends.
	decisions := make([]*types.Decision, len(jobs))
	sem := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup
	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, j job) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("strategy panic recovered",
						zap.String("strategy", j.strat.Meta().ID),
						zap.String("symbol", j.bundle.Symbol),
						zap.Any("panic", r),
					)
				}
			}()
			decisions[i] = j.strat.Analyze(j.bundle, cfg.Settings)
		}(i, j)
	}
	wg.Wait()

	// Memoize outcomes: trade decisions for the decision TTL, no-trades
	// for the shorter no-trade TTL. A cancelled tick memoizes nothing.
	if ctx.Err() != nil {
		return
	}
	for i, j := range jobs {
		key := decisionKey(j.bundle.Symbol, style, j.strat.Meta().ID)
		if decisions[i] != nil {
			s.ttlCache.Set(key, cachedOutcome{decision: decisions[i]}, cache.TTLFor(cache.ClassDecision, ""))
		} else {
			s.ttlCache.Set(key, cachedOutcome{}, cache.TTLFor(cache.ClassNoTrade, ""))
		}
	}

	decisions = append(decisions, cachedDecisions...)

	for _, d := range decisions {
		if d == nil {
			continue
		}
		status.SignalsFound++
		if s.metrics != nil {
			s.metrics.SignalsFound.WithLabelValues(string(d.Grade)).Inc()
		}
		if d.Grade.Rank() < cfg.MinGrade.Rank() {
			continue
		}
		s.dispatch(d, status)
	}
}

// dispatch routes one above-threshold decision through the cooldown gate,
// detection store, grade tracker, persistence and broadcaster. Stores
// commit before any event is emitted.
func (s *Scanner) dispatch(d *types.Decision, status *Status) {
	isNew := s.trk.IsNewSignal(d.Symbol, d.StrategyID, d.Direction)

	// Lifecycle and grade state always advance, even when the cooldown
	// suppresses the broadcast; redetections still count.
	s.store.Record(d)
	upgrade := s.trk.Update(d.Symbol, d.StrategyID, d.StrategyName, d.Grade, d.Direction)

	verdict := s.cooldown.TryAcquire(d.Symbol, d.Style, d.Direction, d.Grade)
	if !verdict.Allowed {
		s.logger.Debug("signal suppressed by cooldown",
			zap.String("symbol", d.Symbol),
			zap.String("strategy", d.StrategyID),
			zap.String("reason", verdict.Reason),
		)
		return
	}

	if s.persist != nil {
		if err := s.persist.SaveSignal(d); err != nil {
			s.logger.Error("signal persist failed", zap.String("id", d.ID), zap.Error(err))
		}
	}

	if isNew {
		status.NewSignals++
		s.bcast.PublishSignal(d)
	} else if upgrade != nil {
		s.bcast.PublishUpgrade(d, *upgrade)
	}
}
