// Package breaker provides fail-fast circuit breakers around each external
// dependency (market data provider, database).
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CircuitOpenError is returned when a call is rejected because the circuit
// is open. NextRetry is the earliest time a probe will be allowed through.
type CircuitOpenError struct {
	Name      string
	NextRetry time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q is open, retry after %s", e.Name, e.NextRetry.Format(time.RFC3339))
}

// Config configures a single circuit.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	ResetTimeout     time.Duration // open duration before half-open probe
}

// DefaultConfig returns defaults suitable for an external HTTP dependency.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// Stats is a snapshot of a circuit's state and counters.
type Stats struct {
	Name                 string    `json:"name"`
	State                string    `json:"state"`
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"totalSuccesses"`
	TotalFailures        uint32    `json:"totalFailures"`
	ConsecutiveSuccesses uint32    `json:"consecutiveSuccesses"`
	ConsecutiveFailures  uint32    `json:"consecutiveFailures"`
	LastSuccess          time.Time `json:"lastSuccess,omitempty"`
	LastFailure          time.Time `json:"lastFailure,omitempty"`
	NextRetry            time.Time `json:"nextRetry,omitempty"`
}

// Breaker wraps a gobreaker circuit with the engine's config vocabulary
// and open-error translation.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	cb     *gobreaker.CircuitBreaker

	mu          sync.RWMutex
	openedAt    time.Time
	lastSuccess time.Time
	lastFailure time.Time
}

// New creates a breaker for one upstream dependency.
func New(logger *zap.Logger, name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}

	b := &Breaker{name: name, cfg: cfg, logger: logger}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
			}
			if logger != nil {
				logger.Warn("circuit state change",
					zap.String("circuit", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}
		},
	})

	return b
}

// Execute runs fn through the circuit. Open-state rejections are translated
// to *CircuitOpenError so callers can schedule retries.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)

	now := time.Now()
	b.mu.Lock()
	if err == nil {
		b.lastSuccess = now
	} else if err != gobreaker.ErrOpenState && err != gobreaker.ErrTooManyRequests {
		b.lastFailure = now
	}
	b.mu.Unlock()

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, &CircuitOpenError{Name: b.name, NextRetry: b.nextRetry()}
	}
	return result, err
}

func (b *Breaker) nextRetry() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.openedAt.IsZero() {
		return time.Now().Add(b.cfg.ResetTimeout)
	}
	return b.openedAt.Add(b.cfg.ResetTimeout)
}

// State returns the current circuit state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// GetStats returns a snapshot of the circuit.
func (b *Breaker) GetStats() Stats {
	counts := b.cb.Counts()
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		Name:                 b.name,
		State:                b.cb.State().String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		LastSuccess:          b.lastSuccess,
		LastFailure:          b.lastFailure,
	}
	if b.cb.State() == gobreaker.StateOpen {
		s.NextRetry = b.openedAt.Add(b.cfg.ResetTimeout)
	}
	return s
}

// Manager keeps one breaker per upstream dependency.
type Manager struct {
	logger *zap.Logger
	cfg    Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewManager creates a breaker registry with a shared default config.
func NewManager(logger *zap.Logger, cfg Config) *Manager {
	return &Manager{
		logger:   logger,
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a dependency, creating it on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(m.logger, name, m.cfg)
	m.breakers[name] = b
	return b
}

// AllStats returns stats for every registered circuit.
func (m *Manager) AllStats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Stats, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.GetStats())
	}
	return out
}
