// Package ratelimit provides token-bucket admission control for upstream
// provider calls with a bounded waiter queue and backpressure signalling.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Errors returned by Acquire.
var (
	ErrQueueFull      = &LimiterError{Message: "rate limiter queue is full"}
	ErrAcquireTimeout = &LimiterError{Message: "rate limiter acquire timed out"}
	ErrLimiterReset   = &LimiterError{Message: "rate limiter was reset"}
	ErrLimiterClosed  = &LimiterError{Message: "rate limiter is closed"}
)

// LimiterError represents a rate limiter error.
type LimiterError struct {
	Message string
}

func (e *LimiterError) Error() string { return e.Message }

// Config configures the limiter.
type Config struct {
	MaxTokens               int           // bucket capacity
	RefillRatePerSec        float64       // tokens added per second
	MinDelayBetweenAcquires time.Duration // burst smoothing between fulfilled acquires
	MaxQueueSize            int           // waiters beyond this are rejected
	BackpressureThreshold   int           // waiters at or beyond this are flagged
}

// DefaultConfig returns defaults sized for a free-tier data provider.
func DefaultConfig() Config {
	return Config{
		MaxTokens:               8,
		RefillRatePerSec:        8.0 / 60.0,
		MinDelayBetweenAcquires: 150 * time.Millisecond,
		MaxQueueSize:            100,
		BackpressureThreshold:   75,
	}
}

// Result describes a fulfilled acquire.
type Result struct {
	Backpressure bool          `json:"backpressure"`
	Waited       time.Duration `json:"waited"`
}

// Stats exposes limiter counters.
type Stats struct {
	Acquired      int64 `json:"acquired"`
	Rejected      int64 `json:"rejected"`
	TimedOut      int64 `json:"timedOut"`
	ResetCancels  int64 `json:"resetCancels"`
	Backpressured int64 `json:"backpressured"`
	QueueDepth    int64 `json:"queueDepth"`
}

// Limiter is a token-bucket rate limiter. Token refill arithmetic is
// delegated to rate.Limiter; the bounded FIFO waiter queue, backpressure
// flagging and min-delay smoothing are layered on top.
type Limiter struct {
	logger *zap.Logger
	cfg    Config

	mu      sync.Mutex
	bucket  *rate.Limiter
	resetCh chan struct{}
	closed  bool

	delayMu     sync.Mutex
	lastAcquire time.Time

	queueDepth    atomic.Int64
	acquired      atomic.Int64
	rejected      atomic.Int64
	timedOut      atomic.Int64
	resetCancels  atomic.Int64
	backpressured atomic.Int64
}

// New creates a limiter with a full bucket.
func New(logger *zap.Logger, cfg Config) *Limiter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.RefillRatePerSec <= 0 {
		cfg.RefillRatePerSec = DefaultConfig().RefillRatePerSec
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if cfg.BackpressureThreshold <= 0 || cfg.BackpressureThreshold > cfg.MaxQueueSize {
		cfg.BackpressureThreshold = cfg.MaxQueueSize * 3 / 4
	}

	return &Limiter{
		logger:  logger,
		cfg:     cfg,
		bucket:  rate.NewLimiter(rate.Limit(cfg.RefillRatePerSec), cfg.MaxTokens),
		resetCh: make(chan struct{}),
	}
}

// Acquire blocks until a token is available, the context expires, or the
// limiter is reset. Queue overflow is a graceful rejection, not fatal.
func (l *Limiter) Acquire(ctx context.Context) (Result, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Result{}, ErrLimiterClosed
	}
	bucket := l.bucket
	resetCh := l.resetCh
	l.mu.Unlock()

	depth := l.queueDepth.Add(1)
	defer l.queueDepth.Add(-1)

	if depth > int64(l.cfg.MaxQueueSize) {
		l.rejected.Add(1)
		return Result{}, ErrQueueFull
	}

	backpressure := depth >= int64(l.cfg.BackpressureThreshold)
	if backpressure {
		l.backpressured.Add(1)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	reset := &atomic.Bool{}
	go func() {
		select {
		case <-resetCh:
			reset.Store(true)
			cancel()
		case <-waitCtx.Done():
		}
	}()

	start := time.Now()
	if err := bucket.Wait(waitCtx); err != nil {
		if reset.Load() {
			l.resetCancels.Add(1)
			return Result{}, ErrLimiterReset
		}
		l.timedOut.Add(1)
		return Result{}, ErrAcquireTimeout
	}

	if err := l.smooth(ctx); err != nil {
		l.timedOut.Add(1)
		return Result{}, ErrAcquireTimeout
	}

	l.acquired.Add(1)
	return Result{Backpressure: backpressure, Waited: time.Since(start)}, nil
}

// AcquireTimeout is Acquire with an explicit deadline.
func (l *Limiter) AcquireTimeout(ctx context.Context, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.Acquire(ctx)
}

// smooth enforces MinDelayBetweenAcquires between fulfilled acquires.
func (l *Limiter) smooth(ctx context.Context) error {
	if l.cfg.MinDelayBetweenAcquires <= 0 {
		return nil
	}

	l.delayMu.Lock()
	defer l.delayMu.Unlock()

	now := time.Now()
	if wait := l.cfg.MinDelayBetweenAcquires - now.Sub(l.lastAcquire); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.lastAcquire = time.Now()
	return nil
}

// Reset cancels all waiters with a reset error and refills the bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	close(l.resetCh)
	l.resetCh = make(chan struct{})
	l.bucket = rate.NewLimiter(rate.Limit(l.cfg.RefillRatePerSec), l.cfg.MaxTokens)

	if l.logger != nil {
		l.logger.Info("rate limiter reset", zap.Int64("waiters_cancelled", l.queueDepth.Load()))
	}
}

// Close cancels waiters and rejects further acquires.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.resetCh)
}

// QueueDepth returns the number of waiters currently queued.
func (l *Limiter) QueueDepth() int64 {
	return l.queueDepth.Load()
}

// GetStats returns current counters.
func (l *Limiter) GetStats() Stats {
	return Stats{
		Acquired:      l.acquired.Load(),
		Rejected:      l.rejected.Load(),
		TimedOut:      l.timedOut.Load(),
		ResetCancels:  l.resetCancels.Load(),
		Backpressured: l.backpressured.Load(),
		QueueDepth:    l.queueDepth.Load(),
	}
}
