// Package ratelimit_test provides tests for the token-bucket limiter.
package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/ratelimit"
)

func TestAcquireWithinCapacity(t *testing.T) {
	limiter := ratelimit.New(zap.NewNop(), ratelimit.Config{
		MaxTokens:        5,
		RefillRatePerSec: 100,
		MaxQueueSize:     10,
	})
	defer limiter.Close()

	for i := 0; i < 5; i++ {
		if _, err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}

	stats := limiter.GetStats()
	if stats.Acquired != 5 {
		t.Errorf("Expected 5 acquired, got %d", stats.Acquired)
	}
}

func TestAcquireTimeout(t *testing.T) {
	limiter := ratelimit.New(zap.NewNop(), ratelimit.Config{
		MaxTokens:        1,
		RefillRatePerSec: 0.001,
		MaxQueueSize:     10,
	})
	defer limiter.Close()

	if _, err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	_, err := limiter.AcquireTimeout(context.Background(), 50*time.Millisecond)
	if err != ratelimit.ErrAcquireTimeout {
		t.Errorf("Expected ErrAcquireTimeout, got %v", err)
	}

	if got := limiter.GetStats().TimedOut; got != 1 {
		t.Errorf("Expected 1 timeout, got %d", got)
	}
}

func TestQueueOverflowRejectsGracefully(t *testing.T) {
	limiter := ratelimit.New(zap.NewNop(), ratelimit.Config{
		MaxTokens:        1,
		RefillRatePerSec: 0.001,
		MaxQueueSize:     2,
	})
	defer limiter.Close()

	// Drain the single token.
	if _, err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("drain acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	// Fill the queue with two blocked waiters.
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter.Acquire(ctx)
		}()
	}

	// Wait until both waiters are queued.
	deadline := time.Now().Add(time.Second)
	for limiter.QueueDepth() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("waiters never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := limiter.Acquire(context.Background()); err != ratelimit.ErrQueueFull {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	cancel()
	wg.Wait()
}

func TestResetCancelsWaiters(t *testing.T) {
	limiter := ratelimit.New(zap.NewNop(), ratelimit.Config{
		MaxTokens:        1,
		RefillRatePerSec: 0.001,
		MaxQueueSize:     10,
	})
	defer limiter.Close()

	if _, err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("drain acquire failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := limiter.Acquire(context.Background())
		errCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	for limiter.QueueDepth() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	limiter.Reset()

	select {
	case err := <-errCh:
		if err != ratelimit.ErrLimiterReset {
			t.Errorf("Expected ErrLimiterReset, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not cancelled by reset")
	}

	// Bucket refilled: an immediate acquire succeeds.
	if _, err := limiter.AcquireTimeout(context.Background(), time.Second); err != nil {
		t.Errorf("post-reset acquire failed: %v", err)
	}
}

func TestBackpressureAnnotation(t *testing.T) {
	limiter := ratelimit.New(zap.NewNop(), ratelimit.Config{
		MaxTokens:             4,
		RefillRatePerSec:      1000,
		MaxQueueSize:          4,
		BackpressureThreshold: 1,
	})
	defer limiter.Close()

	result, err := limiter.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !result.Backpressure {
		t.Error("Expected backpressure flag at threshold depth")
	}
}
