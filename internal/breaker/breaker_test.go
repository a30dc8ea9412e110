// Package breaker_test provides tests for the circuit breaker wrapper.
package breaker_test

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/breaker"
)

var errUpstream = errors.New("upstream failed")

func failing() (interface{}, error) { return nil, errUpstream }
func succeeding() (interface{}, error) { return "ok", nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := breaker.New(zap.NewNop(), "market_data", breaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     time.Minute,
	})

	for i := 0; i < 5; i++ {
		if _, err := b.Execute(failing); !errors.Is(err, errUpstream) {
			t.Fatalf("failure %d: expected upstream error, got %v", i, err)
		}
	}

	// Sixth call must fail fast without invoking the function.
	invoked := false
	_, err := b.Execute(func() (interface{}, error) {
		invoked = true
		return nil, nil
	})

	var openErr *breaker.CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected CircuitOpenError, got %v", err)
	}
	if invoked {
		t.Error("Call was issued while the circuit was open")
	}
	if openErr.Name != "market_data" {
		t.Errorf("Expected circuit name market_data, got %s", openErr.Name)
	}
	if openErr.NextRetry.Before(time.Now()) {
		t.Error("NextRetry should be in the future")
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	b := breaker.New(zap.NewNop(), "market_data", breaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		b.Execute(failing)
	}
	if b.State() != "open" {
		t.Fatalf("Expected open state, got %s", b.State())
	}

	time.Sleep(80 * time.Millisecond)

	// Two half-open successes close the circuit.
	for i := 0; i < 2; i++ {
		if _, err := b.Execute(succeeding); err != nil {
			t.Fatalf("half-open success %d failed: %v", i, err)
		}
	}
	if b.State() != "closed" {
		t.Errorf("Expected closed state after recovery, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := breaker.New(zap.NewNop(), "database", breaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		b.Execute(failing)
	}
	time.Sleep(80 * time.Millisecond)

	b.Execute(failing)
	if b.State() != "open" {
		t.Errorf("Expected reopened circuit, got %s", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := breaker.New(zap.NewNop(), "market_data", breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
	})

	b.Execute(failing)
	b.Execute(failing)
	b.Execute(succeeding)
	b.Execute(failing)
	b.Execute(failing)

	if b.State() != "closed" {
		t.Errorf("Expected closed state, got %s", b.State())
	}
}

func TestManagerKeepsOneBreakerPerDependency(t *testing.T) {
	m := breaker.NewManager(zap.NewNop(), breaker.DefaultConfig())

	a := m.Get("market_data")
	b := m.Get("market_data")
	if a != b {
		t.Error("Expected the same breaker instance per dependency")
	}

	if len(m.AllStats()) != 1 {
		t.Errorf("Expected 1 circuit, got %d", len(m.AllStats()))
	}
}
