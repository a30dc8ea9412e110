package gates

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/pkg/types"
)

// Cooldown TTLs per style: 4h intraday, 24h swing.
const (
	IntradayCooldownTTL = 4 * time.Hour
	SwingCooldownTTL    = 24 * time.Hour
)

// CooldownKey identifies one cooldown slot.
type CooldownKey struct {
	Symbol    string           `json:"symbol"`
	Style     types.TradeStyle `json:"style"`
	Direction types.Direction  `json:"direction"`
}

// CooldownEntry records the last emitted signal for a key.
type CooldownEntry struct {
	Grade     types.Grade `json:"grade"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// CooldownVerdict is the result of a check-and-set attempt.
type CooldownVerdict struct {
	Allowed   bool          `json:"allowed"`
	Reason    string        `json:"reason,omitempty"`
	Remaining time.Duration `json:"remaining,omitempty"`
}

// CooldownGate suppresses duplicate emissions per (symbol, style,
// direction). Check and record are one atomic operation per key.
type CooldownGate struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries map[CooldownKey]CooldownEntry
}

// NewCooldownGate creates an empty gate.
func NewCooldownGate(logger *zap.Logger) *CooldownGate {
	return &CooldownGate{
		logger:  logger,
		entries: make(map[CooldownKey]CooldownEntry),
	}
}

// TryAcquire atomically checks the key and, when allowed, records the new
// signal. A subsequent attempt is allowed when the key has no active entry,
// the entry has expired, or the new grade is strictly higher. A flipped
// direction lands on its own key and is therefore allowed by construction.
func (g *CooldownGate) TryAcquire(symbol string, style types.TradeStyle, direction types.Direction, grade types.Grade) CooldownVerdict {
	now := time.Now()
	key := CooldownKey{Symbol: symbol, Style: style, Direction: direction}

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, exists := g.entries[key]
	if exists && now.Before(entry.ExpiresAt) && grade.Rank() <= entry.Grade.Rank() {
		remaining := entry.ExpiresAt.Sub(now)
		return CooldownVerdict{
			Allowed:   false,
			Reason:    fmt.Sprintf("cooldown active for %s %s %s (%s remaining)", symbol, style, direction, remaining.Round(time.Second)),
			Remaining: remaining,
		}
	}

	g.entries[key] = CooldownEntry{
		Grade:     grade,
		CreatedAt: now,
		ExpiresAt: now.Add(ttlForStyle(style)),
	}
	return CooldownVerdict{Allowed: true}
}

// Peek returns the active entry for a key without mutating it.
func (g *CooldownGate) Peek(symbol string, style types.TradeStyle, direction types.Direction) (CooldownEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[CooldownKey{Symbol: symbol, Style: style, Direction: direction}]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return CooldownEntry{}, false
	}
	return entry, true
}

// Sweep drops expired entries and returns the number removed.
func (g *CooldownGate) Sweep() int {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, entry := range g.entries {
		if now.After(entry.ExpiresAt) {
			delete(g.entries, key)
			removed++
		}
	}
	return removed
}

// Snapshot returns a copy of the active entries for persistence.
func (g *CooldownGate) Snapshot() map[CooldownKey]CooldownEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[CooldownKey]CooldownEntry, len(g.entries))
	for k, v := range g.entries {
		out[k] = v
	}
	return out
}

// Restore loads persisted entries, skipping expired ones.
func (g *CooldownGate) Restore(entries map[CooldownKey]CooldownEntry) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, v := range entries {
		if now.Before(v.ExpiresAt) {
			g.entries[k] = v
		}
	}
}

func ttlForStyle(style types.TradeStyle) time.Duration {
	if style == types.StyleSwing {
		return SwingCooldownTTL
	}
	return IntradayCooldownTTL
}
