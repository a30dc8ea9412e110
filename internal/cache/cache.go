// Package cache provides the process-wide TTL cache used to memoize
// idempotent provider responses and decisions. Callers never short-circuit
// around it.
package cache

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/pkg/types"
)

// sweepInterval is the background janitor period for expired entries.
const sweepInterval = 5 * time.Minute

// DataClass selects a TTL band.
type DataClass string

const (
	ClassOHLCV      DataClass = "ohlcv"
	ClassIndicator  DataClass = "indicator"
	ClassAggregated DataClass = "aggregated"
	ClassDecision   DataClass = "decision"
	ClassNoTrade    DataClass = "no-trade"
)

// TTLFor returns the TTL band for a data class and timeframe.
func TTLFor(class DataClass, tf types.Timeframe) time.Duration {
	switch class {
	case ClassOHLCV, ClassIndicator:
		switch tf {
		case types.TimeframeH4:
			return 30 * time.Minute
		case types.TimeframeD1:
			return 4 * time.Hour
		default:
			return 5 * time.Minute
		}
	case ClassAggregated:
		return 30 * time.Minute
	case ClassDecision:
		return 5 * time.Minute
	case ClassNoTrade:
		return 2 * time.Minute
	}
	return 5 * time.Minute
}

// Key builds the deterministic cache key
// "<symbol>:<timeframe>:<indicator>[:<sorted params>][:<candleTime>]".
func Key(symbol string, tf types.Timeframe, indicator string, params map[string]string, candleTime string) string {
	parts := []string{symbol, string(tf), indicator}

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, k+"="+params[k])
		}
		parts = append(parts, strings.Join(kv, ","))
	}
	if candleTime != "" {
		parts = append(parts, candleTime)
	}
	return strings.Join(parts, ":")
}

// Stats exposes cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Cache is a keyed in-memory store with per-entry expiry and prefix delete.
type Cache struct {
	logger *zap.Logger
	store  *gocache.Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates the cache with a 5-minute background sweep.
func New(logger *zap.Logger) *Cache {
	return &Cache{
		logger: logger,
		store:  gocache.New(gocache.NoExpiration, sweepInterval),
	}
}

// Get returns the value for key if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	value, ok := c.store.Get(key)
	if ok {
		c.hits.Add(1)
		return value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.store.Set(key, value, ttl)
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}

// DeletePattern erases every key with the given prefix and returns the
// number of entries removed.
func (c *Cache) DeletePattern(prefix string) int {
	removed := 0
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			removed++
		}
	}
	if c.logger != nil && removed > 0 {
		c.logger.Debug("cache pattern delete",
			zap.String("prefix", prefix),
			zap.Int("removed", removed),
		)
	}
	return removed
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.store.Flush()
}

// GetStats returns hit/miss counters and the live entry count.
func (c *Cache) GetStats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.store.ItemCount(),
	}
}
