// Package main is the entry point for the signal-engine server: the
// auto-scanning, multi-strategy trade decision service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantarc/signal-engine/internal/api"
	"github.com/quantarc/signal-engine/internal/breaker"
	"github.com/quantarc/signal-engine/internal/broadcast"
	"github.com/quantarc/signal-engine/internal/cache"
	"github.com/quantarc/signal-engine/internal/config"
	"github.com/quantarc/signal-engine/internal/decision"
	"github.com/quantarc/signal-engine/internal/detection"
	"github.com/quantarc/signal-engine/internal/gates"
	"github.com/quantarc/signal-engine/internal/indicators"
	"github.com/quantarc/signal-engine/internal/marketdata"
	"github.com/quantarc/signal-engine/internal/metrics"
	"github.com/quantarc/signal-engine/internal/preflight"
	"github.com/quantarc/signal-engine/internal/ratelimit"
	"github.com/quantarc/signal-engine/internal/scanner"
	"github.com/quantarc/signal-engine/internal/sizing"
	"github.com/quantarc/signal-engine/internal/storage"
	"github.com/quantarc/signal-engine/internal/strategy"
	"github.com/quantarc/signal-engine/internal/tracker"
	"github.com/quantarc/signal-engine/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting signal engine",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Strings("symbols", cfg.Symbols),
		zap.String("min_grade", string(cfg.MinGrade)),
		zap.Duration("scan_interval", cfg.ScanInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared infrastructure singletons.
	ttlCache := cache.New(logger)
	limiter := ratelimit.New(logger, ratelimit.DefaultConfig())
	breakers := breaker.NewManager(logger, breaker.DefaultConfig())
	m := metrics.New(nil)

	client := marketdata.New(logger, marketdata.Config{
		BaseURL:        cfg.ProviderBaseURL,
		APIKey:         cfg.ProviderAPIKey,
		CryptoExchange: cfg.CryptoExchange,
	}, ttlCache, limiter, breakers.Get("market_data"))

	assembler := indicators.NewAssembler(logger, client)

	// Persistence: relational preferred, file fallback always present.
	fileStore, err := storage.NewFileStore(logger, cfg.DataDir)
	if err != nil {
		logger.Fatal("file store init failed", zap.Error(err))
	}
	var primary storage.Backend
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresStore(logger, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("postgres unavailable, running on file fallback", zap.Error(err))
		} else {
			primary = pg
		}
	}
	store := storage.New(logger, primary, fileStore)

	// Strategy kernel.
	volatility := gates.NewVolatilityGate(logger, gates.DefaultVolatilityConfig())
	gate := preflight.NewGate(logger, volatility)
	sizer := sizing.NewSizer(logger)
	builder := decision.NewBuilder(logger, sizer)
	registry := strategy.DefaultRegistry(logger, gate, builder)

	// Stateful singletons.
	cooldown := gates.NewCooldownGate(logger)
	if entries, err := store.LoadCooldowns(); err == nil {
		cooldown.Restore(entries)
	}
	trk := tracker.New(logger)
	detections := detection.NewStore(logger, detection.DefaultConfig(), store)
	if dets, err := store.LoadDetections(); err == nil {
		detections.Restore(dets)
	}

	bcast := broadcast.New(logger, 128)
	alerts := broadcast.NewAlertSubscriber(logger, bcast, newLogAlertSink(logger, store))

	sc := scanner.New(logger, scanner.Config{
		Symbols:  cfg.Symbols,
		MinGrade: cfg.MinGrade,
		Interval: cfg.ScanInterval,
		Settings: types.UserSettings{
			AccountSize:        cfg.AccountSize,
			RiskPercent:        cfg.RiskPercent,
			MaxPositionPercent: 10,
			Style:              types.StyleIntraday,
		},
	}, client, ttlCache, assembler, registry, cooldown, trk, detections, store, bcast, m)

	// Startup canary: alignment violations are a hard abort; upstream
	// unavailability is not.
	runCanary(ctx, logger, assembler, cfg.Symbols)

	// Run.
	detections.Start(ctx)
	alerts.Start(ctx)
	sc.Start(ctx)

	// Gauge refresh for the shared-infrastructure metrics.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cacheStats := ttlCache.GetStats()
				m.CacheHits.Set(float64(cacheStats.Hits))
				m.CacheMisses.Set(float64(cacheStats.Misses))
				m.QueueDepth.Set(float64(limiter.QueueDepth()))
				m.Subscribers.Set(float64(bcast.SubscriberCount()))
				for _, stat := range breakers.AllStats() {
					open := 0.0
					if stat.State == "open" {
						open = 1
					}
					m.BreakerOpen.WithLabelValues(stat.Name).Set(open)
				}
			}
		}
	}()

	server := api.NewServer(logger, sc, detections, registry, trk, bcast, breakers, ttlCache, limiter)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Drain and close on signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	sc.Stop()
	alerts.Stop()
	detections.Stop()
	bcast.Close()
	limiter.Close()

	if err := store.SaveCooldowns(cooldown.Snapshot()); err != nil {
		logger.Warn("cooldown snapshot persist failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// runCanary pushes a small symbol set through the assembler and aborts on
// alignment violations.
func runCanary(ctx context.Context, logger *zap.Logger, assembler *indicators.Assembler, symbols []string) {
	canaries := symbols
	if len(canaries) > 2 {
		canaries = canaries[:2]
	}

	canaryCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, symbol := range canaries {
		bundle, err := assembler.Assemble(canaryCtx, symbol, types.StyleIntraday)
		if err != nil {
			logger.Warn("canary fetch failed, continuing", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if misaligned := bundle.CheckAlignment(); len(misaligned) > 0 {
			logger.Fatal("canary alignment violation",
				zap.String("symbol", symbol),
				zap.Strings("series", misaligned),
			)
		}
		logger.Info("canary validated", zap.String("symbol", symbol), zap.Int("bars", len(bundle.Bars)))
	}
}

// logAlertSink forwards alerts to the log and alert history. It is the only
// alert sink wired here; ALERT_EMAIL_KEY is loaded into the config but unused.
type logAlertSink struct {
	logger *zap.Logger
	store  *storage.Store
}

func newLogAlertSink(logger *zap.Logger, store *storage.Store) *logAlertSink {
	return &logAlertSink{logger: logger, store: store}
}

func (s *logAlertSink) Send(ctx context.Context, d *types.Decision) error {
	s.logger.Info("ALERT",
		zap.String("symbol", d.Symbol),
		zap.String("strategy", d.StrategyName),
		zap.String("direction", string(d.Direction)),
		zap.String("grade", string(d.Grade)),
		zap.Int("confidence", d.Confidence),
		zap.String("entry", d.Entry.Formatted),
		zap.String("stop", d.StopLoss.Formatted),
		zap.String("target", d.TakeProfit.Formatted),
	)
	return s.store.RecordAlert(d)
}

func setupLogger(level string) *zap.Logger {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	return logger
}
