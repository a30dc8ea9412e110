package broadcast

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/pkg/types"
)

// Alert forwarding floor.
const minAlertGrade = types.GradeA

// AlertSink receives the deduplicated, high-grade subset of signal events
// (the log-and-history sink in cmd/server, a recorder in tests).
type AlertSink interface {
	Send(ctx context.Context, d *types.Decision) error
}

type suppressionEntry struct {
	grade     types.Grade
	direction types.Direction
	expiresAt time.Time
}

type alertKey struct {
	symbol     string
	strategyID string
	direction  types.Direction
}

// AlertSubscriber consumes the broadcast stream and forwards grade >= A
// decisions to the sink, suppressing repeats per (symbol, strategyId,
// direction) for the signal's validity window unless the direction flipped
// or the grade strictly improved.
type AlertSubscriber struct {
	logger *zap.Logger
	sink   AlertSink
	sub    *Subscriber

	mu         sync.Mutex
	suppressed map[alertKey]suppressionEntry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAlertSubscriber attaches an alert consumer to the broadcaster.
func NewAlertSubscriber(logger *zap.Logger, b *Broadcaster, sink AlertSink) *AlertSubscriber {
	return &AlertSubscriber{
		logger:     logger,
		sink:       sink,
		sub:        b.Subscribe(),
		suppressed: make(map[alertKey]suppressionEntry),
	}
}

// Start launches the consume loop.
func (a *AlertSubscriber) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-a.sub.C:
				if !ok {
					return
				}
				if event.Type == EventSignal || event.Type == EventUpgrade {
					a.handle(ctx, event)
				}
			}
		}
	}()
}

// Stop detaches from the broadcaster and waits for the loop to drain.
func (a *AlertSubscriber) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.sub.Close()
	if a.done != nil {
		<-a.done
	}
}

func (a *AlertSubscriber) handle(ctx context.Context, event Event) {
	// Signal and upgrade events both carry the triggering decision; a
	// missing payload is a malformed event.
	d := event.Decision
	if d == nil {
		a.logger.Warn("event without decision payload dropped", zap.String("type", string(event.Type)))
		return
	}
	if !a.shouldSend(d) {
		return
	}
	if err := a.sink.Send(ctx, d); err != nil {
		a.logger.Error("alert send failed",
			zap.String("symbol", d.Symbol),
			zap.String("strategy", d.StrategyID),
			zap.Error(err),
		)
	}
}

// shouldSend applies the grade floor and the suppression cache atomically.
func (a *AlertSubscriber) shouldSend(d *types.Decision) bool {
	if d.Grade.Rank() < minAlertGrade.Rank() {
		return false
	}

	now := time.Now()
	key := alertKey{symbol: d.Symbol, strategyID: d.StrategyID, direction: d.Direction}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, exists := a.suppressed[key]
	if exists && now.Before(entry.expiresAt) &&
		entry.direction == d.Direction && d.Grade.Rank() <= entry.grade.Rank() {
		return false
	}

	a.suppressed[key] = suppressionEntry{
		grade:     d.Grade,
		direction: d.Direction,
		expiresAt: d.ValidUntil,
	}
	return true
}
