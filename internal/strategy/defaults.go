package strategy

import (
	"go.uber.org/zap"

	"github.com/quantarc/signal-engine/internal/decision"
	"github.com/quantarc/signal-engine/internal/preflight"
)

// DefaultRegistry builds the registry with every built-in strategy.
func DefaultRegistry(logger *zap.Logger, gate *preflight.Gate, builder *decision.Builder) *Registry {
	return NewRegistry(
		NewBollingerMR(logger, gate, builder),
		NewStochMomentum(logger, gate, builder),
		NewMACDMomentum(logger, gate, builder),
		NewEMATrend(logger, gate, builder),
		NewCCIReversion(logger, gate, builder),
	)
}
