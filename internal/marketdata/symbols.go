package marketdata

import (
	"strings"

	"github.com/quantarc/signal-engine/pkg/types"
)

// providerSymbol translates an internal symbol (EURUSD, BTCUSD) into the
// provider's slash form (EUR/USD, BTC/USD).
func providerSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "/") {
		return s
	}
	if len(s) == 6 {
		return s[:3] + "/" + s[3:]
	}
	// Indices and other odd-length tickers pass through unchanged.
	return s
}

// providerInterval maps a timeframe to the provider's interval code:
// H1 / H4 / D1 become 1h / 4h / 1day.
func providerInterval(tf types.Timeframe) string {
	switch tf {
	case types.TimeframeH1:
		return "1h"
	case types.TimeframeH4:
		return "4h"
	case types.TimeframeD1:
		return "1day"
	}
	return "1h"
}

// isCrypto reports whether the symbol needs the exchange query hint.
func isCrypto(symbol string) bool {
	spec, ok := types.LookupInstrument(symbol)
	return ok && spec.Class == types.AssetCrypto
}
