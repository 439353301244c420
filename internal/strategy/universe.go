package strategy

import (
	"strings"

	"github.com/nshin-labs/pivottrader/internal/model"
)

// stableSet and bannedSubstrings implement ADT's USDT-quoted validity
// filter (spec §4.7.3).
var stableSet = map[string]bool{
	"USDT": true, "BUSD": true, "PAX": true, "TUSD": true,
	"USDC": true, "NGN": true, "USDS": true, "EUR": true,
}

var bannedSubstrings = []string{"BULL", "BEAR", "UP", "DOWN"}

const (
	minVolumeBTC        = 100.0
	minVolumeUSDT       = 1_000_000.0
	minBTCLastPrice     = 4e-7
)

// isValidAlt applies ADT's universe filter: ticker active (has a last
// price), not already held, passing the quote-volume floor for its base
// pair, and — for USDT-quoted bases — not a stablecoin or leveraged token.
func isValidAlt(ticker model.TickerInfo, alreadyHeld bool) bool {
	if alreadyHeld {
		return false
	}
	if ticker.LastPrice <= 0 {
		return false
	}
	switch ticker.Symbol.Quote {
	case "BTC":
		if ticker.QuoteVolume < minVolumeBTC {
			return false
		}
		if ticker.LastPrice < minBTCLastPrice {
			return false
		}
		return true
	case "USDT":
		if ticker.QuoteVolume < minVolumeUSDT {
			return false
		}
		base := strings.ToUpper(ticker.Symbol.Base)
		if stableSet[base] {
			return false
		}
		for _, banned := range bannedSubstrings {
			if strings.Contains(base, banned) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
