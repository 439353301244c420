package strategy

import (
	"math"

	"github.com/nshin-labs/pivottrader/internal/model"
)

const (
	stopPriceBias   = 0.0005 // 0.05%, long stops biased down, short biased up
	stopBeyondRatio = 0.3
	tpFallbackGain  = 0.14
)

// initialStopPrice implements BFHT's tiered initial stop placement
// (spec §4.7.5); BFWHT uses a fixed S1/R1 stop and BFDT its SR2 level
// instead. long selects the R-ladder/S1 anchor side,
// false selects the mirrored S-ladder/R1 anchor side for a short.
func initialStopPrice(p model.Pivot, last float64, long bool) (price float64, loc model.StopLocation) {
	if long {
		switch {
		case last < p.R1:
			price, loc = p.S1, model.StopLocAtEntryAnchor
		case last < p.R2:
			price, loc = p.P, model.StopLocAtP
		case last < p.R3:
			price, loc = p.R1, model.StopLocAtR1OrS1
		default:
			price, loc = last-stopBeyondRatio*math.Abs(last-p.P), model.StopLocBeyond
		}
		return price * (1 - stopPriceBias), loc
	}
	switch {
	case last > p.S1:
		price, loc = p.R1, model.StopLocAtEntryAnchor
	case last > p.S2:
		price, loc = p.P, model.StopLocAtP
	case last > p.S3:
		price, loc = p.S1, model.StopLocAtR1OrS1
	default:
		price, loc = last+stopBeyondRatio*math.Abs(last-p.P), model.StopLocBeyond
	}
	return price * (1 + stopPriceBias), loc
}

// takeProfitPrice is the next resistance (long) or support (short) level
// above/below last, or the last*(1+0.14) fallback when every named level has
// already been passed (spec §4.7.5 step 3).
func takeProfitPrice(p model.Pivot, last float64, long bool) float64 {
	if long {
		for _, r := range []float64{p.R1, p.R2, p.R3} {
			if r > last {
				return r
			}
		}
		return last * (1 + tpFallbackGain)
	}
	for _, sLevel := range []float64{p.S1, p.S2, p.S3} {
		if sLevel < last {
			return sLevel
		}
	}
	return last * (1 - tpFallbackGain)
}

// manageStopPrice is the trailing-stop ratchet (spec §4.7.5 manage_stop_price):
// as the previous candle's close crosses the next level, the stop moves one
// notch in the same direction. Returns the new (price, loc); ok is false when
// no ratchet step applies this tick.
func manageStopPrice(p model.Pivot, prevClose float64, loc model.StopLocation, long bool) (price float64, newLoc model.StopLocation, ok bool) {
	if long {
		switch loc {
		case model.StopLocAtEntryAnchor:
			if prevClose >= p.R1 {
				return p.P * (1 - stopPriceBias), model.StopLocAtP, true
			}
		case model.StopLocAtP:
			if prevClose >= p.R2 {
				return p.R1 * (1 - stopPriceBias), model.StopLocAtR1OrS1, true
			}
		case model.StopLocAtR1OrS1:
			if prevClose >= p.R3 {
				return p.R2 * (1 - stopPriceBias), model.StopLocBeyond, true
			}
		}
		return 0, loc, false
	}
	switch loc {
	case model.StopLocAtEntryAnchor:
		if prevClose <= p.S1 {
			return p.P * (1 + stopPriceBias), model.StopLocAtP, true
		}
	case model.StopLocAtP:
		if prevClose <= p.S2 {
			return p.S1 * (1 + stopPriceBias), model.StopLocAtR1OrS1, true
		}
	case model.StopLocAtR1OrS1:
		if prevClose <= p.S3 {
			return p.S2 * (1 + stopPriceBias), model.StopLocBeyond, true
		}
	}
	return 0, loc, false
}
