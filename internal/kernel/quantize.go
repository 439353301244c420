package kernel

import "github.com/shopspring/decimal"

// MinNotionalFactor is the safety margin applied over the exchange's
// declared minimum notional before an order is allowed through.
const MinNotionalFactor = 1.3

// Default minimum notionals per quote asset, used when the adapter's
// declared minimum cannot be resolved from the Snapshot.
const (
	MinNotionalBTC  = 0.001
	MinNotionalUSDT = 10.0
)

// FuturesBTCPrecision is the hard-coded precision table for the BTC
// perpetual, per spec §4.1 ("For futures BTC, hard-coded...").
var FuturesBTCPrecision = struct {
	TickSize float64
	MinQty   float64
	MaxQty   float64
}{TickSize: 0.01, MinQty: 0.001, MaxQty: 1000}

// Quantize snaps x down to the nearest multiple of step using
// snap(x, s) = floor(x/s)*s, computed in decimal to avoid float drift at the
// exchange's declared precision.
func Quantize(x, step float64) float64 {
	if step <= 0 {
		return x
	}
	dx := decimal.NewFromFloat(x)
	ds := decimal.NewFromFloat(step)
	quotient := dx.Div(ds).Floor()
	snapped := quotient.Mul(ds)
	f, _ := snapped.Float64()
	return f
}

// MeetsMinNotional reports whether quantity*price clears
// MinNotionalFactor times the exchange's declared minimum notional.
func MeetsMinNotional(quantity, price, exchangeMin float64) bool {
	notional := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price))
	threshold := decimal.NewFromFloat(exchangeMin).Mul(decimal.NewFromFloat(MinNotionalFactor))
	return notional.GreaterThanOrEqual(threshold)
}
