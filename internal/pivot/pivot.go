// Package pivot computes Fibonacci floor-trader pivots from OHLCV candles
// and fetches the prior anchor period's {H, L, C} for a given alignment.
package pivot

import (
	"context"
	"fmt"
	"time"

	"github.com/nshin-labs/pivottrader/internal/model"
)

var fibonacci = [3]float64{0.236, 0.618, 1.0}

// Compute is the pure pivot function (spec §4.2 get_pivot): P = (H+L+C)/3,
// R_k/S_k = P ± (H-L)*f_k for f in {0.236, 0.618, 1.0}.
func Compute(high, low, close float64) model.Pivot {
	p := (high + low + close) / 3.0
	hl := high - low
	return model.Pivot{
		P:  p,
		R1: p + hl*fibonacci[0],
		S1: p - hl*fibonacci[0],
		R2: p + hl*fibonacci[1],
		S2: p - hl*fibonacci[1],
		R3: p + hl*fibonacci[2],
		S3: p - hl*fibonacci[2],
	}
}

// Interval is an OHLCV bucket width understood by the adapter.
type Interval string

const (
	Interval1Month Interval = "1M"
	Interval1Week  Interval = "1w"
	Interval1Day   Interval = "1d"
	Interval4Hour  Interval = "4h"
	Interval1Hour  Interval = "1h"
	Interval15Min  Interval = "15m"
	Interval1Min   Interval = "1m"
)

// Source is the subset of the Exchange Client Adapter the pivot engine
// depends on, kept narrow so this package never imports internal/exchange.
type Source interface {
	GetOHLCV(ctx context.Context, symbol model.Symbol, interval Interval, limit int) ([]model.Candle, error)
}

// ErrNoPivot is returned when fewer than two candles are available for the
// requested anchor (spec §4.2 edge case).
var ErrNoPivot = fmt.Errorf("pivot: insufficient candle history")

// Yearly returns the pivot derived from last calendar year's aggregate
// H(max)/L(min)/C(last close), per get_yearly_pivot. Requires the current
// year's candle to already exist (otherwise last year is not yet "prior").
func Yearly(ctx context.Context, src Source, symbol model.Symbol) (model.Pivot, error) {
	candles, err := src.GetOHLCV(ctx, symbol, Interval1Month, 25)
	if err != nil {
		return model.Pivot{}, err
	}
	if len(candles) == 0 {
		return model.Pivot{}, ErrNoPivot
	}
	nowYear := time.Now().UTC().Year()
	hasCurrentYear := false
	for _, c := range candles {
		if c.Timestamp.Year() == nowYear {
			hasCurrentYear = true
			break
		}
	}
	if !hasCurrentYear {
		return model.Pivot{}, ErrNoPivot
	}
	var high, low float64
	var lastClose float64
	found := false
	for _, c := range candles {
		if c.Timestamp.Year() != nowYear-1 {
			continue
		}
		if !found || c.High > high {
			high = c.High
		}
		if !found || c.Low < low {
			low = c.Low
		}
		lastClose = c.Close
		found = true
	}
	if !found {
		return model.Pivot{}, ErrNoPivot
	}
	return Compute(high, low, lastClose), nil
}

// priorBarPivot is shared by Monthly/Weekly/Daily: the second-to-last
// candle in the fetched window is the most recently *closed* prior bar.
func priorBarPivot(ctx context.Context, src Source, symbol model.Symbol, interval Interval, limit int) (model.Pivot, error) {
	candles, err := src.GetOHLCV(ctx, symbol, interval, limit)
	if err != nil {
		return model.Pivot{}, err
	}
	if len(candles) < 2 {
		return model.Pivot{}, ErrNoPivot
	}
	prior := candles[len(candles)-2]
	return Compute(prior.High, prior.Low, prior.Close), nil
}

func Monthly(ctx context.Context, src Source, symbol model.Symbol) (model.Pivot, error) {
	return priorBarPivot(ctx, src, symbol, Interval1Month, 5)
}

func Weekly(ctx context.Context, src Source, symbol model.Symbol) (model.Pivot, error) {
	return priorBarPivot(ctx, src, symbol, Interval1Week, 5)
}

func Daily(ctx context.Context, src Source, symbol model.Symbol) (model.Pivot, error) {
	return priorBarPivot(ctx, src, symbol, Interval1Day, 5)
}

// Hourly returns the pivot from the previous N-hour aggregated candle. When
// the adapter has no native N-hour interval, callers should fetch 1h candles
// and pass them through Aggregate before calling Compute directly; Hourly
// here covers adapter-native hour buckets (1h/4h) only.
func Hourly(ctx context.Context, src Source, symbol model.Symbol, interval Interval) (model.Pivot, error) {
	return priorBarPivot(ctx, src, symbol, interval, 5)
}
