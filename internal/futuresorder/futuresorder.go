// Package futuresorder is the Futures Order Manager (C5): order verbs,
// margin/leverage control, and the liquidation-price/SR2-leverage solvers
// (spec §4.4). The original's liquidation_calculator was an unimplemented
// stub (`raise NotImplementedError`); the solvers here are this port's
// original contribution.
package futuresorder

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/kernel"
	"github.com/nshin-labs/pivottrader/internal/model"
)

// Manager mediates every futures order verb through a kernel.Kernel.
type Manager struct {
	ex  exchange.FuturesExchange
	k   *kernel.Kernel
	log zerolog.Logger
}

func New(ex exchange.FuturesExchange, k *kernel.Kernel, log zerolog.Logger) *Manager {
	return &Manager{ex: ex, k: k, log: log}
}

func (m *Manager) GetLastPrice(ctx context.Context, symbol model.Symbol) (float64, error) {
	return kernel.Invoke(ctx, m.k, symbol.String(), "get_last_price", func() (float64, kernel.ErrorKind, error) {
		v, e := m.ex.GetLastPrice(ctx, symbol)
		return v, m.ex.Classify(e), e
	})
}

func (m *Manager) FutureBalance(ctx context.Context) (model.Balance, error) {
	return kernel.Invoke(ctx, m.k, "", "get_future_balance", func() (model.Balance, kernel.ErrorKind, error) {
		v, e := m.ex.FutureBalance(ctx)
		return v, m.ex.Classify(e), e
	})
}

func (m *Manager) SetLeverage(ctx context.Context, symbol model.Symbol, leverage int) error {
	_, err := kernel.Invoke(ctx, m.k, symbol.String(), "set_leverage", func() (struct{}, kernel.ErrorKind, error) {
		e := m.ex.SetLeverage(ctx, symbol, leverage)
		return struct{}{}, m.ex.Classify(e), e
	})
	return err
}

// SetMarginType is a no-op when the symbol is already in that mode (spec
// §4.4); the adapter itself absorbs the "already set" case.
func (m *Manager) SetMarginType(ctx context.Context, symbol model.Symbol, isolated bool) error {
	_, err := kernel.Invoke(ctx, m.k, symbol.String(), "set_margin_type", func() (struct{}, kernel.ErrorKind, error) {
		e := m.ex.SetMarginType(ctx, symbol, isolated)
		return struct{}{}, m.ex.Classify(e), e
	})
	return err
}

func (m *Manager) CreateFutureOrder(ctx context.Context, req exchange.FutureOrderRequest) (model.Order, error) {
	ticker, err := kernel.Invoke(ctx, m.k, req.Symbol.String(), "future_ticker_info", func() (model.TickerInfo, kernel.ErrorKind, error) {
		v, e := m.ex.FutureTickerInfo(ctx, req.Symbol)
		return v, m.ex.Classify(e), e
	})
	if err == nil {
		tick := ticker.TickSize
		if tick == 0 {
			tick = kernel.FuturesBTCPrecision.TickSize
		}
		req.Quantity = kernel.Quantize(req.Quantity, stepOrDefault(ticker))
		if req.Price > 0 {
			req.Price = kernel.Quantize(req.Price, tick)
		}
		if req.StopPrice > 0 {
			req.StopPrice = kernel.Quantize(req.StopPrice, tick)
		}
	}
	return kernel.Invoke(ctx, m.k, req.Symbol.String(), "create_future_order", func() (model.Order, kernel.ErrorKind, error) {
		v, e := m.ex.CreateFutureOrder(ctx, req)
		return v, m.ex.Classify(e), e
	})
}

func stepOrDefault(ticker model.TickerInfo) float64 {
	if ticker.StepSize > 0 {
		return ticker.StepSize
	}
	return kernel.FuturesBTCPrecision.MinQty
}

func (m *Manager) CancelAllFutureOrders(ctx context.Context, symbol model.Symbol) error {
	_, err := kernel.Invoke(ctx, m.k, symbol.String(), "cancel_all_future_orders", func() (struct{}, kernel.ErrorKind, error) {
		e := m.ex.CancelAllFutureOrders(ctx, symbol)
		return struct{}{}, m.ex.Classify(e), e
	})
	return err
}

func (m *Manager) ClosePosition(ctx context.Context, symbol model.Symbol) error {
	_, err := kernel.Invoke(ctx, m.k, symbol.String(), "close_position", func() (struct{}, kernel.ErrorKind, error) {
		e := m.ex.ClosePosition(ctx, symbol)
		return struct{}{}, m.ex.Classify(e), e
	})
	return err
}

func (m *Manager) PositionInformation(ctx context.Context, symbol model.Symbol) (exchange.PositionInfo, error) {
	return kernel.Invoke(ctx, m.k, symbol.String(), "get_position_information", func() (exchange.PositionInfo, kernel.ErrorKind, error) {
		v, e := m.ex.PositionInformation(ctx, symbol)
		return v, m.ex.Classify(e), e
	})
}

// Side mirrors the solver's long/short sign convention.
type Side int

const (
	Long  Side = 1
	Short Side = -1
)

// marginBracket is one row of the leveraged-notional MMR/MA table (spec
// §4.4): notional up to Ceiling uses (MMR, MaintAmount).
type marginBracket struct {
	Ceiling      float64
	MMR          float64
	MaintAmount  float64
}

var marginBrackets = []marginBracket{
	{Ceiling: 50_000, MMR: 0.004, MaintAmount: 0},
	{Ceiling: 250_000, MMR: 0.005, MaintAmount: 50},
	{Ceiling: 1_000_000, MMR: 0.01, MaintAmount: 1300},
	{Ceiling: 5_000_000, MMR: 0.025, MaintAmount: 16300},
}

// ErrNotionalTooLarge is returned when the leveraged notional exceeds every
// bracket in the table (spec §4.4: "a domain error").
var ErrNotionalTooLarge = fmt.Errorf("futuresorder: leveraged notional exceeds the largest margin bracket")

func bracketFor(notional float64) (marginBracket, error) {
	for _, b := range marginBrackets {
		if notional <= b.Ceiling {
			return b, nil
		}
	}
	return marginBracket{}, ErrNotionalTooLarge
}

// LiquidationPrice solves L = (B + MA - d*Q*P) / (Q*(MMR - d)) for the
// bracket matched by the leveraged notional Q*P (spec §4.4).
func LiquidationPrice(entryPrice, quantity, balance float64, side Side) (float64, error) {
	d := float64(side)
	notional := quantity * entryPrice
	bracket, err := bracketFor(notional)
	if err != nil {
		return 0, err
	}
	denominator := quantity * (bracket.MMR - d)
	if denominator == 0 {
		return 0, fmt.Errorf("futuresorder: degenerate liquidation denominator")
	}
	return (balance + bracket.MaintAmount - d*quantity*entryPrice) / denominator, nil
}

const maxLeverage = 125

// SolveSR2 is the SR2 leverage solver (spec §4.4): iterates leverage 1..125,
// sizing Q = round(L*B/P, 3), and returns the largest L whose liquidation
// price stays on the safe side of the protective level SR2 (liq >= SR2 for
// a short, liq <= SR2 for a long), so liquidation coincides with the
// strategy's own stop in the worst case.
func SolveSR2(entryPrice, sr2, balance float64, side Side) (leverage int, quantity float64, err error) {
	bestLeverage := 0
	var bestQty float64
	for l := 1; l <= maxLeverage; l++ {
		q := roundTo(float64(l)*balance/entryPrice, 3)
		if q <= 0 {
			continue
		}
		liq, lerr := LiquidationPrice(entryPrice, q, balance, side)
		if lerr != nil {
			break // larger L only grows notional further into the same or a worse bracket
		}
		safe := (side == Short && liq >= sr2) || (side == Long && liq <= sr2)
		if !safe {
			continue
		}
		bestLeverage = l
		bestQty = q
	}
	if bestLeverage == 0 {
		return 0, 0, fmt.Errorf("futuresorder: no leverage in 1..%d keeps liquidation past SR2=%.8f", maxLeverage, sr2)
	}
	return bestLeverage, bestQty, nil
}

func roundTo(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}
