package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/futuresorder"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/pivot"
)

const bfdtBalanceFraction = 0.70

// BFDT is futures BTC daily (spec §4.7.4): a monthly pivot decides a binary
// long/short bias, re-evaluated against the previous day's close.
type BFDT struct {
	ex     exchange.FuturesExchange
	orders *futuresorder.Manager
	log    zerolog.Logger

	symbol model.Symbol
	status model.FutureStatus
}

func NewBFDT(ex exchange.FuturesExchange, orders *futuresorder.Manager, log zerolog.Logger) *BFDT {
	return &BFDT{
		ex:     ex,
		orders: orders,
		log:    log,
		symbol: model.NewSymbol("BTC", "USDT"),
		status: model.FutureInit,
	}
}

func (s *BFDT) Name() string          { return "bfdt" }
func (s *BFDT) Period() time.Duration { return 1 * time.Hour }

func (s *BFDT) Step(ctx context.Context) error {
	p, err := pivot.Monthly(ctx, s.ex, s.symbol)
	if err != nil {
		return fmt.Errorf("bfdt: monthly pivot: %w", err)
	}
	last, err := s.ex.GetLastPrice(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("bfdt: last price: %w", err)
	}

	switch s.status {
	case model.FutureInit:
		if last >= p.P {
			return s.switchPosition(ctx, p, futuresorder.Long, p.S2)
		}
		return s.switchPosition(ctx, p, futuresorder.Short, p.R2)

	case model.FutureLong:
		prevClose, err := s.previousDayClose(ctx)
		if err != nil {
			return err
		}
		if prevClose < p.P {
			return s.switchPosition(ctx, p, futuresorder.Short, p.R2)
		}

	case model.FutureShort:
		prevClose, err := s.previousDayClose(ctx)
		if err != nil {
			return err
		}
		if prevClose > p.P {
			return s.switchPosition(ctx, p, futuresorder.Long, p.S2)
		}
	}
	return nil
}

func (s *BFDT) previousDayClose(ctx context.Context) (float64, error) {
	candles, err := s.ex.GetOHLCV(ctx, s.symbol, pivot.Interval1Day, 3)
	if err != nil {
		return 0, err
	}
	if len(candles) < 2 {
		return 0, fmt.Errorf("bfdt: insufficient daily candle history")
	}
	return candles[len(candles)-2].Close, nil
}

// switchPosition is switch_position (spec §4.7.4): cancel all futures
// orders, close any open position, resize via the SR2 solver on 70% of
// balance, set isolated margin + leverage, then place entry/stop/TP.
func (s *BFDT) switchPosition(ctx context.Context, p model.Pivot, side futuresorder.Side, sr2 float64) error {
	if err := s.orders.CancelAllFutureOrders(ctx, s.symbol); err != nil {
		return fmt.Errorf("bfdt: cancel all: %w", err)
	}
	if err := s.orders.ClosePosition(ctx, s.symbol); err != nil {
		return fmt.Errorf("bfdt: close position: %w", err)
	}
	bal, err := s.orders.FutureBalance(ctx)
	if err != nil {
		return fmt.Errorf("bfdt: balance: %w", err)
	}
	last, err := s.orders.GetLastPrice(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("bfdt: last price: %w", err)
	}
	leverage, qty, err := futuresorder.SolveSR2(last, sr2, bal.Free*bfdtBalanceFraction, side)
	if err != nil {
		return fmt.Errorf("bfdt: sr2 solve: %w", err)
	}
	if err := s.orders.SetMarginType(ctx, s.symbol, true); err != nil {
		return fmt.Errorf("bfdt: set margin type: %w", err)
	}
	if err := s.orders.SetLeverage(ctx, s.symbol, leverage); err != nil {
		return fmt.Errorf("bfdt: set leverage: %w", err)
	}

	entrySide := model.SideBuy
	stopSide := model.SideSell
	if side == futuresorder.Short {
		entrySide, stopSide = model.SideSell, model.SideBuy
	}
	if _, err := s.orders.CreateFutureOrder(ctx, exchange.FutureOrderRequest{
		Symbol: s.symbol, Side: entrySide, Type: model.OrderTypeMarket, Quantity: qty,
	}); err != nil {
		return fmt.Errorf("bfdt: entry order: %w", err)
	}
	if _, err := s.orders.CreateFutureOrder(ctx, exchange.FutureOrderRequest{
		Symbol: s.symbol, Side: stopSide, Type: model.OrderTypeStopMarket, Quantity: qty, StopPrice: sr2, ReduceOnly: true,
	}); err != nil {
		return fmt.Errorf("bfdt: stop order: %w", err)
	}
	tp := takeProfitPrice(p, last, side == futuresorder.Long)
	if _, err := s.orders.CreateFutureOrder(ctx, exchange.FutureOrderRequest{
		Symbol: s.symbol, Side: stopSide, Type: model.OrderTypeLimit, Quantity: qty * 0.5, Price: tp, ReduceOnly: true,
	}); err != nil {
		return fmt.Errorf("bfdt: take-profit order: %w", err)
	}

	var prev model.FutureStatus
	prev, s.status = s.status, model.FutureLong
	if side == futuresorder.Short {
		s.status = model.FutureShort
	}
	s.log.Info().Str("from", string(prev)).Str("to", string(s.status)).Float64("sr2", sr2).Int("leverage", leverage).Msg("bfdt position switch")
	return nil
}

func (s *BFDT) Shutdown(ctx context.Context) error {
	return s.orders.CancelAllFutureOrders(ctx, s.symbol)
}
