package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/futuresorder"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/pivot"
)

const bfwhtBalanceFraction = 0.70

// BFWHT is futures BTC weekly-hour (spec §4.7.6): BFHT's mechanics against
// a weekly pivot and 4-hour candles, sized at 70% of balance, with a fixed
// S1/R1 initial stop and no trailing ratchet.
type BFWHT struct {
	ex     exchange.FuturesExchange
	orders *futuresorder.Manager
	log    zerolog.Logger

	symbol  model.Symbol
	status  model.FutureStatus

	lastPivotP    float64
	pivotRolledAt time.Time

	liquidationAt    time.Time
	liquidationHourQ int64
}

func NewBFWHT(ex exchange.FuturesExchange, orders *futuresorder.Manager, log zerolog.Logger) *BFWHT {
	return &BFWHT{
		ex:     ex,
		orders: orders,
		log:    log,
		symbol: model.NewSymbol("BTC", "USDT"),
		status: model.FutureInit,
	}
}

func (s *BFWHT) Name() string          { return "bfwht" }
func (s *BFWHT) Period() time.Duration { return 1 * time.Hour }

func (s *BFWHT) Step(ctx context.Context) error {
	p, err := pivot.Weekly(ctx, s.ex, s.symbol)
	if err != nil {
		return fmt.Errorf("bfwht: weekly pivot: %w", err)
	}
	now := time.Now()
	if s.lastPivotP != 0 && p.P != s.lastPivotP {
		s.pivotRolledAt = now
	}
	s.lastPivotP = p.P

	last, err := s.ex.GetLastPrice(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("bfwht: last price: %w", err)
	}
	candles, err := s.ex.GetOHLCV(ctx, s.symbol, pivot.Interval4Hour, 3)
	if err != nil || len(candles) < 2 {
		return fmt.Errorf("bfwht: previous candle: %w", err)
	}
	prevCandle := candles[len(candles)-2]

	if err := s.detectLiquidation(ctx, now); err != nil {
		return fmt.Errorf("bfwht: liquidation detection: %w", err)
	}

	if s.status != model.FutureInit {
		return nil
	}
	if !s.pivotRolledAt.IsZero() && now.Sub(s.pivotRolledAt) < bfhtPivotGracePeriod {
		return nil
	}
	crossedUp := prevCandle.Open < p.P && prevCandle.Close >= p.P
	crossedDown := prevCandle.Open > p.P && prevCandle.Close <= p.P
	switch {
	case crossedUp:
		return s.enter(ctx, p, last, true)
	case crossedDown:
		return s.enter(ctx, p, last, false)
	}
	return nil
}

// enter mirrors BFHT's entry but with a fixed S1/R1 initial stop (no
// tiered selection) and 70% balance sizing; there is no trailing ratchet.
func (s *BFWHT) enter(ctx context.Context, p model.Pivot, last float64, long bool) error {
	bal, err := s.orders.FutureBalance(ctx)
	if err != nil {
		return err
	}
	sizeBalance := math.Floor(bal.Free) * bfwhtBalanceFraction

	stopPrice := p.S1
	if !long {
		stopPrice = p.R1
	}
	side := futuresorder.Long
	if !long {
		side = futuresorder.Short
	}
	leverage, qty, err := futuresorder.SolveSR2(last, stopPrice, sizeBalance, side)
	if err != nil {
		return fmt.Errorf("sr2 solve: %w", err)
	}
	if err := s.orders.SetMarginType(ctx, s.symbol, true); err != nil {
		return err
	}
	if err := s.orders.SetLeverage(ctx, s.symbol, leverage); err != nil {
		return err
	}

	entrySide, exitSide := model.SideBuy, model.SideSell
	if !long {
		entrySide, exitSide = model.SideSell, model.SideBuy
	}
	if _, err := s.orders.CreateFutureOrder(ctx, exchange.FutureOrderRequest{
		Symbol: s.symbol, Side: entrySide, Type: model.OrderTypeMarket, Quantity: qty,
	}); err != nil {
		return fmt.Errorf("entry order: %w", err)
	}
	if _, err := s.orders.CreateFutureOrder(ctx, exchange.FutureOrderRequest{
		Symbol: s.symbol, Side: exitSide, Type: model.OrderTypeStopMarket, Quantity: qty, StopPrice: stopPrice, ReduceOnly: true,
	}); err != nil {
		return fmt.Errorf("stop order: %w", err)
	}
	tp := takeProfitPrice(p, last, long)
	if _, err := s.orders.CreateFutureOrder(ctx, exchange.FutureOrderRequest{
		Symbol: s.symbol, Side: exitSide, Type: model.OrderTypeLimit, Quantity: qty * 0.5, Price: tp, ReduceOnly: true,
	}); err != nil {
		return fmt.Errorf("take-profit order: %w", err)
	}

	s.status = model.FutureLong
	if !long {
		s.status = model.FutureShort
	}
	s.log.Info().Str("status", string(s.status)).Float64("stop", stopPrice).Float64("tp", tp).Int("leverage", leverage).Msg("bfwht position opened")
	return nil
}

func (s *BFWHT) detectLiquidation(ctx context.Context, now time.Time) error {
	hourQ := now.Unix() / 3600
	if s.status != model.FutureInit {
		pos, err := s.orders.PositionInformation(ctx, s.symbol)
		if err != nil {
			return err
		}
		if pos.PositionAmt == 0 && s.liquidationAt.IsZero() {
			s.liquidationAt = now
			s.liquidationHourQ = hourQ
			s.log.Warn().Msg("bfwht: position closed with no tracked exit, treating as liquidation")
		}
	}
	if !s.liquidationAt.IsZero() && hourQ != s.liquidationHourQ {
		s.status = model.FutureInit
		s.liquidationAt = time.Time{}
	}
	return nil
}

func (s *BFWHT) Shutdown(ctx context.Context) error {
	return s.orders.CancelAllFutureOrders(ctx, s.symbol)
}
