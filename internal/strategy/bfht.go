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

const (
	bfhtBalanceFraction = 0.50
	bfhtPivotGracePeriod = 1 * time.Hour
)

// BFHT is futures BTC hourly (spec §4.7.5): an hourly pivot with a 15-minute
// tick, a 1-hour grace period after the pivot rolls, a tiered initial stop,
// a next-resistance/support take-profit, and a trailing-stop ratchet that
// follows the previous candle's close across R/S levels.
type BFHT struct {
	ex     exchange.FuturesExchange
	orders *futuresorder.Manager
	log    zerolog.Logger

	symbol model.Symbol
	status model.FutureStatus
	stopLoc model.StopLocation

	lastPivotP  float64
	pivotRolledAt time.Time

	liquidationAt    time.Time
	liquidationHourQ int64
}

func NewBFHT(ex exchange.FuturesExchange, orders *futuresorder.Manager, log zerolog.Logger) *BFHT {
	return &BFHT{
		ex:     ex,
		orders: orders,
		log:    log,
		symbol: model.NewSymbol("BTC", "USDT"),
		status: model.FutureInit,
	}
}

func (s *BFHT) Name() string          { return "bfht" }
func (s *BFHT) Period() time.Duration { return 15 * time.Minute }

func (s *BFHT) Step(ctx context.Context) error {
	p, err := pivot.Hourly(ctx, s.ex, s.symbol, pivot.Interval1Hour)
	if err != nil {
		return fmt.Errorf("bfht: hourly pivot: %w", err)
	}
	now := time.Now()
	if s.lastPivotP != 0 && p.P != s.lastPivotP {
		s.pivotRolledAt = now
	}
	s.lastPivotP = p.P

	last, err := s.ex.GetLastPrice(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("bfht: last price: %w", err)
	}
	candles, err := s.ex.GetOHLCV(ctx, s.symbol, pivot.Interval1Hour, 3)
	if err != nil || len(candles) < 2 {
		return fmt.Errorf("bfht: previous candle: %w", err)
	}
	prevCandle := candles[len(candles)-2]

	if err := s.detectLiquidation(ctx, now); err != nil {
		return fmt.Errorf("bfht: liquidation detection: %w", err)
	}

	if s.status == model.FutureInit {
		if now.Sub(s.pivotRolledAt) < bfhtPivotGracePeriod && !s.pivotRolledAt.IsZero() {
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

	return s.ratchet(ctx, p, prevCandle.Close)
}

func (s *BFHT) enter(ctx context.Context, p model.Pivot, last float64, long bool) error {
	bal, err := s.orders.FutureBalance(ctx)
	if err != nil {
		return err
	}
	sizeBalance := math.Floor(bal.Free) * bfhtBalanceFraction
	stopPrice, loc := initialStopPrice(p, last, long)

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
	s.stopLoc = loc
	s.log.Info().Str("status", string(s.status)).Float64("stop", stopPrice).Float64("tp", tp).Int("leverage", leverage).Msg("bfht position opened")
	return nil
}

// ratchet is manage_stop_price: cancel and replace the protective ladder
// when the previous candle's close has crossed the next level.
func (s *BFHT) ratchet(ctx context.Context, p model.Pivot, prevClose float64) error {
	long := s.status == model.FutureLong
	newStop, newLoc, ok := manageStopPrice(p, prevClose, s.stopLoc, long)
	if !ok {
		return nil
	}
	pos, err := s.orders.PositionInformation(ctx, s.symbol)
	if err != nil {
		return err
	}
	qty := math.Abs(pos.PositionAmt)
	if qty <= 0 {
		return nil
	}
	if err := s.orders.CancelAllFutureOrders(ctx, s.symbol); err != nil {
		return err
	}
	exitSide := model.SideSell
	if !long {
		exitSide = model.SideBuy
	}
	if _, err := s.orders.CreateFutureOrder(ctx, exchange.FutureOrderRequest{
		Symbol: s.symbol, Side: exitSide, Type: model.OrderTypeStopMarket, Quantity: qty, StopPrice: newStop, ReduceOnly: true,
	}); err != nil {
		return err
	}
	last, err := s.ex.GetLastPrice(ctx, s.symbol)
	if err != nil {
		return err
	}
	tp := takeProfitPrice(p, last, long)
	if _, err := s.orders.CreateFutureOrder(ctx, exchange.FutureOrderRequest{
		Symbol: s.symbol, Side: exitSide, Type: model.OrderTypeLimit, Quantity: qty * 0.5, Price: tp, ReduceOnly: true,
	}); err != nil {
		return err
	}
	s.stopLoc = newLoc
	s.log.Info().Float64("new_stop", newStop).Int("loc", int(newLoc)).Msg("bfht stop ratcheted")
	return nil
}

// detectLiquidation records the moment the position silently vanishes
// (positionAmt==0 while still tracked long/short) and resets to init once
// the hourly quotient has moved past that moment (spec §4.7.5).
func (s *BFHT) detectLiquidation(ctx context.Context, now time.Time) error {
	hourQ := now.Unix() / 3600
	if s.status != model.FutureInit {
		pos, err := s.orders.PositionInformation(ctx, s.symbol)
		if err != nil {
			return err
		}
		if pos.PositionAmt == 0 && s.liquidationAt.IsZero() {
			s.liquidationAt = now
			s.liquidationHourQ = hourQ
			s.log.Warn().Msg("bfht: position closed with no tracked exit, treating as liquidation")
		}
	}
	if !s.liquidationAt.IsZero() && hourQ != s.liquidationHourQ {
		s.status = model.FutureInit
		s.stopLoc = model.StopLocAtEntryAnchor
		s.liquidationAt = time.Time{}
	}
	return nil
}

func (s *BFHT) Shutdown(ctx context.Context) error {
	return s.orders.CancelAllFutureOrders(ctx, s.symbol)
}
