package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/pivot"
	"github.com/nshin-labs/pivottrader/internal/spotorder"
)

const (
	adtMaxTradeLimit = 10
	adtR2Portion     = 0.20
	adtR3Portion     = 0.30
	adtStopDiscount  = 0.10 // stop is placed at S1*(1-0.10)
	adtOpenAltMaxAge = 1 * time.Hour
	adtOpenAltPromoteFillRatio = 0.5
)

// ADT is Alt daily (spec §4.7.3): a universe scan over every valid BTC- or
// USDT-quoted alt for fresh upward crosses of the monthly pivot (exits are
// checked against the daily pivot), holding positions in trading_alts with a
// three-leg protective order ladder, plus the open_alts pivot-limit queue
// this port gives ADT per SPEC_FULL §4 item 3.
type ADT struct {
	ex     exchange.Exchange
	orders *spotorder.Manager
	log    zerolog.Logger

	tradingAlts map[string]*model.TradingAlt
	openAlts    map[string]model.OpenAlt
	prevDayQ    int64
}

func NewADT(ex exchange.Exchange, orders *spotorder.Manager, log zerolog.Logger) *ADT {
	return &ADT{
		ex:          ex,
		orders:      orders,
		log:         log,
		tradingAlts: make(map[string]*model.TradingAlt),
		openAlts:    make(map[string]model.OpenAlt),
	}
}

func (s *ADT) Name() string          { return "adt" }
func (s *ADT) Period() time.Duration { return 1 * time.Hour }

func (s *ADT) Step(ctx context.Context) error {
	dayQ := time.Now().UTC().Unix() / 86400
	rolledOver := s.prevDayQ != 0 && dayQ != s.prevDayQ
	s.prevDayQ = dayQ

	if err := s.reconcile(ctx); err != nil {
		return fmt.Errorf("adt: reconcile: %w", err)
	}
	if err := s.checkExits(ctx, rolledOver); err != nil {
		return fmt.Errorf("adt: exits: %w", err)
	}
	if err := s.enterNewPositions(ctx); err != nil {
		return fmt.Errorf("adt: entries: %w", err)
	}
	if err := s.placeProtectiveOrders(ctx); err != nil {
		return fmt.Errorf("adt: protective orders: %w", err)
	}
	if err := s.manageOpenAlts(ctx); err != nil {
		return fmt.Errorf("adt: open alts: %w", err)
	}
	return nil
}

// reconcile refreshes each held alt's protective-order fills and drops any
// position whose free balance has fallen under minimum notional (step 1).
func (s *ADT) reconcile(ctx context.Context) error {
	for symKey, alt := range s.tradingAlts {
		sym := symbolFromKey(symKey)
		bal, err := s.ex.Balance(ctx, sym.Base)
		if err != nil {
			return err
		}
		ticker, err := s.ex.TickerInfo(ctx, sym)
		if err != nil {
			return err
		}
		if !okMinNotional(bal.Free, ticker.LastPrice, sym.Quote) {
			s.dropPosition(ctx, sym, alt)
			continue
		}
		s.refreshProtectiveFills(ctx, sym, alt)
	}
	return nil
}

func (s *ADT) refreshProtectiveFills(ctx context.Context, sym model.Symbol, alt *model.TradingAlt) {
	if alt.R2Order.LimitOrderID != 0 && !alt.R2Filled {
		if o, err := s.ex.OrderStatus(ctx, sym, alt.R2Order.LimitOrderID); err == nil && o.Status == model.OrderFilled {
			alt.R2Filled = true
		}
	}
	if alt.R3Order.LimitOrderID != 0 && !alt.R3Filled {
		if o, err := s.ex.OrderStatus(ctx, sym, alt.R3Order.LimitOrderID); err == nil && o.Status == model.OrderFilled {
			alt.R3Filled = true
		}
	}
	if alt.StopOrderID != 0 {
		if o, err := s.ex.OrderStatus(ctx, sym, alt.StopOrderID); err == nil {
			alt.S1Quantity = o.ExecutedQuantity
		}
	}
}

// checkExits drops a position on stop-triggered, pivot-break, or
// daily-close-break conditions (step 2).
func (s *ADT) checkExits(ctx context.Context, rolledOver bool) error {
	for symKey, alt := range s.tradingAlts {
		sym := symbolFromKey(symKey)
		if alt.S1Quantity > 0 {
			s.dropPosition(ctx, sym, alt)
			continue
		}
		ticker, err := s.ex.TickerInfo(ctx, sym)
		if err != nil {
			return err
		}
		p, err := pivot.Daily(ctx, s.ex, sym)
		if err != nil {
			return err
		}
		if ticker.LastPrice <= p.S1 {
			s.dropPosition(ctx, sym, alt)
			continue
		}
		if rolledOver {
			candles, err := s.ex.GetOHLCV(ctx, sym, pivot.Interval1Day, 3)
			if err == nil && len(candles) >= 2 {
				prevClose := candles[len(candles)-2].Close
				if prevClose < p.P {
					s.dropPosition(ctx, sym, alt)
				}
			}
		}
	}
	return nil
}

func (s *ADT) dropPosition(ctx context.Context, sym model.Symbol, alt *model.TradingAlt) {
	if err := s.orders.CancelAll(ctx, sym, exchange.CancelSpec{Normal: true, OCO: true}); err != nil {
		s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("adt: cancel protective orders on exit failed")
	}
	if _, err := s.orders.MarketSell(ctx, sym, 0); err != nil {
		s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("adt: market-sell on exit failed")
	}
	delete(s.tradingAlts, sym.Internal)
	s.log.Info().Str("symbol", sym.String()).Msg("adt: position dropped")
}

// enterNewPositions scans the universe for a fresh upward P-cross (step 3).
// A ticker that has already pulled back to or under P is bought at market
// immediately; one still trading above P is queued as a pivot-limit order
// at P in open_alts instead, exactly as make_pivot_order's
// buy_triggered_ticker_list/over_pivot_p_ticker_list split does (SPEC_FULL
// §4 item 3).
func (s *ADT) enterNewPositions(ctx context.Context) error {
	remaining := adtMaxTradeLimit - len(s.tradingAlts) - len(s.openAlts)
	if remaining <= 0 {
		return nil
	}
	tickers, err := s.ex.Tickers(ctx)
	if err != nil {
		return err
	}
	for _, ticker := range tickers {
		if remaining <= 0 {
			break
		}
		_, held := s.tradingAlts[ticker.Symbol.Internal]
		if _, openHeld := s.openAlts[ticker.Symbol.Internal]; openHeld {
			held = true
		}
		if !isValidAlt(ticker, held) {
			continue
		}
		p, err := pivot.Monthly(ctx, s.ex, ticker.Symbol)
		if err != nil {
			continue
		}
		candles, err := s.ex.GetOHLCV(ctx, ticker.Symbol, pivot.Interval1Day, 4)
		if err != nil || len(candles) < 3 {
			continue
		}
		prevClose := candles[len(candles)-2].Close
		prevPrevClose := candles[len(candles)-3].Close
		if !(prevPrevClose < p.P && p.P <= prevClose) {
			continue
		}
		quoteBal, err := s.ex.Balance(ctx, ticker.Symbol.Quote)
		if err != nil {
			return err
		}
		if ticker.LastPrice <= p.P {
			order, err := s.orders.MarketBuy(ctx, ticker.Symbol, quoteBal.Free/float64(remaining))
			if err != nil {
				s.log.Warn().Str("symbol", ticker.Symbol.String()).Err(err).Msg("adt: entry buy failed")
				continue
			}
			s.tradingAlts[ticker.Symbol.Internal] = &model.TradingAlt{TotalQuantity: order.ExecutedQuantity}
			remaining--
			s.log.Info().Str("symbol", ticker.Symbol.String()).Float64("quantity", order.ExecutedQuantity).Msg("adt: entered position")
			continue
		}
		qty := (quoteBal.Free / float64(remaining)) / p.P
		order, err := s.orders.CreateLimit(ctx, ticker.Symbol, model.SideBuy, qty, p.P)
		if err != nil {
			s.log.Warn().Str("symbol", ticker.Symbol.String()).Err(err).Msg("adt: open_alt limit queue failed")
			continue
		}
		s.openAlts[ticker.Symbol.Internal] = model.OpenAlt{OrderID: order.OrderID, CreatedAt: time.Now()}
		remaining--
		s.log.Info().Str("symbol", ticker.Symbol.String()).Msg("adt: queued pivot-limit open_alt")
	}
	return nil
}

// placeProtectiveOrders splits a fresh position into r2 (20%)/r3 (30%)/stop
// (remainder) legs (step 4).
func (s *ADT) placeProtectiveOrders(ctx context.Context) error {
	for symKey, alt := range s.tradingAlts {
		if alt.HasProtectiveOrders() {
			continue
		}
		sym := symbolFromKey(symKey)
		p, err := pivot.Monthly(ctx, s.ex, sym)
		if err != nil {
			return err
		}
		ticker, err := s.ex.TickerInfo(ctx, sym)
		if err != nil {
			return err
		}
		stopTrigger := p.S1 * (1 - adtStopDiscount)
		stopLimit := stopTrigger * 0.999

		r2Qty := alt.TotalQuantity * adtR2Portion
		r3Qty := alt.TotalQuantity * adtR3Portion
		stopQty := alt.TotalQuantity - r2Qty - r3Qty

		r2TP := p.R2
		if ticker.LastPrice >= r2TP {
			r2TP = ticker.LastPrice * 1.15
		}
		r3TP := p.R3
		if ticker.LastPrice >= r3TP {
			r3TP = ticker.LastPrice * 1.30
		}

		r2Leg, err := s.orders.CreateOCO(ctx, sym, model.SideSell, r2Qty, r2TP, stopTrigger, stopLimit)
		if err != nil {
			return err
		}
		r3Leg, err := s.orders.CreateOCO(ctx, sym, model.SideSell, r3Qty, r3TP, stopTrigger, stopLimit)
		if err != nil {
			return err
		}
		stopOrder, err := s.orders.CreateStopLimit(ctx, sym, model.SideSell, stopQty, stopLimit, stopTrigger)
		if err != nil {
			return err
		}
		alt.R2Quantity, alt.R3Quantity = r2Qty, r3Qty
		alt.R2Order, alt.R3Order = r2Leg, r3Leg
		alt.StopOrderID = stopOrder.OrderID
		s.log.Info().Str("symbol", sym.String()).Msg("adt: protective orders placed")
	}
	return nil
}

// HeldValue sums every trading_alt's current notional, split by the alt's
// own quote currency, for the daemon's telemetry snapshot.
func (s *ADT) HeldValue(ctx context.Context) (extraBTC, extraUSDT float64, err error) {
	for symKey, alt := range s.tradingAlts {
		sym := symbolFromKey(symKey)
		ticker, tErr := s.ex.TickerInfo(ctx, sym)
		if tErr != nil {
			return 0, 0, tErr
		}
		notional := alt.TotalQuantity * ticker.LastPrice
		switch sym.Quote {
		case "BTC":
			extraBTC += notional
		case "USDT":
			extraUSDT += notional
		}
	}
	return extraBTC, extraUSDT, nil
}

// manageOpenAlts cancels pivot-limit entries older than one hour, promoting
// them into trading_alts when at least half-filled, else selling the
// filled remainder (SPEC_FULL §4 item 3, shared with ABD).
func (s *ADT) manageOpenAlts(ctx context.Context) error {
	now := time.Now()
	for symKey, open := range s.openAlts {
		if now.Sub(open.CreatedAt) < adtOpenAltMaxAge {
			continue
		}
		sym := symbolFromKey(symKey)
		order, err := s.ex.OrderStatus(ctx, sym, open.OrderID)
		if err != nil {
			return err
		}
		fillRatio := 0.0
		if order.OriginalQuantity > 0 {
			fillRatio = order.ExecutedQuantity / order.OriginalQuantity
		}
		if err := s.orders.CancelOrder(ctx, sym, open.OrderID); err != nil {
			s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("adt: cancel stale open_alt failed")
		}
		delete(s.openAlts, symKey)
		if order.ExecutedQuantity <= 0 {
			continue
		}
		if fillRatio >= adtOpenAltPromoteFillRatio {
			s.tradingAlts[symKey] = &model.TradingAlt{TotalQuantity: order.ExecutedQuantity}
			s.log.Info().Str("symbol", sym.String()).Msg("adt: open_alt promoted to trading_alt")
		} else {
			if _, err := s.orders.MarketSell(ctx, sym, order.ExecutedQuantity); err != nil {
				s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("adt: sell stale open_alt fragment failed")
			}
		}
	}
	return nil
}

func (s *ADT) Shutdown(ctx context.Context) error {
	for symKey := range s.tradingAlts {
		sym := symbolFromKey(symKey)
		if err := s.orders.CancelAll(ctx, sym, exchange.CancelSpec{Normal: true, OCO: true}); err != nil {
			return err
		}
	}
	return nil
}

func okMinNotional(qty, price float64, quote string) bool {
	min := 10.0
	if quote == "BTC" {
		min = 0.001
	}
	return qty*price >= min*1.3
}

// symbolFromKey reconstructs a Symbol from an internal key for map-keyed
// state; Base/Quote are best-effort (see binance.symbolFromInternal) since
// only .Internal is load-bearing for adapter calls.
func symbolFromKey(key string) model.Symbol {
	for _, quote := range []string{"USDT", "BTC"} {
		if len(key) > len(quote) && key[len(key)-len(quote):] == quote {
			return model.Symbol{Base: key[:len(key)-len(quote)], Quote: quote, Internal: key}
		}
	}
	return model.Symbol{Internal: key}
}
