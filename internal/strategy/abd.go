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

// ABD is Alt/BTC day-pair (spec §4.7.2): a 1-day BTC macro-bias tick picks
// the alt universe's quote currency (bullish BTC -> ALT/BTC, bearish ->
// ALT/USDT), and a 1-minute alt tick runs ADT's per-position mechanics
// against whichever side is currently live. Shares trading_alts bookkeeping
// with ADT and adds the open_alts pivot-limit queue (SPEC_FULL §4 item 3)
// for the bullish ALT/BTC side.
type ABD struct {
	ex     exchange.Exchange
	orders *spotorder.Manager
	log    zerolog.Logger

	btcSymbol model.Symbol
	btcStatus model.SpotBTCStatus
	basePair  model.BasePair

	tradingAlts map[string]*model.TradingAlt
	openAlts    map[string]model.OpenAlt
	prevDayQ    int64
}

func NewABD(ex exchange.Exchange, orders *spotorder.Manager, log zerolog.Logger) *ABD {
	return &ABD{
		ex:          ex,
		orders:      orders,
		log:         log,
		btcSymbol:   model.NewSymbol("BTC", "USDT"),
		btcStatus:   model.SpotInit,
		basePair:    model.BasePairNone,
		tradingAlts: make(map[string]*model.TradingAlt),
		openAlts:    make(map[string]model.OpenAlt),
	}
}

func (s *ABD) Name() string          { return "abd" }
func (s *ABD) Period() time.Duration { return 1 * time.Minute }

func (s *ABD) Step(ctx context.Context) error {
	dayQ := time.Now().UTC().Unix() / 86400
	dayRolledOver := s.prevDayQ != 0 && dayQ != s.prevDayQ
	if s.prevDayQ == 0 || dayQ != s.prevDayQ {
		if err := s.updateMacroBias(ctx); err != nil {
			return fmt.Errorf("abd: macro bias: %w", err)
		}
		s.prevDayQ = dayQ
	}

	if s.basePair == model.BasePairNone {
		return nil
	}

	if err := s.reconcile(ctx); err != nil {
		return fmt.Errorf("abd: reconcile: %w", err)
	}
	if err := s.checkExits(ctx, dayRolledOver); err != nil {
		return fmt.Errorf("abd: exits: %w", err)
	}
	if err := s.enterNewPositions(ctx); err != nil {
		return fmt.Errorf("abd: entries: %w", err)
	}
	if err := s.placeProtectiveOrders(ctx); err != nil {
		return fmt.Errorf("abd: protective orders: %w", err)
	}
	if err := s.manageOpenAlts(ctx); err != nil {
		return fmt.Errorf("abd: open alts: %w", err)
	}
	return nil
}

// updateMacroBias mirrors BMT's yearly-pivot transition (the macro-bias
// computation shared across the BTC-driven strategies), then maps the
// resulting status onto the alt universe's quote currency.
func (s *ABD) updateMacroBias(ctx context.Context) error {
	yearly, err := pivot.Yearly(ctx, s.ex, s.btcSymbol)
	if err != nil {
		return err
	}
	ticker, err := s.ex.TickerInfo(ctx, s.btcSymbol)
	if err != nil {
		return err
	}
	candles, err := s.ex.GetOHLCV(ctx, s.btcSymbol, pivot.Interval1Day, 5)
	if err != nil || len(candles) < 2 {
		return err
	}
	prevDayClose := candles[len(candles)-2].Close

	target := s.btcStatus
	switch {
	case ticker.LastPrice < yearly.S1:
		target = model.SpotSell
	case s.btcStatus != model.SpotSell && prevDayClose < yearly.P:
		target = model.SpotSell
	default:
		target = model.SpotBuy
	}
	if target == s.btcStatus && s.basePair != model.BasePairNone {
		return nil
	}
	s.btcStatus = target

	newBase := model.BasePairUSDT
	if target == model.SpotBuy {
		newBase = model.BasePairBTC
	}
	return s.switchBasePair(ctx, newBase)
}

// switchBasePair cancels every alt order on the outgoing side and
// liquidates or repositions held alts that are no longer valid on the
// incoming side (spec §4.7.2).
func (s *ABD) switchBasePair(ctx context.Context, newBase model.BasePair) error {
	oldBase := s.basePair
	s.basePair = newBase
	if oldBase == model.BasePairNone {
		s.log.Info().Str("base_pair", string(newBase)).Msg("abd: initial base pair set")
		return nil
	}
	if oldBase == newBase {
		return nil
	}
	s.log.Info().Str("from", string(oldBase)).Str("to", string(newBase)).Msg("abd: base pair switch")
	for symKey := range s.tradingAlts {
		sym := symbolFromKey(symKey)
		if err := s.orders.CancelAll(ctx, sym, exchange.CancelSpec{Normal: true, OCO: true}); err != nil {
			s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("abd: cancel alt orders on base switch failed")
		}
	}
	for symKey := range s.openAlts {
		sym := symbolFromKey(symKey)
		if open, ok := s.openAlts[symKey]; ok {
			if err := s.orders.CancelOrder(ctx, sym, open.OrderID); err != nil {
				s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("abd: cancel open_alt on base switch failed")
			}
		}
		delete(s.openAlts, symKey)
	}
	return s.liquidateInvalidSideAlts(ctx, newBase)
}

// liquidateInvalidSideAlts is sell_invalid_alts, corrected: the alt is
// rotated into the counterpart pair quoted by newBase (not hard-coded to
// BTC) when that counterpart passes the validity filter; otherwise it is
// sold outright and dropped (SPEC_FULL §6 Open Question decision).
func (s *ABD) liquidateInvalidSideAlts(ctx context.Context, newBase model.BasePair) error {
	for symKey := range s.tradingAlts {
		sym := symbolFromKey(symKey)
		if sym.Quote == string(newBase) {
			continue
		}
		counterpart := model.NewSymbol(sym.Base, string(newBase))
		counterTicker, err := s.ex.TickerInfo(ctx, counterpart)
		valid := err == nil && isValidAlt(counterTicker, false)

		if _, err := s.orders.MarketSell(ctx, sym, 0); err != nil {
			s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("abd: liquidate invalid-side alt failed")
			continue
		}
		delete(s.tradingAlts, symKey)

		if !valid {
			continue
		}
		quoteBal, err := s.ex.Balance(ctx, counterpart.Quote)
		if err != nil {
			return err
		}
		if quoteBal.Free <= 0 {
			continue
		}
		order, err := s.orders.MarketBuy(ctx, counterpart, quoteBal.Free)
		if err != nil {
			s.log.Warn().Str("symbol", counterpart.String()).Err(err).Msg("abd: reposition into counterpart pair failed")
			continue
		}
		s.tradingAlts[counterpart.Internal] = &model.TradingAlt{TotalQuantity: order.ExecutedQuantity}
	}
	return nil
}

// reconcile is identical to ADT's (step 1 of the shared per-alt-cycle
// mechanics, spec §4.7.3 referenced by §4.7.2).
func (s *ABD) reconcile(ctx context.Context) error {
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

func (s *ABD) refreshProtectiveFills(ctx context.Context, sym model.Symbol, alt *model.TradingAlt) {
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

func (s *ABD) checkExits(ctx context.Context, dayRolledOver bool) error {
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
		if dayRolledOver {
			candles, err := s.ex.GetOHLCV(ctx, sym, pivot.Interval1Day, 3)
			if err == nil && len(candles) >= 2 {
				if candles[len(candles)-2].Close < p.P {
					s.dropPosition(ctx, sym, alt)
				}
			}
		}
	}
	return nil
}

func (s *ABD) dropPosition(ctx context.Context, sym model.Symbol, alt *model.TradingAlt) {
	if err := s.orders.CancelAll(ctx, sym, exchange.CancelSpec{Normal: true, OCO: true}); err != nil {
		s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("abd: cancel protective orders on exit failed")
	}
	if _, err := s.orders.MarketSell(ctx, sym, 0); err != nil {
		s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("abd: market-sell on exit failed")
	}
	delete(s.tradingAlts, sym.Internal)
}

// enterNewPositions branches on the live base pair: bullish (ALT/BTC)
// queues pivot-P limit buys via open_alts, bearish (ALT/USDT) enters
// immediately at market like ADT (spec §4.7.2/§4.7.3).
func (s *ABD) enterNewPositions(ctx context.Context) error {
	if s.basePair == model.BasePairBTC {
		return s.enterViaOpenAltsQueue(ctx)
	}
	return s.enterImmediate(ctx)
}

func (s *ABD) candidateTickers(ctx context.Context) ([]model.TickerInfo, error) {
	all, err := s.ex.Tickers(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.TickerInfo
	for _, t := range all {
		if t.Symbol.Quote != string(s.basePair) {
			continue
		}
		_, held := s.tradingAlts[t.Symbol.Internal]
		if _, openHeld := s.openAlts[t.Symbol.Internal]; openHeld {
			held = true
		}
		if !isValidAlt(t, held) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *ABD) enterImmediate(ctx context.Context) error {
	remaining := adtMaxTradeLimit - len(s.tradingAlts)
	if remaining <= 0 {
		return nil
	}
	candidates, err := s.candidateTickers(ctx)
	if err != nil {
		return err
	}
	for _, ticker := range candidates {
		if remaining <= 0 {
			break
		}
		crossed, err := s.freshlyCrossedPivot(ctx, ticker.Symbol)
		if err != nil || !crossed {
			continue
		}
		quoteBal, err := s.ex.Balance(ctx, ticker.Symbol.Quote)
		if err != nil {
			return err
		}
		order, err := s.orders.MarketBuy(ctx, ticker.Symbol, quoteBal.Free/float64(remaining))
		if err != nil {
			s.log.Warn().Str("symbol", ticker.Symbol.String()).Err(err).Msg("abd: immediate entry failed")
			continue
		}
		s.tradingAlts[ticker.Symbol.Internal] = &model.TradingAlt{TotalQuantity: order.ExecutedQuantity}
		remaining--
	}
	return nil
}

func (s *ABD) enterViaOpenAltsQueue(ctx context.Context) error {
	remaining := adtMaxTradeLimit - len(s.tradingAlts) - len(s.openAlts)
	if remaining <= 0 {
		return nil
	}
	candidates, err := s.candidateTickers(ctx)
	if err != nil {
		return err
	}
	for _, ticker := range candidates {
		if remaining <= 0 {
			break
		}
		crossed, err := s.freshlyCrossedPivot(ctx, ticker.Symbol)
		if err != nil || !crossed {
			continue
		}
		p, err := pivot.Monthly(ctx, s.ex, ticker.Symbol)
		if err != nil {
			continue
		}
		quoteBal, err := s.ex.Balance(ctx, ticker.Symbol.Quote)
		if err != nil {
			return err
		}
		qty := (quoteBal.Free / float64(remaining)) / p.P
		order, err := s.orders.CreateLimit(ctx, ticker.Symbol, model.SideBuy, qty, p.P)
		if err != nil {
			s.log.Warn().Str("symbol", ticker.Symbol.String()).Err(err).Msg("abd: open_alt limit queue failed")
			continue
		}
		s.openAlts[ticker.Symbol.Internal] = model.OpenAlt{OrderID: order.OrderID, CreatedAt: time.Now()}
		remaining--
	}
	return nil
}

func (s *ABD) freshlyCrossedPivot(ctx context.Context, sym model.Symbol) (bool, error) {
	p, err := pivot.Monthly(ctx, s.ex, sym)
	if err != nil {
		return false, err
	}
	candles, err := s.ex.GetOHLCV(ctx, sym, pivot.Interval1Day, 4)
	if err != nil || len(candles) < 3 {
		return false, err
	}
	prevClose := candles[len(candles)-2].Close
	prevPrevClose := candles[len(candles)-3].Close
	return prevPrevClose < p.P && p.P <= prevClose, nil
}

func (s *ABD) placeProtectiveOrders(ctx context.Context) error {
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
	}
	return nil
}

// manageOpenAlts is identical to ADT's (SPEC_FULL §4 item 3): the bullish
// ALT/BTC side is the only one that ever populates open_alts, but a base
// switch can leave entries here momentarily, so this always drains stale
// ones regardless of current basePair.
func (s *ABD) manageOpenAlts(ctx context.Context) error {
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
			s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("abd: cancel stale open_alt failed")
		}
		delete(s.openAlts, symKey)
		if order.ExecutedQuantity <= 0 {
			continue
		}
		if fillRatio >= adtOpenAltPromoteFillRatio {
			s.tradingAlts[symKey] = &model.TradingAlt{TotalQuantity: order.ExecutedQuantity}
		} else if _, err := s.orders.MarketSell(ctx, sym, order.ExecutedQuantity); err != nil {
			s.log.Warn().Str("symbol", sym.String()).Err(err).Msg("abd: sell stale open_alt fragment failed")
		}
	}
	return nil
}

// HeldValue sums every trading_alt's current notional, split by the alt's
// own quote currency, for the daemon's telemetry snapshot.
func (s *ABD) HeldValue(ctx context.Context) (extraBTC, extraUSDT float64, err error) {
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

func (s *ABD) Shutdown(ctx context.Context) error {
	for symKey := range s.tradingAlts {
		sym := symbolFromKey(symKey)
		if err := s.orders.CancelAll(ctx, sym, exchange.CancelSpec{Normal: true, OCO: true}); err != nil {
			return err
		}
	}
	for symKey, open := range s.openAlts {
		sym := symbolFromKey(symKey)
		if err := s.orders.CancelOrder(ctx, sym, open.OrderID); err != nil {
			return err
		}
	}
	return nil
}
