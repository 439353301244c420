// Package spotorder is the Spot Order Manager (C4): market/limit/stop-limit/
// OCO order verbs over the kernel's retry/quantization layer, grounded on
// binance_order.py's create_order/create_oco_order/sell_at_market/
// buy_at_market family.
package spotorder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/kernel"
	"github.com/nshin-labs/pivottrader/internal/model"
)

const bookWalkSlip = 0.3
const bookWalkMaxTries = 10
const bookWalkStartLimit = 100
const bookWalkLimitStep = 100

// Manager mediates every spot order verb through a kernel.Kernel.
type Manager struct {
	ex  exchange.Exchange
	k   *kernel.Kernel
	log zerolog.Logger
}

func New(ex exchange.Exchange, k *kernel.Kernel, log zerolog.Logger) *Manager {
	return &Manager{ex: ex, k: k, log: log}
}

func (m *Manager) precisionFor(ctx context.Context, symbol model.Symbol) (tick, step, lastPrice float64, err error) {
	info, ierr := kernel.Invoke(ctx, m.k, symbol.String(), "ticker_info", func() (model.TickerInfo, kernel.ErrorKind, error) {
		v, e := m.ex.TickerInfo(ctx, symbol)
		return v, m.ex.Classify(e), e
	})
	if ierr != nil {
		return 0, 0, 0, ierr
	}
	return info.TickSize, info.StepSize, info.LastPrice, nil
}

// minNotionalFor resolves the 1.3x-gated minimum per quote asset (spec
// §4.1: 0.001 BTC for BTC-quoted pairs, 10 USDT for USDT-quoted).
func minNotionalFor(quote string) (float64, error) {
	switch quote {
	case "BTC":
		return kernel.MinNotionalBTC, nil
	case "USDT":
		return kernel.MinNotionalUSDT, nil
	default:
		return 0, fmt.Errorf("spotorder: minimum order size undefined for quote %q", quote)
	}
}

// checkOrderQuantity mirrors check_order_quantity: reject below step_size
// or below the 1.3x-gated minimum notional for the pair's quote asset.
func (m *Manager) checkOrderQuantity(ctx context.Context, symbol model.Symbol, quantity float64) (bool, error) {
	_, step, lastPrice, err := m.precisionFor(ctx, symbol)
	if err != nil {
		return false, err
	}
	if quantity < step {
		return false, nil
	}
	minNotional, err := minNotionalFor(symbol.Quote)
	if err != nil {
		return false, err
	}
	return kernel.MeetsMinNotional(quantity, lastPrice, minNotional), nil
}

// MarketSell is sell_at_market: quantity defaults to free balance; rejects
// below minimum notional.
func (m *Manager) MarketSell(ctx context.Context, symbol model.Symbol, quantity float64) (model.Order, error) {
	if quantity <= 0 {
		bal, err := kernel.Invoke(ctx, m.k, symbol.String(), "balance", func() (model.Balance, kernel.ErrorKind, error) {
			v, e := m.ex.Balance(ctx, symbol.Base)
			return v, m.ex.Classify(e), e
		})
		if err != nil {
			return model.Order{}, err
		}
		quantity = bal.Free
	}
	ok, err := m.checkOrderQuantity(ctx, symbol, quantity)
	if err != nil {
		return model.Order{}, err
	}
	if !ok {
		return model.Order{}, fmt.Errorf("spotorder: %s quantity %.8f below minimum order size", symbol, quantity)
	}
	_, step, _, err := m.precisionFor(ctx, symbol)
	if err != nil {
		return model.Order{}, err
	}
	quantity = kernel.Quantize(quantity, step)
	return kernel.Invoke(ctx, m.k, symbol.String(), "market_sell", func() (model.Order, kernel.ErrorKind, error) {
		v, e := m.ex.MarketSell(ctx, symbol, quantity)
		return v, m.ex.Classify(e), e
	})
}

// MarketBuy is buy_at_market: walks the order book until cumulative
// quote-volume clears quoteQty*(1+slip), using the volume-weighted ask
// price to size the order; grows the book-depth limit and retries on a
// thin book, and on InsufficientFunds, up to bookWalkMaxTries times.
func (m *Manager) MarketBuy(ctx context.Context, symbol model.Symbol, quoteQty float64) (model.Order, error) {
	if quoteQty <= 0 {
		bal, err := kernel.Invoke(ctx, m.k, symbol.String(), "balance", func() (model.Balance, kernel.ErrorKind, error) {
			v, e := m.ex.Balance(ctx, symbol.Quote)
			return v, m.ex.Classify(e), e
		})
		if err != nil {
			return model.Order{}, err
		}
		quoteQty = bal.Free
	}

	_, step, lastPrice, err := m.precisionFor(ctx, symbol)
	if err != nil {
		return model.Order{}, err
	}
	impliedQty := quoteQty / lastPrice
	ok, err := m.checkOrderQuantity(ctx, symbol, impliedQty)
	if err != nil {
		return model.Order{}, err
	}
	if !ok {
		return model.Order{}, fmt.Errorf("spotorder: %s quantity %.8f below minimum order size", symbol, impliedQty)
	}

	depth := bookWalkStartLimit
	tries := bookWalkMaxTries
	for tries > 0 {
		tries--
		book, err := kernel.Invoke(ctx, m.k, symbol.String(), "order_book", func() (exchange.OrderBook, kernel.ErrorKind, error) {
			v, e := m.ex.OrderBook(ctx, symbol, depth)
			return v, m.ex.Classify(e), e
		})
		if err != nil {
			return model.Order{}, err
		}
		weightedAsk, ok := volumeWeightedAskPrice(book.Asks, quoteQty*(1+bookWalkSlip))
		if !ok {
			depth += bookWalkLimitStep
			m.log.Info().Str("symbol", symbol.String()).Int("depth", depth).Msg("orderbook is weak, enhancing limit")
			continue
		}
		amount := kernel.Quantize(quoteQty/weightedAsk, step)
		order, err := kernel.Invoke(ctx, m.k, symbol.String(), "market_buy", func() (model.Order, kernel.ErrorKind, error) {
			v, e := m.ex.CreateMarket(ctx, symbol, model.SideBuy, amount)
			return v, m.ex.Classify(e), e
		})
		if err == nil {
			return order, nil
		}
		if kernel.KindOf(err) != kernel.KindInsufficientFunds {
			return model.Order{}, err
		}
		m.log.Info().Str("symbol", symbol.String()).Int("remaining_tries", tries).Msg("insufficient funds on market buy, retrying")
	}
	return model.Order{}, fmt.Errorf("spotorder: %s market buy exhausted retries", symbol)
}

// volumeWeightedAskPrice walks asks (best-first) until cumulative quote
// volume reaches target, returning the volume-weighted average ask price.
func volumeWeightedAskPrice(asks []exchange.PriceLevel, target float64) (float64, bool) {
	var quoteVolume, baseVolume float64
	for _, lvl := range asks {
		quoteVolume += lvl.Price * lvl.Quantity
		baseVolume += lvl.Quantity
		if target < quoteVolume {
			return quoteVolume / baseVolume, true
		}
	}
	return 0, false
}

func (m *Manager) CreateLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price float64) (model.Order, error) {
	tick, step, _, err := m.precisionFor(ctx, symbol)
	if err != nil {
		return model.Order{}, err
	}
	qty = kernel.Quantize(qty, step)
	price = kernel.Quantize(price, tick)
	return kernel.Invoke(ctx, m.k, symbol.String(), "create_limit", func() (model.Order, kernel.ErrorKind, error) {
		v, e := m.ex.CreateLimit(ctx, symbol, side, qty, price)
		return v, m.ex.Classify(e), e
	})
}

func (m *Manager) CreateStopLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price, stopPrice float64) (model.Order, error) {
	tick, step, _, err := m.precisionFor(ctx, symbol)
	if err != nil {
		return model.Order{}, err
	}
	qty = kernel.Quantize(qty, step)
	price = kernel.Quantize(price, tick)
	stopPrice = kernel.Quantize(stopPrice, tick)
	return kernel.Invoke(ctx, m.k, symbol.String(), "create_stop_limit", func() (model.Order, kernel.ErrorKind, error) {
		v, e := m.ex.CreateStopLimit(ctx, symbol, side, qty, price, stopPrice)
		return v, m.ex.Classify(e), e
	})
}

// CreateOCO places the LIMIT_MAKER/STOP_LOSS_LIMIT pair as a single
// exchange call sharing an order_list_id (spec §4.3 create_oco).
func (m *Manager) CreateOCO(ctx context.Context, symbol model.Symbol, side model.Side, qty, takeProfitPrice, stopTriggerPrice, stopLimitPrice float64) (model.OCOLeg, error) {
	tick, step, _, err := m.precisionFor(ctx, symbol)
	if err != nil {
		return model.OCOLeg{}, err
	}
	qty = kernel.Quantize(qty, step)
	takeProfitPrice = kernel.Quantize(takeProfitPrice, tick)
	stopTriggerPrice = kernel.Quantize(stopTriggerPrice, tick)
	stopLimitPrice = kernel.Quantize(stopLimitPrice, tick)
	return kernel.Invoke(ctx, m.k, symbol.String(), "create_oco", func() (model.OCOLeg, kernel.ErrorKind, error) {
		v, e := m.ex.CreateOCO(ctx, symbol, side, qty, takeProfitPrice, stopTriggerPrice, stopLimitPrice)
		return v, m.ex.Classify(e), e
	})
}

func (m *Manager) CancelOrder(ctx context.Context, symbol model.Symbol, orderID int64) error {
	_, err := kernel.Invoke(ctx, m.k, symbol.String(), "cancel_order", func() (struct{}, kernel.ErrorKind, error) {
		e := m.ex.CancelOrder(ctx, symbol, orderID)
		return struct{}{}, m.ex.Classify(e), e
	})
	return err
}

// CancelAll is cancel_all_order: idempotent (cancelling an already-closed
// order is not surfaced as an error by the adapter).
func (m *Manager) CancelAll(ctx context.Context, symbol model.Symbol, spec exchange.CancelSpec) error {
	_, err := kernel.Invoke(ctx, m.k, symbol.String(), "cancel_all", func() (struct{}, kernel.ErrorKind, error) {
		e := m.ex.CancelAll(ctx, symbol, spec)
		return struct{}{}, m.ex.Classify(e), e
	})
	return err
}
