// Package exchange defines the Exchange Client Adapter contract (spec
// §4.6): the external collaborator every order manager and pivot fetch is
// mediated through, plus the Snapshot cache object that replaces the
// original's ad hoc update_*/data_update flags with an explicit,
// immutable-copy read path (Design Note "Global adapter state").
package exchange

import (
	"context"
	"time"

	"github.com/nshin-labs/pivottrader/internal/kernel"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/pivot"
)

// Exchange is the spot-market surface (C1) backing internal/spotorder and
// internal/pivot.
type Exchange interface {
	pivot.Source
	kernel.Classifier

	Markets(ctx context.Context) ([]model.Symbol, error)
	TickerInfo(ctx context.Context, symbol model.Symbol) (model.TickerInfo, error)
	Tickers(ctx context.Context) ([]model.TickerInfo, error)
	Balance(ctx context.Context, asset string) (model.Balance, error)
	Balances(ctx context.Context) ([]model.Balance, error)
	OpenOrders(ctx context.Context, symbol model.Symbol) ([]model.Order, error)
	OrderStatus(ctx context.Context, symbol model.Symbol, orderID int64) (model.Order, error)

	OrderBook(ctx context.Context, symbol model.Symbol, depth int) (OrderBook, error)

	MarketSell(ctx context.Context, symbol model.Symbol, quantity float64) (model.Order, error)
	CreateLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price float64) (model.Order, error)
	CreateStopLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price, stopPrice float64) (model.Order, error)
	CreateMarket(ctx context.Context, symbol model.Symbol, side model.Side, qty float64) (model.Order, error)
	CreateOCO(ctx context.Context, symbol model.Symbol, side model.Side, qty, takeProfitPrice, stopTriggerPrice, stopLimitPrice float64) (model.OCOLeg, error)
	CancelOrder(ctx context.Context, symbol model.Symbol, orderID int64) error
	CancelOrderList(ctx context.Context, symbol model.Symbol, orderListID int64) error
	CancelAll(ctx context.Context, symbol model.Symbol, spec CancelSpec) error
}

// CancelSpec selects which open-order classes cancel_all tears down.
type CancelSpec struct {
	Normal bool
	OCO    bool
}

// OrderBook is a depth snapshot used by market_buy's book-walk.
type OrderBook struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

type PriceLevel struct {
	Price    float64
	Quantity float64
}

// FuturesExchange is the futures surface (C1 for C5).
type FuturesExchange interface {
	kernel.Classifier

	GetLastPrice(ctx context.Context, symbol model.Symbol) (float64, error)
	FutureTickerInfo(ctx context.Context, symbol model.Symbol) (model.TickerInfo, error)
	FutureBalance(ctx context.Context) (model.Balance, error)
	GetOHLCV(ctx context.Context, symbol model.Symbol, interval pivot.Interval, limit int) ([]model.Candle, error)

	SetLeverage(ctx context.Context, symbol model.Symbol, leverage int) error
	SetMarginType(ctx context.Context, symbol model.Symbol, isolated bool) error
	CreateFutureOrder(ctx context.Context, req FutureOrderRequest) (model.Order, error)
	CancelAllFutureOrders(ctx context.Context, symbol model.Symbol) error
	ClosePosition(ctx context.Context, symbol model.Symbol) error
	PositionInformation(ctx context.Context, symbol model.Symbol) (PositionInfo, error)
}

// FutureOrderRequest is the unified request shape for
// create_future_order(symbol, side, type, qty, price?, stop_price?, reduce_only?).
type FutureOrderRequest struct {
	Symbol     model.Symbol
	Side       model.Side
	Type       model.OrderType
	Quantity   float64
	Price      float64 // zero when not applicable
	StopPrice  float64 // zero when not applicable
	ReduceOnly bool
}

// PositionInfo is the subset of get_position_information consumed by the
// futures strategies: signed position amount (positive long, negative short).
type PositionInfo struct {
	Symbol       model.Symbol
	PositionAmt  float64
	EntryPrice   float64
	Leverage     int
	IsolatedMargin bool
}

// Snapshot is an immutable, point-in-time copy of market/ticker/open-order
// state a strategy step holds for its duration, refreshed explicitly via
// UpdateMarkets/UpdateTickers/UpdateOpenOrders rather than lazily mutated
// in place.
type Snapshot struct {
	takenAt    time.Time
	markets    []model.Symbol
	tickers    map[string]model.TickerInfo
	openOrders map[string][]model.Order
}

// Cache owns the mutable backing store behind Snapshot and refreshes it
// from an Exchange on demand.
type Cache struct {
	ex Exchange

	markets    []model.Symbol
	tickers    map[string]model.TickerInfo
	openOrders map[string][]model.Order
	takenAt    time.Time
}

func NewCache(ex Exchange) *Cache {
	return &Cache{ex: ex, tickers: map[string]model.TickerInfo{}, openOrders: map[string][]model.Order{}}
}

func (c *Cache) UpdateMarkets(ctx context.Context) error {
	markets, err := c.ex.Markets(ctx)
	if err != nil {
		return err
	}
	c.markets = markets
	c.takenAt = time.Now()
	return nil
}

func (c *Cache) UpdateTickers(ctx context.Context) error {
	tickers, err := c.ex.Tickers(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string]model.TickerInfo, len(tickers))
	for _, t := range tickers {
		fresh[t.Symbol.Internal] = t
	}
	c.tickers = fresh
	c.takenAt = time.Now()
	return nil
}

func (c *Cache) UpdateOpenOrders(ctx context.Context, symbol model.Symbol) error {
	orders, err := c.ex.OpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	c.openOrders[symbol.Internal] = orders
	c.takenAt = time.Now()
	return nil
}

// Snapshot returns an immutable copy of the cache's current contents.
func (c *Cache) Snapshot() Snapshot {
	tickers := make(map[string]model.TickerInfo, len(c.tickers))
	for k, v := range c.tickers {
		tickers[k] = v
	}
	openOrders := make(map[string][]model.Order, len(c.openOrders))
	for k, v := range c.openOrders {
		cp := make([]model.Order, len(v))
		copy(cp, v)
		openOrders[k] = cp
	}
	markets := make([]model.Symbol, len(c.markets))
	copy(markets, c.markets)
	return Snapshot{takenAt: c.takenAt, markets: markets, tickers: tickers, openOrders: openOrders}
}

func (s Snapshot) TakenAt() time.Time       { return s.takenAt }
func (s Snapshot) Markets() []model.Symbol  { return s.markets }

func (s Snapshot) Ticker(symbol model.Symbol) (model.TickerInfo, bool) {
	t, ok := s.tickers[symbol.Internal]
	return t, ok
}

func (s Snapshot) OpenOrders(symbol model.Symbol) []model.Order {
	return s.openOrders[symbol.Internal]
}
