package spotorder

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/kernel"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/pivot"
)

// fakeExchange is a minimal, hand-written stand-in for exchange.Exchange:
// every call the Manager doesn't exercise in a given test just returns its
// zero value.
type fakeExchange struct {
	ticker       model.TickerInfo
	balances     map[string]model.Balance
	book         exchange.OrderBook
	marketOrder  model.Order
	createCalls  []string
	classifyKind kernel.ErrorKind
	insufficientFundsUntilCall int
	marketBuyCalls int
}

func (f *fakeExchange) GetOHLCV(ctx context.Context, symbol model.Symbol, interval pivot.Interval, limit int) ([]model.Candle, error) {
	return nil, nil
}

// Classify reports the configured classification, or none for a nil error.
func (f *fakeExchange) Classify(err error) kernel.ErrorKind {
	if err == nil {
		return kernel.KindNone
	}
	if f.classifyKind != kernel.KindNone {
		return f.classifyKind
	}
	return kernel.KindUnexpected
}

func (f *fakeExchange) Markets(ctx context.Context) ([]model.Symbol, error) { return nil, nil }
func (f *fakeExchange) TickerInfo(ctx context.Context, symbol model.Symbol) (model.TickerInfo, error) {
	return f.ticker, nil
}
func (f *fakeExchange) Tickers(ctx context.Context) ([]model.TickerInfo, error) { return nil, nil }
func (f *fakeExchange) Balance(ctx context.Context, asset string) (model.Balance, error) {
	return f.balances[asset], nil
}
func (f *fakeExchange) Balances(ctx context.Context) ([]model.Balance, error) { return nil, nil }
func (f *fakeExchange) OpenOrders(ctx context.Context, symbol model.Symbol) ([]model.Order, error) {
	return nil, nil
}
func (f *fakeExchange) OrderStatus(ctx context.Context, symbol model.Symbol, orderID int64) (model.Order, error) {
	return model.Order{}, nil
}
func (f *fakeExchange) OrderBook(ctx context.Context, symbol model.Symbol, depth int) (exchange.OrderBook, error) {
	return f.book, nil
}
func (f *fakeExchange) MarketSell(ctx context.Context, symbol model.Symbol, quantity float64) (model.Order, error) {
	f.createCalls = append(f.createCalls, "market_sell")
	o := f.marketOrder
	o.ExecutedQuantity = quantity
	return o, nil
}
func (f *fakeExchange) CreateLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price float64) (model.Order, error) {
	f.createCalls = append(f.createCalls, "create_limit")
	return model.Order{OriginalQuantity: qty}, nil
}
func (f *fakeExchange) CreateStopLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price, stopPrice float64) (model.Order, error) {
	f.createCalls = append(f.createCalls, "create_stop_limit")
	return model.Order{OriginalQuantity: qty}, nil
}
func (f *fakeExchange) CreateMarket(ctx context.Context, symbol model.Symbol, side model.Side, qty float64) (model.Order, error) {
	f.marketBuyCalls++
	f.createCalls = append(f.createCalls, "create_market")
	if f.insufficientFundsUntilCall > 0 && f.marketBuyCalls < f.insufficientFundsUntilCall {
		f.classifyKind = kernel.KindInsufficientFunds
		return model.Order{}, assertErr
	}
	f.classifyKind = kernel.KindNone
	return model.Order{OriginalQuantity: qty}, nil
}
func (f *fakeExchange) CreateOCO(ctx context.Context, symbol model.Symbol, side model.Side, qty, tp, stopTrigger, stopLimit float64) (model.OCOLeg, error) {
	f.createCalls = append(f.createCalls, "create_oco")
	return model.OCOLeg{OrderListID: 99}, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, symbol model.Symbol, orderID int64) error {
	return nil
}
func (f *fakeExchange) CancelOrderList(ctx context.Context, symbol model.Symbol, orderListID int64) error {
	return nil
}
func (f *fakeExchange) CancelAll(ctx context.Context, symbol model.Symbol, spec exchange.CancelSpec) error {
	f.createCalls = append(f.createCalls, "cancel_all")
	return nil
}

var assertErr = fmt.Errorf("insufficient funds")

var _ exchange.Exchange = (*fakeExchange)(nil)

func newManager(fe *fakeExchange) *Manager {
	return New(fe, kernel.New(zerolog.Nop()), zerolog.Nop())
}

func TestMarketSell_DefaultsToFreeBalanceWhenQuantityIsZero(t *testing.T) {
	sym := model.NewSymbol("ETH", "BTC")
	fe := &fakeExchange{
		ticker:   model.TickerInfo{StepSize: 0.001, TickSize: 0.0001, LastPrice: 0.05},
		balances: map[string]model.Balance{"ETH": {Free: 2.5}},
	}
	mgr := newManager(fe)

	order, err := mgr.MarketSell(context.Background(), sym, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, order.ExecutedQuantity, 1e-9)
}

func TestMarketSell_RejectsBelowMinimumNotional(t *testing.T) {
	sym := model.NewSymbol("ETH", "BTC")
	fe := &fakeExchange{
		ticker: model.TickerInfo{StepSize: 0.001, TickSize: 0.0001, LastPrice: 0.0001},
	}
	mgr := newManager(fe)

	_, err := mgr.MarketSell(context.Background(), sym, 0.001)
	assert.Error(t, err)
}

func TestMarketBuy_RetriesOnInsufficientFundsThenSucceeds(t *testing.T) {
	sym := model.NewSymbol("BTC", "USDT")
	fe := &fakeExchange{
		ticker:                     model.TickerInfo{StepSize: 0.0001, TickSize: 0.01, LastPrice: 20000},
		balances:                   map[string]model.Balance{"USDT": {Free: 1000}},
		book:                       exchange.OrderBook{Asks: []exchange.PriceLevel{{Price: 20000, Quantity: 10}}},
		insufficientFundsUntilCall: 2,
	}
	mgr := newManager(fe)

	order, err := mgr.MarketBuy(context.Background(), sym, 500)
	require.NoError(t, err)
	assert.Greater(t, order.OriginalQuantity, 0.0)
	assert.Equal(t, 2, fe.marketBuyCalls)
}

func TestMarketBuy_GrowsBookDepthOnThinBook(t *testing.T) {
	sym := model.NewSymbol("BTC", "USDT")
	fe := &fakeExchange{
		ticker:   model.TickerInfo{StepSize: 0.0001, TickSize: 0.01, LastPrice: 20000},
		balances: map[string]model.Balance{"USDT": {Free: 1000}},
		// Too little depth to clear the slipped target quote volume.
		book: exchange.OrderBook{Asks: []exchange.PriceLevel{{Price: 20000, Quantity: 0.001}}},
	}
	mgr := newManager(fe)

	_, err := mgr.MarketBuy(context.Background(), sym, 500)
	assert.Error(t, err, "a permanently thin book exhausts retries rather than placing an undersized order")
}

func TestCreateOCO_QuantizesEveryPriceAndQuantity(t *testing.T) {
	sym := model.NewSymbol("BTC", "USDT")
	fe := &fakeExchange{ticker: model.TickerInfo{StepSize: 0.001, TickSize: 0.01}}
	mgr := newManager(fe)

	_, err := mgr.CreateOCO(context.Background(), sym, model.SideSell, 0.12345, 21000.129, 19000.001, 18999.999)
	require.NoError(t, err)
	assert.Contains(t, fe.createCalls, "create_oco")
}

func TestCancelAll_Idempotent(t *testing.T) {
	sym := model.NewSymbol("BTC", "USDT")
	fe := &fakeExchange{}
	mgr := newManager(fe)

	require.NoError(t, mgr.CancelAll(context.Background(), sym, exchange.CancelSpec{Normal: true, OCO: true}))
	require.NoError(t, mgr.CancelAll(context.Background(), sym, exchange.CancelSpec{Normal: true, OCO: true}))
	assert.Equal(t, 2, len(fe.createCalls))
}
