package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/kernel"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/pivot"
	"github.com/nshin-labs/pivottrader/internal/spotorder"
)

// fakeADTExchange keys candle responses by interval so checkExits' daily
// pivot and enterNewPositions' monthly pivot can be driven independently.
type fakeADTExchange struct {
	candlesByInterval map[pivot.Interval][]model.Candle
	tickerInfo        map[string]model.TickerInfo
	tickersList       []model.TickerInfo
	balances          map[string]model.Balance
	orderStatus       map[int64]model.Order
	book              exchange.OrderBook

	cancelAllCalls    []model.Symbol
	cancelOrderIDs    []int64
	marketSellCalls   []float64
	createLimitCalls  []float64 // prices passed to CreateLimit
	createMarketCalls []float64 // quantities passed to CreateMarket
}

func newFakeADT() *fakeADTExchange {
	return &fakeADTExchange{
		candlesByInterval: make(map[pivot.Interval][]model.Candle),
		tickerInfo:        make(map[string]model.TickerInfo),
		balances:          make(map[string]model.Balance),
		orderStatus:       make(map[int64]model.Order),
	}
}

func (f *fakeADTExchange) GetOHLCV(ctx context.Context, symbol model.Symbol, interval pivot.Interval, limit int) ([]model.Candle, error) {
	return f.candlesByInterval[interval], nil
}
func (f *fakeADTExchange) Classify(err error) kernel.ErrorKind {
	if err == nil {
		return kernel.KindNone
	}
	return kernel.KindUnexpected
}
func (f *fakeADTExchange) Markets(ctx context.Context) ([]model.Symbol, error) { return nil, nil }
func (f *fakeADTExchange) TickerInfo(ctx context.Context, symbol model.Symbol) (model.TickerInfo, error) {
	return f.tickerInfo[symbol.Internal], nil
}
func (f *fakeADTExchange) Tickers(ctx context.Context) ([]model.TickerInfo, error) {
	return f.tickersList, nil
}
func (f *fakeADTExchange) Balance(ctx context.Context, asset string) (model.Balance, error) {
	return f.balances[asset], nil
}
func (f *fakeADTExchange) Balances(ctx context.Context) ([]model.Balance, error) { return nil, nil }
func (f *fakeADTExchange) OpenOrders(ctx context.Context, symbol model.Symbol) ([]model.Order, error) {
	return nil, nil
}
func (f *fakeADTExchange) OrderStatus(ctx context.Context, symbol model.Symbol, orderID int64) (model.Order, error) {
	return f.orderStatus[orderID], nil
}
func (f *fakeADTExchange) OrderBook(ctx context.Context, symbol model.Symbol, depth int) (exchange.OrderBook, error) {
	return f.book, nil
}
func (f *fakeADTExchange) MarketSell(ctx context.Context, symbol model.Symbol, quantity float64) (model.Order, error) {
	f.marketSellCalls = append(f.marketSellCalls, quantity)
	return model.Order{ExecutedQuantity: quantity}, nil
}
func (f *fakeADTExchange) CreateLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price float64) (model.Order, error) {
	f.createLimitCalls = append(f.createLimitCalls, price)
	return model.Order{OrderID: 777}, nil
}
func (f *fakeADTExchange) CreateStopLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price, stopPrice float64) (model.Order, error) {
	return model.Order{OrderID: 999}, nil
}
func (f *fakeADTExchange) CreateMarket(ctx context.Context, symbol model.Symbol, side model.Side, qty float64) (model.Order, error) {
	f.createMarketCalls = append(f.createMarketCalls, qty)
	return model.Order{ExecutedQuantity: qty}, nil
}
func (f *fakeADTExchange) CreateOCO(ctx context.Context, symbol model.Symbol, side model.Side, qty, tp, stopTrigger, stopLimit float64) (model.OCOLeg, error) {
	return model.OCOLeg{OrderListID: 1, LimitOrderID: 2, StopOrderID: 3}, nil
}
func (f *fakeADTExchange) CancelOrder(ctx context.Context, symbol model.Symbol, orderID int64) error {
	f.cancelOrderIDs = append(f.cancelOrderIDs, orderID)
	return nil
}
func (f *fakeADTExchange) CancelOrderList(ctx context.Context, symbol model.Symbol, orderListID int64) error {
	return nil
}
func (f *fakeADTExchange) CancelAll(ctx context.Context, symbol model.Symbol, spec exchange.CancelSpec) error {
	f.cancelAllCalls = append(f.cancelAllCalls, symbol)
	return nil
}

var _ exchange.Exchange = (*fakeADTExchange)(nil)

func newADTHarness(fe *fakeADTExchange) *ADT {
	mgr := spotorder.New(fe, kernel.New(zerolog.Nop()), zerolog.Nop())
	return NewADT(fe, mgr, zerolog.Nop())
}

func flatDailyCandles(n int, high, low, close float64) []model.Candle {
	candles := make([]model.Candle, n)
	now := time.Now()
	for i := range candles {
		candles[i] = model.Candle{Timestamp: now.AddDate(0, 0, i-n), High: high, Low: low, Close: close}
	}
	return candles
}

func TestADT_CheckExits_DropsOnStopFill(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	fe.candlesByInterval[pivot.Interval1Day] = flatDailyCandles(5, 2100, 1900, 2000)
	fe.tickerInfo[sym.Internal] = model.TickerInfo{LastPrice: 2000}
	fe.balances[sym.Base] = model.Balance{Free: 1} // dropPosition's market-sell defaults to free balance

	strat := newADTHarness(fe)
	strat.tradingAlts[sym.Internal] = &model.TradingAlt{TotalQuantity: 1, S1Quantity: 0.5}

	require.NoError(t, strat.checkExits(context.Background(), false))
	assert.NotContains(t, strat.tradingAlts, sym.Internal)
	assert.Equal(t, []float64{1}, fe.marketSellCalls)
}

func TestADT_CheckExits_DropsOnPivotS1Break(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	// prior closed daily bar H=2100,L=1900,C=2000 -> P=2000, S1=2000-200*0.236=1952.8
	fe.candlesByInterval[pivot.Interval1Day] = flatDailyCandles(5, 2100, 1900, 2000)
	p := pivot.Compute(2100, 1900, 2000)
	fe.tickerInfo[sym.Internal] = model.TickerInfo{LastPrice: p.S1 - 1} // just below S1

	strat := newADTHarness(fe)
	strat.tradingAlts[sym.Internal] = &model.TradingAlt{TotalQuantity: 1}

	require.NoError(t, strat.checkExits(context.Background(), false))
	assert.NotContains(t, strat.tradingAlts, sym.Internal)
}

func TestADT_CheckExits_HoldsWhenAboveS1AndNoRollover(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	fe.candlesByInterval[pivot.Interval1Day] = flatDailyCandles(5, 2100, 1900, 2000)
	p := pivot.Compute(2100, 1900, 2000)
	fe.tickerInfo[sym.Internal] = model.TickerInfo{LastPrice: p.P} // comfortably above S1

	strat := newADTHarness(fe)
	strat.tradingAlts[sym.Internal] = &model.TradingAlt{TotalQuantity: 1}

	require.NoError(t, strat.checkExits(context.Background(), false))
	assert.Contains(t, strat.tradingAlts, sym.Internal)
}

func TestADT_CheckExits_DropsOnDailyCloseBreakAfterRollover(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	// prior closed bar H=2100,L=1900,C=1950: close sits below the H/L midpoint
	// (2000), which puts it below the derived pivot P=(2100+1900+1950)/3=1983.33.
	dailyWindow := flatDailyCandles(5, 2100, 1900, 1950)
	p := pivot.Compute(2100, 1900, 1950)
	fe.candlesByInterval[pivot.Interval1Day] = dailyWindow
	fe.tickerInfo[sym.Internal] = model.TickerInfo{LastPrice: p.P + 1} // above S1, survives the pivot-break check

	strat := newADTHarness(fe)
	strat.tradingAlts[sym.Internal] = &model.TradingAlt{TotalQuantity: 1}

	require.NoError(t, strat.checkExits(context.Background(), true))
	assert.NotContains(t, strat.tradingAlts, sym.Internal, "prior day's close sits below pivot P, so a rollover should drop the position")
}

func TestADT_ManageOpenAlts_PromotesWhenHalfOrMoreFilled(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	fe.orderStatus[42] = model.Order{OriginalQuantity: 1, ExecutedQuantity: 0.6}

	strat := newADTHarness(fe)
	strat.openAlts[sym.Internal] = model.OpenAlt{OrderID: 42, CreatedAt: time.Now().Add(-2 * time.Hour)}

	require.NoError(t, strat.manageOpenAlts(context.Background()))
	assert.NotContains(t, strat.openAlts, sym.Internal)
	require.Contains(t, strat.tradingAlts, sym.Internal)
	assert.Equal(t, 0.6, strat.tradingAlts[sym.Internal].TotalQuantity)
	assert.Empty(t, fe.marketSellCalls)
}

func TestADT_ManageOpenAlts_SellsFragmentWhenUnderHalfFilled(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	fe.orderStatus[42] = model.Order{OriginalQuantity: 1, ExecutedQuantity: 0.2}
	fe.tickerInfo[sym.Internal] = model.TickerInfo{LastPrice: 2000} // clears minimum notional for the fragment sale

	strat := newADTHarness(fe)
	strat.openAlts[sym.Internal] = model.OpenAlt{OrderID: 42, CreatedAt: time.Now().Add(-2 * time.Hour)}

	require.NoError(t, strat.manageOpenAlts(context.Background()))
	assert.NotContains(t, strat.openAlts, sym.Internal)
	assert.NotContains(t, strat.tradingAlts, sym.Internal)
	assert.Equal(t, []float64{0.2}, fe.marketSellCalls)
}

func TestADT_ManageOpenAlts_LeavesFreshEntriesAlone(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	strat := newADTHarness(fe)
	strat.openAlts[sym.Internal] = model.OpenAlt{OrderID: 42, CreatedAt: time.Now()}

	require.NoError(t, strat.manageOpenAlts(context.Background()))
	assert.Contains(t, strat.openAlts, sym.Internal)
}

func TestADT_Reconcile_DropsPositionBelowMinNotional(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	fe.balances[sym.Base] = model.Balance{Free: 0.0001}
	fe.tickerInfo[sym.Internal] = model.TickerInfo{LastPrice: 2000} // notional ~= 0.2 USDT, below the 13 USDT floor

	strat := newADTHarness(fe)
	strat.tradingAlts[sym.Internal] = &model.TradingAlt{TotalQuantity: 1}

	require.NoError(t, strat.reconcile(context.Background()))
	assert.NotContains(t, strat.tradingAlts, sym.Internal)
}

// dailyClosesCandles builds a daily OHLCV window whose last two closed bars
// (third- and second-to-last candles; the last candle is the still-open
// current day) close at prevPrevClose, prevClose (in that order), satisfying
// enterNewPositions' prevPrevClose < P <= prevClose cross check.
func dailyClosesCandles(n int, prevPrevClose, prevClose float64) []model.Candle {
	candles := make([]model.Candle, n)
	now := time.Now()
	for i := range candles {
		candles[i] = model.Candle{Timestamp: now.AddDate(0, 0, i-n), High: prevClose, Low: prevPrevClose, Close: prevPrevClose}
	}
	candles[n-2] = model.Candle{Timestamp: now.AddDate(0, 0, -1), High: prevClose, Low: prevPrevClose, Close: prevClose}
	candles[n-1] = model.Candle{Timestamp: now, High: prevClose, Low: prevPrevClose, Close: prevClose}
	return candles
}

func TestADT_EnterNewPositions_QueuesOpenAltWhenStillAbovePivot(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	fe.candlesByInterval[pivot.Interval1Month] = flatDailyCandles(5, 2200, 1800, 2000) // P=2000
	fe.candlesByInterval[pivot.Interval1Day] = dailyClosesCandles(4, 1900, 2100)       // prevPrevClose=1900 < P=2000 <= prevClose=2100
	fe.tickerInfo[sym.Internal] = model.TickerInfo{LastPrice: 2150}                    // still above P=2000
	fe.tickersList = []model.TickerInfo{{
		Symbol:      sym,
		LastPrice:   2150,
		QuoteVolume: minVolumeUSDT * 2,
	}}
	fe.balances[sym.Quote] = model.Balance{Free: 1000}

	strat := newADTHarness(fe)
	require.NoError(t, strat.enterNewPositions(context.Background()))

	assert.Empty(t, fe.createMarketCalls, "a ticker still above P should not be bought at market")
	require.Len(t, fe.createLimitCalls, 1)
	assert.Equal(t, 2000.0, fe.createLimitCalls[0], "the pivot-limit order is queued at P")
	require.Contains(t, strat.openAlts, sym.Internal)
	assert.Equal(t, int64(777), strat.openAlts[sym.Internal].OrderID)
	assert.NotContains(t, strat.tradingAlts, sym.Internal)
}

func TestADT_EnterNewPositions_BuysAtMarketWhenAtOrBelowPivot(t *testing.T) {
	fe := newFakeADT()
	sym := model.NewSymbol("ETH", "USDT")
	fe.candlesByInterval[pivot.Interval1Month] = flatDailyCandles(5, 2200, 1800, 2000) // P=2000
	fe.candlesByInterval[pivot.Interval1Day] = dailyClosesCandles(4, 1900, 2100)       // prevPrevClose=1900 < P=2000 <= prevClose=2100
	fe.tickerInfo[sym.Internal] = model.TickerInfo{LastPrice: 1950}                    // pulled back to/under P=2000
	fe.tickersList = []model.TickerInfo{{
		Symbol:      sym,
		LastPrice:   1950,
		QuoteVolume: minVolumeUSDT * 2,
	}}
	fe.balances[sym.Quote] = model.Balance{Free: 1000}
	fe.book = exchange.OrderBook{Asks: []exchange.PriceLevel{{Price: 1950, Quantity: 1000}}} // deep enough to clear the book-walk target

	strat := newADTHarness(fe)
	require.NoError(t, strat.enterNewPositions(context.Background()))

	assert.Empty(t, fe.createLimitCalls, "a ticker at/below P should not be queued as an open_alt")
	require.Contains(t, strat.tradingAlts, sym.Internal)
	assert.NotContains(t, strat.openAlts, sym.Internal)
	assert.NotEmpty(t, fe.createMarketCalls)
}

func TestADT_Shutdown_CancelsEveryHeldPosition(t *testing.T) {
	fe := newFakeADT()
	strat := newADTHarness(fe)
	strat.tradingAlts["ETHUSDT"] = &model.TradingAlt{}
	strat.tradingAlts["BTCUSDT"] = &model.TradingAlt{}

	require.NoError(t, strat.Shutdown(context.Background()))
	assert.Len(t, fe.cancelAllCalls, 2)
}
