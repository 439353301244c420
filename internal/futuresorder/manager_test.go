package futuresorder

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/kernel"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/pivot"
)

type fakeFuturesExchange struct {
	ticker         model.TickerInfo
	balance        model.Balance
	lastPrice      float64
	position       exchange.PositionInfo
	marginTypeCall int
	leverageCall   int
	orderCalls     []exchange.FutureOrderRequest
}

func (f *fakeFuturesExchange) Classify(err error) kernel.ErrorKind {
	if err == nil {
		return kernel.KindNone
	}
	return kernel.KindUnexpected
}
func (f *fakeFuturesExchange) GetLastPrice(ctx context.Context, symbol model.Symbol) (float64, error) {
	return f.lastPrice, nil
}
func (f *fakeFuturesExchange) FutureTickerInfo(ctx context.Context, symbol model.Symbol) (model.TickerInfo, error) {
	return f.ticker, nil
}
func (f *fakeFuturesExchange) FutureBalance(ctx context.Context) (model.Balance, error) {
	return f.balance, nil
}
func (f *fakeFuturesExchange) GetOHLCV(ctx context.Context, symbol model.Symbol, interval pivot.Interval, limit int) ([]model.Candle, error) {
	return nil, nil
}
func (f *fakeFuturesExchange) SetLeverage(ctx context.Context, symbol model.Symbol, leverage int) error {
	f.leverageCall = leverage
	return nil
}
func (f *fakeFuturesExchange) SetMarginType(ctx context.Context, symbol model.Symbol, isolated bool) error {
	f.marginTypeCall++
	return nil
}
func (f *fakeFuturesExchange) CreateFutureOrder(ctx context.Context, req exchange.FutureOrderRequest) (model.Order, error) {
	f.orderCalls = append(f.orderCalls, req)
	return model.Order{OriginalQuantity: req.Quantity, Type: req.Type}, nil
}
func (f *fakeFuturesExchange) CancelAllFutureOrders(ctx context.Context, symbol model.Symbol) error {
	return nil
}
func (f *fakeFuturesExchange) ClosePosition(ctx context.Context, symbol model.Symbol) error {
	return nil
}
func (f *fakeFuturesExchange) PositionInformation(ctx context.Context, symbol model.Symbol) (exchange.PositionInfo, error) {
	return f.position, nil
}

var _ exchange.FuturesExchange = (*fakeFuturesExchange)(nil)

func TestCreateFutureOrder_QuantizesQuantityAndPricesToTickerPrecision(t *testing.T) {
	fe := &fakeFuturesExchange{ticker: model.TickerInfo{TickSize: 0.1, StepSize: 0.001}}
	mgr := New(fe, kernel.New(zerolog.Nop()), zerolog.Nop())

	req := exchange.FutureOrderRequest{
		Symbol: model.NewSymbol("BTC", "USDT"), Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: 0.12345, Price: 30000.17,
	}
	order, err := mgr.CreateFutureOrder(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 0.123, order.OriginalQuantity, 1e-9)
	require.Len(t, fe.orderCalls, 1)
	assert.InDelta(t, 30000.1, fe.orderCalls[0].Price, 1e-9)
}

func TestCreateFutureOrder_FallsBackToHardCodedBTCPrecisionWhenTickerUnset(t *testing.T) {
	fe := &fakeFuturesExchange{} // zero-value ticker: no declared tick/step size
	mgr := New(fe, kernel.New(zerolog.Nop()), zerolog.Nop())

	req := exchange.FutureOrderRequest{Symbol: model.NewSymbol("BTC", "USDT"), Quantity: 0.00357}
	order, err := mgr.CreateFutureOrder(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 0.003, order.OriginalQuantity, 1e-9) // snapped to the 0.001 hard-coded MinQty step
}

func TestSetMarginType_PassesThroughAndIsIdempotent(t *testing.T) {
	fe := &fakeFuturesExchange{}
	mgr := New(fe, kernel.New(zerolog.Nop()), zerolog.Nop())
	sym := model.NewSymbol("BTC", "USDT")

	require.NoError(t, mgr.SetMarginType(context.Background(), sym, true))
	require.NoError(t, mgr.SetMarginType(context.Background(), sym, true))
	assert.Equal(t, 2, fe.marginTypeCall)
}

func TestPositionInformation_PassesThrough(t *testing.T) {
	fe := &fakeFuturesExchange{position: exchange.PositionInfo{PositionAmt: 0.5, EntryPrice: 30000}}
	mgr := New(fe, kernel.New(zerolog.Nop()), zerolog.Nop())

	pos, err := mgr.PositionInformation(context.Background(), model.NewSymbol("BTC", "USDT"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, pos.PositionAmt)
}
