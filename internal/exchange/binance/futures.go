package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/pivot"
)

// FuturesAdapter implements exchange.FuturesExchange against the USDT-M
// futures REST client, grounded on ExecutionService's margin/leverage/order
// call sequence.
type FuturesAdapter struct {
	classifier
	client *futures.Client
}

func NewFuturesAdapter(apiKey, secretKey string, testnet bool) *FuturesAdapter {
	futures.UseTestnet = testnet
	return &FuturesAdapter{client: futures.NewClient(apiKey, secretKey)}
}

func (a *FuturesAdapter) GetLastPrice(ctx context.Context, symbol model.Symbol) (float64, error) {
	prices, err := a.client.NewListPricesService().Symbol(symbol.Internal).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("binance: no price for %s", symbol.Internal)
	}
	p, _ := strconv.ParseFloat(prices[0].Price, 64)
	return p, nil
}

func (a *FuturesAdapter) FutureTickerInfo(ctx context.Context, symbol model.Symbol) (model.TickerInfo, error) {
	tickers, err := a.client.NewListBookTickersService().Symbol(symbol.Internal).Do(ctx)
	if err != nil {
		return model.TickerInfo{}, err
	}
	if len(tickers) == 0 {
		return model.TickerInfo{}, fmt.Errorf("binance: no book ticker for %s", symbol.Internal)
	}
	t := tickers[0]
	bid, _ := strconv.ParseFloat(t.BidPrice, 64)
	ask, _ := strconv.ParseFloat(t.AskPrice, 64)
	return model.TickerInfo{Symbol: symbol, Bid: bid, Ask: ask, LastPrice: (bid + ask) / 2}, nil
}

func (a *FuturesAdapter) FutureBalance(ctx context.Context) (model.Balance, error) {
	balances, err := a.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return model.Balance{}, err
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			bal, _ := strconv.ParseFloat(b.Balance, 64)
			avail, _ := strconv.ParseFloat(b.AvailableBalance, 64)
			return model.Balance{Asset: "USDT", Total: bal, Free: avail, Used: bal - avail}, nil
		}
	}
	return model.Balance{Asset: "USDT"}, nil
}

func (a *FuturesAdapter) GetOHLCV(ctx context.Context, symbol model.Symbol, interval pivot.Interval, limit int) ([]model.Candle, error) {
	svc := a.client.NewKlinesService().Symbol(symbol.Internal).Interval(string(interval))
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		o, _ := strconv.ParseFloat(k.Open, 64)
		h, _ := strconv.ParseFloat(k.High, 64)
		l, _ := strconv.ParseFloat(k.Low, 64)
		c, _ := strconv.ParseFloat(k.Close, 64)
		v, _ := strconv.ParseFloat(k.Volume, 64)
		out = append(out, model.Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      o, High: h, Low: l, Close: c, Volume: v,
		})
	}
	return out, nil
}

func (a *FuturesAdapter) SetLeverage(ctx context.Context, symbol model.Symbol, leverage int) error {
	_, err := a.client.NewChangeLeverageService().Symbol(symbol.Internal).Leverage(leverage).Do(ctx)
	return err
}

// SetMarginType is a no-op if the symbol is already in the requested mode
// (spec §4.4 "no-op if already in that mode"); Binance's API surfaces the
// "No need to change margin type" case as an APIError rather than success,
// so that specific code is swallowed here rather than propagated.
const noMarginTypeChangeCode = -4046

func (a *FuturesAdapter) SetMarginType(ctx context.Context, symbol model.Symbol, isolated bool) error {
	marginType := futures.MarginTypeCrossed
	if isolated {
		marginType = futures.MarginTypeIsolated
	}
	err := a.client.NewChangeMarginTypeService().Symbol(symbol.Internal).MarginType(marginType).Do(ctx)
	if err != nil && isNoMarginTypeChange(err) {
		return nil
	}
	return err
}

func (a *FuturesAdapter) CreateFutureOrder(ctx context.Context, req exchange.FutureOrderRequest) (model.Order, error) {
	svc := a.client.NewCreateOrderService().
		Symbol(req.Symbol.Internal).
		Side(toFuturesSide(req.Side)).
		Type(toFuturesOrderType(req.Type)).
		Quantity(fmt.Sprintf("%v", req.Quantity))
	if req.Price > 0 {
		svc = svc.Price(fmt.Sprintf("%v", req.Price)).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if req.StopPrice > 0 {
		svc = svc.StopPrice(fmt.Sprintf("%v", req.StopPrice)).WorkingType(futures.WorkingTypeMarkPrice)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return model.Order{}, err
	}
	oq, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	eq, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	return model.Order{
		Symbol:           req.Symbol,
		OrderID:          res.OrderID,
		OrderListID:      -1,
		Type:             req.Type,
		Side:             req.Side,
		OriginalQuantity: oq,
		ExecutedQuantity: eq,
		Status:           toModelFuturesStatus(res.Status),
		CreatedAt:        time.UnixMilli(res.UpdateTime),
	}, nil
}

func (a *FuturesAdapter) CancelAllFutureOrders(ctx context.Context, symbol model.Symbol) error {
	return a.client.NewCancelAllOpenOrdersService().Symbol(symbol.Internal).Do(ctx)
}

func (a *FuturesAdapter) ClosePosition(ctx context.Context, symbol model.Symbol) error {
	pos, err := a.PositionInformation(ctx, symbol)
	if err != nil {
		return err
	}
	if pos.PositionAmt == 0 {
		return nil
	}
	side := futures.SideTypeSell
	qty := pos.PositionAmt
	if pos.PositionAmt < 0 {
		side = futures.SideTypeBuy
		qty = -pos.PositionAmt
	}
	_, err = a.client.NewCreateOrderService().
		Symbol(symbol.Internal).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(fmt.Sprintf("%v", qty)).
		ReduceOnly(true).
		Do(ctx)
	return err
}

func (a *FuturesAdapter) PositionInformation(ctx context.Context, symbol model.Symbol) (exchange.PositionInfo, error) {
	risks, err := a.client.NewGetPositionRiskService().Symbol(symbol.Internal).Do(ctx)
	if err != nil {
		return exchange.PositionInfo{}, err
	}
	if len(risks) == 0 {
		return exchange.PositionInfo{Symbol: symbol}, nil
	}
	r := risks[0]
	amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
	entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
	lev, _ := strconv.Atoi(r.Leverage)
	return exchange.PositionInfo{
		Symbol:         symbol,
		PositionAmt:    amt,
		EntryPrice:     entry,
		Leverage:       lev,
		IsolatedMargin: r.MarginType == string(futures.MarginTypeIsolated),
	}, nil
}

func toFuturesSide(side model.Side) futures.SideType {
	if side == model.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func toFuturesOrderType(t model.OrderType) futures.OrderType {
	switch t {
	case model.OrderTypeMarket:
		return futures.OrderTypeMarket
	case model.OrderTypeLimit:
		return futures.OrderTypeLimit
	case model.OrderTypeStop:
		return futures.OrderType("STOP")
	case model.OrderTypeStopMarket:
		return futures.OrderType("STOP_MARKET")
	default:
		return futures.OrderTypeLimit
	}
}

func toModelFuturesStatus(s futures.OrderStatusType) model.OrderStatus {
	switch s {
	case futures.OrderStatusTypeFilled:
		return model.OrderFilled
	case futures.OrderStatusTypePartiallyFilled:
		return model.OrderPartiallyFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		return model.OrderCanceled
	default:
		return model.OrderNew
	}
}

func isNoMarginTypeChange(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == noMarginTypeChangeCode
}
