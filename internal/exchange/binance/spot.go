package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/nshin-labs/pivottrader/internal/exchange"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/pivot"
)

// SpotAdapter implements exchange.Exchange against the spot REST client.
type SpotAdapter struct {
	classifier
	client *gobinance.Client
}

func NewSpotAdapter(apiKey, secretKey string, testnet bool) *SpotAdapter {
	gobinance.UseTestnet = testnet
	return &SpotAdapter{client: gobinance.NewClient(apiKey, secretKey)}
}

func (a *SpotAdapter) Markets(ctx context.Context) ([]model.Symbol, error) {
	info, err := a.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Symbol, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		out = append(out, model.NewSymbol(s.BaseAsset, s.QuoteAsset))
	}
	return out, nil
}

func (a *SpotAdapter) TickerInfo(ctx context.Context, symbol model.Symbol) (model.TickerInfo, error) {
	stats, err := a.client.NewListPriceChangeStatsService().Symbol(symbol.Internal).Do(ctx)
	if err != nil {
		return model.TickerInfo{}, err
	}
	if len(stats) == 0 {
		return model.TickerInfo{}, fmt.Errorf("binance: no ticker stats for %s", symbol.Internal)
	}
	return toTickerInfo(symbol, stats[0])
}

func (a *SpotAdapter) Tickers(ctx context.Context) ([]model.TickerInfo, error) {
	stats, err := a.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.TickerInfo, 0, len(stats))
	for _, s := range stats {
		sym := symbolFromInternal(s.Symbol)
		ti, err := toTickerInfo(sym, s)
		if err != nil {
			continue
		}
		out = append(out, ti)
	}
	return out, nil
}

func toTickerInfo(symbol model.Symbol, s *gobinance.PriceChangeStats) (model.TickerInfo, error) {
	last, _ := strconv.ParseFloat(s.LastPrice, 64)
	bid, _ := strconv.ParseFloat(s.BidPrice, 64)
	ask, _ := strconv.ParseFloat(s.AskPrice, 64)
	vol, _ := strconv.ParseFloat(s.QuoteVolume, 64)
	return model.TickerInfo{
		Symbol:      symbol,
		LastPrice:   last,
		Bid:         bid,
		Ask:         ask,
		QuoteVolume: vol,
		Timestamp:   time.UnixMilli(s.CloseTime),
	}, nil
}

// symbolFromInternal is a best-effort split by known quote suffix; Tickers
// uses it to fill each TickerInfo's Symbol. Callers that need an
// authoritative Base/Quote pair get it from Markets().
func symbolFromInternal(internal string) model.Symbol {
	for _, quote := range []string{"USDT", "BUSD", "BTC", "ETH"} {
		if len(internal) > len(quote) && internal[len(internal)-len(quote):] == quote {
			base := internal[:len(internal)-len(quote)]
			return model.Symbol{Base: base, Quote: quote, Internal: internal}
		}
	}
	return model.Symbol{Internal: internal}
}

func (a *SpotAdapter) Balance(ctx context.Context, asset string) (model.Balance, error) {
	balances, err := a.Balances(ctx)
	if err != nil {
		return model.Balance{}, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b, nil
		}
	}
	return model.Balance{Asset: asset}, nil
}

func (a *SpotAdapter) Balances(ctx context.Context) ([]model.Balance, error) {
	acct, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Balance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		out = append(out, model.Balance{Asset: b.Asset, Free: free, Used: locked, Total: free + locked})
	}
	return out, nil
}

func (a *SpotAdapter) OpenOrders(ctx context.Context, symbol model.Symbol) ([]model.Order, error) {
	orders, err := a.client.NewListOpenOrdersService().Symbol(symbol.Internal).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrder(symbol, o.OrderID, o.OrderListId, o.Type, o.Side, o.OrigQuantity, o.ExecutedQuantity, o.Status, o.Time))
	}
	return out, nil
}

func (a *SpotAdapter) OrderStatus(ctx context.Context, symbol model.Symbol, orderID int64) (model.Order, error) {
	o, err := a.client.NewGetOrderService().Symbol(symbol.Internal).OrderID(orderID).Do(ctx)
	if err != nil {
		return model.Order{}, err
	}
	return toOrder(symbol, o.OrderID, o.OrderListId, o.Type, o.Side, o.OrigQuantity, o.ExecutedQuantity, o.Status, o.Time), nil
}

func toOrder(symbol model.Symbol, orderID, orderListID int64, otype gobinance.OrderType, side gobinance.SideType, origQty, execQty string, status gobinance.OrderStatusType, timeMs int64) model.Order {
	oq, _ := strconv.ParseFloat(origQty, 64)
	eq, _ := strconv.ParseFloat(execQty, 64)
	return model.Order{
		Symbol:           symbol,
		OrderID:          orderID,
		OrderListID:      orderListID,
		Type:             toModelOrderType(otype),
		Side:             toModelSide(side),
		OriginalQuantity: oq,
		ExecutedQuantity: eq,
		Status:           toModelStatus(status),
		CreatedAt:        time.UnixMilli(timeMs),
	}
}

func toModelOrderType(t gobinance.OrderType) model.OrderType {
	switch t {
	case gobinance.OrderTypeMarket:
		return model.OrderTypeMarket
	case gobinance.OrderTypeLimit, gobinance.OrderTypeLimitMaker:
		return model.OrderTypeLimit
	case gobinance.OrderTypeStopLossLimit, gobinance.OrderTypeTakeProfitLimit:
		return model.OrderTypeStopLimit
	case gobinance.OrderTypeStopLoss:
		return model.OrderTypeStop
	default:
		return model.OrderTypeMarket
	}
}

func toModelSide(s gobinance.SideType) model.Side {
	if s == gobinance.SideTypeSell {
		return model.SideSell
	}
	return model.SideBuy
}

func toModelStatus(s gobinance.OrderStatusType) model.OrderStatus {
	switch s {
	case gobinance.OrderStatusFilled:
		return model.OrderFilled
	case gobinance.OrderStatusPartiallyFilled:
		return model.OrderPartiallyFilled
	case gobinance.OrderStatusCanceled, gobinance.OrderStatusRejected, gobinance.OrderStatusExpired:
		return model.OrderCanceled
	default:
		return model.OrderNew
	}
}

func (a *SpotAdapter) OrderBook(ctx context.Context, symbol model.Symbol, depth int) (exchange.OrderBook, error) {
	depthRes, err := a.client.NewDepthService().Symbol(symbol.Internal).Limit(depth).Do(ctx)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	ob := exchange.OrderBook{
		Bids: make([]exchange.PriceLevel, 0, len(depthRes.Bids)),
		Asks: make([]exchange.PriceLevel, 0, len(depthRes.Asks)),
	}
	for _, b := range depthRes.Bids {
		p, _ := strconv.ParseFloat(b.Price, 64)
		q, _ := strconv.ParseFloat(b.Quantity, 64)
		ob.Bids = append(ob.Bids, exchange.PriceLevel{Price: p, Quantity: q})
	}
	for _, ask := range depthRes.Asks {
		p, _ := strconv.ParseFloat(ask.Price, 64)
		q, _ := strconv.ParseFloat(ask.Quantity, 64)
		ob.Asks = append(ob.Asks, exchange.PriceLevel{Price: p, Quantity: q})
	}
	return ob, nil
}

func (a *SpotAdapter) GetOHLCV(ctx context.Context, symbol model.Symbol, interval pivot.Interval, limit int) ([]model.Candle, error) {
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
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    v,
		})
	}
	return out, nil
}

func (a *SpotAdapter) MarketSell(ctx context.Context, symbol model.Symbol, quantity float64) (model.Order, error) {
	return a.CreateMarket(ctx, symbol, model.SideSell, quantity)
}

func (a *SpotAdapter) CreateMarket(ctx context.Context, symbol model.Symbol, side model.Side, qty float64) (model.Order, error) {
	res, err := a.client.NewCreateOrderService().
		Symbol(symbol.Internal).
		Side(toBinanceSide(side)).
		Type(gobinance.OrderTypeMarket).
		Quantity(fmt.Sprintf("%v", qty)).
		Do(ctx)
	if err != nil {
		return model.Order{}, err
	}
	return toOrder(symbol, res.OrderID, res.OrderListId, res.Type, res.Side, res.OrigQuantity, res.ExecutedQuantity, res.Status, res.TransactTime), nil
}

func (a *SpotAdapter) CreateLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price float64) (model.Order, error) {
	res, err := a.client.NewCreateOrderService().
		Symbol(symbol.Internal).
		Side(toBinanceSide(side)).
		Type(gobinance.OrderTypeLimit).
		TimeInForce(gobinance.TimeInForceTypeGTC).
		Quantity(fmt.Sprintf("%v", qty)).
		Price(fmt.Sprintf("%v", price)).
		Do(ctx)
	if err != nil {
		return model.Order{}, err
	}
	return toOrder(symbol, res.OrderID, res.OrderListId, res.Type, res.Side, res.OrigQuantity, res.ExecutedQuantity, res.Status, res.TransactTime), nil
}

func (a *SpotAdapter) CreateStopLimit(ctx context.Context, symbol model.Symbol, side model.Side, qty, price, stopPrice float64) (model.Order, error) {
	res, err := a.client.NewCreateOrderService().
		Symbol(symbol.Internal).
		Side(toBinanceSide(side)).
		Type(gobinance.OrderTypeStopLossLimit).
		TimeInForce(gobinance.TimeInForceTypeGTC).
		Quantity(fmt.Sprintf("%v", qty)).
		Price(fmt.Sprintf("%v", price)).
		StopPrice(fmt.Sprintf("%v", stopPrice)).
		Do(ctx)
	if err != nil {
		return model.Order{}, err
	}
	return toOrder(symbol, res.OrderID, res.OrderListId, res.Type, res.Side, res.OrigQuantity, res.ExecutedQuantity, res.Status, res.TransactTime), nil
}

// CreateOCO places the LIMIT_MAKER/STOP_LOSS_LIMIT pair sharing an
// order_list_id (spec §4.3 create_oco).
func (a *SpotAdapter) CreateOCO(ctx context.Context, symbol model.Symbol, side model.Side, qty, takeProfitPrice, stopTriggerPrice, stopLimitPrice float64) (model.OCOLeg, error) {
	res, err := a.client.NewCreateOCOService().
		Symbol(symbol.Internal).
		Side(toBinanceSide(side)).
		Quantity(fmt.Sprintf("%v", qty)).
		Price(fmt.Sprintf("%v", takeProfitPrice)).
		StopPrice(fmt.Sprintf("%v", stopTriggerPrice)).
		StopLimitPrice(fmt.Sprintf("%v", stopLimitPrice)).
		StopLimitTimeInForce(gobinance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return model.OCOLeg{}, err
	}
	leg := model.OCOLeg{OrderListID: res.OrderListID}
	for _, o := range res.Orders {
		if o.Type == string(gobinance.OrderTypeLimitMaker) {
			leg.LimitOrderID = o.OrderID
		} else {
			leg.StopOrderID = o.OrderID
		}
	}
	return leg, nil
}

func (a *SpotAdapter) CancelOrder(ctx context.Context, symbol model.Symbol, orderID int64) error {
	_, err := a.client.NewCancelOrderService().Symbol(symbol.Internal).OrderID(orderID).Do(ctx)
	return err
}

func (a *SpotAdapter) CancelOrderList(ctx context.Context, symbol model.Symbol, orderListID int64) error {
	_, err := a.client.NewCancelOCOService().Symbol(symbol.Internal).OrderListID(orderListID).Do(ctx)
	return err
}

// unknownOrderCode is Binance's "order does not exist" APIError code,
// returned when cancelling an order that already closed — cancel_all is
// specified as idempotent against this case.
const unknownOrderCode = -2011

// CancelAll iterates open orders and cancels per spec (idempotent: a
// cancel on an already-closed order is swallowed, not surfaced).
func (a *SpotAdapter) CancelAll(ctx context.Context, symbol model.Symbol, spec exchange.CancelSpec) error {
	open, err := a.OpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	for _, o := range open {
		isOCO := o.IsOCO()
		if isOCO && !spec.OCO {
			continue
		}
		if !isOCO && !spec.Normal {
			continue
		}
		var cancelErr error
		if isOCO {
			cancelErr = a.CancelOrderList(ctx, symbol, o.OrderListID)
		} else {
			cancelErr = a.CancelOrder(ctx, symbol, o.OrderID)
		}
		if cancelErr != nil && !isUnknownOrder(cancelErr) {
			return cancelErr
		}
	}
	return nil
}

func isUnknownOrder(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == unknownOrderCode
}

func toBinanceSide(side model.Side) gobinance.SideType {
	if side == model.SideSell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}
