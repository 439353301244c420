// Package strategy holds the six strategy state machines (C7), one file
// per variant, each implementing runtime.Strategy.
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

// BMT is BTC monthly spot (spec §4.7.1): yearly pivot against the prior
// month's close decides a binary buy/sell macro bias for the whole BTC/USDT
// book.
type BMT struct {
	ex     exchange.Exchange
	orders *spotorder.Manager
	log    zerolog.Logger

	symbol model.Symbol
	status model.SpotBTCStatus
}

func NewBMT(ex exchange.Exchange, orders *spotorder.Manager, log zerolog.Logger) *BMT {
	return &BMT{
		ex:     ex,
		orders: orders,
		log:    log,
		symbol: model.NewSymbol("BTC", "USDT"),
		status: model.SpotInit,
	}
}

func (s *BMT) Name() string            { return "bmt" }
func (s *BMT) Period() time.Duration   { return 24 * time.Hour }

func (s *BMT) Step(ctx context.Context) error {
	yearly, err := pivot.Yearly(ctx, s.ex, s.symbol)
	if err != nil {
		return fmt.Errorf("bmt: yearly pivot: %w", err)
	}
	ticker, err := s.ex.TickerInfo(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("bmt: ticker info: %w", err)
	}
	candles, err := s.ex.GetOHLCV(ctx, s.symbol, pivot.Interval1Month, 5)
	if err != nil {
		return fmt.Errorf("bmt: monthly candles: %w", err)
	}
	if len(candles) < 2 {
		return fmt.Errorf("bmt: insufficient monthly candle history")
	}
	prevMonthClose := candles[len(candles)-2].Close
	lastPrice := ticker.LastPrice

	target := s.status
	switch {
	case lastPrice < yearly.S1:
		target = model.SpotSell
	case s.status != model.SpotSell && prevMonthClose < yearly.P:
		target = model.SpotSell
	default:
		target = model.SpotBuy
	}

	if target == s.status {
		return nil
	}

	switch target {
	case model.SpotSell:
		if _, err := s.orders.MarketSell(ctx, s.symbol, 0); err != nil {
			return fmt.Errorf("bmt: sell-all: %w", err)
		}
	case model.SpotBuy:
		if _, err := s.orders.MarketBuy(ctx, s.symbol, 0); err != nil {
			return fmt.Errorf("bmt: buy-all: %w", err)
		}
	}
	s.log.Info().Str("from", string(s.status)).Str("to", string(target)).Msg("bmt status transition")
	s.status = target
	return nil
}

func (s *BMT) Shutdown(ctx context.Context) error {
	return s.orders.CancelAll(ctx, s.symbol, exchange.CancelSpec{Normal: true, OCO: true})
}
