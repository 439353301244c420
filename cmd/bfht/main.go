// Command bfht runs futures BTC hourly (spec §4.7.5) standalone.
package main

import (
	"context"
	"time"

	"github.com/nshin-labs/pivottrader/internal/config"
	"github.com/nshin-labs/pivottrader/internal/daemon"
	"github.com/nshin-labs/pivottrader/internal/exchange/binance"
	"github.com/nshin-labs/pivottrader/internal/futuresorder"
	"github.com/nshin-labs/pivottrader/internal/kernel"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/obslog"
	"github.com/nshin-labs/pivottrader/internal/strategy"
	"github.com/nshin-labs/pivottrader/internal/telemetry"
)

const strategyName = "bfht"

func main() {
	log := obslog.New(strategyName)
	cfg := config.Load()

	creds, err := config.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load credentials")
	}

	adapter := binance.NewFuturesAdapter(creds.APIKey, creds.APISecret, cfg.UseTestnet)
	k := kernel.New(log)
	orders := futuresorder.New(adapter, k, log)
	strat := strategy.NewBFHT(adapter, orders, log)

	killSwitch := telemetry.NewKillSwitch(cfg.KillSwitchPath)
	recorder := telemetry.NewRecorder(cfg.ExchangeName, strategyName)
	metrics := telemetry.NewMetrics(daemon.NewRegistry(), strategyName)

	symbol := model.NewSymbol("BTC", "USDT")
	balances := func(ctx context.Context) (telemetry.Snapshot, error) {
		bal, err := adapter.FutureBalance(ctx)
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		last, err := adapter.GetLastPrice(ctx, symbol)
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		pos, err := adapter.PositionInformation(ctx, symbol)
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		return telemetry.BuildSnapshot(time.Now(), last, 0, bal.Total, 0, 0, pos.Leverage), nil
	}

	daemon.Run(strategyName, strat, killSwitch, recorder, metrics, balances, log)
}
