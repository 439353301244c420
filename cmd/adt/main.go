// Command adt runs the Alt daily strategy (spec §4.7.3) standalone.
package main

import (
	"context"
	"time"

	"github.com/nshin-labs/pivottrader/internal/config"
	"github.com/nshin-labs/pivottrader/internal/daemon"
	"github.com/nshin-labs/pivottrader/internal/exchange/binance"
	"github.com/nshin-labs/pivottrader/internal/kernel"
	"github.com/nshin-labs/pivottrader/internal/model"
	"github.com/nshin-labs/pivottrader/internal/obslog"
	"github.com/nshin-labs/pivottrader/internal/spotorder"
	"github.com/nshin-labs/pivottrader/internal/strategy"
	"github.com/nshin-labs/pivottrader/internal/telemetry"
)

const strategyName = "adt"

func main() {
	log := obslog.New(strategyName)
	cfg := config.Load()

	creds, err := config.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load credentials")
	}

	adapter := binance.NewSpotAdapter(creds.APIKey, creds.APISecret, cfg.UseTestnet)
	k := kernel.New(log)
	orders := spotorder.New(adapter, k, log)
	strat := strategy.NewADT(adapter, orders, log)

	killSwitch := telemetry.NewKillSwitch(cfg.KillSwitchPath)
	recorder := telemetry.NewRecorder(cfg.ExchangeName, strategyName)
	metrics := telemetry.NewMetrics(daemon.NewRegistry(), strategyName)

	balances := func(ctx context.Context) (telemetry.Snapshot, error) {
		btc, err := adapter.Balance(ctx, "BTC")
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		usdt, err := adapter.Balance(ctx, "USDT")
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		ticker, err := adapter.TickerInfo(ctx, model.NewSymbol("BTC", "USDT"))
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		extraBTC, extraUSDT, err := strat.HeldValue(ctx)
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		return telemetry.BuildSnapshot(time.Now(), ticker.LastPrice, btc.Total, usdt.Total, extraBTC, extraUSDT, 0), nil
	}

	daemon.Run(strategyName, strat, killSwitch, recorder, metrics, balances, log)
}
