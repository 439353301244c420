// Package daemon is the shared supervisory loop every cmd/* binary wires
// up: signal handling, kill-switch polling, scheduler start/stop, and the
// periodic telemetry snapshot, grounded on the teacher's main.go top-level
// wiring (credential load -> exchange client -> trading loop) generalized
// across the six independent strategy binaries spec §6 calls for.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nshin-labs/pivottrader/internal/runtime"
	"github.com/nshin-labs/pivottrader/internal/telemetry"
)

const (
	killSwitchPollInterval = 5 * time.Second
	telemetryInterval      = 5 * time.Minute
	shutdownGrace          = 30 * time.Second
)

// BalanceSource is the minimal per-exchange surface the telemetry loop
// needs: a live BTC price and the strategy's own total balances.
type BalanceSource func(ctx context.Context) (telemetry.Snapshot, error)

// Run owns one strategy's full process lifetime: starts the scheduler,
// polls the kill-switch, periodically records telemetry, and drains on
// SIGINT/SIGTERM or a kill-switch trip.
func Run(strategyName string, strat runtime.Strategy, killSwitch *telemetry.KillSwitch, recorder *telemetry.Recorder, metrics *telemetry.Metrics, balances BalanceSource, log zerolog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go killSwitch.Poll(ctx)

	sched := runtime.NewScheduler(log, strat)
	go sched.Start(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	killTicker := time.NewTicker(killSwitchPollInterval)
	defer killTicker.Stop()
	telemetryTicker := time.NewTicker(telemetryInterval)
	defer telemetryTicker.Stop()

	log.Info().Str("strategy", strategyName).Msg("daemon started")

	for {
		select {
		case <-sig:
			log.Info().Msg("signal received, shutting down")
			shutdown(cancel, sched)
			return
		case <-killTicker.C:
			if killSwitch.Killed() {
				log.Warn().Msg("kill switch engaged, shutting down")
				shutdown(cancel, sched)
				return
			}
		case <-telemetryTicker.C:
			recordTelemetry(ctx, recorder, metrics, balances, log)
		}
	}
}

func shutdown(cancel context.CancelFunc, sched *runtime.Scheduler) {
	cancel()
	ctx, stop := context.WithTimeout(context.Background(), shutdownGrace)
	defer stop()
	sched.Stop(ctx)
}

func recordTelemetry(ctx context.Context, recorder *telemetry.Recorder, metrics *telemetry.Metrics, balances BalanceSource, log zerolog.Logger) {
	snap, err := balances(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry: failed to build snapshot")
		return
	}
	if err := recorder.Record(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("telemetry: failed to record snapshot")
	}
	metrics.Observe(snap)
}

// NewRegistry is a thin wrapper so cmd/* binaries don't need to import
// prometheus directly just to construct the per-strategy registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
