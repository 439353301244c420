package daemon

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshin-labs/pivottrader/internal/runtime"
	"github.com/nshin-labs/pivottrader/internal/telemetry"
)

type fakeStrategy struct {
	name          string
	shutdownCalls int
	failUntilTry  int
}

func (f *fakeStrategy) Name() string             { return f.name }
func (f *fakeStrategy) Period() time.Duration    { return time.Hour }
func (f *fakeStrategy) Step(ctx context.Context) error { return nil }
func (f *fakeStrategy) Shutdown(ctx context.Context) error {
	f.shutdownCalls++
	if f.shutdownCalls <= f.failUntilTry {
		return errors.New("not flat yet")
	}
	return nil
}

var _ runtime.Strategy = (*fakeStrategy)(nil)

func TestShutdown_CancelsContextAndDrainsScheduler(t *testing.T) {
	strat := &fakeStrategy{name: "bmt"}
	sched := runtime.NewScheduler(zerolog.Nop(), strat)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)
	// let the scheduler's tick loop actually start before stopping it.
	time.Sleep(10 * time.Millisecond)

	shutdown(cancel, sched)

	assert.Equal(t, 1, strat.shutdownCalls)
	assert.Error(t, ctx.Err())
}

func TestShutdown_RetriesShutdownUntilItSucceeds(t *testing.T) {
	strat := &fakeStrategy{name: "abd", failUntilTry: 2}
	sched := runtime.NewScheduler(zerolog.Nop(), strat)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	shutdown(cancel, sched)

	assert.Equal(t, 3, strat.shutdownCalls)
}

func TestRecordTelemetry_RecordsSnapshotAndObservesMetrics(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	recorder := telemetry.NewRecorder("Binance", "bmt")
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry, "bmt")

	snap := telemetry.Snapshot{Timestamp: time.Unix(1700000000, 0).UTC(), BTCBalance: 1.5, USDTBalance: 9000}
	balances := func(ctx context.Context) (telemetry.Snapshot, error) { return snap, nil }

	recordTelemetry(context.Background(), recorder, metrics, balances, zerolog.Nop())

	assert.Equal(t, float64(1.5), testutil.ToFloat64(metrics.BTCBalance))
	assert.Equal(t, float64(9000), testutil.ToFloat64(metrics.USDTBalance))
}

func TestRecordTelemetry_SwallowsBalanceSourceError(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry, "adt")
	balances := func(ctx context.Context) (telemetry.Snapshot, error) {
		return telemetry.Snapshot{}, errors.New("exchange unreachable")
	}

	assert.NotPanics(t, func() {
		recordTelemetry(context.Background(), nil, metrics, balances, zerolog.Nop())
	})
}

func TestNewRegistry_ReturnsAFreshEmptyRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NotNil(t, reg)
	metrics, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, metrics)
}
