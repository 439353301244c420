// Package runtime is the Strategy Runtime (C6): a 1-second tick loop that
// fires each owned strategy's Step once per its configured period, using
// integer-quotient arithmetic grounded on binance_bmt_trade.py's
// check_seconds (Design Note "Scheduler arithmetic ambiguity" — the zero
// initial quotient means every strategy always fires on the first tick
// after start, which this port keeps rather than "fixes").
package runtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Strategy is one periodic state machine owned by the Scheduler.
type Strategy interface {
	Name() string
	Period() time.Duration
	Step(ctx context.Context) error
	// Shutdown attempts to leave the exchange in a flat, order-free state.
	// It is called up to shutdownMaxTries times on Scheduler.Stop.
	Shutdown(ctx context.Context) error
}

const tickInterval = time.Second
const shutdownMaxTries = 5
const timeSyncOffset = 1 * time.Second

// Scheduler owns N strategies and ticks them independently via a shared
// quotient clock, so a 1-day strategy and a 15-minute strategy share one
// goroutine without either blocking the other's cadence.
type Scheduler struct {
	strategies []Strategy
	prevQ      map[string]int64
	log        zerolog.Logger
	stop       chan struct{}
	stopped    chan struct{}
}

func NewScheduler(log zerolog.Logger, strategies ...Strategy) *Scheduler {
	return &Scheduler{
		strategies: strategies,
		prevQ:      make(map[string]int64, len(strategies)),
		log:        log,
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called. Blocks; call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, strat := range s.strategies {
		if !s.due(strat, now) {
			continue
		}
		s.runStep(ctx, strat)
	}
}

// due is check_seconds: quotient = (now - offset) / period; fires when the
// quotient differs from the last observed value for this strategy.
func (s *Scheduler) due(strat Strategy, now time.Time) bool {
	period := strat.Period()
	if period <= 0 {
		return false
	}
	elapsed := now.Add(-timeSyncOffset).Unix()
	quotient := elapsed / int64(period/time.Second)
	key := strat.Name()
	prev, seen := s.prevQ[key]
	if seen && prev == quotient {
		return false
	}
	s.prevQ[key] = quotient
	return true
}

// runStep invokes Step and swallows any error: "the runtime never aborts
// the loop" (spec §4.5).
func (s *Scheduler) runStep(ctx context.Context, strat Strategy) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("strategy", strat.Name()).Interface("panic", r).Msg("recovered panic in strategy step")
		}
	}()
	if err := strat.Step(ctx); err != nil {
		s.log.Error().Str("strategy", strat.Name()).Err(err).Msg("strategy step failed")
	}
}

// Stop sets the stop flag, attempts up to shutdownMaxTries Shutdown calls
// per strategy, joins the tick loop, and returns.
func (s *Scheduler) Stop(ctx context.Context) {
	close(s.stop)
	<-s.stopped
	for _, strat := range s.strategies {
		var err error
		for try := 0; try < shutdownMaxTries; try++ {
			if err = strat.Shutdown(ctx); err == nil {
				break
			}
			s.log.Warn().Str("strategy", strat.Name()).Err(err).Int("try", try+1).Msg("shutdown cleanup failed, retrying")
		}
		if err != nil {
			s.log.Error().Str("strategy", strat.Name()).Err(err).Msg("shutdown cleanup exhausted retries")
		}
	}
}
