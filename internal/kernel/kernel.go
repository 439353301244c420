package kernel

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Clock abstracts time so tests can advance a mocked clock instead of
// sleeping for real (spec §8 scenario 6: "mocked clock advances").
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time     { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

const (
	maxRetries      = 5
	retryBackoff    = 500 * time.Millisecond
	rateLimitCooldown = 60 * time.Second
)

// Kernel mediates every exchange-adapter call. A single Kernel is shared by
// all strategies against one adapter so that a rate-limit cooldown observed
// by one strategy is not independently re-slept by every other concurrent
// caller; the shared limiter instead makes every caller that arrives during
// the cooldown window wait on the same window.
type Kernel struct {
	clock       Clock
	rateLimiter *rate.Limiter
	log         zerolog.Logger
}

func New(log zerolog.Logger) *Kernel {
	limiter := rate.NewLimiter(rate.Every(rateLimitCooldown), 1)
	// x/time/rate.Limiter starts with its burst token already available;
	// drain it up front so the first KindRateLimit classification pays the
	// 60s cooldown too, instead of getting a free pass (spec §4.1).
	limiter.Wait(context.Background())
	return &Kernel{
		clock:       RealClock,
		rateLimiter: limiter,
		log:         log,
	}
}

// WithClock overrides the clock, for tests.
func (k *Kernel) WithClock(c Clock) *Kernel {
	k.clock = c
	return k
}

// Thunk is the operation the kernel mediates. It must return a raw
// ErrorKind classification alongside the Go error so the kernel does not
// need to know about exchange-specific exception types.
type Thunk[T any] func() (T, ErrorKind, error)

// Invoke runs thunk with retry/classification per spec §4.1:
//   - transient network errors retry up to 5 times with a fixed 500ms backoff,
//     surfacing NetworkError on exhaustion;
//   - a rate-limit classification sleeps (via the shared limiter) and
//     surfaces RateLimitExceeded without retrying the call itself;
//   - every other classification surfaces immediately.
func Invoke[T any](ctx context.Context, k *Kernel, symbol, action string, thunk Thunk[T]) (T, error) {
	var zero T
	remaining := maxRetries
	for {
		val, kind, err := thunk()
		switch kind {
		case KindNone:
			return val, nil
		case KindNetwork:
			if remaining <= 0 {
				k.log.Error().Str("symbol", symbol).Str("action", action).Err(err).Msg("network error exhausted retries")
				return zero, &Error{Kind: KindNetwork, Symbol: symbol, Action: action, Cause: err}
			}
			remaining--
			k.log.Warn().Str("symbol", symbol).Str("action", action).Int("remaining", remaining).Msg("network error, retrying")
			k.clock.Sleep(retryBackoff)
			continue
		case KindRateLimit:
			k.log.Error().Str("symbol", symbol).Str("action", action).Msg("rate limit exceeded, cooling down")
			if waitErr := k.rateLimiter.Wait(ctx); waitErr != nil {
				return zero, &Error{Kind: KindRateLimit, Symbol: symbol, Action: action, Cause: waitErr}
			}
			return zero, &Error{Kind: KindRateLimit, Symbol: symbol, Action: action, Cause: err}
		case KindInsufficientFunds:
			return zero, &Error{Kind: KindInsufficientFunds, Symbol: symbol, Action: action, Cause: err}
		case KindInvalidOrder:
			k.log.Error().Str("symbol", symbol).Str("action", action).Err(err).Msg("invalid order")
			return zero, &Error{Kind: KindInvalidOrder, Symbol: symbol, Action: action, Cause: err}
		case KindBase:
			k.log.Error().Str("symbol", symbol).Str("action", action).Err(err).Msg("base exchange error")
			return zero, &Error{Kind: KindBase, Symbol: symbol, Action: action, Cause: err}
		default:
			k.log.Error().Str("symbol", symbol).Str("action", action).Err(err).Msg("unexpected error")
			return zero, &Error{Kind: KindUnexpected, Symbol: symbol, Action: action, Cause: err}
		}
	}
}
