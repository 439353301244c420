package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock never actually sleeps; it just counts how long the kernel
// asked it to wait, so retry backoff tests run instantly (spec §8
// scenario 6: "mocked clock advances").
type fakeClock struct {
	slept []time.Duration
}

func (f *fakeClock) Now() time.Time { return time.Unix(0, 0) }
func (f *fakeClock) Sleep(d time.Duration) { f.slept = append(f.slept, d) }

func newTestKernel() (*Kernel, *fakeClock) {
	k := New(zerolog.Nop())
	fc := &fakeClock{}
	k.WithClock(fc)
	return k, fc
}

func TestInvoke_SucceedsWithoutRetryOnKindNone(t *testing.T) {
	k, fc := newTestKernel()
	calls := 0
	val, err := Invoke(context.Background(), k, "BTCUSDT", "get_last_price", func() (float64, ErrorKind, error) {
		calls++
		return 42.0, KindNone, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42.0, val)
	assert.Equal(t, 1, calls)
	assert.Empty(t, fc.slept)
}

func TestInvoke_RetriesNetworkErrorsThenSucceeds(t *testing.T) {
	k, fc := newTestKernel()
	calls := 0
	val, err := Invoke(context.Background(), k, "BTCUSDT", "market_buy", func() (int, ErrorKind, error) {
		calls++
		if calls < 3 {
			return 0, KindNetwork, errors.New("connection reset")
		}
		return 7, KindNone, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Equal(t, 3, calls)
	assert.Len(t, fc.slept, 2) // two retries before the third, successful attempt
}

func TestInvoke_NetworkErrorExhaustsRetriesAndSurfacesKindNetwork(t *testing.T) {
	k, fc := newTestKernel()
	calls := 0
	_, err := Invoke(context.Background(), k, "BTCUSDT", "market_buy", func() (int, ErrorKind, error) {
		calls++
		return 0, KindNetwork, errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, maxRetries+1, calls) // the first attempt plus maxRetries retries
	assert.Len(t, fc.slept, maxRetries)
}

func TestInvoke_RateLimitDoesNotRetryTheCallItself(t *testing.T) {
	k, fc := newTestKernel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	calls := 0
	_, err := Invoke(ctx, k, "BTCUSDT", "create_order", func() (int, ErrorKind, error) {
		calls++
		return 0, KindRateLimit, errors.New("too many requests")
	})
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, KindOf(err))
	assert.Equal(t, 1, calls) // the thunk itself is not retried, only cooled down
	assert.Empty(t, fc.slept) // cooldown goes through the shared rate limiter, not Clock.Sleep
}

// TestInvoke_FirstRateLimitHitPaysTheFullCooldown guards against the
// limiter's initial burst token masking the very first cooldown: New
// drains that token up front, so even the first KindRateLimit
// classification must wait out the full 60s window rather than passing
// through for free. A short-deadline ctx proves the wait is real: if the
// limiter still had its starting token available, Wait would return
// immediately with the thunk's own error instead of a deadline error.
func TestInvoke_FirstRateLimitHitPaysTheFullCooldown(t *testing.T) {
	k, _ := newTestKernel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Invoke(ctx, k, "BTCUSDT", "create_order", func() (int, ErrorKind, error) {
		return 0, KindRateLimit, errors.New("too many requests")
	})
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, KindOf(err))
	kernelErr, ok := err.(*Error)
	require.True(t, ok)
	// rate.Limiter.Wait reports a wait longer than the deadline with its own
	// unwrapped error, not context.DeadlineExceeded.
	assert.ErrorContains(t, kernelErr.Cause, "would exceed context deadline")
}

func TestInvoke_EachNonRecoverableKindSurfacesImmediatelyWithoutRetry(t *testing.T) {
	cases := []ErrorKind{KindInsufficientFunds, KindInvalidOrder, KindBase, KindUnexpected}
	for _, kind := range cases {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			k, _ := newTestKernel()
			calls := 0
			_, err := Invoke(context.Background(), k, "ETHBTC", "cancel_order", func() (int, ErrorKind, error) {
				calls++
				return 0, kind, errors.New("boom")
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
			if kind == KindUnexpected {
				// an unrecognized classification also maps to KindUnexpected
				assert.Equal(t, KindUnexpected, KindOf(err))
			} else {
				assert.Equal(t, kind, KindOf(err))
			}
		})
	}
}

func TestKindOf_DefaultsToUnexpectedForForeignErrors(t *testing.T) {
	assert.Equal(t, KindUnexpected, KindOf(errors.New("not ours")))
}

func TestError_IsMatchesSentinelsByKind(t *testing.T) {
	err := &Error{Kind: KindInsufficientFunds, Symbol: "BTCUSDT", Action: "market_buy"}
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.False(t, errors.Is(err, ErrNetwork))
}

func TestFatal_ClassifiesPerSpec(t *testing.T) {
	assert.True(t, Fatal(KindInvalidOrder))
	assert.True(t, Fatal(KindBase))
	assert.True(t, Fatal(KindUnexpected))
	assert.True(t, Fatal(KindInsufficientFunds))
	assert.False(t, Fatal(KindNetwork))
	assert.False(t, Fatal(KindRateLimit))
	assert.False(t, Fatal(KindNone))
}
