package futuresorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiquidationPrice_LongBelowEntryShortAboveEntry(t *testing.T) {
	entry := 30000.0
	qty := 0.1
	balance := 500.0

	longLiq, err := LiquidationPrice(entry, qty, balance, Long)
	require.NoError(t, err)
	assert.Less(t, longLiq, entry, "a long's liquidation price sits below its entry")

	shortLiq, err := LiquidationPrice(entry, qty, balance, Short)
	require.NoError(t, err)
	assert.Greater(t, shortLiq, entry, "a short's liquidation price sits above its entry")
}

func TestLiquidationPrice_MoreBalanceMovesLiquidationAwayFromEntry(t *testing.T) {
	entry := 30000.0
	qty := 0.1

	thin, err := LiquidationPrice(entry, qty, 100, Long)
	require.NoError(t, err)
	padded, err := LiquidationPrice(entry, qty, 1000, Long)
	require.NoError(t, err)

	assert.Greater(t, thin, padded, "more margin for the same long position pushes liquidation further below entry, away from the current price")
}

func TestLiquidationPrice_RejectsNotionalBeyondLargestBracket(t *testing.T) {
	_, err := LiquidationPrice(100000, 1000, 1, Long) // notional far past the 5,000,000 ceiling
	assert.ErrorIs(t, err, ErrNotionalTooLarge)
}

func TestSolveSR2_LongKeepsLiquidationAtOrBelowProtectiveLevel(t *testing.T) {
	entry := 30000.0
	sr2 := 29000.0 // protective stop below entry, for a long
	balance := 1000.0

	leverage, qty, err := SolveSR2(entry, sr2, balance, Long)
	require.NoError(t, err)
	assert.Greater(t, leverage, 0)
	assert.Greater(t, qty, 0.0)

	liq, err := LiquidationPrice(entry, qty, balance, Long)
	require.NoError(t, err)
	assert.LessOrEqual(t, liq, sr2, "liquidation must not trigger before the strategy's own protective stop")
}

func TestSolveSR2_ShortKeepsLiquidationAtOrAboveProtectiveLevel(t *testing.T) {
	entry := 30000.0
	sr2 := 31000.0 // protective stop above entry, for a short
	balance := 1000.0

	leverage, qty, err := SolveSR2(entry, sr2, balance, Short)
	require.NoError(t, err)
	assert.Greater(t, leverage, 0)
	assert.Greater(t, qty, 0.0)

	liq, err := LiquidationPrice(entry, qty, balance, Short)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, liq, sr2)
}

func TestSolveSR2_PicksTheLargestSafeLeverage(t *testing.T) {
	// A wide enough gap between entry and SR2 should allow more than 1x.
	entry := 30000.0
	sr2 := 27000.0 // 10% away
	balance := 1000.0

	leverage, _, err := SolveSR2(entry, sr2, balance, Long)
	require.NoError(t, err)
	assert.Greater(t, leverage, 1)
}

func TestSolveSR2_ZeroBalanceNeverSizesAPosition(t *testing.T) {
	// With no margin, every leverage prices a zero quantity, so the solver
	// never finds a candidate at all.
	_, _, err := SolveSR2(30000, 29000, 0, Long)
	assert.Error(t, err)
}

func TestBracketFor_SelectsTheFirstCeilingAboveNotional(t *testing.T) {
	b, err := bracketFor(40000)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, b.Ceiling)

	b, err = bracketFor(200000)
	require.NoError(t, err)
	assert.Equal(t, 250000.0, b.Ceiling)
}

func TestRoundTo(t *testing.T) {
	assert.InDelta(t, 1.235, roundTo(1.23456, 3), 1e-9)
	assert.InDelta(t, 1.0, roundTo(0.9999999, 3), 1e-9)
}
