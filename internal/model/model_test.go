package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSymbol_BuildsInternalAndDisplayForms(t *testing.T) {
	s := NewSymbol("BTC", "USDT")
	assert.Equal(t, "BTCUSDT", s.Internal)
	assert.Equal(t, "BTC/USDT", s.String())
}

func TestOrder_IsOCO(t *testing.T) {
	solo := Order{OrderListID: -1}
	assert.False(t, solo.IsOCO())

	oco := Order{OrderListID: 42}
	assert.True(t, oco.IsOCO())
}

func TestTradingAlt_HasProtectiveOrdersRequiresAllThreeLegs(t *testing.T) {
	var alt TradingAlt
	assert.False(t, alt.HasProtectiveOrders())

	alt.StopOrderID = 1
	assert.False(t, alt.HasProtectiveOrders())

	alt.R2Order = OCOLeg{OrderListID: 2}
	assert.False(t, alt.HasProtectiveOrders())

	alt.R3Order = OCOLeg{OrderListID: 3}
	assert.True(t, alt.HasProtectiveOrders())
}
