package points

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEarnAmount(t *testing.T) {
	rate := decimal.RequireFromString("0.01")

	earned := EarnAmount(decimal.RequireFromString("23.25"), rate)
	assert.True(t, earned.Equal(decimal.RequireFromString("0.23")), "got %s", earned)

	earned = EarnAmount(decimal.RequireFromString("0.49"), rate)
	assert.True(t, earned.IsZero(), "got %s", earned)

	earned = EarnAmount(decimal.Zero, rate)
	assert.True(t, earned.IsZero())
}
