package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/tuition-engine/money"
)

func TestFloorToThousand(t *testing.T) {
	tests := []struct {
		in   money.Amount
		want money.Amount
	}{
		{0, 0},
		{999, 0},
		{1000, 1000},
		{153846, 153000},
		{299999, 299000},
		{-1, -1000},
		{-1000, -1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.FloorToThousand(), "in=%d", tt.in)
		assert.Equal(t, tt.want, money.FloorToThousand(decimal.NewFromInt(int64(tt.in))), "decimal in=%d", tt.in)
	}
}

func TestFloorToThousand_Idempotent(t *testing.T) {
	for v := int64(-5000); v <= 50000; v += 137 {
		once := money.Amount(v).FloorToThousand()
		assert.Equal(t, once, once.FloorToThousand(), "v=%d", v)
	}
}

func TestFloorToThousand_FractionalInput(t *testing.T) {
	assert.Equal(t, money.Amount(153000), money.FloorToThousand(decimal.RequireFromString("153846.1538")))
	assert.Equal(t, money.Amount(0), money.FloorToThousand(decimal.RequireFromString("999.9999")))
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, money.Amount(40000), money.PercentOf(400000, decimal.NewFromInt(10)))
	assert.Equal(t, money.Amount(19230), money.PercentOf(153846, decimal.RequireFromString("12.5")))
	assert.Equal(t, money.Amount(0), money.PercentOf(400000, decimal.Zero))
}

func TestValidPercent(t *testing.T) {
	assert.True(t, money.ValidPercent(decimal.Zero))
	assert.True(t, money.ValidPercent(decimal.NewFromInt(100)))
	assert.False(t, money.ValidPercent(decimal.NewFromInt(101)))
	assert.False(t, money.ValidPercent(decimal.NewFromInt(-1)))
}

func TestRatio(t *testing.T) {
	twoThirds := money.NewRatio(2, 3)
	assert.Equal(t, money.Amount(666666), twoThirds.Of(1000000))
	assert.Equal(t, "66.67%", twoThirds.Percent())
	assert.Equal(t, "0.6667", twoThirds.Decimal().String())
	assert.True(t, money.NewRatio(1, 3).Less(money.NewRatio(1, 2)))
	assert.False(t, money.NewRatio(2, 4).Less(money.NewRatio(1, 2)))

	zero := money.NewRatio(0, 0)
	assert.Equal(t, money.Amount(0), zero.Of(1000000))
	assert.Equal(t, "0.00%", zero.Percent())
}

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "153,000원", money.Amount(153000).String())
	assert.Equal(t, "0원", money.Amount(0).String())
	assert.Equal(t, "-1,500원", money.Amount(-1500).String())
}
