package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copybot/quality"
)

func eliteRequest() SizingRequest {
	return SizingRequest{
		Wallet:              "0xelite",
		Balance:             decimal.NewFromInt(10000),
		CompositeScore:      9.5,
		Tier:                quality.TierElite,
		OriginalTradeAmount: decimal.NewFromInt(200),
		MarketVolatility:    0.15,
		PortfolioValue:      decimal.NewFromInt(10000),
	}
}

func TestComputeSizeEliteWallet(t *testing.T) {
	s := NewSizer(nil)
	d := s.ComputeSize(eliteRequest())
	require.False(t, d.Skip)

	// base $200, quality clipped to 2.0, trade 0.5, risk 1.0, concentration 1.0
	assert.Equal(t, "200.00", d.FinalSize.StringFixed(2))
	assert.Equal(t, int64(200), d.Shares)
	assert.Equal(t, 2.0, d.QualityMult)
	assert.Equal(t, 0.5, d.TradeAdjustment)
	assert.Equal(t, 1.0, d.RiskAdjustment)
	assert.Equal(t, 1.0, d.ConcentrationMult)
}

func TestComputeSizePoorTierSkips(t *testing.T) {
	s := NewSizer(nil)
	req := eliteRequest()
	req.Tier = quality.TierPoor

	d := s.ComputeSize(req)
	assert.True(t, d.Skip)
	assert.Equal(t, "Poor quality wallet – not trading", d.Reason)
}

func TestRiskAdjustmentBoundaries(t *testing.T) {
	s := NewSizer(nil)
	cases := []struct {
		vol  float64
		want float64
	}{
		{0.15, 1.0},
		{0.30, 0.8},
		{0.3001, 0.5},
	}
	for _, tc := range cases {
		req := eliteRequest()
		req.MarketVolatility = tc.vol
		d := s.ComputeSize(req)
		require.False(t, d.Skip)
		assert.Equal(t, tc.want, d.RiskAdjustment, "vol %.4f", tc.vol)
	}
}

func TestComputeSizeSystemStressFloor(t *testing.T) {
	s := NewSizer(func() bool { return true })
	d := s.ComputeSize(eliteRequest())
	require.False(t, d.Skip)

	// 1% base with minimum multipliers: 100 * 0.5 * 0.5 * 1.0 * 0.5
	assert.Equal(t, "12.50", d.FinalSize.StringFixed(2))
	assert.Equal(t, int64(12), d.Shares)
	assert.True(t, d.FinalSize.GreaterThanOrEqual(decimal.NewFromInt(1)))
}

func TestComputeSizeAbsoluteCeiling(t *testing.T) {
	s := NewSizer(nil)
	req := eliteRequest()
	req.Balance = decimal.NewFromInt(100000)
	req.PortfolioValue = decimal.NewFromInt(100000)
	req.OriginalTradeAmount = decimal.NewFromInt(2000)

	d := s.ComputeSize(req)
	require.False(t, d.Skip)
	assert.Equal(t, "500.00", d.FinalSize.StringFixed(2)) // $500 abs cap binds before 5% of balance
}

func TestComputeSizeBalancePctCeiling(t *testing.T) {
	s := NewSizer(nil)
	req := eliteRequest()
	req.Balance = decimal.NewFromInt(2000)
	req.PortfolioValue = decimal.NewFromInt(2000)
	req.OriginalTradeAmount = decimal.NewFromInt(2000)

	d := s.ComputeSize(req)
	require.False(t, d.Skip)
	// base $40 * 2.0 * 1.5 * 1.0 * 1.0 = $120, clipped to 5% of balance = $100
	assert.Equal(t, "100.00", d.FinalSize.StringFixed(2))
}

func TestComputeSizeMinimumFloor(t *testing.T) {
	s := NewSizer(nil)
	req := SizingRequest{
		Wallet:              "0xsmall",
		Balance:             decimal.NewFromInt(100),
		CompositeScore:      0.1,
		Tier:                quality.TierGood,
		OriginalTradeAmount: decimal.NewFromInt(10),
		MarketVolatility:    0.50,
		PortfolioValue:      decimal.NewFromInt(100),
	}

	d := s.ComputeSize(req)
	require.False(t, d.Skip)
	assert.Equal(t, "1.00", d.FinalSize.StringFixed(2))
	assert.Equal(t, int64(1), d.Shares)
}

func TestTierExposureCapClampsAndSkips(t *testing.T) {
	s := NewSizer(nil)

	// Good tier, $1000 portfolio: cap is $70 total from this wallet.
	req := eliteRequest()
	req.Tier = quality.TierGood
	req.PortfolioValue = decimal.NewFromInt(1000)
	req.WalletExposure = decimal.NewFromInt(65)

	d := s.ComputeSize(req)
	require.False(t, d.Skip)
	assert.Equal(t, "5.00", d.FinalSize.StringFixed(2)) // clamped to headroom

	req.WalletExposure = decimal.NewFromFloat(69.50)
	d = s.ComputeSize(req)
	assert.True(t, d.Skip)
	assert.Contains(t, d.Reason, "exposure cap")
}

func TestConcentrationAdjustmentShrinksWithExposure(t *testing.T) {
	s := NewSizer(nil)
	req := eliteRequest()
	// Elite cap on $10000 portfolio is $1500; half used.
	req.WalletExposure = decimal.NewFromInt(750)

	d := s.ComputeSize(req)
	require.False(t, d.Skip)
	assert.Equal(t, 0.5, d.ConcentrationMult)
}
