package quality

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copybot/types"
)

func washWalletData(now time.Time) *types.WalletData {
	// 100 trades alternating BUY/SELL on the same market, 120s apart,
	// identical amounts.
	trades := make([]types.TradeSample, 0, 100)
	start := now.Add(-4 * time.Hour)
	for i := 0; i < 100; i++ {
		side := types.SideBuy
		if i%2 == 1 {
			side = types.SideSell
		}
		trades = append(trades, types.TradeSample{
			Timestamp: start.Add(time.Duration(i) * 120 * time.Second),
			MarketID:  "mkt-wash",
			Category:  "Crypto",
			Side:      side,
			Amount:    decimal.NewFromInt(250),
			Price:     decimal.NewFromFloat(0.5),
			Won:       true,
			Resolved:  true,
		})
	}
	return &types.WalletData{
		Address:         testWallet,
		CreatedAt:       now.Add(-60 * 24 * time.Hour),
		TradeCount:      100,
		WinRate:         0.65,
		ProfitFactor:    1.5,
		MaxDrawdown:     0.10,
		AvgPositionSize: decimal.NewFromInt(250),
		MaxPositionSize: decimal.NewFromInt(250),
		CategoryCounts:  map[string]int{"Crypto": 100},
		Trades:          trades,
	}
}

func TestWashDetectionScenario(t *testing.T) {
	d := NewDetector(DefaultWashParams(), nil)
	data := washWalletData(time.Now().UTC())

	ws := d.WashScore(data.Trades, testWallet)
	assert.Equal(t, 50, ws.RoundTrips)
	assert.Equal(t, 50, ws.IdenticalAmounts)
	assert.GreaterOrEqual(t, ws.Score, 0.7)

	res := d.Detect(testWallet, data)
	require.NotNil(t, res)

	var washFlag *RedFlag
	for i := range res.Flags {
		if res.Flags[i].Type == FlagWashTrading {
			washFlag = &res.Flags[i]
		}
	}
	require.NotNil(t, washFlag, "wash trading flag expected")
	assert.Equal(t, SeverityCritical, washFlag.Severity)
	assert.True(t, res.IsExcluded)
}

func TestCleanWalletNotExcluded(t *testing.T) {
	d := NewDetector(DefaultWashParams(), nil)
	res := d.Detect(testWallet, goodWalletData())
	require.NotNil(t, res)
	assert.False(t, res.IsExcluded)
	assert.Zero(t, res.FlagsBySeverity[SeverityCritical])
}

func TestNewWalletLargeBetFlag(t *testing.T) {
	data := goodWalletData()
	data.CreatedAt = time.Now().UTC().Add(-2 * 24 * time.Hour)
	data.MaxPositionSize = decimal.NewFromInt(5000)

	d := NewDetector(DefaultWashParams(), nil)
	res := d.Detect(testWallet, data)

	found := false
	for _, f := range res.Flags {
		if f.Type == FlagNewWalletLargeBet {
			found = true
			assert.Equal(t, SeverityCritical, f.Severity)
		}
	}
	assert.True(t, found)
}

func TestMediumFlagsRouteToManualReview(t *testing.T) {
	now := time.Now().UTC()
	// Low win rate + no specialization + category hopping: three mediums,
	// no criticals.
	trades := make([]types.TradeSample, 0, 60)
	cats := []string{"Politics", "Crypto", "Sports", "Economics", "Science"}
	for i := 0; i < 60; i++ {
		trades = append(trades, types.TradeSample{
			Timestamp: now.Add(-time.Duration(i) * time.Hour),
			MarketID:  "mkt",
			Category:  cats[i%len(cats)],
			Side:      types.SideBuy,
			Amount:    decimal.NewFromInt(50),
			Won:       i%2 == 0,
			Resolved:  true,
		})
	}
	data := &types.WalletData{
		Address:         testWallet,
		CreatedAt:       now.Add(-90 * 24 * time.Hour),
		TradeCount:      60,
		WinRate:         0.50,
		ProfitFactor:    1.4,
		MaxDrawdown:     0.15,
		AvgPositionSize: decimal.NewFromInt(50),
		MaxPositionSize: decimal.NewFromInt(60),
		CategoryCounts:  map[string]int{"Politics": 12, "Crypto": 12, "Sports": 12, "Economics": 12, "Science": 12},
		Trades:          trades,
	}

	d := NewDetector(DefaultWashParams(), nil)
	res := d.Detect(testWallet, data)

	assert.GreaterOrEqual(t, res.FlagsBySeverity[SeverityMedium], 3)
	assert.False(t, res.IsExcluded)
	assert.True(t, res.ManualReview)
}

func TestInsiderClusterFlag(t *testing.T) {
	d := NewDetector(DefaultWashParams(), nil)
	wallets := []string{
		testWallet,
		"0x00000000000000000000000000000000000000c1",
		"0x00000000000000000000000000000000000000c2",
		"0x00000000000000000000000000000000000000c3",
		"0x00000000000000000000000000000000000000c4",
	}
	d.ObserveCluster(ClusterObservation{
		MarketID: "mkt-insider",
		Side:     types.SideBuy,
		Wallets:  wallets,
		Window:   30 * time.Minute,
	})

	res := d.Detect(testWallet, goodWalletData())
	found := false
	for _, f := range res.Flags {
		if f.Type == FlagInsiderCluster {
			found = true
		}
	}
	assert.True(t, found)
}

func TestConfidenceClipped(t *testing.T) {
	assert.LessOrEqual(t, confidence([]RedFlag{
		{Severity: SeverityCritical}, {Severity: SeverityCritical},
		{Severity: SeverityHigh}, {Severity: SeverityHigh},
	}, 500), 1.0)

	assert.GreaterOrEqual(t, confidence(nil, 10), 0.0)
}

func TestDetectDecisionCached(t *testing.T) {
	d := NewDetector(DefaultWashParams(), nil)
	data := goodWalletData()

	first := d.Detect(testWallet, data)
	data.ProfitFactor = 0.1
	second := d.Detect(testWallet, data)

	assert.Same(t, first, second)
}
