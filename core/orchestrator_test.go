package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copybot/internal/config"
	"github.com/web3guy0/copybot/quality"
	"github.com/web3guy0/copybot/risk"
	"github.com/web3guy0/copybot/types"
)

const goodWallet = "0x00000000000000000000000000000000000000a1"

type fakeLeaderboard struct {
	mu       sync.Mutex
	wallets  []string
	data     map[string]*types.WalletData
	fetchErr error
}

func (f *fakeLeaderboard) TopWallets(limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if limit > len(f.wallets) {
		limit = len(f.wallets)
	}
	return f.wallets[:limit], nil
}

func (f *fakeLeaderboard) WalletData(wallet string) (*types.WalletData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[wallet], nil
}

func profitableWalletData(addr string) *types.WalletData {
	now := time.Now().UTC()
	trades := make([]types.TradeSample, 0, 60)
	for i := 0; i < 60; i++ {
		trades = append(trades, types.TradeSample{
			Timestamp: now.Add(-time.Duration(60-i) * time.Hour),
			MarketID:  "mkt-1",
			Category:  "Politics",
			Side:      types.SideBuy,
			Amount:    decimal.NewFromInt(100),
			Price:     decimal.NewFromFloat(0.5),
			Won:       i%3 != 0,
			Resolved:  true,
			PnL:       decimal.NewFromInt(20),
		})
	}
	return &types.WalletData{
		Address:         addr,
		CreatedAt:       now.Add(-90 * 24 * time.Hour),
		TradeCount:      200,
		WinRate:         0.67,
		ROI30d:          0.25,
		ProfitFactor:    2.5,
		MaxDrawdown:     0.10,
		Volatility:      0.12,
		SharpeRatio:     1.8,
		AvgHoldTime:     8 * time.Hour,
		ProfitPerTrade:  0.04,
		AvgPositionSize: decimal.NewFromInt(100),
		MaxPositionSize: decimal.NewFromInt(150),
		CategoryCounts:  map[string]int{"Politics": 180, "Crypto": 20},
		Trades:          trades,
	}
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment:            "staging",
		DryRun:                 true,
		WSURL:                  "ws://127.0.0.1:1", // never reachable in tests
		MaxConcurrentPositions: 3,
		CohortOverhead:         2,
		MonitorInterval:        30 * time.Second,
		PollInterval:           time.Hour,
		WalletUpdateInterval:   time.Hour,
		MinConfidenceScore:     0.6,
	}
}

func newTestOrchestrator(t *testing.T, lb LeaderboardSource, orders types.OrderClient) *Orchestrator {
	t.Helper()

	riskMgr := risk.NewStrategyRiskManager(risk.DefaultProfiles(), "", nil, nil)
	health := NewHealthAggregator(nil)
	stressed := func() bool { return health.Stressed() || riskMgr.AnyActive() }
	detector := quality.NewDetector(quality.DefaultWashParams(), nil)
	analyzer := quality.NewAnalyzer()
	engine := quality.NewEngine(quality.NewScorer(100), detector, analyzer,
		decimal.NewFromInt(5000), stressed)

	pm := NewPositionManager(orders,
		risk.NewExitChecker(copyProfile(), 0), riskMgr, nil, nil)

	return NewOrchestrator(Deps{
		Config:      testConfig(t),
		Engine:      engine,
		Detector:    detector,
		Behavior:    quality.NewMonitor("", nil),
		Analyzer:    analyzer,
		RiskMgr:     riskMgr,
		Sizer:       risk.NewSizer(stressed),
		Positions:   pm,
		Health:      health,
		Orders:      orders,
		Chain:       nil,
		Leaderboard: lb,
		DB:          nil,
		Alerter:     nil,
	})
}

func TestRefreshCohortAdmitsCleanWallets(t *testing.T) {
	lb := &fakeLeaderboard{
		wallets: []string{goodWallet},
		data:    map[string]*types.WalletData{goodWallet: profitableWalletData(goodWallet)},
	}
	o := newTestOrchestrator(t, lb, newFakeOrders())
	defer o.reconcileMonitors(nil)

	o.refreshCohort()

	assert.Equal(t, 1, o.GetCohortSize())
	o.mu.Lock()
	cs := o.composites[goodWallet]
	o.mu.Unlock()
	require.NotNil(t, cs)
	assert.Greater(t, cs.Composite, 5.0)
}

func TestRefreshCohortRejectsLowConfidence(t *testing.T) {
	data := profitableWalletData(goodWallet)
	data.TradeCount = 30 // small sample drags decision confidence down
	lb := &fakeLeaderboard{
		wallets: []string{goodWallet},
		data:    map[string]*types.WalletData{goodWallet: data},
	}
	o := newTestOrchestrator(t, lb, newFakeOrders())
	o.deps.Config.MinConfidenceScore = 0.65

	o.refreshCohort()

	assert.Equal(t, 0, o.GetCohortSize())
}

func TestRefreshCohortRetriesAfterFetchFailure(t *testing.T) {
	lb := &fakeLeaderboard{
		wallets:  []string{goodWallet},
		data:     map[string]*types.WalletData{goodWallet: profitableWalletData(goodWallet)},
		fetchErr: errors.New("leaderboard unavailable"),
	}
	o := newTestOrchestrator(t, lb, newFakeOrders())
	defer o.reconcileMonitors(nil)

	o.refreshCohort()

	// A failed fetch must not advance the refresh clock, otherwise the
	// next attempt waits out the full update interval.
	assert.True(t, o.lastRefresh.IsZero())
	assert.Equal(t, 0, o.GetCohortSize())

	lb.mu.Lock()
	lb.fetchErr = nil
	lb.mu.Unlock()

	o.refreshCohort()

	assert.False(t, o.lastRefresh.IsZero())
	assert.Equal(t, 1, o.GetCohortSize())
}

func TestProcessTradesSameWalletStaysOrdered(t *testing.T) {
	lb := &fakeLeaderboard{
		wallets: []string{goodWallet},
		data:    map[string]*types.WalletData{goodWallet: profitableWalletData(goodWallet)},
	}
	orders := newFakeOrders()
	// Stall the earlier trade's fill; a racing executor would let the
	// later one overtake it.
	orders.mu.Lock()
	orders.delays["market-a"] = 150 * time.Millisecond
	orders.mu.Unlock()

	o := newTestOrchestrator(t, lb, orders)
	o.deps.Config.DryRun = false
	defer o.reconcileMonitors(nil)

	o.refreshCohort()

	// Fed newest-first: block 2 before block 1.
	o.processTrades(context.Background(), []types.DetectedTrade{
		{
			TxHash:        "0xbbb",
			WalletAddress: goodWallet,
			MarketID:      "market-b",
			BlockNumber:   2,
			TxIndex:       0,
			Side:          types.SideBuy,
			Amount:        decimal.NewFromInt(150),
			Price:         decimal.NewFromFloat(0.50),
		},
		{
			TxHash:        "0xaaa",
			WalletAddress: goodWallet,
			MarketID:      "market-a",
			BlockNumber:   1,
			TxIndex:       3,
			Side:          types.SideBuy,
			Amount:        decimal.NewFromInt(200),
			Price:         decimal.NewFromFloat(0.45),
		},
	})

	orders.mu.Lock()
	placed := append([]string(nil), orders.placed...)
	orders.mu.Unlock()
	require.Equal(t, []string{"market-a", "market-b"}, placed)
	assert.Equal(t, 2, o.deps.Positions.Count())
}

func TestExecuteTradeDryRunPlacesNothing(t *testing.T) {
	lb := &fakeLeaderboard{
		wallets: []string{goodWallet},
		data:    map[string]*types.WalletData{goodWallet: profitableWalletData(goodWallet)},
	}
	orders := newFakeOrders()
	o := newTestOrchestrator(t, lb, orders)
	defer o.reconcileMonitors(nil)

	o.refreshCohort()

	o.executeTrade(types.DetectedTrade{
		TxHash:        "0xaaa",
		WalletAddress: goodWallet,
		MarketID:      "market-a",
		Side:          types.SideBuy,
		Amount:        decimal.NewFromInt(200),
		Price:         decimal.NewFromFloat(0.45),
	})

	assert.Empty(t, orders.placed)
	assert.Equal(t, 0, o.deps.Positions.Count())
}

func TestExecuteTradeOpensPosition(t *testing.T) {
	lb := &fakeLeaderboard{
		wallets: []string{goodWallet},
		data:    map[string]*types.WalletData{goodWallet: profitableWalletData(goodWallet)},
	}
	orders := newFakeOrders()
	o := newTestOrchestrator(t, lb, orders)
	o.deps.Config.DryRun = false
	defer o.reconcileMonitors(nil)

	o.refreshCohort()

	o.executeTrade(types.DetectedTrade{
		TxHash:        "0xaaa",
		WalletAddress: goodWallet,
		MarketID:      "market-a",
		Side:          types.SideBuy,
		Amount:        decimal.NewFromInt(200),
		Price:         decimal.NewFromFloat(0.45),
	})

	require.Equal(t, []string{"market-a"}, orders.placed)
	require.Equal(t, 1, o.deps.Positions.Count())

	pos := o.deps.Positions.List()[0]
	assert.Equal(t, goodWallet, pos.SourceTrade.WalletAddress)
	assert.True(t, pos.Amount.GreaterThanOrEqual(decimal.NewFromInt(1)))
	assert.True(t, pos.Amount.LessThanOrEqual(decimal.NewFromInt(500)))
}

func TestExecuteTradeMarketPositionLimit(t *testing.T) {
	lb := &fakeLeaderboard{
		wallets: []string{goodWallet},
		data:    map[string]*types.WalletData{goodWallet: profitableWalletData(goodWallet)},
	}
	orders := newFakeOrders()
	o := newTestOrchestrator(t, lb, orders)
	o.deps.Config.DryRun = false
	defer o.reconcileMonitors(nil)

	o.refreshCohort()
	o.deps.Positions.Add(openPosition("market-a", 0.40))

	o.executeTrade(types.DetectedTrade{
		TxHash:        "0xbbb",
		WalletAddress: goodWallet,
		MarketID:      "market-a",
		Side:          types.SideBuy,
		Amount:        decimal.NewFromInt(200),
		Price:         decimal.NewFromFloat(0.45),
	})

	assert.Empty(t, orders.placed)
	assert.Equal(t, 1, o.deps.Positions.Count())
}

func TestExecuteTradeSlippageGate(t *testing.T) {
	lb := &fakeLeaderboard{
		wallets: []string{goodWallet},
		data:    map[string]*types.WalletData{goodWallet: profitableWalletData(goodWallet)},
	}
	orders := newFakeOrders()
	orders.mu.Lock()
	orders.prices["market-a"] = decimal.NewFromFloat(0.60) // moved far past 0.45
	orders.mu.Unlock()

	o := newTestOrchestrator(t, lb, orders)
	o.deps.Config.DryRun = false
	defer o.reconcileMonitors(nil)

	o.refreshCohort()

	o.executeTrade(types.DetectedTrade{
		TxHash:        "0xaaa",
		WalletAddress: goodWallet,
		MarketID:      "market-a",
		Side:          types.SideBuy,
		Amount:        decimal.NewFromInt(200),
		Price:         decimal.NewFromFloat(0.45),
	})

	assert.Empty(t, orders.placed)
}

func TestExecuteTradeSizesOffVolatilityAdjustedAmount(t *testing.T) {
	lb := &fakeLeaderboard{
		wallets: []string{goodWallet},
		data:    map[string]*types.WalletData{goodWallet: profitableWalletData(goodWallet)},
	}
	orders := newFakeOrders()

	// Loosen the caps so a $1500 source fill reaches the sizing step.
	profiles := risk.DefaultProfiles()
	p := profiles[types.StrategyCopyTrading]
	p.MaxPositionSize = decimal.NewFromInt(5000)
	p.MaxPortfolioExposure = decimal.NewFromInt(10000)
	profiles[types.StrategyCopyTrading] = p

	riskMgr := risk.NewStrategyRiskManager(profiles, "", nil, nil)
	health := NewHealthAggregator(nil)
	stressed := func() bool { return health.Stressed() || riskMgr.AnyActive() }
	detector := quality.NewDetector(quality.DefaultWashParams(), nil)
	analyzer := quality.NewAnalyzer()
	engine := quality.NewEngine(quality.NewScorer(100), detector, analyzer,
		decimal.NewFromInt(5000), stressed)
	pm := NewPositionManager(orders, risk.NewExitChecker(p, 0), riskMgr, nil, nil)

	o := NewOrchestrator(Deps{
		Config:      testConfig(t),
		Engine:      engine,
		Detector:    detector,
		Behavior:    quality.NewMonitor("", nil),
		Analyzer:    analyzer,
		RiskMgr:     riskMgr,
		Sizer:       risk.NewSizer(stressed),
		Positions:   pm,
		Health:      health,
		Orders:      orders,
		Leaderboard: lb,
	})
	o.deps.Config.DryRun = false
	defer o.reconcileMonitors(nil)

	o.refreshCohort()

	// Drive implied volatility to the ceiling with alternating prices.
	now := time.Now().UTC()
	for i := 0; i < 12; i++ {
		price := 1.0
		if i%2 == 1 {
			price = 2.0
		}
		analyzer.ObserveBook(price, 5000, 100, now.Add(time.Duration(i)*time.Second))
	}
	analyzer.Refresh(24)
	require.InDelta(t, 1.0, analyzer.State().ImpliedVolatility, 1e-9)

	o.executeTrade(types.DetectedTrade{
		TxHash:        "0xccc",
		WalletAddress: goodWallet,
		MarketID:      "market-v",
		Side:          types.SideBuy,
		Amount:        decimal.NewFromInt(1500),
		Price:         decimal.NewFromFloat(0.45),
	})

	require.Equal(t, []string{"market-v"}, orders.placed)
	require.Equal(t, 1, o.deps.Positions.Count())

	// The risk gate halves $1500 at the volatility ceiling; sizing works
	// off the $750 figure: 200 × 2.0 × 0.75 × 0.5 = 150. The raw amount
	// would have produced 300.
	pos := o.deps.Positions.List()[0]
	assert.Equal(t, "150.00", pos.Amount.StringFixed(2))
}

func TestExecuteTradeUnknownWalletSkipped(t *testing.T) {
	orders := newFakeOrders()
	o := newTestOrchestrator(t, &fakeLeaderboard{}, orders)
	o.deps.Config.DryRun = false

	o.executeTrade(types.DetectedTrade{
		WalletAddress: "0xstranger",
		MarketID:      "market-a",
		Amount:        decimal.NewFromInt(100),
	})

	assert.Empty(t, orders.placed)
}
