package core

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copybot/risk"
	"github.com/web3guy0/copybot/storage"
	"github.com/web3guy0/copybot/types"
)

type fakeOrders struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	balance decimal.Decimal
	placed  []string
	healthy bool
	delays  map[string]time.Duration
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		prices:  make(map[string]decimal.Decimal),
		balance: decimal.NewFromInt(10000),
		healthy: true,
		delays:  make(map[string]time.Duration),
	}
}

func (f *fakeOrders) PlaceOrder(marketID string, side types.Side, amount, price decimal.Decimal) (*types.OrderResult, error) {
	f.mu.Lock()
	delay := f.delays[marketID]
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, marketID)
	return &types.OrderResult{OrderID: "o-" + marketID, FilledAmount: amount, Status: "FILLED"}, nil
}

func (f *fakeOrders) CancelOrder(orderID string) error { return nil }

func (f *fakeOrders) GetPrice(marketID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prices[marketID], nil
}

func (f *fakeOrders) GetBalance() (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeOrders) HealthCheck() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func copyProfile() risk.Profile {
	return risk.DefaultProfiles()[types.StrategyCopyTrading]
}

func newTestPositionManager(t *testing.T, orders types.OrderClient) (*PositionManager, *risk.StrategyRiskManager) {
	t.Helper()
	riskMgr := risk.NewStrategyRiskManager(risk.DefaultProfiles(), "", nil, nil)
	exits := risk.NewExitChecker(copyProfile(), 0)
	pm := NewPositionManager(orders, exits, riskMgr, nil, nil)
	return pm, riskMgr
}

func openPosition(marketID string, entry float64) *types.Position {
	return &types.Position{
		ID:         "pos-" + marketID,
		MarketID:   marketID,
		Side:       types.SideBuy,
		Amount:     decimal.NewFromInt(100),
		Shares:     100,
		EntryPrice: decimal.NewFromFloat(entry),
		OpenedAt:   time.Now().UTC(),
		Strategy:   types.StrategyCopyTrading,
		SourceTrade: types.DetectedTrade{
			WalletAddress: "0xsource",
		},
	}
}

func TestManagePositionsTakeProfit(t *testing.T) {
	orders := newFakeOrders()
	pm, riskMgr := newTestPositionManager(t, orders)

	pm.Add(openPosition("market-a", 0.40))
	require.Equal(t, 1, pm.Count())

	// 30% take profit on 0.40 entry exits at 0.52.
	orders.mu.Lock()
	orders.prices["market-a"] = decimal.NewFromFloat(0.52)
	orders.mu.Unlock()

	pm.ManagePositions()

	assert.Equal(t, 0, pm.Count())
	assert.Equal(t, []string{"market-a"}, orders.placed)
	assert.True(t, riskMgr.TotalExposure().IsZero())

	// Profit (0.52-0.40)*100 = $12 recorded as a win.
	state, ok := riskMgr.State(types.StrategyCopyTrading)
	require.True(t, ok)
	assert.Equal(t, 1, state.SuccessfulTrades)
	assert.Equal(t, "12", state.TotalProfit.String())
}

func TestManagePositionsStopLoss(t *testing.T) {
	orders := newFakeOrders()
	pm, riskMgr := newTestPositionManager(t, orders)

	pm.Add(openPosition("market-b", 0.50))

	// 20% stop loss on 0.50 entry exits at 0.40.
	orders.mu.Lock()
	orders.prices["market-b"] = decimal.NewFromFloat(0.39)
	orders.mu.Unlock()

	pm.ManagePositions()

	assert.Equal(t, 0, pm.Count())
	state, _ := riskMgr.State(types.StrategyCopyTrading)
	assert.Equal(t, 1, state.FailedTrades)
	assert.Equal(t, "11", state.DailyLoss.String()) // (0.50-0.39)*100
}

func TestManagePositionsHoldsInsideBand(t *testing.T) {
	orders := newFakeOrders()
	pm, _ := newTestPositionManager(t, orders)

	pm.Add(openPosition("market-c", 0.50))
	orders.mu.Lock()
	orders.prices["market-c"] = decimal.NewFromFloat(0.55)
	orders.mu.Unlock()

	pm.ManagePositions()

	assert.Equal(t, 1, pm.Count())
	assert.Empty(t, orders.placed)
}

func TestRecoverPositionsRestoresExposure(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "copybot.db"))
	require.NoError(t, err)
	defer db.Close()

	orders := newFakeOrders()
	riskMgr := risk.NewStrategyRiskManager(risk.DefaultProfiles(), "", nil, nil)
	pm := NewPositionManager(orders, risk.NewExitChecker(copyProfile(), 0), riskMgr, db, nil)

	pm.Add(openPosition("market-a", 0.40))

	// Simulate a restart with a fresh manager over the same database.
	pm2 := NewPositionManager(orders, risk.NewExitChecker(copyProfile(), 0),
		risk.NewStrategyRiskManager(risk.DefaultProfiles(), "", nil, nil), db, nil)
	recovered, err := pm2.RecoverPositions()
	require.NoError(t, err)

	assert.Equal(t, 1, recovered)
	assert.Equal(t, 1, pm2.Count())
	assert.Equal(t, "100", pm2.WalletExposure("0xsource").String())
}

func TestExposureStacksWithinOneMarket(t *testing.T) {
	orders := newFakeOrders()
	pm, riskMgr := newTestPositionManager(t, orders)

	first := openPosition("market-a", 0.40)
	second := openPosition("market-a", 0.42)
	second.ID = "pos-market-a-2"

	pm.Add(first)
	pm.Add(second)

	// The second position accumulates; it must not overwrite the first.
	assert.Equal(t, "200", riskMgr.TotalExposure().String())

	pm.closePosition(*first, decimal.NewFromFloat(0.52), "TAKE_PROFIT", time.Now().UTC())

	// Closing one leaves the other's exposure in the risk gate.
	assert.Equal(t, 1, pm.Count())
	assert.Equal(t, "100", riskMgr.TotalExposure().String())
}

func TestExposureBookkeeping(t *testing.T) {
	orders := newFakeOrders()
	pm, riskMgr := newTestPositionManager(t, orders)

	pm.Add(openPosition("market-a", 0.40))
	pm.Add(openPosition("market-b", 0.60))

	assert.Equal(t, "200", pm.TotalExposure().String())
	assert.Equal(t, "200", riskMgr.TotalExposure().String())
	assert.Equal(t, "200", pm.WalletExposure("0xsource").String())

	byWallet := pm.ExposureByWallet()
	require.Len(t, byWallet, 1)
	assert.Equal(t, "200", byWallet["0xsource"].String())
}
