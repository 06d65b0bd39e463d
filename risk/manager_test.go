package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copybot/types"
)

func testProfiles() map[types.Strategy]Profile {
	profiles := DefaultProfiles()
	p := profiles[types.StrategyCopyTrading]
	p.MaxDailyLoss = decimal.NewFromInt(100)
	profiles[types.StrategyCopyTrading] = p
	return profiles
}

func newTestManager(t *testing.T) *StrategyRiskManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategy_risk_state.bin")
	return NewStrategyRiskManager(testProfiles(), path, nil, nil)
}

func okRequest() TradeRequest {
	return TradeRequest{MarketID: "market-a", Amount: decimal.NewFromInt(100)}
}

func TestDailyLossBreakerActivation(t *testing.T) {
	m := newTestManager(t)
	strat := types.StrategyCopyTrading

	// Seed $80 of daily loss, then lose $25 more.
	m.RecordResult(strat, false, decimal.NewFromInt(-80))
	state, ok := m.State(strat)
	require.True(t, ok)
	assert.False(t, state.Active)
	assert.Equal(t, "80", state.DailyLoss.String())

	m.RecordResult(strat, false, decimal.NewFromInt(-25))
	state, _ = m.State(strat)
	assert.True(t, state.Active)
	assert.Equal(t, "105", state.DailyLoss.String())
	assert.Equal(t, "Daily loss limit reached ($105.00 / $100.00)", state.Reason)

	allowance := m.CheckAllowed(strat, okRequest())
	assert.False(t, allowance.Allowed)
	assert.InDelta(t, 60, allowance.RemainingMinutes, 0.5)
}

func TestDailyLossExactlyAtLimitActivates(t *testing.T) {
	m := newTestManager(t)
	m.RecordResult(types.StrategyCopyTrading, false, decimal.NewFromInt(-100))

	state, _ := m.State(types.StrategyCopyTrading)
	assert.True(t, state.Active)
}

func TestConsecutiveLossBreaker(t *testing.T) {
	m := newTestManager(t)
	strat := types.StrategyCopyTrading

	for i := 0; i < 5; i++ {
		m.RecordResult(strat, false, decimal.NewFromInt(-5))
	}
	state, _ := m.State(strat)
	assert.True(t, state.Active)
	assert.Contains(t, state.Reason, "Consecutive loss limit")

	// A win before the fifth loss would have reset the streak.
	m2 := newTestManager(t)
	for i := 0; i < 4; i++ {
		m2.RecordResult(strat, false, decimal.NewFromInt(-5))
	}
	m2.RecordResult(strat, true, decimal.NewFromInt(5))
	m2.RecordResult(strat, false, decimal.NewFromInt(-5))
	state, _ = m2.State(strat)
	assert.False(t, state.Active)
	assert.Equal(t, 1, state.ConsecutiveLosses)
}

func TestFailureRateBreakerNeedsTenTrades(t *testing.T) {
	m := newTestManager(t)
	strat := types.StrategyCopyTrading

	// 6 failures / 9 trades = 67% > 60%, but below the 10-trade floor.
	// Alternate so the consecutive-loss streak never reaches 5.
	outcomes := []bool{false, true, false, true, false, false, true, false, false}
	for _, success := range outcomes {
		m.RecordResult(strat, success, decimal.NewFromInt(-1))
	}
	state, _ := m.State(strat)
	assert.False(t, state.Active)

	m.RecordResult(strat, false, decimal.NewFromInt(-1))
	state, _ = m.State(strat)
	assert.True(t, state.Active)
	assert.Contains(t, state.Reason, "Failure rate limit")
}

func TestCheckAllowedOrdering(t *testing.T) {
	m := newTestManager(t)

	// Disabled strategy blocks before anything else.
	allowance := m.CheckAllowed(types.StrategyEndgameSweep, okRequest())
	assert.False(t, allowance.Allowed)
	assert.Contains(t, allowance.Reason, "disabled")

	// Oversized trade.
	allowance = m.CheckAllowed(types.StrategyCopyTrading, TradeRequest{
		MarketID: "market-a",
		Amount:   decimal.NewFromInt(501),
	})
	assert.False(t, allowance.Allowed)
	assert.Contains(t, allowance.Reason, "max position size")

	// Portfolio exposure ceiling.
	m.SetExposure("market-x", decimal.NewFromInt(4950))
	allowance = m.CheckAllowed(types.StrategyCopyTrading, okRequest())
	assert.False(t, allowance.Allowed)
	assert.Contains(t, allowance.Reason, "portfolio exposure")
	m.SetExposure("market-x", decimal.Zero)
}

func TestCheckAllowedCorrelationLimit(t *testing.T) {
	m := newTestManager(t)
	m.SetExposure("market-b", decimal.NewFromInt(100))
	m.SetCorrelation("market-a", "market-b", 0.85)

	allowance := m.CheckAllowed(types.StrategyCopyTrading, okRequest())
	assert.False(t, allowance.Allowed)
	assert.Contains(t, allowance.Reason, "correlation")

	// Same pair below threshold passes.
	m.SetCorrelation("market-a", "market-b", 0.60)
	allowance = m.CheckAllowed(types.StrategyCopyTrading, okRequest())
	assert.True(t, allowance.Allowed)
}

func TestCheckAllowedVolatilityReduction(t *testing.T) {
	m := newTestManager(t)

	req := okRequest()
	req.Volatility = 40
	allowance := m.CheckAllowed(types.StrategyCopyTrading, req)
	require.True(t, allowance.Allowed)
	// 100 * (1 - 40/100)
	assert.True(t, allowance.AdjustedAmount.Equal(decimal.NewFromInt(60)), allowance.AdjustedAmount.String())

	// Scale floors at 0.5 even for extreme readings.
	req.Volatility = 90
	allowance = m.CheckAllowed(types.StrategyCopyTrading, req)
	require.True(t, allowance.Allowed)
	assert.True(t, allowance.AdjustedAmount.Equal(decimal.NewFromInt(50)), allowance.AdjustedAmount.String())

	// Reduced below the $1 minimum blocks.
	req.Amount = decimal.NewFromFloat(1.50)
	allowance = m.CheckAllowed(types.StrategyCopyTrading, req)
	assert.False(t, allowance.Allowed)
	assert.Contains(t, allowance.Reason, "below minimum")
}

func TestBreakerCooldownAutoReset(t *testing.T) {
	m := newTestManager(t)
	strat := types.StrategyCopyTrading
	m.RecordResult(strat, false, decimal.NewFromInt(-150))

	// Backdate the activation past the cooldown.
	st := m.strategies[strat]
	st.mu.Lock()
	st.breaker.ActivationTime = time.Now().UTC().Add(-2 * time.Hour)
	totalLoss := st.breaker.TotalLoss
	st.mu.Unlock()

	allowance := m.CheckAllowed(strat, okRequest())
	assert.True(t, allowance.Allowed)

	state, _ := m.State(strat)
	assert.False(t, state.Active)
	assert.True(t, state.DailyLoss.IsZero())
	assert.True(t, state.TotalLoss.Equal(totalLoss)) // totals survive the reset
}

func TestDailyResetPreservesTotals(t *testing.T) {
	m := newTestManager(t)
	strat := types.StrategyCopyTrading

	m.RecordResult(strat, false, decimal.NewFromInt(-40))
	m.RecordResult(strat, true, decimal.NewFromInt(60))

	st := m.strategies[strat]
	st.mu.Lock()
	st.breaker.LastResetDate = "2000-01-01"
	st.mu.Unlock()

	m.DailyReset()

	state, _ := m.State(strat)
	assert.True(t, state.DailyLoss.IsZero())
	assert.Equal(t, 0, state.ConsecutiveLosses)
	assert.Equal(t, "40", state.TotalLoss.String())
	assert.Equal(t, "60", state.TotalProfit.String())
	assert.Equal(t, 1, state.FailedTrades)
	assert.Equal(t, 1, state.SuccessfulTrades)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), state.LastResetDate)
}

func TestAnyActive(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.AnyActive())

	m.RecordResult(types.StrategyCopyTrading, false, decimal.NewFromInt(-150))
	assert.True(t, m.AnyActive())
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy_risk_state.bin")
	strat := types.StrategyCopyTrading

	m := NewStrategyRiskManager(testProfiles(), path, nil, nil)
	m.RecordResult(strat, false, decimal.NewFromFloat(-33.37))
	m.RecordResult(strat, true, decimal.NewFromFloat(12.01))
	m.RecordResult(strat, false, decimal.NewFromFloat(-120.50))
	before, ok := m.State(strat)
	require.True(t, ok)
	require.True(t, before.Active)

	restored := NewStrategyRiskManager(testProfiles(), path, nil, nil)
	after, ok := restored.State(strat)
	require.True(t, ok)

	assert.Equal(t, before.Active, after.Active)
	assert.Equal(t, before.Reason, after.Reason)
	assert.Equal(t, before.DailyLoss.String(), after.DailyLoss.String())
	assert.Equal(t, before.TotalLoss.String(), after.TotalLoss.String())
	assert.Equal(t, before.TotalProfit.String(), after.TotalProfit.String())
	assert.Equal(t, before.ConsecutiveLosses, after.ConsecutiveLosses)
	assert.Equal(t, before.FailedTrades, after.FailedTrades)
	assert.Equal(t, before.SuccessfulTrades, after.SuccessfulTrades)
	assert.Equal(t, before.LastResetDate, after.LastResetDate)
	assert.True(t, before.ActivationTime.Equal(after.ActivationTime))
	assert.True(t, before.LastResetTime.Equal(after.LastResetTime))
}

func TestLoadMalformedStateFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategy_risk_state.bin")
	require.NoError(t, os.WriteFile(path, []byte{stateVersion, 0xde, 0xad, 0xbe, 0xef}, 0o644))

	m := NewStrategyRiskManager(testProfiles(), path, nil, nil)
	state, ok := m.State(types.StrategyCopyTrading)
	require.True(t, ok)
	assert.False(t, state.Active)
	assert.True(t, state.DailyLoss.IsZero())
}
