package core

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copybot/quality"
	"github.com/web3guy0/copybot/risk"
	"github.com/web3guy0/copybot/types"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
	levels []types.AlertLevel
}

func (r *recordingAlerter) SendAlert(level types.AlertLevel, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, message)
	r.levels = append(r.levels, level)
}

func TestHealthEscalation(t *testing.T) {
	alerter := &recordingAlerter{}
	h := NewHealthAggregator(alerter)

	healthy := true
	h.Register("order_client", func() bool { return healthy })

	h.RunChecks()
	assert.True(t, h.Healthy())
	assert.False(t, h.Stressed())

	healthy = false
	h.RunChecks()
	assert.False(t, h.Healthy())
	assert.Empty(t, alerter.alerts) // one failure is not yet alert-worthy

	h.RunChecks()
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, types.AlertHigh, alerter.levels[0])
	assert.False(t, h.Stressed())

	h.RunChecks()
	require.Len(t, alerter.alerts, 2)
	assert.Equal(t, types.AlertCritical, alerter.levels[1])
	assert.True(t, h.Stressed())
}

// Three consecutive component failures must reach both stress consumers:
// the sizer degrades to the conservative floor and the composite engine
// assigns the system-stress profile.
func TestHealthStressDrivesSizingAndScoring(t *testing.T) {
	h := NewHealthAggregator(nil)
	healthy := true
	h.Register("order_client", func() bool { return healthy })

	riskMgr := risk.NewStrategyRiskManager(risk.DefaultProfiles(), "", nil, nil)
	stressed := func() bool { return h.Stressed() || riskMgr.AnyActive() }
	sizer := risk.NewSizer(stressed)
	engine := quality.NewEngine(quality.NewScorer(100),
		quality.NewDetector(quality.DefaultWashParams(), nil),
		quality.NewAnalyzer(), decimal.NewFromInt(5000), stressed)

	req := risk.SizingRequest{
		Wallet:              goodWallet,
		Balance:             decimal.NewFromInt(10000),
		CompositeScore:      0.8,
		Tier:                quality.TierExpert,
		OriginalTradeAmount: decimal.NewFromInt(200),
		MarketVolatility:    0.10,
		PortfolioValue:      decimal.NewFromInt(10000),
	}
	baseline := sizer.ComputeSize(req)
	require.False(t, baseline.Skip)

	healthy = false
	for i := 0; i < 3; i++ {
		h.RunChecks()
	}
	require.True(t, h.Stressed())

	degraded := sizer.ComputeSize(req)
	require.False(t, degraded.Skip)
	assert.True(t, degraded.FinalSize.LessThan(baseline.FinalSize))
	// 1% base with every multiplier at its floor: 100 × 0.5 × 0.5 × 1.0 × 0.5.
	assert.Equal(t, "12.50", degraded.FinalSize.StringFixed(2))

	cs := engine.Compose(goodWallet, profitableWalletData(goodWallet))
	require.NotNil(t, cs)
	assert.Equal(t, quality.ProfileSystemStress, cs.RiskProfile)
}

func TestHealthRecoveryClearsStreak(t *testing.T) {
	h := NewHealthAggregator(nil)

	healthy := false
	h.Register("chain_client", func() bool { return healthy })

	for i := 0; i < 3; i++ {
		h.RunChecks()
	}
	assert.True(t, h.Stressed())

	healthy = true
	h.RunChecks()
	assert.False(t, h.Stressed())
	assert.True(t, h.Healthy())
}
