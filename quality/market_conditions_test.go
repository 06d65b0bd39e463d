package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegimeThresholds(t *testing.T) {
	assert.Equal(t, RegimeLow, RegimeOf(0.29))
	assert.Equal(t, RegimeMedium, RegimeOf(0.30))
	assert.Equal(t, RegimeMedium, RegimeOf(0.59))
	assert.Equal(t, RegimeHigh, RegimeOf(0.60))
	assert.Equal(t, RegimeHigh, RegimeOf(0.89))
	assert.Equal(t, RegimeExtreme, RegimeOf(0.90))
}

func TestNeutralVolatilityBelowMinSamples(t *testing.T) {
	a := NewAnalyzer()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		a.ObserveBook(0.50, 1000, 100, now.Add(time.Duration(i)*time.Minute))
	}

	state := a.Refresh(2.0)
	assert.Equal(t, neutralImplVol, state.ImpliedVolatility)
	assert.Equal(t, RegimeLow, state.Regime)
}

func TestFlatPricesLowVolatility(t *testing.T) {
	a := NewAnalyzer()
	now := time.Now().UTC()
	for i := 0; i < 20; i++ {
		a.ObserveBook(0.50, 1000, 100, now.Add(time.Duration(i)*time.Minute))
	}

	state := a.Refresh(2.0)
	assert.Less(t, state.ImpliedVolatility, regimeLowMax)
	assert.Equal(t, RegimeLow, state.Regime)
}

func TestChoppyPricesRaiseRegime(t *testing.T) {
	a := NewAnalyzer()
	now := time.Now().UTC()
	prices := []float64{0.50, 0.70, 0.40, 0.75, 0.35, 0.80, 0.30, 0.78, 0.33, 0.81, 0.29, 0.77}
	for i, p := range prices {
		a.ObserveBook(p, 1000, 100, now.Add(time.Duration(i)*time.Minute))
	}

	state := a.Refresh(2.0)
	assert.NotEqual(t, RegimeLow, state.Regime)
	assert.LessOrEqual(t, state.ImpliedVolatility, 1.0)
}

func TestStateReadWithoutWaiting(t *testing.T) {
	a := NewAnalyzer()
	// Before any refresh the consumer still gets a usable snapshot.
	state := a.State()
	assert.Equal(t, RegimeLow, state.Regime)
	assert.Greater(t, state.ImpliedVolatility, 0.0)
}

func TestWindowEviction(t *testing.T) {
	a := NewAnalyzer()
	now := time.Now().UTC()
	a.ObserveBook(0.50, 1000, 100, now.Add(-time.Hour))
	a.ObserveBook(0.51, 1000, 100, now)

	a.mu.RLock()
	n := len(a.samples)
	a.mu.RUnlock()
	assert.Equal(t, 1, n) // the hour-old sample fell out of the window
}

func TestAdaptationNeutralWithoutHistory(t *testing.T) {
	a := NewAnalyzer()
	assert.Equal(t, 0.5, a.AnalyzeAdaptation("0xnobody"))
}

func TestAdaptationRewardsStressResilience(t *testing.T) {
	a := NewAnalyzer()

	// Resilient: keeps win rate, shrinks size under stress.
	a.RecordWalletPerformance("0xgood", RegimeLow, 0.65, 100, 4, 0.2)
	a.RecordWalletPerformance("0xgood", RegimeHigh, 0.63, 60, 4, 0.1)

	// Fragile: collapses under stress, sizes up.
	a.RecordWalletPerformance("0xbad", RegimeLow, 0.65, 100, 4, 0.2)
	a.RecordWalletPerformance("0xbad", RegimeHigh, 0.30, 250, 12, 0.9)

	good := a.AnalyzeAdaptation("0xgood")
	bad := a.AnalyzeAdaptation("0xbad")
	assert.Greater(t, good, bad)
	assert.Greater(t, good, 0.7)
}

func TestPredictTransitionUpward(t *testing.T) {
	a := NewAnalyzer()
	a.mu.Lock()
	a.volHist = []float64{0.30, 0.32, 0.40, 0.45}
	a.state.Regime = RegimeMedium
	a.mu.Unlock()

	next, changed := a.PredictTransition()
	assert.True(t, changed)
	assert.Equal(t, RegimeHigh, next)
}

func TestPredictTransitionDownward(t *testing.T) {
	a := NewAnalyzer()
	a.mu.Lock()
	a.volHist = []float64{0.70, 0.68, 0.55, 0.50}
	a.state.Regime = RegimeHigh
	a.mu.Unlock()

	next, changed := a.PredictTransition()
	assert.True(t, changed)
	assert.Equal(t, RegimeMedium, next)
}

func TestPredictTransitionStable(t *testing.T) {
	a := NewAnalyzer()
	a.mu.Lock()
	a.volHist = []float64{0.40, 0.41, 0.40, 0.42}
	a.state.Regime = RegimeMedium
	a.mu.Unlock()

	_, changed := a.PredictTransition()
	assert.False(t, changed)
}
