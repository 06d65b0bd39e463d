package quality

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET CONDITION ANALYZER - Regime detection and wallet adaptation scoring
// ═══════════════════════════════════════════════════════════════════════════════
//
// Implied volatility = sample stdev of log returns over a rolling 30-minute
// window of order-book observations. Consumers read the latest state without
// waiting; the orchestrator refreshes it on a 5-minute cadence.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Regime buckets market volatility.
type Regime string

const (
	RegimeLow     Regime = "LOW"
	RegimeMedium  Regime = "MEDIUM"
	RegimeHigh    Regime = "HIGH"
	RegimeExtreme Regime = "EXTREME"
)

// Regime thresholds on implied volatility.
const (
	regimeLowMax    = 0.30
	regimeMediumMax = 0.60
	regimeHighMax   = 0.90
)

// RegimeOf buckets a volatility level.
func RegimeOf(vol float64) Regime {
	switch {
	case vol < regimeLowMax:
		return RegimeLow
	case vol < regimeMediumMax:
		return RegimeMedium
	case vol < regimeHighMax:
		return RegimeHigh
	default:
		return RegimeExtreme
	}
}

// MarketState is the snapshot consumers read.
type MarketState struct {
	Timestamp            time.Time
	ImpliedVolatility    float64 // (0,1]
	Regime               Regime
	LiquidityScore       float64 // [0,1]
	CorrelationThreshold float64 // [0,1]
	HoursUntilClose      float64
	VolumeAnomalyScore   float64
}

// Adaptation-score weights.
const (
	adaptWeightWinRate     = 0.35
	adaptWeightSizing      = 0.25
	adaptWeightRecovery    = 0.20
	adaptWeightCorrelation = 0.20
)

const (
	volWindow       = 30 * time.Minute
	minVolSamples   = 10
	neutralImplVol  = 0.25
	trendDeltaMin   = 0.05
)

type bookSample struct {
	at       time.Time
	price    float64
	depth    float64
	volume   float64
}

// regimePerf is a wallet's performance snapshot within one regime.
type regimePerf struct {
	WinRate       float64
	AvgSize       float64
	RecoveryHours float64 // time to recover peak after a loss streak
	Correlation   float64 // correlation of wallet returns with the market
	Samples       int
}

// Analyzer computes market state and per-wallet regime adaptation.
type Analyzer struct {
	mu sync.RWMutex

	samples []bookSample
	state   MarketState
	volHist []float64 // recent implied-vol computations, oldest first

	// wallet -> regime -> snapshot
	walletPerf map[string]map[Regime]*regimePerf
}

// NewAnalyzer creates an analyzer with a neutral initial state.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		state: MarketState{
			Timestamp:            time.Now().UTC(),
			ImpliedVolatility:    neutralImplVol,
			Regime:               RegimeLow,
			LiquidityScore:       0.5,
			CorrelationThreshold: 0.7,
		},
		walletPerf: make(map[string]map[Regime]*regimePerf),
	}
}

// ObserveBook records one order-book observation.
func (a *Analyzer) ObserveBook(price, depth, volume float64, at time.Time) {
	if price <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = append(a.samples, bookSample{at: at, price: price, depth: depth, volume: volume})
	cutoff := at.Add(-volWindow)
	for len(a.samples) > 0 && a.samples[0].at.Before(cutoff) {
		a.samples = a.samples[1:]
	}
}

// Refresh recomputes the market state from the rolling window. Called on
// the 5-minute cadence.
func (a *Analyzer) Refresh(hoursUntilClose float64) MarketState {
	a.mu.Lock()
	defer a.mu.Unlock()

	vol := a.impliedVolLocked()
	a.volHist = append(a.volHist, vol)
	if len(a.volHist) > 24 {
		a.volHist = a.volHist[1:]
	}

	a.state = MarketState{
		Timestamp:            time.Now().UTC(),
		ImpliedVolatility:    vol,
		Regime:               RegimeOf(vol),
		LiquidityScore:       a.liquidityLocked(),
		CorrelationThreshold: correlationThresholdFor(RegimeOf(vol)),
		HoursUntilClose:      hoursUntilClose,
		VolumeAnomalyScore:   a.volumeAnomalyLocked(),
	}

	log.Debug().
		Float64("implied_vol", vol).
		Str("regime", string(a.state.Regime)).
		Float64("liquidity", a.state.LiquidityScore).
		Msg("Market state refreshed")

	return a.state
}

// State returns the most recent snapshot without waiting.
func (a *Analyzer) State() MarketState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// impliedVolLocked: sample stdev of log returns; neutral default below
// the minimum sample count.
func (a *Analyzer) impliedVolLocked() float64 {
	if len(a.samples) < minVolSamples {
		return neutralImplVol
	}
	returns := make([]float64, 0, len(a.samples)-1)
	for i := 1; i < len(a.samples); i++ {
		returns = append(returns, math.Log(a.samples[i].price/a.samples[i-1].price))
	}
	sd := stat.StdDev(returns, nil)
	if math.IsNaN(sd) {
		return neutralImplVol
	}
	// Scale to the (0,1] band the regime thresholds are calibrated for.
	vol := sd * math.Sqrt(float64(len(returns)))
	if vol <= 0 {
		vol = 0.01
	}
	if vol > 1 {
		vol = 1
	}
	return vol
}

func (a *Analyzer) liquidityLocked() float64 {
	if len(a.samples) == 0 {
		return 0.5
	}
	depth := 0.0
	for _, s := range a.samples {
		depth += s.depth
	}
	avg := depth / float64(len(a.samples))
	// 10k depth and up reads as fully liquid.
	return clip(avg/10000, 0, 1)
}

func (a *Analyzer) volumeAnomalyLocked() float64 {
	if len(a.samples) < 4 {
		return 0
	}
	vols := make([]float64, 0, len(a.samples))
	for _, s := range a.samples {
		vols = append(vols, s.volume)
	}
	mean := stat.Mean(vols, nil)
	if mean == 0 {
		return 0
	}
	latest := vols[len(vols)-1]
	return clip(math.Abs(latest-mean)/mean, 0, 1)
}

func correlationThresholdFor(r Regime) float64 {
	// Tighter correlation budget in stressed regimes.
	switch r {
	case RegimeHigh:
		return 0.5
	case RegimeExtreme:
		return 0.3
	default:
		return 0.7
	}
}

// RecordWalletPerformance folds one regime-indexed observation into the
// wallet's snapshot for that regime.
func (a *Analyzer) RecordWalletPerformance(wallet string, regime Regime, winRate, avgSize, recoveryHours, correlation float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	perRegime, ok := a.walletPerf[wallet]
	if !ok {
		perRegime = make(map[Regime]*regimePerf)
		a.walletPerf[wallet] = perRegime
	}
	p, ok := perRegime[regime]
	if !ok {
		p = &regimePerf{}
		perRegime[regime] = p
	}

	// Running mean per field.
	n := float64(p.Samples)
	p.WinRate = (p.WinRate*n + winRate) / (n + 1)
	p.AvgSize = (p.AvgSize*n + avgSize) / (n + 1)
	p.RecoveryHours = (p.RecoveryHours*n + recoveryHours) / (n + 1)
	p.Correlation = (p.Correlation*n + correlation) / (n + 1)
	p.Samples++
}

// AnalyzeAdaptation scores how well a wallet adapts across regimes, [0,1].
// Weights: win-rate differential 0.35, sizing response 0.25, recovery
// speed 0.20, correlation-breakdown resistance 0.20.
func (a *Analyzer) AnalyzeAdaptation(wallet string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	perRegime, ok := a.walletPerf[wallet]
	if !ok {
		return 0.5
	}
	calm, hasCalm := perRegime[RegimeLow]
	stressed := pickStressed(perRegime)
	if !hasCalm || stressed == nil {
		return 0.5
	}

	// Win-rate differential: holding the calm win rate under stress = 1.
	wrScore := 0.5
	if calm.WinRate > 0 {
		wrScore = clip(stressed.WinRate/calm.WinRate, 0, 1)
	}

	// Sizing response: reducing size in high volatility scores positive.
	szScore := 0.5
	if calm.AvgSize > 0 {
		szScore = clip(1-(stressed.AvgSize/calm.AvgSize-0.5), 0, 1)
	}

	// Recovery speed: faster recovery under stress is better.
	recScore := 0.5
	if stressed.RecoveryHours > 0 && calm.RecoveryHours > 0 {
		recScore = clip(calm.RecoveryHours/stressed.RecoveryHours, 0, 1)
	}

	// Correlation-breakdown resistance: low correlation under stress.
	corrScore := clip(1-math.Abs(stressed.Correlation), 0, 1)

	return wrScore*adaptWeightWinRate +
		szScore*adaptWeightSizing +
		recScore*adaptWeightRecovery +
		corrScore*adaptWeightCorrelation
}

func pickStressed(perRegime map[Regime]*regimePerf) *regimePerf {
	if p, ok := perRegime[RegimeExtreme]; ok {
		return p
	}
	if p, ok := perRegime[RegimeHigh]; ok {
		return p
	}
	if p, ok := perRegime[RegimeMedium]; ok {
		return p
	}
	return nil
}

// PredictTransition runs a simple trend test on recent volatility
// samples: if the second half's mean exceeds the first half's by more
// than 0.05 and the level is above the Low threshold, predict the
// next-higher regime; symmetric logic downward.
func (a *Analyzer) PredictTransition() (Regime, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.volHist) < 4 {
		return a.state.Regime, false
	}

	half := len(a.volHist) / 2
	first := stat.Mean(a.volHist[:half], nil)
	second := stat.Mean(a.volHist[half:], nil)
	current := a.volHist[len(a.volHist)-1]

	switch {
	case second-first > trendDeltaMin && current >= regimeLowMax:
		return nextRegimeUp(a.state.Regime), true
	case first-second > trendDeltaMin && a.state.Regime != RegimeLow:
		return nextRegimeDown(a.state.Regime), true
	}
	return a.state.Regime, false
}

func nextRegimeUp(r Regime) Regime {
	switch r {
	case RegimeLow:
		return RegimeMedium
	case RegimeMedium:
		return RegimeHigh
	default:
		return RegimeExtreme
	}
}

func nextRegimeDown(r Regime) Regime {
	switch r {
	case RegimeExtreme:
		return RegimeHigh
	case RegimeHigh:
		return RegimeMedium
	default:
		return RegimeLow
	}
}
