package quality

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/cache"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COMPOSITE SCORING ENGINE - Quality × decay × domain bonus − penalties
// ═══════════════════════════════════════════════════════════════════════════════
//
// composite = clip(weighted_sum × domainBonus × timeDecay − redFlagPenalty, 0, 10)
//
// Risk profile is derived from the composite, then overridden by market
// regime (High/Extreme forces Conservative) and by an active global
// circuit breaker (forces SystemStress).
//
// ═══════════════════════════════════════════════════════════════════════════════

// RiskProfile is the stance assigned to a wallet's copy trades.
type RiskProfile string

const (
	ProfileConservative RiskProfile = "CONSERVATIVE"
	ProfileModerate     RiskProfile = "MODERATE"
	ProfileAggressive   RiskProfile = "AGGRESSIVE"
	ProfileSystemStress RiskProfile = "SYSTEM_STRESS"
)

// Red-flag penalties, capped at 10 total.
const (
	penaltyCritical = 5.0
	penaltyHigh     = 2.5
	penaltyMedium   = 1.0
	penaltyCap      = 10.0
)

// Time decay: full weight for 7 days, then -0.05/day, floored at 0.5.
const (
	decayGraceDays = 7
	decayPerDay    = 0.05
	decayFloor     = 0.5
)

// domainBonus multipliers by primary domain.
var domainBonus = map[string]float64{
	"Politics":  1.10,
	"Crypto":    1.10,
	"Sports":    1.10,
	"Economics": 1.05,
	"Science":   1.05,
	"General":   1.00,
}

// CompositeScore is the engine output.
type CompositeScore struct {
	Wallet          string
	Composite       float64
	ComponentScores map[string]float64
	RiskProfile     RiskProfile
	TimeDecayFactor float64
	Confidence      float64
	AdjustReasons   []string
	LastUpdated     time.Time
}

// RebalanceCheck is the portfolio concentration verdict.
type RebalanceCheck struct {
	Recommended      bool
	Reason           string
	MaxConcentration float64
	TotalExposure    decimal.Decimal
}

// SystemStressFn reports whether a global circuit breaker is active.
type SystemStressFn func() bool

// Engine combines scorer output with red flags, decay and bonuses.
type Engine struct {
	scorer   *Scorer
	detector *Detector
	analyzer *Analyzer
	stressed SystemStressFn

	maxExposure decimal.Decimal // portfolio exposure ceiling for rebalance checks
	cache       *cache.BoundedCache[*CompositeScore]
}

// NewEngine wires the composite engine. stressed may be nil (never stressed).
func NewEngine(scorer *Scorer, detector *Detector, analyzer *Analyzer, maxExposure decimal.Decimal, stressed SystemStressFn) *Engine {
	if stressed == nil {
		stressed = func() bool { return false }
	}
	return &Engine{
		scorer:      scorer,
		detector:    detector,
		analyzer:    analyzer,
		stressed:    stressed,
		maxExposure: maxExposure,
		cache:       cache.New[*CompositeScore](10000, time.Hour),
	}
}

// Cleanup drops expired cached composites.
func (e *Engine) Cleanup() int { return e.cache.Cleanup() }

// Invalidate drops one wallet's cached composite, forcing a recompute.
func (e *Engine) Invalidate(wallet string) {
	e.cache.Delete(types.NormalizeAddress(wallet))
}

// Compose scores a wallet end to end: quality score, red flags, decay,
// domain bonus and the regime/stress overrides. Returns nil on invalid input.
func (e *Engine) Compose(wallet string, data *types.WalletData) *CompositeScore {
	wallet = types.NormalizeAddress(wallet)
	if cached, ok := e.cache.Get(wallet); ok {
		return cached
	}

	qs := e.scorer.Score(wallet, data)
	if qs == nil {
		return nil
	}
	excl := e.detector.Detect(wallet, data)

	cs := &CompositeScore{
		Wallet:      wallet,
		Confidence:  excl.ConfidenceScore,
		LastUpdated: time.Now().UTC(),
		ComponentScores: map[string]float64{
			"quality":     qs.TotalScore,
			"performance": qs.Performance,
			"risk":        qs.Risk,
			"consistency": qs.Consistency,
		},
		AdjustReasons: append([]string(nil), qs.AdjustReasons...),
	}

	bonus := domainBonus[qs.DomainExpertise.PrimaryDomain]
	if bonus == 0 {
		bonus = 1.0
	}
	if bonus != 1.0 {
		cs.AdjustReasons = append(cs.AdjustReasons,
			fmt.Sprintf("domain bonus %.2f (%s)", bonus, qs.DomainExpertise.PrimaryDomain))
	}

	cs.TimeDecayFactor = timeDecay(lastActivity(data), time.Now().UTC())
	if cs.TimeDecayFactor < 1.0 {
		cs.AdjustReasons = append(cs.AdjustReasons,
			fmt.Sprintf("time decay %.2f", cs.TimeDecayFactor))
	}

	penalty := flagPenalty(excl.Flags)
	if penalty > 0 {
		cs.AdjustReasons = append(cs.AdjustReasons,
			fmt.Sprintf("red flag penalty %.1f", penalty))
	}
	cs.ComponentScores["penalty"] = penalty

	cs.Composite = clip(qs.TotalScore*bonus*cs.TimeDecayFactor-penalty, 0, 10)
	cs.RiskProfile = e.riskProfile(cs.Composite)

	log.Debug().
		Str("wallet", wallet).
		Float64("composite", cs.Composite).
		Str("profile", string(cs.RiskProfile)).
		Float64("penalty", penalty).
		Msg("Composite scored")

	e.cache.Set(wallet, cs)
	return cs
}

// riskProfile applies the assignment plus regime and stress overrides.
func (e *Engine) riskProfile(composite float64) RiskProfile {
	if e.stressed() {
		return ProfileSystemStress
	}
	if regime := e.analyzer.State().Regime; regime == RegimeHigh || regime == RegimeExtreme {
		return ProfileConservative
	}
	switch {
	case composite >= 7.0:
		return ProfileAggressive
	case composite >= 5.0:
		return ProfileModerate
	default:
		return ProfileConservative
	}
}

// CheckRebalance recommends rebalancing when a single wallet holds >= 40%
// of the portfolio or total exposure exceeds the configured ceiling.
func (e *Engine) CheckRebalance(exposureByWallet map[string]decimal.Decimal) RebalanceCheck {
	total := decimal.Zero
	maxShare := decimal.Zero
	maxWallet := ""
	for _, exp := range exposureByWallet {
		total = total.Add(exp)
	}
	if total.IsPositive() {
		for w, exp := range exposureByWallet {
			share := exp.Div(total)
			if share.GreaterThan(maxShare) {
				maxShare, maxWallet = share, w
			}
		}
	}

	check := RebalanceCheck{
		MaxConcentration: maxShare.InexactFloat64(),
		TotalExposure:    total,
	}
	switch {
	case maxShare.GreaterThanOrEqual(decimal.NewFromFloat(0.40)):
		check.Recommended = true
		check.Reason = fmt.Sprintf("wallet %s holds %s%% of portfolio",
			maxWallet, maxShare.Mul(decimal.NewFromInt(100)).StringFixed(1))
	case e.maxExposure.IsPositive() && total.GreaterThan(e.maxExposure):
		check.Recommended = true
		check.Reason = fmt.Sprintf("total exposure $%s exceeds max $%s",
			total.StringFixed(2), e.maxExposure.StringFixed(2))
	}
	return check
}

func flagPenalty(flags []RedFlag) float64 {
	p := 0.0
	for _, f := range flags {
		switch f.Severity {
		case SeverityCritical:
			p += penaltyCritical
		case SeverityHigh:
			p += penaltyHigh
		case SeverityMedium:
			p += penaltyMedium
		}
	}
	if p > penaltyCap {
		p = penaltyCap
	}
	return p
}

// timeDecay: 1.0 for the first 7 days since last activity, then
// 1.0 - 0.05 × (days − 7), floored at 0.5.
func timeDecay(lastActive, now time.Time) float64 {
	if lastActive.IsZero() {
		return 1.0
	}
	days := now.Sub(lastActive).Hours() / 24
	if days <= decayGraceDays {
		return 1.0
	}
	return clip(1.0-decayPerDay*(days-decayGraceDays), decayFloor, 1.0)
}

func lastActivity(data *types.WalletData) time.Time {
	var last time.Time
	for _, t := range data.Trades {
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
	}
	return last
}
