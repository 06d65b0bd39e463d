package quality

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/web3guy0/copybot/cache"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WALLET QUALITY SCORER - Composite 0-10 quality score per wallet
// ═══════════════════════════════════════════════════════════════════════════════
//
// Scoring pipeline:
// 1. Market-maker identity test (hard disqualifier)
// 2. Component scores, each normalized to [0,10]
// 3. Fixed-weight sum: pf 0.30, drawdown 0.25, domain 0.20,
//    win-rate consistency 0.15, sizing consistency 0.10
// 4. Tier from the raw weighted sum
//
// Statistical failures degrade to a neutral midpoint, never the whole score.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Tier partitions the total score.
type Tier string

const (
	TierElite  Tier = "ELITE"  // >= 9
	TierExpert Tier = "EXPERT" // >= 7
	TierGood   Tier = "GOOD"   // >= 5
	TierPoor   Tier = "POOR"   // < 5
)

// TierOf derives the tier partition from a 0-10 score.
func TierOf(score float64) Tier {
	switch {
	case score >= 9:
		return TierElite
	case score >= 7:
		return TierExpert
	case score >= 5:
		return TierGood
	default:
		return TierPoor
	}
}

// Fixed component weights. Must sum to 1.0.
const (
	weightProfitFactor = 0.30
	weightDrawdown     = 0.25
	weightDomain       = 0.20
	weightWinRateCons  = 0.15
	weightSizingCons   = 0.10
)

// Market-maker identity test thresholds. All four must hold (strict
// comparisons / inclusive range as written).
const (
	mmMinTradeCount    = 500
	mmMaxHoldTime      = 3600 * time.Second
	mmWinRateLow       = 0.45
	mmWinRateHigh      = 0.55
	mmMaxProfitPerTrad = 0.01
)

const (
	neutralComponent = 5.0
	scoreCacheTTL    = time.Hour
	winRateWindows   = 10
)

// DomainExpertise describes a wallet's category specialization.
type DomainExpertise struct {
	PrimaryDomain  string
	Specialization float64 // [0,1] = top-category share of all trades
	DomainWinRate  float64
	DomainROI      float64
	TradesInDomain int
}

// RiskMetrics are the statistical risk numbers attached to a score.
type RiskMetrics struct {
	Volatility  float64
	MaxDrawdown float64
	Sharpe      float64
	Sortino     float64
	Calmar      float64
	TailRisk    float64
}

// QualityScore is the scorer output. Tier is derived at creation and
// never mutated; a refresh produces a new score.
type QualityScore struct {
	Wallet          string
	TotalScore      float64
	Performance     float64
	Risk            float64
	Consistency     float64
	DomainExpertise DomainExpertise
	RiskMetrics     RiskMetrics
	IsMarketMaker   bool
	RedFlags        []RedFlag
	Tier            Tier
	AdjustReasons   []string
	LastUpdated     time.Time
}

// Scorer computes and caches wallet quality scores.
type Scorer struct {
	cache *cache.BoundedCache[*QualityScore]
}

// NewScorer creates a scorer with a 1h score cache.
func NewScorer(maxWallets int) *Scorer {
	return &Scorer{
		cache: cache.New[*QualityScore](maxWallets, scoreCacheTTL),
	}
}

// Score computes the quality score for a wallet. Idempotent within the
// cache TTL. Returns nil only when the input is structurally invalid.
func (s *Scorer) Score(wallet string, data *types.WalletData) *QualityScore {
	if data == nil || wallet == "" {
		return nil
	}
	wallet = types.NormalizeAddress(wallet)

	if cached, ok := s.cache.Get(wallet); ok {
		return cached
	}

	score := s.compute(wallet, data)
	s.cache.Set(wallet, score)
	return score
}

// Cleanup drops expired cached scores.
func (s *Scorer) Cleanup() int { return s.cache.Cleanup() }

func (s *Scorer) compute(wallet string, data *types.WalletData) *QualityScore {
	qs := &QualityScore{
		Wallet:      wallet,
		RiskMetrics: riskMetrics(data),
		LastUpdated: time.Now().UTC(),
	}

	// Market-maker test disqualifies regardless of other metrics.
	if IsMarketMaker(data) {
		qs.IsMarketMaker = true
		qs.TotalScore = 0.5
		qs.Tier = TierPoor
		qs.DomainExpertise = domainExpertise(data)
		log.Debug().Str("wallet", wallet).Msg("Market maker pattern - scored poor")
		return qs
	}

	pfScore := clip((data.ProfitFactor-0.5)/9.5*10, 0, 10)
	ddScore := clip(10-20*data.MaxDrawdown, 0, 10)

	qs.DomainExpertise = domainExpertise(data)
	domainScore := qs.DomainExpertise.Specialization * 10

	wrScore, wrReason := winRateConsistency(data)
	if wrReason != "" {
		qs.AdjustReasons = append(qs.AdjustReasons, wrReason)
	}
	szScore, szReason := sizingConsistency(data)
	if szReason != "" {
		qs.AdjustReasons = append(qs.AdjustReasons, szReason)
	}

	qs.Performance = pfScore
	qs.Risk = ddScore
	qs.Consistency = (wrScore + szScore) / 2

	qs.TotalScore = pfScore*weightProfitFactor +
		ddScore*weightDrawdown +
		domainScore*weightDomain +
		wrScore*weightWinRateCons +
		szScore*weightSizingCons
	qs.Tier = TierOf(qs.TotalScore)

	log.Debug().
		Str("wallet", wallet).
		Float64("total", qs.TotalScore).
		Str("tier", string(qs.Tier)).
		Float64("pf", pfScore).
		Float64("dd", ddScore).
		Float64("domain", domainScore).
		Msg("Wallet scored")

	return qs
}

// IsMarketMaker applies the four-clause identity test. A wallet with
// exactly 500 trades, 3600s hold, 0.50 win rate and 1% ppt is NOT a
// market maker: count and hold are strict, ppt is strict.
func IsMarketMaker(data *types.WalletData) bool {
	return data.TradeCount > mmMinTradeCount &&
		data.AvgHoldTime < mmMaxHoldTime &&
		data.WinRate >= mmWinRateLow && data.WinRate <= mmWinRateHigh &&
		data.ProfitPerTrade < mmMaxProfitPerTrad
}

// domainExpertise finds the primary category and specialization share.
func domainExpertise(data *types.WalletData) DomainExpertise {
	de := DomainExpertise{PrimaryDomain: "General"}
	total := data.TotalCategoryTrades()
	if total == 0 {
		return de
	}

	top, topCount := "", 0
	for cat, n := range data.CategoryCounts {
		if n > topCount || (n == topCount && cat < top) {
			top, topCount = cat, n
		}
	}

	de.PrimaryDomain = top
	de.Specialization = float64(topCount) / float64(total)
	de.TradesInDomain = topCount

	wins, resolved := 0, 0
	roi := 0.0
	for _, t := range data.Trades {
		if t.Category != top || !t.Resolved {
			continue
		}
		resolved++
		if t.Won {
			wins++
		}
		if amt, _ := t.Amount.Float64(); amt > 0 {
			pnl, _ := t.PnL.Float64()
			roi += pnl / amt
		}
	}
	if resolved > 0 {
		de.DomainWinRate = float64(wins) / float64(resolved)
		de.DomainROI = roi / float64(resolved)
	}
	return de
}

// winRateConsistency scores 1 - stdev/mean of windowed win rates, on [0,10].
func winRateConsistency(data *types.WalletData) (float64, string) {
	resolved := make([]types.TradeSample, 0, len(data.Trades))
	for _, t := range data.Trades {
		if t.Resolved {
			resolved = append(resolved, t)
		}
	}
	if len(resolved) < winRateWindows*2 {
		return neutralComponent, "win-rate consistency: insufficient history"
	}

	windowSize := len(resolved) / winRateWindows
	rates := make([]float64, 0, winRateWindows)
	for i := 0; i+windowSize <= len(resolved); i += windowSize {
		wins := 0
		for _, t := range resolved[i : i+windowSize] {
			if t.Won {
				wins++
			}
		}
		rates = append(rates, float64(wins)/float64(windowSize))
	}

	mean := stat.Mean(rates, nil)
	if mean == 0 {
		return neutralComponent, "win-rate consistency: zero mean win rate"
	}
	sd := stat.StdDev(rates, nil)
	if math.IsNaN(sd) {
		return neutralComponent, "win-rate consistency: degenerate series"
	}
	return clip(1-sd/mean, 0, 1) * 10, ""
}

// sizingConsistency scores clip(1 - stdev/mean of position sizes, 0, 1) * 10.
func sizingConsistency(data *types.WalletData) (float64, string) {
	if len(data.Trades) < 2 {
		return neutralComponent, "sizing consistency: insufficient history"
	}
	sizes := make([]float64, 0, len(data.Trades))
	for _, t := range data.Trades {
		f, _ := t.Amount.Float64()
		sizes = append(sizes, f)
	}

	mean := stat.Mean(sizes, nil)
	if mean == 0 {
		return neutralComponent, "sizing consistency: zero mean size"
	}
	sd := stat.StdDev(sizes, nil)
	if math.IsNaN(sd) {
		return neutralComponent, "sizing consistency: degenerate series"
	}
	return clip(1-sd/mean, 0, 1) * 10, ""
}

// riskMetrics derives the statistical risk block from the snapshot and
// resolved trade returns.
func riskMetrics(data *types.WalletData) RiskMetrics {
	rm := RiskMetrics{
		Volatility:  data.Volatility,
		MaxDrawdown: data.MaxDrawdown,
		Sharpe:      data.SharpeRatio,
	}

	returns := make([]float64, 0, len(data.Trades))
	for _, t := range data.Trades {
		if !t.Resolved {
			continue
		}
		if amt, _ := t.Amount.Float64(); amt > 0 {
			pnl, _ := t.PnL.Float64()
			returns = append(returns, pnl/amt)
		}
	}
	if len(returns) < 2 {
		return rm
	}

	mean := stat.Mean(returns, nil)

	// Sortino: downside deviation only.
	downside := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) >= 2 {
		dd := stat.StdDev(downside, nil)
		if dd > 0 {
			rm.Sortino = mean / dd
		}
	}

	// Calmar: annualized-ish return over max drawdown.
	if data.MaxDrawdown > 0 {
		rm.Calmar = data.ROI30d / data.MaxDrawdown
	}

	// Tail risk: 5th-percentile loss magnitude.
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	idx := len(sorted) / 20
	rm.TailRisk = math.Abs(sorted[idx])

	return rm
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
