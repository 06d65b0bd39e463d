package quality

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/audit"
	"github.com/web3guy0/copybot/cache"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RED FLAG DETECTOR - Disqualification and manual-review routing
// ═══════════════════════════════════════════════════════════════════════════════
//
// Auto-exclusion requires confidence >= 0.85 AND at least one Critical flag.
// Three or more Medium flags route to manual review instead.
// Every decision lands in the append-only audit trail.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Severity of a red flag.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// FlagType enumerates the catalog.
type FlagType string

const (
	FlagMarketMaker          FlagType = "MARKET_MAKER"
	FlagWashTrading          FlagType = "WASH_TRADING"
	FlagInsiderCluster       FlagType = "INSIDER_CLUSTER_TRADING"
	FlagNewWalletLargeBet    FlagType = "NEW_WALLET_LARGE_BET"
	FlagNegativeProfitFactor FlagType = "NEGATIVE_PROFIT_FACTOR"
	FlagExcessiveDrawdown    FlagType = "EXCESSIVE_DRAWDOWN"
	FlagSuicidalPattern      FlagType = "SUICIDAL_PATTERN"
	FlagWinRateDecline       FlagType = "WIN_RATE_DECLINE"
	FlagPositionSizeSpike    FlagType = "POSITION_SIZE_SPIKE"
	FlagCategoryHopping      FlagType = "CATEGORY_HOPPING"
	FlagLowWinRate           FlagType = "LOW_WIN_RATE"
	FlagNoSpecialization     FlagType = "NO_SPECIALIZATION"
	FlagUnusualVolume        FlagType = "UNUSUAL_VOLUME_PATTERN"
)

// RedFlag is one detected disqualification signal.
type RedFlag struct {
	Type          FlagType
	Severity      Severity
	Description   string
	Confidence    float64
	Evidence      map[string]any
	DetectionTime time.Time
	ExpiryTime    time.Time // zero = never expires
	Recommended   string
}

// ExclusionResult is the detector decision for one wallet.
type ExclusionResult struct {
	Wallet          string
	IsExcluded      bool
	ExclusionReason string
	Flags           []RedFlag
	FlagsBySeverity map[Severity]int
	ConfidenceScore float64
	ManualReview    bool
	AuditTrail      []string
	DecidedAt       time.Time
}

// WashParams is the wash-trading scan configuration.
type WashParams struct {
	// Score at or above which the WashTrading flag fires.
	ScoreThreshold float64

	MinGap       time.Duration // round-trip lower bound (60s)
	MaxGap       time.Duration // round-trip upper bound (300s)
	Lookahead    int           // trades scanned forward (10)
	AmountJitter float64       // identical-amount tolerance (0.1%)
}

// DefaultWashParams returns the documented defaults.
func DefaultWashParams() WashParams {
	return WashParams{
		ScoreThreshold: 0.5,
		MinGap:         60 * time.Second,
		MaxGap:         300 * time.Second,
		Lookahead:      10,
		AmountJitter:   0.001,
	}
}

// ClusterObservation records another wallet trading the same outcome;
// fed by an external cluster source.
type ClusterObservation struct {
	MarketID string
	Side     types.Side
	Wallets  []string
	Window   time.Duration
}

// Detector evaluates wallets against the flag catalog.
type Detector struct {
	wash    WashParams
	cache   *cache.BoundedCache[*ExclusionResult]
	auditor *audit.Logger

	// Cluster memberships observed externally, keyed by wallet.
	clusters *cache.BoundedCache[[]ClusterObservation]
}

// NewDetector creates a detector with a 1h decision cache.
func NewDetector(wash WashParams, auditor *audit.Logger) *Detector {
	return &Detector{
		wash:     wash,
		cache:    cache.New[*ExclusionResult](10000, time.Hour),
		auditor:  auditor,
		clusters: cache.New[[]ClusterObservation](10000, time.Hour),
	}
}

// ObserveCluster records a same-direction trading cluster for later checks.
func (d *Detector) ObserveCluster(obs ClusterObservation) {
	for _, w := range obs.Wallets {
		w = types.NormalizeAddress(w)
		existing, _ := d.clusters.Get(w)
		d.clusters.Set(w, append(existing, obs))
	}
}

// Cleanup drops expired cached decisions.
func (d *Detector) Cleanup() int { return d.cache.Cleanup() + d.clusters.Cleanup() }

// Detect evaluates the wallet. Decisions are cached for up to an hour.
func (d *Detector) Detect(wallet string, data *types.WalletData) *ExclusionResult {
	wallet = types.NormalizeAddress(wallet)
	if cached, ok := d.cache.Get(wallet); ok {
		return cached
	}

	res := &ExclusionResult{
		Wallet:          wallet,
		FlagsBySeverity: make(map[Severity]int),
		DecidedAt:       time.Now().UTC(),
	}

	res.addFlags(d.catalogFlags(wallet, data)...)
	res.ConfidenceScore = confidence(res.Flags, data.TradeCount)

	criticals := res.FlagsBySeverity[SeverityCritical]
	mediums := res.FlagsBySeverity[SeverityMedium]

	switch {
	case res.ConfidenceScore >= 0.85 && criticals > 0:
		res.IsExcluded = true
		res.ExclusionReason = fmt.Sprintf("%d critical flag(s), confidence %.2f",
			criticals, res.ConfidenceScore)
	case mediums >= 3:
		res.ManualReview = true
	}

	res.audit("decision", map[string]any{
		"excluded":      res.IsExcluded,
		"manual_review": res.ManualReview,
		"confidence":    res.ConfidenceScore,
		"flags":         len(res.Flags),
	})
	if d.auditor != nil {
		d.auditor.Append(wallet, "exclusion_decision", map[string]any{
			"excluded":      res.IsExcluded,
			"reason":        res.ExclusionReason,
			"manual_review": res.ManualReview,
			"confidence":    res.ConfidenceScore,
			"criticals":     criticals,
			"mediums":       mediums,
		})
	}

	if res.IsExcluded {
		log.Warn().
			Str("wallet", wallet).
			Str("reason", res.ExclusionReason).
			Msg("🚫 Wallet excluded")
	}

	d.cache.Set(wallet, res)
	return res
}

func (r *ExclusionResult) addFlags(flags ...RedFlag) {
	for _, f := range flags {
		r.Flags = append(r.Flags, f)
		r.FlagsBySeverity[f.Severity]++
		r.audit("flag", map[string]any{"type": f.Type, "severity": f.Severity})
	}
}

func (r *ExclusionResult) audit(action string, details map[string]any) {
	r.AuditTrail = append(r.AuditTrail,
		fmt.Sprintf("%s %s %v", time.Now().UTC().Format(time.RFC3339), action, details))
}

// catalogFlags runs every detector in the catalog.
func (d *Detector) catalogFlags(wallet string, data *types.WalletData) []RedFlag {
	now := time.Now().UTC()
	var flags []RedFlag

	flag := func(t FlagType, sev Severity, conf float64, desc, action string, ev map[string]any) {
		flags = append(flags, RedFlag{
			Type: t, Severity: sev, Confidence: conf,
			Description: desc, Recommended: action,
			Evidence: ev, DetectionTime: now,
		})
	}

	// ── Critical ──────────────────────────────────────────────────────────

	if IsMarketMaker(data) {
		flag(FlagMarketMaker, SeverityCritical, 0.95,
			"four-clause market-maker pattern", "exclude",
			map[string]any{"trades": data.TradeCount, "win_rate": data.WinRate})
	}

	if ws := d.WashScore(data.Trades, wallet); ws.Score >= d.wash.ScoreThreshold {
		flag(FlagWashTrading, SeverityCritical, 0.9,
			fmt.Sprintf("wash score %.2f >= %.2f", ws.Score, d.wash.ScoreThreshold),
			"exclude",
			map[string]any{
				"score":            ws.Score,
				"round_trips":      ws.RoundTrips,
				"identical_amount": ws.IdenticalAmounts,
				"self_tx":          ws.SelfTx,
			})
	}

	if obs, ok := d.clusters.Get(wallet); ok {
		for _, o := range obs {
			if len(o.Wallets) >= 5 && o.Window <= time.Hour {
				flag(FlagInsiderCluster, SeverityCritical, 0.85,
					fmt.Sprintf("cluster of %d wallets on %s", len(o.Wallets), o.MarketID),
					"exclude",
					map[string]any{"market": o.MarketID, "cluster_size": len(o.Wallets)})
				break
			}
		}
	}

	age := now.Sub(data.CreatedAt)
	if age < 7*24*time.Hour && data.MaxPositionSize.GreaterThan(decimal.NewFromInt(1000)) {
		flag(FlagNewWalletLargeBet, SeverityCritical, 0.9,
			fmt.Sprintf("wallet %.1f days old with max bet $%s",
				age.Hours()/24, data.MaxPositionSize.StringFixed(0)),
			"exclude",
			map[string]any{"age_days": age.Hours() / 24, "max_bet": data.MaxPositionSize.String()})
	}

	// ── High ──────────────────────────────────────────────────────────────

	if data.ProfitFactor < 1.0 {
		flag(FlagNegativeProfitFactor, SeverityHigh, 0.8,
			fmt.Sprintf("profit factor %.2f < 1.0", data.ProfitFactor), "monitor",
			map[string]any{"profit_factor": data.ProfitFactor})
	}

	if data.MaxDrawdown > 0.35 {
		flag(FlagExcessiveDrawdown, SeverityHigh, 0.8,
			fmt.Sprintf("max drawdown %.0f%% > 35%%", data.MaxDrawdown*100), "monitor",
			map[string]any{"max_drawdown": data.MaxDrawdown})
	}

	if suicidalPattern(data.Trades) {
		flag(FlagSuicidalPattern, SeverityHigh, 0.75,
			"position doubled after realized loss", "monitor", nil)
	}

	if recent, ok := rollingWinRate(data.Trades, 7*24*time.Hour, now); ok {
		if decline := data.WinRate - recent; decline > 0.15 {
			flag(FlagWinRateDecline, SeverityHigh, 0.7,
				fmt.Sprintf("win rate declined %.0f points vs 7d", decline*100), "monitor",
				map[string]any{"decline": decline})
		}
	}

	// ── Medium ────────────────────────────────────────────────────────────

	if !data.AvgPositionSize.IsZero() {
		ratio, _ := data.MaxPositionSize.Div(data.AvgPositionSize).Float64()
		recent, _ := rollingWinRate(data.Trades, 7*24*time.Hour, now)
		if ratio > 3 && recent > 0.6 {
			flag(FlagPositionSizeSpike, SeverityMedium, 0.6,
				fmt.Sprintf("max/avg position ratio %.1fx", ratio), "review",
				map[string]any{"ratio": ratio})
		}
	}

	if n := recentCategories(data.Trades, 7*24*time.Hour, now); n > 3 {
		flag(FlagCategoryHopping, SeverityMedium, 0.6,
			fmt.Sprintf("%d categories in last 7 days", n), "review",
			map[string]any{"categories": n})
	}

	if data.TradeCount >= 50 && data.WinRate < 0.60 {
		flag(FlagLowWinRate, SeverityMedium, 0.6,
			fmt.Sprintf("win rate %.0f%% over %d trades", data.WinRate*100, data.TradeCount),
			"review", map[string]any{"win_rate": data.WinRate})
	}

	if len(data.CategoryCounts) >= 5 {
		flag(FlagNoSpecialization, SeverityMedium, 0.55,
			fmt.Sprintf("%d distinct categories traded", len(data.CategoryCounts)), "review",
			map[string]any{"categories": len(data.CategoryCounts)})
	}

	// ── Low ───────────────────────────────────────────────────────────────

	if ratio, ok := volumeRatio(data.Trades, now); ok && (ratio > 3 || ratio < 0.1) {
		flags = append(flags, RedFlag{
			Type: FlagUnusualVolume, Severity: SeverityLow, Confidence: 0.5,
			Description:   fmt.Sprintf("today/avg daily volume ratio %.2f", ratio),
			Recommended:   "observe",
			Evidence:      map[string]any{"ratio": ratio},
			DetectionTime: now,
			ExpiryTime:    now.Add(24 * time.Hour),
		})
	}

	return flags
}

// WashResult carries the wash-trading counters and composite score.
type WashResult struct {
	Score            float64
	RoundTrips       int
	IdenticalAmounts int
	SelfTx           int
	TradesScanned    int
}

// WashScore runs the forward-window round-trip scan.
//
// For each trade, up to Lookahead later trades are checked for an
// opposite-side trade on the same market 60-300s later. Matching amounts
// within 0.1% and self-counterparties increment their own counters.
func (d *Detector) WashScore(trades []types.TradeSample, wallet string) WashResult {
	res := WashResult{TradesScanned: len(trades)}
	if len(trades) < 2 {
		return res
	}

	sorted := append([]types.TradeSample(nil), trades...)
	sortTradesByTime(sorted)

	// Each trade participates in at most one round trip.
	consumed := make([]bool, len(sorted))

	for i := range sorted {
		if consumed[i] {
			continue
		}
		limit := i + d.wash.Lookahead
		if limit > len(sorted)-1 {
			limit = len(sorted) - 1
		}
		for j := i + 1; j <= limit; j++ {
			if consumed[j] {
				continue
			}
			gap := sorted[j].Timestamp.Sub(sorted[i].Timestamp)
			if gap < d.wash.MinGap || gap > d.wash.MaxGap {
				continue
			}
			if sorted[j].MarketID != sorted[i].MarketID || sorted[j].Side == sorted[i].Side {
				continue
			}

			consumed[j] = true
			res.RoundTrips++

			if !sorted[i].Amount.IsZero() {
				diff := sorted[j].Amount.Sub(sorted[i].Amount).Abs()
				tolerance := sorted[i].Amount.Mul(decimal.NewFromFloat(d.wash.AmountJitter))
				if diff.LessThanOrEqual(tolerance) {
					res.IdenticalAmounts++
				}
			}
			if sorted[j].Counterparty != "" && sorted[j].Counterparty == wallet {
				res.SelfTx++
			}
			break
		}
	}

	n := float64(len(sorted))
	res.Score = 0.4*(float64(res.RoundTrips)/n) +
		0.3*(float64(res.IdenticalAmounts)/n) +
		0.3*(float64(res.SelfTx)/n)
	// Normalize against pairable trades: every round trip consumes two.
	res.Score *= 2
	if res.Score > 1 {
		res.Score = 1
	}
	return res
}

// confidence in the decision: base 0.7, 0.2 per critical, 0.1 per high,
// 0.05 per medium, +0.1 if >=100 trades, -0.1 if <50. Clipped to [0,1].
// Each flag moves the decision toward certainty; sample size scales it.
func confidence(flags []RedFlag, tradeCount int) float64 {
	c := 0.7
	for _, f := range flags {
		switch f.Severity {
		case SeverityCritical:
			c += 0.2
		case SeverityHigh:
			c += 0.1
		case SeverityMedium:
			c += 0.05
		}
	}
	if tradeCount >= 100 {
		c += 0.1
	} else if tradeCount < 50 {
		c -= 0.1
	}
	return clip(c, 0, 1)
}

// suicidalPattern reports a position >= 2x the prior one right after a
// realized loss.
func suicidalPattern(trades []types.TradeSample) bool {
	for i := 1; i < len(trades); i++ {
		prev := trades[i-1]
		if !prev.Resolved || prev.Won || prev.Amount.IsZero() {
			continue
		}
		if trades[i].Amount.GreaterThanOrEqual(prev.Amount.Mul(decimal.NewFromInt(2))) {
			return true
		}
	}
	return false
}

func rollingWinRate(trades []types.TradeSample, window time.Duration, now time.Time) (float64, bool) {
	wins, total := 0, 0
	cutoff := now.Add(-window)
	for _, t := range trades {
		if !t.Resolved || t.Timestamp.Before(cutoff) {
			continue
		}
		total++
		if t.Won {
			wins++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(wins) / float64(total), true
}

func recentCategories(trades []types.TradeSample, window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	cats := make(map[string]struct{})
	for _, t := range trades {
		if t.Timestamp.Before(cutoff) || t.Category == "" {
			continue
		}
		cats[t.Category] = struct{}{}
	}
	return len(cats)
}

// volumeRatio compares today's volume to the average daily volume.
func volumeRatio(trades []types.TradeSample, now time.Time) (float64, bool) {
	if len(trades) == 0 {
		return 0, false
	}
	byDay := make(map[string]decimal.Decimal)
	for _, t := range trades {
		day := t.Timestamp.UTC().Format("2006-01-02")
		byDay[day] = byDay[day].Add(t.Amount)
	}
	if len(byDay) < 2 {
		return 0, false
	}

	today := now.Format("2006-01-02")
	todayVol, ok := byDay[today]
	if !ok {
		return 0, false
	}

	total := decimal.Zero
	days := 0
	for day, vol := range byDay {
		if day == today {
			continue
		}
		total = total.Add(vol)
		days++
	}
	avg := total.Div(decimal.NewFromInt(int64(days)))
	if avg.IsZero() {
		return 0, false
	}
	ratio, _ := todayVol.Div(avg).Float64()
	return ratio, true
}

func sortTradesByTime(trades []types.TradeSample) {
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
}
