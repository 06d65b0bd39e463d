package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/audit"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY RISK MANAGER - Gatekeeper for all trades
// ═══════════════════════════════════════════════════════════════════════════════
//
// Responsibilities:
// 1. Per-strategy circuit breakers with independent state
// 2. Position size / portfolio exposure / correlation limits
// 3. Daily-loss accounting with UTC-midnight reset
// 4. Atomic state persistence across restarts
//
// ═══════════════════════════════════════════════════════════════════════════════

const defaultBreakerCooldown = time.Hour

// TradeRequest is what CheckAllowed evaluates.
type TradeRequest struct {
	MarketID string
	Amount   decimal.Decimal
	// Volatility is the external volatility reading (VIX-like, 0-100 scale).
	// Zero means no reading available.
	Volatility float64
}

// Allowance is the outcome of a CheckAllowed call. A blocked trade is a
// business-rule skip, not an error.
type Allowance struct {
	Allowed          bool
	Reason           string
	RemainingMinutes float64
	// AdjustedAmount carries the volatility-reduced size when the
	// adjustment applied; otherwise the requested amount.
	AdjustedAmount decimal.Decimal
}

type strategyState struct {
	mu      sync.Mutex
	profile Profile
	breaker BreakerState
}

// StrategyRiskManager owns independent circuit-breaker state per strategy.
// RecordResult and CheckAllowed for the same strategy are serialized by the
// strategy's own mutex; cross-strategy calls proceed in parallel.
type StrategyRiskManager struct {
	strategies map[types.Strategy]*strategyState

	// exposure bookkeeping, guarded separately from strategy locks
	posMu           sync.RWMutex
	activeMarkets   map[string]decimal.Decimal // marketID -> exposure
	correlations    map[string]float64         // sorted "a|b" pair -> correlation
	minPosition     decimal.Decimal
	breakerCooldown time.Duration

	// persistence-side snapshot of every breaker, guarded separately so a
	// persist never has to take another strategy's lock
	snapMu    sync.Mutex
	snapshots map[types.Strategy]BreakerState

	statePath string
	alerter   types.Alerter
	auditLog  *audit.Logger
}

// NewStrategyRiskManager builds the manager with the given profiles and
// restores persisted breaker state from statePath when present.
func NewStrategyRiskManager(profiles map[types.Strategy]Profile, statePath string, alerter types.Alerter, auditLog *audit.Logger) *StrategyRiskManager {
	now := time.Now()
	m := &StrategyRiskManager{
		strategies:      make(map[types.Strategy]*strategyState, len(profiles)),
		activeMarkets:   make(map[string]decimal.Decimal),
		correlations:    make(map[string]float64),
		snapshots:       make(map[types.Strategy]BreakerState),
		minPosition:     decimal.NewFromInt(1),
		breakerCooldown: defaultBreakerCooldown,
		statePath:       statePath,
		alerter:         alerter,
		auditLog:        auditLog,
	}
	for strat, prof := range profiles {
		m.strategies[strat] = &strategyState{
			profile: prof,
			breaker: newBreakerState(now),
		}
	}
	if statePath != "" {
		if err := m.loadState(); err != nil {
			log.Warn().Err(err).Str("path", statePath).Msg("⚠️ Risk state unreadable, starting from defaults")
		}
	}
	log.Info().
		Int("strategies", len(m.strategies)).
		Str("cooldown", m.breakerCooldown.String()).
		Msg("🛡️ Strategy risk manager initialized")
	return m
}

// CheckAllowed runs the admission checks in order and returns the first
// failure, or an allowance carrying the (possibly reduced) trade size.
func (m *StrategyRiskManager) CheckAllowed(strat types.Strategy, req TradeRequest) Allowance {
	st, ok := m.strategies[strat]
	if !ok {
		return Allowance{Reason: fmt.Sprintf("unknown strategy %s", strat)}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// 1. Strategy enabled
	if !st.profile.Enabled {
		return Allowance{Reason: fmt.Sprintf("strategy %s is disabled", strat)}
	}

	// 2. Circuit breaker with time-based reset after cooldown
	if st.breaker.Active {
		elapsed := time.Since(st.breaker.ActivationTime)
		if elapsed < m.breakerCooldown {
			remaining := (m.breakerCooldown - elapsed).Minutes()
			return Allowance{
				Reason:           fmt.Sprintf("circuit breaker active: %s", st.breaker.Reason),
				RemainingMinutes: remaining,
			}
		}
		st.breaker.reset(time.Now())
		m.persist(strat, st.breaker)
		log.Info().Str("strategy", string(strat)).Msg("🔄 Circuit breaker cooldown elapsed, breaker reset")
	}

	// 3. Position size ceiling
	if req.Amount.GreaterThan(st.profile.MaxPositionSize) {
		return Allowance{Reason: fmt.Sprintf(
			"trade $%s exceeds max position size $%s",
			req.Amount.StringFixed(2), st.profile.MaxPositionSize.StringFixed(2))}
	}

	// 4. Portfolio exposure ceiling
	exposure := m.TotalExposure()
	if exposure.Add(req.Amount).GreaterThan(st.profile.MaxPortfolioExposure) {
		return Allowance{Reason: fmt.Sprintf(
			"portfolio exposure $%s + $%s exceeds max $%s",
			exposure.StringFixed(2), req.Amount.StringFixed(2),
			st.profile.MaxPortfolioExposure.StringFixed(2))}
	}

	// 5. Correlation against every active position's market
	if over, other, corr := m.correlationBreach(req.MarketID, st.profile.MaxCorrelationThreshold); over {
		return Allowance{Reason: fmt.Sprintf(
			"correlation %.2f with active market %s exceeds %.2f",
			corr, other, st.profile.MaxCorrelationThreshold)}
	}

	// 6. Volatility adjustment
	amount := req.Amount
	if st.profile.VolatilityAdjustment && req.Volatility > 30 {
		scale := 1 - req.Volatility/100
		if scale < 0.5 {
			scale = 0.5
		}
		amount = amount.Mul(decimal.NewFromFloat(scale))
		if amount.LessThan(m.minPosition) {
			return Allowance{Reason: fmt.Sprintf(
				"volatility-reduced size $%s below minimum $%s",
				amount.StringFixed(2), m.minPosition.StringFixed(2))}
		}
	}

	return Allowance{Allowed: true, AdjustedAmount: amount}
}

// RecordResult updates the strategy's counters and trips the breaker when an
// activation condition is met. Loss amounts are passed as negative profit.
func (m *StrategyRiskManager) RecordResult(strat types.Strategy, success bool, profit decimal.Decimal) {
	st, ok := m.strategies[strat]
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	b := &st.breaker
	if success {
		b.SuccessfulTrades++
		b.ConsecutiveLosses = 0
		if profit.IsPositive() {
			b.TotalProfit = b.TotalProfit.Add(profit)
		}
	} else {
		b.FailedTrades++
		b.ConsecutiveLosses++
		if profit.IsNegative() {
			loss := profit.Neg()
			b.DailyLoss = b.DailyLoss.Add(loss)
			b.TotalLoss = b.TotalLoss.Add(loss)
		}
	}

	reason := ""
	switch {
	case b.DailyLoss.GreaterThanOrEqual(st.profile.MaxDailyLoss):
		reason = fmt.Sprintf("Daily loss limit reached ($%s / $%s)",
			b.DailyLoss.StringFixed(2), st.profile.MaxDailyLoss.StringFixed(2))
	case b.ConsecutiveLosses >= st.profile.MaxConsecutiveLosses:
		reason = fmt.Sprintf("Consecutive loss limit reached (%d / %d)",
			b.ConsecutiveLosses, st.profile.MaxConsecutiveLosses)
	case b.TotalTrades() >= 10 && b.FailureRate() >= st.profile.MaxFailureRate:
		reason = fmt.Sprintf("Failure rate limit reached (%.0f%% / %.0f%%)",
			b.FailureRate()*100, st.profile.MaxFailureRate*100)
	}

	if reason != "" && !b.Active {
		b.trip(reason, time.Now())
		log.Warn().
			Str("strategy", string(strat)).
			Str("reason", reason).
			Msg("🚨 Circuit breaker activated")
		if m.alerter != nil {
			m.alerter.SendAlert(types.AlertCritical, fmt.Sprintf("Circuit breaker tripped for %s: %s", strat, reason))
		}
		if m.auditLog != nil {
			m.auditLog.Append(string(strat), "circuit_breaker_activated", map[string]any{
				"reason":     reason,
				"daily_loss": b.DailyLoss.StringFixed(2),
			})
		}
	}

	m.persist(strat, st.breaker)
}

// Reset manually clears a strategy's breaker, keeping lifetime totals.
func (m *StrategyRiskManager) Reset(strat types.Strategy, reason string) {
	st, ok := m.strategies[strat]
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.breaker.reset(time.Now())
	m.persist(strat, st.breaker)
	log.Info().
		Str("strategy", string(strat)).
		Str("reason", reason).
		Msg("🔄 Circuit breaker manually reset")
}

// DailyReset zeroes daily counters for every strategy whose UTC date rolled
// over. Intended to run hourly from the maintenance scheduler.
func (m *StrategyRiskManager) DailyReset() {
	now := time.Now()
	for strat, st := range m.strategies {
		st.mu.Lock()
		if st.breaker.dailyReset(now) {
			m.persist(strat, st.breaker)
			log.Info().Str("strategy", string(strat)).Msg("🌅 Daily risk counters reset")
		}
		st.mu.Unlock()
	}
}

// AnyActive reports whether any strategy's circuit breaker is tripped. The
// orchestrator treats this as the system-stress signal.
func (m *StrategyRiskManager) AnyActive() bool {
	for _, st := range m.strategies {
		st.mu.Lock()
		active := st.breaker.Active
		st.mu.Unlock()
		if active {
			return true
		}
	}
	return false
}

// State returns a copy of the strategy's breaker state.
func (m *StrategyRiskManager) State(strat types.Strategy) (BreakerState, bool) {
	st, ok := m.strategies[strat]
	if !ok {
		return BreakerState{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.breaker, true
}

// Profile returns the strategy's limits.
func (m *StrategyRiskManager) Profile(strat types.Strategy) (Profile, bool) {
	st, ok := m.strategies[strat]
	if !ok {
		return Profile{}, false
	}
	return st.profile, true
}

// ─── exposure and correlation bookkeeping ───

// SetExposure records the current exposure held in a market. Zero removes it.
func (m *StrategyRiskManager) SetExposure(marketID string, amount decimal.Decimal) {
	m.posMu.Lock()
	defer m.posMu.Unlock()
	if amount.IsZero() {
		delete(m.activeMarkets, marketID)
		return
	}
	m.activeMarkets[marketID] = amount
}

// TotalExposure sums exposure across all active markets.
func (m *StrategyRiskManager) TotalExposure() decimal.Decimal {
	m.posMu.RLock()
	defer m.posMu.RUnlock()
	total := decimal.Zero
	for _, amt := range m.activeMarkets {
		total = total.Add(amt)
	}
	return total
}

// SetCorrelation stores the correlation between two markets. The map is
// symmetric; the key is the sorted pair.
func (m *StrategyRiskManager) SetCorrelation(a, b string, corr float64) {
	m.posMu.Lock()
	defer m.posMu.Unlock()
	m.correlations[pairKey(a, b)] = corr
}

func (m *StrategyRiskManager) correlationBreach(marketID string, threshold float64) (bool, string, float64) {
	m.posMu.RLock()
	defer m.posMu.RUnlock()
	for other := range m.activeMarkets {
		if other == marketID {
			continue
		}
		if corr, ok := m.correlations[pairKey(marketID, other)]; ok && corr > threshold {
			return true, other, corr
		}
	}
	return false, "", 0
}

func pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}
