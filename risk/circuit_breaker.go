package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER STATE - Per-strategy trip state
// ═══════════════════════════════════════════════════════════════════════════════

// BreakerState is the full per-strategy circuit-breaker state. Persisted
// across restarts; transitions are only observed atomically under the
// owning strategy's lock.
type BreakerState struct {
	Active            bool
	Reason            string
	ActivationTime    time.Time // zero when never activated
	DailyLoss         decimal.Decimal
	TotalLoss         decimal.Decimal
	TotalProfit       decimal.Decimal
	ConsecutiveLosses int
	FailedTrades      int
	SuccessfulTrades  int
	LastResetDate     string // UTC date, "2006-01-02"
	LastResetTime     time.Time
}

// newBreakerState returns a zeroed state dated today (UTC).
func newBreakerState(now time.Time) BreakerState {
	return BreakerState{
		DailyLoss:     decimal.Zero,
		TotalLoss:     decimal.Zero,
		TotalProfit:   decimal.Zero,
		LastResetDate: now.UTC().Format("2006-01-02"),
		LastResetTime: now.UTC(),
	}
}

// TotalTrades is the lifetime trade count.
func (b *BreakerState) TotalTrades() int {
	return b.FailedTrades + b.SuccessfulTrades
}

// FailureRate is failed/total, 0 when no trades yet.
func (b *BreakerState) FailureRate() float64 {
	total := b.TotalTrades()
	if total == 0 {
		return 0
	}
	return float64(b.FailedTrades) / float64(total)
}

// trip activates the breaker.
func (b *BreakerState) trip(reason string, now time.Time) {
	b.Active = true
	b.Reason = reason
	b.ActivationTime = now.UTC()
}

// reset clears the trip and the daily counters, preserving totals.
func (b *BreakerState) reset(now time.Time) {
	b.Active = false
	b.Reason = ""
	b.DailyLoss = decimal.Zero
	b.ConsecutiveLosses = 0
	b.LastResetTime = now.UTC()
}

// dailyReset zeroes the daily counters when the UTC date rolled over.
// Totals are untouched.
func (b *BreakerState) dailyReset(now time.Time) bool {
	today := now.UTC().Format("2006-01-02")
	if b.LastResetDate >= today {
		return false
	}
	b.DailyLoss = decimal.Zero
	b.ConsecutiveLosses = 0
	b.LastResetDate = today
	b.LastResetTime = now.UTC()
	return true
}
