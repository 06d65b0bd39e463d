package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXIT CHECKER - Take-profit / stop-loss evaluation for open positions
// ═══════════════════════════════════════════════════════════════════════════════

// ExitChecker evaluates open positions against percentage TP/SL levels and a
// maximum hold time. Levels are percentages of entry price, so a position
// bought at 0.40 with 30% TP exits at 0.52.
type ExitChecker struct {
	stopLossPct   decimal.Decimal
	takeProfitPct decimal.Decimal
	maxHoldTime   time.Duration
}

// NewExitChecker builds a checker from the strategy profile. A zero
// maxHoldTime disables the time stop.
func NewExitChecker(profile Profile, maxHoldTime time.Duration) *ExitChecker {
	return &ExitChecker{
		stopLossPct:   decimal.NewFromFloat(profile.StopLossPct),
		takeProfitPct: decimal.NewFromFloat(profile.TakeProfitPct),
		maxHoldTime:   maxHoldTime,
	}
}

// CheckExit reports whether the position should be closed at currentPrice.
func (ec *ExitChecker) CheckExit(pos *types.Position, currentPrice decimal.Decimal, now time.Time) (bool, string) {
	if pos.EntryPrice.IsZero() {
		return false, ""
	}

	one := decimal.NewFromInt(1)
	tpLevel := pos.EntryPrice.Mul(one.Add(ec.takeProfitPct))
	slLevel := pos.EntryPrice.Mul(one.Sub(ec.stopLossPct))

	// Binary outcome tokens resolve to 1.00; cap the TP level there.
	if tpLevel.GreaterThan(one) {
		tpLevel = one
	}

	if currentPrice.GreaterThanOrEqual(tpLevel) {
		return true, "TAKE_PROFIT"
	}
	if currentPrice.LessThanOrEqual(slLevel) {
		return true, "STOP_LOSS"
	}
	if ec.maxHoldTime > 0 && now.Sub(pos.OpenedAt) > ec.maxHoldTime {
		return true, "MAX_HOLD_TIME"
	}
	return false, ""
}
