package risk

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY RISK PROFILES - Data-driven limits per strategy
// ═══════════════════════════════════════════════════════════════════════════════
//
// Strategies are a closed enumeration with data-driven profiles, not a
// type hierarchy. The set is fixed at startup.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Profile holds the per-strategy limits.
type Profile struct {
	MaxPositionSize         decimal.Decimal
	MaxDailyLoss            decimal.Decimal
	MaxConsecutiveLosses    int
	MaxFailureRate          float64
	MaxCorrelationThreshold float64
	MaxSlippage             float64
	VolatilityAdjustment    bool
	MaxPortfolioExposure    decimal.Decimal
	MaxPositionsPerMarket   int
	StopLossPct             float64
	TakeProfitPct           float64
	Enabled                 bool
}

// DefaultProfiles returns the startup limits for every strategy.
func DefaultProfiles() map[types.Strategy]Profile {
	return map[types.Strategy]Profile{
		types.StrategyCopyTrading: {
			MaxPositionSize:         decimal.NewFromInt(500),
			MaxDailyLoss:            decimal.NewFromInt(200),
			MaxConsecutiveLosses:    5,
			MaxFailureRate:          0.6,
			MaxCorrelationThreshold: 0.7,
			MaxSlippage:             0.02,
			VolatilityAdjustment:    true,
			MaxPortfolioExposure:    decimal.NewFromInt(5000),
			MaxPositionsPerMarket:   1,
			StopLossPct:             0.20,
			TakeProfitPct:           0.30,
			Enabled:                 true,
		},
		types.StrategyEndgameSweep: {
			MaxPositionSize:         decimal.NewFromInt(250),
			MaxDailyLoss:            decimal.NewFromInt(100),
			MaxConsecutiveLosses:    3,
			MaxFailureRate:          0.5,
			MaxCorrelationThreshold: 0.6,
			MaxSlippage:             0.01,
			VolatilityAdjustment:    true,
			MaxPortfolioExposure:    decimal.NewFromInt(2000),
			MaxPositionsPerMarket:   1,
			StopLossPct:             0.15,
			TakeProfitPct:           0.20,
			Enabled:                 false, // subsystem not wired in this build
		},
		types.StrategyCrossMarket: {
			MaxPositionSize:         decimal.NewFromInt(300),
			MaxDailyLoss:            decimal.NewFromInt(150),
			MaxConsecutiveLosses:    4,
			MaxFailureRate:          0.55,
			MaxCorrelationThreshold: 0.5,
			MaxSlippage:             0.015,
			VolatilityAdjustment:    true,
			MaxPortfolioExposure:    decimal.NewFromInt(3000),
			MaxPositionsPerMarket:   2,
			StopLossPct:             0.10,
			TakeProfitPct:           0.15,
			Enabled:                 false,
		},
		types.StrategyMarketMaking: {
			MaxPositionSize:         decimal.NewFromInt(200),
			MaxDailyLoss:            decimal.NewFromInt(100),
			MaxConsecutiveLosses:    6,
			MaxFailureRate:          0.65,
			MaxCorrelationThreshold: 0.8,
			MaxSlippage:             0.005,
			VolatilityAdjustment:    false,
			MaxPortfolioExposure:    decimal.NewFromInt(1500),
			MaxPositionsPerMarket:   2,
			StopLossPct:             0.05,
			TakeProfitPct:           0.08,
			Enabled:                 false,
		},
	}
}
