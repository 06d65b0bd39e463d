package risk

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/quality"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING ENGINE - Balance % base with stacked multipliers
// ═══════════════════════════════════════════════════════════════════════════════

var (
	minPositionSize = decimal.NewFromInt(1)
	maxPositionAbs  = decimal.NewFromInt(500)

	basePct        = decimal.NewFromFloat(0.02) // 2% of balance
	stressBasePct  = decimal.NewFromFloat(0.01) // 1% under system stress
	maxBalancePct  = decimal.NewFromFloat(0.05) // final size never above 5% of balance
)

// tierExposureCaps limit total copied exposure per wallet as a fraction of
// the portfolio.
var tierExposureCaps = map[quality.Tier]decimal.Decimal{
	quality.TierElite:  decimal.NewFromFloat(0.15),
	quality.TierExpert: decimal.NewFromFloat(0.10),
	quality.TierGood:   decimal.NewFromFloat(0.07),
	quality.TierPoor:   decimal.Zero,
}

// SizingRequest carries everything ComputeSize needs to make a decision.
type SizingRequest struct {
	Wallet              string
	Balance             decimal.Decimal
	CompositeScore      float64
	Tier                quality.Tier
	OriginalTradeAmount decimal.Decimal
	// MarketVolatility is the implied volatility of the target market, (0,1].
	MarketVolatility float64
	// WalletExposure is the capital already copied from this wallet.
	WalletExposure decimal.Decimal
	// PortfolioValue backs the per-tier exposure caps.
	PortfolioValue decimal.Decimal
}

// SizingDecision is always returned, even when the answer is "do not trade".
type SizingDecision struct {
	FinalSize decimal.Decimal
	Shares    int64
	Skip      bool
	Reason    string

	// multiplier breakdown for the audit trail
	BaseSize          decimal.Decimal
	QualityMult       float64
	TradeAdjustment   float64
	RiskAdjustment    float64
	ConcentrationMult float64
}

// Sizer computes position sizes. SystemStress is consulted on every call;
// under stress the decision degrades to the conservative floor instead of
// refusing to size.
type Sizer struct {
	systemStress func() bool
}

func NewSizer(systemStress func() bool) *Sizer {
	return &Sizer{systemStress: systemStress}
}

// ComputeSize runs the sizing ladder. All money arithmetic stays in
// fixed-point; floats only appear in the dimensionless multipliers.
func (s *Sizer) ComputeSize(req SizingRequest) SizingDecision {
	if req.Tier == quality.TierPoor {
		return SizingDecision{Skip: true, Reason: "Poor quality wallet – not trading"}
	}
	if !req.Balance.IsPositive() {
		return SizingDecision{Skip: true, Reason: "no balance available"}
	}

	stressed := s.systemStress != nil && s.systemStress()

	base := req.Balance.Mul(basePct)
	qualityMult := clipF(0.5+req.CompositeScore*1.5, 0.5, 2.0)
	tradeAdj := clipF(decimalToFloat(req.OriginalTradeAmount)/1000, 0.5, 1.5)

	riskAdj := 0.5
	switch {
	case req.MarketVolatility <= 0.15:
		riskAdj = 1.0
	case req.MarketVolatility <= 0.30:
		riskAdj = 0.8
	}

	concentration := 1.0
	maxWalletExposure := req.PortfolioValue.Mul(tierExposureCaps[req.Tier])
	if maxWalletExposure.IsPositive() {
		concentration = clipF(1.0-decimalToFloat(req.WalletExposure)/decimalToFloat(maxWalletExposure), 0.5, 1.0)
	}

	if stressed {
		// Conservative floor: smallest base, minimum multipliers, lowest
		// risk stance. Sizing still happens; entries never go to zero
		// purely because a breaker elsewhere is open.
		base = req.Balance.Mul(stressBasePct)
		qualityMult = 0.5
		tradeAdj = 0.5
		riskAdj = 1.0
		concentration = 0.5
	}

	mult := decimal.NewFromFloat(qualityMult * tradeAdj * riskAdj * concentration)
	size := base.Mul(mult)

	ceiling := decimal.Min(maxPositionAbs, req.Balance.Mul(maxBalancePct))
	if size.GreaterThan(ceiling) {
		size = ceiling
	}
	if size.LessThan(minPositionSize) {
		size = minPositionSize
	}

	// Tier exposure cap on total copied capital from this wallet.
	if maxWalletExposure.IsPositive() {
		headroom := maxWalletExposure.Sub(req.WalletExposure)
		if headroom.LessThan(minPositionSize) {
			return SizingDecision{Skip: true, Reason: "wallet exposure cap reached"}
		}
		if size.GreaterThan(headroom) {
			size = headroom
		}
	}

	size = size.RoundBank(2)
	decision := SizingDecision{
		FinalSize:         size,
		Shares:            size.IntPart(),
		BaseSize:          base,
		QualityMult:       qualityMult,
		TradeAdjustment:   tradeAdj,
		RiskAdjustment:    riskAdj,
		ConcentrationMult: concentration,
	}

	log.Debug().
		Str("wallet", req.Wallet).
		Str("final_size", size.StringFixed(2)).
		Int64("shares", decision.Shares).
		Float64("quality_mult", qualityMult).
		Float64("risk_adj", riskAdj).
		Bool("stressed", stressed).
		Msg("📐 Position sized")

	return decision
}

func clipF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
