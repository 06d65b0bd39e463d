package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/risk"
	"github.com/web3guy0/copybot/storage"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION MANAGER - Open position table and exit management
// ═══════════════════════════════════════════════════════════════════════════════

// PositionManager owns the active-positions table. The mutex is held only
// for the read-modify-write on the table, never across network calls.
type PositionManager struct {
	mu        sync.Mutex
	positions map[string]*types.Position

	orders  types.OrderClient
	exits   *risk.ExitChecker
	riskMgr *risk.StrategyRiskManager
	db      *storage.Database
	alerter types.Alerter
}

func NewPositionManager(orders types.OrderClient, exits *risk.ExitChecker, riskMgr *risk.StrategyRiskManager, db *storage.Database, alerter types.Alerter) *PositionManager {
	return &PositionManager{
		positions: make(map[string]*types.Position),
		orders:    orders,
		exits:     exits,
		riskMgr:   riskMgr,
		db:        db,
		alerter:   alerter,
	}
}

// Add registers a freshly opened position and syncs exposure bookkeeping.
func (pm *PositionManager) Add(pos *types.Position) {
	pm.mu.Lock()
	pm.positions[pos.ID] = pos
	pm.mu.Unlock()

	pm.syncMarketExposure(pos.MarketID)
	if pm.db != nil {
		if err := pm.db.SavePosition(pos); err != nil {
			log.Error().Err(err).Str("position", pos.ID).Msg("❌ Failed to persist position")
		}
	}
}

// RecoverPositions reloads open positions persisted before the last
// shutdown and restores exposure bookkeeping. Call once at startup.
func (pm *PositionManager) RecoverPositions() (int, error) {
	if pm.db == nil {
		return 0, nil
	}
	rows, err := pm.db.OpenPositions()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, row := range rows {
		pos := &types.Position{
			ID:         row.ID,
			MarketID:   row.MarketID,
			TokenID:    row.TokenID,
			Side:       types.Side(row.Side),
			Amount:     row.Amount,
			Shares:     row.Shares,
			EntryPrice: row.EntryPrice,
			OpenedAt:   row.OpenedAt,
			OrderID:    row.OrderID,
			Strategy:   types.Strategy(row.Strategy),
			SourceTrade: types.DetectedTrade{
				WalletAddress: row.SourceWallet,
				MarketID:      row.MarketID,
			},
		}

		pm.mu.Lock()
		pm.positions[pos.ID] = pos
		pm.mu.Unlock()
		pm.syncMarketExposure(pos.MarketID)
		recovered++

		log.Info().
			Str("position", pos.ID).
			Str("market", pos.MarketID).
			Str("amount", pos.Amount.StringFixed(2)).
			Msg("♻️ Recovered open position")
	}
	return recovered, nil
}

// List returns a snapshot of open positions.
func (pm *PositionManager) List() []types.Position {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]types.Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		out = append(out, *pos)
	}
	return out
}

// Count returns the number of open positions.
func (pm *PositionManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.positions)
}

// CountByMarket returns the number of open positions in one market.
func (pm *PositionManager) CountByMarket(marketID string) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	n := 0
	for _, pos := range pm.positions {
		if pos.MarketID == marketID {
			n++
		}
	}
	return n
}

// syncMarketExposure recomputes one market's exposure from the open table
// and pushes it to the risk manager. Stacked positions in the same market
// accumulate instead of overwriting each other.
func (pm *PositionManager) syncMarketExposure(marketID string) {
	pm.mu.Lock()
	total := decimal.Zero
	for _, pos := range pm.positions {
		if pos.MarketID == marketID {
			total = total.Add(pos.Amount)
		}
	}
	pm.mu.Unlock()
	pm.riskMgr.SetExposure(marketID, total)
}

// ExposureByWallet sums open exposure grouped by source wallet.
func (pm *PositionManager) ExposureByWallet() map[string]decimal.Decimal {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make(map[string]decimal.Decimal)
	for _, pos := range pm.positions {
		wallet := pos.SourceTrade.WalletAddress
		out[wallet] = out[wallet].Add(pos.Amount)
	}
	return out
}

// WalletExposure is the open exposure copied from one wallet.
func (pm *PositionManager) WalletExposure(wallet string) decimal.Decimal {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	total := decimal.Zero
	for _, pos := range pm.positions {
		if pos.SourceTrade.WalletAddress == wallet {
			total = total.Add(pos.Amount)
		}
	}
	return total
}

// TotalExposure is the open exposure across all positions.
func (pm *PositionManager) TotalExposure() decimal.Decimal {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	total := decimal.Zero
	for _, pos := range pm.positions {
		total = total.Add(pos.Amount)
	}
	return total
}

// ManagePositions polls prices for every open position and closes the
// ones that hit their exit thresholds. A single failed price lookup
// never aborts the sweep.
func (pm *PositionManager) ManagePositions() {
	now := time.Now().UTC()

	for _, pos := range pm.List() {
		price, err := pm.orders.GetPrice(pos.MarketID)
		if err != nil {
			log.Warn().Err(err).Str("market", pos.MarketID).Msg("⚠️ Price lookup failed")
			continue
		}

		exit, reason := pm.exits.CheckExit(&pos, price, now)
		if !exit {
			continue
		}
		pm.closePosition(pos, price, reason, now)
	}
}

func (pm *PositionManager) closePosition(pos types.Position, price decimal.Decimal, reason string, now time.Time) {
	side := types.SideSell
	if pos.Side == types.SideSell {
		side = types.SideBuy
	}

	result, err := pm.orders.PlaceOrder(pos.MarketID, side, pos.Amount, price)
	if err != nil {
		log.Error().Err(err).Str("position", pos.ID).Str("reason", reason).Msg("❌ Exit order failed")
		return
	}

	profit := price.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(pos.Shares))
	if pos.Side == types.SideSell {
		profit = profit.Neg()
	}

	pm.mu.Lock()
	delete(pm.positions, pos.ID)
	pm.mu.Unlock()
	pm.syncMarketExposure(pos.MarketID)
	pm.riskMgr.RecordResult(pos.Strategy, profit.IsPositive(), profit)

	if pm.db != nil {
		if err := pm.db.ClosePosition(pos.ID, now); err != nil {
			log.Error().Err(err).Str("position", pos.ID).Msg("❌ Failed to mark position closed")
		}
		if err := pm.db.RecordOutcome(profit, now); err != nil {
			log.Error().Err(err).Msg("❌ Failed to record daily outcome")
		}
		trade := &storage.Trade{
			ID:           pos.ID + ":" + reason,
			MarketID:     pos.MarketID,
			SourceWallet: pos.SourceTrade.WalletAddress,
			Side:         string(side),
			Action:       reason,
			Amount:       pos.Amount,
			Price:        price,
			Shares:       pos.Shares,
			ProfitLoss:   profit,
			Strategy:     string(pos.Strategy),
		}
		if err := pm.db.SaveTrade(trade); err != nil {
			log.Error().Err(err).Msg("❌ Failed to persist exit trade")
		}
	}

	log.Info().
		Str("position", pos.ID).
		Str("reason", reason).
		Str("profit", profit.StringFixed(2)).
		Str("order", result.OrderID).
		Msg("💰 Position closed")

	if pm.alerter != nil {
		level := types.AlertInfo
		if reason == "STOP_LOSS" {
			level = types.AlertWarning
		}
		pm.alerter.SendAlert(level,
			"Closed "+pos.MarketID+" ("+reason+") P&L $"+profit.StringFixed(2))
	}
}
