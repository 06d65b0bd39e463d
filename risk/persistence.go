package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK STATE PERSISTENCE - Breaker state survives restarts
// ═══════════════════════════════════════════════════════════════════════════════

// stateVersion is the leading byte of strategy_risk_state.bin. Bump on any
// incompatible change to breakerRecord.
const stateVersion byte = 1

// legacyStateFile is a JSON view of the breaker map kept for external
// monitoring tooling. Read-mostly; the binary file is authoritative.
const legacyStateFile = "circuit_breaker_state.json"

// breakerRecord is the wire form of BreakerState. Money fields travel as
// decimal strings so a load reproduces the exact stored value.
type breakerRecord struct {
	Active            bool   `msgpack:"active"`
	Reason            string `msgpack:"reason"`
	ActivationTime    int64  `msgpack:"activation_time"` // unix nanos, 0 = never
	DailyLoss         string `msgpack:"daily_loss"`
	TotalLoss         string `msgpack:"total_loss"`
	TotalProfit       string `msgpack:"total_profit"`
	ConsecutiveLosses int    `msgpack:"consecutive_losses"`
	FailedTrades      int    `msgpack:"failed_trades"`
	SuccessfulTrades  int    `msgpack:"successful_trades"`
	LastResetDate     string `msgpack:"last_reset_date"`
	LastResetTime     int64  `msgpack:"last_reset_time"`
}

func toRecord(b BreakerState) breakerRecord {
	var activation int64
	if !b.ActivationTime.IsZero() {
		activation = b.ActivationTime.UnixNano()
	}
	return breakerRecord{
		Active:            b.Active,
		Reason:            b.Reason,
		ActivationTime:    activation,
		DailyLoss:         b.DailyLoss.String(),
		TotalLoss:         b.TotalLoss.String(),
		TotalProfit:       b.TotalProfit.String(),
		ConsecutiveLosses: b.ConsecutiveLosses,
		FailedTrades:      b.FailedTrades,
		SuccessfulTrades:  b.SuccessfulTrades,
		LastResetDate:     b.LastResetDate,
		LastResetTime:     b.LastResetTime.UnixNano(),
	}
}

func fromRecord(r breakerRecord) (BreakerState, error) {
	dailyLoss, err := decimal.NewFromString(r.DailyLoss)
	if err != nil {
		return BreakerState{}, fmt.Errorf("daily_loss: %w", err)
	}
	totalLoss, err := decimal.NewFromString(r.TotalLoss)
	if err != nil {
		return BreakerState{}, fmt.Errorf("total_loss: %w", err)
	}
	totalProfit, err := decimal.NewFromString(r.TotalProfit)
	if err != nil {
		return BreakerState{}, fmt.Errorf("total_profit: %w", err)
	}
	b := BreakerState{
		Active:            r.Active,
		Reason:            r.Reason,
		DailyLoss:         dailyLoss,
		TotalLoss:         totalLoss,
		TotalProfit:       totalProfit,
		ConsecutiveLosses: r.ConsecutiveLosses,
		FailedTrades:      r.FailedTrades,
		SuccessfulTrades:  r.SuccessfulTrades,
		LastResetDate:     r.LastResetDate,
		LastResetTime:     time.Unix(0, r.LastResetTime).UTC(),
	}
	if r.ActivationTime != 0 {
		b.ActivationTime = time.Unix(0, r.ActivationTime).UTC()
	}
	return b, nil
}

// legacyRecord matches the snake_case JSON shape external tools read.
type legacyRecord struct {
	Active            bool   `json:"active"`
	Reason            string `json:"reason"`
	DailyLoss         string `json:"daily_loss"`
	ConsecutiveLosses int    `json:"consecutive_losses"`
	FailedTrades      int    `json:"failed_trades"`
	TotalTrades       int    `json:"total_trades"`
	LastResetDate     string `json:"last_reset_date"`
}

// persist records the strategy's latest breaker state in the manager's
// snapshot map and rewrites the state files. Called with the strategy's own
// lock held; never takes other strategy locks, so cross-strategy persists
// cannot deadlock.
func (m *StrategyRiskManager) persist(strat types.Strategy, b BreakerState) {
	if m.statePath == "" {
		return
	}

	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	m.snapshots[strat] = b

	records := make(map[string]breakerRecord, len(m.snapshots))
	legacy := make(map[string]legacyRecord, len(m.snapshots))
	for s, st := range m.snapshots {
		records[string(s)] = toRecord(st)
		legacy[string(s)] = legacyRecord{
			Active:            st.Active,
			Reason:            st.Reason,
			DailyLoss:         st.DailyLoss.StringFixed(2),
			ConsecutiveLosses: st.ConsecutiveLosses,
			FailedTrades:      st.FailedTrades,
			TotalTrades:       st.TotalTrades(),
			LastResetDate:     st.LastResetDate,
		}
	}

	if err := writeBinaryState(m.statePath, records); err != nil {
		log.Error().Err(err).Str("path", m.statePath).Msg("❌ Failed to persist risk state")
		return
	}
	legacyPath := filepath.Join(filepath.Dir(m.statePath), legacyStateFile)
	if err := writeJSONState(legacyPath, legacy); err != nil {
		log.Warn().Err(err).Str("path", legacyPath).Msg("⚠️ Failed to write legacy breaker view")
	}
}

// loadState restores breaker state from the binary file. Best effort: a
// missing file is fine, a malformed one leaves defaults in place.
func (m *StrategyRiskManager) loadState() error {
	data, err := os.ReadFile(m.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) < 1 {
		return fmt.Errorf("state file empty")
	}
	if data[0] != stateVersion {
		return fmt.Errorf("state version %d, expected %d", data[0], stateVersion)
	}

	var records map[string]breakerRecord
	if err := msgpack.Unmarshal(data[1:], &records); err != nil {
		return fmt.Errorf("decode risk state: %w", err)
	}

	for name, rec := range records {
		st, ok := m.strategies[types.Strategy(name)]
		if !ok {
			continue
		}
		breaker, err := fromRecord(rec)
		if err != nil {
			log.Warn().Err(err).Str("strategy", name).Msg("⚠️ Skipping corrupt breaker record")
			continue
		}
		st.mu.Lock()
		st.breaker = breaker
		st.mu.Unlock()
		m.snapMu.Lock()
		m.snapshots[types.Strategy(name)] = breaker
		m.snapMu.Unlock()
	}
	return nil
}

func writeBinaryState(path string, records map[string]breakerRecord) error {
	payload, err := msgpack.Marshal(records)
	if err != nil {
		return err
	}
	data := append([]byte{stateVersion}, payload...)
	return atomicWrite(path, data, 0o644)
}

func writeJSONState(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data, 0o644)
}

// atomicWrite writes via temp-then-rename so readers never see a torn file.
func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".risk-state-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
