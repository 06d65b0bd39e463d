package quality

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WALLET BEHAVIOR MONITOR - Drift detection and cohort rotation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each wallet keeps a baseline (first observed metrics) and a rolling
// window. High/Critical changes replace the baseline so the next
// comparison runs against the new normal. Rotation removals start a
// 7-day cooldown persisted across restarts.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ChangeType enumerates behavior drift events.
type ChangeType string

const (
	ChangeWinRateDrop        ChangeType = "WIN_RATE_DROP"
	ChangeWinRateGain        ChangeType = "WIN_RATE_GAIN"
	ChangeRiskIncrease       ChangeType = "RISK_INCREASE"
	ChangeCategoryShift      ChangeType = "CATEGORY_SHIFT"
	ChangeVolatilityIncrease ChangeType = "VOLATILITY_INCREASE"
)

// BehaviorChange is one emitted drift event.
type BehaviorChange struct {
	Wallet     string
	Type       ChangeType
	Severity   Severity
	Detail     string
	ObservedAt time.Time
}

// baseline is the reference snapshot for drift comparison.
type baseline struct {
	WinRate    float64
	AvgSize    float64
	Volatility float64
	Categories map[string]struct{}
	SetAt      time.Time
}

// cooldownEntry is a persisted rotation cooldown.
type cooldownEntry struct {
	Wallet    string    `json:"wallet"`
	Until     time.Time `json:"until"`
	ScoreThen float64   `json:"score_then"`
}

const (
	rotationCooldown  = 7 * 24 * time.Hour
	alertDedupWindow  = time.Hour
	rotationDropDelta = 1.0
	rotationDropFloor = 5.0
	rotationGainDelta = 1.0
	rotationGainFloor = 6.0
)

// Monitor tracks per-wallet behavior drift and rotation state.
type Monitor struct {
	mu sync.Mutex

	baselines  map[string]*baseline
	lastScores map[string]float64
	lastAlert  map[string]time.Time // "(wallet|type)" -> last emission
	cooldowns  map[string]cooldownEntry

	statePath string
	alerter   types.Alerter
}

// NewMonitor creates a behavior monitor; cooldowns are loaded from
// statePath best-effort.
func NewMonitor(statePath string, alerter types.Alerter) *Monitor {
	m := &Monitor{
		baselines:  make(map[string]*baseline),
		lastScores: make(map[string]float64),
		lastAlert:  make(map[string]time.Time),
		cooldowns:  make(map[string]cooldownEntry),
		statePath:  statePath,
		alerter:    alerter,
	}
	m.loadCooldowns()
	return m
}

// Observe folds a fresh snapshot in and returns any drift events.
func (m *Monitor) Observe(wallet string, data *types.WalletData) []BehaviorChange {
	wallet = types.NormalizeAddress(wallet)
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	avgSize, _ := data.AvgPositionSize.Float64()
	cats := make(map[string]struct{}, len(data.CategoryCounts))
	for c := range data.CategoryCounts {
		cats[c] = struct{}{}
	}

	base, ok := m.baselines[wallet]
	if !ok {
		m.baselines[wallet] = &baseline{
			WinRate:    data.WinRate,
			AvgSize:    avgSize,
			Volatility: data.Volatility,
			Categories: cats,
			SetAt:      now,
		}
		return nil
	}

	var changes []BehaviorChange
	emit := func(t ChangeType, sev Severity, detail string) {
		changes = append(changes, BehaviorChange{
			Wallet: wallet, Type: t, Severity: sev, Detail: detail, ObservedAt: now,
		})
	}

	// Win-rate drift.
	if delta := data.WinRate - base.WinRate; math.Abs(delta) >= 0.15 {
		sev := SeverityMedium
		switch {
		case math.Abs(delta) >= 0.25:
			sev = SeverityCritical
		case math.Abs(delta) >= 0.20:
			sev = SeverityHigh
		}
		kind := ChangeWinRateGain
		if delta < 0 {
			kind = ChangeWinRateDrop
		}
		emit(kind, sev, fmt.Sprintf("win rate %.2f -> %.2f", base.WinRate, data.WinRate))
	}

	// Position-size risk increase.
	if base.AvgSize > 0 {
		ratio := avgSize / base.AvgSize
		if ratio >= 2 {
			sev := SeverityMedium
			switch {
			case ratio >= 3:
				sev = SeverityCritical
			case ratio >= 2.5:
				sev = SeverityHigh
			}
			emit(ChangeRiskIncrease, sev, fmt.Sprintf("avg size %.1fx baseline", ratio))
		}
	}

	// Category shift.
	newCats := 0
	for c := range cats {
		if _, known := base.Categories[c]; !known {
			newCats++
		}
	}
	if newCats > 0 {
		sev := SeverityMedium
		if newCats > 2 {
			sev = SeverityHigh
		}
		emit(ChangeCategoryShift, sev, fmt.Sprintf("%d new categories", newCats))
	}

	// Volatility increase.
	if delta := data.Volatility - base.Volatility; delta >= 0.20 {
		sev := SeverityMedium
		switch {
		case data.Volatility >= 0.30:
			sev = SeverityCritical
		case delta >= 0.25:
			sev = SeverityHigh
		}
		emit(ChangeVolatilityIncrease, sev, fmt.Sprintf("volatility %.2f -> %.2f", base.Volatility, data.Volatility))
	}

	// High/Critical drift replaces the baseline: compare against the new normal.
	replaceBaseline := false
	for _, c := range changes {
		if c.Severity == SeverityHigh || c.Severity == SeverityCritical {
			replaceBaseline = true
			break
		}
	}
	if replaceBaseline {
		m.baselines[wallet] = &baseline{
			WinRate:    data.WinRate,
			AvgSize:    avgSize,
			Volatility: data.Volatility,
			Categories: cats,
			SetAt:      now,
		}
	}

	// Alert with 1h dedup per (wallet, type).
	for _, c := range changes {
		key := wallet + "|" + string(c.Type)
		if last, seen := m.lastAlert[key]; seen && now.Sub(last) < alertDedupWindow {
			continue
		}
		m.lastAlert[key] = now
		if m.alerter != nil {
			level := types.AlertWarning
			if c.Severity == SeverityCritical {
				level = types.AlertCritical
			} else if c.Severity == SeverityHigh {
				level = types.AlertHigh
			}
			m.alerter.SendAlert(level, fmt.Sprintf("Behavior drift %s %s: %s", wallet, c.Type, c.Detail))
		}
		log.Info().
			Str("wallet", wallet).
			Str("change", string(c.Type)).
			Str("severity", string(c.Severity)).
			Str("detail", c.Detail).
			Msg("📉 Behavior change")
	}

	return changes
}

// RotationDecision is the cohort membership verdict for one wallet.
type RotationDecision struct {
	Remove     bool
	Suppress   bool // in cooldown, re-addition suppressed
	Readmit    bool
	CooldownTo time.Time
	Reason     string
}

// CheckRotation applies the rotation rules given the latest composite score.
func (m *Monitor) CheckRotation(wallet string, composite float64) RotationDecision {
	wallet = types.NormalizeAddress(wallet)
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, hasPrev := m.lastScores[wallet]
	m.lastScores[wallet] = composite

	if cd, inCooldown := m.cooldowns[wallet]; inCooldown {
		if now.Before(cd.Until) {
			return RotationDecision{Suppress: true, CooldownTo: cd.Until,
				Reason: "rotation cooldown active"}
		}
		// Cooldown elapsed: readmit only on real improvement.
		if composite-cd.ScoreThen >= rotationGainDelta && composite > rotationGainFloor {
			delete(m.cooldowns, wallet)
			m.saveCooldownsLocked()
			return RotationDecision{Readmit: true,
				Reason: fmt.Sprintf("recovered to %.1f after cooldown", composite)}
		}
		return RotationDecision{Suppress: true, CooldownTo: cd.Until,
			Reason: "score has not recovered"}
	}

	if hasPrev && prev-composite >= rotationDropDelta && composite < rotationDropFloor {
		until := now.Add(rotationCooldown)
		m.cooldowns[wallet] = cooldownEntry{Wallet: wallet, Until: until, ScoreThen: composite}
		m.saveCooldownsLocked()
		log.Warn().
			Str("wallet", wallet).
			Float64("from", prev).
			Float64("to", composite).
			Time("cooldown_until", until).
			Msg("🔄 Wallet marked for rotation")
		return RotationDecision{Remove: true, CooldownTo: until,
			Reason: fmt.Sprintf("score dropped %.1f -> %.1f", prev, composite)}
	}

	return RotationDecision{}
}

// InCooldown reports whether re-addition is currently suppressed.
func (m *Monitor) InCooldown(wallet string) bool {
	wallet = types.NormalizeAddress(wallet)
	m.mu.Lock()
	defer m.mu.Unlock()
	cd, ok := m.cooldowns[wallet]
	return ok && time.Now().UTC().Before(cd.Until)
}

// ── Cooldown persistence (best-effort JSON, temp-then-rename) ───────────────

func (m *Monitor) loadCooldowns() {
	raw, err := os.ReadFile(m.statePath)
	if err != nil {
		return
	}
	var entries []cooldownEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Warn().Err(err).Str("path", m.statePath).Msg("Cooldown state malformed, starting fresh")
		return
	}
	for _, e := range entries {
		m.cooldowns[e.Wallet] = e
	}
}

func (m *Monitor) saveCooldownsLocked() {
	if m.statePath == "" {
		return
	}
	entries := make([]cooldownEntry, 0, len(m.cooldowns))
	for _, e := range m.cooldowns {
		entries = append(entries, e)
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return
	}
	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		log.Error().Err(err).Msg("Cooldown state write failed")
		return
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		log.Error().Err(err).Msg("Cooldown state rename failed")
	}
}
