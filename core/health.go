package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HEALTH AGGREGATOR - Component checks with escalation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two consecutive failures of any component raise a High alert. Three
// activate the system-stress stance: conservative sizing everywhere and
// no new entries through the composite engine.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	healthAlertAfter  = 2
	healthStressAfter = 3
)

type HealthCheck func() bool

// HealthAggregator runs registered checks each cycle and tracks
// consecutive failures per component.
type HealthAggregator struct {
	mu       sync.Mutex
	checks   map[string]HealthCheck
	failures map[string]int
	alerter  types.Alerter
}

func NewHealthAggregator(alerter types.Alerter) *HealthAggregator {
	return &HealthAggregator{
		checks:   make(map[string]HealthCheck),
		failures: make(map[string]int),
		alerter:  alerter,
	}
}

// Register adds a named component check.
func (h *HealthAggregator) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RunChecks executes every check once and updates failure streaks.
func (h *HealthAggregator) RunChecks() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, check := range h.checks {
		if check() {
			h.failures[name] = 0
			continue
		}

		h.failures[name]++
		streak := h.failures[name]
		log.Warn().Str("component", name).Int("streak", streak).Msg("⚠️ Health check failed")

		if streak == healthAlertAfter && h.alerter != nil {
			h.alerter.SendAlert(types.AlertHigh,
				"Health check failing twice in a row: "+name)
		}
		if streak == healthStressAfter {
			log.Error().Str("component", name).Msg("🚨 Component unhealthy, system stress engaged")
			if h.alerter != nil {
				h.alerter.SendAlert(types.AlertCritical,
					"System stress engaged, component down: "+name)
			}
		}
	}
}

// Stressed reports whether any component has failed three or more
// consecutive checks.
func (h *HealthAggregator) Stressed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, streak := range h.failures {
		if streak >= healthStressAfter {
			return true
		}
	}
	return false
}

// Healthy reports whether every component passed its last check.
func (h *HealthAggregator) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, streak := range h.failures {
		if streak > 0 {
			return false
		}
	}
	return true
}
