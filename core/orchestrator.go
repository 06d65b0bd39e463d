package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/audit"
	"github.com/web3guy0/copybot/internal/config"
	"github.com/web3guy0/copybot/monitor"
	"github.com/web3guy0/copybot/quality"
	"github.com/web3guy0/copybot/risk"
	"github.com/web3guy0/copybot/storage"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORCHESTRATOR - Central copy-trading loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Leaderboard → Quality pipeline → Cohort → Wallet monitors →
//   Risk gate → Sizing → Execution → Position management
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	tradeConcurrency = 10
	batchDelay       = 100 * time.Millisecond
)

// LeaderboardSource supplies scoring candidates. Implemented against the
// market's leaderboard API; faked in tests.
type LeaderboardSource interface {
	TopWallets(limit int) ([]string, error)
	WalletData(wallet string) (*types.WalletData, error)
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config      *config.Config
	Engine      *quality.Engine
	Detector    *quality.Detector
	Behavior    *quality.Monitor
	Analyzer    *quality.Analyzer
	RiskMgr     *risk.StrategyRiskManager
	Sizer       *risk.Sizer
	Positions   *PositionManager
	Health      *HealthAggregator
	Orders      types.OrderClient
	Chain       types.ChainClient
	Leaderboard LeaderboardSource
	DB          *storage.Database
	Alerter     types.Alerter
	Parser      monitor.TradeParser
	Audit       *audit.Logger
}

type Orchestrator struct {
	deps Deps

	mu         sync.Mutex
	monitors   map[string]*monitor.WalletMonitor
	composites map[string]*quality.CompositeScore

	tradeCh     chan types.DetectedTrade
	paused      atomic.Bool
	lastRefresh time.Time

	scheduler *cron.Cron
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:       deps,
		monitors:   make(map[string]*monitor.WalletMonitor),
		composites: make(map[string]*quality.CompositeScore),
		tradeCh:    make(chan types.DetectedTrade, 1024),
		scheduler:  cron.New(),
	}
}

// Pause stops opening new positions; monitoring and exits continue.
func (o *Orchestrator) Pause()  { o.paused.Store(true) }
func (o *Orchestrator) Resume() { o.paused.Store(false) }

// Run executes the main loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, o.cancel = context.WithCancel(ctx)

	o.registerHealthChecks()
	o.scheduleMaintenance()
	o.scheduler.Start()

	// First cohort before the loop so monitors exist from cycle one.
	o.refreshCohort()

	ticker := time.NewTicker(o.deps.Config.MonitorInterval)
	defer ticker.Stop()

	log.Info().
		Str("interval", o.deps.Config.MonitorInterval.String()).
		Bool("dry_run", o.deps.Config.DryRun).
		Msg("🚀 Orchestrator running")

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-ticker.C:
			o.cycle(ctx)
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context) {
	if time.Since(o.lastRefresh) >= o.deps.Config.WalletUpdateInterval {
		o.refreshCohort()
	}

	o.deps.Health.RunChecks()

	trades := o.drainTrades()
	if len(trades) > 0 && !o.paused.Load() {
		o.processTrades(ctx, trades)
	}

	o.deps.Positions.ManagePositions()
}

// ─── cohort management ───

// refreshCohort rescores the leaderboard and reconciles the monitored set
// with the top N admitted wallets. lastRefresh advances only on success,
// so a failed fetch is retried on the next cycle.
func (o *Orchestrator) refreshCohort() {
	n := o.deps.Config.MaxConcurrentPositions + o.deps.Config.CohortOverhead
	candidates, err := o.deps.Leaderboard.TopWallets(n * 3)
	if err != nil {
		log.Error().Err(err).Msg("❌ Leaderboard fetch failed")
		return
	}

	type scored struct {
		wallet    string
		composite float64
	}
	var admitted []scored

	for _, wallet := range candidates {
		wallet = types.NormalizeAddress(wallet)
		data, err := o.deps.Leaderboard.WalletData(wallet)
		if err != nil || data == nil {
			continue
		}

		cs := o.deps.Engine.Compose(wallet, data)
		if cs == nil {
			continue
		}
		excl := o.deps.Detector.Detect(wallet, data)
		if excl.IsExcluded {
			continue
		}
		if cs.Confidence < o.deps.Config.MinConfidenceScore {
			continue
		}

		o.deps.Behavior.Observe(wallet, data)
		rot := o.deps.Behavior.CheckRotation(wallet, cs.Composite)
		if rot.Remove || rot.Suppress {
			continue
		}

		o.mu.Lock()
		o.composites[wallet] = cs
		o.mu.Unlock()
		admitted = append(admitted, scored{wallet, cs.Composite})
	}

	sort.Slice(admitted, func(i, j int) bool {
		return admitted[i].composite > admitted[j].composite
	})
	if len(admitted) > n {
		admitted = admitted[:n]
	}

	keep := make(map[string]bool, len(admitted))
	for _, s := range admitted {
		keep[s.wallet] = true
	}
	o.reconcileMonitors(keep)
	o.lastRefresh = time.Now()

	log.Info().
		Int("cohort", len(admitted)).
		Int("candidates", len(candidates)).
		Msg("👥 Cohort refreshed")
}

// reconcileMonitors starts monitors for new wallets and stops dropped ones.
func (o *Orchestrator) reconcileMonitors(keep map[string]bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for wallet, m := range o.monitors {
		if !keep[wallet] {
			m.Stop()
			delete(o.monitors, wallet)
			delete(o.composites, wallet)
			log.Info().Str("wallet", wallet).Msg("➖ Wallet dropped from cohort")
		}
	}

	for wallet := range keep {
		if _, running := o.monitors[wallet]; running {
			continue
		}
		m := monitor.NewWalletMonitor(
			wallet,
			o.deps.Config.WSURL,
			o.deps.Chain,
			o.deps.Config.PollInterval,
			o.deps.Parser,
			func(trade types.DetectedTrade) {
				select {
				case o.tradeCh <- trade:
				default:
					log.Warn().Str("wallet", trade.WalletAddress).Msg("⚠️ Trade queue full, detection dropped")
				}
			},
		)
		m.Start(context.Background())
		o.monitors[wallet] = m
		log.Info().Str("wallet", wallet).Msg("➕ Wallet added to cohort")
	}
}

// ─── trade execution ───

func (o *Orchestrator) drainTrades() []types.DetectedTrade {
	var trades []types.DetectedTrade
	for {
		select {
		case trade := <-o.tradeCh:
			trades = append(trades, trade)
		default:
			return trades
		}
	}
}

// processTrades executes up to 10 wallets concurrently, in batches with a
// 100ms inter-batch delay. Trades from one wallet always run serially on a
// single goroutine, in on-chain order (block number, then tx index), so
// concurrency never reorders a wallet's own sequence.
func (o *Orchestrator) processTrades(ctx context.Context, trades []types.DetectedTrade) {
	byWallet := make(map[string][]types.DetectedTrade)
	var wallets []string
	for _, trade := range trades {
		if _, seen := byWallet[trade.WalletAddress]; !seen {
			wallets = append(wallets, trade.WalletAddress)
		}
		byWallet[trade.WalletAddress] = append(byWallet[trade.WalletAddress], trade)
	}
	for _, group := range byWallet {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].BlockNumber != group[j].BlockNumber {
				return group[i].BlockNumber < group[j].BlockNumber
			}
			return group[i].TxIndex < group[j].TxIndex
		})
	}

	for start := 0; start < len(wallets); start += tradeConcurrency {
		end := start + tradeConcurrency
		if end > len(wallets) {
			end = len(wallets)
		}

		var wg sync.WaitGroup
		for _, wallet := range wallets[start:end] {
			wg.Add(1)
			go func(group []types.DetectedTrade) {
				defer wg.Done()
				for _, trade := range group {
					o.executeTrade(trade)
				}
			}(byWallet[wallet])
		}
		wg.Wait()

		if end < len(wallets) {
			select {
			case <-time.After(batchDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// executeTrade runs the per-trade pipeline: risk gate, sizing, order.
// A failure here never aborts the batch.
func (o *Orchestrator) executeTrade(trade types.DetectedTrade) {
	o.mu.Lock()
	cs := o.composites[trade.WalletAddress]
	o.mu.Unlock()
	if cs == nil {
		return // wallet left the cohort between detection and execution
	}

	state := o.deps.Analyzer.State()
	allowance := o.deps.RiskMgr.CheckAllowed(types.StrategyCopyTrading, risk.TradeRequest{
		MarketID:   trade.MarketID,
		Amount:     trade.Amount,
		Volatility: state.ImpliedVolatility * 100,
	})
	if !allowance.Allowed {
		log.Info().
			Str("wallet", trade.WalletAddress).
			Str("market", trade.MarketID).
			Str("reason", allowance.Reason).
			Msg("⏭️ Trade skipped by risk gate")
		return
	}

	if profile, ok := o.deps.RiskMgr.Profile(types.StrategyCopyTrading); ok &&
		o.deps.Positions.CountByMarket(trade.MarketID) >= profile.MaxPositionsPerMarket {
		log.Debug().
			Str("market", trade.MarketID).
			Msg("⏭️ Trade skipped, market position limit reached")
		return
	}

	// Slippage gate: the market may have moved since the source fill.
	if current, err := o.deps.Orders.GetPrice(trade.MarketID); err == nil &&
		!current.IsZero() && !trade.Price.IsZero() {
		slip, _ := current.Sub(trade.Price).Abs().Div(trade.Price).Float64()
		if profile, ok := o.deps.RiskMgr.Profile(types.StrategyCopyTrading); ok && slip > profile.MaxSlippage {
			log.Info().
				Str("market", trade.MarketID).
				Float64("slippage", slip).
				Msg("⏭️ Trade skipped, price moved past slippage limit")
			return
		}
	}

	balance, err := o.deps.Orders.GetBalance()
	if err != nil {
		log.Error().Err(err).Msg("❌ Balance lookup failed")
		return
	}

	// The gate may have scaled the amount down for volatility; size off
	// the scaled figure, not the raw source fill.
	decision := o.deps.Sizer.ComputeSize(risk.SizingRequest{
		Wallet:              trade.WalletAddress,
		Balance:             balance,
		CompositeScore:      cs.Composite,
		Tier:                quality.TierOf(cs.ComponentScores["quality"]),
		OriginalTradeAmount: allowance.AdjustedAmount,
		MarketVolatility:    state.ImpliedVolatility,
		WalletExposure:      o.deps.Positions.WalletExposure(trade.WalletAddress),
		PortfolioValue:      balance.Add(o.deps.Positions.TotalExposure()),
	})
	if decision.Skip {
		log.Info().
			Str("wallet", trade.WalletAddress).
			Str("reason", decision.Reason).
			Msg("⏭️ Trade skipped by sizing")
		return
	}

	if o.deps.Config.DryRun {
		log.Info().
			Str("market", trade.MarketID).
			Str("size", decision.FinalSize.StringFixed(2)).
			Msg("📝 DRY RUN: would place order")
		return
	}

	result, err := o.deps.Orders.PlaceOrder(trade.MarketID, trade.Side, decision.FinalSize, trade.Price)
	if err != nil {
		log.Error().
			Err(err).
			Str("market", trade.MarketID).
			Msg("❌ Order placement failed")
		o.deps.RiskMgr.RecordResult(types.StrategyCopyTrading, false, decimal.Zero)
		return
	}

	pos := &types.Position{
		ID:          uuid.NewString(),
		MarketID:    trade.MarketID,
		TokenID:     trade.TokenID,
		Side:        trade.Side,
		Amount:      decision.FinalSize,
		Shares:      decision.Shares,
		EntryPrice:  trade.Price,
		OpenedAt:    time.Now().UTC(),
		OrderID:     result.OrderID,
		Strategy:    types.StrategyCopyTrading,
		SourceTrade: trade,
	}
	o.deps.Positions.Add(pos)

	log.Info().
		Str("market", trade.MarketID).
		Str("side", string(trade.Side)).
		Str("size", decision.FinalSize.StringFixed(2)).
		Str("source", trade.WalletAddress).
		Msg("✅ Copy trade placed")

	if o.deps.Alerter != nil {
		o.deps.Alerter.SendAlert(types.AlertInfo, fmt.Sprintf(
			"Copied %s %s $%s from %s",
			trade.Side, trade.MarketID, decision.FinalSize.StringFixed(2), trade.WalletAddress))
	}
}

// ─── maintenance & health ───

func (o *Orchestrator) registerHealthChecks() {
	o.deps.Health.Register("order_client", o.deps.Orders.HealthCheck)
	o.deps.Health.Register("chain_client", func() bool {
		_, err := o.deps.Chain.GetLatestBlock()
		return err == nil
	})
}

func (o *Orchestrator) scheduleMaintenance() {
	// Hourly daily-reset check, per the risk manager's UTC-date contract.
	o.scheduler.AddFunc("@every 1h", o.deps.RiskMgr.DailyReset)

	o.scheduler.AddFunc("@every 10m", func() {
		dropped := o.deps.Engine.Cleanup() + o.deps.Detector.Cleanup()
		if dropped > 0 {
			log.Debug().Int("dropped", dropped).Msg("🧹 Cache cleanup")
		}
	})

	o.scheduler.AddFunc("@every 5m", func() {
		o.deps.Analyzer.Refresh(24)
		o.reportPerformance()
	})

	o.scheduler.AddFunc("@every 24h", func() {
		o.sendDailySummary()
		if o.deps.Audit != nil {
			if err := o.deps.Audit.Cleanup(); err != nil {
				log.Warn().Err(err).Msg("⚠️ Audit log compaction failed")
			}
		}
	})
}

func (o *Orchestrator) reportPerformance() {
	if o.deps.DB == nil {
		return
	}
	today := time.Now().UTC().Format("2006-01-02")
	stat, err := o.deps.DB.DailyStatFor(today)
	if err != nil {
		return // no trades today
	}
	log.Info().
		Int("trades", stat.Trades).
		Int("wins", stat.Wins).
		Int("losses", stat.Losses).
		Str("gross_profit", stat.GrossProfit.StringFixed(2)).
		Str("gross_loss", stat.GrossLoss.StringFixed(2)).
		Int("open_positions", o.deps.Positions.Count()).
		Msg("📈 Performance report")
}

func (o *Orchestrator) sendDailySummary() {
	if o.deps.DB == nil || o.deps.Alerter == nil {
		return
	}
	today := time.Now().UTC().Format("2006-01-02")
	stat, err := o.deps.DB.DailyStatFor(today)
	if err != nil {
		return
	}
	net := stat.GrossProfit.Sub(stat.GrossLoss)
	o.deps.Alerter.SendAlert(types.AlertInfo, fmt.Sprintf(
		"Daily summary: %d trades, %dW/%dL, net $%s",
		stat.Trades, stat.Wins, stat.Losses, net.StringFixed(2)))
}

// shutdown stops components in reverse construction order.
func (o *Orchestrator) shutdown() {
	log.Info().Msg("🛑 Orchestrator shutting down")

	o.mu.Lock()
	monitors := make([]*monitor.WalletMonitor, 0, len(o.monitors))
	for _, m := range o.monitors {
		monitors = append(monitors, m)
	}
	o.monitors = make(map[string]*monitor.WalletMonitor)
	o.mu.Unlock()

	for _, m := range monitors {
		m.Stop()
	}

	schedulerCtx := o.scheduler.Stop()
	select {
	case <-schedulerCtx.Done():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("⚠️ Maintenance jobs did not finish within shutdown budget")
	}

	if o.deps.DB != nil {
		if err := o.deps.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("⚠️ Database close failed")
		}
	}
	if o.deps.Alerter != nil {
		o.deps.Alerter.SendAlert(types.AlertInfo, "Copybot stopped")
	}
	o.wg.Wait()
}

// ─── status surface for the Telegram bot ───

func (o *Orchestrator) GetBalance() (decimal.Decimal, error) {
	return o.deps.Orders.GetBalance()
}

func (o *Orchestrator) GetOpenPositions() []types.Position {
	return o.deps.Positions.List()
}

func (o *Orchestrator) GetCohortSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.monitors)
}

func (o *Orchestrator) GetRiskStates() map[types.Strategy]risk.BreakerState {
	out := make(map[types.Strategy]risk.BreakerState, len(types.AllStrategies))
	for _, strat := range types.AllStrategies {
		if state, ok := o.deps.RiskMgr.State(strat); ok {
			out[strat] = state
		}
	}
	return out
}

func (o *Orchestrator) IsDryRun() bool {
	return o.deps.Config.DryRun
}
