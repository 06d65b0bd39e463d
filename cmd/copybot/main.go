// Copybot - Copy-trading engine for binary-outcome prediction markets
//
// The bot ranks profitable wallets from the public leaderboard, filters
// out manipulators and lucky streaks, mirrors the surviving cohort's
// on-chain trades with risk-scaled sizing, and manages the resulting
// positions with take-profit / stop-loss exits behind per-strategy
// circuit breakers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/copybot/audit"
	"github.com/web3guy0/copybot/bot"
	"github.com/web3guy0/copybot/core"
	"github.com/web3guy0/copybot/exec"
	"github.com/web3guy0/copybot/feeds"
	"github.com/web3guy0/copybot/internal/config"
	"github.com/web3guy0/copybot/quality"
	"github.com/web3guy0/copybot/ratelimit"
	"github.com/web3guy0/copybot/risk"
	"github.com/web3guy0/copybot/storage"
	"github.com/web3guy0/copybot/types"
)

const version = "1.0.0"

// Exit codes: 0 graceful shutdown, 1 initialization failure, 2 fatal
// runtime error.
func main() {
	os.Exit(run())
}

func run() int {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	args := os.Args[1:]
	if len(args) == 0 || args[0] != "run" {
		fmt.Fprintf(os.Stderr, "usage: copybot run [--env production|staging] [--secrets path]\n")
		return 1
	}

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	envFlag := fs.String("env", "", "override ENVIRONMENT (production or staging)")
	secretsFlag := fs.String("secrets", "", "path to a mode-0600 secrets file")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if *envFlag != "" {
		os.Setenv("ENVIRONMENT", *envFlag)
	}

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*secretsFlag)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("environment", cfg.Environment).
		Bool("dry_run", cfg.DryRun).
		Msg("🤖 Copybot starting...")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("🛑 Shutdown signal received")
		cancel()
	}()

	// ====== STORAGE ======

	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = filepath.Join(cfg.DataDir, "copybot.db")
	}
	db, err := storage.New(dsn)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		return 1
	}

	auditLog, err := audit.Open(filepath.Join(cfg.DataDir, "audit.log"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to open audit log")
		return 1
	}
	defer auditLog.Close()

	// ====== ALERTS ======

	var alerter types.Alerter = bot.NoopAlerter{}
	var tg *bot.TelegramBot
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, nil)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram unavailable, alerts go to the log only")
		} else {
			alerter = tg
		}
	}

	// ====== RISK ======

	profiles := risk.DefaultProfiles()
	copyProfile := profiles[types.StrategyCopyTrading]
	copyProfile.MaxPositionSize = cfg.MaxPositionSize
	copyProfile.MaxDailyLoss = cfg.MaxDailyLoss
	copyProfile.StopLossPct = cfg.StopLossPct
	copyProfile.TakeProfitPct = cfg.TakeProfitPct
	copyProfile.MaxSlippage = cfg.MaxSlippage
	profiles[types.StrategyCopyTrading] = copyProfile

	riskMgr := risk.NewStrategyRiskManager(profiles,
		filepath.Join(cfg.DataDir, "strategy_risk_state.bin"), alerter, auditLog)

	// System stress is one signal with two triggers: a failing component
	// or any open circuit breaker. Both sizing and scoring consume it.
	health := core.NewHealthAggregator(alerter)
	stressed := func() bool { return health.Stressed() || riskMgr.AnyActive() }

	// ====== QUALITY PIPELINE ======

	wash := quality.DefaultWashParams()
	wash.ScoreThreshold = cfg.WashTradingScoreThreshold
	detector := quality.NewDetector(wash, auditLog)
	analyzer := quality.NewAnalyzer()
	engine := quality.NewEngine(quality.NewScorer(500), detector, analyzer,
		copyProfile.MaxPortfolioExposure, stressed)
	behavior := quality.NewMonitor(filepath.Join(cfg.DataDir, "rotation_cooldowns.json"), alerter)

	// ====== MARKET CLIENTS ======

	chainRPC := feeds.NewChainRPC(cfg.RPCURL)
	if id, err := chainRPC.ChainID(); err != nil {
		log.Warn().Err(err).Msg("⚠️ Chain id check skipped, node unreachable at startup")
	} else if id != cfg.ChainID {
		log.Error().Int64("expected", cfg.ChainID).Int64("got", id).Msg("RPC endpoint serves the wrong chain")
		return 1
	}
	chain := ratelimit.NewChainClient(ctx, chainRPC)

	execClient, err := exec.NewClient(exec.Options{
		BaseURL:    cfg.CLOBAPIURL,
		PrivateKey: cfg.WalletPrivateKey,
		APIKey:     cfg.CLOBAPIKey,
		APISecret:  cfg.CLOBAPISecret,
		Passphrase: cfg.CLOBPassphrase,
		DryRun:     cfg.DryRun,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize execution client")
		return 1
	}
	orders := ratelimit.NewOrderClient(ctx, execClient)

	leaderboard := feeds.NewLeaderboard(cfg.DataAPIURL)
	parser := feeds.NewTradeParser(cfg.ExchangeAddress)

	// ====== CORE ======

	positions := core.NewPositionManager(orders,
		risk.NewExitChecker(copyProfile, 0), riskMgr, db, alerter)
	if recovered, err := positions.RecoverPositions(); err != nil {
		log.Error().Err(err).Msg("Failed to recover open positions")
		return 1
	} else if recovered > 0 {
		log.Info().Int("count", recovered).Msg("♻️ Open positions restored from last run")
	}

	orch := core.NewOrchestrator(core.Deps{
		Config:      cfg,
		Engine:      engine,
		Detector:    detector,
		Behavior:    behavior,
		Analyzer:    analyzer,
		RiskMgr:     riskMgr,
		Sizer:       risk.NewSizer(stressed),
		Positions:   positions,
		Health:      health,
		Orders:      orders,
		Chain:       chain,
		Leaderboard: leaderboard,
		DB:          db,
		Alerter:     alerter,
		Parser:      parser,
		Audit:       auditLog,
	})

	if tg != nil {
		tg.SetProvider(orch)
		tg.SetControlCallbacks(orch.Pause, orch.Resume)
		tg.Start()
		defer tg.Stop()

		mode := "LIVE"
		if cfg.DryRun {
			mode = "PAPER"
		}
		tg.NotifyStartup(mode, 0)
	}

	if err := orch.Run(ctx); err != nil {
		log.Error().Err(err).Msg("💥 Fatal runtime error")
		return 2
	}

	log.Info().Msg("👋 Copybot stopped cleanly")
	return 0
}
