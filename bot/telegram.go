package bot

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/risk"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Alerts & control surface
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🚨 Severity-prefixed alert stream (wallet flags, breakers, health)
//   💰 Trade notifications (open/close/TP/SL)
//   🎛️ Control commands (/status, /risk, /positions, /pause, /resume)
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatusProvider supplies the live numbers the command handlers display.
type StatusProvider interface {
	GetBalance() (decimal.Decimal, error)
	GetOpenPositions() []types.Position
	GetCohortSize() int
	GetRiskStates() map[types.Strategy]risk.BreakerState
	IsDryRun() bool
}

// TelegramBot manages the Telegram interface. Implements types.Alerter.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	provider StatusProvider

	onPause  func()
	onResume func()
}

// NewTelegramBot creates the bot from an existing token and chat id.
func NewTelegramBot(token string, chatID int64, provider StatusProvider) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:      api,
		chatID:   chatID,
		stopCh:   make(chan struct{}),
		provider: provider,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

// SetProvider wires the status source. Call before Start; the command
// loop reads it without locking.
func (b *TelegramBot) SetProvider(p StatusProvider) {
	b.provider = p
}

// SetControlCallbacks sets pause/resume handlers.
func (b *TelegramBot) SetControlCallbacks(onPause, onResume func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPause = onPause
	b.onResume = onResume
}

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the command loop.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// ALERTS & NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// SendAlert delivers a one-line severity-prefixed alert.
func (b *TelegramBot) SendAlert(level types.AlertLevel, message string) {
	emoji := "ℹ️"
	switch level {
	case types.AlertWarning:
		emoji = "⚠️"
	case types.AlertHigh:
		emoji = "🔶"
	case types.AlertCritical:
		emoji = "🚨"
	}
	b.send(fmt.Sprintf("%s [%s] %s", emoji, level, message))
}

// NotifyTrade sends a trade execution alert.
func (b *TelegramBot) NotifyTrade(action, marketID string, side types.Side, price, size decimal.Decimal) {
	var emoji string
	switch action {
	case "OPEN":
		emoji = "✅"
	case "CLOSE":
		emoji = "📊"
	case "TAKE_PROFIT":
		emoji = "💰"
	case "STOP_LOSS":
		emoji = "🛑"
	default:
		emoji = "📌"
	}

	msg := fmt.Sprintf(`%s *%s*

📊 %s %s
💵 Price: *%s¢*
📦 Size: *$%s*`,
		emoji, action,
		marketID, side,
		price.Mul(decimal.NewFromInt(100)).StringFixed(1),
		size.StringFixed(2),
	)
	b.sendMarkdown(msg)
}

// NotifyStartup sends the startup banner.
func (b *TelegramBot) NotifyStartup(mode string, cohort int) {
	balanceStr := "N/A"
	if b.provider != nil {
		if bal, err := b.provider.GetBalance(); err == nil {
			balanceStr = "$" + bal.StringFixed(2)
		}
	}

	msg := fmt.Sprintf(`🚀 *COPYBOT STARTED*
━━━━━━━━━━━━━━━━━━━━

🎯 Strategy: *Copy Trading*
📊 Mode: *%s*
💰 Balance: *%s*
👁️ Watching: *%d wallets*

Use /help for commands`, mode, balanceStr, cohort)

	b.sendMarkdown(msg)
}

// NotifyShutdown sends the final alert before exit.
func (b *TelegramBot) NotifyShutdown(reason string) {
	b.send(fmt.Sprintf("🛑 Copybot shutting down: %s", reason))
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "risk":
		b.cmdRisk()
	case "positions":
		b.cmdPositions()
	case "pause":
		b.cmdPause()
	case "resume":
		b.cmdResume()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	msg := `🤖 *COPYBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Bot status & balance
🛡️ /risk — Circuit breaker state
💼 /positions — Open positions
⏸️ /pause — Pause trading
▶️ /resume — Resume trading
🏓 /ping — Test connection`

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStatus() {
	if b.provider == nil {
		b.send("❌ Status not available")
		return
	}

	mode := "LIVE"
	if b.provider.IsDryRun() {
		mode = "PAPER"
	}

	balanceStr := "N/A"
	if bal, err := b.provider.GetBalance(); err == nil {
		balanceStr = "$" + bal.StringFixed(2)
	}

	msg := fmt.Sprintf(`📊 *BOT STATUS*
━━━━━━━━━━━━━━━━━━━━

🟢 RUNNING
📊 Mode: *%s*
💰 Balance: *%s*
👁️ Cohort: *%d wallets*
💼 Open positions: *%d*`,
		mode, balanceStr,
		b.provider.GetCohortSize(),
		len(b.provider.GetOpenPositions()),
	)

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdRisk() {
	if b.provider == nil {
		b.send("❌ Risk state not available")
		return
	}

	var sb strings.Builder
	sb.WriteString("🛡️ *CIRCUIT BREAKERS*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, strat := range types.AllStrategies {
		state, ok := b.provider.GetRiskStates()[strat]
		if !ok {
			continue
		}
		icon := "🟢"
		detail := fmt.Sprintf("daily loss $%s", state.DailyLoss.StringFixed(2))
		if state.Active {
			icon = "🔴"
			detail = state.Reason
		}
		sb.WriteString(fmt.Sprintf("%s *%s* — %s\n", icon, strat, detail))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdPositions() {
	if b.provider == nil {
		b.send("❌ Positions not available")
		return
	}

	positions := b.provider.GetOpenPositions()
	if len(positions) == 0 {
		b.send("💼 No open positions")
		return
	}

	var sb strings.Builder
	sb.WriteString("💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, pos := range positions {
		sb.WriteString(fmt.Sprintf("📊 %s %s — $%s @ %s¢\n",
			pos.MarketID, pos.Side,
			pos.Amount.StringFixed(2),
			pos.EntryPrice.Mul(decimal.NewFromInt(100)).StringFixed(1)))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdPause() {
	b.mu.RLock()
	onPause := b.onPause
	b.mu.RUnlock()

	if onPause == nil {
		b.send("❌ Pause not supported")
		return
	}
	onPause()
	b.send("⏸️ Trading paused")
}

func (b *TelegramBot) cmdResume() {
	b.mu.RLock()
	onResume := b.onResume
	b.mu.RUnlock()

	if onResume == nil {
		b.send("❌ Resume not supported")
		return
	}
	onResume()
	b.send("▶️ Trading resumed")
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

// NoopAlerter drops alerts. Used in dry-run and tests.
type NoopAlerter struct{}

func (NoopAlerter) SendAlert(level types.AlertLevel, message string) {
	log.Info().Str("level", string(level)).Msg(message)
}
