package types

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side is the direction of a binary-market trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Strategy identifies one of the four trading strategies with independent risk state.
type Strategy string

const (
	StrategyCopyTrading  Strategy = "COPY_TRADING"
	StrategyEndgameSweep Strategy = "ENDGAME_SWEEP"
	StrategyCrossMarket  Strategy = "CROSS_MARKET_ARB"
	StrategyMarketMaking Strategy = "MARKET_MAKING"
)

// AllStrategies is the closed set; the choice is static at startup.
var AllStrategies = []Strategy{
	StrategyCopyTrading,
	StrategyEndgameSweep,
	StrategyCrossMarket,
	StrategyMarketMaking,
}

// NormalizeAddress lower-cases a hex wallet address with 0x prefix.
func NormalizeAddress(addr string) string {
	return strings.ToLower(common.HexToAddress(addr).Hex())
}

// TradeSample is a single historical trade used by the quality pipeline.
type TradeSample struct {
	Timestamp    time.Time
	MarketID     string
	Category     string
	Side         Side
	Amount       decimal.Decimal
	Price        decimal.Decimal
	Counterparty string // normalized address, empty if unknown
	Won          bool
	Resolved     bool
	PnL          decimal.Decimal
}

// WalletData is the raw performance snapshot for one wallet.
// Mutated whenever new leaderboard data arrives.
type WalletData struct {
	Address        string // normalized lower-case hex
	CreatedAt      time.Time
	TradeCount     int
	WinRate        float64
	ROI7d          float64
	ROI30d         float64
	ProfitFactor   float64
	MaxDrawdown    float64
	Volatility     float64
	SharpeRatio    float64
	AvgHoldTime    time.Duration
	ProfitPerTrade float64 // fraction, e.g. 0.01 = 1%

	AvgPositionSize decimal.Decimal
	MaxPositionSize decimal.Decimal

	// Per-category trade counts, key = category name.
	CategoryCounts map[string]int

	// Recent history, oldest first. Used for wash detection, consistency
	// windows and behavior analysis.
	Trades []TradeSample
}

// TotalCategoryTrades sums the per-category counters.
func (w *WalletData) TotalCategoryTrades() int {
	total := 0
	for _, n := range w.CategoryCounts {
		total += n
	}
	return total
}

// DetectedTrade is a trade observed on-chain from a monitored wallet.
// Identity key is TxHash; processed at most once per wallet.
type DetectedTrade struct {
	TxHash        string
	BlockNumber   uint64
	TxIndex       uint
	Timestamp     time.Time
	WalletAddress string
	MarketID      string
	Side          Side
	Amount        decimal.Decimal
	Price         decimal.Decimal
	TokenID       string
	Confidence    float64
}

// Position is an open copy-trade position. Exclusively owned by the
// position manager; risk observes via notifications.
type Position struct {
	ID          string
	MarketID    string
	TokenID     string
	Side        Side
	Amount      decimal.Decimal
	Shares      int64
	EntryPrice  decimal.Decimal
	OpenedAt    time.Time
	OrderID     string
	Strategy    Strategy
	SourceTrade DetectedTrade
}

// TradeRecord is a closed-trade row for persistence and display.
type TradeRecord struct {
	ID        string
	MarketID  string
	Wallet    string
	Side      Side
	Action    string // OPEN, CLOSE, TAKE_PROFIT, STOP_LOSS, RESOLVED
	Price     decimal.Decimal
	Size      decimal.Decimal
	PnL       decimal.Decimal
	Strategy  Strategy
	Timestamp time.Time
}

// OrderResult is the outcome of a PlaceOrder call.
type OrderResult struct {
	OrderID      string
	FilledAmount decimal.Decimal
	Status       string
}

// OrderClient is the consumed order-book client. Implemented elsewhere;
// the engine only depends on this surface.
type OrderClient interface {
	PlaceOrder(marketID string, side Side, amount, price decimal.Decimal) (*OrderResult, error)
	CancelOrder(orderID string) error
	GetPrice(marketID string) (decimal.Decimal, error)
	GetBalance() (decimal.Decimal, error)
	HealthCheck() bool
}

// ChainTransaction is a raw transaction as surfaced by the RPC layer.
type ChainTransaction struct {
	Hash        string
	From        string
	To          string
	BlockNumber uint64
	TxIndex     uint
	Timestamp   time.Time
	Input       []byte
	Value       decimal.Decimal
}

// ChainClient is the consumed blockchain RPC surface.
type ChainClient interface {
	GetLatestBlock() (uint64, error)
	GetTransactions(addr string, fromBlock, toBlock uint64) ([]ChainTransaction, error)
	GetTransaction(hash string) (*ChainTransaction, error)
}

// Alerter delivers one-line severity-prefixed notifications.
type Alerter interface {
	SendAlert(level AlertLevel, message string)
}

// AlertLevel is the severity of an alert line.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertHigh     AlertLevel = "HIGH"
	AlertCritical AlertLevel = "CRITICAL"
)
