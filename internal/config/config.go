package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot. Loaded from environment
// variables, optionally seeded from a secrets file.
type Config struct {
	// Mode
	Environment string // production or staging
	DryRun      bool
	Debug       bool

	// Network
	RPCURL  string
	WSURL   string
	ChainID int64

	// Trading
	WalletPrivateKey string
	CLOBAPIURL       string // empty = default exchange endpoint
	CLOBAPIKey       string
	CLOBAPISecret    string
	CLOBPassphrase   string
	DataAPIURL       string // empty = default data API
	ExchangeAddress  string // empty = default exchange contract

	// Risk
	MaxPositionSize        decimal.Decimal
	MaxDailyLoss           decimal.Decimal
	MaxConcurrentPositions int
	StopLossPct            float64
	TakeProfitPct          float64
	MaxSlippage            float64

	// Monitoring
	MonitorInterval      time.Duration
	PollInterval         time.Duration
	WalletUpdateInterval time.Duration
	MinConfidenceScore   float64
	CohortOverhead       int

	// Quality
	WashTradingScoreThreshold float64

	// Alerts
	TelegramToken  string
	TelegramChatID int64

	// Storage
	DataDir     string
	DatabaseURL string // empty = sqlite under DataDir
}

// knownKeys is the closed set of configuration keys. A secrets file
// containing anything else fails loading.
var knownKeys = map[string]bool{
	"ENVIRONMENT":            true,
	"DRY_RUN":                true,
	"DEBUG":                  true,
	"RPC_URL":                true,
	"WS_URL":                 true,
	"CHAIN_ID":               true,
	"WALLET_PRIVATE_KEY":     true,
	"CLOB_API_URL":           true,
	"CLOB_API_KEY":           true,
	"CLOB_API_SECRET":        true,
	"CLOB_PASSPHRASE":        true,
	"DATA_API_URL":           true,
	"EXCHANGE_ADDRESS":       true,
	"MAX_POSITION_SIZE":      true,
	"MAX_DAILY_LOSS":         true,
	"MAX_CONCURRENT_POSITIONS": true,
	"STOP_LOSS_PCT":          true,
	"TAKE_PROFIT_PCT":        true,
	"MAX_SLIPPAGE":           true,
	"MONITOR_INTERVAL":       true,
	"POLL_INTERVAL":          true,
	"WALLET_UPDATE_INTERVAL": true,
	"MIN_CONFIDENCE_SCORE":   true,
	"COHORT_OVERHEAD":        true,
	"WASH_TRADING_SCORE_THRESHOLD": true,
	"TELEGRAM_BOT_TOKEN":     true,
	"TELEGRAM_CHAT_ID":       true,
	"DATA_DIR":               true,
	"DATABASE_URL":           true,
}

// Load reads configuration from the environment. When secretsPath is
// non-empty the file is required to exist with mode 0600 and may only
// contain known keys; its values seed the environment without overriding
// variables that are already set.
func Load(secretsPath string) (*Config, error) {
	if secretsPath != "" {
		if err := loadSecretsFile(secretsPath); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "staging"),
		DryRun:      getEnvBool("DRY_RUN", true),
		Debug:       getEnvBool("DEBUG", false),

		RPCURL:  os.Getenv("RPC_URL"),
		WSURL:   os.Getenv("WS_URL"),
		ChainID: int64(getEnvInt("CHAIN_ID", 137)),

		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),
		CLOBAPIURL:       os.Getenv("CLOB_API_URL"),
		CLOBAPIKey:       os.Getenv("CLOB_API_KEY"),
		CLOBAPISecret:    os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase:   os.Getenv("CLOB_PASSPHRASE"),
		DataAPIURL:       os.Getenv("DATA_API_URL"),
		ExchangeAddress:  os.Getenv("EXCHANGE_ADDRESS"),

		MaxPositionSize:        getEnvDecimal("MAX_POSITION_SIZE", decimal.NewFromInt(500)),
		MaxDailyLoss:           getEnvDecimal("MAX_DAILY_LOSS", decimal.NewFromInt(200)),
		MaxConcurrentPositions: getEnvInt("MAX_CONCURRENT_POSITIONS", 10),
		StopLossPct:            getEnvFloat("STOP_LOSS_PCT", 0.20),
		TakeProfitPct:          getEnvFloat("TAKE_PROFIT_PCT", 0.30),
		MaxSlippage:            getEnvFloat("MAX_SLIPPAGE", 0.02),

		MonitorInterval:      time.Duration(getEnvInt("MONITOR_INTERVAL", 30)) * time.Second,
		PollInterval:         time.Duration(getEnvInt("POLL_INTERVAL", 15)) * time.Second,
		WalletUpdateInterval: getEnvDuration("WALLET_UPDATE_INTERVAL", time.Hour),
		MinConfidenceScore:   getEnvFloat("MIN_CONFIDENCE_SCORE", 0.6),
		CohortOverhead:       getEnvInt("COHORT_OVERHEAD", 5),

		WashTradingScoreThreshold: getEnvFloat("WASH_TRADING_SCORE_THRESHOLD", 0.5),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DataDir:     getEnv("DATA_DIR", "data"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Environment != "production" && c.Environment != "staging" {
		return fmt.Errorf("ENVIRONMENT must be production or staging, got %q", c.Environment)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.WSURL == "" {
		return fmt.Errorf("WS_URL is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive, got %d", c.ChainID)
	}
	if !c.DryRun {
		if err := validatePrivateKey(c.WalletPrivateKey); err != nil {
			return err
		}
	}
	if !c.MaxPositionSize.IsPositive() {
		return fmt.Errorf("MAX_POSITION_SIZE must be positive")
	}
	if !c.MaxDailyLoss.IsPositive() {
		return fmt.Errorf("MAX_DAILY_LOSS must be positive")
	}
	if c.MaxConcurrentPositions < 1 {
		return fmt.Errorf("MAX_CONCURRENT_POSITIONS must be >= 1, got %d", c.MaxConcurrentPositions)
	}
	if c.StopLossPct <= 0 || c.StopLossPct > 1 {
		return fmt.Errorf("STOP_LOSS_PCT must be in (0,1], got %v", c.StopLossPct)
	}
	if c.TakeProfitPct <= 0 || c.TakeProfitPct > 1 {
		return fmt.Errorf("TAKE_PROFIT_PCT must be in (0,1], got %v", c.TakeProfitPct)
	}
	if c.MaxSlippage <= 0 || c.MaxSlippage > 0.1 {
		return fmt.Errorf("MAX_SLIPPAGE must be in (0,0.1], got %v", c.MaxSlippage)
	}
	if c.MonitorInterval < 5*time.Second || c.MonitorInterval > 300*time.Second {
		return fmt.Errorf("MONITOR_INTERVAL must be 5-300 seconds, got %s", c.MonitorInterval)
	}
	if c.MinConfidenceScore < 0.1 || c.MinConfidenceScore > 0.95 {
		return fmt.Errorf("MIN_CONFIDENCE_SCORE must be in [0.1,0.95], got %v", c.MinConfidenceScore)
	}
	if c.WashTradingScoreThreshold <= 0 || c.WashTradingScoreThreshold > 1 {
		return fmt.Errorf("WASH_TRADING_SCORE_THRESHOLD must be in (0,1], got %v", c.WashTradingScoreThreshold)
	}
	return nil
}

// validatePrivateKey requires the 0x-prefixed 66-character hex form and a
// key that actually parses on the secp256k1 curve.
func validatePrivateKey(key string) error {
	if key == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY is required outside dry-run")
	}
	if len(key) != 66 || !strings.HasPrefix(key, "0x") {
		return fmt.Errorf("WALLET_PRIVATE_KEY must be 0x-prefixed 66-char hex")
	}
	if _, err := crypto.HexToECDSA(key[2:]); err != nil {
		return fmt.Errorf("WALLET_PRIVATE_KEY invalid: %w", err)
	}
	return nil
}

// loadSecretsFile enforces mode 0600 and the closed key set, then seeds
// the environment. Existing environment variables win.
func loadSecretsFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("secrets file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("secrets file %s has mode %04o, want 0600", path, perm)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("secrets file %s: %w", path, err)
	}
	for key, value := range values {
		if !knownKeys[key] {
			return fmt.Errorf("secrets file %s: unknown key %s", path, key)
		}
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
