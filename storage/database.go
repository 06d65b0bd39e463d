package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Trade and position persistence layer
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

// Trade is a closed or executed copy-trade row.
type Trade struct {
	ID           string `gorm:"primaryKey"`
	MarketID     string `gorm:"index"`
	SourceWallet string `gorm:"index"`
	Side         string
	Action       string // OPEN, CLOSE, TAKE_PROFIT, STOP_LOSS, RESOLVED
	Amount       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Price        decimal.Decimal `gorm:"type:decimal(10,6)"`
	Shares       int64
	ProfitLoss   decimal.Decimal `gorm:"type:decimal(20,6)"`
	TxHash       string
	Strategy     string `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PositionRow mirrors an open position so restarts can rebuild the table.
type PositionRow struct {
	ID           string `gorm:"primaryKey"`
	MarketID     string `gorm:"index"`
	TokenID      string
	SourceWallet string `gorm:"index"`
	Side         string
	Amount       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Shares       int64
	EntryPrice   decimal.Decimal `gorm:"type:decimal(10,6)"`
	OrderID      string
	Strategy     string
	Open         bool `gorm:"index"`
	OpenedAt     time.Time
	ClosedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DailyStat is one aggregate row per UTC day.
type DailyStat struct {
	Date        string `gorm:"primaryKey"` // "2006-01-02" UTC
	Trades      int
	Wins        int
	Losses      int
	GrossProfit decimal.Decimal `gorm:"type:decimal(20,6)"`
	GrossLoss   decimal.Decimal `gorm:"type:decimal(20,6)"`
	UpdatedAt   time.Time
}

// New opens the database: a postgres URL when given, otherwise SQLite at
// the given path.
func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Trade{}, &PositionRow{}, &DailyStat{}); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// Trade operations

func (d *Database) SaveTrade(trade *Trade) error {
	return d.db.Create(trade).Error
}

func (d *Database) UpdateTrade(trade *Trade) error {
	return d.db.Save(trade).Error
}

func (d *Database) RecentTrades(limit int) ([]Trade, error) {
	var trades []Trade
	err := d.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

func (d *Database) TradesByWallet(wallet string, limit int) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("source_wallet = ?", wallet).
		Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// Position operations

func (d *Database) SavePosition(pos *types.Position) error {
	row := PositionRow{
		ID:           pos.ID,
		MarketID:     pos.MarketID,
		TokenID:      pos.TokenID,
		SourceWallet: pos.SourceTrade.WalletAddress,
		Side:         string(pos.Side),
		Amount:       pos.Amount,
		Shares:       pos.Shares,
		EntryPrice:   pos.EntryPrice,
		OrderID:      pos.OrderID,
		Strategy:     string(pos.Strategy),
		Open:         true,
		OpenedAt:     pos.OpenedAt,
	}
	return d.db.Save(&row).Error
}

func (d *Database) ClosePosition(id string, closedAt time.Time) error {
	return d.db.Model(&PositionRow{}).Where("id = ?", id).
		Updates(map[string]any{"open": false, "closed_at": closedAt}).Error
}

func (d *Database) OpenPositions() ([]PositionRow, error) {
	var rows []PositionRow
	err := d.db.Where("open = ?", true).Find(&rows).Error
	return rows, err
}

// Daily stats

// RecordOutcome folds one closed trade into today's aggregate row.
func (d *Database) RecordOutcome(profit decimal.Decimal, now time.Time) error {
	date := now.UTC().Format("2006-01-02")

	var stat DailyStat
	err := d.db.Where("date = ?", date).First(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stat = DailyStat{Date: date, GrossProfit: decimal.Zero, GrossLoss: decimal.Zero}
	} else if err != nil {
		return err
	}

	stat.Trades++
	if profit.IsPositive() {
		stat.Wins++
		stat.GrossProfit = stat.GrossProfit.Add(profit)
	} else {
		stat.Losses++
		stat.GrossLoss = stat.GrossLoss.Add(profit.Neg())
	}
	return d.db.Save(&stat).Error
}

func (d *Database) DailyStatFor(date string) (*DailyStat, error) {
	var stat DailyStat
	err := d.db.Where("date = ?", date).First(&stat).Error
	if err != nil {
		return nil, err
	}
	return &stat, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
