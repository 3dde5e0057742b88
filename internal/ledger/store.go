// Package ledger is the durable record of orders, positions and trades, and
// the source of truth for P&L and crash recovery.
package ledger

import (
	"fmt"
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
)

// Position states persisted in the store
const (
	StatusEntered = "ENTERED"
	StatusHedged  = "HEDGED"
	StatusSettled = "SETTLED"
	StatusAborted = "ABORTED"
)

// Order states
const (
	OrderPending         = "PENDING"
	OrderFilled          = "FILLED"
	OrderPartiallyFilled = "PARTIALLY_FILLED"
	OrderCancelled       = "CANCELLED"
	OrderFailed          = "FAILED"
)

// OrderRecord is the full submission/resolution history of one order
type OrderRecord struct {
	ID         string `gorm:"primaryKey"` // client idempotency key
	PositionID string `gorm:"index"`
	MarketID   string `gorm:"index"`
	Symbol     string `gorm:"index"`
	Side       string
	TokenID    string
	Shares     decimal.Decimal `gorm:"type:decimal(20,6)"`
	Price      decimal.Decimal `gorm:"type:decimal(10,6)"`
	Cost       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Status     string          `gorm:"index"`
	IsHedge    bool
	Reason     string
	ExchangeID string
	Attempts   int
	Error      string
	SubmittedAt time.Time
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PositionRecord is the current state of one (symbol, market) position
type PositionRecord struct {
	ID       string `gorm:"primaryKey"`
	Symbol   string `gorm:"index"`
	MarketID string `gorm:"uniqueIndex"`
	Side     string

	EntryPrice decimal.Decimal `gorm:"type:decimal(10,6)"`
	Shares     decimal.Decimal `gorm:"type:decimal(20,6)"`
	Cost       decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntryTime  time.Time

	HedgeSide   string
	HedgePrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	HedgeShares decimal.Decimal `gorm:"type:decimal(20,6)"`
	HedgeCost   decimal.Decimal `gorm:"type:decimal(20,6)"`
	HedgeTime   *time.Time

	Status string `gorm:"index"`

	SlotOpen       time.Time
	SlotClose      time.Time
	ReferencePrice decimal.Decimal `gorm:"type:decimal(20,6)"`
	UpTokenID      string
	DownTokenID    string

	// The signal that triggered the entry
	SignalScore      float64
	SignalConfidence float64

	RealizedPnL decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TradeRecord is the immutable settlement record, one row per settled position
type TradeRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PositionID string `gorm:"uniqueIndex"`
	MarketID   string `gorm:"index"`
	Symbol     string `gorm:"index"`
	Side       string
	Winner     string

	EntryShares decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntryCost   decimal.Decimal `gorm:"type:decimal(20,6)"`
	HedgeShares decimal.Decimal `gorm:"type:decimal(20,6)"`
	HedgeCost   decimal.Decimal `gorm:"type:decimal(20,6)"`
	Hedged      bool

	Payout decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnL    decimal.Decimal `gorm:"column:pnl;type:decimal(20,6)"`

	ReferencePrice decimal.Decimal `gorm:"type:decimal(20,6)"`
	ClosingPrice   decimal.Decimal `gorm:"type:decimal(20,6)"`
	Approximate    bool // closing price came from the last known sample

	SettledAt time.Time
	CreatedAt time.Time
}

// Store wraps the database connection
type Store struct {
	db *gorm.DB
}

// New opens the store. A postgres:// DSN selects PostgreSQL, anything else is
// treated as a SQLite file path.
func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("postgres open failed: %w", err)
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		log.Info().Str("path", dsn).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&OrderRecord{}, &PositionRecord{}, &TradeRecord{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

// Order operations

// RecordOrder inserts the initial PENDING row for an order
func (s *Store) RecordOrder(o *OrderRecord) error {
	return s.db.Create(o).Error
}

// ResolveOrder updates an order after its terminal status is known
func (s *Store) ResolveOrder(o *OrderRecord) error {
	return s.db.Save(o).Error
}

// OrdersForPosition returns an order history, newest first
func (s *Store) OrdersForPosition(positionID string) ([]OrderRecord, error) {
	var orders []OrderRecord
	err := s.db.Where("position_id = ?", positionID).
		Order("submitted_at DESC").Find(&orders).Error
	return orders, err
}

// Position operations

// SavePosition upserts a position's current state
func (s *Store) SavePosition(p *PositionRecord) error {
	return s.db.Save(p).Error
}

// LoadOpenPositions returns positions that were neither settled nor aborted.
// Used on restart to reconstruct in-flight position managers.
func (s *Store) LoadOpenPositions() ([]PositionRecord, error) {
	var positions []PositionRecord
	err := s.db.Where("status IN ?", []string{StatusEntered, StatusHedged}).
		Find(&positions).Error
	return positions, err
}

// OpenPositions is an alias exposed to the dashboard
func (s *Store) OpenPositions() ([]PositionRecord, error) {
	return s.LoadOpenPositions()
}

// Trade operations

// RecordTrade writes the settlement record exactly once per position.
// A second call for the same position is a no-op.
func (s *Store) RecordTrade(t *TradeRecord) error {
	var count int64
	if err := s.db.Model(&TradeRecord{}).
		Where("position_id = ?", t.PositionID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Debug().Str("position", t.PositionID).Msg("Trade already recorded, skipping")
		return nil
	}
	return s.db.Create(t).Error
}

// RecentTrades returns settled trades, newest first
func (s *Store) RecentTrades(limit int) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := s.db.Order("settled_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// Stats returns aggregate P&L statistics
func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var tradeCount int64
	if err := s.db.Model(&TradeRecord{}).Count(&tradeCount).Error; err != nil {
		return nil, err
	}
	stats["total_trades"] = tradeCount

	var pnl struct {
		Total decimal.Decimal
	}
	s.db.Model(&TradeRecord{}).Select("COALESCE(SUM(pnl), 0) as total").Scan(&pnl)
	stats["total_pnl"] = pnl.Total

	var wins int64
	s.db.Model(&TradeRecord{}).Where("pnl > 0").Count(&wins)
	if tradeCount > 0 {
		stats["win_rate"] = float64(wins) / float64(tradeCount) * 100
	} else {
		stats["win_rate"] = 0.0
	}

	var openCount int64
	s.db.Model(&PositionRecord{}).
		Where("status IN ?", []string{StatusEntered, StatusHedged}).Count(&openCount)
	stats["open_positions"] = openCount

	type symbolPnL struct {
		Symbol string
		Trades int64
		PnL    decimal.Decimal `gorm:"column:pnl"`
	}
	var bySymbol []symbolPnL
	s.db.Model(&TradeRecord{}).
		Select("symbol, count(*) as trades, COALESCE(SUM(pnl), 0) as pnl").
		Group("symbol").Scan(&bySymbol)
	perSymbol := make(map[string]interface{}, len(bySymbol))
	for _, row := range bySymbol {
		perSymbol[row.Symbol] = map[string]interface{}{
			"trades": row.Trades,
			"pnl":    row.PnL,
		}
	}
	stats["by_symbol"] = perSymbol

	return stats, nil
}
